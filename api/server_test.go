package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/llm"
	"vnforms.dev/overlay"
	"vnforms.dev/session"
	"vnforms.dev/storage"
)

// fillFakeS3 is a minimal storage.S3Client fake backing handleFill's
// source-document fetch; only GetObject is exercised.
type fillFakeS3 struct {
	data map[string][]byte
}

func (f *fillFakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fillFakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (f *fillFakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func (f *fillFakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fillFakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.data[aws.ToString(params.Key)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fillFakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, nil
}

type fakeFormRepo struct {
	forms map[string]*repository.FormSchema
}

func (f *fakeFormRepo) UpsertForm(ctx context.Context, form *repository.FormSchema) error {
	f.forms[form.FormID] = form
	return nil
}

func (f *fakeFormRepo) GetForm(ctx context.Context, formID string) (*repository.FormSchema, error) {
	form, ok := f.forms[formID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return form, nil
}

func (f *fakeFormRepo) ListForms(ctx context.Context) ([]*repository.FormSchema, error) {
	var out []*repository.FormSchema
	for _, form := range f.forms {
		out = append(out, form)
	}
	return out, nil
}

type fakeSessionRepo struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{blob: map[string][]byte{}}
}

func (f *fakeSessionRepo) SaveSession(ctx context.Context, sessionID string, blob []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blob[sessionID] = blob
	return nil
}

func (f *fakeSessionRepo) GetSession(ctx context.Context, sessionID string, refreshTTL time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blob[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return blob, nil
}

func (f *fakeSessionRepo) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blob, sessionID)
	return nil
}

func testForm() *repository.FormSchema {
	return &repository.FormSchema{
		FormID:       "don-xin-nghi-phep",
		Title:        "Đơn xin nghỉ phép",
		SourceBucket: "forms",
		SourceKey:    "raw/mau.pdf",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên", Type: "text", Required: true},
			{ID: "email", Label: "Email", Type: "email", Required: false},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeFormRepo, *fakeSessionRepo) {
	t.Helper()

	forms := &fakeFormRepo{forms: map[string]*repository.FormSchema{}}
	form := testForm()
	forms.forms[form.FormID] = form

	sessions := newFakeSessionRepo()

	logger := common.NewContextLogger(nil, nil)
	engine := session.NewEngine(llm.NewFallbackCapability(), session.NewQuestionCache(0), logger)
	renderer := overlay.New(overlay.Config{}, logger)

	store := storage.NewStoreFromClient(nil, "forms")

	srv := New(engine, forms, sessions, store, renderer, logger)
	return srv, forms, sessions
}

func newEchoContext(method, path string, body interface{}) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var reqBody *strings.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = strings.NewReader(string(b))
	} else {
		reqBody = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleCreateSession_ReturnsFirstQuestion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	c, rec := newEchoContext(http.MethodPost, "/sessions", createSessionRequest{FormID: "don-xin-nghi-phep"})
	require.NoError(t, srv.handleCreateSession(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, session.StageAsk, resp.Stage)
	require.NotEmpty(t, resp.SessionID)
	require.NotEmpty(t, resp.Question)
}

func TestHandleCreateSession_UnknownFormReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	c, rec := newEchoContext(http.MethodPost, "/sessions", createSessionRequest{FormID: "nope"})
	require.NoError(t, srv.handleCreateSession(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePostTurn_AdvancesFieldAndTracksProgress(t *testing.T) {
	srv, _, sessions := newTestServer(t)

	c, rec := newEchoContext(http.MethodPost, "/sessions", createSessionRequest{FormID: "don-xin-nghi-phep"})
	require.NoError(t, srv.handleCreateSession(c))
	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	turnCtx, turnRec := newEchoContext(http.MethodPost, "/sessions/"+created.SessionID+"/turns", turnRequest{Value: "Nguyễn Văn A"})
	turnCtx.SetParamNames("id")
	turnCtx.SetParamValues(created.SessionID)
	require.NoError(t, srv.handlePostTurn(turnCtx))
	require.Equal(t, http.StatusOK, turnRec.Code)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(turnRec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Progress.CurrentIndex)

	blob, err := sessions.GetSession(context.Background(), created.SessionID, SessionTTL)
	require.NoError(t, err)
	var fs session.FillingSession
	require.NoError(t, json.Unmarshal(blob, &fs))
	require.Equal(t, "Nguyễn Văn A", fs.Answers["ho_ten"].Value)
}

func TestHandlePostTurn_UnknownSessionReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	c, rec := newEchoContext(http.MethodPost, "/sessions/does-not-exist/turns", turnRequest{Value: "x"})
	c.SetParamNames("id")
	c.SetParamValues("does-not-exist")
	require.NoError(t, srv.handlePostTurn(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFill_EmptyAnswersReturnsOriginalBytesUnchanged(t *testing.T) {
	srv, _, _ := newTestServer(t)
	form := testForm()

	fakeStore := storage.NewStoreFromClient(&fillFakeS3{data: map[string][]byte{"raw/mau.pdf": []byte("%PDF-1.4 original")}}, "forms")
	srv.store = fakeStore

	c, rec := newEchoContext(http.MethodPost, "/sessions", createSessionRequest{FormID: form.FormID})
	require.NoError(t, srv.handleCreateSession(c))
	var created sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	fillCtx, fillRec := newEchoContext(http.MethodPost, "/sessions/"+created.SessionID+"/fill", nil)
	fillCtx.SetParamNames("id")
	fillCtx.SetParamValues(created.SessionID)
	require.NoError(t, srv.handleFill(fillCtx))
	require.Equal(t, http.StatusOK, fillRec.Code)
	require.Equal(t, "%PDF-1.4 original", fillRec.Body.String())
}
