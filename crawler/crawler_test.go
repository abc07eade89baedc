package crawler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/storage"
)

type fakeDedup struct {
	byHash map[string]*repository.CrawledDocument
	touch  int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{byHash: map[string]*repository.CrawledDocument{}}
}

func (f *fakeDedup) key(url, hash string) string { return url + "|" + hash }

func (f *fakeDedup) InsertIfAbsent(ctx context.Context, doc *repository.CrawledDocument) error {
	k := f.key(doc.URL, doc.ContentHash)
	if _, ok := f.byHash[k]; ok {
		return repository.ErrConflict
	}
	clone := *doc
	f.byHash[k] = &clone
	return nil
}

func (f *fakeDedup) FindByHash(ctx context.Context, url, contentHash string) (*repository.CrawledDocument, error) {
	doc, ok := f.byHash[f.key(url, contentHash)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDedup) TouchLastChecked(ctx context.Context, url, contentHash string, at time.Time) error {
	f.touch++
	doc, ok := f.byHash[f.key(url, contentHash)]
	if !ok {
		return repository.ErrNotFound
	}
	doc.LastCheckedAt = at
	return nil
}

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	f.objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, nil
}

func testLogger() *common.ContextLogger {
	return common.NewContextLogger(common.NewLogger(common.DefaultLoggerConfig()), nil)
}

func TestRunCycle_NewDocumentUploadsAndRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake contents"))
	}))
	defer srv.Close()

	fakeStore := newFakeS3()
	store := storage.NewStoreFromClient(fakeStore, "forms")
	dedup := newFakeDedup()

	c := New(Config{
		Sources: []SourceDescriptor{{URL: srv.URL, Name: "don-xin-viec", Format: "pdf"}},
		Bucket:  "forms",
	}, store, dedup, nil, testLogger())

	result := c.RunCycle(context.Background())
	require.Equal(t, 1, result.New)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, 0, result.Failed)
	require.Len(t, fakeStore.objects, 1)
}

func TestRunCycle_UnchangedDocumentOnlyTouchesTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 stable contents"))
	}))
	defer srv.Close()

	fakeStore := newFakeS3()
	store := storage.NewStoreFromClient(fakeStore, "forms")
	dedup := newFakeDedup()

	c := New(Config{
		Sources: []SourceDescriptor{{URL: srv.URL, Name: "don-xin-viec", Format: "pdf"}},
		Bucket:  "forms",
	}, store, dedup, nil, testLogger())

	first := c.RunCycle(context.Background())
	require.Equal(t, 1, first.New)

	second := c.RunCycle(context.Background())
	require.Equal(t, 0, second.New)
	require.Equal(t, 1, second.Skipped)
	require.Equal(t, 1, dedup.touch)
	require.Len(t, fakeStore.objects, 1)
}

func TestRunCycle_OneSourceFailureDoesNotAbortCycle(t *testing.T) {
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 ok"))
	}))
	defer goodSrv.Close()

	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	fakeStore := newFakeS3()
	store := storage.NewStoreFromClient(fakeStore, "forms")
	dedup := newFakeDedup()

	c := New(Config{
		Sources: []SourceDescriptor{
			{URL: badSrv.URL, Name: "broken", Format: "pdf"},
			{URL: goodSrv.URL, Name: "ok", Format: "pdf"},
		},
		Bucket: "forms",
	}, store, dedup, nil, testLogger())

	result := c.RunCycle(context.Background())
	require.Equal(t, 1, result.New)
	require.Equal(t, 1, result.Failed)
}

func TestExtractMostRecentDate_PicksLatestAcrossPatterns(t *testing.T) {
	text := "Cập nhật ngày 01/01/2020. Thứ Hai, 15/03/2024. Phiên bản 2019-05-01."
	dt, ok := extractMostRecentDate(text)
	require.True(t, ok)
	require.Equal(t, 2024, dt.Year())
	require.Equal(t, time.March, dt.Month())
	require.Equal(t, 15, dt.Day())
}
