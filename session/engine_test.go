package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vnforms.dev/db/repository"
	"vnforms.dev/llm"
)

func sampleSchema() *repository.FormSchema {
	return &repository.FormSchema{
		FormID: "raw/mau-1700000000.pdf",
		Title:  "Mẫu đơn",
		Fields: []repository.FieldDescriptor{
			{ID: "ho_ten", Label: "Họ và tên", Type: "text", Required: true},
			{ID: "email", Label: "Email", Type: "email", Required: false},
			{
				ID: "cccd", Label: "Căn cước công dân", Type: "compound", Required: true,
				Subfields: []repository.Subfield{
					{ID: "so", Label: "Số"},
					{ID: "cap_ngay", Label: "Ngày cấp"},
					{ID: "cap_tai", Label: "Nơi cấp"},
				},
			},
			{ID: "phone", Label: "Số điện thoại", Type: "tel", Required: false},
		},
	}
}

func TestApplyTurn_SkipOptionalField(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-1", schema.FormID, "", time.Now())
	s.FieldIdx = 1 // email, optional

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyTurn(context.Background(), schema, s, "", time.Now())

	assert.True(t, s.Skipped["email"])
	assert.Equal(t, 2, s.FieldIdx)
	assert.Equal(t, StageAsk, result.Stage)
}

func TestApplyTurn_RequiredFieldCannotSkip(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-2", schema.FormID, "", time.Now())

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyTurn(context.Background(), schema, s, "", time.Now())

	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.IsValid)
	assert.Equal(t, 0, s.FieldIdx)
}

func TestApplyTurn_CompoundMissingSubfields(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-3", schema.FormID, "", time.Now())
	s.FieldIdx = 2 // cccd

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyTurn(context.Background(), schema, s, "001234567890", time.Now())

	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.IsValid)
	assert.Contains(t, result.Validation.Message, "Bạn chưa cung cấp")
	assert.Equal(t, StageAsk, s.Stage)
	assert.Equal(t, 2, s.FieldIdx)
}

func TestApplyTurn_CompoundFullAnswer(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-4", schema.FormID, "", time.Now())
	s.FieldIdx = 2

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyTurn(context.Background(), schema, s, "001234567890 cấp ngày 15/05/2020 tại Hà Nội", time.Now())

	assert.Nil(t, result.Validation)
	assert.Equal(t, 3, s.FieldIdx)
	ans := s.Answers["cccd"]
	assert.Equal(t, "001234567890", ans.Subvalue["so"])
	assert.Equal(t, "15/05/2020", ans.Subvalue["cap_ngay"])
}

func TestApplyTurn_ShortPhoneNeedsConfirmation(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-5", schema.FormID, "", time.Now())
	s.FieldIdx = 3 // phone

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyTurn(context.Background(), schema, s, "090123", time.Now())

	assert.Equal(t, StageConfirm, s.Stage)
	require.NotNil(t, s.Pending)
	assert.Equal(t, "090123", s.Pending.Value)
	require.NotNil(t, result.Validation)
	assert.True(t, result.Validation.NeedsConfirmation)
}

func TestApplyConfirm_NoClearsPendingSameField(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-6", schema.FormID, "", time.Now())
	s.FieldIdx = 3
	s.Stage = StageConfirm
	s.Pending = &Answer{Value: "090123"}

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	e.ApplyConfirm(schema, s, false, time.Now())

	assert.Equal(t, StageAsk, s.Stage)
	assert.Nil(t, s.Pending)
	assert.Equal(t, 3, s.FieldIdx)
	_, answered := s.Answers["phone"]
	assert.False(t, answered)
}

func TestApplyConfirm_YesCommitsAndAdvances(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-7", schema.FormID, "", time.Now())
	s.FieldIdx = 3
	s.Stage = StageConfirm
	s.Pending = &Answer{Value: "090123"}

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	result := e.ApplyConfirm(schema, s, true, time.Now())

	assert.Equal(t, "090123", s.Answers["phone"].Value)
	assert.Equal(t, StageReview, s.Stage)
	assert.True(t, result.Done)
}

func TestSkippedFieldNeverReappears(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-8", schema.FormID, "", time.Now())
	s.FieldIdx = 1

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	e.ApplyTurn(context.Background(), schema, s, "skip", time.Now())

	assert.True(t, s.Skipped["email"])
	assert.NotEqual(t, 1, s.FieldIdx)
}

func TestReviewInvariant_EveryRequiredFieldSettled(t *testing.T) {
	schema := sampleSchema()
	s := NewFillingSession("sess-9", schema.FormID, "", time.Now())

	e := NewEngine(llm.NewFallbackCapability(), NewQuestionCache(0), nil)
	e.ApplyTurn(context.Background(), schema, s, "Nguyễn Văn A", time.Now())
	e.ApplyTurn(context.Background(), schema, s, "skip", time.Now())
	e.ApplyTurn(context.Background(), schema, s, "001234567890 cấp ngày 15/05/2020 tại Hà Nội", time.Now())
	e.ApplyTurn(context.Background(), schema, s, "skip", time.Now())

	assert.Equal(t, StageReview, s.Stage)
	assert.True(t, EveryRequiredFieldSettled(schema, s))
	assert.LessOrEqual(t, s.FieldIdx, len(schema.Fields))
}
