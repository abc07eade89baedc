package session

import (
	"context"
	"strings"
	"time"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/llm"
)

// ValidationResult mirrors the wire-level `validation` object from
// spec.md §6, surfaced whenever a turn triggers a classification.
type ValidationResult struct {
	IsValid           bool   `json:"isValid"`
	Message           string `json:"message,omitempty"`
	NeedsConfirmation bool   `json:"needsConfirmation"`
}

// Progress mirrors spec.md §6's progress counters.
type Progress struct {
	CurrentIndex int     `json:"current_index"`
	TotalFields  int     `json:"total_fields"`
	ProgressPct  float64 `json:"progress_pct"`
}

// TurnResult is returned by every state transition.
type TurnResult struct {
	Stage      Stage
	Question   string
	Validation *ValidationResult
	Progress   Progress
	Done       bool
}

// Engine runs the C8 state machine. It holds no session state itself —
// every method takes the session by pointer and mutates it in place, ready
// for the caller to serialize and write back via SessionRepository.
type Engine struct {
	capability llm.Capability
	cache      *QuestionCache
	log        *common.ContextLogger
}

// NewEngine builds an Engine. capability may be a FallbackCapability when
// no remote model is configured — the state machine is identical either
// way (spec.md §4.6).
func NewEngine(capability llm.Capability, cache *QuestionCache, log *common.ContextLogger) *Engine {
	if cache == nil {
		cache = NewQuestionCache(0)
	}
	return &Engine{capability: capability, cache: cache, log: log}
}

func progressFor(schema *repository.FormSchema, idx int) Progress {
	total := len(schema.Fields)
	pct := 100.0
	if total > 0 {
		pct = float64(idx) / float64(total) * 100
	}
	return Progress{CurrentIndex: idx, TotalFields: total, ProgressPct: pct}
}

// Question renders the prompt for the session's current field: cache hit
// first, deterministic fallback phrasing otherwise. A cache miss triggers
// an async upgrade that must never block this call.
func (e *Engine) Question(schema *repository.FormSchema, s *FillingSession) string {
	field := CurrentField(schema, s.FieldIdx)
	if field == nil {
		return ""
	}

	if q, ok := e.cache.Get(schema.FormID, s.FieldIdx); ok {
		return q
	}

	recent := recentLabels(schema, s.FieldIdx, 3)
	question, _ := llm.NewFallbackCapability().GenerateQuestion(context.Background(), *field, recent)

	go e.upgradeQuestionAsync(schema, s.FieldIdx, *field, recent)

	return question
}

func (e *Engine) upgradeQuestionAsync(schema *repository.FormSchema, fieldIdx int, field repository.FieldDescriptor, recent []string) {
	ctx, cancel := context.WithTimeout(context.Background(), llm.DefaultTimeout)
	defer cancel()
	question, err := e.capability.GenerateQuestion(ctx, field, recent)
	if err != nil || question == "" {
		return
	}
	e.cache.Set(schema.FormID, fieldIdx, question, len(schema.Fields))
}

func recentLabels(schema *repository.FormSchema, idx, n int) []string {
	start := idx - n
	if start < 0 {
		start = 0
	}
	labels := make([]string, 0, idx-start)
	for i := start; i < idx && i < len(schema.Fields); i++ {
		labels = append(labels, schema.Fields[i].Label)
	}
	return labels
}

func isSkipInput(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "" || v == "skip" || v == "bỏ qua"
}

// advance moves field_idx forward and flips to review once every field has
// been visited.
func advance(schema *repository.FormSchema, s *FillingSession) {
	s.FieldIdx++
	if s.FieldIdx >= len(schema.Fields) {
		s.Stage = StageReview
	}
}

// ApplyTurn is the `ask`-stage transition from spec.md §4.5. It always
// applies value to the session's current field and does not serialize
// concurrent turns — callers outside this package are expected to enforce
// single-writer-per-session ordering.
func (e *Engine) ApplyTurn(ctx context.Context, schema *repository.FormSchema, s *FillingSession, value string, now time.Time) TurnResult {
	s.LastActiveAt = now

	if s.Stage != StageAsk {
		return e.resultFor(schema, s, nil)
	}

	field := CurrentField(schema, s.FieldIdx)
	if field == nil {
		s.Stage = StageReview
		return e.resultFor(schema, s, nil)
	}

	if isSkipInput(value) {
		if field.Required {
			return e.resultFor(schema, s, &ValidationResult{IsValid: false, Message: "Trường này là bắt buộc, vui lòng nhập giá trị."})
		}
		s.Skipped[field.ID] = true
		advance(schema, s)
		return e.resultFor(schema, s, nil)
	}

	if field.Type == "compound" {
		return e.applyCompoundTurn(ctx, schema, s, field, value)
	}

	return e.applyRegularTurn(ctx, schema, s, field, value)
}

func (e *Engine) applyCompoundTurn(ctx context.Context, schema *repository.FormSchema, s *FillingSession, field *repository.FieldDescriptor, value string) TurnResult {
	result, err := e.capability.ParseCompound(ctx, *field, value)
	if err != nil {
		result, _ = llm.NewFallbackCapability().ParseCompound(ctx, *field, value)
	}

	if len(result.Missing) > 0 {
		labels := make([]string, 0, len(result.Missing))
		bySub := map[string]string{}
		for _, sf := range field.Subfields {
			bySub[sf.ID] = sf.Label
		}
		for _, m := range result.Missing {
			if l, ok := bySub[m]; ok {
				labels = append(labels, l)
			} else {
				labels = append(labels, m)
			}
		}
		msg := "Bạn chưa cung cấp: " + strings.Join(labels, ", ") + ". Vui lòng cung cấp đầy đủ thông tin."
		return e.resultFor(schema, s, &ValidationResult{IsValid: false, Message: msg})
	}

	s.Answers[field.ID] = Answer{Subvalue: result.Parsed}
	s.AnswerCount++
	advance(schema, s)
	return e.resultFor(schema, s, nil)
}

func (e *Engine) applyRegularTurn(ctx context.Context, schema *repository.FormSchema, s *FillingSession, field *repository.FieldDescriptor, value string) TurnResult {
	normalized := applyNormalizers(value, field.Normalizers)

	if err := applyValidators(normalized, field.Validators); err != nil {
		return e.resultFor(schema, s, &ValidationResult{IsValid: false, Message: err.Error()})
	}

	classification, hint, err := e.capability.ValidateAnswer(ctx, *field, normalized)
	if err != nil {
		classification, hint, _ = llm.NewFallbackCapability().ValidateAnswer(ctx, *field, normalized)
	}

	switch classification {
	case llm.ClassificationInvalid:
		msg := hint
		if msg == "" {
			msg = "Giá trị không hợp lệ."
		}
		return e.resultFor(schema, s, &ValidationResult{IsValid: false, Message: msg})
	case llm.ClassificationNeedsConfirmation:
		s.Pending = &Answer{Value: normalized}
		s.Stage = StageConfirm
		return e.resultFor(schema, s, &ValidationResult{IsValid: true, Message: hint, NeedsConfirmation: true})
	default:
		s.Answers[field.ID] = Answer{Value: normalized}
		s.AnswerCount++
		advance(schema, s)
		return e.resultFor(schema, s, &ValidationResult{IsValid: true})
	}
}

// ApplyConfirm is the `confirm`-stage transition from spec.md §4.5.
func (e *Engine) ApplyConfirm(schema *repository.FormSchema, s *FillingSession, yes bool, now time.Time) TurnResult {
	s.LastActiveAt = now

	if s.Stage != StageConfirm || s.Pending == nil {
		return e.resultFor(schema, s, nil)
	}

	field := CurrentField(schema, s.FieldIdx)
	if yes && field != nil {
		s.Answers[field.ID] = *s.Pending
		s.AnswerCount++
		s.Pending = nil
		s.Stage = StageAsk
		advance(schema, s)
	} else {
		s.Pending = nil
		s.Stage = StageAsk
	}
	return e.resultFor(schema, s, nil)
}

func (e *Engine) resultFor(schema *repository.FormSchema, s *FillingSession, v *ValidationResult) TurnResult {
	r := TurnResult{
		Stage:      s.Stage,
		Progress:   progressFor(schema, s.FieldIdx),
		Validation: v,
		Done:       s.Stage == StageReview,
	}
	if s.Stage == StageAsk {
		r.Question = e.Question(schema, s)
	}
	return r
}

// Preview assembles the {label, value} review list and an optional
// LLM-polished prose summary, falling back to a deterministic join.
func (e *Engine) Preview(ctx context.Context, schema *repository.FormSchema, s *FillingSession) (string, []llm.PreviewItem) {
	items := make([]llm.PreviewItem, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		ans, ok := s.Answers[f.ID]
		if !ok {
			continue
		}
		items = append(items, llm.PreviewItem{Label: f.Label, Value: flattenAnswer(f, ans)})
	}

	prose, err := e.capability.RenderPreview(ctx, items)
	if err != nil {
		prose, _ = llm.NewFallbackCapability().RenderPreview(ctx, items)
	}
	return prose, items
}

// flattenAnswer joins a compound answer's subfields in declaration order,
// matching the overlay renderer's flattening rule (spec.md §4.7).
func flattenAnswer(f repository.FieldDescriptor, a Answer) string {
	if a.Subvalue == nil {
		return a.Value
	}
	parts := make([]string, 0, len(f.Subfields))
	for _, sf := range f.Subfields {
		if v, ok := a.Subvalue[sf.ID]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
