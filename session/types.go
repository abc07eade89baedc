// Package session implements the per-user filling state machine (C8): it
// iterates a form's fields, validates and normalizes answers, asks the LLM
// capability for clarification/confirmation when useful, and assembles a
// reviewable preview once every required field is settled.
package session

import (
	"time"

	"vnforms.dev/db/repository"
)

// Stage is the discrete state of a filling session.
type Stage string

const (
	StageAsk     Stage = "ask"
	StageConfirm Stage = "confirm"
	StageReview  Stage = "review"
)

// Answer is either a scalar string (regular field) or a subfield map
// (compound field).
type Answer struct {
	Value    string            `json:"value,omitempty"`
	Subvalue map[string]string `json:"subvalue,omitempty"`
}

// QuestionRecord is a rendered prompt for one field, cached lazily.
type QuestionRecord struct {
	FieldID string `json:"field_id"`
	Prompt  string `json:"prompt"`
}

// FillingSession is the entire per-user conversation state, stored as one
// serialized blob under a TTL'd key (spec.md §9: full read-modify-write,
// no partial updates).
type FillingSession struct {
	ID           string             `json:"id"`
	FormID       string             `json:"form_id"`
	Answers      map[string]Answer  `json:"answers"`
	FieldIdx     int                `json:"field_idx"`
	Questions    []QuestionRecord   `json:"questions"`
	Skipped      map[string]bool    `json:"skipped"`
	Pending      *Answer            `json:"pending,omitempty"`
	Stage        Stage              `json:"stage"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
	AnswerCount  int                `json:"answer_count"`
	ClientInfo   string             `json:"client_info,omitempty"`
}

// NewFillingSession starts a session at field 0 in the ask stage.
func NewFillingSession(id, formID, clientInfo string, now time.Time) *FillingSession {
	return &FillingSession{
		ID:           id,
		FormID:       formID,
		Answers:      map[string]Answer{},
		FieldIdx:     0,
		Skipped:      map[string]bool{},
		Stage:        StageAsk,
		CreatedAt:    now,
		LastActiveAt: now,
		ClientInfo:   clientInfo,
	}
}

// CurrentField returns the field the session is positioned on, or nil when
// the index has advanced past the end (the session should already be in
// review by then).
func CurrentField(schema *repository.FormSchema, idx int) *repository.FieldDescriptor {
	if idx < 0 || idx >= len(schema.Fields) {
		return nil
	}
	return &schema.Fields[idx]
}

// EveryRequiredFieldSettled reports whether every required field has either
// an answer or a skip entry — the invariant session.Stage review requires.
func EveryRequiredFieldSettled(schema *repository.FormSchema, s *FillingSession) bool {
	for _, f := range schema.Fields {
		if !f.Required {
			continue
		}
		if _, answered := s.Answers[f.ID]; answered {
			continue
		}
		if s.Skipped[f.ID] {
			continue
		}
		return false
	}
	return true
}
