package api

import (
	"context"
	"encoding/json"
	"fmt"

	"vnforms.dev/db/repository"
	"vnforms.dev/session"
)

// saveSession serializes fs as a JSON blob under its id, refreshing the
// store TTL on every write (session.types: one full read-modify-write per
// turn, no partial updates).
func (s *Server) saveSession(ctx context.Context, fs *session.FillingSession) error {
	blob, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.sessions.SaveSession(ctx, fs.ID, blob, SessionTTL)
}

// loadSessionAndForm fetches a session blob and its owning form schema
// together, since every handler needs both to run the state machine.
func (s *Server) loadSessionAndForm(ctx context.Context, sessionID string) (*session.FillingSession, *repository.FormSchema, error) {
	blob, err := s.sessions.GetSession(ctx, sessionID, SessionTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("session not found")
	}

	var fs session.FillingSession
	if err := json.Unmarshal(blob, &fs); err != nil {
		return nil, nil, fmt.Errorf("corrupt session record")
	}

	form, err := s.forms.GetForm(ctx, fs.FormID)
	if err != nil {
		return nil, nil, fmt.Errorf("form not found")
	}

	return &fs, form, nil
}
