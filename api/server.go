// Package api wires the session engine (C8), form repository (C2), and
// overlay renderer (C9) behind the HTTP surface described in spec.md §6.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
	"vnforms.dev/overlay"
	"vnforms.dev/session"
	"vnforms.dev/storage"
)

// SessionTTL is how long an idle FillingSession survives in the session
// store; every save and every GetSession read resets the TTL to this value
// (spec.md §3: sessions ttl derived from last_active_at).
const SessionTTL = 30 * time.Minute

// Server holds the dependencies every handler needs.
type Server struct {
	engine   *session.Engine
	forms    repository.FormRepository
	sessions repository.SessionRepository
	store    *storage.Store
	renderer *overlay.Renderer
	log      *common.ContextLogger
}

// New builds a Server.
func New(engine *session.Engine, forms repository.FormRepository, sessions repository.SessionRepository, store *storage.Store, renderer *overlay.Renderer, log *common.ContextLogger) *Server {
	return &Server{engine: engine, forms: forms, sessions: sessions, store: store, renderer: renderer, log: log}
}

// RegisterRoutes adds the session API endpoints to an Echo group.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/forms", s.handleListForms)
	g.GET("/forms/:formId", s.handleGetForm)
	g.POST("/sessions", s.handleCreateSession)
	g.POST("/sessions/:id/turns", s.handlePostTurn)
	g.POST("/sessions/:id/confirm", s.handleConfirm)
	g.POST("/sessions/:id/fill", s.handleFill)
}

// sessionResponse is the envelope returned after session creation and every
// turn/confirm transition, mirroring spec.md §6's behavioral contract.
type sessionResponse struct {
	SessionID  string                    `json:"session_id"`
	Stage      session.Stage             `json:"stage"`
	Question   string                    `json:"question,omitempty"`
	Validation *session.ValidationResult `json:"validation,omitempty"`
	Progress   session.Progress          `json:"progress"`
	Done       bool                      `json:"done"`
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (s *Server) handleListForms(c echo.Context) error {
	forms, err := s.forms.ListForms(c.Request().Context())
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, forms)
}

func (s *Server) handleGetForm(c echo.Context) error {
	form, err := s.forms.GetForm(c.Request().Context(), c.Param("formId"))
	if err != nil {
		if err == repository.ErrNotFound {
			return errJSON(c, http.StatusNotFound, "form not found")
		}
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, form)
}

type createSessionRequest struct {
	FormID     string `json:"form_id"`
	ClientInfo string `json:"client_info,omitempty"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.FormID == "" {
		return errJSON(c, http.StatusBadRequest, "form_id is required")
	}

	ctx := c.Request().Context()
	form, err := s.forms.GetForm(ctx, req.FormID)
	if err != nil {
		if err == repository.ErrNotFound {
			return errJSON(c, http.StatusNotFound, "form not found")
		}
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	now := time.Now()
	fs := session.NewFillingSession(uuid.NewString(), form.FormID, req.ClientInfo, now)

	question := s.engine.Question(form, fs)

	if err := s.saveSession(ctx, fs); err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, sessionResponse{
		SessionID: fs.ID,
		Stage:     fs.Stage,
		Question:  question,
		Progress:  progressFor(form, fs.FieldIdx),
		Done:      fs.Stage == session.StageReview,
	})
}

type turnRequest struct {
	FieldID string `json:"field_id,omitempty"`
	Value   string `json:"value"`
}

func (s *Server) handlePostTurn(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	fs, form, err := s.loadSessionAndForm(ctx, sessionID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, err.Error())
	}

	if req.FieldID != "" {
		current := session.CurrentField(form, fs.FieldIdx)
		if current != nil && current.ID != req.FieldID {
			return errJSON(c, http.StatusConflict, "field_id does not match the session's current field")
		}
	}

	result := s.engine.ApplyTurn(ctx, form, fs, req.Value, time.Now())

	if err := s.saveSession(ctx, fs); err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, sessionResponse{
		SessionID:  fs.ID,
		Stage:      result.Stage,
		Question:   result.Question,
		Validation: result.Validation,
		Progress:   result.Progress,
		Done:       result.Done,
	})
}

type confirmRequest struct {
	Yes bool `json:"yes"`
}

func (s *Server) handleConfirm(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}

	fs, form, err := s.loadSessionAndForm(ctx, sessionID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, err.Error())
	}

	result := s.engine.ApplyConfirm(form, fs, req.Yes, time.Now())

	if err := s.saveSession(ctx, fs); err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, sessionResponse{
		SessionID:  fs.ID,
		Stage:      result.Stage,
		Question:   result.Question,
		Validation: result.Validation,
		Progress:   result.Progress,
		Done:       result.Done,
	})
}

// fillRequest lets the caller override answers at fill time without a prior
// turn, per spec.md §6's "final answers override".
type fillRequest struct {
	Overrides map[string]string `json:"overrides,omitempty"`
}

func (s *Server) handleFill(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	var req fillRequest
	_ = c.Bind(&req)

	fs, form, err := s.loadSessionAndForm(ctx, sessionID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, err.Error())
	}

	for fieldID, value := range req.Overrides {
		fs.Answers[fieldID] = session.Answer{Value: value}
	}

	original, err := s.store.Get(ctx, form.SourceKey)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "source document unavailable")
	}

	out := s.renderer.Render(original, form, fs)

	c.Response().Header().Set(echo.HeaderContentType, "application/pdf")
	c.Response().Header().Set("Content-Disposition", "attachment; filename=\""+form.FormID+".pdf\"")
	return c.Blob(http.StatusOK, "application/pdf", out)
}

func progressFor(form *repository.FormSchema, idx int) session.Progress {
	total := len(form.Fields)
	pct := 100.0
	if total > 0 {
		pct = float64(idx) / float64(total) * 100
	}
	return session.Progress{CurrentIndex: idx, TotalFields: total, ProgressPct: pct}
}
