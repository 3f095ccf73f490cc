// Package api provides the manual driver's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/formvoice/internal/catalog"
	"github.com/ashureev/formvoice/internal/domain"
	"github.com/ashureev/formvoice/internal/identity"
	"github.com/ashureev/formvoice/internal/nav"
	"github.com/ashureev/formvoice/internal/store"
	"github.com/ashureev/formvoice/internal/survey"
	"github.com/go-chi/chi/v5"
)

// Handler serves the manual survey driver.
type Handler struct {
	svc *survey.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *survey.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes attaches the survey API to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/survey-data", h.SurveyData)
	r.Post("/api/submit-answer", h.SubmitAnswer)
	r.Route("/api/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/back", h.Back)
		r.Post("/jump", h.Jump)
		r.Get("/progress", h.Progress)
		r.Get("/audit", h.Audit)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type stepView struct {
	ID            domain.StepRef `json:"id"`
	Prompt        string         `json:"question"`
	Type          string         `json:"type"`
	Options       []string       `json:"options,omitempty"`
	SubFields     []subFieldView `json:"sub_fields,omitempty"`
	UnknownOption string         `json:"unknown_option,omitempty"`
}

type subFieldView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
}

// SurveyData returns the renderable catalogue steps for the client UI.
// Prompts are returned raw; per-session substitution happens on fetch of the
// individual session.
func (h *Handler) SurveyData(w http.ResponseWriter, r *http.Request) {
	steps := h.svc.Catalog().Steps()
	if r.URL.Query().Get("view") == "public" {
		steps = h.svc.Catalog().ExposedSteps()
	}

	out := make([]stepView, 0, len(steps))
	for _, q := range steps {
		view := stepView{
			ID:            q.ID,
			Prompt:        q.Prompt,
			Type:          string(q.Type),
			Options:       q.Options,
			UnknownOption: q.UnknownOption,
		}
		for _, f := range q.SubFields {
			view.SubFields = append(view.SubFields, subFieldView{
				ID: f.ID, Label: f.Label, Min: f.Min, Max: f.Max,
			})
		}
		out = append(out, view)
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "steps": out})
}

type sessionView struct {
	CurrentStep   domain.StepRef   `json:"current_step"`
	CurrentPrompt string           `json:"current_prompt,omitempty"`
	Answers       map[string]any   `json:"answers"`
	StepHistory   []domain.StepRef `json:"step_history"`
	IsAudioMode   bool             `json:"is_audio_mode"`
}

func toView(cat *catalog.Catalog, state survey.State) sessionView {
	view := sessionView{
		CurrentStep: state.Step,
		Answers:     state.Answers,
		StepHistory: state.StepHistory,
		IsAudioMode: state.IsAudioMode,
	}
	if q, ok := cat.Question(state.Step); ok {
		view.CurrentPrompt = catalog.RenderPrompt(q, state.Answers)
	}
	return view
}

// GetSession returns the canonical state of an existing session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	state, err := h.svc.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			JSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "session not found"})
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "session": toView(h.svc.Catalog(), state)})
}

type submitAnswerRequest struct {
	SessionID   string         `json:"session_id"`
	CurrentStep domain.StepRef `json:"current_step"`
	Answer      any            `json:"answer"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

// SubmitAnswer validates and applies an answer for the session's current
// step. With dry_run set, the answer is checked and the next step predicted
// without mutating the session. A request without a session_id falls back to
// the respondent's identity from the session header or anonymous cookie.
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}
	if req.SessionID == "" || req.CurrentStep == "" {
		Error(w, http.StatusBadRequest, "session_id and current_step are required")
		return
	}

	if req.DryRun {
		next, err := h.svc.PreviewAnswer(r.Context(), req.SessionID, req.CurrentStep, req.Answer)
		if err != nil {
			h.writeNavError(w, err, survey.State{})
			return
		}
		JSON(w, http.StatusOK, map[string]any{"valid": true, "next_step": next, "dry_run": true})
		return
	}

	state, next, err := h.svc.ApplyManualAnswer(r.Context(), req.SessionID, req.CurrentStep, req.Answer)
	if err != nil {
		h.writeNavError(w, err, state)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"valid": true, "next_step": next})
}

// Back reverts the session to the previous step.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	state, err := h.svc.ApplyManualBack(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, nav.ErrNoHistory) {
			JSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": "already at the first step",
				"session": toView(h.svc.Catalog(), state),
			})
			return
		}
		Error(w, http.StatusInternalServerError, "failed to navigate back")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "session": toView(h.svc.Catalog(), state)})
}

type jumpRequest struct {
	Step    domain.StepRef `json:"step,omitempty"`
	Ordinal *int           `json:"ordinal,omitempty"`
}

// Jump moves the session to a chosen step, by ID or by visited-history
// ordinal. Serves the review-view edit flow.
func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Step == "" && req.Ordinal == nil {
		Error(w, http.StatusBadRequest, "step or ordinal is required")
		return
	}

	ordinal := -1
	if req.Ordinal != nil {
		ordinal = *req.Ordinal
	}
	state, err := h.svc.ApplyJump(r.Context(), sessionID, req.Step, ordinal)
	if err != nil {
		if errors.Is(err, nav.ErrUnknownStep) || errors.Is(err, nav.ErrNoHistory) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, "failed to jump")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "session": toView(h.svc.Catalog(), state)})
}

// Progress returns a summary of how far the session has come.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	progress, err := h.svc.Progress(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			JSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "session not found"})
			return
		}
		Error(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "progress": progress})
}

// Audit returns recent audit entries for the session.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	entries, err := h.svc.Audit(r.Context(), sessionID, 50)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// writeNavError maps navigation failures onto the submit-answer response
// contract: validation problems come back inline as valid=false with a
// message rather than an HTTP error.
func (h *Handler) writeNavError(w http.ResponseWriter, err error, state survey.State) {
	var verr *nav.ValidationError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusOK, map[string]any{"valid": false, "message": verr.Reason})
	case errors.Is(err, survey.ErrStaleStep):
		JSON(w, http.StatusConflict, map[string]any{
			"valid":        false,
			"message":      "submission is out of date",
			"current_step": state.Step,
		})
	case errors.Is(err, nav.ErrSessionTerminal):
		JSON(w, http.StatusConflict, map[string]any{"valid": false, "message": "survey already finished"})
	default:
		Error(w, http.StatusInternalServerError, "failed to apply answer")
	}
}
