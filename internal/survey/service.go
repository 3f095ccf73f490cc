package survey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/formvoice/internal/catalog"
	"github.com/ashureev/formvoice/internal/domain"
	"github.com/ashureev/formvoice/internal/metrics"
	"github.com/ashureev/formvoice/internal/nav"
	"github.com/ashureev/formvoice/internal/retry"
	"github.com/ashureev/formvoice/internal/store"
	"github.com/google/uuid"
)

// ErrStaleStep is returned when a manual submission targets a step that is no
// longer the session's current step. The caller receives the canonical state
// alongside it and should refresh its view.
var ErrStaleStep = errors.New("submitted step is not the current step")

// ProtocolError describes a structurally invalid message from a driver. It is
// rejected at the boundary without touching session state.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

const lockStripes = 64

// Service is the single serializing owner of session mutations. All
// mutations for one session ID apply under the same striped lock in
// acceptance order; distinct sessions proceed concurrently.
type Service struct {
	repo    store.Repository
	cat     *catalog.Catalog
	reg     *Registry
	rec     *metrics.Recorder
	policy  retry.Policy
	timeout time.Duration
	locks   [lockStripes]sync.Mutex
}

// NewService wires the synchronizer. rec may be nil to disable metrics.
func NewService(repo store.Repository, cat *catalog.Catalog, reg *Registry, rec *metrics.Recorder, policy retry.Policy, storageTimeout time.Duration) *Service {
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	return &Service{
		repo:    repo,
		cat:     cat,
		reg:     reg,
		rec:     rec,
		policy:  policy,
		timeout: storageTimeout,
	}
}

// Catalog exposes the loaded catalogue for read-only use by the drivers.
func (s *Service) Catalog() *catalog.Catalog {
	return s.cat
}

func (s *Service) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockStripes]
}

// GetOrCreate loads the session, creating a fresh one at the entry step when
// none exists or the stored record is corrupt.
func (s *Service) GetOrCreate(ctx context.Context, sessionID string, voiceMode bool) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, voiceMode)
	if err != nil {
		return State{}, err
	}
	return StateOf(session), nil
}

// Get loads the session without creating one. A corrupt record is discarded
// and replaced with a fresh session, so a read never leaves the respondent
// stuck behind an undecodable row; only a truly missing session surfaces
// ErrNotFound.
func (s *Service) Get(ctx context.Context, sessionID string) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.repo.LoadSession(loadCtx, sessionID)
	cancel()

	if errors.Is(err, store.ErrCorruptSession) {
		session, err = s.discardCorrupt(ctx, sessionID, false)
	}
	if err != nil {
		return State{}, err
	}
	return StateOf(session), nil
}

// ApplyManualAnswer validates and applies an answer submitted by the manual
// driver. The submission must target the session's current step; stale
// submissions are rejected with ErrStaleStep and the canonical state so the
// driver can correct its view.
func (s *Service) ApplyManualAnswer(ctx context.Context, sessionID string, step domain.StepRef, raw any) (State, domain.StepRef, error) {
	return s.applyAnswer(ctx, sessionID, step, raw, false)
}

// ApplyVoiceAnswer applies an answer spoken through the voice driver. The
// spoken phrase is resolved onto the catalogue's option text first, so
// "equipment manufacturer" selects the full option before validation.
func (s *Service) ApplyVoiceAnswer(ctx context.Context, sessionID string, step domain.StepRef, raw any) (State, domain.StepRef, error) {
	if q, ok := s.cat.Question(step); ok {
		raw = nav.ResolveSpoken(q, domain.NormalizeAnswer(raw))
	}
	return s.applyAnswer(ctx, sessionID, step, raw, true)
}

func (s *Service) applyAnswer(ctx context.Context, sessionID string, step domain.StepRef, raw any, voiceMode bool) (State, domain.StepRef, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, voiceMode)
	if err != nil {
		return State{}, "", err
	}

	if step != session.CurrentStep {
		slog.Info("Rejecting stale answer submission",
			"session_id", sessionID, "submitted_step", step, "current_step", session.CurrentStep)
		return StateOf(session), "", ErrStaleStep
	}

	updated, next, err := nav.Advance(s.cat, session, domain.NormalizeAnswer(raw))
	if err != nil {
		var verr *nav.ValidationError
		if errors.As(err, &verr) {
			s.rec.ValidationFailure()
		}
		return StateOf(session), "", err
	}

	answerJSON := marshalAnswer(updated.Answers[string(step)])
	if err := s.persist(ctx, updated, domain.AuditAdvanced, step, answerJSON); err != nil {
		return StateOf(session), "", err
	}

	switch next {
	case domain.StepComplete:
		s.rec.Advance(metrics.ResultCompleted)
	case domain.StepDisqualified:
		s.rec.Advance(metrics.ResultDisqualified)
	default:
		s.rec.Advance(metrics.ResultAdvanced)
	}

	state := StateOf(updated)
	s.broadcast(sessionID, state)
	return state, next, nil
}

// PreviewAnswer validates an answer and predicts the next step without
// mutating the session. Used for dry-run confirmations.
func (s *Service) PreviewAnswer(ctx context.Context, sessionID string, step domain.StepRef, raw any) (domain.StepRef, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, false)
	if err != nil {
		return "", err
	}
	if step != session.CurrentStep {
		return "", ErrStaleStep
	}
	return nav.Preview(s.cat, session, domain.NormalizeAnswer(raw))
}

// ApplyManualBack reverts the session to the previous step.
func (s *Service) ApplyManualBack(ctx context.Context, sessionID string) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, false)
	if err != nil {
		return State{}, err
	}

	updated, err := nav.GoBack(session)
	if err != nil {
		return StateOf(session), err
	}

	if err := s.persist(ctx, updated, domain.AuditReverted, updated.CurrentStep, ""); err != nil {
		return StateOf(session), err
	}
	s.rec.BackNavigation()

	state := StateOf(updated)
	s.broadcast(sessionID, state)
	return state, nil
}

// ApplyJump moves the session directly to a target step, or, when target is
// empty, to the ordinal-th entry of the visited history.
func (s *Service) ApplyJump(ctx context.Context, sessionID string, target domain.StepRef, ordinal int) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, false)
	if err != nil {
		return State{}, err
	}

	var updated *domain.Session
	if target != "" {
		updated, err = nav.JumpTo(s.cat, session, target)
	} else {
		updated, err = nav.JumpToOrdinal(session, ordinal)
	}
	if err != nil {
		return StateOf(session), err
	}

	if err := s.persist(ctx, updated, domain.AuditJumped, updated.CurrentStep, ""); err != nil {
		return StateOf(session), err
	}

	state := StateOf(updated)
	s.broadcast(sessionID, state)
	return state, nil
}

// ApplyAgentNavigation reconciles a full state report from the voice agent.
// The report is validated structurally only; the agent's own navigation
// reasoning is trusted, so a structurally valid report overwrites the
// canonical state wholesale.
func (s *Service) ApplyAgentNavigation(ctx context.Context, sessionID string, step domain.StepRef, answers map[string]any, history []domain.StepRef) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.loadOrCreate(ctx, sessionID, true)
	if err != nil {
		return State{}, err
	}

	normalized := domain.NormalizeAnswers(answers)
	if err := s.validateReported(step, normalized, history); err != nil {
		return StateOf(session), err
	}

	updated := session.Clone()
	updated.CurrentStep = step
	updated.Answers = normalized
	updated.History = append([]domain.StepRef{}, history...)

	answersJSON := marshalAnswer(normalized)
	if err := s.persist(ctx, updated, domain.AuditReconciled, step, answersJSON); err != nil {
		return StateOf(session), err
	}
	s.rec.Reconciliation()

	state := StateOf(updated)
	s.broadcast(sessionID, state)
	return state, nil
}

// Handshake attaches a driver to a session. Persisted state wins: if the
// store already holds the session, its state is returned so the attaching
// driver overwrites its local view. A brand-new session adopts the reported
// state when it is structurally valid.
func (s *Service) Handshake(ctx context.Context, sessionID string, reported State, voiceMode bool) (State, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.repo.LoadSession(loadCtx, sessionID)
	cancel()

	switch {
	case err == nil:
		if session.VoiceMode != voiceMode {
			updated := session.Clone()
			updated.VoiceMode = voiceMode
			if persistErr := s.persist(ctx, updated, domain.AuditReconciled, updated.CurrentStep, ""); persistErr == nil {
				session = updated
			}
		}
		return StateOf(session), nil

	case errors.Is(err, store.ErrCorruptSession):
		session, err = s.discardCorrupt(ctx, sessionID, voiceMode)
		if err != nil {
			return State{}, err
		}
		return StateOf(session), nil

	case errors.Is(err, store.ErrNotFound):
		session = domain.NewSession(sessionID, s.cat.EntryStep(), voiceMode)
		if reported.Step != "" && s.validateReported(reported.Step, reported.Answers, reported.StepHistory) == nil {
			session.CurrentStep = reported.Step
			session.Answers = domain.NormalizeAnswers(reported.Answers)
			session.History = append([]domain.StepRef{}, reported.StepHistory...)
		}
		if err := s.persist(ctx, session, domain.AuditCreated, session.CurrentStep, ""); err != nil {
			return State{}, err
		}
		s.rec.SessionCreated()
		state := StateOf(session)
		s.broadcast(sessionID, state)
		return state, nil

	default:
		return State{}, fmt.Errorf("load session for handshake: %w", err)
	}
}

// Progress reports how far the session has come.
func (s *Service) Progress(ctx context.Context, sessionID string) (nav.Progress, error) {
	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.repo.LoadSession(loadCtx, sessionID)
	if err != nil {
		return nav.Progress{}, err
	}
	return nav.SessionProgress(s.cat, session), nil
}

// Audit returns the most recent audit entries for a session.
func (s *Service) Audit(ctx context.Context, sessionID string, limit int) ([]*domain.AuditEntry, error) {
	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.ListAudit(loadCtx, sessionID, limit)
}

func (s *Service) loadOrCreate(ctx context.Context, sessionID string, voiceMode bool) (*domain.Session, error) {
	loadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.repo.LoadSession(loadCtx, sessionID)
	cancel()

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, store.ErrCorruptSession):
		return s.discardCorrupt(ctx, sessionID, voiceMode)
	case errors.Is(err, store.ErrNotFound):
		session = domain.NewSession(sessionID, s.cat.EntryStep(), voiceMode)
		if err := s.persist(ctx, session, domain.AuditCreated, session.CurrentStep, ""); err != nil {
			return nil, err
		}
		s.rec.SessionCreated()
		return session, nil
	default:
		return nil, fmt.Errorf("load session: %w", err)
	}
}

// discardCorrupt replaces an undecodable session record with a fresh session
// at the entry step and records the discard in the audit log.
func (s *Service) discardCorrupt(ctx context.Context, sessionID string, voiceMode bool) (*domain.Session, error) {
	slog.Warn("Discarding corrupt session record", "session_id", sessionID)
	session := domain.NewSession(sessionID, s.cat.EntryStep(), voiceMode)
	if err := s.persist(ctx, session, domain.AuditCorruptDiscarded, session.CurrentStep, ""); err != nil {
		return nil, err
	}
	s.rec.SessionCreated()
	return session, nil
}

// persist saves the session and appends the audit entry, retrying transient
// storage contention within the policy budget. A save failure aborts the
// mutation; an audit append failure is logged but does not undo the save.
func (s *Service) persist(ctx context.Context, session *domain.Session, action domain.AuditAction, step domain.StepRef, answerJSON string) error {
	session.UpdatedAt = time.Now()

	attempts := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempts++
		saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.repo.SaveSession(saveCtx, session)
	})
	if attempts > 1 {
		s.rec.StorageRetry()
	}
	if err != nil {
		return fmt.Errorf("persist session %s: %w", session.ID, err)
	}

	entry := &domain.AuditEntry{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Action:    action,
		Step:      step,
		Answer:    answerJSON,
		CreatedAt: time.Now(),
	}
	auditCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.AppendAudit(auditCtx, entry); err != nil {
		slog.Warn("Failed to append audit entry",
			"session_id", session.ID, "action", action, "error", err)
	}
	return nil
}

func (s *Service) broadcast(sessionID string, state State) {
	s.reg.Broadcast(sessionID, state)
	s.rec.Broadcast()
}

// validateReported checks an agent state report structurally: the step must
// be a catalogue key or sentinel, answers must be keyed by known questions
// with shape-compatible values, and every history entry must be known.
func (s *Service) validateReported(step domain.StepRef, answers map[string]any, history []domain.StepRef) error {
	if !s.cat.Has(step) {
		return &ProtocolError{Reason: fmt.Sprintf("unknown step %q", step)}
	}
	for key, value := range answers {
		q, ok := s.cat.Question(domain.StepRef(key))
		if !ok {
			return &ProtocolError{Reason: fmt.Sprintf("answer for unknown question %q", key)}
		}
		if !shapeCompatible(q, value) {
			return &ProtocolError{Reason: fmt.Sprintf("answer for %q has incompatible shape", key)}
		}
	}
	for _, visited := range history {
		if _, ok := s.cat.Question(visited); !ok {
			return &ProtocolError{Reason: fmt.Sprintf("history references unknown step %q", visited)}
		}
	}
	return nil
}

// shapeCompatible checks that a reported answer's type matches what the
// question produces. Content is not re-validated; the agent already walked
// the respondent through it.
func shapeCompatible(q domain.Question, value any) bool {
	switch q.Type {
	case domain.TypeChoice, domain.TypeText:
		_, ok := value.(string)
		return ok
	case domain.TypeMultipleChoice:
		switch value.(type) {
		case []string, []any:
			return true
		}
		return false
	case domain.TypeNumber:
		if _, ok := domain.NumericAnswer(value); ok {
			return true
		}
		s, ok := value.(string)
		return ok && q.UnknownOption != "" && s == q.UnknownOption
	case domain.TypeCompositeNumber:
		switch v := value.(type) {
		case map[string]int, map[string]any:
			return true
		case string:
			return q.UnknownOption != "" && v == q.UnknownOption
		}
		return false
	case domain.TypeShow:
		return false
	default:
		return false
	}
}

func marshalAnswer(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
