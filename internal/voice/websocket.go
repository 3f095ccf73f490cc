package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/formvoice/internal/identity"
	"github.com/ashureev/formvoice/internal/nav"
	"github.com/ashureev/formvoice/internal/survey"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WebSocketHandler upgrades voice driver connections and runs the frame
// protocol: a mandatory handshake, then sync_state reconciliation and opaque
// content frames, with navigation frames pushed on every canonical change.
type WebSocketHandler struct {
	svc           *survey.Service
	reg           *survey.Registry
	dial          AgentDialer
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. dial may be nil, in
// which case the connection serves state sync without a live agent.
func NewWebSocketHandler(svc *survey.Service, reg *survey.Registry, dial AgentDialer, allowedOrigin string, isDev bool) *WebSocketHandler {
	if dial == nil {
		dial = NopDialer()
	}
	return &WebSocketHandler{
		svc:           svc,
		reg:           reg,
		dial:          dial,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// writeTimeout bounds every frame write. A driver whose send buffer stays
// full past this is treated as gone; it resynchronizes via handshake.
const writeTimeout = 10 * time.Second

// wsSink pushes canonical state to one WebSocket as navigation frames.
// Writes are serialized: the read loop, the agent relay, and broadcasts all
// share the connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Push(state survey.State) error {
	return s.writeFrame(Frame{
		Type:        FrameNavigation,
		Step:        state.Step,
		Answers:     state.Answers,
		StepHistory: state.StepHistory,
	})
}

func (s *wsSink) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	isAudio := r.URL.Query().Get("is_audio") == "true"
	slog.Info("Voice connection request", "session_id", sessionID, "is_audio", isAudio, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: ws}

	// The protocol requires a handshake before anything else.
	state, err := h.awaitHandshake(ctx, ws, sink, sessionID, isAudio)
	if err != nil {
		slog.Warn("Voice handshake failed", "session_id", sessionID, "error", err)
		return
	}

	driverID := "voice-" + uuid.NewString()
	h.reg.Attach(sessionID, driverID, sink)
	defer h.reg.Detach(sessionID, driverID, sink)

	agent, err := h.dial(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to connect agent peer", "error", err, "session_id", sessionID)
		if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: "agent unavailable"}); writeErr != nil {
			slog.Debug("Failed to send agent error frame", "error", writeErr)
		}
		return
	}
	defer func() {
		if closeErr := agent.Close(); closeErr != nil {
			slog.Debug("Failed to close agent peer", "error", closeErr, "session_id", sessionID)
		}
	}()

	// Seed the agent with the canonical state it should narrate from.
	if err := agent.Send(ctx, navigationFrame(state)); err != nil {
		slog.Warn("Failed to seed agent with canonical state", "error", err, "session_id", sessionID)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Client -> server: sync_state reconciliation and opaque content frames.
	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, sink, agent, sessionID)
	}()

	// Agent -> client relay.
	go func() {
		defer wg.Done()
		defer cancel()
		h.relayLoop(ctx, sink, agent, sessionID)
	}()

	wg.Wait()
	slog.Info("Voice session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// awaitHandshake reads the first frame, which must be a handshake, runs it
// through the synchronizer, and replies with the canonical state.
func (h *WebSocketHandler) awaitHandshake(ctx context.Context, ws *websocket.Conn, sink *wsSink, sessionID string, isAudio bool) (survey.State, error) {
	_, message, err := ws.Read(ctx)
	if err != nil {
		return survey.State{}, err
	}

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil || frame.Type != FrameHandshake {
		if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: "handshake expected"}); writeErr != nil {
			slog.Debug("Failed to send handshake error frame", "error", writeErr)
		}
		return survey.State{}, errors.New("first frame was not a handshake")
	}

	reported := survey.State{
		Step:        frame.Step,
		Answers:     frame.Answers,
		StepHistory: frame.StepHistory,
	}
	state, err := h.svc.Handshake(ctx, sessionID, reported, isAudio)
	if err != nil {
		if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: "failed to establish session"}); writeErr != nil {
			slog.Debug("Failed to send handshake error frame", "error", writeErr)
		}
		return survey.State{}, err
	}

	// Canonical state wins: the client overwrites its local view with this.
	if err := sink.Push(state); err != nil {
		return survey.State{}, err
	}
	return state, nil
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sink *wsSink, agent AgentPeer, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			// Malformed frames are rejected; the connection stays up.
			slog.Warn("Malformed voice frame", "session_id", sessionID, "error", err)
			if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: "malformed frame"}); writeErr != nil {
				slog.Debug("Failed to send error frame", "error", writeErr)
			}
			continue
		}

		switch {
		case frame.Type == FrameAnswer:
			state, _, err := h.svc.ApplyVoiceAnswer(ctx, sessionID, frame.Step, frame.Answer)
			if err != nil {
				if errors.Is(err, survey.ErrStaleStep) {
					// Correct the driver's view with the canonical state.
					if pushErr := sink.Push(state); pushErr != nil {
						slog.Debug("Failed to push canonical state", "error", pushErr, "session_id", sessionID)
					}
					continue
				}
				var verr *nav.ValidationError
				if errors.As(err, &verr) {
					if writeErr := sink.writeFrame(Frame{Type: FrameError, Step: frame.Step, Message: verr.Error()}); writeErr != nil {
						slog.Debug("Failed to send error frame", "error", writeErr)
					}
					continue
				}
				slog.Error("Failed to apply voice answer", "error", err, "session_id", sessionID)
				continue
			}
			// Keep the agent's narration aligned with the accepted state.
			if err := agent.Send(ctx, navigationFrame(state)); err != nil {
				slog.Debug("Failed to nudge agent", "error", err, "session_id", sessionID)
			}
		case frame.Type == FrameSyncState:
			state, err := h.svc.ApplyAgentNavigation(ctx, sessionID, frame.Step, frame.Answers, frame.StepHistory)
			if err != nil {
				var perr *survey.ProtocolError
				if errors.As(err, &perr) {
					slog.Warn("Rejected agent state report", "session_id", sessionID, "reason", perr.Reason)
					if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: perr.Reason}); writeErr != nil {
						slog.Debug("Failed to send error frame", "error", writeErr)
					}
					continue
				}
				slog.Error("Failed to reconcile agent state", "error", err, "session_id", sessionID)
				continue
			}
			// Nudge the agent so its narration follows the accepted state.
			if err := agent.Send(ctx, navigationFrame(state)); err != nil {
				slog.Debug("Failed to nudge agent", "error", err, "session_id", sessionID)
			}
		case frame.MimeType != "":
			// Opaque media content for the agent.
			if err := agent.Send(ctx, frame); err != nil {
				slog.Debug("Failed to forward content frame", "error", err, "session_id", sessionID)
			}
		case frame.Type == FrameHandshake:
			// Re-handshake mid-connection: reply with the canonical state.
			state, err := h.svc.Get(ctx, sessionID)
			if err != nil {
				slog.Warn("Failed to serve re-handshake", "error", err, "session_id", sessionID)
				continue
			}
			if err := sink.Push(state); err != nil {
				slog.Debug("Failed to push state on re-handshake", "error", err)
			}
		default:
			slog.Warn("Unknown voice frame type", "session_id", sessionID, "type", frame.Type)
			if writeErr := sink.writeFrame(Frame{Type: FrameError, Message: "unknown frame type"}); writeErr != nil {
				slog.Debug("Failed to send error frame", "error", writeErr)
			}
		}
	}
}

func (h *WebSocketHandler) relayLoop(ctx context.Context, sink *wsSink, agent AgentPeer, sessionID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-agent.Frames():
			if !ok {
				return
			}
			if err := sink.writeFrame(frame); err != nil {
				slog.Debug("Failed to relay agent frame", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func navigationFrame(state survey.State) Frame {
	return Frame{
		Type:        FrameNavigation,
		Step:        state.Step,
		Answers:     state.Answers,
		StepHistory: state.StepHistory,
	}
}
