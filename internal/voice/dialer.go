package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// wsAgent is an AgentPeer backed by an outbound WebSocket to the external
// agent service. Frames are relayed as-is; the agent's internals are opaque.
type wsAgent struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	frames    chan Frame
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// WebSocketDialer returns an AgentDialer that connects to the agent service
// at baseURL, appending the session ID to the path.
func WebSocketDialer(baseURL string) AgentDialer {
	return func(ctx context.Context, sessionID string) (AgentPeer, error) {
		url := strings.TrimRight(baseURL, "/") + "/" + sessionID
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial agent %s: %w", url, err)
		}
		// Media frames can be large.
		conn.SetReadLimit(1 << 20)

		readCtx, cancel := context.WithCancel(context.Background())
		agent := &wsAgent{
			conn:   conn,
			frames: make(chan Frame, 16),
			cancel: cancel,
		}
		go agent.readLoop(readCtx, sessionID)
		return agent, nil
	}
}

func (a *wsAgent) readLoop(ctx context.Context, sessionID string) {
	defer close(a.frames)
	for {
		_, message, err := a.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Warn("Agent connection read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("Malformed frame from agent", "error", err, "session_id", sessionID)
			continue
		}

		select {
		case a.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Send forwards a frame to the agent service.
func (a *wsAgent) Send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal agent frame: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write agent frame: %w", err)
	}
	return nil
}

// Frames returns the stream of frames produced by the agent.
func (a *wsAgent) Frames() <-chan Frame {
	return a.frames
}

// Close shuts the agent connection down.
func (a *wsAgent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}
