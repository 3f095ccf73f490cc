// Package voice implements the voice driver: a WebSocket endpoint that keeps
// the voice agent's view of a survey session reconciled with the canonical
// state.
package voice

import (
	"context"

	"github.com/ashureev/formvoice/internal/domain"
)

// Frame is the wire message exchanged with the voice client. Navigation and
// handshake frames carry survey state; content frames carry opaque media for
// the agent.
type Frame struct {
	Type        string           `json:"type,omitempty"`
	Step        domain.StepRef   `json:"step,omitempty"`
	Answer      any              `json:"answer,omitempty"`
	Answers     map[string]any   `json:"answers,omitempty"`
	StepHistory []domain.StepRef `json:"step_history,omitempty"`
	MimeType    string           `json:"mime_type,omitempty"`
	Data        string           `json:"data,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Frame types. Content frames have no type; they carry mime_type and data.
const (
	FrameHandshake  = "handshake"
	FrameAnswer     = "answer"
	FrameSyncState  = "sync_state"
	FrameNavigation = "navigation"
	FrameError      = "error"
)

// AgentPeer is the connection to the generative voice agent. The agent itself
// is an opaque external peer: survey frames go in, media and state reports
// come back on Frames.
type AgentPeer interface {
	// Send forwards a frame to the agent.
	Send(ctx context.Context, f Frame) error
	// Frames returns the stream of frames produced by the agent. The channel
	// closes when the peer shuts down.
	Frames() <-chan Frame
	// Close releases the peer.
	Close() error
}

// AgentDialer produces an AgentPeer for a session.
type AgentDialer func(ctx context.Context, sessionID string) (AgentPeer, error)

// NopAgent is an AgentPeer that discards everything. Used when no agent
// endpoint is configured; the WebSocket then serves state sync only.
type NopAgent struct {
	frames chan Frame
}

// NewNopAgent creates a NopAgent.
func NewNopAgent() *NopAgent {
	return &NopAgent{frames: make(chan Frame)}
}

// Send discards the frame.
func (a *NopAgent) Send(ctx context.Context, f Frame) error {
	return nil
}

// Frames returns a channel that never yields.
func (a *NopAgent) Frames() <-chan Frame {
	return a.frames
}

// Close closes the frame channel.
func (a *NopAgent) Close() error {
	close(a.frames)
	return nil
}

// NopDialer returns an AgentDialer that hands out NopAgents.
func NopDialer() AgentDialer {
	return func(ctx context.Context, sessionID string) (AgentPeer, error) {
		return NewNopAgent(), nil
	}
}
