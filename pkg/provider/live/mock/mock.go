// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to script the server event stream and inspect what the
// orchestrator sent back.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.AudioChunkEvent{PCM: pcm, SampleRate: 24000})
package mock

import (
	"context"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectGate, if non-nil, is received from before Connect returns.
	// Tests close it to let a held Connect proceed.
	ConnectGate <-chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call, waits on ConnectGate when one is set, and
// returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.ConnectGate
	err := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Connects returns the number of recorded Connect calls. Thread-safe.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

var _ live.Provider = (*Provider)(nil)

// ToolResult records a single SendToolResult invocation.
type ToolResult struct {
	ID     string
	Name   string
	Result string
}

// Session is a scripted implementation of live.SessionHandle. Tests feed
// events with Emit and inspect SentAudio/ToolResults/Interrupts afterwards.
type Session struct {
	mu sync.Mutex

	events    chan live.Event
	closed    bool
	closeOnce sync.Once

	// ErrVal is returned by Err.
	ErrVal error

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	// ToolResults records every SendToolResult call in order.
	ToolResults []ToolResult

	// Interrupts counts SendInterrupt calls.
	Interrupts int
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 64)}
}

// Emit scripts a server event. Panics if called after CloseEvents.
func (s *Session) Emit(ev live.Event) { s.events <- ev }

// CloseEvents ends the scripted stream the way a real session does: a final
// ClosedEvent followed by channel close.
func (s *Session) CloseEvents() {
	s.closeOnce.Do(func() {
		s.events <- live.ClosedEvent{}
		close(s.events)
	})
}

// SendAudio implements live.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

// SendToolResult implements live.SessionHandle.
func (s *Session) SendToolResult(id, name, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	s.ToolResults = append(s.ToolResults, ToolResult{ID: id, Name: name, Result: result})
	return nil
}

// SendInterrupt implements live.SessionHandle.
func (s *Session) SendInterrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	s.Interrupts++
	return nil
}

// Events implements live.SessionHandle.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err implements live.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// Close implements live.SessionHandle. Marks the session closed and ends the
// event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CloseEvents()
	return nil
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// AudioChunks returns a snapshot count of SendAudio calls. Thread-safe.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}

// SentAudioChunks returns a snapshot of recorded audio chunks. Thread-safe.
func (s *Session) SentAudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentAudio))
	copy(out, s.SentAudio)
	return out
}

// SentToolResults returns a snapshot of recorded tool results. Thread-safe.
func (s *Session) SentToolResults() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResult, len(s.ToolResults))
	copy(out, s.ToolResults)
	return out
}

// InterruptCount returns the number of SendInterrupt calls. Thread-safe.
func (s *Session) InterruptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Interrupts
}

var _ live.SessionHandle = (*Session)(nil)
