// Package mock provides test doubles for stt.Provider and stt.SessionHandle.
//
// Tests construct a Session with the transcript channels they control, hand
// it to a Provider, and drive the consumer by sending on FinalsCh or
// PartialsCh. Recorded calls expose what the consumer did.
package mock

import (
	"context"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/stt"
)

// StartStreamCall holds the arguments of one Provider.StartStream call.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scriptable stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is handed back from StartStream. When nil a fresh Session
	// with buffered channels is created per call.
	Session stt.SessionHandle

	// StartStreamErr makes StartStream fail.
	StartStreamErr error

	// StartStreamCalls records every StartStream invocation in order.
	StartStreamCalls []StartStreamCall
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}, nil
}

// Session is a scriptable stt.SessionHandle. The test owns PartialsCh and
// FinalsCh: it sends the transcripts the consumer should see and closes the
// channels to signal end of stream.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// Errors returned by the corresponding methods, nil for success.
	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	// SentAudio holds a copy of every chunk passed to SendAudio.
	SentAudio [][]byte

	// Keywords holds the last list passed to SetKeywords.
	Keywords []stt.KeywordBoost

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

var _ stt.SessionHandle = (*Session)(nil)

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript {
	return s.PartialsCh
}

func (s *Session) Finals() <-chan stt.Transcript {
	return s.FinalsCh
}

func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keywords = append([]stt.KeywordBoost(nil), keywords...)
	return s.SetKeywordsErr
}

// SentAudioCount returns how many chunks SendAudio received. Safe to call
// while the consumer is still streaming.
func (s *Session) SentAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
