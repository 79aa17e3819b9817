// Package mock provides a test double for tts.Provider.
//
// Configure the response fields, run the code under test, then inspect the
// recorded calls:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

// Provider is a scriptable tts.Provider. Configure before use, then treat
// as read-only while the code under test runs.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks are emitted in order on the SynthesizeStream audio
	// channel, which is then closed.
	SynthesizeChunks [][]byte

	// SynthesizeErr makes SynthesizeStream fail without opening a channel.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	// CloneVoiceResult and CloneVoiceErr are returned by CloneVoice.
	CloneVoiceResult *tts.VoiceProfile
	CloneVoiceErr    error

	// SynthesizeStreamCalls records the voice of each SynthesizeStream call.
	SynthesizeStreamCalls []tts.VoiceProfile

	// ListVoicesCalls records the context of each ListVoices call.
	ListVoicesCalls []context.Context

	// CloneVoiceCalls records a copy of the samples from each CloneVoice
	// call.
	CloneVoiceCalls [][][]byte
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream emits SynthesizeChunks and closes the channel. The text
// channel is drained in the background so the caller's writer never blocks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, voice)
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		go func() {
			for range text {
			}
		}()
		for _, audio := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ctx)
	return p.ListVoicesResult, p.ListVoicesErr
}

func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([][]byte, len(samples))
	copy(cp, samples)
	p.CloneVoiceCalls = append(p.CloneVoiceCalls, cp)
	return p.CloneVoiceResult, p.CloneVoiceErr
}
