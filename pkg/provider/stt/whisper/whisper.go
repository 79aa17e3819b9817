// Package whisper implements stt.Provider against a local whisper.cpp
// server (the whisper-server binary and its POST /inference endpoint).
//
// whisper.cpp transcribes in batch, so the provider fakes a stream: it
// buffers incoming PCM, segments utterances with an RMS silence detector,
// and submits each completed utterance as one inference request. True
// low-latency partials are impossible here; each utterance yields a partial
// and a final carrying the same text, which is enough to drive the widget's
// activity indicator while the Finals channel feeds the answer pipeline.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/sirine-ai/sirine/pkg/provider/stt"
)

const (
	// rmsFloor is the RMS energy (in 16-bit PCM units, max 32767) below
	// which a chunk counts as silence. 300 is near-silence on most mics.
	rmsFloor = 300.0

	defaultLanguage            = "fr"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

var errSessionClosed = errors.New("whisper: session is closed")


// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base", "small"). Empty means whatever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent with each inference request
// (e.g., "fr", "en"). Defaults to "fr".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the expected PCM sample rate in Hz. It must match the
// audio handed to SendAudio since silence windows are derived from it.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets how much consecutive silence ends an
// utterance and triggers a flush to the server. Shorter values respond
// faster but may split sentences. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs caps how much audio may accumulate before a flush
// is forced regardless of silence, bounding memory during continuous
// speech. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxBufferDurationMs = ms
	}
}

// Provider talks to one whisper.cpp server. Sessions are independent; each
// owns its buffer and goroutine, so several may run at once.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New returns a Provider for the whisper.cpp server at serverURL (e.g.,
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           serverURL,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session that accepts audio immediately.
// cfg.SampleRate, cfg.Channels, and cfg.Language override the provider
// defaults when set. No network traffic happens until the first flush.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		serverURL:           p.serverURL,
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,
		httpClient:          p.httpClient,

		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.segmentLoop(ctx)

	return s, nil
}

// session implements stt.SessionHandle. All buffering and silence state is
// confined to the segmentLoop goroutine, so nothing here needs a mutex.
type session struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk of 16-bit little-endian PCM for segmentation.
// The chunk must match the sample rate and channel count agreed at
// StartStream. Returns an error once the session is closed.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Partials emits interim transcripts. With whisper.cpp each partial arrives
// together with its final and carries the same text. Closed when the
// session ends.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals emits authoritative transcripts. Closed when the session ends.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords always fails; whisper.cpp cannot boost keywords. The session
// stays usable afterwards.
func (s *session) SetKeywords(_ []stt.KeywordBoost) error {
	return fmt.Errorf("whisper: keyword boosting: %w", stt.ErrNotSupported)
}

// Close flushes any buffered speech for one last transcription, closes both
// transcript channels, and releases the session. Safe to call twice.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// segmentLoop owns the utterance buffer: it classifies each chunk by RMS
// energy, accumulates speech, and flushes to the server when enough silence
// follows or the buffer hits its size cap.
func (s *session) segmentLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		utterance []byte
		voiced    bool // at least one speech chunk buffered
		silenceMs int  // silence accumulated since the last speech chunk
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono 16-bit
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	// flush submits the utterance and resets state whether or not the
	// request succeeded.
	flush := func(flushCtx context.Context) {
		if len(utterance) == 0 || !voiced {
			utterance = nil
			voiced = false
			silenceMs = 0
			return
		}

		pcm := utterance
		utterance = nil
		voiced = false
		silenceMs = 0

		text, err := s.infer(flushCtx, pcm)
		if err != nil || text == "" {
			return
		}

		// Both channels are buffered; skip rather than block if a reader
		// stopped draining during shutdown.
		select {
		case s.partials <- stt.Transcript{Text: text, IsFinal: false}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
	}

	// finalFlush runs on shutdown with its own deadline since the caller's
	// ctx may already be cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return

		case <-s.done:
			finalFlush()
			return

		case chunk, ok := <-s.audioCh:
			if !ok {
				finalFlush()
				return
			}

			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < rmsFloor {
				// Leading silence is discarded; trailing silence counts
				// toward the utterance boundary.
				if voiced {
					silenceMs += chunkMs
					utterance = append(utterance, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						flush(ctx)
					}
				}
			} else {
				voiced = true
				silenceMs = 0
				utterance = append(utterance, chunk...)
				if maxBufferBytes > 0 && len(utterance) >= maxBufferBytes {
					flush(ctx)
				}
			}
		}
	}
}

// infer wraps pcm in a WAV container, POSTs it to /inference, and returns
// the transcribed text.
func (s *session) infer(ctx context.Context, pcm []byte) (string, error) {
	req, err := s.buildInferenceRequest(ctx, pcm)
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server answered HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read inference response: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("whisper: decode inference response: %w", err)
	}
	return result.Text, nil
}

// buildInferenceRequest assembles the multipart POST the whisper.cpp server
// expects: a WAV file part plus optional language and model fields.
func (s *session) buildInferenceRequest(ctx context.Context, pcm []byte) (*http.Request, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: multipart file part: %w", err)
	}
	if _, err := part.Write(encodeWAV(pcm, s.sampleRate, s.channels)); err != nil {
		return nil, fmt.Errorf("whisper: multipart wav payload: %w", err)
	}

	fields := map[string]string{"language": s.language, "model": s.model}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("whisper: multipart field %s: %w", name, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("whisper: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &buf)
	if err != nil {
		return nil, fmt.Errorf("whisper: build inference request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req, nil
}
