package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/pkg/audio"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

// fallbackAnswerMissing is spoken when the LLM returns an empty completion.
const fallbackAnswerMissing = "Désolée, je n'ai pas compris."

// fallbackOutputRate is the PCM rate produced by the TTS stage.
const fallbackOutputRate = 24000

// speechLevelFloor is the input level above which a capture frame counts as
// user speech. Used only for the STT latency measurement, so it sits well
// below the barge-in threshold.
const speechLevelFloor = 0.05

// FallbackConfig tunes the hybrid pipeline.
type FallbackConfig struct {
	// Instructions is the system prompt given to the LLM stage.
	Instructions string

	// Voice selects the TTS voice.
	Voice tts.VoiceProfile

	// Language is the BCP-47 recognition language for the STT stage.
	Language string

	// CaptureRate is the input sample rate. Defaults to 16000.
	CaptureRate int
}

// FallbackOption configures a [FallbackPipeline].
type FallbackOption func(*FallbackPipeline)

// WithFallbackLogger sets the pipeline's logger.
func WithFallbackLogger(log *slog.Logger) FallbackOption {
	return func(p *FallbackPipeline) {
		p.log = log
	}
}

// WithFallbackMetrics attaches metric instruments.
func WithFallbackMetrics(m *observe.Metrics) FallbackOption {
	return func(p *FallbackPipeline) {
		p.metrics = m
	}
}

// FallbackPipeline is the hybrid voice mode used when the live model is
// unavailable: streaming STT produces final transcripts, a text LLM answers
// them, and TTS synthesis feeds the playback scheduler. No tool calling and
// no barge-in; the trade is availability over interactivity.
//
// All exported methods are safe for concurrent use.
type FallbackPipeline struct {
	store   store.StateStore
	sttP    stt.Provider
	llmP    llm.Provider
	ttsP    tts.Provider
	capture audio.CaptureSource
	sched   *PlaybackScheduler
	cfg     FallbackConfig
	log     *slog.Logger
	metrics *observe.Metrics

	// lastVoice is the unix-nano time of the most recent capture frame
	// above the speech floor, read by the answer loop to derive the
	// end-of-speech to final-transcript latency.
	lastVoice atomic.Int64

	mu        sync.Mutex
	running   bool
	session   stt.SessionHandle
	sessionID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFallbackPipeline wires the hybrid pipeline. The scheduler's drain
// handling is taken over so the UI returns to idle when speech finishes.
func NewFallbackPipeline(st store.StateStore, sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, capture audio.CaptureSource, sched *PlaybackScheduler, cfg FallbackConfig, opts ...FallbackOption) *FallbackPipeline {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = 16000
	}
	if cfg.Language == "" {
		cfg.Language = "fr-FR"
	}

	p := &FallbackPipeline{
		store:   st,
		sttP:    sttP,
		llmP:    llmP,
		ttsP:    ttsP,
		capture: capture,
		sched:   sched,
		cfg:     cfg,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	sched.onDrained = func() {
		st.SetMode(store.ModeIdle)
		st.SetAudioLevel(0)
	}
	return p
}

// Start opens the STT stream and begins the recognise, answer, speak loop.
func (p *FallbackPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	p.store.AddLog(store.LogInfo, "Mode Hybride ElevenLabs activé.")
	p.store.SetLiveState(false, true)
	p.store.IncrementSessions()

	sess, err := p.sttP.StartStream(ctx, stt.StreamConfig{
		SampleRate: p.cfg.CaptureRate,
		Channels:   1,
		Language:   p.cfg.Language,
	})
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		p.store.SetLiveState(false, false)
		p.store.AddLog(store.LogError, "Erreur critique de la session Live API.")
		return fmt.Errorf("voice: stt stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sessionID := p.store.StartSession(store.ActiveSession{
		CurrentMode:  store.ModeIdle,
		IsConnected:  true,
		UserLanguage: p.cfg.Language,
	})

	p.mu.Lock()
	p.session = sess
	p.sessionID = sessionID
	p.cancel = cancel
	p.mu.Unlock()

	p.store.SetLiveState(true, false)
	p.store.SetMode(store.ModeIdle)

	p.wg.Go(func() { p.forwardCapture(sess) })
	p.wg.Go(func() { p.answerLoop(runCtx, sess, sessionID) })

	return nil
}

// Stop tears the pipeline down. Safe to call when nothing is running.
func (p *FallbackPipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	sess := p.session
	sessionID := p.sessionID
	cancel := p.cancel
	p.session = nil
	p.sessionID = ""
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	// Closing the capture source ends its frame stream, which releases the
	// forwarding goroutine.
	_ = p.capture.Close()
	p.sched.StopAll()
	p.wg.Wait()

	if sessionID != "" {
		p.store.EndSession(sessionID)
	}
	p.store.SetLiveState(false, false)
	p.store.SetMode(store.ModeIdle)
	p.store.SetAudioLevel(0)
	p.log.Info("fallback pipeline stopped")
}

// forwardCapture streams microphone frames to the STT session and drives the
// input level meter. Frames are normalized to the pipeline's capture rate
// before upload so the STT stream always sees mono PCM at the rate it opened
// with.
func (p *FallbackPipeline) forwardCapture(sess stt.SessionHandle) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: p.cfg.CaptureRate, Channels: 1}}
	for frame := range p.capture.Frames() {
		level := audio.FrameLevel(frame)
		if level >= speechLevelFloor {
			p.lastVoice.Store(time.Now().UnixNano())
		}
		if p.store.Mode() != store.ModeTalking {
			p.store.SetAudioLevel(level)
		}
		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		if err := sess.SendAudio(frame.Data); err != nil {
			return
		}
	}
}

// answerLoop consumes final transcripts and runs each one through the LLM
// and TTS stages. Finals are handled one at a time; the STT provider buffers
// anything said while an answer is being produced.
func (p *FallbackPipeline) answerLoop(ctx context.Context, sess stt.SessionHandle, sessionID string) {
	for final := range sess.Finals() {
		text := final.Text
		if text == "" {
			continue
		}
		p.store.SetTranscription(store.TranscriptUser, text)
		if spoke := p.lastVoice.Load(); spoke != 0 {
			p.recordSTT(ctx, time.Since(time.Unix(0, spoke)))
		}
		p.store.SetMode(store.ModeThinking)
		p.store.IncrementRequests()
		p.store.UpdateSession(sessionID, func(s *store.ActiveSession) {
			s.RequestsCount++
			s.Transcription = p.store.Transcription()
		})

		answer := p.complete(ctx, text)
		p.store.SetTranscription(store.TranscriptAI, answer)

		p.store.SetMode(store.ModeTalking)
		if err := p.speak(ctx, answer); err != nil {
			if !errors.Is(err, context.Canceled) {
				p.log.Error("tts synthesis failed", "err", err)
				p.store.AddLog(store.LogError, "Échec de la synthèse vocale ElevenLabs.")
			}
			p.store.SetMode(store.ModeIdle)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// complete asks the text LLM for an answer. Failures degrade to a spoken
// apology rather than killing the session.
func (p *FallbackPipeline) complete(ctx context.Context, userText string) string {
	start := time.Now()
	resp, err := p.llmP.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.cfg.Instructions,
		Messages:     []llm.Message{{Role: "user", Content: userText}},
	})
	p.recordLLM(ctx, time.Since(start))
	if err != nil {
		p.log.Error("fallback completion failed", "err", err)
		return fallbackAnswerMissing
	}
	if resp == nil || resp.Content == "" {
		return fallbackAnswerMissing
	}
	return resp.Content
}

// speak synthesises answer and feeds the chunks to the playback scheduler.
// It returns once the TTS stream is fully consumed; playback continues on
// the scheduler's timeline.
func (p *FallbackPipeline) speak(ctx context.Context, answer string) error {
	textCh := make(chan string, 1)
	textCh <- answer
	close(textCh)

	start := time.Now()
	audioCh, err := p.ttsP.SynthesizeStream(ctx, textCh, p.cfg.Voice)
	if err != nil {
		return err
	}

	got := false
	for chunk := range audioCh {
		buf, decErr := audio.DecodeAudioBuffer(chunk, fallbackOutputRate, 1)
		if decErr != nil {
			p.log.Warn("undecodable tts chunk", "err", decErr)
			continue
		}
		got = true
		p.store.SetAudioLevel(audio.Level(buf.Samples))
		p.sched.Enqueue(*buf)
	}
	p.recordTTS(ctx, time.Since(start))

	if !got {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("voice: tts produced no audio")
	}
	return nil
}

func (p *FallbackPipeline) recordSTT(ctx context.Context, d time.Duration) {
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, d.Seconds())
	}
}

func (p *FallbackPipeline) recordLLM(ctx context.Context, d time.Duration) {
	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, d.Seconds())
	}
}

func (p *FallbackPipeline) recordTTS(ctx context.Context, d time.Duration) {
	if p.metrics != nil {
		p.metrics.TTSDuration.Record(ctx, d.Seconds())
	}
}
