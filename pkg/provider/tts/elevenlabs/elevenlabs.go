// Package elevenlabs implements tts.Provider on top of the ElevenLabs
// streaming WebSocket API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/coder/websocket"

	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	addVoiceEndpoint = "https://api.elevenlabs.io/v1/voices/add"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	cloneVoiceName = "sirine-clone"
)

// defaultSettings rides on the stream open and on the first text fragment.
var defaultSettings = voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the synthesis model, for example "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat selects the PCM variant the socket emits, for example
// "pcm_16000" or "pcm_24000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider synthesizes speech through the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── Wire types ──────────────────────────────────────────────────────────────

// textMessage is one text fragment sent over the synthesis socket. An empty
// Text value is the flush command.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is what ElevenLabs sends back: base64 PCM plus stream status.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// openMessage starts a stream: it authenticates, picks the output format,
// and carries the voice settings for the whole session.
type openMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// ── Streaming synthesis ─────────────────────────────────────────────────────

// SynthesizeStream opens a WebSocket for the given voice, forwards text
// fragments as they arrive, and emits decoded PCM on the returned channel.
// The channel closes when the text channel closes and the tail audio has
// drained, or when ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(voice.ID, p.model), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	if err := p.openStream(ctx, conn); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}

	audioCh := make(chan []byte, 256)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		tailDrained := make(chan struct{})
		go func() {
			defer close(tailDrained)
			p.readAudio(ctx, conn, audioCh)
		}()

		p.writeText(ctx, conn, text)
		<-tailDrained
	}()
	return audioCh, nil
}

// openStream sends the initial frame that authenticates the socket and fixes
// the output format for the session.
func (p *Provider) openStream(ctx context.Context, conn *websocket.Conn) error {
	settings := defaultSettings
	frame, _ := json.Marshal(openMessage{
		// The API rejects an empty first text value, a single space is the
		// documented way to open without synthesizing anything.
		Text:          " ",
		VoiceSettings: &settings,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("elevenlabs: open stream: %w", err)
	}
	return nil
}

// readAudio decodes audio frames off the socket until it closes or ctx ends.
func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, audioCh chan<- []byte) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			return
		}
		pcm, ok := decodeAudioFrame(frame)
		if !ok {
			continue
		}
		select {
		case audioCh <- pcm:
		case <-ctx.Done():
			return
		}
	}
}

// decodeAudioFrame extracts the PCM payload from one socket frame. Frames
// without audio (status updates, malformed JSON) report ok=false.
func decodeAudioFrame(frame []byte) (pcm []byte, ok bool) {
	var resp audioResponse
	if err := json.Unmarshal(frame, &resp); err != nil || resp.Audio == "" {
		return nil, false
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, false
	}
	return pcm, true
}

// writeText forwards text fragments until the channel closes, then sends the
// flush command so ElevenLabs synthesizes whatever it has buffered.
func (p *Provider) writeText(ctx context.Context, conn *websocket.Conn, text <-chan string) {
	// Voice settings ride on the first fragment only.
	settings := &voiceSettings{Stability: defaultSettings.Stability, SimilarityBoost: defaultSettings.SimilarityBoost}
	for {
		select {
		case sentence, ok := <-text:
			if !ok {
				flush, _ := buildWSMessage("", nil)
				_ = conn.Write(ctx, websocket.MessageText, flush)
				return
			}
			if sentence == "" {
				continue
			}
			frame, _ := buildWSMessage(sentence, settings)
			settings = nil
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ── Voice catalogue ─────────────────────────────────────────────────────────

type voicesResponse struct {
	Voices []voiceEntry `json:"voices"`
}

type voiceEntry struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns the voices available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: fetch voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: voices endpoint answered HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read voices response: %w", err)
	}
	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices response: %w", err)
	}
	return profiles, nil
}

// CloneVoice uploads audio samples to the instant-cloning endpoint and
// returns the resulting voice profile. Samples must be in a format the API
// accepts (WAV or MP3).
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	if len(samples) == 0 {
		return nil, errors.New("elevenlabs: CloneVoice needs at least one sample")
	}

	req, err := p.buildCloneRequest(ctx, samples)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: clone upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: clone endpoint answered HTTP %d", resp.StatusCode)
	}

	var created struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode clone response: %w", err)
	}
	return &tts.VoiceProfile{
		ID:       created.VoiceID,
		Name:     cloneVoiceName,
		Provider: "elevenlabs",
	}, nil
}

// buildCloneRequest assembles the multipart POST for /v1/voices/add: a name
// field plus one file part per sample.
func (p *Provider) buildCloneRequest(ctx context.Context, samples [][]byte) (*http.Request, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("name", cloneVoiceName); err != nil {
		return nil, fmt.Errorf("elevenlabs: clone name field: %w", err)
	}
	for i, sample := range samples {
		part, err := form.CreateFormFile("files", fmt.Sprintf("sample-%d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: clone sample part: %w", err)
		}
		if _, err := part.Write(sample); err != nil {
			return nil, fmt.Errorf("elevenlabs: clone sample payload: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: finalize clone body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addVoiceEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build clone request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// buildWSMessage encodes one text fragment for the synthesis socket.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice builds the stream-input URL for a voice and model pair.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// parseVoicesResponse maps a /v1/voices body onto VoiceProfile values. The
// category joins the label map so callers see one flat metadata set.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var payload voicesResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	profiles := make([]tts.VoiceProfile, 0, len(payload.Voices))
	for _, entry := range payload.Voices {
		labels := make(map[string]string, len(entry.Labels)+1)
		for k, v := range entry.Labels {
			labels[k] = v
		}
		if entry.Category != "" {
			labels["category"] = entry.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       entry.VoiceID,
			Name:     entry.Name,
			Provider: "elevenlabs",
			Metadata: labels,
		})
	}
	return profiles, nil
}
