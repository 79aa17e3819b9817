package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/sirine-ai/sirine/pkg/provider/stt"
)

// ── Listen URL ──

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "fr",
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		"model":           "nova-3",
		"language":        "fr",
		"punctuate":       "true",
		"interim_results": "true",
		"sample_rate":     "16000",
		"channels":        "1",
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}

func TestBuildURL_ProviderOptions(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("ar-TN"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	if got := q.Get("model"); got != "base" {
		t.Errorf("model = %q, want base", got)
	}
	if got := q.Get("language"); got != "ar-TN" {
		t.Errorf("language = %q, want ar-TN", got)
	}
	if got := q.Get("sample_rate"); got != "48000" {
		t.Errorf("sample_rate = %q, want 48000", got)
	}
}

func TestBuildURL_StreamConfigWinsOverOptions(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if got := u.Query().Get("language"); got != "fr-FR" {
		t.Errorf("language = %q, want fr-FR", got)
	}
}

func TestBuildURL_Keywords(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{
		SampleRate: 16000,
		Keywords: []stt.KeywordBoost{
			{Keyword: "Marzocco", Boost: 5},
			{Keyword: "Rocket", Boost: 3.5},
		},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("keywords = %v, want 2 entries", kws)
	}

	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["Marzocco:5"] || !found["Rocket:3.5"] {
		t.Errorf("keywords = %v, want Marzocco:5 and Rocket:3.5", kws)
	}
}

func TestBuildURL_NoKeywordsParamWhenEmpty(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("keywords param present, want absent")
	}
}

// ── Results parsing ──

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Bonjour madame",
				"confidence": 0.95,
				"words": [
					{"word": "Bonjour", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "madame", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("parseDeepgramResponse returned ok=false for a Results message")
	}

	if !tr.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if tr.Text != "Bonjour madame" {
		t.Errorf("Text = %q, want %q", tr.Text, "Bonjour madame")
	}
	if tr.Confidence != 0.95 {
		t.Errorf("Confidence = %f, want 0.95", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Fatalf("Words = %d, want 2", len(tr.Words))
	}
	if tr.Words[0].Word != "Bonjour" {
		t.Errorf("Words[0] = %q, want Bonjour", tr.Words[0].Word)
	}
	if want := time.Duration(0.1 * float64(time.Second)); tr.Words[0].Start != want {
		t.Errorf("Words[0].Start = %v, want %v", tr.Words[0].Start, want)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "Bonjour",
				"confidence": 0.7,
				"words": []
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("parseDeepgramResponse returned ok=false")
	}
	if tr.IsFinal {
		t.Error("IsFinal = true, want false for an interim result")
	}
	if tr.Text != "Bonjour" {
		t.Errorf("Text = %q, want Bonjour", tr.Text)
	}
}

func TestParseDeepgramResponse_Rejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata message", `{"type":"Metadata","request_id":"abc"}`},
		{"empty alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{"invalid json", `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(tt.raw)); ok {
				t.Error("ok = true, want false")
			}
		})
	}
}

// ── Constructor ──

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	if p.language != defaultLanguage {
		t.Errorf("language = %q, want %q", p.language, defaultLanguage)
	}
	if p.sampleRate != defaultSampleRate {
		t.Errorf("sampleRate = %d, want %d", p.sampleRate, defaultSampleRate)
	}
}
