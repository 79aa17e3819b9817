package resilience

import (
	"errors"
	"testing"
	"time"
)

// llmGroup builds a group with "openai" as primary and "groq" as fallback,
// mirroring how the answer pipeline chains its LLM providers.
func llmGroup(maxFailures int, reset time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("openai", "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: reset},
	})
	fg.AddFallback("groq", "groq")
	return fg
}

// ── Execute ─────────────────────────────────────────────────────────────────

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled string
		wantErr    error
	}{
		{
			name:       "primary healthy",
			failing:    map[string]bool{},
			wantCalled: "openai",
		},
		{
			name:       "primary down, fallback answers",
			failing:    map[string]bool{"openai": true},
			wantCalled: "groq",
		},
		{
			name:    "every provider down",
			failing: map[string]bool{"openai": true, "groq": true},
			wantErr: ErrAllFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := llmGroup(3, 0)

			var called string
			err := fg.Execute(func(provider string) error {
				if tt.failing[provider] {
					return errBackend
				}
				called = provider
				return nil
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.wantCalled {
				t.Fatalf("called = %q, want %q", called, tt.wantCalled)
			}
		})
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := llmGroup(2, time.Hour)

	// Trip the primary's breaker.
	for range 2 {
		_ = fg.Execute(func(provider string) error {
			if provider == "openai" {
				return errBackend
			}
			return nil
		})
	}

	// With the primary's circuit open, calls route straight to the fallback.
	var called string
	err := fg.Execute(func(provider string) error {
		called = provider
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "groq" {
		t.Fatalf("called = %q, want the fallback while the primary circuit is open", called)
	}
}

// ── ExecuteWithResult ───────────────────────────────────────────────────────

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name    string
		failing map[string]bool
		want    string
		wantErr error
	}{
		{
			name:    "primary transcribes",
			failing: map[string]bool{},
			want:    "transcript from deepgram",
		},
		{
			name:    "failover to whisper",
			failing: map[string]bool{"deepgram": true},
			want:    "transcript from whisper",
		},
		{
			name:    "both providers down",
			failing: map[string]bool{"deepgram": true, "whisper": true},
			wantErr: ErrAllFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fg.AddFallback("whisper", "whisper")

			got, err := ExecuteWithResult(fg, func(provider string) (string, error) {
				if tt.failing[provider] {
					return "", errBackend
				}
				return "transcript from " + provider, nil
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("result = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecuteWithResult_NoFallbacks(t *testing.T) {
	fg := NewFallbackGroup("deepgram", "deepgram", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
