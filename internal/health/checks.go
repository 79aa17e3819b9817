package health

import (
	"context"
	"errors"
)

// Pinger is implemented by stores that can probe their backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a readiness checker for the durable state store. A nil
// pinger (in-memory store) always passes.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			if p == nil {
				return nil
			}
			return p.Ping(ctx)
		},
	}
}

// SessionFree reports readiness to accept a new voice session. busy reports
// whether a session is currently live or connecting.
//
// The engine drives exactly one conversation at a time, so a busy session
// surface means a new widget connection would be refused.
func SessionFree(busy func() (isLive, isConnecting bool)) Checker {
	return Checker{
		Name: "session",
		Check: func(_ context.Context) error {
			if isLive, isConnecting := busy(); isLive || isConnecting {
				return errors.New("voice session in progress")
			}
			return nil
		},
	}
}
