package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sirine-ai/sirine/internal/store"
)

// stateResponse is the JSON body of GET /v1/state. It mirrors what a voice
// widget needs to render: session phase, levels, and usage counters.
type stateResponse struct {
	Mode         store.Mode `json:"mode"`
	IsLive       bool       `json:"is_live"`
	IsConnecting bool       `json:"is_connecting"`
	MicMuted     bool       `json:"mic_muted"`
	AudioLevel   float64    `json:"audio_level"`
	UserText     string     `json:"user_text,omitempty"`
	AIText       string     `json:"ai_text,omitempty"`
	Requests     int        `json:"requests_today"`
	Sessions     int        `json:"total_sessions"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// registerControlRoutes mounts the session control API.
func (a *App) registerControlRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("POST /v1/session/start", a.handleSessionStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /v1/session/mute", a.handleSessionMute)
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	isLive, isConnecting := a.store.LiveState()
	tr := a.store.Transcription()
	usage := a.store.Usage()

	writeJSON(w, http.StatusOK, stateResponse{
		Mode:         a.store.Mode(),
		IsLive:       isLive,
		IsConnecting: isConnecting,
		MicMuted:     a.store.MicMuted(),
		AudioLevel:   a.store.AudioLevel(),
		UserText:     tr.User,
		AIText:       tr.AI,
		Requests:     usage.RequestsToday,
		Sessions:     usage.TotalSessions,
	})
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (a *App) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	a.sessions.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *App) handleSessionMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.sessions.SetInputMute(req.Muted)
	writeJSON(w, http.StatusOK, map[string]bool{"muted": req.Muted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
