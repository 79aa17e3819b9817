// Package store holds the application state behind a voice session: sales
// leads, the manager's todo list, the event log, generated marketing images,
// usage counters, active session records, and the settings KV.
//
// The [StateStore] interface is the boundary between the engine and whatever
// surface observes it (a dashboard, a widget host, tests). [MemStore] is the
// canonical in-memory implementation; the postgres subpackage persists the
// durable records and embeds a MemStore for the volatile session state.
package store

import "time"

// Mode is the assistant's visible state, driving avatar/video selection on
// the consuming surface.
type Mode string

const (
	ModeIntro    Mode = "INTRO"
	ModeIdle     Mode = "IDLE"
	ModeTalking  Mode = "TALKING"
	ModeThinking Mode = "THINKING"
)

// IsValid reports whether m is one of the defined modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeIntro, ModeIdle, ModeTalking, ModeThinking:
		return true
	}
	return false
}

// LogType classifies entries in the event log.
type LogType string

const (
	LogInfo  LogType = "info"
	LogError LogType = "error"
	LogUser  LogType = "user"
	LogAI    LogType = "ai"
)

// LogEntry is one line in the dashboard event log.
type LogEntry struct {
	Timestamp time.Time
	Type      LogType
	Message   string
}

// LeadPriority is the urgency of a sales lead.
type LeadPriority string

const (
	PriorityNormal LeadPriority = "normal"
	PriorityUrgent LeadPriority = "urgent"
)

// SalesLead is a captured prospect record.
type SalesLead struct {
	ID                 string
	CustomerName       string
	CustomerPhone      string
	InterestedProducts string
	Summary            string
	Timestamp          time.Time
	Priority           LeadPriority
	Processed          bool
	Notes              string
}

// TodoPriority is the priority of a manager todo task.
type TodoPriority string

const (
	TodoLow    TodoPriority = "low"
	TodoMedium TodoPriority = "medium"
	TodoHigh   TodoPriority = "high"
)

// TodoTask is one entry on the manager's action list.
type TodoTask struct {
	ID        string
	Text      string
	Completed bool
	Priority  TodoPriority
	Timestamp time.Time
}

// GeneratedImage is the metadata of a marketing poster produced by the
// image tool. URL is either a remote location or a data URI.
type GeneratedImage struct {
	ID        string
	URL       string
	Prompt    string
	Timestamp time.Time
}

// GroundingSource is a web source the model grounded a response on.
type GroundingSource struct {
	URI   string
	Title string
}

// TranscriptionPair is the latest recognised text for both sides of the
// conversation.
type TranscriptionPair struct {
	User string
	AI   string
}

// ActiveSession is the record of one voice session, live or recently ended.
type ActiveSession struct {
	ID            string
	StartTime     time.Time
	CurrentMode   Mode
	Transcription TranscriptionPair
	AudioLevel    float64
	IsConnected   bool
	Duration      time.Duration
	RequestsCount int
	LastActivity  time.Time
	UserLanguage  string
}

// UsageStats tracks API consumption. RequestsToday resets when the date
// changes.
type UsageStats struct {
	Date          string // YYYY-MM-DD
	RequestsToday int
	TotalSessions int
}

// Settings keys used by the engine. The KV is free-form; these are the keys
// the engine itself reads.
const (
	SettingSystemInstruction = "system_instruction"
	SettingSelectedVoice     = "selected_voice"
	SettingCatalog           = "catalog"
	SettingMaintenanceMode   = "maintenance_mode"
	SettingMaintenanceMsg    = "maintenance_message"
)

// StateStore is the full state surface of the engine.
//
// Implementations must be safe for concurrent use: the orchestrator's event
// loop, the barge-in ticker, and the capture goroutine all write through it.
type StateStore interface {
	// ── Assistant state ──

	SetMode(m Mode)
	Mode() Mode
	SetTranscription(source TranscriptSource, text string)
	Transcription() TranscriptionPair
	ClearTranscription()
	SetAudioLevel(level float64)
	AudioLevel() float64
	SetLiveState(isLive, isConnecting bool)
	LiveState() (isLive, isConnecting bool)
	SetMicMuted(muted bool)
	MicMuted() bool
	SetGroundingSources(sources []GroundingSource)
	GroundingSources() []GroundingSource

	// ── Event log ──

	AddLog(t LogType, message string)
	Logs() []LogEntry
	ClearLogs()

	// ── Sales leads ──

	// AddLead assigns ID, timestamp, and defaults (priority normal,
	// processed false) to zero-valued fields and stores the lead.
	AddLead(lead SalesLead) SalesLead
	MarkLeadProcessed(id string) bool
	RemoveLead(id string) bool
	Leads() []SalesLead
	// ExportLeadsCSV renders all leads as a CSV document.
	ExportLeadsCSV() string
	// TriggerReportToast signals the surface that a new lead arrived.
	TriggerReportToast()

	// ── Todo list ──

	// AddTodo stores a new task; an empty priority defaults to medium.
	AddTodo(text string, priority TodoPriority) TodoTask
	ToggleTodo(id string) bool
	RemoveTodo(id string) bool
	ClearTodos()
	Todos() []TodoTask

	// ── Generated images ──

	AddGeneratedImage(url, prompt string) GeneratedImage
	RemoveGeneratedImage(id string) bool
	GeneratedImages() []GeneratedImage

	// ── Usage ──

	IncrementRequests()
	IncrementSessions()
	Usage() UsageStats

	// ── Session registry ──

	StartSession(initial ActiveSession) string
	UpdateSession(id string, update func(*ActiveSession))
	EndSession(id string)
	ActiveSessions() []ActiveSession

	// ── Settings KV ──

	SetSetting(key, value string)
	GetSetting(key string) (string, bool)
}

// TranscriptSource selects which half of the transcription pair to update.
type TranscriptSource string

const (
	TranscriptUser TranscriptSource = "user"
	TranscriptAI   TranscriptSource = "ai"
)
