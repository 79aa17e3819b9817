package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLogEntries bounds the in-memory event log.
const maxLogEntries = 200

// Option is a functional option for configuring a MemStore.
type Option func(*MemStore)

// WithNotify registers a change callback. It is invoked after every mutation
// with a topic string ("mode", "leads", "todos", ...) so a surface can
// re-render selectively. The callback runs on the mutating goroutine and
// must not call back into the store.
func WithNotify(fn func(topic string)) Option {
	return func(s *MemStore) { s.notify = fn }
}

// WithToastHandler registers the lead-toast callback.
func WithToastHandler(fn func()) Option {
	return func(s *MemStore) { s.onToast = fn }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *MemStore) { s.now = now }
}

// MemStore is the in-memory StateStore implementation.
type MemStore struct {
	mu sync.RWMutex

	mode          Mode
	transcription TranscriptionPair
	audioLevel    float64
	isLive        bool
	isConnecting  bool
	micMuted      bool
	grounding     []GroundingSource

	logs     []LogEntry
	leads    []SalesLead
	todos    []TodoTask
	images   []GeneratedImage
	usage    UsageStats
	sessions map[string]*ActiveSession
	settings map[string]string

	now     func() time.Time
	notify  func(topic string)
	onToast func()
}

// NewMemStore returns an empty MemStore in mode INTRO, matching the initial
// state of a freshly loaded surface.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		mode:     ModeIntro,
		sessions: make(map[string]*ActiveSession),
		settings: make(map[string]string),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ StateStore = (*MemStore)(nil)

func (s *MemStore) changed(topic string) {
	if s.notify != nil {
		s.notify(topic)
	}
}

// ── Assistant state ───────────────────────────────────────────────────────────

func (s *MemStore) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.changed("mode")
}

func (s *MemStore) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *MemStore) SetTranscription(source TranscriptSource, text string) {
	s.mu.Lock()
	switch source {
	case TranscriptUser:
		s.transcription.User = text
	case TranscriptAI:
		s.transcription.AI = text
	}
	s.mu.Unlock()
	s.changed("transcription")
}

func (s *MemStore) Transcription() TranscriptionPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcription
}

func (s *MemStore) ClearTranscription() {
	s.mu.Lock()
	s.transcription = TranscriptionPair{}
	s.mu.Unlock()
	s.changed("transcription")
}

func (s *MemStore) SetAudioLevel(level float64) {
	s.mu.Lock()
	s.audioLevel = level
	s.mu.Unlock()
	s.changed("audioLevel")
}

func (s *MemStore) AudioLevel() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioLevel
}

func (s *MemStore) SetLiveState(isLive, isConnecting bool) {
	s.mu.Lock()
	s.isLive = isLive
	s.isConnecting = isConnecting
	s.mu.Unlock()
	s.changed("liveState")
}

func (s *MemStore) LiveState() (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isLive, s.isConnecting
}

func (s *MemStore) SetMicMuted(muted bool) {
	s.mu.Lock()
	s.micMuted = muted
	s.mu.Unlock()
	s.changed("micMuted")
}

func (s *MemStore) MicMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.micMuted
}

func (s *MemStore) SetGroundingSources(sources []GroundingSource) {
	s.mu.Lock()
	s.grounding = append([]GroundingSource(nil), sources...)
	s.mu.Unlock()
	s.changed("grounding")
}

func (s *MemStore) GroundingSources() []GroundingSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GroundingSource(nil), s.grounding...)
}

// ── Event log ─────────────────────────────────────────────────────────────────

func (s *MemStore) AddLog(t LogType, message string) {
	s.mu.Lock()
	s.logs = append(s.logs, LogEntry{Timestamp: s.now(), Type: t, Message: message})
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
	s.mu.Unlock()
	s.changed("logs")
}

func (s *MemStore) Logs() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

func (s *MemStore) ClearLogs() {
	s.mu.Lock()
	s.logs = nil
	s.mu.Unlock()
	s.changed("logs")
}

// ── Sales leads ───────────────────────────────────────────────────────────────

func (s *MemStore) AddLead(lead SalesLead) SalesLead {
	s.mu.Lock()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Timestamp.IsZero() {
		lead.Timestamp = s.now()
	}
	if lead.Priority == "" {
		lead.Priority = PriorityNormal
	}
	lead.Processed = false
	s.leads = append(s.leads, lead)
	s.mu.Unlock()
	s.changed("leads")
	return lead
}

func (s *MemStore) MarkLeadProcessed(id string) bool {
	s.mu.Lock()
	marked := false
	for i := range s.leads {
		if s.leads[i].ID == id {
			s.leads[i].Processed = true
			marked = true
			break
		}
	}
	s.mu.Unlock()
	if marked {
		s.changed("leads")
	}
	return marked
}

func (s *MemStore) RemoveLead(id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.leads {
		if s.leads[i].ID == id {
			s.leads = append(s.leads[:i], s.leads[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.changed("leads")
	}
	return removed
}

func (s *MemStore) Leads() []SalesLead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SalesLead(nil), s.leads...)
}

func (s *MemStore) ExportLeadsCSV() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	b.WriteString("id,customerName,customerPhone,interestedProducts,summary,priority,processed,timestamp\n")
	for _, l := range s.leads {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s,%t,%s\n",
			csvEscape(l.ID), csvEscape(l.CustomerName), csvEscape(l.CustomerPhone),
			csvEscape(l.InterestedProducts), csvEscape(l.Summary),
			l.Priority, l.Processed, l.Timestamp.Format(time.RFC3339))
	}
	return b.String()
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func (s *MemStore) TriggerReportToast() {
	if s.onToast != nil {
		s.onToast()
	}
	s.changed("toast")
}

// ── Todo list ─────────────────────────────────────────────────────────────────

func (s *MemStore) AddTodo(text string, priority TodoPriority) TodoTask {
	if priority == "" {
		priority = TodoMedium
	}
	task := TodoTask{
		ID:       uuid.NewString(),
		Text:     text,
		Priority: priority,
	}
	s.mu.Lock()
	task.Timestamp = s.now()
	s.todos = append(s.todos, task)
	s.mu.Unlock()
	s.changed("todos")
	return task
}

// PutTodo restores a task with its original identity. Used by persistent
// implementations when hydrating state from disk.
func (s *MemStore) PutTodo(task TodoTask) {
	s.mu.Lock()
	s.todos = append(s.todos, task)
	s.mu.Unlock()
	s.changed("todos")
}

func (s *MemStore) ToggleTodo(id string) bool {
	s.mu.Lock()
	toggled := false
	for i := range s.todos {
		if s.todos[i].ID == id {
			s.todos[i].Completed = !s.todos[i].Completed
			toggled = true
			break
		}
	}
	s.mu.Unlock()
	if toggled {
		s.changed("todos")
	}
	return toggled
}

func (s *MemStore) RemoveTodo(id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.todos {
		if s.todos[i].ID == id {
			s.todos = append(s.todos[:i], s.todos[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.changed("todos")
	}
	return removed
}

func (s *MemStore) ClearTodos() {
	s.mu.Lock()
	s.todos = nil
	s.mu.Unlock()
	s.changed("todos")
}

func (s *MemStore) Todos() []TodoTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TodoTask(nil), s.todos...)
}

// ── Generated images ──────────────────────────────────────────────────────────

func (s *MemStore) AddGeneratedImage(url, prompt string) GeneratedImage {
	img := GeneratedImage{
		ID:     uuid.NewString(),
		URL:    url,
		Prompt: prompt,
	}
	s.mu.Lock()
	img.Timestamp = s.now()
	s.images = append(s.images, img)
	s.mu.Unlock()
	s.changed("images")
	return img
}

func (s *MemStore) RemoveGeneratedImage(id string) bool {
	s.mu.Lock()
	removed := false
	for i := range s.images {
		if s.images[i].ID == id {
			s.images = append(s.images[:i], s.images[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		s.changed("images")
	}
	return removed
}

func (s *MemStore) GeneratedImages() []GeneratedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GeneratedImage(nil), s.images...)
}

// ── Usage ─────────────────────────────────────────────────────────────────────

// rollDateLocked resets the daily counter when the date changes.
func (s *MemStore) rollDateLocked() {
	today := s.now().Format("2006-01-02")
	if s.usage.Date != today {
		s.usage.Date = today
		s.usage.RequestsToday = 0
	}
}

func (s *MemStore) IncrementRequests() {
	s.mu.Lock()
	s.rollDateLocked()
	s.usage.RequestsToday++
	s.mu.Unlock()
	s.changed("usage")
}

func (s *MemStore) IncrementSessions() {
	s.mu.Lock()
	s.rollDateLocked()
	s.usage.TotalSessions++
	s.mu.Unlock()
	s.changed("usage")
}

func (s *MemStore) Usage() UsageStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDateLocked()
	return s.usage
}

// ── Session registry ──────────────────────────────────────────────────────────

func (s *MemStore) StartSession(initial ActiveSession) string {
	s.mu.Lock()
	if initial.ID == "" {
		initial.ID = uuid.NewString()
	}
	if initial.StartTime.IsZero() {
		initial.StartTime = s.now()
	}
	initial.LastActivity = s.now()
	sess := initial
	s.sessions[sess.ID] = &sess
	s.mu.Unlock()
	s.changed("sessions")
	return initial.ID
}

func (s *MemStore) UpdateSession(id string, update func(*ActiveSession)) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		update(sess)
		sess.LastActivity = s.now()
		sess.Duration = sess.LastActivity.Sub(sess.StartTime)
	}
	s.mu.Unlock()
	if ok {
		s.changed("sessions")
	}
}

func (s *MemStore) EndSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.IsConnected = false
		sess.Duration = s.now().Sub(sess.StartTime)
	}
	s.mu.Unlock()
	if ok {
		s.changed("sessions")
	}
}

func (s *MemStore) ActiveSessions() []ActiveSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActiveSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// ── Settings KV ───────────────────────────────────────────────────────────────

func (s *MemStore) SetSetting(key, value string) {
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	s.changed("settings")
}

func (s *MemStore) GetSetting(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok
}
