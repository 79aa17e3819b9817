// Package postgres provides a PostgreSQL-backed StateStore. Durable records
// (leads, todos, the event log, generated image metadata, and the settings
// KV) are written through to the database; the volatile session/UI state
// (mode, audio level, transcription, session registry) stays in an embedded
// [store.MemStore].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//	_ = st.Load(ctx) // hydrate leads/todos/settings from previous runs
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirine-ai/sirine/internal/store"
)

var _ store.StateStore = (*Store)(nil)

// Store is the PostgreSQL write-through StateStore.
type Store struct {
	*store.MemStore

	pool   *pgxpool.Pool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and runs [Migrate] to ensure the required tables exist.
func NewStore(ctx context.Context, dsn string, opts ...store.Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	// Write-through queries run on a store-owned context so a cancelled
	// request context does not abort persistence of an already-applied
	// mutation.
	writeCtx, cancel := context.WithCancel(context.Background())
	return &Store{
		MemStore: store.NewMemStore(opts...),
		pool:     pool,
		ctx:      writeCtx,
		cancel:   cancel,
	}, nil
}

// Ping reports database reachability. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.cancel()
	s.pool.Close()
}

// persistErr logs a failed write-through. The in-memory state already holds
// the mutation; losing one durable write must not crash a live voice session.
func (s *Store) persistErr(op string, err error) {
	if err != nil {
		slog.Error("postgres store: write-through failed", "op", op, "err", err)
	}
}

// ── Write-through overrides ───────────────────────────────────────────────────

func (s *Store) AddLog(t store.LogType, message string) {
	s.MemStore.AddLog(t, message)
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO event_logs (log_type, message) VALUES ($1, $2)`, string(t), message)
	s.persistErr("addLog", err)
}

func (s *Store) AddLead(lead store.SalesLead) store.SalesLead {
	lead = s.MemStore.AddLead(lead)
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO sales_leads
		   (id, customer_name, customer_phone, interested_products, summary, priority, processed, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lead.ID, lead.CustomerName, lead.CustomerPhone, lead.InterestedProducts,
		lead.Summary, string(lead.Priority), lead.Processed, lead.Notes, lead.Timestamp)
	s.persistErr("addLead", err)
	return lead
}

func (s *Store) MarkLeadProcessed(id string) bool {
	ok := s.MemStore.MarkLeadProcessed(id)
	if ok {
		_, err := s.pool.Exec(s.ctx,
			`UPDATE sales_leads SET processed = TRUE WHERE id = $1`, id)
		s.persistErr("markLeadProcessed", err)
	}
	return ok
}

func (s *Store) RemoveLead(id string) bool {
	ok := s.MemStore.RemoveLead(id)
	if ok {
		_, err := s.pool.Exec(s.ctx, `DELETE FROM sales_leads WHERE id = $1`, id)
		s.persistErr("removeLead", err)
	}
	return ok
}

func (s *Store) AddTodo(text string, priority store.TodoPriority) store.TodoTask {
	task := s.MemStore.AddTodo(text, priority)
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO todo_tasks (id, text, completed, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		task.ID, task.Text, task.Completed, string(task.Priority), task.Timestamp)
	s.persistErr("addTodo", err)
	return task
}

func (s *Store) ToggleTodo(id string) bool {
	ok := s.MemStore.ToggleTodo(id)
	if ok {
		_, err := s.pool.Exec(s.ctx,
			`UPDATE todo_tasks SET completed = NOT completed WHERE id = $1`, id)
		s.persistErr("toggleTodo", err)
	}
	return ok
}

func (s *Store) RemoveTodo(id string) bool {
	ok := s.MemStore.RemoveTodo(id)
	if ok {
		_, err := s.pool.Exec(s.ctx, `DELETE FROM todo_tasks WHERE id = $1`, id)
		s.persistErr("removeTodo", err)
	}
	return ok
}

func (s *Store) ClearTodos() {
	s.MemStore.ClearTodos()
	_, err := s.pool.Exec(s.ctx, `DELETE FROM todo_tasks`)
	s.persistErr("clearTodos", err)
}

func (s *Store) AddGeneratedImage(url, prompt string) store.GeneratedImage {
	img := s.MemStore.AddGeneratedImage(url, prompt)
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO generated_images (id, url, prompt, created_at) VALUES ($1, $2, $3, $4)`,
		img.ID, img.URL, img.Prompt, img.Timestamp)
	s.persistErr("addGeneratedImage", err)
	return img
}

func (s *Store) RemoveGeneratedImage(id string) bool {
	ok := s.MemStore.RemoveGeneratedImage(id)
	if ok {
		_, err := s.pool.Exec(s.ctx, `DELETE FROM generated_images WHERE id = $1`, id)
		s.persistErr("removeGeneratedImage", err)
	}
	return ok
}

func (s *Store) SetSetting(key, value string) {
	s.MemStore.SetSetting(key, value)
	_, err := s.pool.Exec(s.ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	s.persistErr("setSetting", err)
}

// ── Hydration ─────────────────────────────────────────────────────────────────

// Load populates the in-memory layer with the durable records of previous
// runs. Call once after NewStore, before the engine starts serving.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_name, customer_phone, interested_products, summary,
		        priority, processed, notes, created_at
		   FROM sales_leads ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("postgres store: load leads: %w", err)
	}
	for rows.Next() {
		var l store.SalesLead
		var priority string
		if err := rows.Scan(&l.ID, &l.CustomerName, &l.CustomerPhone, &l.InterestedProducts,
			&l.Summary, &priority, &l.Processed, &l.Notes, &l.Timestamp); err != nil {
			rows.Close()
			return fmt.Errorf("postgres store: scan lead: %w", err)
		}
		l.Priority = store.LeadPriority(priority)
		processed := l.Processed
		l = s.MemStore.AddLead(l)
		if processed {
			s.MemStore.MarkLeadProcessed(l.ID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres store: load leads: %w", err)
	}

	taskRows, err := s.pool.Query(ctx,
		`SELECT id, text, completed, priority, created_at
		   FROM todo_tasks ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("postgres store: load todos: %w", err)
	}
	for taskRows.Next() {
		var task store.TodoTask
		var priority string
		if err := taskRows.Scan(&task.ID, &task.Text, &task.Completed, &priority, &task.Timestamp); err != nil {
			taskRows.Close()
			return fmt.Errorf("postgres store: scan todo: %w", err)
		}
		task.Priority = store.TodoPriority(priority)
		s.MemStore.PutTodo(task)
	}
	taskRows.Close()
	if err := taskRows.Err(); err != nil {
		return fmt.Errorf("postgres store: load todos: %w", err)
	}

	settingRows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return fmt.Errorf("postgres store: load settings: %w", err)
	}
	defer settingRows.Close()
	for settingRows.Next() {
		var k, v string
		if err := settingRows.Scan(&k, &v); err != nil {
			return fmt.Errorf("postgres store: scan setting: %w", err)
		}
		s.MemStore.SetSetting(k, v)
	}
	return settingRows.Err()
}
