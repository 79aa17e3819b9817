package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSalesLeads = `
CREATE TABLE IF NOT EXISTS sales_leads (
    id                  TEXT         PRIMARY KEY,
    customer_name       TEXT         NOT NULL,
    customer_phone      TEXT         NOT NULL DEFAULT '',
    interested_products TEXT         NOT NULL DEFAULT '',
    summary             TEXT         NOT NULL DEFAULT '',
    priority            TEXT         NOT NULL DEFAULT 'normal',
    processed           BOOLEAN      NOT NULL DEFAULT FALSE,
    notes               TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sales_leads_created_at
    ON sales_leads (created_at);
`

const ddlTodoTasks = `
CREATE TABLE IF NOT EXISTS todo_tasks (
    id         TEXT         PRIMARY KEY,
    text       TEXT         NOT NULL,
    completed  BOOLEAN      NOT NULL DEFAULT FALSE,
    priority   TEXT         NOT NULL DEFAULT 'medium',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlEventLogs = `
CREATE TABLE IF NOT EXISTS event_logs (
    id         BIGSERIAL    PRIMARY KEY,
    log_type   TEXT         NOT NULL,
    message    TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_event_logs_created_at
    ON event_logs (created_at);
`

const ddlGeneratedImages = `
CREATE TABLE IF NOT EXISTS generated_images (
    id         TEXT         PRIMARY KEY,
    url        TEXT         NOT NULL,
    prompt     TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSettings = `
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migrate creates all required tables if they do not exist. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSalesLeads, ddlTodoTasks, ddlEventLogs, ddlGeneratedImages, ddlSettings} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
