package store

import (
	"database/sql"
	"fmt"
)

// Schema is the complete ckanwatch schema. Timestamps are Unix milliseconds.
const Schema = `
-- Singleton state documents (last snapshot).
CREATE TABLE IF NOT EXISTS state (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Datasets seen before and absent from the latest listing.
CREATE TABLE IF NOT EXISTS missing_datasets (
    dataset_id  TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL
);

-- One row per check cycle.
CREATE TABLE IF NOT EXISTS runs (
    id                    TEXT PRIMARY KEY,
    started_at            INTEGER NOT NULL,
    finished_at           INTEGER,
    status                TEXT NOT NULL DEFAULT 'running',
    datasets              INTEGER NOT NULL DEFAULT 0,
    distributions         INTEGER NOT NULL DEFAULT 0,
    datasets_created      INTEGER NOT NULL DEFAULT 0,
    distributions_created INTEGER NOT NULL DEFAULT 0,
    datapoint_growth      INTEGER NOT NULL DEFAULT 0,
    probe_errors          INTEGER NOT NULL DEFAULT 0,
    notify_failures       INTEGER NOT NULL DEFAULT 0,
    error                 TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Failed probes of a run.
CREATE TABLE IF NOT EXISTS probe_errors (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    resource_id TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, resource_id)
);

-- Subscriptions, one table per target kind.
CREATE TABLE IF NOT EXISTS subscriptions_theme (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at  INTEGER NOT NULL,
    user_id     INTEGER NOT NULL,
    theme       TEXT NOT NULL,
    UNIQUE (user_id, theme)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_theme ON subscriptions_theme(theme);

CREATE TABLE IF NOT EXISTS subscriptions_node (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at  INTEGER NOT NULL,
    user_id     INTEGER NOT NULL,
    node        TEXT NOT NULL,
    UNIQUE (user_id, node)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_node ON subscriptions_node(node);

CREATE TABLE IF NOT EXISTS subscriptions_dataset (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at  INTEGER NOT NULL,
    user_id     INTEGER NOT NULL,
    dataset     TEXT NOT NULL,
    UNIQUE (user_id, dataset)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_dataset ON subscriptions_dataset(dataset);
`

// ApplySchema creates every table and index that does not exist yet.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
