package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
)

const keySnapshot = "snapshot"

// LoadSnapshot returns the last saved snapshot, or ErrNotFound before the
// first successful run.
func (s *Store) LoadSnapshot(ctx context.Context) (catalog.Snapshot, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, keySnapshot).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return catalog.Snapshot{}, fmt.Errorf("store: load snapshot: %w", err)
	}
	snap := catalog.NewSnapshot()
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return catalog.Snapshot{}, fmt.Errorf("store: decode snapshot: %w", err)
	}
	if snap.Datasets == nil {
		snap.Datasets = make(map[string]catalog.Dataset)
	}
	return snap, nil
}

// SaveSnapshot replaces the stored snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap catalog.Snapshot) error {
	return s.runTx(ctx, func(tx *sql.Tx) error { return saveSnapshot(ctx, tx, snap) })
}

func saveSnapshot(ctx context.Context, tx *sql.Tx, snap catalog.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keySnapshot, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// LoadMissing returns the missing-dataset registry. It is empty, not nil,
// when nothing was recorded.
func (s *Store) LoadMissing(ctx context.Context) (catalog.MissingRegistry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT dataset_id, title FROM missing_datasets`)
	if err != nil {
		return nil, fmt.Errorf("store: load missing: %w", err)
	}
	defer rows.Close()

	reg := make(catalog.MissingRegistry)
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("store: scan missing: %w", err)
		}
		reg[id] = title
	}
	return reg, rows.Err()
}

// SaveMissing replaces the registry with reg. Entries already present keep
// their first recorded_at.
func (s *Store) SaveMissing(ctx context.Context, reg catalog.MissingRegistry) error {
	return s.runTx(ctx, func(tx *sql.Tx) error { return saveMissing(ctx, tx, reg) })
}

func saveMissing(ctx context.Context, tx *sql.Tx, reg catalog.MissingRegistry) error {
	rows, err := tx.QueryContext(ctx, `SELECT dataset_id FROM missing_datasets`)
	if err != nil {
		return fmt.Errorf("store: save missing: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("store: save missing: %w", err)
		}
		if _, ok := reg[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: save missing: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM missing_datasets WHERE dataset_id = ?`, id); err != nil {
			return fmt.Errorf("store: prune missing %s: %w", id, err)
		}
	}

	now := time.Now().UnixMilli()
	for id, title := range reg {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO missing_datasets (dataset_id, title, recorded_at) VALUES (?, ?, ?)
			ON CONFLICT(dataset_id) DO UPDATE SET title = excluded.title`,
			id, title, now)
		if err != nil {
			return fmt.Errorf("store: save missing %s: %w", id, err)
		}
	}
	return nil
}

// SaveState stores the snapshot and the registry in one transaction so the
// next diff never sees one without the other.
func (s *Store) SaveState(ctx context.Context, snap catalog.Snapshot, reg catalog.MissingRegistry) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		if err := saveSnapshot(ctx, tx, snap); err != nil {
			return err
		}
		return saveMissing(ctx, tx, reg)
	})
}

// MissingEntry is a registry row with its recording time.
type MissingEntry struct {
	DatasetID  string `json:"dataset_id"`
	Title      string `json:"title"`
	RecordedAt int64  `json:"recorded_at"`
}

// ListMissing returns registry rows, most recent first.
func (s *Store) ListMissing(ctx context.Context) ([]MissingEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT dataset_id, title, recorded_at FROM missing_datasets
		ORDER BY recorded_at DESC, dataset_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list missing: %w", err)
	}
	defer rows.Close()

	var out []MissingEntry
	for rows.Next() {
		var e MissingEntry
		if err := rows.Scan(&e.DatasetID, &e.Title, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("store: scan missing: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
