package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const busyRetries = 3

// isBusy reports whether err is an SQLite BUSY or locked condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx runs fn in a transaction, retrying the whole transaction on BUSY
// with a 100/200 ms backoff.
func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for i := range busyRetries {
		if err = s.txOnce(ctx, fn); err == nil || !isBusy(err) {
			return err
		}
		if i < busyRetries-1 {
			if werr := wait(ctx, time.Duration(100*(i+1))*time.Millisecond); werr != nil {
				return fmt.Errorf("store: retry interrupted: %w", werr)
			}
		}
	}
	return err
}

func (s *Store) txOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// exec runs a single statement with the same BUSY retry as runTx.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for i := range busyRetries {
		if res, err = s.DB.ExecContext(ctx, query, args...); err == nil || !isBusy(err) {
			return res, err
		}
		if i < busyRetries-1 {
			if werr := wait(ctx, time.Duration(100*(i+1))*time.Millisecond); werr != nil {
				return nil, fmt.Errorf("store: retry interrupted: %w", werr)
			}
		}
	}
	return nil, err
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
