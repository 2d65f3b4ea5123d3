package store

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Kind is what a subscription targets.
type Kind string

const (
	KindTheme   Kind = "theme"
	KindNode    Kind = "node"
	KindDataset Kind = "dataset"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTheme, KindNode, KindDataset:
		return true
	}
	return false
}

// table and column are fixed per kind; never built from user input.
func (k Kind) table() (table, column string, err error) {
	switch k {
	case KindTheme:
		return "subscriptions_theme", "theme", nil
	case KindNode:
		return "subscriptions_node", "node", nil
	case KindDataset:
		return "subscriptions_dataset", "dataset", nil
	}
	return "", "", fmt.Errorf("store: unknown subscription kind %q", k)
}

// Subscriptions lists what one user follows.
type Subscriptions struct {
	UserID   int64    `json:"user_id"`
	Themes   []string `json:"themes"`
	Nodes    []string `json:"nodes"`
	Datasets []string `json:"datasets"`
}

// Subscribe records that userID follows value. It reports false when the
// subscription already existed.
func (s *Store) Subscribe(ctx context.Context, kind Kind, userID int64, value string) (bool, error) {
	table, column, err := kind.table()
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx,
		`INSERT OR IGNORE INTO `+table+` (created_at, user_id, `+column+`) VALUES (?, ?, ?)`,
		time.Now().UnixMilli(), userID, value)
	if err != nil {
		return false, fmt.Errorf("store: subscribe %s: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Unsubscribe removes a subscription. It reports false when there was none.
func (s *Store) Unsubscribe(ctx context.Context, kind Kind, userID int64, value string) (bool, error) {
	table, column, err := kind.table()
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx, `DELETE FROM `+table+` WHERE user_id = ? AND `+column+` = ?`, userID, value)
	if err != nil {
		return false, fmt.Errorf("store: unsubscribe %s: %w", kind, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSubscriptions returns everything userID follows.
func (s *Store) ListSubscriptions(ctx context.Context, userID int64) (Subscriptions, error) {
	out := Subscriptions{UserID: userID, Themes: []string{}, Nodes: []string{}, Datasets: []string{}}
	for _, k := range []Kind{KindTheme, KindNode, KindDataset} {
		table, column, _ := k.table()
		vals, err := s.strings(ctx,
			`SELECT `+column+` FROM `+table+` WHERE user_id = ? ORDER BY `+column, userID)
		if err != nil {
			return Subscriptions{}, fmt.Errorf("store: list %s subscriptions: %w", k, err)
		}
		switch k {
		case KindTheme:
			out.Themes = vals
		case KindNode:
			out.Nodes = vals
		case KindDataset:
			out.Datasets = vals
		}
	}
	return out, nil
}

// Subscribers returns the users following value, ascending.
func (s *Store) Subscribers(ctx context.Context, kind Kind, value string) ([]int64, error) {
	table, column, err := kind.table()
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM `+table+` WHERE `+column+` = ? ORDER BY user_id`, value)
	if err != nil {
		return nil, fmt.Errorf("store: %s subscribers: %w", kind, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan subscriber: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SubscribersByTheme returns the users following a theme alias.
func (s *Store) SubscribersByTheme(ctx context.Context, alias string) ([]int64, error) {
	return s.Subscribers(ctx, KindTheme, alias)
}

// SubscribersByNode returns the users following a node alias.
func (s *Store) SubscribersByNode(ctx context.Context, alias string) ([]int64, error) {
	return s.Subscribers(ctx, KindNode, alias)
}

// SubscribersByDataset returns the users following a dataset.
func (s *Store) SubscribersByDataset(ctx context.Context, datasetID string) ([]int64, error) {
	return s.Subscribers(ctx, KindDataset, datasetID)
}

// SubscribedDatasetIDs returns every dataset followed by at least one user.
// These are the datasets whose distributions get measured.
func (s *Store) SubscribedDatasetIDs(ctx context.Context) ([]string, error) {
	ids, err := s.strings(ctx, `SELECT DISTINCT dataset FROM subscriptions_dataset`)
	if err != nil {
		return nil, fmt.Errorf("store: subscribed datasets: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
