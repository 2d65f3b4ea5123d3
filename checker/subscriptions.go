package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/store"
)

// Subscribe makes userID follow value. Themes and nodes are matched
// case-insensitively against the latest snapshot; a dataset is given either
// as its catalog URL or as its id. It reports false when the subscription
// already existed. The returned string is the stored value.
func (s *Service) Subscribe(ctx context.Context, kind SubscriptionKind, userID int64, value string) (string, bool, error) {
	resolved, err := s.resolve(ctx, kind, value)
	if err != nil {
		return "", false, err
	}
	created, err := s.store.Subscribe(ctx, kind, userID, resolved)
	if err != nil {
		return "", false, err
	}
	s.logger.Info("checker: subscribe", "user_id", userID, "kind", kind, "value", resolved, "created", created)
	return resolved, created, nil
}

// Unsubscribe removes a subscription. Values are normalized the same way as
// Subscribe, but unknown themes or nodes are still removable.
func (s *Service) Unsubscribe(ctx context.Context, kind SubscriptionKind, userID int64, value string) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: unknown subscription kind %q", ErrInvalidInput, kind)
	}
	resolved, err := s.resolve(ctx, kind, value)
	if err != nil {
		if !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrNoSnapshot) {
			return false, err
		}
		resolved = normalize(kind, value)
	}
	return s.store.Unsubscribe(ctx, kind, userID, resolved)
}

// Subscriptions lists what userID follows.
func (s *Service) Subscriptions(ctx context.Context, userID int64) (Subscriptions, error) {
	return s.store.ListSubscriptions(ctx, userID)
}

func normalize(kind SubscriptionKind, value string) string {
	value = strings.TrimSpace(value)
	if kind == KindDataset {
		return value
	}
	return strings.ToLower(value)
}

func (s *Service) resolve(ctx context.Context, kind SubscriptionKind, value string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown subscription kind %q", ErrInvalidInput, kind)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidInput, kind)
	}

	snap, err := s.store.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", err
	}

	switch kind {
	case KindTheme:
		alias := strings.ToLower(value)
		if _, ok := ThemeNames(snap)[alias]; !ok {
			return "", fmt.Errorf("%w: unknown theme %q", ErrInvalidInput, value)
		}
		return alias, nil
	case KindNode:
		alias := strings.ToLower(value)
		if _, ok := NodeTitles(snap)[alias]; !ok {
			return "", fmt.Errorf("%w: unknown node %q", ErrInvalidInput, value)
		}
		return alias, nil
	default:
		return s.resolveDataset(snap, value)
	}
}

func (s *Service) resolveDataset(snap Snapshot, value string) (string, error) {
	if _, ok := snap.Datasets[value]; ok {
		return value, nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: dataset must be a catalog URL or id: %q", ErrInvalidInput, value)
	}
	if base, err := url.Parse(s.config.Catalog.DatasetURLBase); err == nil && base.Host != "" && u.Host != base.Host {
		return "", fmt.Errorf("%w: dataset URL must be on %s", ErrInvalidInput, base.Host)
	}
	slug, ok := datasetSlugFromURL(value)
	if !ok {
		return "", fmt.Errorf("%w: dataset URL must look like /dataset/<name>", ErrInvalidInput)
	}
	for id, name := range DatasetSlugs(snap) {
		if name == slug {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: unknown dataset %q", ErrInvalidInput, slug)
}

func datasetSlugFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	const prefix = "/dataset/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	slug := strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
	return slug, slug != ""
}

// ImportLegacy seeds the store from a JSON catalog state file and an
// optional JSON missing-dataset file (dataset id to title). Sizes are
// normalized on decode.
func (s *Service) ImportLegacy(ctx context.Context, statePath, missingPath string) error {
	data, err := os.ReadFile(statePath)
	if err != nil {
		return fmt.Errorf("checker: read state: %w", err)
	}
	snap := catalog.NewSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("checker: decode state %s: %w", statePath, err)
	}
	if snap.Datasets == nil {
		snap.Datasets = make(map[string]Dataset)
	}
	snap.Recount()

	missing := MissingRegistry{}
	if missingPath != "" {
		data, err := os.ReadFile(missingPath)
		if err != nil {
			return fmt.Errorf("checker: read missing: %w", err)
		}
		if err := json.Unmarshal(data, &missing); err != nil {
			return fmt.Errorf("checker: decode missing %s: %w", missingPath, err)
		}
	}

	if err := s.store.SaveState(ctx, snap, missing); err != nil {
		return err
	}
	s.logger.Info("checker: legacy state imported",
		"datasets", snap.TotalDatasets, "distributions", snap.TotalDistributions, "missing", len(missing))
	return nil
}
