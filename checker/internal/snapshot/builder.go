// Package snapshot turns raw catalog listings into a measured Snapshot.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
)

// BatchProber measures many resources at once. *probe.Pool implements it.
type BatchProber interface {
	ProbeAll(ctx context.Context, targets map[string]string, progress probe.ProgressFunc) ([]probe.Result, error)
}

// Builder assembles snapshots.
type Builder struct {
	prober BatchProber
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger uses slog.Default().
func NewBuilder(p BatchProber, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{prober: p, logger: logger}
}

// Assemble merges pages into an unmeasured snapshot. A dataset id seen on
// several pages keeps the record from the last page.
func Assemble(pages []catalog.Page) catalog.Snapshot {
	snap := catalog.NewSnapshot()
	for _, page := range pages {
		for _, raw := range page.Results {
			snap.Datasets[raw.ID] = fromRaw(raw)
		}
	}
	snap.Recount()
	return snap
}

func fromRaw(raw catalog.RawDataset) catalog.Dataset {
	ds := catalog.Dataset{
		Title: raw.Title,
		Name:  raw.Name,
		Org: catalog.Organization{
			Maintainer: raw.Maintainer,
			NodeAlias:  raw.Organization.Name,
			NodeTitle:  raw.Organization.Title,
		},
		Themes: catalog.Themes{
			Aliases:      make([]string, 0, len(raw.Groups)),
			DisplayNames: make([]string, 0, len(raw.Groups)),
		},
		Distributions: make(map[string]catalog.Distribution, len(raw.Resources)),
	}
	for _, g := range raw.Groups {
		ds.Themes.Aliases = append(ds.Themes.Aliases, g.Name)
		ds.Themes.DisplayNames = append(ds.Themes.DisplayNames, g.DisplayName)
	}
	for _, r := range raw.Resources {
		ds.Distributions[r.ID] = catalog.Distribution{URL: r.URL, Name: r.Name}
	}
	return ds
}

// Build assembles pages into a snapshot and measures the distributions of
// the subscribed datasets. Every other distribution keeps a nil Size.
//
// Probe results are matched back by distribution id across the whole
// catalog. Results carrying an error are returned separately for the run
// report; their distributions keep a nil Size. The error return is set only
// when the probe batch itself failed.
func (b *Builder) Build(ctx context.Context, pages []catalog.Page, subscribed []string) (catalog.Snapshot, []probe.Result, error) {
	snap := Assemble(pages)

	targets := make(map[string]string)
	for _, id := range subscribed {
		ds, ok := snap.Datasets[id]
		if !ok {
			continue
		}
		for distID, dist := range ds.Distributions {
			targets[distID] = dist.URL
		}
	}

	b.logger.Info("snapshot: probing", "datasets", snap.TotalDatasets,
		"distributions", snap.TotalDistributions, "targets", len(targets))

	results, err := b.prober.ProbeAll(ctx, targets, b.progress)
	if err != nil {
		return catalog.Snapshot{}, nil, fmt.Errorf("snapshot: probe batch: %w", err)
	}

	sizes := make(map[string]*float64, len(results))
	var failed []probe.Result
	for _, r := range results {
		if r.Failed() {
			failed = append(failed, r)
			continue
		}
		if _, dup := sizes[r.ResourceID]; dup {
			continue
		}
		if r.Size != nil {
			sizes[r.ResourceID] = catalog.NormalizeSize(*r.Size)
		} else {
			sizes[r.ResourceID] = nil
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].ResourceID < failed[j].ResourceID })

	for dsID, ds := range snap.Datasets {
		for distID, dist := range ds.Distributions {
			dist.Size = sizes[distID]
			ds.Distributions[distID] = dist
		}
		snap.Datasets[dsID] = ds
	}

	b.logger.Info("snapshot: built", "measured", len(sizes), "errors", len(failed))
	return snap, failed, nil
}

func (b *Builder) progress(done, total int) {
	if done == total || done%100 == 0 {
		b.logger.Debug("snapshot: probe progress", "done", done, "total", total)
	}
}
