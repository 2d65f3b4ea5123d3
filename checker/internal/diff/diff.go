// Package diff compares two catalog snapshots and derives change events.
//
// Compute is pure: it reads its inputs, never mutates them and performs no
// I/O. Persisting the returned MissingRegistry is the caller's job.
package diff

import (
	"sort"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
)

// DefaultDatasetURLBase prefixes a dataset slug to form its public URL.
const DefaultDatasetURLBase = "https://datos.gob.ar/dataset/"

// Event type labels, kept from the legacy event tables.
const (
	KindDatasetCreated      = "nuevo_dataset"
	KindDistributionCreated = "nueva_distribucion"
	KindDatapointGrowth     = "nuevo_datapoint"
)

// DatasetCreated announces a dataset under one of its themes. A dataset with
// several themes yields one event per theme; one with none yields a single
// event with an empty ThemeAlias.
type DatasetCreated struct {
	DatasetID  string `json:"dataset_id"`
	Title      string `json:"dataset_title"`
	ThemeAlias string `json:"tema_alias"`
	NodeAlias  string `json:"nodo_alias"`
	Maintainer string `json:"maintainer"`
	URL        string `json:"url"`
}

// DistributionCreated announces a distribution under one of the owning
// dataset's themes.
type DistributionCreated struct {
	DistributionID   string `json:"distribution_id"`
	DistributionName string `json:"distribution_name"`
	DatasetID        string `json:"dataset_id"`
	DatasetTitle     string `json:"dataset_title"`
	ThemeAlias       string `json:"tema_alias"`
	NodeAlias        string `json:"nodo_alias"`
	Maintainer       string `json:"maintainer"`
	URL              string `json:"url"`
}

// DatapointGrowth reports a distribution whose measured size increased. It
// carries the dataset's full theme list; growth is routed by dataset.
type DatapointGrowth struct {
	DistributionID   string   `json:"distribution_id"`
	DistributionName string   `json:"distribution_name"`
	DatasetID        string   `json:"dataset_id"`
	DatasetTitle     string   `json:"dataset_title"`
	ThemeAliases     []string `json:"temas_alias"`
	NodeAlias        string   `json:"nodo_alias"`
	Maintainer       string   `json:"maintainer"`
	URL              string   `json:"url"`
	PrevSize         float64  `json:"prev_size"`
	CurrSize         float64  `json:"curr_size"`
}

// Result holds the events of one comparison and the registry to persist.
type Result struct {
	DatasetsCreated      []DatasetCreated        `json:"datasets_created"`
	DistributionsCreated []DistributionCreated   `json:"distributions_created"`
	Growth               []DatapointGrowth       `json:"datapoint_growth"`
	Missing              catalog.MissingRegistry `json:"missing"`
}

// Empty reports whether no event was produced.
func (r Result) Empty() bool {
	return len(r.DatasetsCreated) == 0 && len(r.DistributionsCreated) == 0 && len(r.Growth) == 0
}

// Differ computes diffs. The zero value uses DefaultDatasetURLBase.
type Differ struct {
	DatasetURLBase string
}

// Compute diffs with the default dataset URL base.
func Compute(prev, curr catalog.Snapshot, missing catalog.MissingRegistry) Result {
	return Differ{}.Compute(prev, curr, missing)
}

// Compute derives the events between prev and curr.
//
// A dataset present in missing (by id, or by exact non-empty title) is
// treated as a reappearance: no creation event is emitted for it or for its
// distributions. The returned registry forgets every dataset that is present
// again and records every dataset that vanished, keyed by id with its last
// known title.
//
// When either snapshot is empty nothing is compared: no events are emitted
// and the registry is returned unchanged.
func (d Differ) Compute(prev, curr catalog.Snapshot, missing catalog.MissingRegistry) Result {
	if prev.IsEmpty() || curr.IsEmpty() {
		return Result{Missing: missing.Clone()}
	}
	base := d.DatasetURLBase
	if base == "" {
		base = DefaultDatasetURLBase
	}

	var newIDs, goneIDs []string
	for _, id := range curr.DatasetIDs() {
		if _, ok := prev.Datasets[id]; !ok {
			newIDs = append(newIDs, id)
		}
	}
	for _, id := range prev.DatasetIDs() {
		if _, ok := curr.Datasets[id]; !ok {
			goneIDs = append(goneIDs, id)
		}
	}

	suppressed := func(id, title string) bool {
		if _, ok := missing[id]; ok {
			return true
		}
		return missing.HasTitle(title)
	}

	res := Result{}

	// Datasets.
	created := make(map[string]bool)
	for _, id := range newIDs {
		ds := curr.Datasets[id]
		if suppressed(id, ds.Title) {
			continue
		}
		created[id] = true
		url := ""
		if ds.Name != "" {
			url = base + ds.Name
		}
		for _, theme := range themesOrBlank(ds.Themes.Aliases) {
			res.DatasetsCreated = append(res.DatasetsCreated, DatasetCreated{
				DatasetID:  id,
				Title:      ds.Title,
				ThemeAlias: theme,
				NodeAlias:  ds.Org.NodeAlias,
				Maintainer: ds.Org.Maintainer,
				URL:        url,
			})
		}
	}

	// Distributions.
	prevIdx, currIdx := prev.DistributionIndex(), curr.DistributionIndex()
	for distID, ref := range currIdx {
		if _, ok := prevIdx[distID]; ok {
			continue
		}
		if created[ref.DatasetID] || suppressed(ref.DatasetID, ref.Dataset.Title) {
			continue
		}
		for _, theme := range themesOrBlank(ref.Dataset.Themes.Aliases) {
			res.DistributionsCreated = append(res.DistributionsCreated, DistributionCreated{
				DistributionID:   distID,
				DistributionName: ref.Distribution.Name,
				DatasetID:        ref.DatasetID,
				DatasetTitle:     ref.Dataset.Title,
				ThemeAlias:       theme,
				NodeAlias:        ref.Dataset.Org.NodeAlias,
				Maintainer:       ref.Dataset.Org.Maintainer,
				URL:              ref.Distribution.URL,
			})
		}
	}

	// Growth.
	for distID, cur := range currIdx {
		old, ok := prevIdx[distID]
		if !ok || old.Distribution.Size == nil || cur.Distribution.Size == nil {
			continue
		}
		if *cur.Distribution.Size <= *old.Distribution.Size {
			continue
		}
		res.Growth = append(res.Growth, DatapointGrowth{
			DistributionID:   distID,
			DistributionName: cur.Distribution.Name,
			DatasetID:        cur.DatasetID,
			DatasetTitle:     cur.Dataset.Title,
			ThemeAliases:     append([]string(nil), cur.Dataset.Themes.Aliases...),
			NodeAlias:        cur.Dataset.Org.NodeAlias,
			Maintainer:       cur.Dataset.Org.Maintainer,
			URL:              cur.Distribution.URL,
			PrevSize:         *old.Distribution.Size,
			CurrSize:         *cur.Distribution.Size,
		})
	}

	res.Missing = updateMissing(missing, prev, curr, newIDs, goneIDs)
	sortResult(&res)
	return res
}

// updateMissing forgets reappeared datasets, then records vanished ones.
func updateMissing(missing catalog.MissingRegistry, prev, curr catalog.Snapshot, newIDs, goneIDs []string) catalog.MissingRegistry {
	ids := make(map[string]bool, len(newIDs))
	titles := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		ids[id] = true
		if t := curr.Datasets[id].Title; t != "" {
			titles[t] = true
		}
	}

	out := make(catalog.MissingRegistry, len(missing)+len(goneIDs))
	for id, title := range missing {
		if ids[id] || (title != "" && titles[title]) {
			continue
		}
		out[id] = title
	}
	for _, id := range goneIDs {
		out[id] = prev.Datasets[id].Title
	}
	return out
}

var blankTheme = []string{""}

func themesOrBlank(aliases []string) []string {
	if len(aliases) == 0 {
		return blankTheme
	}
	return aliases
}

func sortResult(r *Result) {
	sort.Slice(r.DatasetsCreated, func(i, j int) bool {
		a, b := r.DatasetsCreated[i], r.DatasetsCreated[j]
		if a.DatasetID != b.DatasetID {
			return a.DatasetID < b.DatasetID
		}
		return a.ThemeAlias < b.ThemeAlias
	})
	sort.Slice(r.DistributionsCreated, func(i, j int) bool {
		a, b := r.DistributionsCreated[i], r.DistributionsCreated[j]
		if a.DatasetID != b.DatasetID {
			return a.DatasetID < b.DatasetID
		}
		if a.DistributionID != b.DistributionID {
			return a.DistributionID < b.DistributionID
		}
		return a.ThemeAlias < b.ThemeAlias
	})
	sort.Slice(r.Growth, func(i, j int) bool {
		a, b := r.Growth[i], r.Growth[j]
		if a.DatasetID != b.DatasetID {
			return a.DatasetID < b.DatasetID
		}
		return a.DistributionID < b.DistributionID
	})
}
