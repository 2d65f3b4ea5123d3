// Package catalog holds the point-in-time model of a CKAN catalog and the
// client that fetches it.
//
// The JSON layout of Snapshot is the one written by the first generation of
// the checker (last_ckan_state.json), so state files produced by it can be
// imported as-is.
package catalog

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Snapshot is one observation of the whole catalog.
type Snapshot struct {
	TotalDatasets      int                `json:"total_datasets"`
	TotalDistributions int                `json:"total_distributions"`
	Datasets           map[string]Dataset `json:"data"`
}

// Dataset is one catalog package.
type Dataset struct {
	Title         string                  `json:"title"`
	Name          string                  `json:"name"` // URL slug
	Org           Organization            `json:"org"`
	Themes        Themes                  `json:"temas"`
	Distributions map[string]Distribution `json:"distributions"`
}

// Organization is the publishing node of a dataset.
type Organization struct {
	Maintainer string `json:"maintainer"`
	NodeAlias  string `json:"nodo_alias"`
	NodeTitle  string `json:"nodo_title"`
}

// Themes are index-aligned: Aliases[i] and DisplayNames[i] name the same theme.
type Themes struct {
	Aliases      []string `json:"temas_alias"`
	DisplayNames []string `json:"temas_nombres"`
}

// Distribution is a downloadable resource of a dataset.
// Size is nil when it was not measured or the measurement failed.
type Distribution struct {
	URL  string   `json:"url"`
	Name string   `json:"name"`
	Size *float64 `json:"size"`
}

// UnmarshalJSON routes the stored size through NormalizeSize so that state
// files carrying boxed or stringly numbers load as plain optional numbers.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var raw struct {
		URL  string          `json:"url"`
		Name string          `json:"name"`
		Size json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.URL = raw.URL
	d.Name = raw.Name
	d.Size = nil
	if len(raw.Size) > 0 {
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw.Size))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			d.Size = NormalizeSize(v)
		}
	}
	return nil
}

// MissingRegistry maps the id of a dataset that disappeared from the catalog
// to its last known title.
type MissingRegistry map[string]string

// Clone returns an independent copy. A nil registry clones to an empty one.
func (m MissingRegistry) Clone() MissingRegistry {
	out := make(MissingRegistry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HasTitle reports whether any entry carries title. Empty titles never match.
func (m MissingRegistry) HasTitle(title string) bool {
	if title == "" {
		return false
	}
	for _, v := range m {
		if v == title {
			return true
		}
	}
	return false
}

// NewSnapshot returns an empty snapshot ready for population.
func NewSnapshot() Snapshot {
	return Snapshot{Datasets: make(map[string]Dataset)}
}

// IsEmpty reports whether the snapshot holds no datasets.
func (s Snapshot) IsEmpty() bool { return len(s.Datasets) == 0 }

// Recount refreshes the informational totals from the dataset map.
func (s *Snapshot) Recount() {
	s.TotalDatasets = len(s.Datasets)
	s.TotalDistributions = 0
	for _, ds := range s.Datasets {
		s.TotalDistributions += len(ds.Distributions)
	}
}

// DatasetIDs returns the dataset ids in lexical order.
func (s Snapshot) DatasetIDs() []string {
	ids := make([]string, 0, len(s.Datasets))
	for id := range s.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DistributionRef locates a distribution inside a snapshot.
type DistributionRef struct {
	DatasetID      string
	DistributionID string
	Dataset        Dataset
	Distribution   Distribution
}

// DistributionIndex flattens every dataset's distributions into one map
// keyed by distribution id. Distribution ids are treated as catalog-wide
// unique; if an id appears under several datasets the one from the
// lexically first dataset id wins.
func (s Snapshot) DistributionIndex() map[string]DistributionRef {
	idx := make(map[string]DistributionRef)
	for _, dsID := range s.DatasetIDs() {
		ds := s.Datasets[dsID]
		for distID, dist := range ds.Distributions {
			if _, dup := idx[distID]; dup {
				continue
			}
			idx[distID] = DistributionRef{
				DatasetID:      dsID,
				DistributionID: distID,
				Dataset:        ds,
				Distribution:   dist,
			}
		}
	}
	return idx
}
