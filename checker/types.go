// Package checker watches a CKAN open-data catalog and tells subscribers
// about new datasets, new distributions and distributions that grew.
//
// A cycle fetches the catalog listing, measures the distributions of
// subscribed datasets, diffs the result against the previous snapshot and
// broadcasts the events. State lives in a single SQLite database.
package checker

import (
	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/diff"
	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
	"github.com/hazyhaar/ckanwatch/checker/internal/store"
)

// Re-exported types forming the public API.
type (
	Page                = catalog.Page
	Snapshot            = catalog.Snapshot
	Dataset             = catalog.Dataset
	Distribution        = catalog.Distribution
	MissingRegistry     = catalog.MissingRegistry
	ProbeResult         = probe.Result
	DiffResult          = diff.Result
	DatasetCreated      = diff.DatasetCreated
	DistributionCreated = diff.DistributionCreated
	DatapointGrowth     = diff.DatapointGrowth
	Run                 = store.Run
	MissingEntry        = store.MissingEntry
	Subscriptions       = store.Subscriptions
	SubscriptionKind    = store.Kind
)

// Subscription kinds.
const (
	KindTheme   = store.KindTheme
	KindNode    = store.KindNode
	KindDataset = store.KindDataset
)

// Run statuses.
const (
	RunStatusRunning = store.RunRunning
	RunStatusOK      = store.RunOK
	RunStatusFailed  = store.RunFailed
)
