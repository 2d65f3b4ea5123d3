package checker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hazyhaar/ckanwatch/notify"
)

// SubscriptionStore resolves the users following a theme, node or dataset.
type SubscriptionStore interface {
	SubscribersByTheme(ctx context.Context, alias string) ([]int64, error)
	SubscribersByNode(ctx context.Context, alias string) ([]int64, error)
	SubscribersByDataset(ctx context.Context, datasetID string) ([]int64, error)
}

// BroadcastStats summarises one broadcast.
type BroadcastStats struct {
	Messages   int `json:"messages"`
	Recipients int `json:"recipients"`
	Failed     int `json:"failed"`
}

// Broadcaster turns diff events into subscriber messages. Each message
// goes once to the union of the interested users. Delivery is best effort:
// a failed message is logged and counted and the remaining ones still go
// out.
type Broadcaster struct {
	subs     SubscriptionStore
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *Metrics
}

// NewBroadcaster creates a Broadcaster. A nil logger uses slog.Default().
func NewBroadcaster(subs SubscriptionStore, n notify.Notifier, logger *slog.Logger, m *Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: subs, notifier: n, logger: logger, metrics: m}
}

// Broadcast sends the messages for res: new datasets first, then new
// distributions, then growth.
func (b *Broadcaster) Broadcast(ctx context.Context, res DiffResult) BroadcastStats {
	var st BroadcastStats

	for _, group := range groupDatasets(res.DatasetsCreated) {
		first := group[0]
		users := newRecipients()
		for _, ev := range group {
			users.add(b.lookup(ctx, "node", ev.NodeAlias, b.subs.SubscribersByNode))
			users.add(b.lookup(ctx, "theme", ev.ThemeAlias, b.subs.SubscribersByTheme))
		}
		b.send(ctx, &st, users.list(), DatasetCreatedMessage(first))
	}

	for _, group := range groupDistributions(res.DistributionsCreated) {
		first := group[0]
		users := newRecipients()
		for _, ev := range group {
			users.add(b.lookup(ctx, "node", ev.NodeAlias, b.subs.SubscribersByNode))
			users.add(b.lookup(ctx, "theme", ev.ThemeAlias, b.subs.SubscribersByTheme))
		}
		users.add(b.lookup(ctx, "dataset", first.DatasetID, b.subs.SubscribersByDataset))
		b.send(ctx, &st, users.list(), DistributionCreatedMessage(first))
	}

	for _, ev := range res.Growth {
		users := newRecipients()
		users.add(b.lookup(ctx, "dataset", ev.DatasetID, b.subs.SubscribersByDataset))
		b.send(ctx, &st, users.list(), GrowthMessage(ev))
	}

	b.logger.Info("broadcast: done", "messages", st.Messages, "recipients", st.Recipients, "failed", st.Failed)
	return st
}

func (b *Broadcaster) send(ctx context.Context, st *BroadcastStats, users []int64, text string) {
	if len(users) == 0 {
		return
	}
	st.Messages++
	st.Recipients += len(users)
	if err := b.notifier.Notify(ctx, users, text); err != nil {
		st.Failed++
		b.logger.Warn("broadcast: delivery failed", "recipients", len(users), "error", err)
		b.metrics.observeNotification(false)
		return
	}
	b.metrics.observeNotification(true)
}

// lookup treats a failed lookup as no subscribers.
func (b *Broadcaster) lookup(ctx context.Context, kind, key string, fn func(context.Context, string) ([]int64, error)) []int64 {
	if key == "" {
		return nil
	}
	users, err := fn(ctx, key)
	if err != nil {
		b.logger.Warn("broadcast: subscriber lookup failed", "kind", kind, "key", key, "error", err)
		return nil
	}
	return users
}

// DatasetCreatedMessage renders the announcement of a new dataset.
func DatasetCreatedMessage(ev DatasetCreated) string {
	return notify.Text(ev.Maintainer) + " publicó un nuevo dataset: " + notify.Link(ev.Title, ev.URL)
}

// DistributionCreatedMessage renders the announcement of a new distribution.
func DistributionCreatedMessage(ev DistributionCreated) string {
	return notify.Text(ev.Maintainer) + " publicó un nuevo recurso: " +
		notify.Link(ev.DistributionName, ev.URL) + " dentro del dataset " + notify.Text(ev.DatasetTitle)
}

// GrowthMessage renders the announcement of new data in a distribution.
func GrowthMessage(ev DatapointGrowth) string {
	return notify.Text(ev.Maintainer) + " agregó nuevos datos al recurso " +
		notify.Link(ev.DistributionName, ev.URL) + " dentro del dataset " + notify.Text(ev.DatasetTitle)
}

type recipients map[int64]struct{}

func newRecipients() recipients { return make(recipients) }

func (r recipients) add(ids []int64) {
	for _, id := range ids {
		r[id] = struct{}{}
	}
}

func (r recipients) list() []int64 {
	out := make([]int64, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// groupDatasets groups per-theme events by dataset, keeping input order.
func groupDatasets(evs []DatasetCreated) [][]DatasetCreated {
	idx := make(map[string]int)
	var out [][]DatasetCreated
	for _, ev := range evs {
		i, ok := idx[ev.DatasetID]
		if !ok {
			i = len(out)
			idx[ev.DatasetID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], ev)
	}
	return out
}

// groupDistributions groups per-theme events by distribution, keeping input order.
func groupDistributions(evs []DistributionCreated) [][]DistributionCreated {
	idx := make(map[string]int)
	var out [][]DistributionCreated
	for _, ev := range evs {
		i, ok := idx[ev.DistributionID]
		if !ok {
			i = len(out)
			idx[ev.DistributionID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], ev)
	}
	return out
}
