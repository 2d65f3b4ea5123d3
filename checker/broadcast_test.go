package checker

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeSubs struct {
	themes   map[string][]int64
	nodes    map[string][]int64
	datasets map[string][]int64
	failNode bool
}

func (f *fakeSubs) SubscribersByTheme(_ context.Context, alias string) ([]int64, error) {
	return f.themes[alias], nil
}

func (f *fakeSubs) SubscribersByNode(_ context.Context, alias string) ([]int64, error) {
	if f.failNode {
		return nil, errors.New("database is locked")
	}
	return f.nodes[alias], nil
}

func (f *fakeSubs) SubscribersByDataset(_ context.Context, id string) ([]int64, error) {
	return f.datasets[id], nil
}

func TestBroadcast_DeduplicatesAcrossThemesAndNode(t *testing.T) {
	// WHAT: A dataset spanning two themes yields one message per user.
	// WHY: Users following both the node and a theme must not get duplicates.
	subs := &fakeSubs{
		themes: map[string][]int64{"econ": {1, 2}, "fina": {2, 3}},
		nodes:  map[string][]int64{"indec": {1, 4}},
	}
	n := &recordingNotifier{}
	b := NewBroadcaster(subs, n, nil, nil)

	st := b.Broadcast(context.Background(), DiffResult{DatasetsCreated: []DatasetCreated{
		{DatasetID: "ds1", Title: "Inflación", ThemeAlias: "econ", NodeAlias: "indec", Maintainer: "INDEC", URL: "https://d/ds1"},
		{DatasetID: "ds1", Title: "Inflación", ThemeAlias: "fina", NodeAlias: "indec", Maintainer: "INDEC", URL: "https://d/ds1"},
	}})

	msgs := n.take()
	if len(msgs) != 1 {
		t.Fatalf("messages: %d", len(msgs))
	}
	if !reflect.DeepEqual(msgs[0].Recipients, []int64{1, 2, 3, 4}) {
		t.Errorf("recipients: %v", msgs[0].Recipients)
	}
	if want := "INDEC publicó un nuevo dataset: [Inflación](https://d/ds1)"; msgs[0].Text != want {
		t.Errorf("text:\n got %q\nwant %q", msgs[0].Text, want)
	}
	if st.Messages != 1 || st.Recipients != 4 || st.Failed != 0 {
		t.Errorf("stats: %+v", st)
	}
}

func TestBroadcast_Routing(t *testing.T) {
	// WHAT: Distributions reach node, theme and dataset followers; growth only dataset followers.
	// WHY: Growth is too frequent to push to whole themes.
	subs := &fakeSubs{
		themes:   map[string][]int64{"econ": {1}},
		nodes:    map[string][]int64{"indec": {2}},
		datasets: map[string][]int64{"ds1": {3}},
	}
	n := &recordingNotifier{}
	b := NewBroadcaster(subs, n, nil, NewMetrics())

	b.Broadcast(context.Background(), DiffResult{
		DistributionsCreated: []DistributionCreated{{
			DistributionID: "r2", DistributionName: "Anual", DatasetID: "ds1", DatasetTitle: "Inflación",
			ThemeAlias: "econ", NodeAlias: "indec", Maintainer: "INDEC", URL: "http://x/r2.csv",
		}},
		Growth: []DatapointGrowth{{
			DistributionID: "r1", DistributionName: "Mensual", DatasetID: "ds1", DatasetTitle: "Inflación",
			ThemeAliases: []string{"econ"}, NodeAlias: "indec", Maintainer: "INDEC", URL: "http://x/r1.csv",
			PrevSize: 3, CurrSize: 5,
		}},
	})

	msgs := n.take()
	if len(msgs) != 2 {
		t.Fatalf("messages: %+v", msgs)
	}
	if !reflect.DeepEqual(msgs[0].Recipients, []int64{1, 2, 3}) {
		t.Errorf("distribution recipients: %v", msgs[0].Recipients)
	}
	if want := "INDEC publicó un nuevo recurso: [Anual](http://x/r2.csv) dentro del dataset Inflación"; msgs[0].Text != want {
		t.Errorf("distribution text: %q", msgs[0].Text)
	}
	if !reflect.DeepEqual(msgs[1].Recipients, []int64{3}) {
		t.Errorf("growth recipients: %v", msgs[1].Recipients)
	}
	if want := "INDEC agregó nuevos datos al recurso [Mensual](http://x/r1.csv) dentro del dataset Inflación"; msgs[1].Text != want {
		t.Errorf("growth text: %q", msgs[1].Text)
	}
}

func TestBroadcast_LookupFailureAndDeliveryFailure(t *testing.T) {
	// WHAT: A failed lookup counts as no subscribers and a failed send does not stop the rest.
	// WHY: One broken chat or a locked table must not silence every other event.
	subs := &fakeSubs{
		themes:   map[string][]int64{"econ": {1}},
		datasets: map[string][]int64{"ds1": {3}},
		failNode: true,
	}
	n := &recordingNotifier{err: errors.New("blocked")}
	b := NewBroadcaster(subs, n, nil, nil)

	st := b.Broadcast(context.Background(), DiffResult{
		DatasetsCreated: []DatasetCreated{{DatasetID: "ds9", Title: "T", ThemeAlias: "econ", NodeAlias: "indec"}},
		Growth:          []DatapointGrowth{{DistributionID: "r1", DatasetID: "ds1"}},
	})

	msgs := n.take()
	if len(msgs) != 2 || !reflect.DeepEqual(msgs[0].Recipients, []int64{1}) {
		t.Fatalf("messages: %+v", msgs)
	}
	if st.Failed != 2 || st.Messages != 2 {
		t.Errorf("stats: %+v", st)
	}
}

func TestBroadcast_EscapesMarkdown(t *testing.T) {
	ev := DatasetCreated{Title: "PBI (2024)", Maintainer: "<b>Min.</b> Economía", URL: "https://d/x_(y)"}
	want := `Min\. Economía publicó un nuevo dataset: [PBI \(2024\)](https://d/x_(y\))`
	if got := DatasetCreatedMessage(ev); got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}
