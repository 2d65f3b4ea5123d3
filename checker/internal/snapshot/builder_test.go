package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
)

type stubProber struct {
	results []probe.Result
	err     error
	got     map[string]string
}

func (s *stubProber) ProbeAll(_ context.Context, targets map[string]string, _ probe.ProgressFunc) ([]probe.Result, error) {
	s.got = targets
	return s.results, s.err
}

func i64(v int64) *int64 { return &v }
func str(v string) *string { return &v }

func testPages() []catalog.Page {
	return []catalog.Page{
		{Results: []catalog.RawDataset{
			{
				ID: "ds1", Title: "Inflación", Name: "inflacion", Maintainer: "INDEC",
				Organization: catalog.RawOrganization{Name: "indec", Title: "Instituto Nacional"},
				Groups: []catalog.RawGroup{
					{Name: "econ", DisplayName: "Economía"},
					{Name: "fina", DisplayName: "Finanzas"},
				},
				Resources: []catalog.RawResource{
					{ID: "r1", Name: "Serie mensual", URL: "http://x/r1.csv"},
					{ID: "r2", Name: "Serie anual", URL: "http://x/r2.csv"},
				},
			},
		}},
		{Results: []catalog.RawDataset{
			{
				ID: "ds2", Title: "Turismo", Name: "turismo", Maintainer: "Turismo",
				Organization: catalog.RawOrganization{Name: "turismo", Title: "Ministerio de Turismo"},
				Resources:    []catalog.RawResource{{ID: "r3", Name: "Arribos", URL: "http://x/r3.json"}},
			},
		}},
	}
}

func TestAssemble(t *testing.T) {
	// WHAT: Pages merge into one snapshot with themes index-aligned.
	// WHY: Dataset and theme lookups depend on this mapping.
	snap := Assemble(testPages())

	if snap.TotalDatasets != 2 || snap.TotalDistributions != 3 {
		t.Errorf("totals: %d datasets, %d distributions", snap.TotalDatasets, snap.TotalDistributions)
	}
	ds := snap.Datasets["ds1"]
	if ds.Org.NodeAlias != "indec" || ds.Org.NodeTitle != "Instituto Nacional" || ds.Org.Maintainer != "INDEC" {
		t.Errorf("org: %+v", ds.Org)
	}
	if len(ds.Themes.Aliases) != 2 || ds.Themes.Aliases[1] != "fina" || ds.Themes.DisplayNames[1] != "Finanzas" {
		t.Errorf("themes: %+v", ds.Themes)
	}
	if got := snap.Datasets["ds2"].Themes.Aliases; got == nil || len(got) != 0 {
		t.Errorf("zero-theme dataset should carry an empty list, got %v", got)
	}
	for _, d := range ds.Distributions {
		if d.Size != nil {
			t.Errorf("unmeasured distribution has size %v", *d.Size)
		}
	}
}

func TestAssemble_LaterPageWins(t *testing.T) {
	pages := testPages()
	dup := pages[0].Results[0]
	dup.Title = "Inflación (v2)"
	pages = append(pages, catalog.Page{Results: []catalog.RawDataset{dup}})

	snap := Assemble(pages)
	if snap.TotalDatasets != 2 {
		t.Errorf("datasets: got %d", snap.TotalDatasets)
	}
	if snap.Datasets["ds1"].Title != "Inflación (v2)" {
		t.Errorf("title: got %q", snap.Datasets["ds1"].Title)
	}
}

func TestBuild_ProbesOnlySubscribed(t *testing.T) {
	// WHAT: Only subscribed datasets are probed; sizes map back by id.
	// WHY: Probing the whole catalog would take hours.
	sp := &stubProber{results: []probe.Result{
		{ResourceID: "r1", Size: i64(120)},
		{ResourceID: "r2", Error: str("HTTP 404")},
	}}
	b := NewBuilder(sp, nil)

	snap, failed, err := b.Build(context.Background(), testPages(), []string{"ds1", "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sp.got) != 2 || sp.got["r1"] != "http://x/r1.csv" {
		t.Errorf("targets: %v", sp.got)
	}
	if _, ok := sp.got["r3"]; ok {
		t.Error("unsubscribed distribution was probed")
	}

	r1 := snap.Datasets["ds1"].Distributions["r1"]
	if r1.Size == nil || *r1.Size != 120 {
		t.Errorf("r1 size: %v", r1.Size)
	}
	if snap.Datasets["ds1"].Distributions["r2"].Size != nil {
		t.Error("errored distribution should have nil size")
	}
	if snap.Datasets["ds2"].Distributions["r3"].Size != nil {
		t.Error("unsubscribed distribution should have nil size")
	}
	if len(failed) != 1 || failed[0].ResourceID != "r2" {
		t.Errorf("failed: %+v", failed)
	}
}

func TestBuild_BatchFailure(t *testing.T) {
	sp := &stubProber{err: context.Canceled}
	_, _, err := NewBuilder(sp, nil).Build(context.Background(), testPages(), []string{"ds1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err: got %v", err)
	}
}
