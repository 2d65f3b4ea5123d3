package catalog

import (
	"encoding/json"
	"testing"
)

const legacyState = `{
  "total_datasets": 2,
  "total_distributions": 3,
  "data": {
    "ds-a": {
      "org": {"maintainer": "Ministerio", "nodo_title": "Energía", "nodo_alias": "energia"},
      "temas": {"temas_alias": ["ener", "econ"], "temas_nombres": ["Energía", "Economía"]},
      "title": "Precios",
      "name": "precios",
      "distributions": {
        "r1": {"url": "https://x/r1.csv", "name": "r1", "size": 120.0},
        "r2": {"url": "https://x/r2.json", "name": "r2", "size": null}
      }
    },
    "ds-b": {
      "org": {"maintainer": "", "nodo_title": "Salud", "nodo_alias": "salud"},
      "temas": {"temas_alias": [], "temas_nombres": []},
      "title": "Camas",
      "name": "camas",
      "distributions": {
        "r3": {"url": "https://x/r3.csv", "name": "r3", "size": [42]}
      }
    }
  }
}`

func TestSnapshot_LegacyDecode(t *testing.T) {
	// WHAT: The legacy state file decodes into the typed model.
	// WHY: Existing deployments import their last observed state.
	var s Snapshot
	if err := json.Unmarshal([]byte(legacyState), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.Datasets) != 2 {
		t.Fatalf("datasets: got %d", len(s.Datasets))
	}
	a := s.Datasets["ds-a"]
	if a.Org.NodeAlias != "energia" || a.Themes.Aliases[1] != "econ" {
		t.Errorf("dataset a: %+v", a)
	}
	if got := a.Distributions["r1"].Size; got == nil || *got != 120 {
		t.Errorf("r1 size: %v", got)
	}
	if got := a.Distributions["r2"].Size; got != nil {
		t.Errorf("r2 size: want nil, got %v", *got)
	}
	if got := s.Datasets["ds-b"].Distributions["r3"].Size; got == nil || *got != 42 {
		t.Errorf("r3 boxed size: %v", got)
	}
}

func TestSnapshot_RoundTripKeepsLayout(t *testing.T) {
	// WHAT: Encoding uses the legacy key names.
	// WHY: State files must stay readable by tooling built for the old format.
	s := NewSnapshot()
	s.Datasets["d"] = Dataset{Title: "T", Name: "t", Org: Organization{NodeAlias: "n"}}
	s.Recount()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"total_datasets", "total_distributions", "data"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestDistributionIndex_FirstDatasetWins(t *testing.T) {
	// WHAT: A distribution id duplicated across datasets resolves deterministically.
	// WHY: Ids are assumed catalog-wide unique; violations must not flap between runs.
	s := NewSnapshot()
	s.Datasets["b"] = Dataset{Distributions: map[string]Distribution{"r": {Name: "from-b"}}}
	s.Datasets["a"] = Dataset{Distributions: map[string]Distribution{"r": {Name: "from-a"}}}
	idx := s.DistributionIndex()
	if len(idx) != 1 {
		t.Fatalf("index size: %d", len(idx))
	}
	if idx["r"].DatasetID != "a" || idx["r"].Distribution.Name != "from-a" {
		t.Errorf("ref: %+v", idx["r"])
	}
}

func TestMissingRegistry_HasTitle(t *testing.T) {
	m := MissingRegistry{"d1": "Precios", "d2": ""}
	if !m.HasTitle("Precios") {
		t.Error("expected title match")
	}
	if m.HasTitle("") {
		t.Error("empty title must never match")
	}
	c := m.Clone()
	c["d3"] = "x"
	if _, ok := m["d3"]; ok {
		t.Error("clone shares storage")
	}
}
