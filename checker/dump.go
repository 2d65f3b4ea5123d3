package checker

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Dump file names.
const (
	ThemesDumpFile   = "superthemes.yaml"
	NodesDumpFile    = "organizations.yaml"
	DatasetsDumpFile = "datasets.yaml"
)

// ThemeNames maps theme alias to display name across the snapshot.
func ThemeNames(snap Snapshot) map[string]string {
	out := make(map[string]string)
	for _, id := range snap.DatasetIDs() {
		th := snap.Datasets[id].Themes
		for i, alias := range th.Aliases {
			name := ""
			if i < len(th.DisplayNames) {
				name = th.DisplayNames[i]
			}
			out[alias] = name
		}
	}
	return out
}

// NodeTitles maps node alias to node title across the snapshot.
func NodeTitles(snap Snapshot) map[string]string {
	out := make(map[string]string)
	for _, id := range snap.DatasetIDs() {
		org := snap.Datasets[id].Org
		if org.NodeAlias != "" {
			out[org.NodeAlias] = org.NodeTitle
		}
	}
	return out
}

// DatasetSlugs maps dataset id to URL slug.
func DatasetSlugs(snap Snapshot) map[string]string {
	out := make(map[string]string, len(snap.Datasets))
	for id, ds := range snap.Datasets {
		out[id] = ds.Name
	}
	return out
}

// WriteDumps writes the theme, node and dataset lookup files into dir.
// Each file is replaced atomically.
func WriteDumps(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checker: dump dir: %w", err)
	}
	dumps := []struct {
		name string
		data map[string]string
	}{
		{ThemesDumpFile, ThemeNames(snap)},
		{NodesDumpFile, NodeTitles(snap)},
		{DatasetsDumpFile, DatasetSlugs(snap)},
	}
	for _, d := range dumps {
		if err := writeYAMLAtomic(filepath.Join(dir, d.name), d.data); err != nil {
			return err
		}
	}
	return nil
}

func writeYAMLAtomic(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("checker: marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("checker: dump %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("checker: dump %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checker: dump %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checker: dump %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checker: dump %s: %w", filepath.Base(path), err)
	}
	return nil
}
