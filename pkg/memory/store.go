package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/autoglm/phoneagent/pkg/utils"
)

// graphFile is the on-disk shape of memory_dir/graph/<app-sanitized>.json (§6).
type graphFile struct {
	App   string               `json:"app"`
	Nodes map[string]*WorkNode `json:"nodes"`
}

func graphPath(dir, app string) string {
	return filepath.Join(dir, "graph", sanitize(app)+".json")
}

func workflowPath(dir, tag string) string {
	return filepath.Join(dir, "workflow", sanitize(tag)+".json")
}

// readGraphFile loads one graph file, returning (nil, nil) if it doesn't
// exist. A corrupt file is reset (returns an empty graphFile) rather than
// aborting the whole load, matching the original store's tolerance for
// partial corruption in one file among many.
func readGraphFile(path, app string) (*graphFile, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read graph file %s: %w", path, err)
	}

	var gf graphFile
	if err := json.Unmarshal(raw, &gf); err != nil {
		return &graphFile{App: app, Nodes: map[string]*WorkNode{}}, nil
	}
	if gf.Nodes == nil {
		gf.Nodes = map[string]*WorkNode{}
	}
	return &gf, nil
}

// writeGraphFile merges g's nodes over whatever is already on disk (new
// overrides/extends old, §4.2) and writes the result.
func writeGraphFile(dir string, g *WorkGraph) error {
	path := graphPath(dir, g.App)
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	existing, err := readGraphFile(path, g.App)
	if err != nil {
		return err
	}
	merged := &graphFile{App: g.App, Nodes: map[string]*WorkNode{}}
	if existing != nil {
		for id, n := range existing.Nodes {
			merged.Nodes[id] = n
		}
	}
	for id, n := range g.Nodes {
		merged.Nodes[id] = n
	}

	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph file: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// readWorkflowFile loads one workflow file's records, returning nil if it
// doesn't exist. A corrupt file resets to an empty slice rather than
// aborting the load.
func readWorkflowFile(path string) ([]*Workflow, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow file %s: %w", path, err)
	}

	var records []*Workflow
	if err := json.Unmarshal(raw, &records); err != nil {
		return []*Workflow{}, nil
	}
	return records, nil
}

// writeWorkflowFile appends wfs whose id is not already present in the file,
// matching the append-if-id-not-already-present persistence semantics.
func writeWorkflowFile(dir, tag string, wfs []*Workflow) error {
	path := workflowPath(dir, tag)
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	existing, err := readWorkflowFile(path)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(existing))
	for _, wf := range existing {
		seen[wf.ID] = true
	}
	merged := existing
	for _, wf := range wfs {
		if seen[wf.ID] {
			continue
		}
		merged = append(merged, wf)
		seen[wf.ID] = true
	}

	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workflow file: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// listJSONFiles returns the base names (without extension) of every .json
// file directly under dir, or nil if dir doesn't exist.
func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		names = append(names, name[:len(name)-len(".json")])
	}
	return names, nil
}
