package speculative

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/memory"
)

func elem(resourceID string) device.UiElement {
	return device.UiElement{ResourceID: resourceID}
}

func identity(resourceID string) memory.ElementIdentity {
	return memory.ElementIdentity{ResourceID: resourceID}
}

type fixtureNode struct {
	ID           string                   `json:"id"`
	ElementsInfo []memory.ElementIdentity `json:"elements_info"`
	Tasks        []string                 `json:"tasks"`
	Actions      []memory.WorkAction      `json:"actions"`
	Tag          string                   `json:"tag,omitempty"`
}

type fixtureGraphFile struct {
	App   string                  `json:"app"`
	Nodes map[string]*fixtureNode `json:"nodes"`
}

type fixtureTransition struct {
	FromNodeID string            `json:"from_node_id"`
	ToNodeID   string            `json:"to_node_id"`
	Action     memory.WorkAction `json:"action"`
	Success    bool              `json:"success"`
}

type fixtureWorkflow struct {
	ID   string              `json:"id"`
	Task string              `json:"task"`
	Tag  string              `json:"tag,omitempty"`
	Path []fixtureTransition `json:"path"`
	Step int                 `json:"step"`
}

// buildMemory seeds an on-disk store with a three-node, two-transition
// workflow for "Clock" and loads it into a fresh ActionMemory's historical
// view, so Predict has a concrete chain to match against.
func buildMemory(t *testing.T) *memory.ActionMemory {
	t.Helper()
	dir := t.TempDir()

	graph := fixtureGraphFile{
		App: "Clock",
		Nodes: map[string]*fixtureNode{
			"n0": {ID: "n0", ElementsInfo: []memory.ElementIdentity{identity("alarm_list")}},
			"n1": {ID: "n1", ElementsInfo: []memory.ElementIdentity{identity("create_button")}},
			"n2": {ID: "n2", ElementsInfo: []memory.ElementIdentity{identity("time_picker")}},
		},
	}
	writeJSON(t, filepath.Join(dir, "graph", "Clock.json"), graph)

	wf := fixtureWorkflow{
		ID:   "wf-1",
		Task: "set an alarm",
		Tag:  "alarm.create",
		Path: []fixtureTransition{
			{FromNodeID: "n0", ToNodeID: "n1", Action: memory.WorkAction{Kind: memory.ActionTap}, Success: true},
			{FromNodeID: "n1", ToNodeID: "n2", Action: memory.WorkAction{Kind: memory.ActionTap}, Success: true},
		},
	}
	// Filename (sans .json) must round-trip through workflowPath's sanitize
	// step unchanged, so avoid dots/spaces here.
	writeJSON(t, filepath.Join(dir, "workflow", "alarm_create.json"), []fixtureWorkflow{wf})

	mem := memory.New(memory.Config{Dir: dir})
	require.NoError(t, mem.LoadFromStore(context.Background(), "set an alarm", "", 0, 0))
	return mem
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	raw, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestPredictReturnsFalseWithoutHistoricalGraph(t *testing.T) {
	mem := memory.New(memory.Config{Dir: t.TempDir()})
	_, ok := Predict(DefaultConfig(), mem, "Clock", []device.UiElement{elem("alarm_list")})
	require.False(t, ok)
}

func TestPredictMatchesAndRendersNextCandidate(t *testing.T) {
	mem := buildMemory(t)

	cfg := DefaultConfig()
	cfg.ConfidenceThreshold = 0.0 // isolate the similarity-matching behavior from confidence jitter

	text, ok := Predict(cfg, mem, "Clock", []device.UiElement{elem("alarm_list")})
	require.True(t, ok)
	require.Contains(t, text, "Next predicted state")
	require.Contains(t, text, "create_button")
}

func TestPredictReturnsFalseBelowSimilarityThreshold(t *testing.T) {
	mem := buildMemory(t)
	text, ok := Predict(DefaultConfig(), mem, "Clock", []device.UiElement{elem("completely_unrelated")})
	require.False(t, ok)
	require.Empty(t, text)
}

func TestPredictedConfidenceDecaysWithStepAndFailure(t *testing.T) {
	successStep1 := predictedConfidence(1, true)
	failureStep1 := predictedConfidence(1, false)
	require.Greater(t, successStep1, failureStep1) // success adds, failure subtracts

	successStep2 := predictedConfidence(2, true)
	require.LessOrEqual(t, successStep2, successStep1) // later steps decay; jitter is under ±0.05
}

func TestNodeSequenceReconstructsChain(t *testing.T) {
	wf := &memory.Workflow{
		Path: []memory.WorkTransition{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "b", ToNodeID: "c"},
		},
	}
	require.Equal(t, []string{"a", "b", "c"}, nodeSequence(wf))
}

func TestNodeSequenceEmptyPath(t *testing.T) {
	require.Nil(t, nodeSequence(&memory.Workflow{}))
}
