// Package speculative implements SpeculativeExecutor (C9, §4.8): matching
// the current screen to a historical workflow and rendering a
// "SpeculativeContext" block biasing the VLM toward the next one or two
// predicted UI states. Speculation is read-only: it never mutates memory.
package speculative

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/memory"
)

// Config tunes the matching and confidence thresholds (§4.8).
type Config struct {
	SimilarityThreshold float64 // minimum Jaccard similarity to accept a historical match; default 0.7
	ConfidenceThreshold float64 // minimum predicted-candidate confidence to render it; default 0.6
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.7, ConfidenceThreshold: 0.6}
}

// Candidate is one predicted future UI state.
type Candidate struct {
	Step       int // 1 = next, 2 = next-next
	Confidence float64
	Elements   []string // content keys, for rendering
}

// predictedCandidate is an internal rendering unit for Predict's output loop.
type predictedCandidate struct {
	label string
	node  *memory.WorkNode
	conf  float64
}

// Predict matches the current screen against the app's historical workflows
// and returns a rendered SpeculativeContext block, or ("", false) if nothing
// exceeded the similarity threshold (§4.8).
func Predict(cfg Config, mem *memory.ActionMemory, currentApp string, currentElements []device.UiElement) (string, bool) {
	graph, ok := mem.HistoricalGraph(currentApp)
	if !ok {
		return "", false
	}

	bestSim := -1.0
	var bestWorkflow *memory.Workflow
	bestPosition := -1

	for _, wf := range mem.AllHistoricalWorkflows() {
		seq := nodeSequence(wf)
		for p, nodeID := range seq {
			node, ok := graph.Nodes[nodeID]
			if !ok {
				continue
			}
			sim := jaccard(currentElements, node.ElementsInfo)
			if sim > bestSim {
				bestSim = sim
				bestWorkflow = wf
				bestPosition = p
			}
		}
	}

	if bestWorkflow == nil || bestSim < cfg.SimilarityThreshold {
		return "", false
	}

	seq := nodeSequence(bestWorkflow)
	var candidates []predictedCandidate

	// bestPosition indexes seq (len(Path)+1 entries); a transition out of
	// position i exists only while i < len(Path).
	if bestPosition < len(bestWorkflow.Path) {
		if node, ok := graph.Nodes[seq[bestPosition+1]]; ok {
			conf := predictedConfidence(1, bestWorkflow.Path[bestPosition].Success)
			if conf >= cfg.ConfidenceThreshold {
				candidates = append(candidates, predictedCandidate{"next", node, conf})
			}
		}
	}
	if bestPosition+1 < len(bestWorkflow.Path) {
		if node, ok := graph.Nodes[seq[bestPosition+2]]; ok {
			conf := predictedConfidence(2, bestWorkflow.Path[bestPosition+1].Success)
			if conf >= cfg.ConfidenceThreshold {
				candidates = append(candidates, predictedCandidate{"next-next", node, conf})
			}
		}
	}

	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}

	var b strings.Builder
	for _, c := range candidates {
		prefix := "B"
		title := "Next predicted state"
		if c.label == "next-next" {
			prefix = "C"
			title = "Next-next predicted state"
		}
		fmt.Fprintf(&b, "%s (confidence %.2f):\n", title, c.conf)
		for i, identity := range c.node.ElementsInfo {
			content := contentDisplay(identity)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "  %s%d: %s\n", prefix, i+1, content)
		}
	}

	return strings.TrimRight(b.String(), "\n"), true
}

// nodeSequence reconstructs the node-id sequence a workflow's path visits:
// seq[0] is the starting node, seq[i] is the node reached after executing
// transition i-1 (§3's path-continuity invariant keeps this well-defined).
func nodeSequence(wf *memory.Workflow) []string {
	if len(wf.Path) == 0 {
		return nil
	}
	seq := make([]string, 0, len(wf.Path)+1)
	seq = append(seq, wf.Path[0].FromNodeID)
	for _, t := range wf.Path {
		seq = append(seq, t.ToNodeID)
	}
	return seq
}

// predictedConfidence implements §4.8 step 4's formula, clamped to [0,1].
func predictedConfidence(step int, success bool) float64 {
	c := 0.8 - 0.1*float64(step-1)
	if success {
		c += 0.1
	} else {
		c -= 0.2
	}
	c += (rand.Float64()*2 - 1) * 0.05
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// jaccard computes the similarity used to match the current screen to a
// historical node: |A ∩ B| / |A ∪ B| over non-empty content attributes.
func jaccard(current []device.UiElement, historical []memory.ElementIdentity) float64 {
	setA := map[string]bool{}
	for _, e := range current {
		for _, k := range device.ContentKeys(e) {
			setA[k] = true
		}
	}
	setB := map[string]bool{}
	for _, e := range historical {
		for _, k := range identityContentKeys(e) {
			setB[k] = true
		}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0.0
	}

	inter := 0
	union := map[string]bool{}
	for k := range setA {
		union[k] = true
	}
	for k := range setB {
		union[k] = true
		if setA[k] {
			inter++
		}
	}
	if len(union) == 0 {
		return 0.0
	}
	return float64(inter) / float64(len(union))
}

func identityContentKeys(e memory.ElementIdentity) []string {
	var out []string
	if e.ResourceID != "" {
		out = append(out, "resource-id:"+e.ResourceID)
	}
	if e.ContentDesc != "" {
		out = append(out, "content-desc:"+e.ContentDesc)
	}
	if e.Text != "" {
		out = append(out, "text:"+e.Text)
	}
	return out
}

func contentDisplay(e memory.ElementIdentity) string {
	parts := identityContentKeys(e)
	return strings.Join(parts, " ")
}
