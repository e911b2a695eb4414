// Package memory implements ActionMemory (§4.2): the arena that owns every
// WorkGraph and Workflow an agent run observes, plus the on-disk store that
// persists and reloads them across runs.
//
// Cyclic references between WorkGraph, WorkNode and WorkAction are modeled as
// an arena: nodes live in a flat table keyed by id, and transitions reference
// nodes by id rather than by pointer, matching the data-model note in the
// specification this package grounds (see DESIGN.md).
package memory

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ActionKind enumerates the recognized WorkAction kinds (§3 WorkAction).
type ActionKind string

const (
	ActionTap            ActionKind = "Tap"
	ActionLongPress      ActionKind = "Long Press"
	ActionDoubleTap      ActionKind = "Double Tap"
	ActionSwipe          ActionKind = "Swipe"
	ActionType           ActionKind = "Type"
	ActionLaunch         ActionKind = "Launch"
	ActionBack           ActionKind = "Back"
	ActionHome           ActionKind = "Home"
	ActionWait           ActionKind = "Wait"
	ActionTakeOver       ActionKind = "Take_over"
	ActionInteract       ActionKind = "Interact"
	ActionNote           ActionKind = "Note"
	ActionCallAPI        ActionKind = "Call_API"
	ActionFinish         ActionKind = "Finish"
	ActionSkillExecution ActionKind = "SkillExecution"
)

// SwipeDirection enumerates the allowed directions for a Swipe action.
type SwipeDirection string

const (
	DirUp    SwipeDirection = "up"
	DirDown  SwipeDirection = "down"
	DirLeft  SwipeDirection = "left"
	DirRight SwipeDirection = "right"
)

// ReflectionResult is the outcome of §4.9's reflection for one WorkAction.
type ReflectionResult struct {
	ActionSuccessful       bool     `json:"action_successful"`
	ExecutionResult        string   `json:"execution_result"`
	InterfaceChanges       string   `json:"interface_changes,omitempty"`
	GoalAchievement        string   `json:"goal_achievement,omitempty"`
	AbnormalStates         []string `json:"abnormal_states,omitempty"`
	ImprovementSuggestions []string `json:"improvement_suggestions,omitempty"`
	Confidence             float64  `json:"confidence"`
	Reasoning              string   `json:"reasoning,omitempty"`
	UsedModelAnalysis      bool     `json:"used_model_analysis"`
}

// WorkAction is a recorded or proposed action (§3).
//
// Invariants: Direction/Distance are present iff Kind == Swipe; Text is
// present iff Kind == Type.
type WorkAction struct {
	Kind        ActionKind        `json:"kind"`
	Description string            `json:"description"`
	ZonePath    string            `json:"zone_path,omitempty"`
	Direction   SwipeDirection    `json:"direction,omitempty"`
	Distance    string            `json:"distance,omitempty"`
	Text        string            `json:"text,omitempty"`
	Reflection  *ReflectionResult `json:"reflection_result,omitempty"`
	Confidence  float64           `json:"confidence_score,omitempty"`
}

// Valid reports whether the action satisfies the field-presence invariants
// for its Kind.
func (a WorkAction) Valid() bool {
	swipeFieldsSet := a.Direction != "" || a.Distance != ""
	if a.Kind == ActionSwipe {
		return a.Direction != "" && a.Distance != ""
	}
	if swipeFieldsSet {
		return false
	}
	if a.Kind == ActionType {
		return a.Text != ""
	}
	return true
}

// ElementIdentity is the projection of a UiElement kept inside a WorkNode's
// elements_info. It intentionally excludes bbox/center: node equality is
// computed from classPath + semantic attrs only (§3 UiElement invariant).
type ElementIdentity struct {
	ElemID      string `json:"elem_id"`
	ClassPath   string `json:"class_path"`
	ResourceID  string `json:"resource_id,omitempty"`
	ContentDesc string `json:"content_desc,omitempty"`
	Text        string `json:"text,omitempty"`
	Checked     string `json:"checked,omitempty"`
	Focused     string `json:"focused,omitempty"`
}

// fingerprint returns a stable string combining the fields that define node
// equality, used by elementsInfoKey.
func (e ElementIdentity) fingerprint() string {
	return strings.Join([]string{e.ClassPath, e.ResourceID, e.ContentDesc, e.Text}, "\x1f")
}

// WorkNode is a screen state identified by its normalized element set (§3).
//
// Invariant: within a WorkGraph, two nodes are equal iff their ElementsInfo
// are equal; GetOrCreateNode is idempotent on content.
type WorkNode struct {
	ID           string            `json:"id"`
	ElementsInfo []ElementIdentity `json:"elements_info"`
	Tasks        []string          `json:"tasks"`
	Actions      []WorkAction      `json:"actions"`
	Tag          string            `json:"tag,omitempty"`
}

// AddTask records task as associated with this node, deduplicating (Tasks
// is a set of task strings per the WorkNode invariant).
func (n *WorkNode) AddTask(task string) {
	for _, t := range n.Tasks {
		if t == task {
			return
		}
	}
	n.Tasks = append(n.Tasks, task)
}

// HasTask reports whether task is already recorded on this node.
func (n *WorkNode) HasTask(task string) bool {
	for _, t := range n.Tasks {
		if t == task {
			return true
		}
	}
	return false
}

// elementsInfoKey returns a content key stable across re-orderings introduced
// by extraction, used to dedupe nodes within a WorkGraph.
func elementsInfoKey(elements []ElementIdentity) string {
	fps := make([]string, len(elements))
	for i, e := range elements {
		fps[i] = e.fingerprint()
	}
	sort.Strings(fps)
	return strings.Join(fps, "\x1e")
}

// newWorkNode allocates a WorkNode with a fresh uuid.
func newWorkNode(elements []ElementIdentity, tag string) *WorkNode {
	return &WorkNode{
		ID:           uuid.NewString(),
		ElementsInfo: elements,
		Tag:          tag,
	}
}

// WorkGraph is an app-scoped node collection (§3).
type WorkGraph struct {
	App   string               `json:"app"`
	Nodes map[string]*WorkNode `json:"nodes"`
	// keyIndex maps elementsInfoKey -> node id, for O(1) idempotent lookups.
	keyIndex map[string]string
}

func newWorkGraph(app string) *WorkGraph {
	return &WorkGraph{
		App:      app,
		Nodes:    map[string]*WorkNode{},
		keyIndex: map[string]string{},
	}
}

// GetOrCreateNode returns the existing node matching elements' content key, or
// creates and registers a new one. It is idempotent on content: calling
// it twice with the same elements returns the same node.
func (g *WorkGraph) GetOrCreateNode(elements []ElementIdentity, tag string) *WorkNode {
	key := elementsInfoKey(elements)
	if id, ok := g.keyIndex[key]; ok {
		return g.Nodes[id]
	}
	node := newWorkNode(elements, tag)
	g.Nodes[node.ID] = node
	g.keyIndex[key] = node.ID
	return node
}

// rebuildIndex recomputes keyIndex from Nodes, used after loading from JSON
// where the index is not serialized.
func (g *WorkGraph) rebuildIndex() {
	g.keyIndex = make(map[string]string, len(g.Nodes))
	for id, n := range g.Nodes {
		g.keyIndex[elementsInfoKey(n.ElementsInfo)] = id
	}
}

// WorkTransition is a directed edge with provenance (§3).
type WorkTransition struct {
	FromNodeID string     `json:"from_node_id"`
	ToNodeID   string      `json:"to_node_id"`
	Action     WorkAction `json:"action"`
	Success    bool       `json:"success"`
}

// Workflow is an ordered path through transitions (§3).
//
// Invariants: Path[i].ToNodeID == Path[i+1].FromNodeID for all valid i;
// append-only during execution; TaskEmbedding is computed at construction.
type Workflow struct {
	ID            string     `json:"id"`
	Task          string     `json:"task"`
	TaskEmbedding []float32  `json:"task_embedding,omitempty"`
	Tag           string     `json:"tag,omitempty"`
	TagEmbedding  []float32  `json:"tag_embedding,omitempty"`
	Path          []WorkTransition `json:"path"`
	Step          int        `json:"step"`
	TimeCost      float64    `json:"timecost"`
}

// Append appends a transition to the workflow, checking the path-continuity
// invariant against the previous transition when one exists.
func (w *Workflow) Append(t WorkTransition) bool {
	if len(w.Path) > 0 {
		last := w.Path[len(w.Path)-1]
		if last.ToNodeID != t.FromNodeID {
			return false
		}
	}
	w.Path = append(w.Path, t)
	w.Step++
	return true
}

// sanitize implements the §6 on-disk filename sanitization rule: spaces,
// slashes and dots become underscores.
func sanitize(s string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", ".", "_")
	return r.Replace(s)
}
