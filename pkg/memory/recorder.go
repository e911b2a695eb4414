package memory

import "fmt"

// WorkflowRecorder borrows one Workflow for the duration of a run and
// appends transitions to it as the agent moves between WorkNodes. It never
// mutates graphs directly, only by proxy through transition appends (§9
// design notes).
//
// It buffers exactly one pending action across steps: OnAction records the
// action taken from the current node, and the following OnNewNode call
// supplies the node landed on, completing the transition. This mirrors the
// step loop's structure, where a node's identity is only known once the
// post-action screen has been captured and extracted (§4.11 step 10).
type WorkflowRecorder struct {
	wf      *Workflow
	fromID  string
	pending *WorkAction
}

// NewWorkflowRecorder starts recording onto wf from the node the agent
// currently occupies.
func NewWorkflowRecorder(wf *Workflow, startNodeID string) *WorkflowRecorder {
	return &WorkflowRecorder{wf: wf, fromID: startNodeID}
}

// OnAction buffers the action just taken from the current node. It is an
// error to call OnAction twice without an intervening OnNewNode.
func (r *WorkflowRecorder) OnAction(action WorkAction) error {
	if r.pending != nil {
		return fmt.Errorf("workflow recorder: action already pending, call OnNewNode first")
	}
	a := action
	r.pending = &a
	return nil
}

// OnNewNode completes the pending transition by recording the node the
// action landed on, appends it to the workflow, and advances the recorder's
// current-node cursor. success reflects whether the action (or its
// reflection) was judged successful.
func (r *WorkflowRecorder) OnNewNode(nodeID string, success bool) error {
	if r.pending == nil {
		return fmt.Errorf("workflow recorder: no pending action to complete")
	}
	t := WorkTransition{
		FromNodeID: r.fromID,
		ToNodeID:   nodeID,
		Action:     *r.pending,
		Success:    success,
	}
	if !r.wf.Append(t) {
		return fmt.Errorf("workflow recorder: transition %s -> %s breaks path continuity", t.FromNodeID, t.ToNodeID)
	}
	r.pending = nil
	r.fromID = nodeID
	return nil
}

// HasPending reports whether an action is buffered awaiting OnNewNode.
func (r *WorkflowRecorder) HasPending() bool {
	return r.pending != nil
}

// Flush discards any incomplete pending transition, used when the loop ends
// abnormally (cancellation, parse error) before the final node was observed.
func (r *WorkflowRecorder) Flush() {
	r.pending = nil
}

// Workflow returns the workflow being recorded onto.
func (r *WorkflowRecorder) Workflow() *Workflow {
	return r.wf
}
