package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateGraphIdempotentByApp(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	g1 := m.GetOrCreateGraph("com.example.app")
	g2 := m.GetOrCreateGraph("com.example.app")
	require.Same(t, g1, g2)
}

func TestGraphCreateNodeIdempotentOnContent(t *testing.T) {
	g := newWorkGraph("com.example.app")
	elements := []ElementIdentity{{ClassPath: "android.widget.Button", Text: "OK"}}

	n1 := g.GetOrCreateNode(elements, "")
	n2 := g.GetOrCreateNode(elements, "")
	require.Equal(t, n1.ID, n2.ID)
	require.Len(t, g.Nodes, 1)

	different := []ElementIdentity{{ClassPath: "android.widget.Button", Text: "Cancel"}}
	n3 := g.GetOrCreateNode(different, "")
	require.NotEqual(t, n1.ID, n3.ID)
	require.Len(t, g.Nodes, 2)
}

func TestWorkActionValidity(t *testing.T) {
	require.True(t, WorkAction{Kind: ActionSwipe, Direction: DirUp, Distance: "medium"}.Valid())
	require.False(t, WorkAction{Kind: ActionSwipe, Direction: DirUp}.Valid())
	require.False(t, WorkAction{Kind: ActionSwipe}.Valid())
	require.False(t, WorkAction{Kind: ActionTap, Direction: DirUp}.Valid())
	require.True(t, WorkAction{Kind: ActionType, Text: "hello"}.Valid())
	require.False(t, WorkAction{Kind: ActionType}.Valid())
	require.True(t, WorkAction{Kind: ActionTap}.Valid())
}

func TestWorkflowAppendEnforcesPathContinuity(t *testing.T) {
	wf := &Workflow{ID: "wf1", Task: "open settings"}
	require.True(t, wf.Append(WorkTransition{FromNodeID: "a", ToNodeID: "b"}))
	require.True(t, wf.Append(WorkTransition{FromNodeID: "b", ToNodeID: "c"}))
	require.False(t, wf.Append(WorkTransition{FromNodeID: "x", ToNodeID: "y"}))
	require.Equal(t, 2, wf.Step)
}

func TestCreateWorkflowWithoutEmbedderStillCreated(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	wf, err := m.CreateWorkflow(context.Background(), "open settings", "")
	require.NoError(t, err)
	require.Equal(t, "open settings", wf.Task)
	require.Equal(t, "open settings", wf.Tag)
	require.Nil(t, wf.TaskEmbedding)
}

func TestFindRuntimeWorkflowsExactMatch(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	ctx := context.Background()
	_, err := m.CreateWorkflow(ctx, "open settings", "settings")
	require.NoError(t, err)
	_, err = m.CreateWorkflow(ctx, "open camera", "camera")
	require.NoError(t, err)

	found := m.FindRuntimeWorkflows("open settings")
	require.Len(t, found, 1)
	require.Equal(t, "open settings", found[0].Task)

	require.Empty(t, m.FindRuntimeWorkflows("open maps"))
}

func TestPersistMergesGraphsByNodeID(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1 := New(Config{Dir: dir})
	g := m1.GetOrCreateGraph("com.example.app")
	g.GetOrCreateNode([]ElementIdentity{{ClassPath: "android.widget.Button", Text: "OK"}}, "")
	require.NoError(t, m1.Persist(ctx))

	m2 := New(Config{Dir: dir})
	g2 := m2.GetOrCreateGraph("com.example.app")
	g2.GetOrCreateNode([]ElementIdentity{{ClassPath: "android.widget.Button", Text: "Cancel"}}, "")
	require.NoError(t, m2.Persist(ctx))

	raw, err := readGraphFile(graphPath(dir, "com.example.app"), "com.example.app")
	require.NoError(t, err)
	require.Len(t, raw.Nodes, 2)
}

func TestPersistAppendsWorkflowsOnlyIfIDNotPresent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1 := New(Config{Dir: dir})
	wf1, err := m1.CreateWorkflow(ctx, "open settings", "settings")
	require.NoError(t, err)
	require.NoError(t, m1.Persist(ctx))

	m2 := New(Config{Dir: dir})
	m2.runtimeWorkflows = append(m2.runtimeWorkflows, wf1) // same id, should not duplicate
	wf2, err := m2.CreateWorkflow(ctx, "open wifi settings", "settings")
	require.NoError(t, err)
	m2.runtimeWorkflows = append(m2.runtimeWorkflows, wf2)
	require.NoError(t, m2.Persist(ctx))

	records, err := readWorkflowFile(workflowPath(dir, "settings"))
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestLoadFromStoreLoadsUnembeddedRecordsWhenNoEmbedder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1 := New(Config{Dir: dir})
	_, err := m1.CreateWorkflow(ctx, "open settings", "settings")
	require.NoError(t, err)
	require.NoError(t, m1.Persist(ctx))

	m2 := New(Config{Dir: dir})
	require.NoError(t, m2.LoadFromStore(ctx, "open settings", "", 0, 0))
	// No embedder means stored (empty) embeddings load unconditionally, so the
	// file's single workflow record is accepted regardless of task text.
	require.Len(t, m2.historicalWorkflows, 1)
}

func TestLoadFromStoreSkipsAlreadyHistorical(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1 := New(Config{Dir: dir})
	_, err := m1.CreateWorkflow(ctx, "open settings", "settings")
	require.NoError(t, err)
	require.NoError(t, m1.Persist(ctx))

	m2 := New(Config{Dir: dir})
	require.NoError(t, m2.LoadFromStore(ctx, "open settings", "", 0, 0))
	require.NoError(t, m2.LoadFromStore(ctx, "open settings", "", 0, 0))
	require.Len(t, m2.historicalWorkflows, 1)
}

func TestLoadFromStoreLoadsOnlyReferencedNodes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1 := New(Config{Dir: dir})
	g := m1.GetOrCreateGraph("com.example.app")
	n1 := g.GetOrCreateNode([]ElementIdentity{{ClassPath: "A"}}, "")
	n2 := g.GetOrCreateNode([]ElementIdentity{{ClassPath: "B"}}, "")
	g.GetOrCreateNode([]ElementIdentity{{ClassPath: "C"}}, "") // unreferenced

	wf, err := m1.CreateWorkflow(ctx, "open settings", "settings")
	require.NoError(t, err)
	require.True(t, wf.Append(WorkTransition{FromNodeID: n1.ID, ToNodeID: n2.ID}))
	require.NoError(t, m1.Persist(ctx))

	m2 := New(Config{Dir: dir})
	require.NoError(t, m2.LoadFromStore(ctx, "open settings", "", 0, 0))

	hg, ok := m2.HistoricalGraph("com.example.app")
	require.True(t, ok)
	require.Len(t, hg.Nodes, 2)
	_, hasN1 := hg.Nodes[n1.ID]
	_, hasN2 := hg.Nodes[n2.ID]
	require.True(t, hasN1)
	require.True(t, hasN2)
}

func TestSanitizeFilenames(t *testing.T) {
	require.Equal(t, "com_example_app", sanitize("com/example/app"))
	require.Equal(t, "a_b_c", sanitize("a b.c"))
}

func TestGraphPathLayout(t *testing.T) {
	p := graphPath("/tmp/mem", "com.example app")
	require.Equal(t, filepath.Join("/tmp/mem", "graph", "com_example_app.json"), p)
}

func TestWorkflowRecorderBuffersExactlyOnePendingAction(t *testing.T) {
	wf := &Workflow{ID: "wf1", Task: "open settings"}
	rec := NewWorkflowRecorder(wf, "node-a")

	require.NoError(t, rec.OnAction(WorkAction{Kind: ActionTap}))
	require.Error(t, rec.OnAction(WorkAction{Kind: ActionBack})) // already pending

	require.NoError(t, rec.OnNewNode("node-b", true))
	require.False(t, rec.HasPending())
	require.Len(t, wf.Path, 1)
	require.Equal(t, "node-a", wf.Path[0].FromNodeID)
	require.Equal(t, "node-b", wf.Path[0].ToNodeID)

	require.Error(t, rec.OnNewNode("node-c", true)) // nothing pending
}
