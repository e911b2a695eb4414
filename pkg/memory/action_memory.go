package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/autoglm/phoneagent/pkg/embedder"
	"github.com/autoglm/phoneagent/pkg/observability"
)

// ActionMemory owns every WorkGraph and Workflow an agent run observes, and
// the on-disk store that persists and reloads them across runs (§4.2, C3).
// Per the concurrency model (§5), one ActionMemory is mutated by exactly one
// AgentLoop at a time; the historical view is immutable after LoadFromStore,
// so speculative readers can use it without locking.
type ActionMemory struct {
	dir      string
	embedder embedder.Embedder
	vindex   *vectorIndex

	runtimeGraphs    map[string]*WorkGraph
	historicalGraphs map[string]*WorkGraph

	runtimeWorkflows      []*Workflow
	historicalWorkflows   []*Workflow
	historicalWorkflowIDs map[string]bool
}

// Config configures a new ActionMemory.
type Config struct {
	Dir      string
	Embedder embedder.Embedder
}

// New constructs an empty ActionMemory rooted at cfg.Dir.
func New(cfg Config) *ActionMemory {
	return &ActionMemory{
		dir:                   cfg.Dir,
		embedder:              cfg.Embedder,
		vindex:                newVectorIndex(cfg.Embedder),
		runtimeGraphs:         map[string]*WorkGraph{},
		historicalGraphs:      map[string]*WorkGraph{},
		historicalWorkflowIDs: map[string]bool{},
	}
}

// GetOrCreateGraph returns the runtime WorkGraph for app, idempotent by app
// name: at most one WorkGraph per app exists in the runtime view.
func (m *ActionMemory) GetOrCreateGraph(app string) *WorkGraph {
	if g, ok := m.runtimeGraphs[app]; ok {
		return g
	}
	g := newWorkGraph(app)
	m.runtimeGraphs[app] = g
	return g
}

// HistoricalGraph returns the historical (read-only) WorkGraph for app, if
// any was loaded by LoadFromStore.
func (m *ActionMemory) HistoricalGraph(app string) (*WorkGraph, bool) {
	g, ok := m.historicalGraphs[app]
	return g, ok
}

// CreateWorkflow allocates a new Workflow for task, computing its task
// embedding at construction time (§3 Workflow invariant). tag labels the
// workflow for later store partitioning; an empty tag falls back to task.
func (m *ActionMemory) CreateWorkflow(ctx context.Context, task, tag string) (*Workflow, error) {
	if tag == "" {
		tag = task
	}
	wf := &Workflow{
		ID:   uuid.NewString(),
		Task: task,
		Tag:  tag,
	}

	if m.embedder != nil {
		taskEmb, err := m.embedder.Embed(ctx, task)
		if err != nil {
			slog.Warn("task embedding failed, workflow will load unconditionally next time", "task", task, "error", err)
		} else {
			wf.TaskEmbedding = taskEmb
		}

		tagEmb, err := m.embedder.Embed(ctx, tag)
		if err != nil {
			slog.Warn("tag embedding failed", "tag", tag, "error", err)
		} else {
			wf.TagEmbedding = tagEmb
		}
	}

	m.runtimeWorkflows = append(m.runtimeWorkflows, wf)
	return wf, nil
}

// FindRuntimeWorkflows returns every workflow created during this run whose
// task exactly matches task.
func (m *ActionMemory) FindRuntimeWorkflows(task string) []*Workflow {
	return filterByTask(m.runtimeWorkflows, task)
}

// FindHistoricalWorkflows returns every loaded historical workflow whose
// task exactly matches task.
func (m *ActionMemory) FindHistoricalWorkflows(task string) []*Workflow {
	return filterByTask(m.historicalWorkflows, task)
}

func filterByTask(wfs []*Workflow, task string) []*Workflow {
	var out []*Workflow
	for _, wf := range wfs {
		if wf.Task == task {
			out = append(out, wf)
		}
	}
	return out
}

// AllHistoricalWorkflows returns every loaded historical workflow, used by
// the speculative executor (§4.8) to scan by app membership.
func (m *ActionMemory) AllHistoricalWorkflows() []*Workflow {
	return m.historicalWorkflows
}

// Persist writes every runtime graph and workflow under the store's
// directory layout (§6). Graphs merge by node id; workflows append only if
// their id is not already present in the target file. A failure writing any
// single file is logged and does not abort persistence of the rest (§4.11
// failure semantics).
func (m *ActionMemory) Persist(ctx context.Context) error {
	tracer := observability.GetTracer("phoneagent.memory")
	_, span := tracer.Start(ctx, observability.SpanMemoryPersist)
	defer span.End()

	var firstErr error
	record := func(err error) {
		if err != nil {
			slog.Error("memory persist failed for one file", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, g := range m.runtimeGraphs {
		record(writeGraphFile(m.dir, g))
	}

	byTag := map[string][]*Workflow{}
	for _, wf := range m.runtimeWorkflows {
		byTag[wf.Tag] = append(byTag[wf.Tag], wf)
		if m.vindex != nil {
			m.vindex.upsertWorkflow(ctx, wf)
		}
	}
	for tag, wfs := range byTag {
		record(writeWorkflowFile(m.dir, tag, wfs))
	}

	return firstErr
}

// LoadFromStore populates the historical view. embedThreshold and
// tagThreshold default to 0.5 and 0.8 (§4.2) when zero.
//
// For each workflow file, the file's tag is derived from its filename; if
// targetTag is non-empty, the file is accepted only when its tag equals
// targetTag exactly or cosine(embed(file-tag), embed(targetTag)) is at or
// above tagThreshold. For each accepted file's workflow records, a record is
// skipped if already historical; a record with a stored task_embedding is
// accepted only if cosine(stored, embed(task)) is at or above embedThreshold
// - records without a stored embedding load unconditionally. Finally, only
// the WorkNodes referenced by the accepted workflows are pulled into the
// historical graph view.
func (m *ActionMemory) LoadFromStore(ctx context.Context, task, targetTag string, embedThreshold, tagThreshold float64) error {
	tracer := observability.GetTracer("phoneagent.memory")
	ctx, span := tracer.Start(ctx, observability.SpanMemoryLoad)
	defer span.End()

	if embedThreshold == 0 {
		embedThreshold = 0.5
	}
	if tagThreshold == 0 {
		tagThreshold = 0.8
	}

	workflowDir := filepath.Join(m.dir, "workflow")
	fileTags, err := listJSONFiles(workflowDir)
	if err != nil {
		return fmt.Errorf("list workflow store: %w", err)
	}

	var targetTagEmb []float32
	if targetTag != "" && m.embedder != nil {
		if emb, err := m.embedder.Embed(ctx, targetTag); err != nil {
			slog.Warn("target tag embedding failed, falling back to exact match only", "tag", targetTag, "error", err)
		} else {
			targetTagEmb = emb
		}
	}

	var taskEmb []float32
	if m.embedder != nil {
		if emb, err := m.embedder.Embed(ctx, task); err != nil {
			slog.Warn("task embedding failed during load, all stored embeddings will be rejected", "task", task, "error", err)
		} else {
			taskEmb = emb
		}
	}

	acceptedWorkflows := []*Workflow{}

	for _, fileTag := range fileTags {
		if !m.tagAccepted(ctx, fileTag, targetTag, targetTagEmb, tagThreshold) {
			continue
		}

		records, err := readWorkflowFile(workflowPath(m.dir, fileTag))
		if err != nil {
			slog.Error("skipping unreadable workflow file", "tag", fileTag, "error", err)
			continue
		}

		for _, wf := range records {
			if wf.ID == "" || wf.Task == "" {
				continue
			}
			if m.historicalWorkflowIDs[wf.ID] {
				continue
			}
			if len(wf.TaskEmbedding) > 0 {
				if taskEmb == nil || embedder.CosineSimilarity(wf.TaskEmbedding, taskEmb) < embedThreshold {
					continue
				}
			}
			m.historicalWorkflowIDs[wf.ID] = true
			acceptedWorkflows = append(acceptedWorkflows, wf)
		}
	}

	m.historicalWorkflows = append(m.historicalWorkflows, acceptedWorkflows...)

	return m.loadReferencedNodes(ctx, acceptedWorkflows, targetTag, targetTagEmb, tagThreshold)
}

// tagAccepted applies the tag-accept rule shared by workflow-file selection
// and referenced-node selection: an untargeted load (targetTag == "")
// accepts everything; an exact match always accepts; otherwise tag falls
// back to an embedding-similarity comparison against targetTagEmb, rejecting
// outright when no target embedding is available.
func (m *ActionMemory) tagAccepted(ctx context.Context, tag, targetTag string, targetTagEmb []float32, tagThreshold float64) bool {
	if targetTag == "" || tag == targetTag {
		return true
	}
	if targetTagEmb == nil {
		return false
	}
	tagEmb, err := m.embedder.Embed(ctx, tag)
	if err != nil {
		slog.Warn("tag embedding failed, rejecting", "tag", tag, "error", err)
		return false
	}
	return embedder.CosineSimilarity(tagEmb, targetTagEmb) >= tagThreshold
}

// loadReferencedNodes loads every graph file once, then retains only the
// nodes referenced by wfs' transitions and whose own tag passes the same
// tag-accept rule used for workflow files, grouped back under their owning
// app's historical graph.
func (m *ActionMemory) loadReferencedNodes(ctx context.Context, wfs []*Workflow, targetTag string, targetTagEmb []float32, tagThreshold float64) error {
	if len(wfs) == 0 {
		return nil
	}

	referenced := map[string]bool{}
	for _, wf := range wfs {
		for _, t := range wf.Path {
			referenced[t.FromNodeID] = true
			referenced[t.ToNodeID] = true
		}
	}
	if len(referenced) == 0 {
		return nil
	}

	graphDir := filepath.Join(m.dir, "graph")
	appNames, err := listJSONFiles(graphDir)
	if err != nil {
		return fmt.Errorf("list graph store: %w", err)
	}

	for _, app := range appNames {
		gf, err := readGraphFile(graphPath(m.dir, app), app)
		if err != nil {
			slog.Error("skipping unreadable graph file", "app", app, "error", err)
			continue
		}
		if gf == nil {
			continue
		}

		var matched map[string]*WorkNode
		for id, node := range gf.Nodes {
			if !referenced[id] {
				continue
			}
			if !m.tagAccepted(ctx, node.Tag, targetTag, targetTagEmb, tagThreshold) {
				continue
			}
			if matched == nil {
				matched = map[string]*WorkNode{}
			}
			matched[id] = node
		}
		if len(matched) == 0 {
			continue
		}

		hg, ok := m.historicalGraphs[app]
		if !ok {
			hg = newWorkGraph(app)
			m.historicalGraphs[app] = hg
		}
		for id, node := range matched {
			hg.Nodes[id] = node
		}
		hg.rebuildIndex()
	}

	return nil
}
