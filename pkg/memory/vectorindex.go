package memory

import (
	"context"
	"log/slog"

	chromem "github.com/philippgille/chromem-go"

	"github.com/autoglm/phoneagent/pkg/embedder"
)

// vectorIndex is a best-effort, queryable companion to the exact cosine
// comparisons loadFromStore performs against stored embeddings (§4.2). It
// lets future callers run similarity search over historical workflows
// without re-scanning every workflow file, backed by an in-process, pure-Go
// vector store so ActionMemory never needs a network dependency just to
// look up "workflows like this one" (DOMAIN STACK).
type vectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// newVectorIndex creates an in-memory chromem-go collection. emb may be nil,
// in which case the index is disabled and all operations are no-ops - this
// keeps ActionMemory usable in tests and offline runs where no embedding
// backend is configured.
func newVectorIndex(emb embedder.Embedder) *vectorIndex {
	if emb == nil {
		return nil
	}

	db := chromem.NewDB()
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return emb.Embed(ctx, text)
	}
	coll, err := db.GetOrCreateCollection("workflows", nil, embedFunc)
	if err != nil {
		slog.Warn("vector index disabled", "error", err)
		return nil
	}
	return &vectorIndex{db: db, collection: coll}
}

// upsertWorkflow indexes a workflow's task text against its precomputed
// embedding. Failures are logged and swallowed: the index is an optional
// accelerator, never a correctness dependency.
func (v *vectorIndex) upsertWorkflow(ctx context.Context, wf *Workflow) {
	if v == nil || v.collection == nil || len(wf.TaskEmbedding) == 0 {
		return
	}
	doc := chromem.Document{
		ID:        wf.ID,
		Content:   wf.Task,
		Embedding: wf.TaskEmbedding,
		Metadata:  map[string]string{"tag": wf.Tag},
	}
	if err := v.collection.AddDocument(ctx, doc); err != nil {
		slog.Warn("vector index upsert failed", "workflow_id", wf.ID, "error", err)
	}
}

// queryByTask returns workflow ids whose task text is most similar to task,
// best-effort. Unused by loadFromStore's required exact-cosine path but
// available to callers that want an approximate, ranked shortlist.
func (v *vectorIndex) queryByTask(ctx context.Context, task string, n int) []string {
	if v == nil || v.collection == nil {
		return nil
	}
	results, err := v.collection.Query(ctx, task, n, nil, nil)
	if err != nil {
		slog.Warn("vector index query failed", "error", err)
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	return ids
}
