package agentloop

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task pairs one AgentLoop's Config and Deps for RunMultiple to drive
// independently. Per §5's shared-resource policy, each Task's Deps must own
// its own DeviceController, StructuredContext, and ActionMemory view --
// never share those three across Tasks run together.
type Task struct {
	Cfg  Config
	Deps Deps
}

// MultiResult is one Task's outcome, tagged with the index it was submitted
// at so callers can correlate a device back to its result after concurrent
// execution reorders completion.
type MultiResult struct {
	Index  int
	Result Result
}

// RunMultiple drives len(tasks) independent AgentLoops concurrently (§5:
// "controller MAY run multiple independent agents in parallel"). Cancelling
// ctx cancels every running loop through the shared errgroup context; one
// task finishing unsuccessfully never stops the others; a task's own Config
// and Deps are never touched by any other goroutine.
func RunMultiple(ctx context.Context, tasks []Task) []MultiResult {
	results := make([]MultiResult, len(tasks))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			loop := New(task.Cfg, task.Deps)
			results[i] = MultiResult{Index: i, Result: loop.Run(groupCtx)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
