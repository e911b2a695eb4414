package main

import (
	"context"
	"fmt"

	"github.com/autoglm/phoneagent/pkg/config"
	"github.com/autoglm/phoneagent/pkg/memory"
)

// ReplayCmd prints the historical Workflow(s) recorded for a task, without
// executing any of it. Deterministic workflow replay as a substitute for the
// loop is an explicit non-goal; this stub is inspection only.
type ReplayCmd struct {
	Task   string `required:"" help:"Task whose recorded workflow(s) to inspect."`
	AppTag string `name:"app-tag" help:"Workflow tag; defaults to the task text."`
}

func (c *ReplayCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	tag := c.AppTag
	if tag == "" {
		tag = c.Task
	}

	mem := memory.New(memory.Config{Dir: cfg.Memory.Dir})
	ctx := context.Background()
	if err := mem.LoadFromStore(ctx, c.Task, tag, cfg.Memory.EmbedThreshold, cfg.Memory.TagThreshold); err != nil {
		return fmt.Errorf("load memory store: %w", err)
	}

	wfs := mem.FindHistoricalWorkflows(c.Task)
	if len(wfs) == 0 {
		fmt.Println("no recorded workflow found for this task")
		return nil
	}
	for _, wf := range wfs {
		printWorkflow(wf)
	}
	return nil
}

func printWorkflow(wf *memory.Workflow) {
	fmt.Printf("workflow %s (tag=%s, steps=%d, time=%.1fs)\n", wf.ID, wf.Tag, wf.Step, wf.TimeCost)
	for i, t := range wf.Path {
		fmt.Printf("  %d. %s -> %s\n", i+1, t.Action.Kind, t.ToNodeID)
	}
}
