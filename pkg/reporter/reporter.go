// Package reporter implements the user-visible run output described in §7:
// verbose mode prints a one-line status per step plus per-VLM-call metrics,
// quiet mode prints only the final result. Grounded on hector's
// cmd/hector/logger.go dual-mode console conventions (emoji-prefixed,
// fmt.Printf-to-stdout status lines) rather than on structured logging
// (pkg/logger handles that separate, internal-diagnostics concern).
package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/autoglm/phoneagent/pkg/erroranalyzer"
	"github.com/autoglm/phoneagent/pkg/memory"
	"github.com/autoglm/phoneagent/pkg/modelclient"
)

// Reporter receives the AgentLoop's per-step and run-level events. Both
// implementations are safe to call from a single goroutine only; the loop
// that owns a Reporter does not fan calls out concurrently.
type Reporter interface {
	StepStart(step int, task string)
	StepAction(step int, action memory.WorkAction)
	StepReflection(step int, r memory.ReflectionResult)
	ModelCall(step int, mode modelclient.Mode, metrics modelclient.Metrics)
	Finish(result RunResult)
}

// RunResult is the terminal outcome a Reporter's Finish banner summarizes.
type RunResult struct {
	Task        string
	Finished    bool
	Success     bool
	StepCount   int
	ResultText  string
	Duration    time.Duration
	ErrorDigest erroranalyzer.Summary
}

// Verbose prints a line per step, per model call, and a closing banner.
type Verbose struct {
	w io.Writer
}

func NewVerbose(w io.Writer) *Verbose { return &Verbose{w: w} }

func (v *Verbose) StepStart(step int, task string) {
	fmt.Fprintf(v.w, "▶ step %d: %s\n", step, task)
}

func (v *Verbose) StepAction(step int, action memory.WorkAction) {
	fmt.Fprintf(v.w, "  action: %s %s\n", action.Kind, strings.TrimSpace(action.Description))
}

func (v *Verbose) StepReflection(step int, r memory.ReflectionResult) {
	mark := "✓"
	if !r.ActionSuccessful {
		mark = "✗"
	}
	fmt.Fprintf(v.w, "  %s %s (confidence %.2f)\n", mark, r.ExecutionResult, r.Confidence)
}

func (v *Verbose) ModelCall(step int, mode modelclient.Mode, metrics modelclient.Metrics) {
	fmt.Fprintf(v.w, "  [%s] first_token=%s thinking_end=%s total=%s\n",
		mode, metrics.TimeToFirstToken, metrics.TimeToThinkingEnd, metrics.TotalTime)
}

func (v *Verbose) Finish(result RunResult) {
	status := "incomplete"
	switch {
	case result.Finished && result.Success:
		status = "done"
	case result.Finished && !result.Success:
		status = "failed"
	}
	fmt.Fprintf(v.w, "\n=== %s: %s (%d steps, %s) ===\n", status, result.Task, result.StepCount, result.Duration)
	if result.ResultText != "" {
		fmt.Fprintln(v.w, result.ResultText)
	}
	if result.ErrorDigest.TotalFailures > 0 {
		fmt.Fprintf(v.w, "errors: %d failures, %d patterns (%s)\n",
			result.ErrorDigest.TotalFailures, result.ErrorDigest.DetectedPatterns,
			strings.Join(result.ErrorDigest.PatternTypes, ", "))
	}
}

// Quiet prints nothing per step and only the final result text on Finish.
type Quiet struct {
	w io.Writer
}

// NewQuiet builds a Quiet reporter writing to w; a nil w discards output.
func NewQuiet(w io.Writer) *Quiet {
	if w == nil {
		w = io.Discard
	}
	return &Quiet{w: w}
}

func (q *Quiet) StepStart(int, string)                                {}
func (q *Quiet) StepAction(int, memory.WorkAction)                    {}
func (q *Quiet) StepReflection(int, memory.ReflectionResult)          {}
func (q *Quiet) ModelCall(int, modelclient.Mode, modelclient.Metrics) {}

func (q *Quiet) Finish(result RunResult) {
	if result.ResultText != "" {
		fmt.Fprintln(q.w, result.ResultText)
		return
	}
	if result.Success {
		fmt.Fprintln(q.w, "done")
	} else {
		fmt.Fprintln(q.w, "failed")
	}
}
