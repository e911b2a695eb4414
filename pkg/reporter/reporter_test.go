package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/autoglm/phoneagent/pkg/erroranalyzer"
	"github.com/autoglm/phoneagent/pkg/memory"
	"github.com/autoglm/phoneagent/pkg/modelclient"
	"github.com/stretchr/testify/require"
)

func TestVerboseReportsStepsAndModelCalls(t *testing.T) {
	var buf bytes.Buffer
	r := NewVerbose(&buf)

	r.StepStart(1, "open settings")
	r.StepAction(1, memory.WorkAction{Kind: memory.ActionTap, Description: "tap /Settings"})
	r.ModelCall(1, modelclient.ModeAction, modelclient.Metrics{TimeToFirstToken: 50 * time.Millisecond, TotalTime: 200 * time.Millisecond})
	r.StepReflection(1, memory.ReflectionResult{ActionSuccessful: true, ExecutionResult: "success", Confidence: 0.9})

	out := buf.String()
	require.Contains(t, out, "step 1: open settings")
	require.Contains(t, out, "Tap")
	require.Contains(t, out, "action")
	require.Contains(t, out, "✓ success")
}

func TestVerboseFinishBannerReflectsOutcome(t *testing.T) {
	var buf bytes.Buffer
	r := NewVerbose(&buf)

	r.Finish(RunResult{
		Task:       "open settings",
		Finished:   true,
		Success:    true,
		StepCount:  3,
		ResultText: "settings opened",
		Duration:   time.Second,
	})

	out := buf.String()
	require.Contains(t, out, "done: open settings")
	require.Contains(t, out, "3 steps")
	require.Contains(t, out, "settings opened")
}

func TestVerboseFinishIncludesErrorDigestWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	r := NewVerbose(&buf)

	r.Finish(RunResult{
		Task:     "open settings",
		Finished: false,
		ErrorDigest: erroranalyzer.Summary{
			TotalFailures:    2,
			DetectedPatterns: 1,
			PatternTypes:     []string{"repeated_action_failure"},
		},
	})

	out := buf.String()
	require.Contains(t, out, "incomplete")
	require.Contains(t, out, "2 failures")
	require.Contains(t, out, "repeated_action_failure")
}

func TestQuietSuppressesStepOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewQuiet(&buf)

	r.StepStart(1, "task")
	r.StepAction(1, memory.WorkAction{Kind: memory.ActionTap})
	r.ModelCall(1, modelclient.ModeAction, modelclient.Metrics{})
	r.StepReflection(1, memory.ReflectionResult{})

	require.Empty(t, buf.String())
}

func TestQuietFinishPrintsOnlyResultText(t *testing.T) {
	var buf bytes.Buffer
	r := NewQuiet(&buf)

	r.Finish(RunResult{Success: true, ResultText: "settings opened"})

	require.Equal(t, "settings opened\n", buf.String())
}

func TestQuietFinishFallsBackToStatusWord(t *testing.T) {
	var buf bytes.Buffer
	r := NewQuiet(&buf)

	r.Finish(RunResult{Success: false})

	require.Equal(t, "failed\n", strings.TrimLeft(buf.String(), ""))
}
