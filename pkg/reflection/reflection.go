// Package reflection implements ReflectionEngine (C10, §4.9): a post-action
// judgment of whether a WorkAction actually achieved its effect, with a fast
// path that skips the VLM call when UI deltas are obvious and a slow path
// that asks the model to compare before/after screenshots.
package reflection

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/memory"
	"github.com/autoglm/phoneagent/pkg/textextract"
)

// Requester is the narrow slice of ModelClient the slow path
// needs: a single multimodal reflect call comparing two screenshots.
type Requester interface {
	Reflect(ctx context.Context, systemPrompt, userText string, beforePNG, afterPNG []byte) (string, error)
}

// Engine runs the reflect step after an action executes.
type Engine struct {
	Model Requester
}

// New constructs a reflection Engine. Model may be nil; callers that never
// reach the slow path (fast-path-only tests) don't need one.
func New(model Requester) *Engine {
	return &Engine{Model: model}
}

const reflectSystemPrompt = "You are a professional Android UI reflection module."

// Reflect compares the elements visible before and after an action and
// returns a judgment (§4.9). When before and beforePNG are both nil,
// reflection is skipped with a zero-confidence failure result (there is
// nothing to compare against).
func (e *Engine) Reflect(ctx context.Context, actionType, actionDescription string, before, after []device.UiElement, beforePNG, afterPNG []byte) memory.ReflectionResult {
	if before == nil && beforePNG == nil {
		return memory.ReflectionResult{
			ActionSuccessful:  false,
			ExecutionResult:   "failure",
			InterfaceChanges:  "Missing before screenshot",
			Reasoning:         "Before screenshot not provided",
			Confidence:        0.0,
			UsedModelAnalysis: false,
		}
	}

	changes := analyzeInterfaceChanges(before, after)

	if changes.hasObviousChanges {
		return memory.ReflectionResult{
			ActionSuccessful:  true,
			ExecutionResult:   "success",
			InterfaceChanges:  changes.description,
			GoalAchievement:   "UI changed consistently with atomic action",
			Reasoning:         changes.description,
			Confidence:        0.9,
			UsedModelAnalysis: false,
		}
	}

	if e.Model == nil || beforePNG == nil || afterPNG == nil {
		return memory.ReflectionResult{
			ActionSuccessful:  false,
			ExecutionResult:   "partial_success",
			InterfaceChanges:  changes.description,
			Reasoning:         "No obvious UI changes detected and no model available for deeper analysis",
			Confidence:        0.4,
			UsedModelAnalysis: false,
		}
	}

	return e.reflectWithModel(ctx, actionType, actionDescription, beforePNG, afterPNG, changes)
}

func (e *Engine) reflectWithModel(ctx context.Context, actionType, actionDescription string, beforePNG, afterPNG []byte, changes interfaceChanges) memory.ReflectionResult {
	prompt := fmt.Sprintf(`You are an action execution evaluator for an Android UI agent.

Executed action:
- Type: %s
- Description: %s

Analyze the action effectiveness by comparing the screenshot before and after execution.

Return your evaluation STRICTLY in the following JSON format.
Do NOT include any extra text.

{
"execution_result": "success | partial_success | failure",
"ui_changes": "Brief description of observed interface changes or lack thereof",
"goal_achievement": "Whether and how the action goal was achieved",
"abnormal_states": "Any detected errors, abnormal UI states, or unexpected behaviors",
"reasoning": "Clear reasoning supporting the judgment",
"improvement_suggestions": "Concrete suggestions to fix, retry, or re-plan if the action was not fully successful",
"confidence": 0.0
}`, actionType, actionDescription)

	raw, err := e.Model.Reflect(ctx, reflectSystemPrompt, prompt, beforePNG, afterPNG)
	if err != nil {
		return memory.ReflectionResult{
			ActionSuccessful:  false,
			ExecutionResult:   "failure",
			InterfaceChanges:  "Reflection crashed",
			Reasoning:         fmt.Sprintf("reflection error: %v", err),
			Confidence:        0.0,
			UsedModelAnalysis: true,
		}
	}

	var parsed struct {
		ExecutionResult        string      `json:"execution_result"`
		UIChanges              string      `json:"ui_changes"`
		GoalAchievement        string      `json:"goal_achievement"`
		AbnormalStates         string      `json:"abnormal_states"`
		Reasoning              string      `json:"reasoning"`
		ImprovementSuggestions string      `json:"improvement_suggestions"`
		Confidence             interface{} `json:"confidence"`
	}
	if err := textextract.JSON(raw, &parsed); err != nil {
		return memory.ReflectionResult{
			ActionSuccessful:  false,
			ExecutionResult:   "failure",
			InterfaceChanges:  "Invalid reflection output",
			Reasoning:         "Model failed to follow JSON schema",
			Confidence:        0.0,
			UsedModelAnalysis: true,
		}
	}

	var successful bool
	switch parsed.ExecutionResult {
	case "success":
		successful = true
	case "failure", "":
		successful = false
	default: // partial_success
		successful = false
	}

	confidence := parseConfidence(parsed.Confidence)

	var abnormal []string
	if strings.TrimSpace(parsed.AbnormalStates) != "" {
		abnormal = []string{parsed.AbnormalStates}
	}
	var suggestions []string
	if strings.TrimSpace(parsed.ImprovementSuggestions) != "" {
		suggestions = []string{parsed.ImprovementSuggestions}
	}

	return memory.ReflectionResult{
		ActionSuccessful:       successful,
		ExecutionResult:        orDefault(parsed.ExecutionResult, "failure"),
		InterfaceChanges:       parsed.UIChanges,
		GoalAchievement:        parsed.GoalAchievement,
		AbnormalStates:         abnormal,
		ImprovementSuggestions: suggestions,
		Confidence:             confidence,
		Reasoning:              parsed.Reasoning,
		UsedModelAnalysis:      true,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parseConfidence(v interface{}) float64 {
	var c float64
	switch n := v.(type) {
	case float64:
		c = n
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0.5
		}
		c = parsed
	default:
		return 0.5
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
