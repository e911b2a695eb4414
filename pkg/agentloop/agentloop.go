// Package agentloop implements AgentLoop (C11, §4.11): the controller that
// drives C1-C10 step by step until the task finishes, the step budget is
// exhausted, or an unrecoverable error occurs. One AgentLoop owns exactly
// one DeviceController, one StructuredContext and one ActionMemory view
// (§5 shared-resource policy); running several tasks concurrently means
// constructing several AgentLoops, never sharing one across goroutines.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoglm/phoneagent/pkg/action"
	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/erroranalyzer"
	"github.com/autoglm/phoneagent/pkg/memory"
	"github.com/autoglm/phoneagent/pkg/modelclient"
	"github.com/autoglm/phoneagent/pkg/planner"
	"github.com/autoglm/phoneagent/pkg/promptctx"
	"github.com/autoglm/phoneagent/pkg/reflection"
	"github.com/autoglm/phoneagent/pkg/reporter"
	"github.com/autoglm/phoneagent/pkg/skill"
	"github.com/autoglm/phoneagent/pkg/speculative"
)

// predictSystemPromptSuffix is appended to the system prompt for the single
// step a speculative block is attached, biasing the VLM toward the
// predicted near-future states without persisting the change (§4.11 step 4).
const predictSystemPromptSuffix = "\n\nA SpeculativeContext section below lists likely upcoming screen states; prefer actions consistent with it when it agrees with what you observe."

// Config configures one AgentLoop run.
type Config struct {
	Task                    string
	AppTag                  string // workflow Tag; falls back to Task when empty
	SystemPrompt            string
	MaxSteps                int
	PlanningInterval        int
	ReflectionOnFailureOnly bool
	Skills                  []planner.SkillDescriptor
	Speculation             speculative.Config
}

// Deps bundles the collaborators an AgentLoop orchestrates, each built once
// per run by the caller (typically cmd/phoneagent's wiring code).
type Deps struct {
	Device     device.Controller
	Handler    *action.Handler
	Context    *promptctx.StructuredContext
	Model      *modelclient.Client
	Planner    *planner.Planner
	Registry   *skill.Registry
	Reflection *reflection.Engine
	Errors     *erroranalyzer.ErrorAnalyzer
	Memory     *memory.ActionMemory
	Reporter   reporter.Reporter
}

// AgentLoop is the per-run controller (§4.11). Not safe for concurrent use.
type AgentLoop struct {
	cfg  Config
	deps Deps

	skillExec *skill.Executor

	step             int
	lastScreenshot   *device.Screenshot
	postSkillFlag    bool
	executedSkills   map[string]bool
	lastPlanningStep int
	planningDone     bool
	planCache        planner.PlanResult

	recorder *memory.WorkflowRecorder
	fromNode *memory.WorkNode
}

// New constructs an AgentLoop bound to deps. Run creates the run's Workflow;
// its recorder starts on the active graph's node once the first screen is
// captured.
func New(cfg Config, deps Deps) *AgentLoop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 40
	}
	if cfg.PlanningInterval <= 0 {
		cfg.PlanningInterval = 5
	}
	if deps.Reporter == nil {
		deps.Reporter = reporter.NewQuiet(nil)
	}
	return &AgentLoop{
		cfg:            cfg,
		deps:           deps,
		skillExec:      skill.New(deps.Device, deps.Handler),
		executedSkills: map[string]bool{},
	}
}

// Result is a run's terminal outcome.
type Result struct {
	Finished   bool
	Success    bool
	Message    string
	StepCount  int
	Duration   time.Duration
	ErrorsSeen erroranalyzer.Summary
}

// Run drives the step loop to completion (§4.11). It always persists memory
// and flushes the recorder before returning, on every exit path including
// ctx cancellation (§5 cancellation & timeouts).
func (l *AgentLoop) Run(ctx context.Context) Result {
	start := time.Now()
	l.deps.Context.SetSystemPrompt(l.cfg.SystemPrompt)
	l.deps.Context.SetTask(l.cfg.Task)

	var final Result
	wf, err := l.deps.Memory.CreateWorkflow(ctx, l.cfg.Task, l.cfg.AppTag)
	if err != nil {
		final = l.finish(start, false, fmt.Sprintf("create workflow: %v", err))
	}

steps:
	for err == nil {
		select {
		case <-ctx.Done():
			final = l.finish(start, false, "user cancelled")
			break steps
		default:
		}

		outcome, done := l.runStep(ctx, wf)
		if done {
			final = outcome
			break
		}
		l.step++
		if l.step >= l.cfg.MaxSteps {
			final = l.finish(start, false, "max steps reached")
			break
		}
	}

	l.deps.Reporter.Finish(reporter.RunResult{
		Task:        l.cfg.Task,
		Finished:    final.Finished,
		Success:     final.Success,
		StepCount:   final.StepCount,
		ResultText:  final.Message,
		Duration:    final.Duration,
		ErrorDigest: final.ErrorsSeen,
	})
	return final
}

// runStep runs one full iteration of §4.11's per-step procedure. done=true
// means the run is over and outcome is the final Result.
func (l *AgentLoop) runStep(ctx context.Context, wf *memory.Workflow) (Result, bool) {
	l.deps.Reporter.StepStart(l.step, l.cfg.Task)

	// Step 1: capture (reuse cached post-action screenshot unless first step).
	screen, err := l.captureOrReuse(ctx)
	if err != nil {
		return l.finish(time.Time{}, false, fmt.Sprintf("capture screen: %v", err)), true
	}
	l.ensureRecorder(wf, screen)

	l.deps.Handler.SetScreen(screen.Elements, screen.Width)

	// Step 2: conditional planning, possibly short-circuiting into a skill run.
	if l.shouldPlanNow() {
		result, handled := l.runPlanningPhase(ctx, screen)
		if handled {
			return result.outcome, result.done
		}
	}

	// Step 3: build prompt (screen info + screenshot).
	l.deps.Context.SetScreenInfo(screen.CurrentApp, renderScreenElements(screen.Elements))
	l.deps.Context.SetScreenshot(screen.PixelsPNG, screen.Width, screen.Height)

	// Step 4: optional speculation.
	systemPrompt := l.cfg.SystemPrompt
	if text, ok := speculative.Predict(l.cfg.Speculation, l.deps.Memory, screen.CurrentApp, screen.Elements); ok {
		l.deps.Context.SetSpeculative(text)
		systemPrompt += predictSystemPromptSuffix
	}
	l.deps.Context.SetSystemPrompt(systemPrompt)

	// Step 5: VLM action call.
	resp, err := l.deps.Model.Act(ctx, l.deps.Context.ToMessages())
	l.deps.Context.SetSystemPrompt(l.cfg.SystemPrompt) // restore before next render
	if err != nil {
		return l.finish(time.Time{}, false, fmt.Sprintf("model error: %v", err)), true
	}
	l.deps.Reporter.ModelCall(l.step, modelclient.ModeAction, resp.Metrics)

	return l.dispatchAtomicAction(ctx, screen, resp)
}

type planOutcome struct {
	outcome Result
	done    bool
}

// shouldPlanNow wraps planner.ShouldPlan with this run's cadence state.
func (l *AgentLoop) shouldPlanNow() bool {
	elapsed := l.step - l.lastPlanningStep
	return planner.ShouldPlan(elapsed, l.cfg.PlanningInterval, l.postSkillFlag) || (l.step == 0 && !l.planningDone)
}

// runPlanningPhase implements §4.11 step 2. handled=true means a skill ran
// successfully and the step is fully resolved; handled=false means the step
// proceeds to the atomic VLM path.
func (l *AgentLoop) runPlanningPhase(ctx context.Context, screen *device.Screenshot) (planOutcome, bool) {
	plan, err := l.deps.Planner.Plan(ctx, l.cfg.SystemPrompt, l.cfg.Task, l.cfg.Skills)
	l.lastPlanningStep = l.step
	l.planningDone = true
	if err != nil {
		slog.Warn("planning call failed, proceeding with atomic actions", "error", err)
		return planOutcome{}, false
	}
	l.planCache = plan

	if plan.Decision != planner.DecisionUseSkill || l.executedSkills[plan.SkillName] {
		return planOutcome{}, false
	}

	if _, ok := l.deps.Registry.Lookup(plan.SkillName); !ok {
		slog.Warn("planner chose unknown skill, falling back to atomic actions", "skill", plan.SkillName)
		return planOutcome{}, false
	}
	actions, ok := l.deps.Registry.Overlay(plan.SkillName)
	if !ok {
		slog.Warn("skill has no action list overlay, falling back to atomic actions", "skill", plan.SkillName)
		return planOutcome{}, false
	}

	result := l.skillExec.Run(ctx, actions)
	l.executedSkills[plan.SkillName] = true

	if result.Status != skill.StatusSuccess {
		l.postSkillFlag = false
		l.deps.Planner.InvalidateCache(l.cfg.Task)
		slog.Info("skill execution failed, falling back to atomic actions", "skill", plan.SkillName, "reason", result.Reason)
		return planOutcome{}, false
	}

	after, err := l.deps.Device.Screenshot(ctx)
	if err != nil {
		after = blackFallbackScreen()
	}
	refl := l.deps.Reflection.Reflect(ctx, string(memory.ActionSkillExecution), "skill "+plan.SkillName,
		screen.Elements, after.Elements, screen.PixelsPNG, after.PixelsPNG)

	wa := memory.WorkAction{
		Kind:        memory.ActionSkillExecution,
		Description: "skill " + plan.SkillName,
		Reflection:  &refl,
	}
	l.recordTransition(wa, after, refl.ActionSuccessful)
	l.deps.Errors.RecordActionResult(wa, refl.ActionSuccessful)
	l.deps.Context.AddHistory(promptctx.HistoryEntry{
		ActionDescription: wa.Description,
		ActionCode:        fmt.Sprintf("skill(%s)", plan.SkillName),
		Success:           refl.ActionSuccessful,
	})
	l.deps.Reporter.StepAction(l.step, wa)
	l.deps.Reporter.StepReflection(l.step, refl)

	l.postSkillFlag = false
	l.lastScreenshot = after
	l.deps.Context.ClearStep()

	return planOutcome{
		outcome: Result{Success: refl.ActionSuccessful, StepCount: l.step, Message: "skill " + plan.SkillName + " executed"},
		done:    false,
	}, true
}

// dispatchAtomicAction implements §4.11 steps 6-13 for one VLM-emitted
// action.
func (l *AgentLoop) dispatchAtomicAction(ctx context.Context, before *device.Screenshot, resp modelclient.Response) (Result, bool) {
	// Step 6: prevention check, logged only (never fed back this step).
	if guidance, ok := l.deps.Errors.GetPreventionGuidance(memory.WorkAction{}, erroranalyzer.UIContext{
		ElementCount: len(before.Elements), CurrentApp: before.CurrentApp,
	}); ok {
		slog.Info("prevention guidance available", "guidance", guidance)
	}

	// Step 7: parse + dispatch.
	result, wa, err := l.deps.Handler.Execute(ctx, resp.Answer)
	if err != nil {
		finishMsg := err.Error()
		if wa != nil {
			l.recordTerminalAction(*wa, finishMsg)
		}
		return l.finish(time.Time{}, false, finishMsg), true
	}
	if wa == nil {
		wa = &memory.WorkAction{Kind: memory.ActionFinish, Description: result.Message}
	}

	if result.ShouldFinish {
		l.deps.Reporter.StepAction(l.step, *wa)
		l.recordTerminalAction(*wa, result.Message)
		return l.finish(time.Time{}, result.Success, result.Message), true
	}

	l.deps.Reporter.StepAction(l.step, *wa)

	// Step 8: reflection (unless suppressed by reflection_on_failure_only and
	// the dispatch itself already succeeded).
	after, screenErr := l.deps.Device.Screenshot(ctx)
	if screenErr != nil {
		after = blackFallbackScreen()
	}

	var refl memory.ReflectionResult
	runReflection := !l.cfg.ReflectionOnFailureOnly || !result.Success
	if runReflection {
		refl = l.deps.Reflection.Reflect(ctx, string(wa.Kind), wa.Description,
			before.Elements, after.Elements, before.PixelsPNG, after.PixelsPNG)
		wa.Reflection = &refl
		l.deps.Reporter.StepReflection(l.step, refl)
	} else {
		refl = memory.ReflectionResult{ActionSuccessful: result.Success, ExecutionResult: "success"}
	}

	// Step 9: learn.
	l.deps.Errors.RecordActionResult(*wa, refl.ActionSuccessful)
	if !refl.ActionSuccessful {
		l.deps.Errors.AnalyzeFailure(*wa, refl, erroranalyzer.UIContext{
			ElementCount: len(after.Elements), CurrentApp: after.CurrentApp,
		}, l.recentActions())
	}

	// Step 10: persist transition.
	l.recordTransition(*wa, after, refl.ActionSuccessful)

	// Step 11: context maintenance.
	l.deps.Context.AddHistory(promptctx.HistoryEntry{
		Thinking:          resp.Thinking,
		ActionDescription: wa.Description,
		ActionCode:        resp.Answer,
		Success:           refl.ActionSuccessful,
	})
	if runReflection {
		l.deps.Context.AddReflection(promptctx.ReflectionEntry{
			ActionType:        string(wa.Kind),
			ActionDescription: wa.Description,
			Success:           refl.ActionSuccessful,
			Confidence:        refl.Confidence,
			Reasoning:         refl.Reasoning,
			Suggestions:       joinSuggestions(refl.ImprovementSuggestions),
		})
	}
	l.deps.Context.ClearStep()

	// Step 12: cache next screen.
	l.lastScreenshot = after

	return Result{Success: refl.ActionSuccessful, StepCount: l.step}, false
}

// captureOrReuse implements §4.11 step 1.
func (l *AgentLoop) captureOrReuse(ctx context.Context) (*device.Screenshot, error) {
	if l.step > 0 && l.lastScreenshot != nil {
		screen := l.lastScreenshot
		l.lastScreenshot = nil
		return screen, nil
	}
	screen, err := l.deps.Device.Screenshot(ctx)
	if err != nil {
		slog.Error("screenshot capture failed, continuing with a fallback screen", "error", err)
		return blackFallbackScreen(), nil
	}
	return screen, nil
}

// ensureRecorder lazily starts the WorkflowRecorder on wf once the first
// node is known (§4.11 step 10 depends on a starting node existing).
func (l *AgentLoop) ensureRecorder(wf *memory.Workflow, screen *device.Screenshot) {
	if l.recorder != nil {
		return
	}
	graph := l.deps.Memory.GetOrCreateGraph(screen.CurrentApp)
	node := graph.GetOrCreateNode(identities(screen.Elements), l.cfg.AppTag)
	node.AddTask(l.cfg.Task)
	l.recorder = memory.NewWorkflowRecorder(wf, node.ID)
	l.fromNode = node
}

// recordTransition hands wa to the recorder as the pending action and
// immediately completes it on the node landed on, which becomes the current
// node (§4.11 step 10).
func (l *AgentLoop) recordTransition(wa memory.WorkAction, after *device.Screenshot, success bool) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.OnAction(wa); err != nil {
		slog.Error("workflow recorder: unexpected pending action", "error", err)
		l.recorder.Flush()
		return
	}
	graph := l.deps.Memory.GetOrCreateGraph(after.CurrentApp)
	node := graph.GetOrCreateNode(identities(after.Elements), l.cfg.AppTag)
	node.AddTask(l.cfg.Task)
	node.Actions = append(node.Actions, wa)
	if err := l.recorder.OnNewNode(node.ID, success); err != nil {
		slog.Warn("workflow recorder: transition rejected", "error", err)
		l.recorder.Flush()
	}
	l.fromNode = node
}

// recordTerminalAction records a Finish/error action without expecting a
// following node, since the loop ends here.
func (l *AgentLoop) recordTerminalAction(wa memory.WorkAction, message string) {
	if wa.Description == "" {
		wa.Description = message
	}
	if l.fromNode != nil {
		l.fromNode.Actions = append(l.fromNode.Actions, wa)
	}
	if l.recorder != nil {
		l.recorder.Flush()
	}
}

// recentActions returns the Actions recorded on the current node, for the
// error analyzer's repeated-failure window. History entries are not used:
// they don't carry kind+zone. This is a best-effort recent window, limited to
// what was recorded on the node the loop is currently on.
func (l *AgentLoop) recentActions() []memory.WorkAction {
	if l.fromNode == nil {
		return nil
	}
	return l.fromNode.Actions
}

// finish performs the run's common teardown: flush any incomplete pending
// transition and persist memory, regardless of how the loop ended (§4.11
// step 13, §5 cancellation guarantees).
func (l *AgentLoop) finish(start time.Time, success bool, message string) Result {
	if l.recorder != nil && l.recorder.HasPending() {
		l.recorder.Flush()
	}
	if err := l.deps.Memory.Persist(context.Background()); err != nil {
		slog.Error("memory persist failed", "error", err)
	}

	var digest erroranalyzer.Summary
	if l.deps.Errors != nil {
		digest = l.deps.Errors.Summary()
	}

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	return Result{
		Finished:   true,
		Success:    success,
		Message:    message,
		StepCount:  l.step,
		Duration:   dur,
		ErrorsSeen: digest,
	}
}

func identities(elements []device.UiElement) []memory.ElementIdentity {
	out := make([]memory.ElementIdentity, len(elements))
	for i, e := range elements {
		out[i] = e.Identity()
	}
	return out
}

// renderScreenElements projects elements into ScreenInfo rows labeled
// "A1".."An", the same order action.IndexElements uses, so a symbolic id
// the VLM reads out of ScreenInfo resolves to the same element at dispatch.
func renderScreenElements(elements []device.UiElement) []promptctx.ScreenElement {
	out := make([]promptctx.ScreenElement, 0, len(elements))
	for i, e := range elements {
		out = append(out, promptctx.ScreenElement{
			Index:      fmt.Sprintf("A%d", i+1),
			ClassName:  e.ClassPath,
			ResourceID: e.ResourceID,
			Text:       e.Text,
			Bounds:     fmt.Sprintf("[%d,%d][%d,%d]", e.BBox.X1, e.BBox.Y1, e.BBox.X2, e.BBox.Y2),
		})
	}
	return out
}

func joinSuggestions(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	out := suggestions[0]
	for _, s := range suggestions[1:] {
		out += "; " + s
	}
	return out
}

// blackFallbackScreen implements §4.11's screenshot-failure fallback: a
// marked-sensitive empty screen, so the VLM sees nothing actionable and
// typically backs off rather than acting on stale state.
func blackFallbackScreen() *device.Screenshot {
	return &device.Screenshot{IsSensitive: true}
}
