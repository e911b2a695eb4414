// Package planner implements Planner/Router (C7, §4.6): deciding whether a
// task should be executed via a known skill or via atomic VLM-driven
// actions, plus the orthogonal task-decomposition API.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/autoglm/phoneagent/pkg/textextract"
)

// Decision is the Planner's top-level routing choice.
type Decision string

const (
	DecisionUseSkill         Decision = "use_skill"
	DecisionUseAtomicActions Decision = "use_atomic_actions"
)

// SkillDescriptor is one entry of the skill library the router prompt
// enumerates (§4.6, §6 skill_library.json).
type SkillDescriptor struct {
	Name        string
	Description string
	Params      []string
}

// PlanResult is the Planner's decision for one task (§4.6).
type PlanResult struct {
	Decision      Decision
	SkillName     string
	SkillParams   map[string]interface{}
	RawContent    string
	SubtaskStatus SubtaskStatus
}

// SubtaskStatus is the router's self-reported progress on the current
// subtask, read from an optional <subtask_status> block (§4.6). Zero value
// means the model didn't report one.
type SubtaskStatus struct {
	Status     string
	Confidence string
	Reasoning  string
	NextAction string
}

// HasStatus reports whether the model reported any subtask status field.
func (s SubtaskStatus) HasStatus() bool {
	return s.Status != "" || s.Confidence != "" || s.Reasoning != "" || s.NextAction != ""
}

// Requester is the narrow model-facing surface the Planner needs: a single
// chat completion over (system, user) text.
type Requester interface {
	Plan(ctx context.Context, systemPrompt, userText string) (string, error)
}

// Planner routes a task to a skill or to the atomic-action loop, and caches
// the decision for the lifetime of a task run (§4.6 Caching & cadence).
type Planner struct {
	model Requester

	mu    sync.Mutex
	cache map[string]PlanResult
}

// New constructs a Planner bound to a model Requester.
func New(model Requester) *Planner {
	return &Planner{model: model, cache: map[string]PlanResult{}}
}

// ShouldPlan reports whether planning should run at this step, per §4.6's
// cadence: always on step 0, otherwise every intervalSteps steps, unless
// suppressed by the post-skill-verification flag (§4.11).
func ShouldPlan(step, intervalSteps int, suppressedByPostSkillVerification bool) bool {
	if suppressedByPostSkillVerification {
		return false
	}
	if step == 0 {
		return true
	}
	if intervalSteps <= 0 {
		return false
	}
	return step%intervalSteps == 0
}

func normalizeTask(task string) string {
	return strings.ToLower(strings.Join(strings.Fields(task), " "))
}

func cacheKey(task string) string {
	sum := sha256.Sum256([]byte(normalizeTask(task)))
	return hex.EncodeToString(sum[:])
}

// Plan routes task via the router system prompt, using the per-task cache
// when present (§4.6).
func (p *Planner) Plan(ctx context.Context, systemPrompt, task string, skills []SkillDescriptor) (PlanResult, error) {
	key := cacheKey(task)

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	prompt := buildRouterPrompt(systemPrompt, skills)

	raw, err := p.model.Plan(ctx, prompt, task)
	if err != nil {
		return PlanResult{}, fmt.Errorf("planner: route request: %w", err)
	}

	result := parseRouterResponse(raw)

	p.mu.Lock()
	p.cache[key] = result
	p.mu.Unlock()

	return result, nil
}

// InvalidateCache drops a task's cached plan (e.g. after a failed skill run
// that should be replanned).
func (p *Planner) InvalidateCache(task string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, cacheKey(task))
}

func buildRouterPrompt(systemPrompt string, skills []SkillDescriptor) string {
	if len(skills) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nAvailable skills:\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s(%s): %s\n", s.Name, strings.Join(s.Params, ", "), s.Description)
	}
	return b.String()
}

func parseRouterResponse(content string) PlanResult {
	decisionText, ok := textextract.Tag(content, "decision")
	decision := DecisionUseAtomicActions
	if ok && strings.TrimSpace(decisionText) == string(DecisionUseSkill) {
		decision = DecisionUseSkill
	}

	execution, _ := textextract.Tag(content, "execution")

	result := PlanResult{
		Decision:      decision,
		RawContent:    content,
		SubtaskStatus: parseSubtaskStatus(content),
	}

	if decision == DecisionUseSkill && execution != "" {
		name, params := parseSkillCall(execution)
		result.SkillName = name
		result.SkillParams = params
	}

	return result
}

var (
	subtaskStatusBlockPattern = regexp.MustCompile(`(?is)<subtask_status>\s*(.*?)\s*</subtask_status>`)
	subtaskFieldStatus        = regexp.MustCompile(`(?i)Status:\s*["']?([^"'\n\r]+)["']?`)
	subtaskFieldConfidence    = regexp.MustCompile(`(?i)Confidence:\s*["']?([^"'\n\r]+)["']?`)
	subtaskFieldReasoning     = regexp.MustCompile(`(?i)Reasoning:\s*([^\n\r]+)`)
	subtaskFieldNextAction    = regexp.MustCompile(`(?i)Next_Action:\s*["']?([^"'\n\r]+)["']?`)
)

// parseSubtaskStatus extracts the router's self-reported subtask progress
// from an optional <subtask_status> block (§4.6). A missing block or field
// yields the zero value for that field.
func parseSubtaskStatus(content string) SubtaskStatus {
	block := subtaskStatusBlockPattern.FindStringSubmatch(content)
	if block == nil {
		return SubtaskStatus{}
	}
	body := block[1]

	var status SubtaskStatus
	if m := subtaskFieldStatus.FindStringSubmatch(body); m != nil {
		status.Status = strings.TrimSpace(m[1])
	}
	if m := subtaskFieldConfidence.FindStringSubmatch(body); m != nil {
		status.Confidence = strings.TrimSpace(m[1])
	}
	if m := subtaskFieldReasoning.FindStringSubmatch(body); m != nil {
		status.Reasoning = strings.TrimSpace(m[1])
	}
	if m := subtaskFieldNextAction.FindStringSubmatch(body); m != nil {
		status.NextAction = strings.TrimSpace(m[1])
	}
	return status
}
