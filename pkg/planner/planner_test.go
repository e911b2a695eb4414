package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	response string
	err      error
	calls    int
}

func (f *fakeRequester) Plan(ctx context.Context, systemPrompt, userText string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestPlanParsesUseSkillDecisionAndParams(t *testing.T) {
	model := &fakeRequester{response: `
<decision>use_skill</decision>
<execution>alarm_create(hour=7, minute=30, days=['M', 'W'], vibrate_enabled=false)</execution>
`}
	p := New(model)
	result, err := p.Plan(context.Background(), "system", "set an alarm", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionUseSkill, result.Decision)
	require.Equal(t, "alarm_create", result.SkillName)
	require.Equal(t, 7, result.SkillParams["hour"])
	require.Equal(t, 30, result.SkillParams["minute"])
	require.Equal(t, false, result.SkillParams["vibrate_enabled"])
	require.Equal(t, []interface{}{"M", "W"}, result.SkillParams["days"])
}

func TestPlanDefaultsToAtomicActionsWithoutDecisionTag(t *testing.T) {
	model := &fakeRequester{response: "no tags here"}
	p := New(model)
	result, err := p.Plan(context.Background(), "system", "open settings", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionUseAtomicActions, result.Decision)
}

func TestPlanCachesPerNormalizedTask(t *testing.T) {
	model := &fakeRequester{response: "<decision>use_atomic_actions</decision>"}
	p := New(model)

	_, err := p.Plan(context.Background(), "system", "  Open   Settings ", nil)
	require.NoError(t, err)
	_, err = p.Plan(context.Background(), "system", "open settings", nil)
	require.NoError(t, err)

	require.Equal(t, 1, model.calls, "second call with equivalent normalized task should hit cache")
}

func TestShouldPlanCadence(t *testing.T) {
	require.True(t, ShouldPlan(0, 5, false))
	require.False(t, ShouldPlan(1, 5, false))
	require.True(t, ShouldPlan(5, 5, false))
	require.False(t, ShouldPlan(5, 5, true), "suppressed by post-skill verification")
}

func TestParseSkillCallHandlesNestedListsAndTypes(t *testing.T) {
	name, params := parseSkillCall(`send_message(to="Alice", body='hi, there', retries=3, ratio=0.5, tags=[1, 2, 3])`)
	require.Equal(t, "send_message", name)
	require.Equal(t, "Alice", params["to"])
	require.Equal(t, "hi, there", params["body"])
	require.Equal(t, 3, params["retries"])
	require.Equal(t, 0.5, params["ratio"])
	require.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, params["tags"])
}

func TestDecomposeFallsBackToSingleTaskOnMissingPlan(t *testing.T) {
	model := &fakeRequester{response: "nothing useful"}
	p := New(model)
	plan := p.Decompose(context.Background(), "system", "do a complex thing")
	require.False(t, plan.IsDecomposed)
	require.Len(t, plan.Subtasks, 1)
	require.Equal(t, "general.task", plan.Subtasks[0].Tag)
}

func TestDecomposeParsesMultipleSubtasks(t *testing.T) {
	model := &fakeRequester{response: `
<plan>
- Subtask 1: open the alarm app
  Tag: alarm.open
- Subtask 2: create a new alarm
  Tag: alarm.create
</plan>
`}
	p := New(model)
	plan := p.Decompose(context.Background(), "system", "set an alarm")
	require.True(t, plan.IsDecomposed)
	require.Len(t, plan.Subtasks, 2)
	require.Equal(t, "alarm.open", plan.Subtasks[0].Tag)
	require.Equal(t, "alarm.create", plan.Subtasks[1].Tag)
}

func TestDecomposeHonorsNoDecompositionNeeded(t *testing.T) {
	model := &fakeRequester{response: "<plan>No decomposition needed\nTag: media.play</plan>"}
	p := New(model)
	plan := p.Decompose(context.Background(), "system", "play music")
	require.False(t, plan.IsDecomposed)
	require.Equal(t, "media.play", plan.Subtasks[0].Tag)
}

func TestPlanParsesSubtaskStatusBlock(t *testing.T) {
	model := &fakeRequester{response: `
<decision>use_atomic_actions</decision>
<subtask_status>
Status: in_progress
Confidence: 0.7
Reasoning: the alarm list is now visible
Next_Action: tap create button
</subtask_status>
`}
	p := New(model)
	result, err := p.Plan(context.Background(), "system", "set an alarm", nil)
	require.NoError(t, err)
	require.True(t, result.SubtaskStatus.HasStatus())
	require.Equal(t, "in_progress", result.SubtaskStatus.Status)
	require.Equal(t, "0.7", result.SubtaskStatus.Confidence)
	require.Equal(t, "the alarm list is now visible", result.SubtaskStatus.Reasoning)
	require.Equal(t, "tap create button", result.SubtaskStatus.NextAction)
}

func TestPlanWithoutSubtaskStatusBlockIsZeroValue(t *testing.T) {
	model := &fakeRequester{response: "<decision>use_atomic_actions</decision>"}
	p := New(model)
	result, err := p.Plan(context.Background(), "system", "some other task", nil)
	require.NoError(t, err)
	require.False(t, result.SubtaskStatus.HasStatus())
}

func TestTaskPlanCurrentSubtaskAndCompletion(t *testing.T) {
	plan := TaskPlan{Subtasks: []SubTask{{Description: "a"}, {Description: "b"}}, CurrentIndex: 1}
	cur, ok := plan.CurrentSubtask()
	require.True(t, ok)
	require.Equal(t, "b", cur.Description)
	require.False(t, plan.IsComplete())

	plan.CurrentIndex = 2
	require.True(t, plan.IsComplete())
	_, ok = plan.CurrentSubtask()
	require.False(t, ok)
}
