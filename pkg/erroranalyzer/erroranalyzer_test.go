package erroranalyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoglm/phoneagent/pkg/memory"
)

func tapAction(zone string) memory.WorkAction {
	return memory.WorkAction{Kind: memory.ActionTap, ZonePath: zone}
}

func TestAnalyzeFailureDetectsRepeatedFailure(t *testing.T) {
	a := New()
	recent := []memory.WorkAction{tapAction("/Button[1]"), tapAction("/Button[1]"), tapAction("/Other")}

	pattern, ok := a.AnalyzeFailure(tapAction("/Button[1]"), memory.ReflectionResult{}, UIContext{}, recent)
	require.True(t, ok)
	require.Equal(t, "repeated_failure", pattern.PatternType)
	require.Equal(t, 0.8, pattern.Confidence)
}

func TestAnalyzeFailureDetectsWrongElement(t *testing.T) {
	a := New()
	reflection := memory.ReflectionResult{Reasoning: "tapped the wrong element, no response from UI"}

	pattern, ok := a.AnalyzeFailure(tapAction("/Button[2]"), reflection, UIContext{}, nil)
	require.True(t, ok)
	require.Equal(t, "wrong_element", pattern.PatternType)
}

func TestAnalyzeFailureDetectsTimingIssue(t *testing.T) {
	a := New()
	reflection := memory.ReflectionResult{AbnormalStates: []string{"screen still loading, animation in progress"}}

	pattern, ok := a.AnalyzeFailure(tapAction("/Button[3]"), reflection, UIContext{}, nil)
	require.True(t, ok)
	require.Equal(t, "timing_issue", pattern.PatternType)
}

func TestAnalyzeFailureDetectsInputValidation(t *testing.T) {
	a := New()
	action := memory.WorkAction{Kind: memory.ActionType, ZonePath: "/EditText[1]", Text: "bad@@@"}
	reflection := memory.ReflectionResult{Reasoning: "field validation error, invalid format"}

	pattern, ok := a.AnalyzeFailure(action, reflection, UIContext{}, nil)
	require.True(t, ok)
	require.Equal(t, "input_validation", pattern.PatternType)
}

func TestAnalyzeFailureReturnsFalseWhenNoPatternMatches(t *testing.T) {
	a := New()
	_, ok := a.AnalyzeFailure(tapAction("/Button[9]"), memory.ReflectionResult{Reasoning: "unrelated"}, UIContext{}, nil)
	require.False(t, ok)
}

func TestExtractUIConditionsBuckets(t *testing.T) {
	require.Equal(t, []string{"COMPLEX_UI"}, extractUIConditions(UIContext{ElementCount: 25}))
	require.Equal(t, []string{"SIMPLE_UI"}, extractUIConditions(UIContext{ElementCount: 2}))
	require.Equal(t, []string{"SIMPLE_UI", "APP_COM.EXAMPLE"}, extractUIConditions(UIContext{CurrentApp: "com.example"}))
}

func TestRecordActionResultTracksAndResets(t *testing.T) {
	a := New()
	action := tapAction("/Button[1]")

	a.RecordActionResult(action, false)
	a.RecordActionResult(action, false)
	guidance, ok := a.GetPreventionGuidance(action, UIContext{})
	require.True(t, ok)
	require.Contains(t, guidance, "failed 2 times")

	a.RecordActionResult(action, true)
	_, ok = a.GetPreventionGuidance(action, UIContext{})
	require.False(t, ok)
}

func TestGetPreventionGuidanceSurfacesKnownPattern(t *testing.T) {
	a := New()
	recent := []memory.WorkAction{tapAction("/Button[1]"), tapAction("/Button[1]"), tapAction("/Other")}
	_, ok := a.AnalyzeFailure(tapAction("/Button[1]"), memory.ReflectionResult{}, UIContext{}, recent)
	require.True(t, ok)

	guidance, ok := a.GetPreventionGuidance(tapAction("/Button[1]"), UIContext{})
	require.True(t, ok)
	require.Contains(t, guidance, "Repeated")
}

func TestSummaryReportsTotalsAndTopFailures(t *testing.T) {
	a := New()
	recent := []memory.WorkAction{tapAction("/Button[1]"), tapAction("/Button[1]"), tapAction("/Other")}
	a.AnalyzeFailure(tapAction("/Button[1]"), memory.ReflectionResult{}, UIContext{}, recent)
	a.RecordActionResult(tapAction("/Button[1]"), false)
	a.RecordActionResult(tapAction("/Button[1]"), false)

	summary := a.Summary()
	require.Equal(t, 1, summary.TotalFailures)
	require.Equal(t, 1, summary.DetectedPatterns)
	require.Equal(t, []string{"repeated_failure"}, summary.PatternTypes)
	require.Equal(t, 2, summary.MostFailedActions[actionSignature(memory.ActionTap, "/Button[1]")])
}
