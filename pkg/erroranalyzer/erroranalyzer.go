// Package erroranalyzer implements the ErrorAnalyzer (C6, §4.6): it watches
// failed WorkActions, recognizes recurring failure patterns, and produces
// guidance the planner and reflection engine can fold back into their
// prompts before a similar action is retried.
package erroranalyzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/autoglm/phoneagent/pkg/memory"
)

// UIContext carries the subset of screen state a pattern check needs.
type UIContext struct {
	ElementCount int
	CurrentApp   string
}

// ErrorPattern is one detected recurring failure mode (§4.6).
type ErrorPattern struct {
	PatternType           string
	Description           string
	FailedActions         []memory.WorkAction
	ContextConditions     []string
	SuggestedAlternatives []string
	Confidence            float64
}

// FailureRecord is one analyzed failure, kept in ErrorAnalyzer's history.
type FailureRecord struct {
	Action        memory.WorkAction
	Reflection    memory.ReflectionResult
	UIContext     UIContext
	Timestamp     int
	RecentActions []memory.WorkAction
}

// ErrorAnalyzer accumulates failure history and surfaces prevention guidance
// before an action that resembles a past failure is dispatched again.
type ErrorAnalyzer struct {
	mu sync.Mutex

	errorHistory       []FailureRecord
	errorPatterns      map[string]ErrorPattern
	actionFailureCount map[string]int
}

// New returns an empty ErrorAnalyzer.
func New() *ErrorAnalyzer {
	return &ErrorAnalyzer{
		errorPatterns:      map[string]ErrorPattern{},
		actionFailureCount: map[string]int{},
	}
}

// AnalyzeFailure records a failed action and attempts to classify it into a
// known ErrorPattern. Returns ok=false if no pattern is recognized.
func (a *ErrorAnalyzer) AnalyzeFailure(action memory.WorkAction, reflection memory.ReflectionResult, ui UIContext, recentHistory []memory.WorkAction) (ErrorPattern, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	recent := recentHistory
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	record := FailureRecord{
		Action:        action,
		Reflection:    reflection,
		UIContext:     ui,
		Timestamp:     len(a.errorHistory),
		RecentActions: recent,
	}
	a.errorHistory = append(a.errorHistory, record)

	pattern, ok := detectErrorPattern(record)
	if !ok {
		return ErrorPattern{}, false
	}

	key := pattern.PatternType + "_" + pattern.Description
	a.errorPatterns[key] = pattern
	return pattern, true
}

func detectErrorPattern(record FailureRecord) (ErrorPattern, bool) {
	action := record.Action
	reflection := record.Reflection
	recent := record.RecentActions

	if isRepeatedActionFailure(action, recent) {
		failed := []memory.WorkAction{action}
		for _, a := range recent {
			if len(recent) >= 3 && sameActionSignature(a, action) {
				failed = append(failed, a)
			}
		}
		return ErrorPattern{
			PatternType:           "repeated_failure",
			Description:           fmt.Sprintf("Repeated %s action failing", action.Kind),
			FailedActions:         failed,
			ContextConditions:     extractUIConditions(record.UIContext),
			SuggestedAlternatives: suggestAlternativesForRepeatedFailure(action),
			Confidence:            0.8,
		}, true
	}

	if isWrongElementTargeting(reflection) {
		return ErrorPattern{
			PatternType:           "wrong_element",
			Description:           "Targeting wrong UI element",
			FailedActions:         []memory.WorkAction{action},
			ContextConditions:     extractUIConditions(record.UIContext),
			SuggestedAlternatives: suggestElementAlternatives(),
			Confidence:            0.7,
		}, true
	}

	if isTimingIssue(reflection) {
		return ErrorPattern{
			PatternType:       "timing_issue",
			Description:       "Action executed too early or UI not ready",
			FailedActions:     []memory.WorkAction{action},
			ContextConditions: []string{"UI_NOT_READY", "LOADING_STATE"},
			SuggestedAlternatives: []string{
				"Wait for UI to stabilize",
				"Check for loading indicators",
			},
			Confidence: 0.6,
		}, true
	}

	if isInputValidationError(action, reflection) {
		return ErrorPattern{
			PatternType:           "input_validation",
			Description:           "Input text rejected or invalid format",
			FailedActions:         []memory.WorkAction{action},
			ContextConditions:     extractUIConditions(record.UIContext),
			SuggestedAlternatives: suggestInputAlternatives(action),
			Confidence:            0.75,
		}, true
	}

	return ErrorPattern{}, false
}

func sameActionSignature(a, b memory.WorkAction) bool {
	return a.Kind == b.Kind && a.ZonePath == b.ZonePath
}

func isRepeatedActionFailure(current memory.WorkAction, recent []memory.WorkAction) bool {
	window := recent
	if len(window) > 3 {
		window = window[len(window)-3:]
	}
	similar := 0
	for _, a := range window {
		if sameActionSignature(a, current) {
			similar++
		}
	}
	return similar >= 2
}

var wrongElementIndicators = []string{
	"wrong element", "incorrect target", "element not found",
	"no response", "element not clickable", "element disabled",
}

func isWrongElementTargeting(r memory.ReflectionResult) bool {
	return anyIndicator(reflectionText(r), wrongElementIndicators)
}

var timingIndicators = []string{
	"loading", "not ready", "still processing", "animation",
	"transition", "delay needed", "too fast", "ui not stable",
}

func isTimingIssue(r memory.ReflectionResult) bool {
	return anyIndicator(reflectionText(r), timingIndicators)
}

var validationIndicators = []string{
	"invalid format", "validation error", "format required",
	"invalid input", "text rejected", "field validation",
}

func isInputValidationError(action memory.WorkAction, r memory.ReflectionResult) bool {
	if action.Kind != memory.ActionType {
		return false
	}
	return anyIndicator(reflectionText(r), validationIndicators)
}

func reflectionText(r memory.ReflectionResult) string {
	return strings.ToLower(r.Reasoning + " " + strings.Join(r.AbnormalStates, " "))
}

func anyIndicator(haystack string, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(haystack, ind) {
			return true
		}
	}
	return false
}

func extractUIConditions(ui UIContext) []string {
	var conditions []string
	switch {
	case ui.ElementCount > 20:
		conditions = append(conditions, "COMPLEX_UI")
	case ui.ElementCount < 5:
		conditions = append(conditions, "SIMPLE_UI")
	}
	if ui.CurrentApp != "" {
		conditions = append(conditions, "APP_"+strings.ToUpper(ui.CurrentApp))
	}
	return conditions
}

func suggestAlternativesForRepeatedFailure(action memory.WorkAction) []string {
	switch action.Kind {
	case memory.ActionTap:
		return []string{
			"Try long press instead of tap",
			"Look for alternative UI elements with similar function",
			"Check if element is scrolled out of view",
			"Wait for UI to stabilize before tapping",
		}
	case memory.ActionType:
		return []string{
			"Clear field before typing",
			"Check input format requirements",
			"Try typing shorter text first",
			"Look for input validation messages",
		}
	case memory.ActionSwipe:
		return []string{
			"Try different swipe direction",
			"Use shorter swipe distance",
			"Check if element is scrollable",
			"Try tap instead of swipe",
		}
	default:
		return []string{"Try a different approach", "Check UI state before action"}
	}
}

func suggestElementAlternatives() []string {
	return []string{
		"Look for elements with similar text or function",
		"Check for buttons or links near the target area",
		"Try elements with keywords related to the task",
		"Look for alternative navigation paths",
	}
}

func suggestInputAlternatives(action memory.WorkAction) []string {
	text := action.Text
	suggestions := []string{
		"Check field requirements (format, length, etc.)",
		"Try simpler input without special characters",
	}
	if strings.ContainsAny(text, "!@#$%^&*()") {
		suggestions = append(suggestions, "Remove special characters from input")
	}
	if len(text) > 50 {
		suggestions = append(suggestions, "Try shorter input text")
	}
	if isDigits(text) {
		suggestions = append(suggestions, "Check if numeric format is correct")
	}
	return suggestions
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func actionSignature(kind memory.ActionKind, zonePath string) string {
	return string(kind) + "_" + zonePath
}

// GetPreventionGuidance returns warning text to fold into the planner's
// prompt before dispatching an action that resembles a known failure, and
// whether any guidance applies.
func (a *ErrorAnalyzer) GetPreventionGuidance(action memory.WorkAction, ui UIContext) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var parts []string

	keys := make([]string, 0, len(a.errorPatterns))
	for k := range a.errorPatterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pattern := a.errorPatterns[k]
		if actionMatchesPattern(action, pattern) {
			alts := pattern.SuggestedAlternatives
			if len(alts) > 2 {
				alts = alts[:2]
			}
			parts = append(parts, fmt.Sprintf(
				"Warning: similar action failed before (%s). Consider: %s",
				pattern.Description, strings.Join(alts, "; ")))
		}
	}

	sig := actionSignature(action.Kind, action.ZonePath)
	if count := a.actionFailureCount[sig]; count >= 2 {
		parts = append(parts, fmt.Sprintf(
			"This exact action has failed %d times. Consider alternative approach or different element.", count))
	}

	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func actionMatchesPattern(action memory.WorkAction, pattern ErrorPattern) bool {
	if len(pattern.FailedActions) == 0 {
		return false
	}
	return sameActionSignature(action, pattern.FailedActions[0])
}

// RecordActionResult tracks per-(kind,element) failure counts, resetting on
// success (§4.6).
func (a *ErrorAnalyzer) RecordActionResult(action memory.WorkAction, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig := actionSignature(action.Kind, action.ZonePath)
	if success {
		a.actionFailureCount[sig] = 0
		return
	}
	a.actionFailureCount[sig]++
}

// Summary is an at-a-glance view of accumulated failure data.
type Summary struct {
	TotalFailures     int
	DetectedPatterns  int
	PatternTypes      []string
	MostFailedActions map[string]int
}

// Summary reports totals across the run (supplements §4.6 with the
// original's get_error_summary).
func (a *ErrorAnalyzer) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	typeSet := map[string]bool{}
	for _, p := range a.errorPatterns {
		typeSet[p.PatternType] = true
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	type kv struct {
		key   string
		count int
	}
	all := make([]kv, 0, len(a.actionFailureCount))
	for k, v := range a.actionFailureCount {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if len(all) > 5 {
		all = all[:5]
	}
	most := make(map[string]int, len(all))
	for _, e := range all {
		most[e.key] = e.count
	}

	return Summary{
		TotalFailures:     len(a.errorHistory),
		DetectedPatterns:  len(a.errorPatterns),
		PatternTypes:      types,
		MostFailedActions: most,
	}
}
