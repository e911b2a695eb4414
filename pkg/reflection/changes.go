package reflection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/autoglm/phoneagent/pkg/device"
)

type interfaceChanges struct {
	elementCountDiff  int
	newContents       []string
	removedContents   []string
	stateChanges      []string
	hasObviousChanges bool
	description       string
}

// analyzeInterfaceChanges compares two element snapshots and decides whether
// the delta is obvious enough to skip the model-assisted reflect call
// (§4.9 fast path), grounded on the original's element-count/content/state
// heuristics.
func analyzeInterfaceChanges(before, after []device.UiElement) interfaceChanges {
	beforeSet := contentSet(before)
	afterSet := contentSet(after)

	newContents := setDiff(afterSet, beforeSet)
	removedContents := setDiff(beforeSet, afterSet)
	stateChanges := compareElementStates(before, after)

	diff := len(after) - len(before)
	obvious := determineObviousChanges(diff, newContents, removedContents, stateChanges)

	return interfaceChanges{
		elementCountDiff:  diff,
		newContents:       newContents,
		removedContents:   removedContents,
		stateChanges:      stateChanges,
		hasObviousChanges: obvious,
		description:       buildChangesDescription(diff, newContents, removedContents, stateChanges),
	}
}

func elementContentKey(e device.UiElement) string {
	return strings.Trim(fmt.Sprintf("%s|%s|%s", e.ResourceID, e.ContentDesc, e.ClassPath), "|")
}

func contentSet(elements []device.UiElement) map[string]bool {
	set := map[string]bool{}
	for _, e := range elements {
		key := elementContentKey(e)
		if key != "" {
			set[key] = true
		}
	}
	return set
}

func setDiff(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// positionalKey buckets an element by content plus its bbox origin divided
// by 10, matching the original's approximate-position matching so a minor
// resize doesn't defeat before/after comparison.
func positionalKey(e device.UiElement) string {
	content := elementContentKey(e)
	return fmt.Sprintf("%s_%d_%d", content, e.BBox.X1/10, e.BBox.Y1/10)
}

func compareElementStates(before, after []device.UiElement) []string {
	beforeByKey := map[string]device.UiElement{}
	for _, e := range before {
		beforeByKey[positionalKey(e)] = e
	}
	afterByKey := map[string]device.UiElement{}
	for _, e := range after {
		afterByKey[positionalKey(e)] = e
	}

	var changes []string

	var commonKeys []string
	for k := range beforeByKey {
		if _, ok := afterByKey[k]; ok {
			commonKeys = append(commonKeys, k)
		}
	}
	sort.Strings(commonKeys)

	for _, k := range commonKeys {
		b := beforeByKey[k]
		a := afterByKey[k]
		content := elementContentKey(b)
		if content == "" {
			continue
		}
		if b.Checked != a.Checked {
			state := "deactivated"
			if a.Checked == "enabled" {
				state = "activated"
			}
			changes = append(changes, fmt.Sprintf("Element '%s' %s", content, state))
		}
		if b.Focused != a.Focused {
			if b.Focused == "enabled" && a.Focused != "enabled" {
				changes = append(changes, fmt.Sprintf("Element '%s' lost focus", content))
			} else if b.Focused != "enabled" && a.Focused == "enabled" {
				changes = append(changes, fmt.Sprintf("Element '%s' gained focus", content))
			}
		}
	}

	var newKeys, removedKeys []string
	for k := range afterByKey {
		if _, ok := beforeByKey[k]; !ok {
			newKeys = append(newKeys, k)
		}
	}
	for k := range beforeByKey {
		if _, ok := afterByKey[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	sort.Strings(newKeys)
	sort.Strings(removedKeys)

	for _, k := range newKeys {
		e := afterByKey[k]
		if e.Checked == "enabled" {
			if content := elementContentKey(e); content != "" {
				changes = append(changes, fmt.Sprintf("New active element appeared: '%s'", content))
			}
		}
	}
	for _, k := range removedKeys {
		e := beforeByKey[k]
		if e.Checked == "enabled" {
			if content := elementContentKey(e); content != "" {
				changes = append(changes, fmt.Sprintf("Active element disappeared: '%s'", content))
			}
		}
	}

	return changes
}

var successIndicators = []string{
	"success", "complete", "done", "sent", "saved", "created", "deleted",
	"updated", "confirmed", "submitted", "added", "removed", "opened",
	"closed", "started", "stopped", "enabled", "disabled",
}

var navigationIndicators = []string{
	"back", "next", "continue", "cancel", "ok", "yes", "no",
	"menu", "settings", "home", "profile", "login", "logout",
}

func determineObviousChanges(elementCountDiff int, newContents, removedContents, stateChanges []string) bool {
	if abs(elementCountDiff) > 2 {
		return true
	}
	if len(newContents) > 3 || len(removedContents) > 3 {
		return true
	}

	newText := strings.ToLower(strings.Join(newContents, " "))
	removedText := strings.ToLower(strings.Join(removedContents, " "))

	for _, indicator := range successIndicators {
		if strings.Contains(newText, indicator) {
			return true
		}
	}
	for _, indicator := range navigationIndicators {
		if strings.Contains(newText, indicator) && !strings.Contains(removedText, indicator) {
			return true
		}
	}

	return len(stateChanges) > 0
}

func buildChangesDescription(elementCountDiff int, newContents, removedContents, stateChanges []string) string {
	var parts []string

	switch {
	case elementCountDiff > 0:
		parts = append(parts, fmt.Sprintf("Added %d interface elements", elementCountDiff))
	case elementCountDiff < 0:
		parts = append(parts, fmt.Sprintf("Removed %d interface elements", -elementCountDiff))
	default:
		parts = append(parts, "Interface element count remained the same")
	}

	if len(newContents) > 0 {
		sample := newContents
		if len(sample) > 3 {
			sample = sample[:3]
		}
		parts = append(parts, fmt.Sprintf("New content appeared: %s", strings.Join(sample, ", ")))
	}
	if len(removedContents) > 0 {
		sample := removedContents
		if len(sample) > 3 {
			sample = sample[:3]
		}
		parts = append(parts, fmt.Sprintf("Content disappeared: %s", strings.Join(sample, ", ")))
	}
	if len(stateChanges) > 0 {
		parts = append(parts, strings.Join(stateChanges, "; "))
	}

	return strings.Join(parts, ". ")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
