package planner

import (
	"context"
	"regexp"
	"strings"

	"github.com/autoglm/phoneagent/pkg/textextract"
)

// SubTask is one unit of a decomposed task (§4.6's supplemented
// decompose API, grounded on the original's TaskPlan/SubTask dataclasses).
type SubTask struct {
	Description string
	Tag         string
}

// TaskPlan is the result of decomposing a task into subtasks.
type TaskPlan struct {
	IsDecomposed bool
	Subtasks     []SubTask
	CurrentIndex int
}

// CurrentSubtask returns the subtask in progress, if any.
func (t TaskPlan) CurrentSubtask() (SubTask, bool) {
	if t.CurrentIndex < 0 || t.CurrentIndex >= len(t.Subtasks) {
		return SubTask{}, false
	}
	return t.Subtasks[t.CurrentIndex], true
}

// IsComplete reports whether every subtask has been advanced past.
func (t TaskPlan) IsComplete() bool {
	return t.CurrentIndex >= len(t.Subtasks)
}

func singleTaskPlan(task, tag string) TaskPlan {
	if tag == "" {
		tag = "general.task"
	}
	return TaskPlan{
		IsDecomposed: false,
		Subtasks:     []SubTask{{Description: task, Tag: tag}},
	}
}

// Decompose splits a complex task into subtasks with functional tags
// (§4.6). Any parse failure or empty plan falls back to a single subtask
// tagged "general.task".
func (p *Planner) Decompose(ctx context.Context, systemPrompt, task string) TaskPlan {
	raw, err := p.model.Plan(ctx, systemPrompt, "User task: "+task)
	if err != nil {
		return singleTaskPlan(task, "")
	}
	return parseDecompositionResponse(raw, task)
}

var subtaskPattern = regexp.MustCompile(`(?is)-\s*Subtask\s+\d+:\s*([^\n\r]+)\s*Tag:\s*([^\n\r]+)`)
var tagLinePattern = regexp.MustCompile(`(?i)^tag:\s*(.+)$`)
var bulletPattern = regexp.MustCompile(`^[-*]\s*(.+)$`)
var singleTaskTagPattern = regexp.MustCompile(`(?i)tag:\s*([^\n\r]+)`)

func parseDecompositionResponse(content, originalTask string) TaskPlan {
	planContent, ok := textextract.Tag(content, "plan")
	if !ok || strings.TrimSpace(planContent) == "" {
		return singleTaskPlan(originalTask, "")
	}

	lower := strings.ToLower(planContent)
	if strings.Contains(lower, "no decomposition needed") || strings.Contains(lower, "single task:") {
		tag := "general.task"
		if m := singleTaskTagPattern.FindStringSubmatch(planContent); m != nil {
			tag = strings.TrimSpace(m[1])
		}
		return singleTaskPlan(originalTask, tag)
	}

	var subtasks []SubTask
	for _, m := range subtaskPattern.FindAllStringSubmatch(planContent, -1) {
		subtasks = append(subtasks, SubTask{
			Description: strings.TrimSpace(m[1]),
			Tag:         strings.TrimSpace(m[2]),
		})
	}

	if len(subtasks) == 0 {
		subtasks = parseBulletedSubtasks(planContent)
	}

	if len(subtasks) == 0 {
		return singleTaskPlan(originalTask, "")
	}

	return TaskPlan{
		IsDecomposed: len(subtasks) > 1,
		Subtasks:     subtasks,
	}
}

func parseBulletedSubtasks(planContent string) []SubTask {
	var subtasks []SubTask
	var currentDescription string

	for _, line := range strings.Split(planContent, "\n") {
		line = strings.TrimSpace(line)
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			currentDescription = strings.TrimSpace(m[1])
			continue
		}
		if m := tagLinePattern.FindStringSubmatch(line); m != nil && currentDescription != "" {
			subtasks = append(subtasks, SubTask{
				Description: currentDescription,
				Tag:         strings.TrimSpace(m[1]),
			})
			currentDescription = ""
		}
	}
	return subtasks
}
