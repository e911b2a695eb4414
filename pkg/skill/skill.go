// Package skill implements SkillExecutor (C8, §4.7): running a pre-authored
// ordered action list (a "skill") against the live device, re-resolving each
// action's target element against a freshly captured screen before dispatch.
package skill

import (
	"context"
	"fmt"

	"github.com/autoglm/phoneagent/pkg/action"
	"github.com/autoglm/phoneagent/pkg/device"
)

// Action is one step of a skill's action list (§6 "Action dict"), as
// authored by a skill function rather than emitted live by the VLM.
type Action struct {
	Action    string
	Element   string // normalized element path, matched by exact string equality
	Text      string
	Direction string
	Dist      string
	App       string
	Duration  string
	Message   string
}

// Status is the coarse Success/Error outcome §4.7 returns to its caller.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

// Result is the outcome of running one skill.
type Result struct {
	Status Status
	Reason string
	// StepsRun is how many of the skill's actions executed before it
	// stopped (equal to len(actions) on success).
	StepsRun int
}

// Executor runs a skill's action list against a device, resolving each
// action's element path against a freshly captured screen per step (§4.7).
type Executor struct {
	Device  device.Controller
	Handler *action.Handler
}

// New constructs an Executor sharing the device and action handler the
// atomic-action loop already uses, so skill-dispatched actions are recorded
// and confirmed identically to VLM-dispatched ones.
func New(dev device.Controller, handler *action.Handler) *Executor {
	return &Executor{Device: dev, Handler: handler}
}

// Run executes a skill's actions in order. Any unresolved element or
// dispatch failure aborts the skill and returns StatusError (§4.7 step 3).
func (x *Executor) Run(ctx context.Context, actions []Action) Result {
	for i, a := range actions {
		screen, err := x.Device.Screenshot(ctx)
		if err != nil {
			return Result{Status: StatusError, Reason: fmt.Sprintf("step %d: capture screen: %v", i, err), StepsRun: i}
		}

		projected := projectElements(screen.Elements)

		var resolved device.UiElement
		if a.Element != "" {
			el, ok := projected[a.Element]
			if !ok {
				return Result{Status: StatusError, Reason: fmt.Sprintf("step %d: element not found: %s", i, a.Element), StepsRun: i}
			}
			resolved = el
		}

		x.Handler.SetScreen(screen.Elements, screen.Width)
		if a.Element != "" {
			x.Handler.Elements[a.Element] = resolved
		}

		expr := buildExpr(a)
		result, _, err := x.Handler.Execute(ctx, expr)
		if err != nil || !result.Success {
			reason := result.Message
			if err != nil {
				reason = err.Error()
			}
			return Result{Status: StatusError, Reason: fmt.Sprintf("step %d: %s", i, reason), StepsRun: i}
		}
	}
	return Result{Status: StatusSuccess, StepsRun: len(actions)}
}

// Projection is an element reduced to what element-path matching needs
// (§4.7 step 1: "project elements into {bbox, path}").
type Projection struct {
	Path string
	BBox device.BBox
}

func projectElements(elements []device.UiElement) map[string]device.UiElement {
	out := make(map[string]device.UiElement, len(elements))
	for _, e := range elements {
		out[e.ClassPath] = e
	}
	return out
}

// buildExpr renders a skill Action as the same "do(...)"/"finish(...)" call
// grammar action.Parse expects, so dispatch reuses the atomic-action Handler
// unchanged (§4.7 step 3).
func buildExpr(a Action) string {
	if a.Action == "Finish" {
		return fmt.Sprintf("finish(message=%q)", a.Message)
	}

	args := []string{fmt.Sprintf("action=%q", a.Action)}
	if a.Element != "" {
		args = append(args, fmt.Sprintf("element=%q", a.Element))
	}
	if a.App != "" {
		args = append(args, fmt.Sprintf("app=%q", a.App))
	}
	if a.Text != "" {
		args = append(args, fmt.Sprintf("text=%q", a.Text))
	}
	if a.Direction != "" {
		args = append(args, fmt.Sprintf("direction=%q", a.Direction))
	}
	if a.Dist != "" {
		args = append(args, fmt.Sprintf("dist=%q", a.Dist))
	}
	if a.Duration != "" {
		args = append(args, fmt.Sprintf("duration=%q", a.Duration))
	}

	joined := args[0]
	for _, arg := range args[1:] {
		joined += ", " + arg
	}
	return fmt.Sprintf("do(%s)", joined)
}
