package action

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/autoglm/phoneagent/pkg/device"
	"github.com/autoglm/phoneagent/pkg/memory"
)

// Result is ActionHandler's execute contract (§4.4).
type Result struct {
	Success              bool
	ShouldFinish         bool
	RequiresConfirmation bool
	Message              string
}

// ElementIndex maps the symbolic element ids the VLM references (e.g. "A7")
// to the concrete element they resolved to for the current step.
type ElementIndex map[string]device.UiElement

// IndexElements labels elements A1, A2, ... in order, the same ordering
// StructuredContext uses when rendering ScreenInfo (§4.3), so a symbolic id
// the VLM read back out of the prompt always resolves to the same element.
func IndexElements(elements []device.UiElement) ElementIndex {
	idx := make(ElementIndex, len(elements))
	for i, e := range elements {
		idx[fmt.Sprintf("A%d", i+1)] = e
	}
	return idx
}

// ConfirmFunc synchronously asks the user to approve a sensitive action,
// blocking the step (§5 Cancellation & timeouts).
type ConfirmFunc func(ctx context.Context, message string) bool

// TakeoverFunc hands control to a human for a Take_over action, blocking the
// step until they hand control back (§4.4 dispatch table: Take_over "calls
// takeover callback").
type TakeoverFunc func(ctx context.Context, message string)

// swipeFractions maps a Swipe action's qualitative distance to a fraction of
// screen width used to compute its endpoint (§4.4: "compute endpoint from
// width times {2,5,10}").
var swipeFractions = map[string]float64{
	"short":  1.0 / 10.0,
	"medium": 1.0 / 5.0,
	"long":   1.0 / 2.0,
}

// Handler parses and dispatches one action per call (C5 ActionHandler,
// §4.4). SensitiveApps is a deny-list of ClassPaths that require takeover
// confirmation even when ConfirmSensitive alone wouldn't gate them; empty by
// default (Type actions are always gated when ConfirmSensitive is set).
type Handler struct {
	Device           device.Controller
	Elements         ElementIndex
	ScreenWidth      int
	Confirm          ConfirmFunc
	Takeover         TakeoverFunc
	SensitiveApps    map[string]bool
	ConfirmSensitive bool
}

// NewHandler constructs a Handler bound to a device controller. Elements and
// ScreenWidth must be refreshed every step via SetScreen.
func NewHandler(dev device.Controller, confirm ConfirmFunc, takeover TakeoverFunc) *Handler {
	return &Handler{
		Device:        dev,
		Confirm:       confirm,
		Takeover:      takeover,
		SensitiveApps: map[string]bool{},
	}
}

// SetScreen refreshes the element index and screen width for the current
// step; symbolic element ids and swipe distances are resolved against it.
func (h *Handler) SetScreen(elements []device.UiElement, screenWidth int) {
	h.Elements = IndexElements(elements)
	h.ScreenWidth = screenWidth
}

// Execute parses and dispatches one VLM-emitted expression (§4.4).
func (h *Handler) Execute(ctx context.Context, src string) (Result, WorkActionOrNil, error) {
	expr, err := Parse(src)
	if err != nil {
		return Result{Success: false, ShouldFinish: true, Message: err.Error()}, nil, err
	}

	if expr.Func == "finish" {
		msg := expr.Args["message"]
		return Result{Success: true, ShouldFinish: true, Message: msg}, &memory.WorkAction{Kind: memory.ActionFinish, Description: msg}, nil
	}
	if expr.Func != "do" {
		err := fmt.Errorf("unknown call %q", expr.Func)
		return Result{Success: false, ShouldFinish: true, Message: err.Error()}, nil, err
	}

	kind := memory.ActionKind(expr.Args["action"])
	switch kind {
	case memory.ActionLaunch:
		return h.dispatchLaunch(ctx, expr.Args)
	case memory.ActionTap:
		return h.dispatchTapLike(ctx, kind, expr.Args, h.Device.Tap)
	case memory.ActionLongPress:
		return h.dispatchTapLike(ctx, kind, expr.Args, h.Device.LongPress)
	case memory.ActionDoubleTap:
		return h.dispatchTapLike(ctx, kind, expr.Args, h.Device.DoubleTap)
	case memory.ActionType:
		return h.dispatchType(ctx, expr.Args)
	case memory.ActionSwipe:
		return h.dispatchSwipe(ctx, expr.Args)
	case memory.ActionBack:
		return h.dispatchSimple(ctx, kind, h.Device.Back)
	case memory.ActionHome:
		return h.dispatchSimple(ctx, kind, h.Device.Home)
	case memory.ActionWait:
		return h.dispatchWait(ctx, expr.Args)
	case memory.ActionTakeOver:
		msg := expr.Args["message"]
		if h.Takeover != nil {
			h.Takeover(ctx, msg)
		}
		return Result{Success: true, Message: msg}, &memory.WorkAction{Kind: memory.ActionTakeOver, Description: msg}, nil
	case memory.ActionInteract, memory.ActionNote, memory.ActionCallAPI:
		return Result{Success: true, RequiresConfirmation: true, Message: "user interaction required"},
			&memory.WorkAction{Kind: kind, Description: "user interaction required"}, nil
	default:
		err := fmt.Errorf("unrecognized action kind %q", expr.Args["action"])
		return Result{Success: false, ShouldFinish: true, Message: err.Error()}, nil, err
	}
}

// WorkActionOrNil documents that Execute may return a nil WorkAction on
// error paths where nothing was actually attempted.
type WorkActionOrNil = *memory.WorkAction

func (h *Handler) resolveElement(args map[string]string) (device.UiElement, string, bool) {
	ref, ok := args["element"]
	if !ok {
		return device.UiElement{}, "", false
	}
	el, ok := h.Elements[ref]
	return el, ref, ok
}

func (h *Handler) dispatchLaunch(ctx context.Context, args map[string]string) (Result, WorkActionOrNil, error) {
	app, ok := args["app"]
	if !ok || app == "" {
		return Result{Success: false, Message: "launch: missing app"}, nil, nil
	}
	ok2, err := h.Device.LaunchApp(ctx, app)
	if err != nil || !ok2 {
		msg := "unknown app"
		if err != nil {
			msg = err.Error()
		}
		return Result{Success: false, Message: msg}, &memory.WorkAction{Kind: memory.ActionLaunch, Description: "launch " + app}, nil
	}
	return Result{Success: true}, &memory.WorkAction{Kind: memory.ActionLaunch, Description: "launch " + app}, nil
}

type gestureFunc func(ctx context.Context, p device.Point) error

func (h *Handler) dispatchTapLike(ctx context.Context, kind memory.ActionKind, args map[string]string, gesture gestureFunc) (Result, WorkActionOrNil, error) {
	el, ref, ok := h.resolveElement(args)
	if !ok {
		return Result{Success: false, Message: "element id unresolved"}, nil, nil
	}

	if confirmed, required := h.maybeConfirm(ctx, kind, el); required && !confirmed {
		return Result{Success: false, ShouldFinish: true, Message: "user cancelled"}, nil, nil
	}

	wa := &memory.WorkAction{Kind: kind, Description: string(kind) + " " + ref, ZonePath: el.ClassPath}
	if err := gesture(ctx, el.Center); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	return Result{Success: true}, wa, nil
}

func (h *Handler) dispatchType(ctx context.Context, args map[string]string) (Result, WorkActionOrNil, error) {
	el, ref, ok := h.resolveElement(args)
	text, hasText := args["text"]
	if !ok || !hasText || text == "" {
		return Result{Success: false, Message: "text or element missing"}, nil, nil
	}

	if confirmed, required := h.maybeConfirm(ctx, memory.ActionType, el); required && !confirmed {
		return Result{Success: false, ShouldFinish: true, Message: "user cancelled"}, nil, nil
	}

	wa := &memory.WorkAction{Kind: memory.ActionType, Description: "type into " + ref, ZonePath: el.ClassPath, Text: text}

	if err := h.Device.Tap(ctx, el.Center); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	if err := h.Device.SetIME(ctx); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	defer h.Device.RestoreIME(ctx)

	if err := h.Device.ClearText(ctx); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	if err := h.Device.TypeText(ctx, text); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	return Result{Success: true}, wa, nil
}

func (h *Handler) dispatchSwipe(ctx context.Context, args map[string]string) (Result, WorkActionOrNil, error) {
	el, ref, ok := h.resolveElement(args)
	direction := memory.SwipeDirection(args["direction"])
	if !ok || (direction != memory.DirUp && direction != memory.DirDown && direction != memory.DirLeft && direction != memory.DirRight) {
		return Result{Success: false, Message: "invalid direction"}, nil, nil
	}
	distance := args["dist"]
	fraction, known := swipeFractions[distance]
	if !known {
		fraction = swipeFractions["medium"]
		distance = "medium"
	}

	width := h.ScreenWidth
	if width <= 0 {
		width = 1080
	}
	pixels := int(float64(width) * fraction)

	from := el.Center
	to := from
	switch direction {
	case memory.DirUp:
		to.Y -= pixels
	case memory.DirDown:
		to.Y += pixels
	case memory.DirLeft:
		to.X -= pixels
	case memory.DirRight:
		to.X += pixels
	}

	wa := &memory.WorkAction{
		Kind:        memory.ActionSwipe,
		Description: "swipe " + ref + " " + string(direction),
		ZonePath:    el.ClassPath,
		Direction:   direction,
		Distance:    distance,
	}

	if err := h.Device.Swipe(ctx, from, to, 300); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	return Result{Success: true}, wa, nil
}

func (h *Handler) dispatchSimple(ctx context.Context, kind memory.ActionKind, gesture func(ctx context.Context) error) (Result, WorkActionOrNil, error) {
	wa := &memory.WorkAction{Kind: kind, Description: string(kind)}
	if err := gesture(ctx); err != nil {
		return Result{Success: false, Message: err.Error()}, wa, nil
	}
	return Result{Success: true}, wa, nil
}

func (h *Handler) dispatchWait(ctx context.Context, args map[string]string) (Result, WorkActionOrNil, error) {
	seconds := 1.0
	if raw, ok := args["duration"]; ok {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			seconds = parsed
		}
	}
	wa := &memory.WorkAction{Kind: memory.ActionWait, Description: fmt.Sprintf("wait %.1fs", seconds)}

	select {
	case <-ctx.Done():
		return Result{Success: false, ShouldFinish: true, Message: "user cancelled"}, wa, nil
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	}
	return Result{Success: true}, wa, nil
}

// maybeConfirm checks whether kind+element require confirmation before
// proceeding, and blocks on Handler.Confirm if so (§5, §4.4).
func (h *Handler) maybeConfirm(ctx context.Context, kind memory.ActionKind, el device.UiElement) (confirmed bool, required bool) {
	sensitive := h.ConfirmSensitive && (kind == memory.ActionType || h.SensitiveApps[el.ClassPath])
	if !sensitive || h.Confirm == nil {
		return true, false
	}
	return h.Confirm(ctx, fmt.Sprintf("confirm %s on %s?", kind, el.ClassPath)), true
}
