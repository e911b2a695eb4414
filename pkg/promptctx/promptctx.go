// Package promptctx implements StructuredContext (C4, §4.3): an ordered,
// sectioned prompt builder that renders to an OpenAI-style chat message list,
// with per-step eviction of the screenshot and screen-info sections.
package promptctx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPart is one part of a multi-part chat message content array,
// matching the OpenAI vision content-part shape (`type: "text"` /
// `type: "image_url"`).
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is one rendered {role, content} entry. Content holds plain text;
// Parts, when non-empty, holds a multi-part (text+image) message instead and
// takes precedence when present.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func textMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// HistoryEntry is one completed step folded into the History section (§4.3).
type HistoryEntry struct {
	Step              int
	Thinking          string
	ActionDescription string
	ActionCode        string
	Success           bool
}

// ReflectionEntry is one completed step's reflection outcome (§4.3, §4.9).
type ReflectionEntry struct {
	Step              int
	ActionType        string
	ActionDescription string
	Success           bool
	Confidence        float64
	Reasoning         string
	Suggestions       string
}

// ScreenElement is one element descriptor rendered into ScreenInfo.
type ScreenElement struct {
	Index      string `json:"index"`
	ClassName  string `json:"class_name,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Bounds     string `json:"bounds,omitempty"`
}

const (
	defaultHistoryCapacity    = 10
	defaultReflectionCapacity = 5
)

// StructuredContext owns the ordered prompt sections for one agent step
// (§4.3). Not safe for concurrent use; an AgentLoop owns one exclusively.
type StructuredContext struct {
	systemPrompt string
	task         string

	history    []HistoryEntry
	reflection []ReflectionEntry

	historyCapacity    int
	reflectionCapacity int

	screenshotB64     string
	screenshotW       int
	screenshotH       int

	screenApp      string
	screenElements []ScreenElement

	speculative string

	stepCount int
}

// New constructs a StructuredContext with the spec's default bounded
// capacities (history ≤10, reflection ≤5).
func New() *StructuredContext {
	return &StructuredContext{
		historyCapacity:    defaultHistoryCapacity,
		reflectionCapacity: defaultReflectionCapacity,
	}
}

// WithCapacities overrides the default History/Reflection FIFO sizes.
func (c *StructuredContext) WithCapacities(history, reflection int) *StructuredContext {
	if history > 0 {
		c.historyCapacity = history
	}
	if reflection > 0 {
		c.reflectionCapacity = reflection
	}
	return c
}

// SetSystemPrompt sets the frozen system instruction string.
func (c *StructuredContext) SetSystemPrompt(prompt string) {
	c.systemPrompt = prompt
}

// SetTask sets the task description, rendered once as a user message.
func (c *StructuredContext) SetTask(task string) {
	c.task = task
}

// AddHistory appends a completed step to the History FIFO, evicting the
// oldest entry past capacity.
func (c *StructuredContext) AddHistory(entry HistoryEntry) {
	c.stepCount++
	entry.Step = c.stepCount
	c.history = append(c.history, entry)
	if len(c.history) > c.historyCapacity {
		c.history = c.history[len(c.history)-c.historyCapacity:]
	}
}

// AddReflection appends a reflection outcome to the Reflection FIFO,
// evicting the oldest entry past capacity.
func (c *StructuredContext) AddReflection(entry ReflectionEntry) {
	entry.Step = c.stepCount
	c.reflection = append(c.reflection, entry)
	if len(c.reflection) > c.reflectionCapacity {
		c.reflection = c.reflection[len(c.reflection)-c.reflectionCapacity:]
	}
}

// SetScreenshot sets the current step's screenshot (at most one, cleared by
// ClearStep).
func (c *StructuredContext) SetScreenshot(png []byte, width, height int) {
	c.screenshotB64 = base64.StdEncoding.EncodeToString(png)
	c.screenshotW = width
	c.screenshotH = height
}

// SetScreenInfo sets the current step's structured UI description (cleared
// by ClearStep).
func (c *StructuredContext) SetScreenInfo(currentApp string, elements []ScreenElement) {
	c.screenApp = currentApp
	c.screenElements = elements
}

// SetSpeculative sets a transient block rendered between Reflection and
// Screenshot (§4.8); cleared by ClearStep.
func (c *StructuredContext) SetSpeculative(block string) {
	c.speculative = block
}

// ClearStep evicts the current step's Screenshot, ScreenInfo and
// SpeculativeContext sections (§4.3, §4.11 step 11). History and Reflection
// are untouched.
func (c *StructuredContext) ClearStep() {
	c.screenshotB64 = ""
	c.screenshotW = 0
	c.screenshotH = 0
	c.screenApp = ""
	c.screenElements = nil
	c.speculative = ""
}

// Reset clears everything except the system prompt, for starting a new task.
func (c *StructuredContext) Reset() {
	c.task = ""
	c.history = nil
	c.reflection = nil
	c.stepCount = 0
	c.ClearStep()
}

// StepCount reports the number of History entries added so far.
func (c *StructuredContext) StepCount() int {
	return c.stepCount
}

// ToMessages renders the fixed section order — SystemPrompt, TaskDescription,
// History, Reflection, SpeculativeContext, Screenshot, ScreenInfo — into an
// OpenAI-style chat message list. Rendering is pure: the same section state
// always produces the same message list (§4.3 Contracts).
func (c *StructuredContext) ToMessages() []Message {
	var messages []Message

	if c.systemPrompt != "" {
		messages = append(messages, textMessage("system", c.systemPrompt))
	}

	if c.task != "" {
		messages = append(messages, textMessage("user", fmt.Sprintf("# Task Description\n\n%s\n\n---\n\n", c.task)))
	}

	if msg, ok := c.renderHistory(); ok {
		messages = append(messages, msg)
	}

	if msg, ok := c.renderReflection(); ok {
		messages = append(messages, msg)
	}

	if c.speculative != "" {
		messages = append(messages, textMessage("user", c.speculative))
	}

	if msg, ok := c.renderScreenshot(); ok {
		messages = append(messages, msg)
	}

	if msg, ok := c.renderScreenInfo(); ok {
		messages = append(messages, msg)
	}

	return messages
}

func (c *StructuredContext) renderHistory() (Message, bool) {
	if len(c.history) == 0 {
		return Message{}, false
	}
	var b strings.Builder
	b.WriteString("# Action History\n\n")
	for _, e := range c.history {
		status := "done"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "**Step %d** [%s]\n- %s\n", e.Step, status, e.Thinking)
	}
	b.WriteString("---\n\n")
	return textMessage("assistant", b.String()), true
}

// renderReflection emits only when the most recent reflection entry failed
// or had low confidence (§4.3: success=false OR confidence<0.7); otherwise
// the section renders empty, per spec.
func (c *StructuredContext) renderReflection() (Message, bool) {
	if len(c.reflection) == 0 {
		return Message{}, false
	}
	latest := c.reflection[len(c.reflection)-1]
	if latest.Success && latest.Confidence >= 0.7 {
		return Message{}, false
	}

	var b strings.Builder
	b.WriteString("# Previous Action Issue\n\n")
	fmt.Fprintf(&b, "**Step %d** - %s (confidence: %.2f)\n", latest.Step, latest.ActionType, latest.Confidence)
	fmt.Fprintf(&b, "- Issue: %s\n", latest.Reasoning)
	if latest.Suggestions != "" {
		fmt.Fprintf(&b, "- Suggestion: %s\n", latest.Suggestions)
	}
	b.WriteString("\n---\n\n")
	return textMessage("assistant", b.String()), true
}

func (c *StructuredContext) renderScreenshot() (Message, bool) {
	if c.screenshotB64 == "" {
		return Message{}, false
	}
	header := "# Current Screen\n\n"
	if c.screenshotW > 0 && c.screenshotH > 0 {
		header += fmt.Sprintf("**Resolution:** %dx%d\n", c.screenshotW, c.screenshotH)
	}
	header += "\n---\n\n"
	return Message{
		Role: "user",
		Parts: []ContentPart{
			{Type: "text", Text: header},
			{Type: "image_url", ImageURL: "data:image/png;base64," + c.screenshotB64},
		},
	}, true
}

func (c *StructuredContext) renderScreenInfo() (Message, bool) {
	if c.screenApp == "" && len(c.screenElements) == 0 {
		return Message{}, false
	}
	payload := map[string]interface{}{
		"current_app": c.screenApp,
		"elements":    c.screenElements,
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		body = []byte("{}")
	}
	content := fmt.Sprintf("# Screen Info\n\n%s\n\n---\n\n", string(body))
	return textMessage("user", content), true
}

// Summary is a compact snapshot of the context's current shape, useful for
// logging and diagnostics.
type Summary struct {
	StepCount        int
	Task             string
	HistoryEntries   int
	ReflectionEntries int
	HasScreenshot     bool
	CurrentApp        string
	ElementCount      int
}

// Summary reports the current section sizes and state.
func (c *StructuredContext) Summary() Summary {
	return Summary{
		StepCount:         c.stepCount,
		Task:              c.task,
		HistoryEntries:    len(c.history),
		ReflectionEntries: len(c.reflection),
		HasScreenshot:     c.screenshotB64 != "",
		CurrentApp:        c.screenApp,
		ElementCount:      len(c.screenElements),
	}
}
