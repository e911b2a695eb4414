package promptctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToMessagesOrdersSectionsAndSkipsEmpty(t *testing.T) {
	c := New()
	c.SetSystemPrompt("you are an agent")
	c.SetTask("open settings")

	messages := c.ToMessages()
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].Role)
	require.Equal(t, "user", messages[1].Role)
	require.Contains(t, messages[1].Content, "open settings")
}

func TestHistoryEvictsOldestPastCapacity(t *testing.T) {
	c := New().WithCapacities(2, 5)
	c.AddHistory(HistoryEntry{Thinking: "one"})
	c.AddHistory(HistoryEntry{Thinking: "two"})
	c.AddHistory(HistoryEntry{Thinking: "three"})

	require.Equal(t, 2, c.Summary().HistoryEntries)

	msg, ok := c.renderHistory()
	require.True(t, ok)
	require.NotContains(t, msg.Content, "one")
	require.Contains(t, msg.Content, "two")
	require.Contains(t, msg.Content, "three")
}

func TestReflectionRendersOnlyWhenLatestFailedOrLowConfidence(t *testing.T) {
	c := New()
	c.AddReflection(ReflectionEntry{Success: true, Confidence: 0.95, Reasoning: "fine"})
	_, ok := c.renderReflection()
	require.False(t, ok, "successful high-confidence reflection must render empty")

	c.AddReflection(ReflectionEntry{Success: false, Confidence: 0.3, Reasoning: "tapped wrong button"})
	msg, ok := c.renderReflection()
	require.True(t, ok)
	require.Contains(t, msg.Content, "tapped wrong button")

	c.AddReflection(ReflectionEntry{Success: true, Confidence: 0.5, Reasoning: "still shaky"})
	msg, ok = c.renderReflection()
	require.True(t, ok, "low confidence still renders even if success=true")
	require.Contains(t, msg.Content, "still shaky")
}

func TestScreenshotRendersImagePartAndIsClearedPerStep(t *testing.T) {
	c := New()
	c.SetScreenshot([]byte{1, 2, 3}, 1080, 1920)

	msg, ok := c.renderScreenshot()
	require.True(t, ok)
	require.Len(t, msg.Parts, 2)
	require.Equal(t, "image_url", msg.Parts[1].Type)
	require.Contains(t, msg.Parts[1].ImageURL, "data:image/png;base64,")

	c.ClearStep()
	_, ok = c.renderScreenshot()
	require.False(t, ok)
}

func TestScreenInfoClearedPerStepButHistoryPersists(t *testing.T) {
	c := New()
	c.AddHistory(HistoryEntry{Thinking: "tapped login"})
	c.SetScreenInfo("com.example.app", []ScreenElement{{Index: "A1", Text: "Login"}})

	messages := c.ToMessages()
	require.True(t, len(messages) > 0)

	c.ClearStep()
	summary := c.Summary()
	require.Equal(t, 1, summary.HistoryEntries)
	require.Equal(t, "", summary.CurrentApp)
	require.Equal(t, 0, summary.ElementCount)
}

func TestSpeculativeBlockRendersBetweenReflectionAndScreenshot(t *testing.T) {
	c := New()
	c.AddReflection(ReflectionEntry{Success: false, Confidence: 0.2, Reasoning: "bad tap"})
	c.SetSpeculative("# Speculative\n\npredicted next action")
	c.SetScreenshot([]byte{9}, 100, 100)

	messages := c.ToMessages()
	var reflectionIdx, speculativeIdx, screenshotIdx = -1, -1, -1
	for i, m := range messages {
		switch {
		case speculativeIdx == -1 && containsText(m, "Speculative"):
			speculativeIdx = i
		case reflectionIdx == -1 && containsText(m, "Previous Action Issue"):
			reflectionIdx = i
		case screenshotIdx == -1 && len(m.Parts) > 0:
			screenshotIdx = i
		}
	}
	require.True(t, reflectionIdx >= 0 && speculativeIdx > reflectionIdx && screenshotIdx > speculativeIdx)
}

func containsText(m Message, substr string) bool {
	if m.Content != "" {
		return contains(m.Content, substr)
	}
	for _, p := range m.Parts {
		if contains(p.Text, substr) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestResetClearsEverythingExceptSystemPrompt(t *testing.T) {
	c := New()
	c.SetSystemPrompt("system")
	c.SetTask("task")
	c.AddHistory(HistoryEntry{Thinking: "x"})
	c.AddReflection(ReflectionEntry{Success: false, Confidence: 0.1})
	c.SetScreenshot([]byte{1}, 10, 10)

	c.Reset()
	summary := c.Summary()
	require.Equal(t, 0, summary.StepCount)
	require.Equal(t, 0, summary.HistoryEntries)
	require.Equal(t, 0, summary.ReflectionEntries)
	require.False(t, summary.HasScreenshot)

	messages := c.ToMessages()
	require.Len(t, messages, 1)
	require.Equal(t, "system", messages[0].Role)
}
