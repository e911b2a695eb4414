package reflection

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autoglm/phoneagent/pkg/device"
)

func boolState(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func el(resourceID, content string, x1, y1 int, checked, focused bool) device.UiElement {
	return device.UiElement{
		ResourceID:  resourceID,
		ContentDesc: content,
		BBox:        device.BBox{X1: x1, Y1: y1, X2: x1 + 10, Y2: y1 + 10},
		Checked:     boolState(checked),
		Focused:     boolState(focused),
	}
}

func TestReflectMissingBeforeReturnsNeutralFailure(t *testing.T) {
	e := New(nil)
	result := e.Reflect(context.Background(), "Tap", "tap login", nil, nil, nil, nil)
	require.False(t, result.ActionSuccessful)
	require.Equal(t, 0.0, result.Confidence)
	require.False(t, result.UsedModelAnalysis)
}

func TestReflectFastPathOnLargeElementCountChange(t *testing.T) {
	before := []device.UiElement{el("a", "", 0, 0, false, false)}
	after := make([]device.UiElement, 0, 5)
	for i := 0; i < 5; i++ {
		after = append(after, el(fmt.Sprintf("b%d", i), "", i*20, i*20, false, false))
	}

	e := New(nil)
	result := e.Reflect(context.Background(), "Tap", "open menu", before, after, nil, nil)
	require.True(t, result.ActionSuccessful)
	require.Equal(t, 0.9, result.Confidence)
	require.False(t, result.UsedModelAnalysis)
}

func TestReflectFastPathOnSuccessIndicatorContent(t *testing.T) {
	before := []device.UiElement{el("a", "Form", 0, 0, false, false)}
	after := []device.UiElement{el("a", "Saved successfully", 0, 0, false, false)}

	e := New(nil)
	result := e.Reflect(context.Background(), "Tap", "save form", before, after, nil, nil)
	require.True(t, result.ActionSuccessful)
}

func TestReflectNoModelNoObviousChangeIsLowConfidence(t *testing.T) {
	before := []device.UiElement{el("a", "Item", 0, 0, false, false)}
	after := []device.UiElement{el("a", "Item", 0, 0, false, false)}

	e := New(nil)
	result := e.Reflect(context.Background(), "Tap", "tap item", before, after, nil, nil)
	require.False(t, result.ActionSuccessful)
	require.Equal(t, 0.4, result.Confidence)
}

func TestReflectStateChangeDetectsCheckToggle(t *testing.T) {
	before := []device.UiElement{el("chk", "Enable wifi", 0, 0, false, false)}
	after := []device.UiElement{el("chk", "Enable wifi", 0, 0, true, false)}

	changes := analyzeInterfaceChanges(before, after)
	require.True(t, changes.hasObviousChanges)
	require.Contains(t, changes.description, "activated")
}

type fakeRequester struct {
	response string
	err      error
}

func (f *fakeRequester) Reflect(ctx context.Context, systemPrompt, userText string, beforePNG, afterPNG []byte) (string, error) {
	return f.response, f.err
}

func TestReflectSlowPathParsesModelJSON(t *testing.T) {
	before := []device.UiElement{el("a", "Item", 0, 0, false, false)}
	after := []device.UiElement{el("a", "Item", 0, 0, false, false)}

	model := &fakeRequester{response: `{"execution_result":"success","confidence":0.85,"reasoning":"button responded"}`}
	e := New(model)
	result := e.Reflect(context.Background(), "Tap", "tap item", before, after, []byte{1}, []byte{2})
	require.True(t, result.ActionSuccessful)
	require.Equal(t, 0.85, result.Confidence)
	require.True(t, result.UsedModelAnalysis)
}

func TestReflectSlowPathHandlesInvalidJSON(t *testing.T) {
	before := []device.UiElement{el("a", "Item", 0, 0, false, false)}
	after := []device.UiElement{el("a", "Item", 0, 0, false, false)}

	model := &fakeRequester{response: "not json"}
	e := New(model)
	result := e.Reflect(context.Background(), "Tap", "tap item", before, after, []byte{1}, []byte{2})
	require.False(t, result.ActionSuccessful)
	require.Equal(t, 0.0, result.Confidence)
	require.True(t, result.UsedModelAnalysis)
}
