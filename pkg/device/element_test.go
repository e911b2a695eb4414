package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleXML = `<hierarchy>
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]" enabled="true" visible-to-user="true">
    <node class="android.widget.Button" resource-id="com.example:id/ok" text="OK" bounds="[100,200][300,260]"
          enabled="true" visible-to-user="true" clickable="true" focusable="true" focused="false"/>
    <node class="android.widget.EditText" resource-id="com.example:id/search" bounds="[400,200][900,260]"
          enabled="true" visible-to-user="true" clickable="false" focusable="true" focused="true"/>
    <node class="android.widget.ImageButton" bounds="[110,205][290,255]"
          enabled="true" visible-to-user="true" clickable="true" focusable="true" focused="false">
      <node class="android.widget.TextView" text="Confirm" bounds="[120,210][280,250]" enabled="true" visible-to-user="true"/>
    </node>
  </node>
</hierarchy>`

func TestExtractElementsFiltersActionable(t *testing.T) {
	elements, err := ExtractElements(sampleXML)
	require.NoError(t, err)
	require.NotEmpty(t, elements)

	for _, e := range elements {
		require.NotEmpty(t, e.ElemID)
	}
}

func TestExtractElementsDedupesCloseClickableAndFocusable(t *testing.T) {
	elements, err := ExtractElements(sampleXML)
	require.NoError(t, err)

	// The OK Button and the ImageButton are both clickable and focusable; each
	// focusable copy lies within 30px of a clickable with no contradicting
	// semantics, so it is dropped. The EditText is only focusable and far
	// away, so it must still be emitted: OK, ImageButton, EditText.
	require.Len(t, elements, 3)
	var sawSearch bool
	for _, e := range elements {
		if e.ResourceID == "com.example:id/search" {
			sawSearch = true
		}
	}
	require.True(t, sawSearch, "distinct focusable element should not be deduped away")
}

func TestExtractElementsIsDeterministic(t *testing.T) {
	a, err := ExtractElements(sampleXML)
	require.NoError(t, err)
	b, err := ExtractElements(sampleXML)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestBBoxCenter(t *testing.T) {
	b := BBox{X1: 100, Y1: 200, X2: 300, Y2: 260}
	require.Equal(t, Point{X: 200, Y: 230}, b.Center())
}

func TestJaccardSimilarityIdentical(t *testing.T) {
	elements, err := ExtractElements(sampleXML)
	require.NoError(t, err)
	require.Equal(t, 1.0, JaccardSimilarity(elements, elements))
}

func TestJaccardSimilarityDisjoint(t *testing.T) {
	a := []UiElement{{Text: "Alpha"}}
	b := []UiElement{{Text: "Beta"}}
	require.Equal(t, 0.0, JaccardSimilarity(a, b))
}

func TestJaccardSimilarityEmptyBoth(t *testing.T) {
	require.Equal(t, 0.0, JaccardSimilarity(nil, nil))
}
