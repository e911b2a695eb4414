package textextract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	Confidence float64 `json:"confidence"`
	Result     string  `json:"execution_result"`
}

func TestJSONParsesPureJSON(t *testing.T) {
	var p payload
	require.NoError(t, JSON(`{"confidence": 0.8, "execution_result": "success"}`, &p))
	require.Equal(t, 0.8, p.Confidence)
}

func TestJSONStripsFencedBlock(t *testing.T) {
	var p payload
	text := "```json\n{\"confidence\": 0.5, \"execution_result\": \"failure\"}\n```"
	require.NoError(t, JSON(text, &p))
	require.Equal(t, "failure", p.Result)
}

func TestJSONStripsBareFence(t *testing.T) {
	var p payload
	text := "```\n{\"confidence\": 0.9, \"execution_result\": \"success\"}\n```"
	require.NoError(t, JSON(text, &p))
	require.Equal(t, 0.9, p.Confidence)
}

func TestJSONRejectsInvalid(t *testing.T) {
	var p payload
	require.Error(t, JSON("not json at all", &p))
}

func TestTagExtractsContent(t *testing.T) {
	content, ok := Tag("prefix <decision>use_skill</decision> suffix", "decision")
	require.True(t, ok)
	require.Equal(t, "use_skill", content)
}

func TestTagMissingReturnsFalse(t *testing.T) {
	_, ok := Tag("no tags here", "decision")
	require.False(t, ok)
}
