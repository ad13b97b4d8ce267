package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var verdictSchema = Schema{
	Fields: []Field{
		{Name: "verdict", Kind: KindString},
		{Name: "confidence", Kind: KindNumber},
		{Name: "feedback", Kind: KindString},
		{Name: "criteria", Kind: KindMap, Optional: true},
	},
}

func TestExtract_PlainJSON(t *testing.T) {
	raw := `{"verdict": "approve", "confidence": 0.9, "feedback": "good"}`
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	assert.Equal(t, "approve", res.String("verdict"))
	assert.Equal(t, 0.9, res.Number("confidence"))
}

func TestExtract_FencedBlock(t *testing.T) {
	raw := "Here is my review:\n```json\n{\"verdict\": \"revise\", \"confidence\": 0.7, \"feedback\": \"missing acknowledgment\"}\n```\nLet me know."
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	assert.Equal(t, "revise", res.String("verdict"))
	assert.Equal(t, "missing acknowledgment", res.String("feedback"))
}

func TestExtract_ProseWrappedObject(t *testing.T) {
	raw := `Sure! {"verdict": "enhance", "confidence": 0.6, "feedback": "add an example"} Hope that helps.`
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	assert.Equal(t, "enhance", res.String("verdict"))
}

func TestExtract_NestedCriteriaMap(t *testing.T) {
	raw := `{"verdict": "revise", "confidence": 0.5, "feedback": "x", "criteria": {"warmth": true, "acknowledgment": false}}`
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	criteria := res.Map("criteria")
	require.NotNil(t, criteria)
	assert.Equal(t, false, criteria["acknowledgment"])
}

func TestExtract_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t\n"} {
		_, fail := Extract(raw, verdictSchema)
		require.NotNil(t, fail)
		assert.Equal(t, ReasonEmpty, fail.Reason)
	}
}

func TestExtract_Truncated(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"mid-object", `{"verdict": "approve", "confidence": 0.9, "feedb`},
		{"mid-string", `{"verdict": "approve", "feedback": "the response was`},
		{"open fence", "```json\n{\"verdict\": \"approve\""},
		{"nested unclosed", `{"verdict": "revise", "criteria": {"warmth": true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fail := Extract(tt.raw, verdictSchema)
			require.NotNil(t, fail)
			assert.Equal(t, ReasonTruncated, fail.Reason)
			assert.Equal(t, tt.raw, fail.RawText)
		})
	}
}

func TestExtract_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json at all", "I think the response looks fine overall."},
		{"bad literal", `{"verdict": approve}`},
		{"trailing comma", `{"verdict": "approve",}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fail := Extract(tt.raw, verdictSchema)
			require.NotNil(t, fail)
			assert.Equal(t, ReasonInvalidSyntax, fail.Reason)
		})
	}
}

func TestExtract_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		detail string
	}{
		{"missing field", `{"verdict": "approve", "confidence": 0.9}`, `missing field "feedback"`},
		{"wrong type", `{"verdict": "approve", "confidence": "high", "feedback": "ok"}`, `field "confidence" has type string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fail := Extract(tt.raw, verdictSchema)
			require.NotNil(t, fail)
			assert.Equal(t, ReasonSchemaMismatch, fail.Reason)
			assert.Contains(t, fail.Detail, tt.detail)
		})
	}
}

func TestExtract_OptionalFieldAbsent(t *testing.T) {
	raw := `{"verdict": "approve", "confidence": 1, "feedback": "clean"}`
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	assert.Nil(t, res.Map("criteria"))
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	raw := `{"verdict": "approve", "confidence": 0.8, "feedback": "the phrase {x} is fine"}`
	res, fail := Extract(raw, verdictSchema)
	require.Nil(t, fail)
	assert.Contains(t, res.String("feedback"), "{x}")
}
