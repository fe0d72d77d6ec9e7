package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		verdict    Verdict
		confidence float64
	}{
		{
			"plain json",
			`{"decision":"APPROVED","confidence":0.8,"reason":"no adverse news"}`,
			VerdictApproved, 0.8,
		},
		{
			"json code fence",
			"```json\n{\"decision\":\"REJECTED\",\"confidence\":0.9,\"reason\":\"exchange hack headline\"}\n```",
			VerdictRejected, 0.9,
		},
		{
			"bare code fence",
			"```\n{\"decision\":\"APPROVED\",\"confidence\":0.6,\"reason\":\"ok\"}\n```",
			VerdictApproved, 0.6,
		},
		{
			"prose around json",
			`Based on the indicators, here is my assessment: {"decision":"REJECTED","confidence":0.7,"reason":"overheated"} Let me know.`,
			VerdictRejected, 0.7,
		},
		{
			"think tags stripped",
			"<think>the volume spike looks\nsuspicious</think>{\"decision\":\"REJECTED\",\"confidence\":0.95,\"reason\":\"fakeout risk\"}",
			VerdictRejected, 0.95,
		},
		{
			"confidence clamped high",
			`{"decision":"APPROVED","confidence":1.7,"reason":"ok"}`,
			VerdictApproved, 1.0,
		},
		{
			"confidence clamped low",
			`{"decision":"APPROVED","confidence":-0.2,"reason":"ok"}`,
			VerdictApproved, 0.0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDecision(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, got.Verdict)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestParseDecisionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no json at all", "I cannot decide on this one."},
		{"unknown verdict", `{"decision":"MAYBE","confidence":0.5,"reason":"unsure"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDecision(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestStripThinkTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "answer", StripThinkTags("<think>reasoning\nover lines</think>answer"))
	assert.Equal(t, "no tags here", StripThinkTags("no tags here"))
}
