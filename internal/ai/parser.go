package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes reasoning-model think tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseDecision parses the filter response into a Decision.
// Handles markdown code fences and prose around the JSON object.
func ParseDecision(text string) (*Decision, error) {
	cleaned := StripThinkTags(text)

	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var decision Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err == nil {
		return validate(&decision)
	}

	// Try to extract the JSON object from surrounding text
	jsonStart := strings.Index(cleaned, "{")
	jsonEnd := strings.LastIndex(cleaned, "}")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		substr := cleaned[jsonStart : jsonEnd+1]
		if err := json.Unmarshal([]byte(substr), &decision); err == nil {
			return validate(&decision)
		}
	}

	return nil, fmt.Errorf("failed to parse filter response as JSON: %.200s", cleaned)
}

func validate(d *Decision) (*Decision, error) {
	switch d.Verdict {
	case VerdictApproved, VerdictRejected:
	default:
		return nil, fmt.Errorf("unknown filter verdict %q", d.Verdict)
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	return d, nil
}
