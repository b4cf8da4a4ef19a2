package slm

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	// MaxHintWords caps the steering sentence.
	MaxHintWords = 40
	// MaxFocusWords caps the focus label.
	MaxFocusWords = 20
)

var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ParseHint extracts hint and focus from raw model output. It tolerates
// code fences and chatter around the JSON object. ok is false when no JSON
// object is found or the cleaned hint is empty.
func ParseHint(raw string) (hint, focus string, ok bool) {
	content := stripFences(raw)

	obj, found := decodeObject(content)
	if !found {
		m := objectPattern.FindString(content)
		if m == "" {
			return "", "", false
		}
		if obj, found = decodeObject(m); !found {
			return "", "", false
		}
	}

	hint = clipWords(stringField(obj, "hint"), MaxHintWords)
	focus = clipWords(stringField(obj, "focus"), MaxFocusWords)
	if hint == "" {
		return "", "", false
	}
	return hint, focus, true
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```JSON")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// clipWords collapses whitespace and keeps at most n words.
func clipWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
