// Package extract recovers the JSON object embedded in free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoPayloadFound means the text contains no opening brace at all.
var ErrNoPayloadFound = errors.New("no JSON payload found")

// MalformedPayloadError carries the fragment that failed to parse.
type MalformedPayloadError struct {
	Fragment string
	Err      error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed JSON payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

var (
	thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	// Fence markers on a line of their own. JSON strings cannot hold a raw
	// newline, so such a line is never part of a string value.
	fenceRe = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_+-]*[ \t]*$")
)

// StripThink removes <think>...</think> reasoning segments.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

// Clean removes reasoning segments and fence marker lines.
func Clean(raw string) string {
	s := thinkRe.ReplaceAllString(raw, "")
	s = fenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Extract returns the first top-level JSON object in raw, decoded into
// generic values (map[string]any, []any, float64, string, bool, nil).
// Only the first object is returned when several are concatenated.
// The object is cut from raw itself, so fences or <think> tags inside its
// string values are kept as they are.
func Extract(raw string) (any, error) {
	start := firstBrace(raw)
	if start < 0 {
		return nil, ErrNoPayloadFound
	}

	candidate := raw[start:]
	var candErr error
	if end, ok := matchBrace(raw, start); ok {
		candidate = raw[start : end+1]
		var v any
		if candErr = json.Unmarshal([]byte(candidate), &v); candErr == nil {
			return v, nil
		}
	}

	// The scan can be fooled by stray quotes in surrounding prose; the whole
	// cleaned text may still be valid JSON.
	var v any
	err := json.Unmarshal([]byte(Clean(raw)), &v)
	if err == nil {
		return v, nil
	}
	if candErr != nil {
		err = candErr
	}
	return nil, &MalformedPayloadError{Fragment: candidate, Err: err}
}

// firstBrace returns the index of the first '{' outside closed
// <think>...</think> segments, or -1.
func firstBrace(s string) int {
	for i := 0; i < len(s); i++ {
		if strings.HasPrefix(s[i:], thinkOpen) {
			if j := strings.Index(s[i:], thinkClose); j >= 0 {
				i += j + len(thinkClose) - 1
				continue
			}
		}
		if s[i] == '{' {
			return i
		}
	}
	return -1
}

// matchBrace finds the index of the brace closing the one at start.
// Braces inside string literals are skipped, honouring backslash escapes.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return -1, false
}
