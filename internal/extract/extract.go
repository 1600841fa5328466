// Package extract recovers JSON objects from free-form model output.
//
// Model responses often wrap JSON in markdown fences, surround it with
// prose or emit escape sequences strict JSON rejects. Structured tries a
// strict parse of the most likely span first and falls back to a cleaned
// slice between the outermost braces.
//
// Known limitation: the fallback slices by string position, so a brace
// inside a trailing string value can still defeat it.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrNoStructuredData is returned when neither tier yields a JSON object
var ErrNoStructuredData = errors.New("no structured data found")

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```json(.*?)```")
	anyFenceRegex  = regexp.MustCompile("(?s)```(.*?)```")
	braceSpanRegex = regexp.MustCompile(`(?s)\{.*\}`)
)

// escapeNormalizer rewrites already-escaped sequences. \' and \& are not
// valid JSON escapes, so they collapse to the bare character.
var escapeNormalizer = strings.NewReplacer(
	`\n`, `\n`,
	`\'`, `'`,
	`\"`, `\"`,
	`\&`, `&`,
	`\r`, `\r`,
	`\t`, `\t`,
	`\b`, `\b`,
	`\f`, `\f`,
)

// Structured returns the first JSON object it can recover from text
func Structured(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNoStructuredData)
	}

	obj, firstErr := parseObject(candidate(text))
	if firstErr == nil {
		return obj, nil
	}

	cleaned, ok := cleanedSpan(text)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoStructuredData, firstErr)
	}
	obj, err := parseObject(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoStructuredData, err)
	}
	return obj, nil
}

// candidate selects the substring tried by the strict first pass
func candidate(text string) string {
	if m := jsonFenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := braceSpanRegex.FindString(text); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(text)
}

// cleanedSpan slices first '{' to last '}' and repairs escaping
func cleanedSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}

	cleaned := escapeNormalizer.Replace(text[start : end+1])
	cleaned = repairLoneBackslashes(cleaned)
	cleaned = stripControl(cleaned)
	return cleaned, true
}

// repairLoneBackslashes doubles every backslash that does not begin a
// valid JSON escape, so `\d` becomes a literal backslash followed by d.
func repairLoneBackslashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && isEscapeChar(s[i+1]) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

func isEscapeChar(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

// stripControl removes U+0000 through U+0019
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0 && r <= 0x19 {
			return -1
		}
		return r
	}, s)
}

func parseObject(s string) (map[string]any, error) {
	if s == "" {
		return nil, errors.New("empty candidate")
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}
