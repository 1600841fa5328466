package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// WorkItem is one question to push through the pipeline.
// It is read-only for the duration of a run.
type WorkItem struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	ProblemStatementHTML string `json:"problem_statement"`
}

// rawWorkItem accepts the backend's numeric ids as well as strings
type rawWorkItem struct {
	ID               json.RawMessage `json:"id"`
	Title            string          `json:"title"`
	ProblemStatement string          `json:"problem_statement"`
}

// ParseWorkItems decodes a JSON array of questions as exported by the backend.
// Insertion order is preserved; ids must be present and unique.
func ParseWorkItems(data []byte) ([]WorkItem, error) {
	var raw []rawWorkItem
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode work items: %w", err)
	}

	items := make([]WorkItem, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		id, err := parseItemID(r.ID)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[id] {
			return nil, fmt.Errorf("item %d: duplicate id %q", i, id)
		}
		seen[id] = true
		items = append(items, WorkItem{
			ID:                   id,
			Title:                r.Title,
			ProblemStatementHTML: r.ProblemStatement,
		})
	}
	return items, nil
}

func parseItemID(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("missing id")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid id: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("missing id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid id %s", trimmed)
	}
	return n.String(), nil
}
