package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/scenekeeper/internal/frontblock"
)

// timeLayout is how timestamps are stored. Fixed-width so text order is
// time order within one zone.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// change is the stored form of a front-block mutation.
type change struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// marshalChanges converts mutations to JSON TEXT, keys in mutation order.
func marshalChanges(changes []frontblock.Mutation) (string, error) {
	out := make([]change, 0, len(changes))
	for _, c := range changes {
		out = append(out, change{Key: c.Key, Value: c.Value})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // keys like "Replied?" stay readable
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalChanges parses JSON TEXT back to mutations. Numbers come back as
// int when integral, matching what the engine writes.
func unmarshalChanges(data string) ([]frontblock.Mutation, error) {
	if data == "" {
		return []frontblock.Mutation{}, nil
	}

	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw []change
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}

	out := make([]frontblock.Mutation, 0, len(raw))
	for _, c := range raw {
		v := c.Value
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = int(i)
			} else {
				v = n.String()
			}
		}
		out = append(out, frontblock.Mutation{Key: c.Key, Value: v})
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
