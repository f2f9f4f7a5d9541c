package frontblock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mutation sets one key. Value must be a bool, int, string, []string or
// time.Time (written as a plain YYYY-MM-DD date).
type Mutation struct {
	Key   string
	Value any
}

// Set rewrites the named keys in a document's front-block.
//
// Every existing occurrence of a key (duplicates included) is replaced in
// place; a key that is absent gets one new entry before the closing
// delimiter. All other lines and the body are returned unchanged.
//
// Set never creates a block: a document without one returns ErrNotPresent
// and the text unchanged.
func Set(text string, mutations []Mutation) (string, error) {
	lay, ok := locate(text)
	if !ok {
		return text, ErrNotPresent
	}

	rendered := make(map[string][]string, len(mutations))
	order := make([]string, 0, len(mutations))
	for _, m := range mutations {
		lines, err := encode(m, lay.newline)
		if err != nil {
			return text, err
		}
		if _, dup := rendered[m.Key]; !dup {
			order = append(order, m.Key)
		}
		rendered[m.Key] = lines
	}

	spans := splitEntries(lay.lines)
	seen := make(map[string]bool, len(order))

	var out strings.Builder
	out.WriteString(text[:lay.open])

	next := 0
	for _, s := range spans {
		repl, ok := rendered[s.key]
		if !ok {
			continue
		}
		for _, l := range lay.lines[next:s.start] {
			out.WriteString(l)
		}
		for _, l := range repl {
			out.WriteString(l)
		}
		next = s.end
		seen[s.key] = true
	}
	tail := lay.lines[next:]
	for _, l := range tail {
		out.WriteString(l)
	}
	// A final block line without an ending would glue onto appended keys.
	if len(tail) > 0 && !strings.HasSuffix(tail[len(tail)-1], "\n") {
		out.WriteString(lay.newline)
	}

	for _, key := range order {
		if seen[key] {
			continue
		}
		for _, l := range rendered[key] {
			out.WriteString(l)
		}
	}

	out.WriteString(text[lay.close:])
	return out.String(), nil
}

// Render builds a complete front-block from scratch, delimiters included.
// Only document creation uses it.
func Render(mutations []Mutation) (string, error) {
	var out strings.Builder
	out.WriteString(Delimiter + "\n")
	for _, m := range mutations {
		lines, err := encode(m, "\n")
		if err != nil {
			return "", err
		}
		for _, l := range lines {
			out.WriteString(l)
		}
	}
	out.WriteString(Delimiter + "\n")
	return out.String(), nil
}

// encode renders one mutation as block lines ending in newline.
func encode(m Mutation, newline string) ([]string, error) {
	if key, ok := keyOf(m.Key + ":"); !ok || key != m.Key || strings.ContainsAny(m.Key, "\r\n") {
		return nil, fmt.Errorf("invalid front-block key %q", m.Key)
	}

	switch v := m.Value.(type) {
	case bool:
		return []string{m.Key + ": " + strconv.FormatBool(v) + newline}, nil
	case int:
		return []string{m.Key + ": " + strconv.Itoa(v) + newline}, nil
	case string:
		s, err := scalar(v)
		if err != nil {
			return nil, err
		}
		return []string{m.Key + ": " + s + newline}, nil
	case time.Time:
		return []string{m.Key + ": " + v.Format(time.DateOnly) + newline}, nil
	case []string:
		lines := []string{m.Key + ":" + newline}
		for _, item := range v {
			s, err := scalar(item)
			if err != nil {
				return nil, err
			}
			lines = append(lines, "  - "+s+newline)
		}
		return lines, nil
	default:
		return nil, fmt.Errorf("front-block key %q: unsupported value type %T", m.Key, m.Value)
	}
}

// scalar encodes a single-line YAML scalar, quoting it when needed so that
// it reads back as the same string.
func scalar(s string) (string, error) {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode scalar %q: %w", s, err)
	}
	encoded := strings.TrimSuffix(string(out), "\n")
	if strings.Contains(encoded, "\n") {
		return strconv.Quote(s), nil
	}
	return encoded, nil
}
