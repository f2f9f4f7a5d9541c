package frontblock

import (
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// Delimiter opens and closes a front-block.
const Delimiter = "---"

// ErrNotPresent is returned when a document has no recognizable front-block.
var ErrNotPresent = errors.New("front-block not present")

// Block is a parsed front-block. Entries keep document order.
type Block struct {
	entries []entry
}

type entry struct {
	key   string
	value Value
}

// layout locates the block inside a document.
type layout struct {
	open    int      // offset of the first byte after the opening delimiter line
	close   int      // offset of the closing delimiter line
	newline string   // "\n" or "\r\n", taken from the opening delimiter line
	lines   []string // raw lines between the delimiters, line endings included
}

// Parse extracts the front-block of a document.
// Returns ErrNotPresent if the document does not start with a block.
func Parse(text string) (*Block, error) {
	lay, ok := locate(text)
	if !ok {
		return nil, ErrNotPresent
	}

	b := &Block{}
	for _, span := range splitEntries(lay.lines) {
		b.entries = append(b.entries, entry{
			key:   span.key,
			value: decodeEntry(lay.lines[span.start:span.end]),
		})
	}
	return b, nil
}

// Get returns the value stored under key. Duplicate keys resolve to the
// last occurrence.
func (b *Block) Get(key string) (Value, bool) {
	if b == nil {
		return Value{}, false
	}
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].key == key {
			return b.entries[i].value, true
		}
	}
	return Value{}, false
}

// Has reports whether key appears in the block.
func (b *Block) Has(key string) bool {
	_, ok := b.Get(key)
	return ok
}

// Keys returns the distinct keys in order of first appearance.
func (b *Block) Keys() []string {
	if b == nil {
		return nil
	}
	seen := make(map[string]bool, len(b.entries))
	keys := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		if seen[e.key] {
			continue
		}
		seen[e.key] = true
		keys = append(keys, e.key)
	}
	return keys
}

// Body returns everything after the closing delimiter line.
func Body(text string) (string, bool) {
	lay, ok := locate(text)
	if !ok {
		return "", false
	}
	return text[afterLine(text, lay.close):], true
}

// locate finds the opening and closing delimiter lines.
func locate(text string) (layout, bool) {
	first, rest, found := cutLine(text)
	if !found || strings.TrimRight(first, " \t\r") != Delimiter {
		return layout{}, false
	}

	lay := layout{open: len(text) - len(rest), newline: "\n"}
	if strings.HasSuffix(first, "\r") {
		lay.newline = "\r\n"
	}

	offset := lay.open
	for offset < len(text) {
		line, next, _ := cutLine(text[offset:])
		if strings.TrimRight(line, " \t\r") == Delimiter {
			lay.close = offset
			lay.lines = splitRaw(text[lay.open:lay.close])
			return lay, true
		}
		offset = len(text) - len(next)
	}
	return layout{}, false
}

// cutLine splits off the first line (without its "\n").
func cutLine(s string) (line, rest string, found bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// afterLine returns the offset just past the line starting at offset.
func afterLine(text string, offset int) int {
	i := strings.IndexByte(text[offset:], '\n')
	if i < 0 {
		return len(text)
	}
	return offset + i + 1
}

// splitRaw splits a region into lines that keep their endings.
func splitRaw(region string) []string {
	if region == "" {
		return nil
	}
	lines := strings.SplitAfter(region, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

type span struct {
	key        string
	start, end int
}

// splitEntries groups block lines into top-level entries. An entry is a key
// line followed by its indented (or "- " list item) continuation lines.
// Lines before the first key, blank lines and comments belong to no entry.
func splitEntries(lines []string) []span {
	var spans []span
	current := -1
	for i, raw := range lines {
		line := trimEOL(raw)
		if key, ok := keyOf(line); ok {
			spans = append(spans, span{key: key, start: i, end: i + 1})
			current = len(spans) - 1
			continue
		}
		if current >= 0 && isContinuation(line) && spans[current].end == i {
			spans[current].end = i + 1
			continue
		}
		current = -1
	}
	return spans
}

func isContinuation(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case ' ', '\t':
		return strings.TrimSpace(line) != ""
	case '-':
		return line == "-" || strings.HasPrefix(line, "- ")
	}
	return false
}

// keyOf extracts the key of a top-level "key: value" line.
func keyOf(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	switch line[0] {
	case ' ', '\t', '#', '-':
		return "", false
	case '"', '\'':
		quote := line[0]
		end := strings.IndexByte(line[1:], quote)
		if end < 0 {
			return "", false
		}
		rest := line[end+2:]
		if !strings.HasPrefix(rest, ":") {
			return "", false
		}
		return line[1 : end+1], true
	}

	for i := 0; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		if i+1 == len(line) || line[i+1] == ' ' || line[i+1] == '\t' {
			key := strings.TrimSpace(line[:i])
			if key == "" {
				return "", false
			}
			return key, true
		}
	}
	return "", false
}

// decodeEntry decodes one entry's lines as a single-key YAML mapping.
// A value that yaml.v3 rejects is kept as its raw text.
func decodeEntry(lines []string) Value {
	var text strings.Builder
	for _, l := range lines {
		text.WriteString(trimEOL(l))
		text.WriteByte('\n')
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text.String()), &doc); err == nil &&
		len(doc.Content) == 1 &&
		doc.Content[0].Kind == yaml.MappingNode &&
		len(doc.Content[0].Content) >= 2 {
		return Value{node: doc.Content[0].Content[1]}
	}

	first := trimEOL(lines[0])
	raw := ""
	if i := strings.IndexByte(first, ':'); i >= 0 {
		raw = strings.TrimSpace(first[i+1:])
	}
	return Value{raw: raw, hasRaw: true}
}
