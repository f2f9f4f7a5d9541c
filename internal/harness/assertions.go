package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/scenekeeper/internal/frontblock"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  expected: %s\n  actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(r, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertDocumentValue:
		return assertDocumentValue(r, a)
	case AssertDocumentUnchanged:
		return assertDocumentUnchanged(r, a)
	case AssertNotice:
		return assertNotice(r, a)
	case AssertNoticeCount:
		return assertCount(a.Type, "notices", len(r.Notices), a.Count)
	case AssertQueryCount:
		n := 0
		for _, q := range r.Queries {
			if q.ThreadID == a.Thread {
				n++
			}
		}
		return assertCount(a.Type, "queries for thread "+a.Thread, n, a.Count)
	case AssertJournalCount:
		return assertCount(a.Type, "journaled passes", len(r.Journal), a.Count)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertDocumentValue(r *Result, a Assertion) error {
	text, ok := r.Documents[a.Path]
	if !ok {
		return &AssertionError{Type: a.Type, Expected: a.Path + " exists", Actual: "no such document"}
	}
	block, err := frontblock.Parse(text)
	if err != nil {
		return &AssertionError{Type: a.Type, Expected: a.Path + " has a front-block", Actual: err.Error()}
	}
	v, ok := block.Get(a.Key)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s: %v", a.Key, a.Value), Actual: a.Key + " not set"}
	}
	if !valueMatches(v, a.Value) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s: %v", a.Key, a.Value), Actual: fmt.Sprintf("%s: %s", a.Key, v.String())}
	}
	return nil
}

// valueMatches compares a front-block value with a YAML scalar from the
// scenario, using the same coercions the reconciler applies on read.
func valueMatches(v frontblock.Value, want any) bool {
	switch w := want.(type) {
	case bool:
		got, ok := v.Bool()
		return ok && got == w
	case int:
		got, ok := v.Int()
		return ok && got == w
	case []any:
		got := v.List()
		if len(got) != len(w) {
			return false
		}
		for i := range w {
			if got[i] != fmt.Sprint(w[i]) {
				return false
			}
		}
		return true
	case nil:
		return v.IsNull()
	}
	return v.String() == fmt.Sprint(want)
}

func assertDocumentUnchanged(r *Result, a Assertion) error {
	if r.Documents[a.Path] != r.Seeded[a.Path] {
		return &AssertionError{Type: a.Type, Expected: a.Path + " unchanged", Actual: fmt.Sprintf("%q", r.Documents[a.Path])}
	}
	return nil
}

func assertNotice(r *Result, a Assertion) error {
	var seen []string
	for _, n := range r.Notices {
		if n.Kind.String() != a.Kind {
			continue
		}
		if a.Path != "" && n.Path != a.Path {
			continue
		}
		if strings.Contains(n.Message, a.Contains) {
			return nil
		}
		seen = append(seen, n.Message)
	}
	want := a.Kind + " notice"
	if a.Contains != "" {
		want += fmt.Sprintf(" containing %q", a.Contains)
	}
	actual := "none raised"
	if len(seen) > 0 {
		actual = strings.Join(seen, "; ")
	}
	return &AssertionError{Type: a.Type, Expected: want, Actual: actual}
}

func assertCount(typ, what string, got, want int) error {
	if got != want {
		return &AssertionError{Type: typ, Expected: fmt.Sprintf("%d %s", want, what), Actual: fmt.Sprintf("%d", got)}
	}
	return nil
}
