package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a run as stable text for golden comparison. Pass IDs
// and times come from the fake generators, so the output is identical
// across runs.
func Snapshot(sc *Scenario, r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", sc.Name)

	for i, p := range r.Passes {
		scope := p.Trigger.Source.String()
		if p.Trigger.Path != "" {
			scope += " " + p.Trigger.Path
		}
		fmt.Fprintf(&b, "pass %d (%s) %s: %s\n", i+1, p.ID, scope, p.Outcome())
		if p.Quiescent {
			continue
		}
		fmt.Fprintf(&b, "  linked %d, examined %d, updated %d, skipped %d, untracked %d, failed %d\n",
			p.Linked, p.Examined, p.Updated, p.Skipped, p.Untracked, p.Failed)
		if err := p.Problem(); err != nil {
			fmt.Fprintf(&b, "  error: %v\n", err)
		}
		for _, u := range p.Updates {
			changes := make([]string, 0, len(u.Changes))
			for _, c := range u.Changes {
				changes = append(changes, fmt.Sprintf("%s=%v", c.Key, c.Value))
			}
			fmt.Fprintf(&b, "  update %s thread %s: %s\n", u.Path, u.ThreadID, strings.Join(changes, ", "))
		}
	}

	for _, n := range r.Notices {
		fmt.Fprintf(&b, "notice %s", n.Kind)
		if n.Op != "" {
			fmt.Fprintf(&b, " [%s]", n.Op)
		}
		if n.Path != "" {
			fmt.Fprintf(&b, " %s", n.Path)
		}
		fmt.Fprintf(&b, ": %s\n", n.Message)
	}

	fmt.Fprintf(&b, "journal: %d pass(es)\n", len(r.Journal))

	paths := make([]string, 0, len(r.Documents))
	for p, text := range r.Documents {
		if r.Seeded[p] != text {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&b, "document %s:\n", p)
		for _, line := range strings.Split(strings.TrimSuffix(r.Documents[p], "\n"), "\n") {
			fmt.Fprintf(&b, "  | %s\n", line)
		}
	}
	return b.String()
}

// RunWithGolden runs sc, fails t on any unmet expectation, and compares
// the snapshot with testdata/golden/<name>.golden. Run the tests with
// -update to rewrite the golden files.
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	r, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}
	for _, e := range r.Errors {
		t.Errorf("scenario %s: %s", sc.Name, e)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, []byte(Snapshot(sc, r)))
	return r
}
