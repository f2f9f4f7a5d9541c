package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/store"
	"github.com/roach88/scenekeeper/internal/testutil"
)

// Epoch is the fake clock's start. Each read advances it by a second.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass   bool
	Errors []string

	Passes  []engine.PassResult
	Notices []engine.Notice
	Queries []remote.ThreadQuery

	// Seeded and Documents are the vault before and after the run.
	Seeded    map[string]string
	Documents map[string]string

	// Journal is what the pass journal recorded, newest first.
	Journal []store.PassRecord
}

func newResult() *Result {
	return &Result{Pass: true, Documents: make(map[string]string)}
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario against the real reconciler, a fake bot, an
// in-memory vault and an in-memory journal. The returned error is for
// setup failures only; failed checks are reported in Result.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	journal, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer journal.Close()

	bot := newBot(sc)
	docs := testutil.NewMemDocs(sc.Documents)
	clock := testutil.NewFakeTime(Epoch, time.Second)

	token := "token"
	if sc.NoToken {
		token = ""
	}

	result := newResult()
	result.Seeded = sc.Documents

	rec := engine.NewReconciler(bot, docs, engine.NewCache(token),
		engine.WithNotifier(engine.NotifierFunc(func(n engine.Notice) {
			result.Notices = append(result.Notices, n)
		})),
		engine.WithObserver(journal),
		engine.WithPassIDGenerator(testutil.NewSequentialIDs("")),
		engine.WithNow(clock.Now),
	)

	for i, step := range sc.Passes {
		for _, id := range sortedKeys(step.Threads) {
			setThread(bot, id, step.Threads[id])
		}
		for _, p := range sortedKeys(step.Edit) {
			if err := docs.Write(ctx, p, step.Edit[p]); err != nil {
				return nil, fmt.Errorf("passes[%d]: edit %s: %w", i, p, err)
			}
		}

		trig := engine.Trigger{Source: engine.TriggerManual, Path: step.Path, At: clock.Peek()}
		if step.Trigger != "" {
			trig.Source, _ = engine.ParseTriggerSource(step.Trigger)
		}

		res, _ := rec.Pass(ctx, trig)
		result.Passes = append(result.Passes, res)
		if step.Expect != nil {
			checkPass(result, i, res, step.Expect)
		}
	}

	paths, err := docs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		result.Documents[p] = docs.Text(p)
	}
	result.Queries = bot.Queries()

	result.Journal, err = journal.RecentPasses(ctx, len(sc.Passes)+1)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, sc.Assertions) {
		result.addError("%s", msg)
	}
	return result, nil
}

func newBot(sc *Scenario) *testutil.FakeRemote {
	bot := testutil.NewFakeRemote(sc.Identity)
	for _, l := range sc.Linked {
		bot.AddLinked(l.Thread, l.Path, l.Characters...)
	}
	for _, id := range sortedKeys(sc.Threads) {
		setThread(bot, id, sc.Threads[id])
	}
	for call, mode := range sc.Failures {
		err := failure(call, mode)
		switch call {
		case CallIdentity:
			bot.IdentityErr = err
		case CallLinkedThreads:
			bot.LinkedErr = err
		case CallThreadState:
			bot.StateErr = err
		}
	}
	return bot
}

func setThread(bot *testutil.FakeRemote, id string, st ThreadStep) {
	if st.Participants == nil {
		bot.SetThreadNoCount(id, st.Replied)
		return
	}
	bot.SetThread(id, st.Replied, *st.Participants)
}

// failure builds the error the real client returns for a failing call.
func failure(call, mode string) error {
	op := map[string]string{
		CallIdentity:      "resolve identity",
		CallLinkedThreads: "list linked threads",
		CallThreadState:   "query thread state",
	}[call]
	if mode == FailUnauthorized {
		return &remote.AuthError{Op: op}
	}
	return &remote.StatusError{Op: op, Code: 503, Body: "service unavailable"}
}

func checkPass(r *Result, index int, res engine.PassResult, want *PassExpect) {
	if want.Outcome != "" && res.Outcome() != want.Outcome {
		r.addError("passes[%d]: outcome = %s, expected %s (error: %v)", index, res.Outcome(), want.Outcome, res.Err)
	}
	counts := []struct {
		name string
		got  int
		want *int
	}{
		{"examined", res.Examined, want.Examined},
		{"updated", res.Updated, want.Updated},
		{"skipped", res.Skipped, want.Skipped},
		{"untracked", res.Untracked, want.Untracked},
		{"failed", res.Failed, want.Failed},
	}
	for _, c := range counts {
		if c.want != nil && c.got != *c.want {
			r.addError("passes[%d]: %s = %d, expected %d", index, c.name, c.got, *c.want)
		}
	}
}
