package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/scenekeeper/internal/remote"
)

// FakeRemote is an in-memory bot API.
//
// Threads are keyed by thread id. A thread absent from Threads answers as
// untracked. Setting one of the *Err fields makes that call fail.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FakeRemote struct {
	mu sync.Mutex

	UserID   string
	Muse     map[string][]remote.Muse // by user id
	Linked   []remote.LinkedThread
	Threads  map[string]remote.ThreadState
	Tracked  []remote.TrackedThread
	ThreadFn func(q remote.ThreadQuery) (remote.ThreadStatus, error)

	IdentityErr error
	LinkedErr   error
	StateErr    error
	MusesErr    error
	PostErr     error
	RegisterErr error
	TrackErr    error

	calls         map[string]int
	queries       []remote.ThreadQuery
	posts         []remote.Message
	registrations []remote.SceneRegistration
}

// NewFakeRemote creates a fake that resolves identity to userID.
func NewFakeRemote(userID string) *FakeRemote {
	return &FakeRemote{
		UserID:  userID,
		Muse:    make(map[string][]remote.Muse),
		Threads: make(map[string]remote.ThreadState),
		calls:   make(map[string]int),
	}
}

// SetThread records live state for a tracked thread.
func (f *FakeRemote) SetThread(threadID string, replied bool, participants int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := participants
	f.Threads[threadID] = remote.ThreadState{Replied: replied, Participants: &n}
}

// SetThreadNoCount records a tracked thread whose participant count the
// server omits.
func (f *FakeRemote) SetThreadNoCount(threadID string, replied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Threads[threadID] = remote.ThreadState{Replied: replied}
}

// AddLinked adds a linked-thread record.
func (f *FakeRemote) AddLinked(threadID, path string, characters ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Linked = append(f.Linked, remote.LinkedThread{
		ThreadID:     remote.ID(threadID),
		DocumentPath: path,
		Characters:   characters,
	})
}

// Calls returns how many times op was called. Ops are the method names.
func (f *FakeRemote) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Queries returns the thread state queries received, in order.
func (f *FakeRemote) Queries() []remote.ThreadQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.ThreadQuery(nil), f.queries...)
}

// Posts returns the messages posted, in order.
func (f *FakeRemote) Posts() []remote.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Message(nil), f.posts...)
}

// Registrations returns the scene registrations received, in order.
func (f *FakeRemote) Registrations() []remote.SceneRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.SceneRegistration(nil), f.registrations...)
}

func (f *FakeRemote) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

// Identity implements the identity lookup.
func (f *FakeRemote) Identity(ctx context.Context) (string, error) {
	f.record("Identity")
	if f.IdentityErr != nil {
		return "", f.IdentityErr
	}
	return f.UserID, nil
}

// Muses returns the muses of each user id, in order.
func (f *FakeRemote) Muses(ctx context.Context, userIDs []string) ([]remote.Muse, error) {
	f.record("Muses")
	if f.MusesErr != nil {
		return nil, f.MusesErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Muse
	for _, id := range userIDs {
		out = append(out, f.Muse[id]...)
	}
	return out, nil
}

// LinkedThreads returns the linked records.
func (f *FakeRemote) LinkedThreads(ctx context.Context, userID string) ([]remote.LinkedThread, error) {
	f.record("LinkedThreads")
	if f.LinkedErr != nil {
		return nil, f.LinkedErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.LinkedThread(nil), f.Linked...), nil
}

// ThreadState answers from Threads, or from ThreadFn when set.
func (f *FakeRemote) ThreadState(ctx context.Context, q remote.ThreadQuery) (remote.ThreadStatus, error) {
	f.record("ThreadState")
	f.mu.Lock()
	f.queries = append(f.queries, q)
	fn := f.ThreadFn
	st, ok := f.Threads[q.ThreadID]
	f.mu.Unlock()

	if fn != nil {
		return fn(q)
	}
	if f.StateErr != nil {
		return remote.ThreadStatus{}, f.StateErr
	}
	if !ok {
		return remote.ThreadStatus{}, nil
	}
	return remote.ThreadStatus{Tracked: true, State: &st}, nil
}

// TrackedThreads returns Tracked.
func (f *FakeRemote) TrackedThreads(ctx context.Context, userID string) ([]remote.TrackedThread, error) {
	f.record("TrackedThreads")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.TrackedThread(nil), f.Tracked...), nil
}

// PostMessage records m.
func (f *FakeRemote) PostMessage(ctx context.Context, m remote.Message) error {
	f.record("PostMessage")
	if f.PostErr != nil {
		return f.PostErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, m)
	return nil
}

// RegisterScene records r.
func (f *FakeRemote) RegisterScene(ctx context.Context, r remote.SceneRegistration) error {
	f.record("RegisterScene")
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, r)
	return nil
}

// TrackThread fails with TrackErr when set.
func (f *FakeRemote) TrackThread(ctx context.Context, threadID, userID, containerID string) error {
	f.record("TrackThread")
	if f.TrackErr != nil {
		return fmt.Errorf("track thread %s: %w", threadID, f.TrackErr)
	}
	return nil
}
