package testutil

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/roach88/scenekeeper/internal/frontblock"
)

// MemDocs is an in-memory document store. FrontBlock parses on every call,
// so it never serves a stale block.
//
// Thread-safety: safe for concurrent use via internal mutex.
type MemDocs struct {
	mu       sync.Mutex
	docs     map[string]string
	writes   map[string]int
	WriteErr map[string]error
	ListErr  error
}

// NewMemDocs creates a store holding docs (path → text).
func NewMemDocs(docs map[string]string) *MemDocs {
	m := &MemDocs{
		docs:     make(map[string]string, len(docs)),
		writes:   make(map[string]int),
		WriteErr: make(map[string]error),
	}
	for p, text := range docs {
		m.docs[p] = text
	}
	return m
}

// List returns every path, sorted.
func (m *MemDocs) List(ctx context.Context) ([]string, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.docs))
	for p := range m.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// FrontBlock parses the document's block.
func (m *MemDocs) FrontBlock(ctx context.Context, path string) (*frontblock.Block, error) {
	text, err := m.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return frontblock.Parse(text)
}

// Read returns the document text.
func (m *MemDocs) Read(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.docs[path]
	if !ok {
		return "", fmt.Errorf("read %s: %w", path, os.ErrNotExist)
	}
	return text, nil
}

// Write replaces the document text unless WriteErr names the path.
func (m *MemDocs) Write(ctx context.Context, path, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.WriteErr[path]; err != nil {
		return err
	}
	m.docs[path] = text
	m.writes[path]++
	return nil
}

// Text returns the current text of path, or "" if absent.
func (m *MemDocs) Text(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[path]
}

// Writes returns how many times path was written.
func (m *MemDocs) Writes(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[path]
}

// TotalWrites returns the number of writes across all documents.
func (m *MemDocs) TotalWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.writes {
		n += c
	}
	return n
}
