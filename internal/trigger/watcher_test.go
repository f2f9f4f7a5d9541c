package trigger

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenekeeper/internal/engine"
	"github.com/roach88/scenekeeper/internal/vault"
)

const (
	waitFor = 3 * time.Second
	pollAt  = 10 * time.Millisecond
)

func openVault(t *testing.T, folder string) *vault.Vault {
	t.Helper()
	v, err := vault.Open(t.TempDir(), folder)
	require.NoError(t, err)
	return v
}

func mkdir(t *testing.T, v *vault.Vault, rel string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(v.Root(), filepath.FromSlash(rel)), 0o755))
}

func writeFile(t *testing.T, v *vault.Vault, rel, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(v.Root(), filepath.FromSlash(rel)), []byte(text), 0o644))
}

// startWatcher runs a watcher until the test ends.
func startWatcher(t *testing.T, v *vault.Vault, out Enqueuer, opts ...WatcherOption) {
	t.Helper()
	opts = append([]WatcherOption{WithDebounce(20 * time.Millisecond)}, opts...)
	w, err := NewWatcher(v, out, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func hasPath(out *sink, p string) func() bool {
	return func() bool { return slices.Contains(out.paths(), p) }
}

func TestWatcher_DocumentWrite(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes")
	out := &sink{}
	startWatcher(t, v, out)

	writeFile(t, v, "Scenes/Lighthouse.md", "---\nLink: x\n---\n")

	require.Eventually(t, hasPath(out, "Scenes/Lighthouse.md"), waitFor, pollAt)
	got := out.triggers()
	assert.Equal(t, engine.TriggerDocumentChange, got[0].Source)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes/.obsidian")
	mkdir(t, v, "Other")
	out := &sink{}
	startWatcher(t, v, out)

	writeFile(t, v, "Scenes/notes.txt", "not a scene")
	writeFile(t, v, "Scenes/.hidden.md", "hidden")
	writeFile(t, v, "Scenes/.obsidian/workspace.md", "settings")
	writeFile(t, v, "Root.md", "outside the folder")
	writeFile(t, v, "Other/Elsewhere.md", "outside the folder")
	writeFile(t, v, "Scenes/Last.md", "a scene")

	require.Eventually(t, hasPath(out, "Scenes/Last.md"), waitFor, pollAt)
	// Give any stragglers a chance to flush.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"Scenes/Last.md"}, out.paths())
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes")
	out := &sink{}
	startWatcher(t, v, out, WithDebounce(150*time.Millisecond))

	for i := 0; i < 5; i++ {
		writeFile(t, v, "Scenes/Busy.md", "draft")
	}

	require.Eventually(t, hasPath(out, "Scenes/Busy.md"), waitFor, pollAt)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{"Scenes/Busy.md"}, out.paths())
}

func TestWatcher_NewSubfolder(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes")
	out := &sink{}
	startWatcher(t, v, out)

	mkdir(t, v, "Scenes/Arc 2")
	writeFile(t, v, "Scenes/Arc 2/Harbor.md", "one")

	require.Eventually(t, hasPath(out, "Scenes/Arc 2/Harbor.md"), waitFor, pollAt)

	// Once the folder is watched, later writes in it are seen too.
	writeFile(t, v, "Scenes/Arc 2/Quay.md", "two")
	require.Eventually(t, hasPath(out, "Scenes/Arc 2/Quay.md"), waitFor, pollAt)
}

func TestWatcher_ScenesFolderCreatedLater(t *testing.T) {
	v := openVault(t, "Campaign/Scenes")
	out := &sink{}
	startWatcher(t, v, out)

	mkdir(t, v, "Campaign/Scenes")
	writeFile(t, v, "Campaign/Scenes/First.md", "hello")

	require.Eventually(t, hasPath(out, "Campaign/Scenes/First.md"), waitFor, pollAt)
}

func TestWatcher_ConfigFile(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes")
	cfgDir := t.TempDir()
	cfgPath := filepath.Join(cfgDir, "scenekeeper.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("token: a\n"), 0o600))

	var reloads atomic.Int32
	out := &sink{}
	startWatcher(t, v, out, WithConfigFile(cfgPath, func() { reloads.Add(1) }))

	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "unrelated.yaml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(cfgPath, []byte("token: b\n"), 0o600))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, waitFor, pollAt)
	assert.Empty(t, out.triggers())
}

func TestWatcher_StopsWhenIntakeCloses(t *testing.T) {
	v := openVault(t, "Scenes")
	mkdir(t, v, "Scenes")
	out := &sink{limit: 1}
	w, err := NewWatcher(v, out, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	writeFile(t, v, "Scenes/A.md", "a")
	require.Eventually(t, hasPath(out, "Scenes/A.md"), waitFor, pollAt)
	writeFile(t, v, "Scenes/B.md", "b")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("watcher did not stop")
	}
	assert.Equal(t, []string{"Scenes/A.md"}, out.paths())
	assert.NoError(t, w.Close())
}
