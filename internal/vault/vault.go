// Package vault is the filesystem document store: a folder of markdown
// scene documents addressed by vault-relative paths.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/scenekeeper/internal/frontblock"
)

// DocumentExt is the extension of scene documents.
const DocumentExt = ".md"

// ErrExists is returned by Create when the document already exists.
var ErrExists = errors.New("document already exists")

// ErrOutsideVault is returned for paths that escape the vault root.
var ErrOutsideVault = errors.New("path outside vault")

// NodeKind tags a Node.
type NodeKind int

const (
	// KindDocument is a markdown document.
	KindDocument NodeKind = iota + 1
	// KindContainer is a folder.
	KindContainer
)

// Node is one entry of the vault tree. Only containers have children.
type Node struct {
	Kind     NodeKind
	Path     string
	Children []Node
}

// Documents returns the paths of every document under n, depth first, in
// directory order.
func (n Node) Documents() []string {
	var out []string
	collectDocuments(n, &out)
	return out
}

func collectDocuments(n Node, out *[]string) {
	switch n.Kind {
	case KindDocument:
		*out = append(*out, n.Path)
	case KindContainer:
		for _, child := range n.Children {
			collectDocuments(child, out)
		}
	}
}

// Vault reads and writes documents below a root directory. Scene
// enumeration is limited to Folder.
//
// Thread-safety: safe for concurrent use. The parsed front-block cache is
// keyed by path and invalidated by modification time and size.
type Vault struct {
	root   string
	folder string

	mu    sync.Mutex
	cache map[string]cachedBlock
}

type cachedBlock struct {
	modTime time.Time
	size    int64
	block   *frontblock.Block
	err     error
}

// Open returns a Vault rooted at root. The root must be an existing
// directory; folder is vault-relative and may not exist yet.
func Open(root, folder string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open vault: %s is not a directory", abs)
	}
	return &Vault{
		root:   abs,
		folder: Normalize(folder),
		cache:  make(map[string]cachedBlock),
	}, nil
}

// Root returns the absolute root directory.
func (v *Vault) Root() string { return v.root }

// Folder returns the vault-relative scenes folder ("" is the whole vault).
func (v *Vault) Folder() string { return v.folder }

// Normalize converts a path to the vault form: forward slashes, cleaned,
// no leading slash, NFC. Filesystems disagree on Unicode normalization
// (macOS stores NFD), so every path used as a key goes through here.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		p = ""
	}
	return norm.NFC.String(p)
}

// abs maps a vault path to a filesystem path. Vault paths are NFC, but the
// file may be stored under another normalization (a vault synced from
// macOS keeps NFD names), so each component is matched against the names
// actually on disk. Components that do not exist yet keep their NFC form.
func (v *Vault) abs(p string) (string, error) {
	clean := Normalize(p)
	full := filepath.Join(v.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(v.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
	}
	if clean == "" {
		return v.root, nil
	}

	dir := v.root
	parts := strings.Split(clean, "/")
	for i, part := range parts {
		name, ok := onDiskName(dir, part)
		if !ok {
			return filepath.Join(append([]string{dir}, parts[i:]...)...), nil
		}
		dir = filepath.Join(dir, name)
	}
	return dir, nil
}

// onDiskName finds the entry of dir whose NFC form is name.
func onDiskName(dir, name string) (string, bool) {
	if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
		return name, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if norm.NFC.String(e.Name()) == name {
			return e.Name(), true
		}
	}
	return "", false
}

// Rel maps a filesystem path back to a vault path (NFC).
func (v *Vault) Rel(fsPath string) (string, bool) {
	abs, err := filepath.Abs(fsPath)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return Normalize(filepath.ToSlash(rel)), true
}

// InFolder reports whether a vault path lies in the scenes folder.
func (v *Vault) InFolder(p string) bool {
	p = Normalize(p)
	return v.folder == "" || p == v.folder || strings.HasPrefix(p, v.folder+"/")
}

// Tree walks the scenes folder. Hidden entries (".obsidian", ".trash") are
// skipped. A missing folder yields an empty container.
func (v *Vault) Tree(ctx context.Context) (Node, error) {
	dir, err := v.abs(v.folder)
	if err != nil {
		return Node{}, err
	}
	root := Node{Kind: KindContainer, Path: v.folder}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return root, nil
	}
	if err := v.walk(ctx, dir, &root); err != nil {
		return Node{}, err
	}
	return root, nil
}

func (v *Vault) walk(ctx context.Context, dir string, parent *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read folder %s: %w", parent.Path, err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		childPath := Normalize(path.Join(parent.Path, name))
		switch {
		case e.IsDir():
			child := Node{Kind: KindContainer, Path: childPath}
			if err := v.walk(ctx, filepath.Join(dir, name), &child); err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		case e.Type().IsRegular() && strings.EqualFold(filepath.Ext(name), DocumentExt):
			parent.Children = append(parent.Children, Node{Kind: KindDocument, Path: childPath})
		}
	}
	return nil
}

// List returns every document path in the scenes folder.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	tree, err := v.Tree(ctx)
	if err != nil {
		return nil, err
	}
	return tree.Documents(), nil
}

// Exists reports whether a document or folder exists.
func (v *Vault) Exists(p string) bool {
	full, err := v.abs(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Read returns the full text of a document.
func (v *Vault) Read(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := v.abs(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

// FrontBlock returns the parsed front-block of a document, served from the
// cache while the file's modification time and size are unchanged.
// A document without a block returns frontblock.ErrNotPresent.
func (v *Vault) FrontBlock(ctx context.Context, p string) (*frontblock.Block, error) {
	full, err := v.abs(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}

	key := Normalize(p)
	v.mu.Lock()
	cached, ok := v.cache[key]
	v.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.block, cached.err
	}

	text, err := v.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	block, parseErr := frontblock.Parse(text)

	v.mu.Lock()
	v.cache[key] = cachedBlock{modTime: info.ModTime(), size: info.Size(), block: block, err: parseErr}
	v.mu.Unlock()
	return block, parseErr
}

// Write replaces a document's text atomically (temp file + rename).
func (v *Vault) Write(ctx context.Context, p, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := v.abs(p)
	if err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(full); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".scenekeeper-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after rename

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}

	v.invalidate(p)
	return nil
}

// EnsureFolder creates a folder and its parents.
func (v *Vault) EnsureFolder(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := v.abs(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", p, err)
	}
	return nil
}

// Create writes a new document. Returns ErrExists if the path is taken.
func (v *Vault) Create(ctx context.Context, p, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := v.abs(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, p)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("create %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("create %s: %w", p, err)
	}
	v.invalidate(p)
	return nil
}

func (v *Vault) invalidate(p string) {
	v.mu.Lock()
	delete(v.cache, Normalize(p))
	v.mu.Unlock()
}
