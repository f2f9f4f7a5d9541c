package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a pass id is not in the journal.
var ErrNotFound = errors.New("not found")

// PassRecord is a journaled pass.
type PassRecord struct {
	ID         string
	Seq        int64
	Trigger    string
	Path       string
	Identity   string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Linked     int
	Examined   int
	Updated    int
	Skipped    int
	Untracked  int
	Failed     int
	Error      string
}

// Duration is the wall time the pass took.
func (p PassRecord) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}

// UpdateRecord is one journaled document update.
type UpdateRecord struct {
	PassID   string
	Path     string
	ThreadID string
	Changes  []Change
}

// Change is a stored key change. Value is bool, int or string.
type Change struct {
	Key   string
	Value any
}

const passColumns = `id, seq, trigger, path, identity, started_at, finished_at, outcome,
	linked, examined, updated, skipped, untracked, failed, error`

// RecentPasses returns up to limit passes, newest first.
// Returns an empty slice (not nil) when the journal is empty.
func (s *Store) RecentPasses(ctx context.Context, limit int) ([]PassRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+passColumns+`
		FROM passes
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	passes := []PassRecord{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}
	return passes, nil
}

// ReadPass returns one pass by id.
func (s *Store) ReadPass(ctx context.Context, id string) (PassRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, id)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PassRecord{}, fmt.Errorf("pass %s: %w", id, ErrNotFound)
	}
	return p, err
}

// LastSeq returns the highest journaled pass number, or 0. The daemon
// resumes its pass clock from it.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM passes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// UpdatesForPass returns the document updates of a pass in the order the
// pass made them.
func (s *Store) UpdatesForPass(ctx context.Context, passID string) ([]UpdateRecord, error) {
	return s.queryUpdates(ctx, `
		SELECT pass_id, path, thread_id, changes
		FROM document_updates
		WHERE pass_id = ?
		ORDER BY ordinal ASC
	`, passID)
}

// UpdatesForDocument returns the journaled updates of one document, oldest
// first.
func (s *Store) UpdatesForDocument(ctx context.Context, path string) ([]UpdateRecord, error) {
	return s.queryUpdates(ctx, `
		SELECT u.pass_id, u.path, u.thread_id, u.changes
		FROM document_updates u
		JOIN passes p ON p.id = u.pass_id
		WHERE u.path = ?
		ORDER BY p.seq ASC, u.ordinal ASC
	`, path)
}

// RecentPosts returns up to limit posts, newest first.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, muse_name, document_path, parts, chars, posted_at, error
		FROM posts
		ORDER BY posted_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var p Post
		var postedAt string
		if err := rows.Scan(&p.ID, &p.ThreadID, &p.MuseName, &p.DocumentPath, &p.Parts, &p.Chars, &postedAt, &p.Error); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if p.PostedAt, err = parseTime(postedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (s *Store) queryUpdates(ctx context.Context, query string, arg any) ([]UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	updates := []UpdateRecord{}
	for rows.Next() {
		var u UpdateRecord
		var changes string
		if err := rows.Scan(&u.PassID, &u.Path, &u.ThreadID, &changes); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		muts, err := unmarshalChanges(changes)
		if err != nil {
			return nil, err
		}
		u.Changes = make([]Change, 0, len(muts))
		for _, m := range muts {
			u.Changes = append(u.Changes, Change{Key: m.Key, Value: m.Value})
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(row scanner) (PassRecord, error) {
	var p PassRecord
	var started, finished string
	err := row.Scan(
		&p.ID, &p.Seq, &p.Trigger, &p.Path, &p.Identity, &started, &finished, &p.Outcome,
		&p.Linked, &p.Examined, &p.Updated, &p.Skipped, &p.Untracked, &p.Failed, &p.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PassRecord{}, err
		}
		return PassRecord{}, fmt.Errorf("scan pass: %w", err)
	}
	if p.StartedAt, err = parseTime(started); err != nil {
		return PassRecord{}, err
	}
	if p.FinishedAt, err = parseTime(finished); err != nil {
		return PassRecord{}, err
	}
	return p, nil
}
