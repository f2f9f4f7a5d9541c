package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/scenekeeper/internal/engine"
)

// RecordPass writes a finished pass and its document updates in one
// transaction. Writing the same pass id twice is a no-op.
func (s *Store) RecordPass(ctx context.Context, r engine.PassResult) error {
	errText := ""
	if err := r.Problem(); err != nil {
		errText = err.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record pass: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO passes
		(id, seq, trigger, path, identity, started_at, finished_at, outcome,
		 linked, examined, updated, skipped, untracked, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.Seq,
		r.Trigger.Source.String(),
		r.Trigger.Path,
		r.Identity,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Outcome(),
		r.Linked,
		r.Examined,
		r.Updated,
		r.Skipped,
		r.Untracked,
		r.Failed,
		errText,
	)
	if err != nil {
		return fmt.Errorf("record pass %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for i, u := range r.Updates {
		changes, err := marshalChanges(u.Changes)
		if err != nil {
			return fmt.Errorf("record pass %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_updates (pass_id, ordinal, path, thread_id, changes)
			VALUES (?, ?, ?, ?, ?)
		`, r.ID, i, u.Path, u.ThreadID, changes); err != nil {
			return fmt.Errorf("record update %s: %w", u.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record pass %s: %w", r.ID, err)
	}
	return nil
}

// PassFinished journals r. It implements engine.Observer: a journal failure
// is logged and never affects the pass. Quiescent passes are not journaled;
// an unconfigured daemon would otherwise add a row every tick.
func (s *Store) PassFinished(ctx context.Context, r engine.PassResult) {
	if r.Quiescent {
		return
	}
	if err := s.RecordPass(context.WithoutCancel(ctx), r); err != nil {
		slog.Error("journal write failed",
			"pass_id", r.ID,
			"error", err,
		)
	}
}

// Post is one journaled outbound message.
type Post struct {
	ID           string
	ThreadID     string
	MuseName     string
	DocumentPath string
	Parts        int
	Chars        int
	PostedAt     time.Time
	Error        string
}

// RecordPost writes p, assigning a UUIDv7 id when p.ID is empty. Returns
// the id used.
func (s *Store) RecordPost(ctx context.Context, p Post) (string, error) {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, thread_id, muse_name, document_path, parts, chars, posted_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID,
		p.ThreadID,
		p.MuseName,
		p.DocumentPath,
		p.Parts,
		p.Chars,
		formatTime(p.PostedAt),
		p.Error,
	)
	if err != nil {
		return "", fmt.Errorf("record post: %w", err)
	}
	return p.ID, nil
}
