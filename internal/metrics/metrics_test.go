package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenekeeper/internal/engine"
)

func TestPassFinished_Counts(t *testing.T) {
	m := New()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	m.PassFinished(context.Background(), engine.PassResult{
		Trigger:    engine.Trigger{Source: engine.TriggerTimer},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Updated:    2,
		Failed:     1,
		Untracked:  3,
	})
	m.PassFinished(context.Background(), engine.PassResult{
		Trigger:   engine.Trigger{Source: engine.TriggerManual},
		Quiescent: true,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("timer", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("manual", "quiescent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documentsUpdate))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documentFailure))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.untracked))
	assert.Equal(t, float64(start.Add(time.Second).Unix()), testutil.ToFloat64(m.lastSuccess))
}

func TestPassFinished_ErrorDoesNotMoveLastSuccess(t *testing.T) {
	m := New()
	m.PassFinished(context.Background(), engine.PassResult{
		Trigger:    engine.Trigger{Source: engine.TriggerTimer},
		FinishedAt: time.Unix(1000, 0),
		Err:        errors.New("bad gateway"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("timer", "error")))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess))
}

func TestNotify_CountsAuthOnly(t *testing.T) {
	m := New()
	m.Notify(engine.AuthNotice("query thread state"))
	m.Notify(engine.AuthNotice("query thread state"))
	m.Notify(engine.Notice{Kind: engine.KindValidation, Path: "a.md"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authFailures.WithLabelValues("query thread state")))
}

func TestHandler_Exposes(t *testing.T) {
	m := New()
	m.TrackQueue(func() int { return 3 })
	m.Notify(engine.AuthNotice("list linked threads"))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "scenekeeper_queue_depth 3")
	assert.Contains(t, string(body), `scenekeeper_auth_failures_total{op="list linked threads"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
