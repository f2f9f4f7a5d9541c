package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator

	a := g.Generate()
	b := g.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("one", "two")

	assert.Equal(t, "one", g.Generate())
	assert.Equal(t, "two", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestTriggerSource_RoundTrip(t *testing.T) {
	for _, s := range []TriggerSource{TriggerManual, TriggerTimer, TriggerDocumentChange} {
		got, err := ParseTriggerSource(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseTriggerSource("cron")
	assert.Error(t, err)
}

func TestTrigger_UserInitiated(t *testing.T) {
	assert.True(t, Trigger{Source: TriggerManual, Path: "a.md"}.UserInitiated())
	assert.False(t, Trigger{Source: TriggerManual}.UserInitiated())
	assert.False(t, Trigger{Source: TriggerDocumentChange, Path: "a.md"}.UserInitiated())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindQuiescent, KindOf(ErrNoIdentity))
	assert.Equal(t, KindTransport, KindOf(assert.AnError))
	assert.Equal(t, KindValidation, KindOf(&ValidationError{Path: "a.md", Reason: SkipNoLink}))
	assert.Equal(t, "auth", KindAuth.String())
}
