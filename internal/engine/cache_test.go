package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenekeeper/internal/remote"
	"github.com/roach88/scenekeeper/internal/testutil"
)

func TestCache_IdentityResolvedOnce(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	cache := NewCache("token")

	for i := 0; i < 3; i++ {
		id, err := cache.Identity(context.Background(), fake)
		require.NoError(t, err)
		assert.Equal(t, "u1", id)
	}
	assert.Equal(t, 1, fake.Calls("Identity"))
}

func TestCache_NoCredentialIsNoIdentity(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	cache := NewCache("")

	_, err := cache.Identity(context.Background(), fake)

	require.ErrorIs(t, err, ErrNoIdentity)
	assert.Equal(t, KindQuiescent, KindOf(err))
	assert.Zero(t, fake.Calls("Identity"))
}

func TestCache_EmptyIdentityIsNoIdentity(t *testing.T) {
	fake := testutil.NewFakeRemote("")
	_, err := NewCache("token").Identity(context.Background(), fake)
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	fake.IdentityErr = errors.New("timeout")
	cache := NewCache("token")

	_, err := cache.Identity(context.Background(), fake)
	require.Error(t, err)

	fake.IdentityErr = nil
	id, err := cache.Identity(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, 2, fake.Calls("Identity"))
}

func TestCache_InvalidateOnCredentialChange(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	fake.Muse["u1"] = []remote.Muse{{Name: "Ada"}}
	cache := NewCache("old")

	_, err := cache.Identity(context.Background(), fake)
	require.NoError(t, err)
	_, err = cache.Muses(context.Background(), fake, []string{"u1"})
	require.NoError(t, err)

	assert.False(t, cache.InvalidateOnCredentialChange("old"), "same credential keeps the cache")
	_, _ = cache.Identity(context.Background(), fake)
	assert.Equal(t, 1, fake.Calls("Identity"))

	assert.True(t, cache.InvalidateOnCredentialChange("new"))
	assert.Equal(t, "new", cache.Credential())

	fake.UserID = "u2"
	id, err := cache.Identity(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, "u2", id)
	_, err = cache.Muses(context.Background(), fake, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("Muses"))
}

func TestCache_MusesPerIdentity(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	fake.Muse["u1"] = []remote.Muse{{Name: "Ada", OwnerID: "u1"}, {Name: "Shared", IsShared: true}}
	fake.Muse["u2"] = []remote.Muse{{Name: "Shared", IsShared: true}}
	cache := NewCache("token")

	got, err := cache.Muses(context.Background(), fake, []string{"u1", "u2"})
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, m := range got {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Ada", "Shared", "Shared"}, names, "overlapping sets keep duplicates")
	assert.Equal(t, 2, fake.Calls("Muses"))

	_, err = cache.Muses(context.Background(), fake, []string{"u2", "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Calls("Muses"), "both identities served from cache")
}

func TestCache_MusesErrorNotCached(t *testing.T) {
	fake := testutil.NewFakeRemote("u1")
	fake.MusesErr = errors.New("boom")
	cache := NewCache("token")

	_, err := cache.Muses(context.Background(), fake, []string{"u1"})
	require.Error(t, err)

	fake.MusesErr = nil
	got, err := cache.Muses(context.Background(), fake, []string{"u1"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 2, fake.Calls("Muses"))
}
