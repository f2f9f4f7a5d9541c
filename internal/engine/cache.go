package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/scenekeeper/internal/remote"
)

// IdentitySource resolves the identity behind the current credential.
type IdentitySource interface {
	Identity(ctx context.Context) (string, error)
}

// MuseSource lists the muses visible to identities.
type MuseSource interface {
	Muses(ctx context.Context, userIDs []string) ([]remote.Muse, error)
}

// Cache holds the resolved identity and the muses per identity for the
// lifetime of one credential. It is passed explicitly to whoever needs it;
// there is no package-level cache.
//
// Thread-safety: safe for concurrent use. A fetch that completes after the
// credential changed is discarded rather than stored.
type Cache struct {
	mu         sync.Mutex
	credential string
	generation uint64
	identity   string
	muses      map[string][]remote.Muse
}

// NewCache creates an empty cache for a credential.
func NewCache(credential string) *Cache {
	return &Cache{
		credential: credential,
		muses:      make(map[string][]remote.Muse),
	}
}

// InvalidateOnCredentialChange drops everything cached when credential
// differs from the one the cache was built for. Returns true if it did.
func (c *Cache) InvalidateOnCredentialChange(credential string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if credential == c.credential {
		return false
	}
	c.credential = credential
	c.generation++
	c.identity = ""
	c.muses = make(map[string][]remote.Muse)
	return true
}

// Credential returns the credential the cache currently belongs to.
func (c *Cache) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// Identity returns the cached identity, resolving it on first use.
// Returns ErrNoIdentity when no credential is configured.
func (c *Cache) Identity(ctx context.Context, src IdentitySource) (string, error) {
	c.mu.Lock()
	if c.credential == "" {
		c.mu.Unlock()
		return "", ErrNoIdentity
	}
	if c.identity != "" {
		id := c.identity
		c.mu.Unlock()
		return id, nil
	}
	gen := c.generation
	c.mu.Unlock()

	id, err := src.Identity(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("resolve identity: %w", ErrNoIdentity)
	}

	c.mu.Lock()
	if c.generation == gen {
		c.identity = id
	}
	c.mu.Unlock()
	return id, nil
}

// Muses returns the muses for each identity, in identity order. Identities
// not yet cached are fetched one request each. A muse visible to two
// identities appears twice.
func (c *Cache) Muses(ctx context.Context, src MuseSource, userIDs []string) ([]remote.Muse, error) {
	var out []remote.Muse
	for _, id := range userIDs {
		c.mu.Lock()
		cached, ok := c.muses[id]
		gen := c.generation
		c.mu.Unlock()

		if !ok {
			fetched, err := src.Muses(ctx, []string{id})
			if err != nil {
				return nil, err
			}
			if fetched == nil {
				fetched = []remote.Muse{}
			}
			c.mu.Lock()
			if c.generation == gen {
				c.muses[id] = fetched
			}
			c.mu.Unlock()
			cached = fetched
		}
		out = append(out, cached...)
	}
	return out, nil
}
