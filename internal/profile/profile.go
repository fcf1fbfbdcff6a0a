// Package profile resolves user ids to display profiles for presence and
// chat. Lookups go through a shared cache first, then a remote fetch, and
// finally fall back to a synthesized profile so callers never fail on a
// missing name.
package profile

import (
	"context"
	"log"
	"sync"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

// Fetcher loads a single user from the backend.
type Fetcher interface {
	FetchUser(ctx context.Context, id string) (types.User, error)
}

// Cache holds resolved profiles and the session's friend ids. Writers merge
// into it; no writer removes an entry another writer stored.
type Cache struct {
	mu       sync.RWMutex
	profiles map[string]types.Profile
	friends  map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{
		profiles: make(map[string]types.Profile),
		friends:  make(map[string]struct{}),
	}
}

func (c *Cache) Lookup(id string) (types.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	return p, ok
}

func (c *Cache) Store(p types.Profile) {
	if p.Id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.Id] = p
}

// StoreFriends merges a friend list into the cache.
func (c *Cache) StoreFriends(friends []types.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range friends {
		if f.Id == "" {
			continue
		}
		c.profiles[f.Id] = f.Profile()
		c.friends[f.Id] = struct{}{}
	}
}

func (c *Cache) IsFriend(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.friends[id]
	return ok
}

// Friends returns the cached profiles of every known friend.
func (c *Cache) Friends() []types.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Profile, 0, len(c.friends))
	for id := range c.friends {
		out = append(out, c.profiles[id])
	}
	return out
}

type Resolver struct {
	cache   *Cache
	fetcher Fetcher
	log     *log.Logger
}

func NewResolver(cache *Cache, fetcher Fetcher, l *log.Logger) *Resolver {
	return &Resolver{cache: cache, fetcher: fetcher, log: l}
}

func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Cached returns the profile for id if it is already known.
func (r *Resolver) Cached(id string) (types.Profile, bool) {
	return r.cache.Lookup(id)
}

// Resolve never fails: a fetch error yields a fallback profile, which is not
// cached so a later resolution can still succeed.
func (r *Resolver) Resolve(ctx context.Context, id string) types.Profile {
	if p, ok := r.cache.Lookup(id); ok {
		return p
	}

	if r.fetcher == nil {
		return types.FallbackProfile(id)
	}

	u, err := r.fetcher.FetchUser(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Printf("resolve profile %q: %v", id, err)
		}
		return types.FallbackProfile(id)
	}

	p := u.Profile()
	if p.Id == "" {
		p.Id = id
	}
	if p.Username == "" {
		p.Username = id
	}
	if p.Avatar == "" {
		p.Avatar = types.DefaultAvatar
	}
	r.cache.Store(p)
	return p
}
