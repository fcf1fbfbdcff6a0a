package profile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/testutil"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchUser(ctx context.Context, id string) (types.User, error) {
	args := m.Called(id)
	return args.Get(0).(types.User), args.Error(1)
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("cache hit skips fetch", func(t *testing.T) {
		f := &mockFetcher{}
		defer f.AssertExpectations(t)

		cache := NewCache()
		cache.StoreFriends([]types.User{{Id: "u2", Username: "bob", Avatar: "/bob.png"}})
		r := NewResolver(cache, f, testutil.TestLogger(t))

		p := r.Resolve(context.Background(), "u2")
		assert.Equal(t, types.Profile{Id: "u2", Username: "bob", Avatar: "/bob.png"}, p)
		f.AssertNotCalled(t, "FetchUser", mock.Anything)
	})

	t.Run("fetch on miss and cache result", func(t *testing.T) {
		f := &mockFetcher{}
		defer f.AssertExpectations(t)
		f.On("FetchUser", "u3").Return(types.User{Id: "u3", Username: "carol"}, nil).Once()

		r := NewResolver(NewCache(), f, testutil.TestLogger(t))

		p := r.Resolve(context.Background(), "u3")
		assert.Equal(t, types.Profile{Id: "u3", Username: "carol", Avatar: types.DefaultAvatar}, p)

		// second call is served from the cache; Once() fails the mock otherwise
		p = r.Resolve(context.Background(), "u3")
		assert.Equal(t, "carol", p.Username)
	})

	t.Run("fetch failure falls back", func(t *testing.T) {
		f := &mockFetcher{}
		defer f.AssertExpectations(t)
		f.On("FetchUser", "u4").Return(types.User{}, errors.New("not found")).Twice()

		r := NewResolver(NewCache(), f, testutil.TestLogger(t))

		p := r.Resolve(context.Background(), "u4")
		assert.Equal(t, types.FallbackProfile("u4"), p)

		_, ok := r.Cached("u4")
		assert.False(t, ok, "expected fallback profile not to be cached")

		r.Resolve(context.Background(), "u4")
	})

	t.Run("no fetcher", func(t *testing.T) {
		r := NewResolver(NewCache(), nil, testutil.TestLogger(t))
		assert.Equal(t, types.FallbackProfile("u5"), r.Resolve(context.Background(), "u5"))
	})
}

func TestCache_MergeDoesNotClobber(t *testing.T) {
	c := NewCache()
	c.StoreFriends([]types.User{{Id: "u1", Username: "alice"}})

	var wg sync.WaitGroup
	for _, id := range []string{"u2", "u3", "u4", "u5"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Store(types.Profile{Id: id, Username: "name-" + id})
		}(id)
	}
	wg.Wait()

	c.StoreFriends([]types.User{{Id: "u6", Username: "frank"}})

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6"} {
		_, ok := c.Lookup(id)
		assert.True(t, ok, "expected %s to survive concurrent writers", id)
	}

	assert.True(t, c.IsFriend("u1"))
	assert.True(t, c.IsFriend("u6"))
	assert.False(t, c.IsFriend("u2"), "expected resolved profiles not to become friends")
	assert.Len(t, c.Friends(), 2)

	c.Store(types.Profile{})
	_, ok := c.Lookup("")
	assert.False(t, ok, "expected empty id to be ignored")
}
