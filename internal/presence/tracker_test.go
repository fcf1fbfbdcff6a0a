package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/profile"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime/realtimetest"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/testutil"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher serves users from a map. When gate is set every fetch waits
// for it to be closed first.
type stubFetcher struct {
	mu    sync.Mutex
	users map[string]types.User
	calls map[string]int
	gate  chan struct{}
}

func newStubFetcher(users ...types.User) *stubFetcher {
	f := &stubFetcher{users: make(map[string]types.User), calls: make(map[string]int)}
	for _, u := range users {
		f.users[u.Id] = u
	}
	return f
}

func (f *stubFetcher) FetchUser(ctx context.Context, id string) (types.User, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.User{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return types.User{}, errors.New("user not found")
	}
	return u, nil
}

func (f *stubFetcher) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newTestTracker(t *testing.T, f profile.Fetcher, opts ...Option) (*Tracker, *realtimetest.Socket) {
	sock := realtimetest.New()
	resolver := profile.NewResolver(profile.NewCache(), f, testutil.TestLogger(t))
	opts = append([]Option{WithActiveUsersDelay(time.Hour)}, opts...)
	return NewTracker(sock, resolver, testutil.TestLogger(t), opts...), sock
}

func TestTracker_Join(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher(), WithActiveUsersDelay(10*time.Millisecond))
	defer tr.Leave()

	require.NoError(t, tr.Join("b1", "u1"))
	require.NoError(t, tr.Join("b1", "u1"), "expected repeated join for the same room to be ignored")

	joins := sock.Emitted(protocol.EventJoinRoom)
	require.Len(t, joins, 1, "expected exactly one join_room")
	assert.Equal(t, protocol.RoomRef{RoomId: "b1", UserId: "u1"}, joins[0].Payload)

	assert.Eventually(t, func() bool {
		return len(sock.Emitted(protocol.EventRequestActiveUsers)) == 1
	}, time.Second, 5*time.Millisecond, "expected delayed request_active_users")
	assert.Equal(t, protocol.RoomRef{RoomId: "b1"}, sock.Emitted(protocol.EventRequestActiveUsers)[0].Payload)

	assert.Equal(t, 1, sock.Subscribers(protocol.EventUserJoined))
	assert.Equal(t, 1, sock.Subscribers(protocol.EventUserLeft))
	assert.Equal(t, 1, sock.Subscribers(protocol.EventActiveUsers))
}

func TestTracker_DuplicateJoinEvents(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher(types.User{Id: "u2", Username: "bob"}))
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{RoomId: "b1", UserId: "u2", Count: 2})
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{RoomId: "b1", UserId: "u2", Count: 3})

	assert.Equal(t, []string{"u2"}, tr.Ids(), "expected u2 exactly once")
	assert.Equal(t, 3, tr.Count(), "expected last received count")

	assert.Eventually(t, func() bool {
		p := tr.Present()
		return len(p) == 1 && p[0].Username == "bob"
	}, time.Second, 5*time.Millisecond, "expected profile to be resolved")
}

func TestTracker_UserLeft(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u2", Count: 2})
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u3", Count: 3})
	sock.Deliver(protocol.EventUserLeft, protocol.PresenceChange{UserId: "u2", Count: 7})

	assert.Equal(t, []string{"u3"}, tr.Ids())
	assert.Equal(t, 7, tr.Count(), "expected count from the payload, not the local set")

	sock.Deliver(protocol.EventUserLeft, protocol.PresenceChange{UserId: "unknown", Count: 6})
	assert.Equal(t, []string{"u3"}, tr.Ids())
	assert.Equal(t, 6, tr.Count())
}

func TestTracker_ActiveUsersSnapshot(t *testing.T) {
	f := newStubFetcher(
		types.User{Id: "u2", Username: "bob"},
		types.User{Id: "u3", Username: "carol"},
	)
	tr, sock := newTestTracker(t, f)
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u9", Count: 9})
	sock.Deliver(protocol.EventActiveUsers, protocol.ActiveUsers{RoomId: "b1", UserIds: []string{"u1", "u2", "u3", "u2"}})

	assert.Equal(t, []string{"u1", "u2", "u3"}, tr.Ids(), "expected snapshot to replace the set without duplicates")
	assert.Equal(t, 3, tr.Count())

	assert.Eventually(t, func() bool {
		return f.callsFor("u2") == 1 && f.callsFor("u3") == 1
	}, time.Second, 5*time.Millisecond, "expected one lookup per unknown id")

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u4", Count: 4})
	assert.Equal(t, 4, tr.Count(), "expected join after snapshot to win")
}

func TestTracker_IgnoresOtherRooms(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{RoomId: "b2", UserId: "u2", Count: 5})
	sock.Deliver(protocol.EventActiveUsers, protocol.ActiveUsers{RoomId: "b2", UserIds: []string{"u5"}})

	assert.Empty(t, tr.Ids())
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_CountIndependentOfResolution(t *testing.T) {
	f := newStubFetcher(types.User{Id: "u2", Username: "bob"})
	f.gate = make(chan struct{})
	tr, sock := newTestTracker(t, f)
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u2", Count: 2})
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u3", Count: 3})

	// lookups are still blocked, yet the count and set are current
	assert.Equal(t, 3, tr.Count())
	present := tr.Present()
	require.Len(t, present, 2)
	assert.Equal(t, types.FallbackProfile("u2"), present[0], "expected placeholder while resolving")

	close(f.gate)
	assert.Eventually(t, func() bool {
		p := tr.Present()
		return p[0].Username == "bob" && p[1] == types.FallbackProfile("u3")
	}, time.Second, 5*time.Millisecond, "expected u2 resolved and u3 to fall back")
	assert.Equal(t, 3, tr.Count())
}

func TestTracker_OnChange(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	var snaps []Snapshot
	var mu sync.Mutex
	tr.OnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventUserLeft, protocol.PresenceChange{UserId: "u2", Count: 1})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	assert.Equal(t, "b1", snaps[0].RoomKey)
	assert.Equal(t, 1, snaps[0].Count)
}

func TestTracker_Visible(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))

	sock.Deliver(protocol.EventActiveUsers, protocol.ActiveUsers{UserIds: []string{"a", "b", "c", "d", "e", "f", "g"}})
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "h", Count: 12})

	shown, more := tr.Visible(5)
	assert.Len(t, shown, 5)
	assert.Equal(t, 7, more, "expected remainder computed from the server count")

	shown, more = tr.Visible(20)
	assert.Len(t, shown, 8)
	assert.Equal(t, 4, more)
}

func TestTracker_Leave(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u2", Count: 2})

	require.NoError(t, tr.Leave())

	leaves := sock.Emitted(protocol.EventLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, protocol.RoomRef{RoomId: "b1", UserId: "u1"}, leaves[0].Payload)
	assert.Equal(t, 0, sock.Subscribers(protocol.EventUserJoined), "expected handlers to be removed")
	assert.Empty(t, tr.Ids())
	assert.Equal(t, 0, tr.Count())
	assert.Empty(t, tr.RoomKey())

	require.NoError(t, tr.Leave(), "expected leaving twice to be a no-op")
	assert.Len(t, sock.Emitted(protocol.EventLeaveRoom), 1)
}

func TestTracker_LeaveCancelsSnapshotRequest(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher(), WithActiveUsersDelay(30*time.Millisecond))
	require.NoError(t, tr.Join("b1", "u1"))
	require.NoError(t, tr.Leave())

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, sock.Emitted(protocol.EventRequestActiveUsers), "expected pending request to be cancelled")
}

func TestTracker_SwitchRooms(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))
	sock.Deliver(protocol.EventUserJoined, protocol.PresenceChange{UserId: "u2", Count: 2})

	require.NoError(t, tr.Join("b2", "u1"))

	all := sock.Emitted("")
	require.Len(t, all, 3)
	assert.Equal(t, protocol.EventJoinRoom, all[0].Event)
	assert.Equal(t, protocol.EventLeaveRoom, all[1].Event, "expected leave before rejoining")
	assert.Equal(t, protocol.RoomRef{RoomId: "b1", UserId: "u1"}, all[1].Payload)
	assert.Equal(t, protocol.RoomRef{RoomId: "b2", UserId: "u1"}, all[2].Payload)

	assert.Empty(t, tr.Ids(), "expected state of the previous room to be dropped")
	assert.Equal(t, 1, sock.Subscribers(protocol.EventUserJoined), "expected a single set of handlers")
}

func TestTracker_RejoinOnReconnect(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	require.NoError(t, tr.Join("b1", "u1"))

	sock.SetState(realtime.Connecting)
	sock.SetState(realtime.Connected)

	assert.Len(t, sock.Emitted(protocol.EventJoinRoom), 2, "expected join to be re-emitted after reconnect")
}

func TestTracker_JoinWhileDisconnected(t *testing.T) {
	tr, sock := newTestTracker(t, newStubFetcher())
	sock.SetErr(realtime.ErrNotConnected)

	assert.NoError(t, tr.Join("b1", "u1"), "expected join to degrade to a no-op")
	assert.Equal(t, "b1", tr.RoomKey())
	assert.NoError(t, tr.Leave())

	sock.SetErr(errors.New("boom"))
	assert.Error(t, tr.Join("b2", "u1"))
}
