// Package presence tracks which users are reading the same book as the
// session. The server owns the count; the tracker keeps the id set for
// display and enriches it with profiles in the background.
package presence

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/profile"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

// DefaultActiveUsersDelay gives the server time to record our join before
// the snapshot is requested.
const DefaultActiveUsersDelay = 300 * time.Millisecond

type Snapshot struct {
	RoomKey string
	Count   int
	Present []types.Profile
}

type stateNotifier interface {
	OnStateChange(fn func(realtime.State)) (cancel func())
}

type Option func(*Tracker)

func WithActiveUsersDelay(d time.Duration) Option {
	return func(t *Tracker) { t.delay = d }
}

type Tracker struct {
	sock     realtime.Socket
	resolver *profile.Resolver
	log      *log.Logger
	delay    time.Duration

	mu       sync.Mutex
	roomKey  string
	userId   string
	ids      []string
	present  map[string]struct{}
	resolved map[string]types.Profile
	pending  map[string]struct{}
	count    int
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	unsubs   []func()
	onChange func(Snapshot)
}

func NewTracker(sock realtime.Socket, resolver *profile.Resolver, l *log.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		sock:     sock,
		resolver: resolver,
		log:      l,
		delay:    DefaultActiveUsersDelay,
		present:  make(map[string]struct{}),
		resolved: make(map[string]types.Profile),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnChange sets the callback invoked after every presence update.
func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Join enters roomKey as userId. Joining the room the tracker is already in
// does nothing; joining another room leaves the current one first.
func (t *Tracker) Join(roomKey, userId string) error {
	t.mu.Lock()
	if t.roomKey == roomKey && t.userId == userId {
		t.mu.Unlock()
		return nil
	}
	inRoom := t.roomKey != ""
	t.mu.Unlock()

	if inRoom {
		if err := t.Leave(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.roomKey = roomKey
	t.userId = userId
	t.ids = nil
	t.present = make(map[string]struct{})
	t.resolved = make(map[string]types.Profile)
	t.pending = make(map[string]struct{})
	t.count = 0
	t.gen++
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.unsubs = []func(){
		t.sock.Subscribe(protocol.EventUserJoined, t.handleUserJoined),
		t.sock.Subscribe(protocol.EventUserLeft, t.handleUserLeft),
		t.sock.Subscribe(protocol.EventActiveUsers, t.handleActiveUsers),
	}
	if sn, ok := t.sock.(stateNotifier); ok {
		t.unsubs = append(t.unsubs, sn.OnStateChange(func(s realtime.State) {
			if s == realtime.Connected {
				t.Rejoin()
			}
		}))
	}
	t.mu.Unlock()

	return t.announce()
}

// Rejoin repeats the join and the snapshot request for the current room,
// used after the connection has been re-established.
func (t *Tracker) Rejoin() {
	if err := t.announce(); err != nil {
		t.log.Printf("presence: rejoin: %v", err)
	}
}

func (t *Tracker) announce() error {
	t.mu.Lock()
	roomKey, userId, gen := t.roomKey, t.userId, t.gen
	if roomKey == "" {
		t.mu.Unlock()
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, func() { t.requestActiveUsers(gen) })
	t.mu.Unlock()

	err := t.sock.Emit(protocol.EventJoinRoom, protocol.RoomRef{RoomId: roomKey, UserId: userId})
	if errors.Is(err, realtime.ErrNotConnected) {
		t.log.Printf("presence: join %q deferred until connected", roomKey)
		return nil
	}
	return err
}

func (t *Tracker) requestActiveUsers(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	roomKey := t.roomKey
	t.mu.Unlock()

	// no reply is fine; the next join/leave event keeps the count current
	if err := t.sock.Emit(protocol.EventRequestActiveUsers, protocol.RoomRef{RoomId: roomKey}); err != nil {
		t.log.Printf("presence: request active users: %v", err)
	}
}

// Leave exits the current room and drops all presence state.
func (t *Tracker) Leave() error {
	t.mu.Lock()
	if t.roomKey == "" {
		t.mu.Unlock()
		return nil
	}
	roomKey, userId := t.roomKey, t.userId
	unsubs := t.unsubs
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.cancel()
	t.gen++
	t.roomKey = ""
	t.userId = ""
	t.ids = nil
	t.present = make(map[string]struct{})
	t.resolved = make(map[string]types.Profile)
	t.pending = make(map[string]struct{})
	t.count = 0
	t.unsubs = nil
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	err := t.sock.Emit(protocol.EventLeaveRoom, protocol.RoomRef{RoomId: roomKey, UserId: userId})
	if errors.Is(err, realtime.ErrNotConnected) {
		return nil
	}
	return err
}

func (t *Tracker) RoomKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roomKey
}

// Count is the last count reported by the server.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Ids returns the present user ids in arrival order.
func (t *Tracker) Ids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.ids)
}

func (t *Tracker) Present() []types.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presentLocked()
}

// Visible returns at most limit profiles and how many more users are present
// according to the server count.
func (t *Tracker) Visible(limit int) ([]types.Profile, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := t.presentLocked()
	if limit < len(all) {
		all = all[:limit]
	}
	return all, max(t.count-len(all), 0)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		RoomKey: t.roomKey,
		Count:   t.count,
		Present: t.presentLocked(),
	}
}

func (t *Tracker) presentLocked() []types.Profile {
	out := make([]types.Profile, 0, len(t.ids))
	for _, id := range t.ids {
		if p, ok := t.resolved[id]; ok {
			out = append(out, p)
		} else if p, ok := t.resolver.Cached(id); ok {
			out = append(out, p)
		} else {
			out = append(out, types.FallbackProfile(id))
		}
	}
	return out
}

// matchesLocked reports whether an event addressed to roomId belongs to the
// joined room. Events without a room id are accepted.
func (t *Tracker) matchesLocked(roomId string) bool {
	return t.roomKey != "" && (roomId == "" || roomId == t.roomKey)
}

func (t *Tracker) addLocked(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := t.present[id]; ok {
		return false
	}
	t.present[id] = struct{}{}
	t.ids = append(t.ids, id)
	return true
}

func (t *Tracker) handleUserJoined(env *protocol.Envelope) {
	var p protocol.PresenceChange
	if err := env.Decode(&p); err != nil {
		t.log.Println("presence:", err)
		return
	}

	t.mu.Lock()
	if !t.matchesLocked(p.RoomId) {
		t.mu.Unlock()
		return
	}
	t.count = p.Count
	if t.addLocked(p.UserId) {
		t.resolveLocked(p.UserId)
	}
	snap, fn := t.snapshotLocked(), t.onChange
	t.mu.Unlock()

	notify(fn, snap)
}

func (t *Tracker) handleUserLeft(env *protocol.Envelope) {
	var p protocol.PresenceChange
	if err := env.Decode(&p); err != nil {
		t.log.Println("presence:", err)
		return
	}

	t.mu.Lock()
	if !t.matchesLocked(p.RoomId) {
		t.mu.Unlock()
		return
	}
	t.count = p.Count
	if _, ok := t.present[p.UserId]; ok {
		delete(t.present, p.UserId)
		t.ids = slices.DeleteFunc(t.ids, func(id string) bool { return id == p.UserId })
	}
	snap, fn := t.snapshotLocked(), t.onChange
	t.mu.Unlock()

	notify(fn, snap)
}

func (t *Tracker) handleActiveUsers(env *protocol.Envelope) {
	var p protocol.ActiveUsers
	if err := env.Decode(&p); err != nil {
		t.log.Println("presence:", err)
		return
	}

	t.mu.Lock()
	if !t.matchesLocked(p.RoomId) {
		t.mu.Unlock()
		return
	}
	t.ids = nil
	t.present = make(map[string]struct{}, len(p.UserIds))
	for _, id := range p.UserIds {
		if t.addLocked(id) {
			t.resolveLocked(id)
		}
	}
	t.count = len(t.ids)
	snap, fn := t.snapshotLocked(), t.onChange
	t.mu.Unlock()

	notify(fn, snap)
}

// resolveLocked starts a background profile lookup for id unless one is
// already known or in flight. Results for a room that has since been left
// are discarded.
func (t *Tracker) resolveLocked(id string) {
	if _, ok := t.resolved[id]; ok {
		return
	}
	if p, ok := t.resolver.Cached(id); ok {
		t.resolved[id] = p
		return
	}
	if _, ok := t.pending[id]; ok {
		return
	}
	t.pending[id] = struct{}{}

	ctx, gen := t.ctx, t.gen
	go func() {
		p := t.resolver.Resolve(ctx, id)

		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		delete(t.pending, id)
		t.resolved[id] = p
		snap, fn := t.snapshotLocked(), t.onChange
		t.mu.Unlock()

		notify(fn, snap)
	}()
}

func notify(fn func(Snapshot), snap Snapshot) {
	if fn != nil {
		fn(snap)
	}
}
