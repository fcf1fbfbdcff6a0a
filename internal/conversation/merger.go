// Package conversation merges live realtime messages, optimistic local sends
// and paginated history into ordered, deduplicated conversations.
package conversation

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/profile"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/realtime"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/google/uuid"
)

const (
	DefaultPopupDuration = 5 * time.Second
	DefaultPageSize      = 20

	tempPrefix = "temp-"
)

var ErrUnknownConversation = errors.New("conversation: unknown conversation")

type Status int

const (
	Sending Status = iota
	Sent
)

func (s Status) String() string {
	if s == Sending {
		return "sending"
	}
	return "sent"
}

type Kind int

const (
	Room Kind = iota
	Direct
)

type Message struct {
	Id              string
	ClientId        string
	ConversationKey string
	Sender          types.Profile
	Body            string
	SentAt          time.Time
	Status          Status
	FriendsOnly     bool
}

// Pending reports whether the message still carries a temporary id.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.Id, tempPrefix)
}

// Popup is the transient alert raised for a message arriving in a
// conversation that is not focused.
type Popup struct {
	ConversationKey string
	Sender          types.Profile
	Body            string
	// Seq increases with every popup raised by a merger.
	Seq uint64
}

// HistoryFetcher loads messages of a conversation strictly older than
// before, newest page first.
type HistoryFetcher interface {
	History(ctx context.Context, conversationKey string, before time.Time, limit int) (types.MessagePage, error)
}

type Option func(*Merger)

// WithPopups toggles popups for unfocused conversations.
func WithPopups(enabled bool) Option {
	return func(m *Merger) { m.popups = enabled }
}

func WithPopupDuration(d time.Duration) Option {
	return func(m *Merger) { m.popupDuration = d }
}

func WithPageSize(n int) Option {
	return func(m *Merger) { m.pageSize = n }
}

// WithProfiles names private message senders from the profile cache.
func WithProfiles(r *profile.Resolver) Option {
	return func(m *Merger) { m.profiles = r }
}

type conversation struct {
	key      string
	kind     Kind
	peer     string
	messages []Message
	hasMore  bool
	loading  bool
	unread   int
}

func (c *conversation) index(id string) int {
	for i := range c.messages {
		if c.messages[i].Id == id {
			return i
		}
	}
	return -1
}

// oldest returns the timestamp of the oldest confirmed message, the cursor
// for history pagination.
func (c *conversation) oldest() (time.Time, bool) {
	var t time.Time
	for _, msg := range c.messages {
		if msg.Status != Sent {
			continue
		}
		if t.IsZero() || msg.SentAt.Before(t) {
			t = msg.SentAt
		}
	}
	return t, !t.IsZero()
}

func (c *conversation) sort() {
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].SentAt.Before(c.messages[j].SentAt)
	})
}

type Merger struct {
	sock          realtime.Socket
	history       HistoryFetcher
	profiles      *profile.Resolver
	self          types.Profile
	log           *log.Logger
	popups        bool
	popupDuration time.Duration
	pageSize      int

	mu         sync.Mutex
	convs      map[string]*conversation
	room       string
	focused    string
	popup      *Popup
	popupTimer *time.Timer
	popupGen   uint64
	onChange   func(key string)
	unsubs     []func()
}

// NewMerger subscribes to the inbound message events of sock on behalf of
// session. Close releases the subscriptions.
func NewMerger(sock realtime.Socket, history HistoryFetcher, session types.Session, l *log.Logger, opts ...Option) *Merger {
	m := &Merger{
		sock:          sock,
		history:       history,
		self:          session.Profile(),
		log:           l,
		popups:        true,
		popupDuration: DefaultPopupDuration,
		pageSize:      DefaultPageSize,
		convs:         make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.unsubs = []func(){
		sock.Subscribe(protocol.EventBroadcast, m.handleBroadcast),
		sock.Subscribe(protocol.EventPrivate, m.handlePrivate),
	}
	return m
}

func (m *Merger) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	if m.popupTimer != nil {
		m.popupTimer.Stop()
	}
	m.popup = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// OnChange sets the callback invoked with the key of every conversation
// that changed, or an empty key when only the popup changed.
func (m *Merger) OnChange(fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// OpenRoom returns the broadcast conversation key of bookId and makes it the
// room that unaddressed broadcasts are routed to.
func (m *Merger) OpenRoom(bookId string) string {
	key := protocol.RoomConversationId(bookId)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(key, Room, bookId)
	m.room = key
	return key
}

// OpenDirect returns the conversation key shared with friendId.
func (m *Merger) OpenDirect(friendId string) string {
	key := protocol.DirectConversationId(m.self.Id, friendId)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(key, Direct, friendId)
	return key
}

func (m *Merger) openLocked(key string, kind Kind, peer string) *conversation {
	c, ok := m.convs[key]
	if !ok {
		c = &conversation{key: key, kind: kind, peer: peer, hasMore: true}
		m.convs[key] = c
	}
	return c
}

// SendBroadcast shows body in the book's room conversation right away and
// emits it. The optimistic entry stays if the emit fails.
func (m *Merger) SendBroadcast(bookId, body string, friendsOnly bool) (Message, error) {
	key := m.OpenRoom(bookId)
	msg := m.appendOptimistic(key, body, friendsOnly)

	err := m.sock.Emit(protocol.EventSendBroadcast, protocol.SendBroadcast{
		RoomId:      bookId,
		Sender:      protocol.Sender(m.self),
		SenderId:    m.self.Id,
		Content:     body,
		FriendsOnly: friendsOnly,
		ClientId:    msg.ClientId,
	})
	return msg, err
}

// SendDirect shows body in the conversation with friendId and emits it.
func (m *Merger) SendDirect(friendId, body string) (Message, error) {
	key := m.OpenDirect(friendId)
	msg := m.appendOptimistic(key, body, false)

	err := m.sock.Emit(protocol.EventSendPrivate, protocol.SendPrivate{
		ConversationId: key,
		SenderId:       m.self.Id,
		Content:        body,
		ClientId:       msg.ClientId,
	})
	return msg, err
}

func (m *Merger) appendOptimistic(key, body string, friendsOnly bool) Message {
	clientId := uuid.NewString()
	msg := Message{
		Id:              tempPrefix + clientId,
		ClientId:        clientId,
		ConversationKey: key,
		Sender:          m.self,
		Body:            body,
		SentAt:          time.Now(),
		Status:          Sending,
		FriendsOnly:     friendsOnly,
	}

	m.mu.Lock()
	c := m.convs[key]
	c.messages = append(c.messages, msg)
	c.sort()
	fn := m.onChange
	m.mu.Unlock()

	notify(fn, key)
	return msg
}

func (m *Merger) handleBroadcast(env *protocol.Envelope) {
	var b protocol.Broadcast
	if err := env.Decode(&b); err != nil {
		m.log.Println("conversation:", err)
		return
	}

	m.mu.Lock()
	key := m.room
	if b.RoomId != "" {
		key = protocol.RoomConversationId(b.RoomId)
	}
	if key == "" {
		m.mu.Unlock()
		m.log.Println("conversation: broadcast without room dropped")
		return
	}
	id := b.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	sentAt := b.Time
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	bookId := strings.TrimPrefix(key, "book:")
	m.receiveLocked(m.openLocked(key, Room, bookId), Message{
		Id:              id,
		ClientId:        b.ClientId,
		ConversationKey: key,
		Sender:          m.senderProfile(b.Sender, b.SenderId),
		Body:            b.Content,
		SentAt:          sentAt,
		Status:          Sent,
		FriendsOnly:     b.FriendsOnly,
	})
}

func (m *Merger) handlePrivate(env *protocol.Envelope) {
	var p protocol.Private
	if err := env.Decode(&p); err != nil {
		m.log.Println("conversation:", err)
		return
	}

	a, b, ok := protocol.Participants(p.ConversationId)
	if !ok {
		m.log.Printf("conversation: invalid conversation id %q", p.ConversationId)
		return
	}
	peer := a
	if a == m.self.Id {
		peer = b
	}

	sender := m.senderProfile(protocol.Sender{}, p.SenderId)
	sentAt := p.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	m.mu.Lock()
	m.receiveLocked(m.openLocked(p.ConversationId, Direct, peer), Message{
		Id:              p.MessageId,
		ClientId:        p.ClientId,
		ConversationKey: p.ConversationId,
		Sender:          sender,
		Body:            p.Content,
		SentAt:          sentAt,
		Status:          Sent,
	})
}

// senderProfile normalizes an inbound sender. A sender without a name is
// resolved as the session user or from the profile cache.
func (m *Merger) senderProfile(s protocol.Sender, senderId string) types.Profile {
	if s.Username != "" {
		return s.Profile(senderId)
	}

	id := s.Id
	if id == "" {
		id = senderId
	}
	if id == m.self.Id {
		return m.self
	}
	if m.profiles != nil {
		if cached, ok := m.profiles.Cached(id); ok {
			return cached
		}
	}
	return s.Profile(senderId)
}

// receiveLocked merges a confirmed message into c and releases m.mu.
func (m *Merger) receiveLocked(c *conversation, msg Message) {
	if msg.Id != "" && c.index(msg.Id) >= 0 {
		m.mu.Unlock()
		return
	}

	if msg.Sender.Id == m.self.Id {
		if i := m.pendingMatch(c, msg); i >= 0 {
			c.messages[i] = msg
		} else {
			c.messages = append(c.messages, msg)
		}
		c.sort()
		fn := m.onChange
		m.mu.Unlock()

		notify(fn, c.key)
		return
	}

	c.messages = append(c.messages, msg)
	c.sort()
	popupChanged := false
	if m.focused != c.key {
		c.unread++
		if m.popups {
			m.showPopupLocked(Popup{ConversationKey: c.key, Sender: msg.Sender, Body: msg.Body})
			popupChanged = true
		}
	}
	fn := m.onChange
	m.mu.Unlock()

	notify(fn, c.key)
	if popupChanged {
		notify(fn, "")
	}
}

// pendingMatch finds the optimistic entry confirmed by msg: the one with the
// echoed correlation id or, when the server did not echo one, the oldest
// sending entry with the same body.
func (m *Merger) pendingMatch(c *conversation, msg Message) int {
	if msg.ClientId != "" {
		for i, cur := range c.messages {
			if cur.Status == Sending && cur.ClientId == msg.ClientId {
				return i
			}
		}
		return -1
	}
	for i, cur := range c.messages {
		if cur.Status == Sending && cur.Body == msg.Body {
			return i
		}
	}
	return -1
}

func (m *Merger) showPopupLocked(p Popup) {
	if m.popupTimer != nil {
		m.popupTimer.Stop()
	}
	m.popupGen++
	gen := m.popupGen
	p.Seq = gen
	m.popup = &p
	m.popupTimer = time.AfterFunc(m.popupDuration, func() { m.expirePopup(gen) })
}

func (m *Merger) expirePopup(gen uint64) {
	m.mu.Lock()
	if gen != m.popupGen || m.popup == nil {
		m.mu.Unlock()
		return
	}
	m.popup = nil
	fn := m.onChange
	m.mu.Unlock()

	notify(fn, "")
}

// Popup returns the popup currently shown, if any.
func (m *Merger) Popup() (Popup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.popup == nil {
		return Popup{}, false
	}
	return *m.popup, true
}

// Focus marks key as the conversation being viewed: its unread counter is
// reset and any popup is hidden.
func (m *Merger) Focus(key string) {
	m.mu.Lock()
	m.focused = key
	if c, ok := m.convs[key]; ok {
		c.unread = 0
	}
	m.popupGen++
	if m.popupTimer != nil {
		m.popupTimer.Stop()
		m.popupTimer = nil
	}
	m.popup = nil
	fn := m.onChange
	m.mu.Unlock()

	notify(fn, key)
}

func (m *Merger) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused = ""
}

func (m *Merger) Unread(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok {
		return c.unread
	}
	return 0
}

// Messages returns the full ordered list of key.
func (m *Merger) Messages(key string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// View returns the friends-only or the public partition of key.
func (m *Merger) View(key string, friendsOnly bool) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	var out []Message
	for _, msg := range c.messages {
		if msg.FriendsOnly == friendsOnly {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Merger) HasMore(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	return ok && c.hasMore
}

// LoadOlder merges the page of history preceding the oldest loaded message.
// A failed fetch, or a page with nothing older, disables further loading for
// key; the failure is not returned.
func (m *Merger) LoadOlder(ctx context.Context, key string) error {
	m.mu.Lock()
	c, ok := m.convs[key]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownConversation
	}
	if !c.hasMore || c.loading || m.history == nil {
		m.mu.Unlock()
		return nil
	}
	before, ok := c.oldest()
	if !ok {
		before = time.Now()
	}
	c.loading = true
	m.mu.Unlock()

	page, err := m.history.History(ctx, key, before, m.pageSize)

	m.mu.Lock()
	c.loading = false
	if err != nil {
		c.hasMore = false
		fn := m.onChange
		m.mu.Unlock()

		m.log.Printf("conversation: load history of %s: %v", key, err)
		notify(fn, key)
		return nil
	}

	added := 0
	for _, hm := range page.Messages {
		if !hm.SentAt.Before(before) || c.index(hm.Id) >= 0 {
			continue
		}
		c.messages = append(c.messages, fromHistory(key, hm))
		added++
	}
	c.sort()
	// a page that adds nothing cannot move the cursor
	c.hasMore = page.HasMore && added > 0
	fn := m.onChange
	m.mu.Unlock()

	notify(fn, key)
	return nil
}

func fromHistory(key string, hm types.Message) Message {
	sender := protocol.Sender(hm.Sender).Profile(hm.Sender.Id)
	return Message{
		Id:              hm.Id,
		ClientId:        hm.ClientId,
		ConversationKey: key,
		Sender:          sender,
		Body:            hm.Content,
		SentAt:          hm.SentAt,
		Status:          Sent,
		FriendsOnly:     hm.FriendsOnly,
	}
}

func notify(fn func(string), key string) {
	if fn != nil {
		fn(key)
	}
}
