// Package protocol defines the realtime event contract shared by the reader
// client and the relay server. Every frame is a JSON text message holding an
// Envelope; Data is decoded by whoever handles the named event.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
)

const (
	EventJoinRoom           = "join_room"
	EventLeaveRoom          = "leave_room"
	EventRequestActiveUsers = "request_active_users"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventActiveUsers        = "active_users"

	EventSendBroadcast = "send_broadcast_message"
	EventBroadcast     = "broadcast_message"
	EventSendPrivate   = "send_private_message"
	EventPrivate       = "private_message"

	EventNotification = "notification"
	EventError        = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into the data field of a new envelope.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload == nil {
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

type RoomRef struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
}

type PresenceChange struct {
	RoomId string `json:"roomId,omitempty"`
	UserId string `json:"userId"`
	Count  int    `json:"count"`
}

type ActiveUsers struct {
	RoomId  string   `json:"roomId,omitempty"`
	UserIds []string `json:"userIds"`
}

// Sender is the normalized identity of a message author. On the wire it may
// arrive either as a bare username string or as an object; both forms decode
// into the same shape.
type Sender types.Profile

func (s *Sender) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		s.Username = name
		return nil
	}

	var p types.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	*s = Sender(p)
	return nil
}

// Profile fills the gaps of a partially populated sender using senderId.
func (s Sender) Profile(senderId string) types.Profile {
	p := types.Profile(s)
	if p.Id == "" {
		p.Id = senderId
	}
	if p.Username == "" {
		p.Username = p.Id
	}
	if p.Avatar == "" {
		p.Avatar = types.DefaultAvatar
	}
	return p
}

type SendBroadcast struct {
	RoomId      string `json:"roomId"`
	Sender      Sender `json:"sender"`
	SenderId    string `json:"senderId"`
	Content     string `json:"content"`
	FriendsOnly bool   `json:"friendsOnly"`
	ClientId    string `json:"clientId,omitempty"`
}

type Broadcast struct {
	RoomId      string    `json:"roomId,omitempty"`
	MessageId   string    `json:"messageId,omitempty"`
	Sender      Sender    `json:"sender"`
	SenderId    string    `json:"senderId"`
	Content     string    `json:"content"`
	Time        time.Time `json:"time"`
	FriendsOnly bool      `json:"friendsOnly"`
	ClientId    string    `json:"clientId,omitempty"`
}

type SendPrivate struct {
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	Content        string `json:"content"`
	ClientId       string `json:"clientId,omitempty"`
}

type Private struct {
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	SenderId       string    `json:"senderId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
	ClientId       string    `json:"clientId,omitempty"`
}

const (
	KindFriendRequested = "friend_requested"
	KindFriendAccepted  = "friend_accepted"
	KindInvitation      = "invitation"
	KindWelcome         = "welcome"
)

type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Error struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// RoomConversationId is the conversation key of a book's broadcast chat.
func RoomConversationId(bookId string) string {
	return "book:" + bookId
}

// DirectConversationId is the conversation key shared by two users. It is
// the same regardless of argument order.
func DirectConversationId(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// Participants returns the two user ids of a direct conversation key.
func Participants(conversationId string) (string, string, bool) {
	rest, ok := strings.CutPrefix(conversationId, "dm:")
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
