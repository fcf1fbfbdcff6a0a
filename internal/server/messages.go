package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
)

const (
	errMsgRoomNotFound      = "room not found"
	errMsgNotInRoom         = "not in room"
	errMsgInternal          = "internal server error"
	errMsgServiceUnavailable = "service unavailable"
	errMsgInvalidMessage    = "invalid message format"
	errMsgEmptyContent      = "message content is empty"
	errMsgNotParticipant    = "not a participant of this conversation"
	errMsgNotFriends        = "direct messages are only allowed between friends"
)

// ClientMessage is a decoded frame received from a client. Exactly one of the
// payload fields is set, matching Event.
type ClientMessage struct {
	Event     string
	Room      *protocol.RoomRef
	Broadcast *protocol.SendBroadcast
	Private   *protocol.SendPrivate
	UserId    string
	Timestamp time.Time
	client    *Client
}

// RoomId returns the room a message is addressed to, if any.
func (m *ClientMessage) RoomId() string {
	switch {
	case m.Room != nil:
		return m.Room.RoomId
	case m.Broadcast != nil:
		return m.Broadcast.RoomId
	}
	return ""
}

func parseClientMessage(raw []byte) (*ClientMessage, error) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	msg := &ClientMessage{Event: env.Event}
	switch env.Event {
	case protocol.EventJoinRoom, protocol.EventLeaveRoom, protocol.EventRequestActiveUsers:
		msg.Room = &protocol.RoomRef{}
		if err := env.Decode(msg.Room); err != nil {
			return nil, err
		}
		if msg.Room.RoomId == "" {
			return nil, fmt.Errorf("%s: missing roomId", env.Event)
		}
	case protocol.EventSendBroadcast:
		msg.Broadcast = &protocol.SendBroadcast{}
		if err := env.Decode(msg.Broadcast); err != nil {
			return nil, err
		}
		if msg.Broadcast.RoomId == "" {
			return nil, fmt.Errorf("%s: missing roomId", env.Event)
		}
	case protocol.EventSendPrivate:
		msg.Private = &protocol.SendPrivate{}
		if err := env.Decode(msg.Private); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	return msg, nil
}

// ServerMessage is an outbound event. UserId and SkipClient are only used
// when routing through the chat server to every session of a user.
type ServerMessage struct {
	*protocol.Envelope
	UserId     string  `json:"-"`
	SkipClient *Client `json:"-"`
}

func newServerMessage(event string, payload any) *ServerMessage {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return ErrEvent(event, errMsgInternal)
	}
	return &ServerMessage{Envelope: env}
}

// ErrEvent builds an error frame for a failed client event.
func ErrEvent(event, message string) *ServerMessage {
	env, _ := protocol.NewEnvelope(protocol.EventError, protocol.Error{Event: event, Error: message})
	return &ServerMessage{Envelope: env}
}

func ErrRoomNotFound(event string) *ServerMessage {
	return ErrEvent(event, errMsgRoomNotFound)
}

func ErrNotInRoom(event string) *ServerMessage {
	return ErrEvent(event, errMsgNotInRoom)
}

func ErrInternalError(event string) *ServerMessage {
	return ErrEvent(event, errMsgInternal)
}

func ErrServiceUnavailable(event string) *ServerMessage {
	return ErrEvent(event, errMsgServiceUnavailable)
}

func ErrInvalidMessage(event string) *ServerMessage {
	return ErrEvent(event, errMsgInvalidMessage)
}

func validContent(s string) bool {
	return strings.TrimSpace(s) != ""
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
