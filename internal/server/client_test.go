package server

import (
	"testing"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/stats"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1)
	})

	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	msg := newServerMessage(protocol.EventUserLeft, protocol.PresenceChange{RoomId: "book-1", UserId: "u1", Count: 2})
	msg.UserId = "u9"

	bytes, err := serializeMessage(msg)
	assert.NoError(t, err, "expected no error during serialization")
	assert.JSONEq(t, `{"event":"user_left","data":{"roomId":"book-1","userId":"u1","count":2}}`, string(bytes),
		"expected routing fields to stay off the wire")
}

func Test_stopClient(t *testing.T) {
	c := &Client{stop: make(chan struct{})}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected a second stop to be a no-op")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_leaveAllRooms(t *testing.T) {
	rooms := []*Room{
		{id: "book-1", leaveChan: make(chan *ClientMessage, 1)},
		{id: "book-2", leaveChan: make(chan *ClientMessage, 1)},
	}

	c := newTestClient("u1", "alice")
	c.log = testutil.TestLogger(t)
	for _, room := range rooms {
		c.addRoom(room)
	}

	c.leaveAllRooms()

	for _, room := range rooms {
		select {
		case msg := <-room.leaveChan:
			assert.Equal(t, protocol.EventLeaveRoom, msg.Event)
			assert.Equal(t, room.id, msg.RoomId(), "expected leave message for room %s", room.id)
			assert.Equal(t, "u1", msg.UserId)
			assert.Equal(t, c, msg.client, "expected leave message to include client")
		default:
			t.Errorf("expected leave message to be sent for room %s", room.id)
		}
	}
}

func Test_dispatch(t *testing.T) {
	t.Run("join goes through the server", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := newTestClient("u1", "alice")
		c.chatServer = cs
		c.log = cs.log

		c.dispatch(&ClientMessage{Event: protocol.EventJoinRoom, Room: &protocol.RoomRef{RoomId: "book-1"}, client: c})
		assert.Len(t, cs.joinChan, 1)
	})

	t.Run("join fails when joinChan full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.joinChan = make(chan *ClientMessage, 1)
		cs.joinChan <- &ClientMessage{}
		c := newTestClient("u1", "alice")
		c.chatServer = cs
		c.log = cs.log

		c.dispatch(&ClientMessage{Event: protocol.EventJoinRoom, Room: &protocol.RoomRef{RoomId: "book-1"}, client: c})

		var e protocol.Error
		decodeNext(t, c, protocol.EventError, &e)
		assert.Equal(t, errMsgServiceUnavailable, e.Error)
	})

	t.Run("room events need membership", func(t *testing.T) {
		c := newTestClient("u1", "alice")
		c.log = testutil.TestLogger(t)

		c.dispatch(&ClientMessage{Event: protocol.EventRequestActiveUsers, Room: &protocol.RoomRef{RoomId: "book-1"}, client: c})

		var e protocol.Error
		decodeNext(t, c, protocol.EventError, &e)
		assert.Equal(t, protocol.Error{Event: protocol.EventRequestActiveUsers, Error: errMsgNotInRoom}, e)
	})

	t.Run("room events are routed to the room", func(t *testing.T) {
		c := newTestClient("u1", "alice")
		c.log = testutil.TestLogger(t)
		room := &Room{id: "book-1", clientMsgChan: make(chan *ClientMessage, 1), leaveChan: make(chan *ClientMessage, 1)}
		c.addRoom(room)

		c.dispatch(&ClientMessage{
			Event:     protocol.EventSendBroadcast,
			Broadcast: &protocol.SendBroadcast{RoomId: "book-1", Content: "hi"},
			client:    c,
		})
		require.Len(t, room.clientMsgChan, 1)

		c.dispatch(&ClientMessage{Event: protocol.EventLeaveRoom, Room: &protocol.RoomRef{RoomId: "book-1"}, client: c})
		assert.Len(t, room.leaveChan, 1)
	})
}

func Test_addRoom_delRoom_getRoom(t *testing.T) {
	c := newTestClient("u1", "alice")
	room := &Room{id: "book-1"}

	c.addRoom(room)
	assert.Equal(t, room, c.getRoom("book-1"))

	c.delRoom("book-1")
	assert.Nil(t, c.getRoom("book-1"))
	assert.NotPanics(t, func() { c.delRoom("book-1") })
}
