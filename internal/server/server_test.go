package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/stats"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/testutil"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, db database.Repository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func newTestClient(id, username string) *Client {
	return &Client{
		user:  types.User{Id: id, Username: username},
		send:  make(chan *ServerMessage, 16),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
}

// decodeNext pops the next queued message of c and decodes its payload.
func decodeNext(t *testing.T, c *Client, event string, v any) {
	t.Helper()
	select {
	case msg := <-c.send:
		require.Equal(t, event, msg.Event, "expected %q event", event)
		if v != nil {
			require.NoError(t, msg.Decode(v))
		}
	default:
		t.Fatalf("expected %q event to be queued", event)
	}
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, cs.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, cs.broadcastChan, "expected broadcastChan to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.userMap, "expected userMap to be initialized")
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-cs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-cs.stop:
				// never close done to simulate a hang
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServerShutdown_Integration(t *testing.T) {
	t.Run("successful shutdown with no rooms", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		go cs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("successful shutdown with active rooms", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveRooms").Once()
		su.On("Decr", "NumActiveRooms").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockRepository{}, su)
		go cs.Run()

		room := NewRoom("book-1", cs)
		cs.addRoom(room.id, room)
		go room.start()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown with active rooms")

		_, ok := cs.getRoom(room.id)
		assert.False(t, ok, "expected room to be unloaded after shutdown")
	})
}

func TestChatServer_addClient_removeClient(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveClients").Once()
	su.On("Decr", "NumActiveClients").Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	client := newTestClient("u1", "alice")
	cs.addClient(client)
	assert.Len(t, cs.clients, 1, "expected 1 client after adding")
	assert.Len(t, cs.userMap["u1"], 1, "expected userMap to have 1 client for user")
	assert.Equal(t, []string{"u1"}, cs.OnlineUsers())

	cs.removeClient(client)
	// a second remove must not decrement the gauge again
	cs.removeClient(client)
	assert.Len(t, cs.clients, 0, "expected 0 client after removing")
	assert.Len(t, cs.userMap, 0, "expected userMap to be empty after removing client")
	assert.Empty(t, cs.OnlineUsers())
}

func Test_getClients(t *testing.T) {
	tcases := []struct {
		name    string
		clients []*Client
	}{
		{
			name:    "single client",
			clients: []*Client{newTestClient("u1", "alice")},
		},
		{
			name:    "multiple clients",
			clients: []*Client{newTestClient("u1", "alice"), newTestClient("u1", "alice")},
		},
		{
			name:    "no clients",
			clients: []*Client{},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			su := &stats.MockStatsUpdater{}
			if len(tc.clients) > 0 {
				su.On("Incr", "NumActiveClients").Times(len(tc.clients))
			}
			defer su.AssertExpectations(t)

			cs := newTestChatServer(t, &database.MockRepository{}, su)
			for _, client := range tc.clients {
				cs.addClient(client)
			}

			clients := cs.getClients("u1")
			assert.Len(t, clients, len(tc.clients), "expected %d clients for user", len(tc.clients))
			for _, client := range tc.clients {
				assert.Contains(t, clients, client)
			}
		})
	}
}

func TestChatServer_addRoom_getRoom_removeRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveRooms").Once()
	su.On("Decr", "NumActiveRooms").Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	room := &Room{id: "book-1"}

	cs.addRoom("book-1", room)
	assert.Equal(t, 1, cs.numRooms, "expected numRooms to be 1 after adding room")

	got, ok := cs.getRoom("book-1")
	assert.True(t, ok, "expected room to be found")
	assert.Equal(t, room, got, "expected retrieved room to match added room")

	cs.removeRoom("book-1")
	cs.removeRoom("book-1")
	_, ok = cs.getRoom("book-1")
	assert.False(t, ok, "expected room to be removed")
	assert.Equal(t, 0, cs.numRooms, "expected numRooms to be 0 after removing room")
}

func TestChatServer_handleBroadcast(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveClients").Times(3)
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	c1 := newTestClient("u1", "alice")
	c2 := newTestClient("u1", "alice")
	other := newTestClient("u2", "bob")
	cs.addClient(c1)
	cs.addClient(c2)
	cs.addClient(other)

	msg := newServerMessage(protocol.EventNotification, protocol.Notification{Type: protocol.KindWelcome})
	msg.UserId = "u1"
	msg.SkipClient = c2
	cs.handleBroadcast(msg)

	assert.Len(t, c1.send, 1, "expected message to be queued to c1")
	assert.Len(t, c2.send, 0, "expected c2 to be skipped")
	assert.Len(t, other.send, 0, "expected other users to be untouched")
}

func TestChatServer_Notify(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumNotifications").Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	cs.Notify("u2", protocol.Notification{Type: protocol.KindFriendRequested, Message: "alice sent you a friend request"})

	select {
	case msg := <-cs.broadcastChan:
		assert.Equal(t, "u2", msg.UserId)
		assert.Equal(t, protocol.EventNotification, msg.Event)
		var n protocol.Notification
		require.NoError(t, msg.Decode(&n))
		assert.Equal(t, protocol.KindFriendRequested, n.Type)
	default:
		t.Error("expected notification to be routed through broadcastChan")
	}
}

func TestUnloadRoom(t *testing.T) {
	tcases := []struct {
		name        string
		roomId      string
		expectedErr error
	}{
		{
			name:   "unload existing room",
			roomId: "book-1",
		},
		{
			name:        "empty room id",
			expectedErr: errors.New("roomId cannot be empty"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
			err := cs.UnloadRoom(context.Background(), tc.roomId)
			if tc.expectedErr != nil {
				assert.EqualError(t, err, tc.expectedErr.Error())
				assert.Len(t, cs.unloadRoomChan, 0, "expected unloadRoomChan to have no messages")
				return
			}

			assert.NoError(t, err, "expected no error unloading room")
			select {
			case req := <-cs.unloadRoomChan:
				assert.Equal(t, tc.roomId, req.roomId, "expected room id to match")
			default:
				t.Error("expected unload request to be sent, but none was received")
			}
		})
	}

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.unloadRoomChan = make(chan unloadRoomRequest)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		<-ctx.Done()

		err := cs.UnloadRoom(ctx, "book-1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestChatServer_unloadAllRooms(t *testing.T) {
	numRooms := 3
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveRooms").Times(numRooms)
	su.On("Decr", "NumActiveRooms").Times(numRooms)
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)

	rooms := make([]*Room, numRooms)
	for i := range numRooms {
		rooms[i] = &Room{id: "book-" + strconv.Itoa(i+1), exit: make(chan exitReq, 1), log: cs.log}
		cs.addRoom(rooms[i].id, rooms[i])
	}

	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			select {
			case req := <-r.exit:
				assert.Truef(t, req.shutdown, "expected shutdown exit for room %q", r.id)
				req.done <- r.id
			case <-time.After(500 * time.Millisecond):
				t.Errorf("timeout waiting for exit request for room %q", r.id)
			}
		}(room)
	}

	cs.unloadAllRooms()
	wg.Wait()

	for _, room := range rooms {
		_, ok := cs.getRoom(room.id)
		assert.Falsef(t, ok, "expected room %q to be unloaded", room.id)
	}
	assert.Equal(t, 0, cs.numRooms, "expected numRooms to be 0 after unloading all rooms")
}

func TestChatServer_handleJoinRoom(t *testing.T) {
	t.Run("join existing active room", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveRooms").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockRepository{}, su)
		room := &Room{id: "book-1", joinChan: make(chan *ClientMessage, 1)}
		cs.addRoom(room.id, room)

		cs.handleJoinRoom(&ClientMessage{
			Event: protocol.EventJoinRoom,
			Room:  &protocol.RoomRef{RoomId: "book-1"},
		})

		assert.Len(t, room.joinChan, 1, "expected join message to be sent to room")
	})

	t.Run("join fails when joinChan full", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumActiveRooms").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockRepository{}, su)
		room := &Room{id: "book-1", joinChan: make(chan *ClientMessage, 1), log: cs.log}
		cs.addRoom(room.id, room)
		room.joinChan <- &ClientMessage{}

		client := newTestClient("u1", "alice")
		cs.handleJoinRoom(&ClientMessage{
			Event:  protocol.EventJoinRoom,
			Room:   &protocol.RoomRef{RoomId: "book-1"},
			client: client,
		})

		var e protocol.Error
		decodeNext(t, client, protocol.EventError, &e)
		assert.Equal(t, errMsgServiceUnavailable, e.Error)
		assert.Equal(t, protocol.EventJoinRoom, e.Event)
	})

	t.Run("unknown book", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetBook", "missing").Return(database.Book{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		client := newTestClient("u1", "alice")
		cs.handleJoinRoom(&ClientMessage{
			Event:  protocol.EventJoinRoom,
			Room:   &protocol.RoomRef{RoomId: "missing"},
			client: client,
		})

		var e protocol.Error
		decodeNext(t, client, protocol.EventError, &e)
		assert.Equal(t, errMsgRoomNotFound, e.Error)
		_, ok := cs.getRoom("missing")
		assert.False(t, ok, "expected no room to be loaded")
	})

	t.Run("database failure", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetBook", "book-1").Return(database.Book{}, errors.New("connection refused")).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		client := newTestClient("u1", "alice")
		cs.handleJoinRoom(&ClientMessage{
			Event:  protocol.EventJoinRoom,
			Room:   &protocol.RoomRef{RoomId: "book-1"},
			client: client,
		})

		var e protocol.Error
		decodeNext(t, client, protocol.EventError, &e)
		assert.Equal(t, errMsgInternal, e.Error)
	})
}

func TestChatServer_handlePrivate(t *testing.T) {
	conversation := protocol.DirectConversationId("u1", "u2")

	tcases := []struct {
		name        string
		userId      string
		private     protocol.SendPrivate
		setup       func(db *database.MockRepository)
		expectedErr string
	}{
		{
			name:        "malformed conversation",
			userId:      "u1",
			private:     protocol.SendPrivate{ConversationId: "book:1", Content: "hi"},
			expectedErr: errMsgInvalidMessage,
		},
		{
			name:        "not a participant",
			userId:      "u3",
			private:     protocol.SendPrivate{ConversationId: conversation, Content: "hi"},
			expectedErr: errMsgNotParticipant,
		},
		{
			name:        "empty content",
			userId:      "u1",
			private:     protocol.SendPrivate{ConversationId: conversation, Content: "   "},
			expectedErr: errMsgEmptyContent,
		},
		{
			name:    "not friends",
			userId:  "u1",
			private: protocol.SendPrivate{ConversationId: conversation, Content: "hi"},
			setup: func(db *database.MockRepository) {
				db.On("AreFriends", "u1", "u2").Return(false, nil).Once()
			},
			expectedErr: errMsgNotFriends,
		},
		{
			name:    "save fails",
			userId:  "u1",
			private: protocol.SendPrivate{ConversationId: conversation, Content: "hi"},
			setup: func(db *database.MockRepository) {
				db.On("AreFriends", "u1", "u2").Return(true, nil).Once()
				db.On("CreateMessage", mock.Anything).Return(errors.New("disk full")).Once()
			},
			expectedErr: errMsgInternal,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			if tc.setup != nil {
				tc.setup(db)
			}
			defer db.AssertExpectations(t)

			cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
			client := newTestClient(tc.userId, "someone")
			private := tc.private
			cs.handlePrivate(&ClientMessage{
				Event:     protocol.EventSendPrivate,
				Private:   &private,
				UserId:    tc.userId,
				Timestamp: Now(),
				client:    client,
			})

			var e protocol.Error
			decodeNext(t, client, protocol.EventError, &e)
			assert.Equal(t, tc.expectedErr, e.Error)
			assert.Len(t, cs.broadcastChan, 0, "expected nothing to be delivered")
		})
	}

	t.Run("delivers to both participants", func(t *testing.T) {
		ts := Now()
		db := &database.MockRepository{}
		db.On("AreFriends", "u2", "u1").Return(true, nil).Once()
		db.On("CreateMessage", mock.MatchedBy(func(m database.Message) bool {
			return m.ConversationId == conversation && m.SenderId == "u2" &&
				m.Content == "hello" && m.ClientId == "temp-1" && m.CreatedAt.Equal(ts) && m.Id != ""
		})).Return(nil).Once()
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "NumMessages").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		cs.handlePrivate(&ClientMessage{
			Event: protocol.EventSendPrivate,
			// participants in reverse order still address the same conversation
			Private:   &protocol.SendPrivate{ConversationId: "dm:u2:u1", Content: "hello", ClientId: "temp-1"},
			UserId:    "u2",
			Timestamp: ts,
			client:    newTestClient("u2", "bob"),
		})

		require.Len(t, cs.broadcastChan, 2, "expected one delivery per participant")
		var recipients []string
		for range 2 {
			msg := <-cs.broadcastChan
			recipients = append(recipients, msg.UserId)

			var p protocol.Private
			require.NoError(t, msg.Decode(&p))
			assert.Equal(t, conversation, p.ConversationId)
			assert.Equal(t, "u2", p.SenderId)
			assert.Equal(t, "temp-1", p.ClientId)
			assert.NotEmpty(t, p.MessageId)
		}
		assert.ElementsMatch(t, []string{"u1", "u2"}, recipients)
	})
}

func TestChatServer_Integration(t *testing.T) {
	db := &database.MockRepository{}
	db.On("GetBook", "book-1").Return(database.Book{Id: "book-1"}, nil).Once()
	db.On("CreateMessage", mock.Anything).Return(nil).Once()
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs := newTestChatServer(t, db, su)
	go cs.Run()
	defer cs.Shutdown(context.Background())

	upgrader := websocket.Upgrader{}
	users := map[string]types.User{
		"u1": {Id: "u1", Username: "alice"},
		"u2": {Id: "u2", Username: "bob"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(users[r.URL.Query().Get("user")], conn, cs, cs.log)
		cs.RegisterClient(c)
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	dial := func(user string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + user
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	send := func(conn *websocket.Conn, event string, payload any) {
		env, err := protocol.NewEnvelope(event, payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(env))
	}
	recv := func(conn *websocket.Conn, event string, v any) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env protocol.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.Equal(t, event, env.Event, "unexpected frame %s", env.Data)
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Data, v))
		}
	}

	alice := dial("u1")
	send(alice, protocol.EventJoinRoom, protocol.RoomRef{RoomId: "book-1", UserId: "u1"})
	var joined protocol.PresenceChange
	recv(alice, protocol.EventUserJoined, &joined)
	assert.Equal(t, protocol.PresenceChange{RoomId: "book-1", UserId: "u1", Count: 1}, joined)

	bob := dial("u2")
	send(bob, protocol.EventJoinRoom, protocol.RoomRef{RoomId: "book-1", UserId: "u2"})
	recv(bob, protocol.EventUserJoined, &joined)
	assert.Equal(t, 2, joined.Count)
	recv(alice, protocol.EventUserJoined, &joined)
	assert.Equal(t, "u2", joined.UserId)

	send(bob, protocol.EventRequestActiveUsers, protocol.RoomRef{RoomId: "book-1"})
	var active protocol.ActiveUsers
	recv(bob, protocol.EventActiveUsers, &active)
	assert.Equal(t, []string{"u1", "u2"}, active.UserIds)

	send(alice, protocol.EventSendBroadcast, protocol.SendBroadcast{RoomId: "book-1", Content: "hi all", ClientId: "temp-9"})
	var b protocol.Broadcast
	recv(bob, protocol.EventBroadcast, &b)
	assert.Equal(t, "hi all", b.Content)
	assert.Equal(t, "alice", b.Sender.Username)
	recv(alice, protocol.EventBroadcast, &b)
	assert.Equal(t, "temp-9", b.ClientId, "expected sender echo to carry the client id")

	send(bob, protocol.EventLeaveRoom, protocol.RoomRef{RoomId: "book-1"})
	var left protocol.PresenceChange
	recv(alice, protocol.EventUserLeft, &left)
	assert.Equal(t, protocol.PresenceChange{RoomId: "book-1", UserId: "u2", Count: 1}, left)

	send(bob, protocol.EventSendBroadcast, protocol.SendBroadcast{RoomId: "book-1", Content: "anyone?"})
	var e protocol.Error
	recv(bob, protocol.EventError, &e)
	assert.Equal(t, errMsgNotInRoom, e.Error)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"event":"dance"}`)))
	recv(bob, protocol.EventError, &e)
	assert.Equal(t, protocol.Error{Event: "dance", Error: errMsgInvalidMessage}, e)
}
