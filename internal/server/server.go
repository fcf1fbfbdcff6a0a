package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/stats"
	"github.com/google/uuid"
)

const (
	metricActiveClients = "NumActiveClients"
	metricActiveRooms   = "NumActiveRooms"
	metricMessages      = "NumMessages"
	metricNotifications = "NumNotifications"
)

type stopReq struct {
	done chan struct{}
}

type unloadRoomRequest struct {
	roomId string
}

// ChatServer relays realtime events between reader clients. It owns one Room
// per open book and routes user-addressed events to every session of a user.
type ChatServer struct {
	log            *log.Logger
	db             database.Repository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	userMap        map[string]map[*Client]struct{}
	clientsLock    sync.RWMutex
	roomsMap       sync.Map
	numRooms       int
	roomsLock      sync.Mutex
	joinChan       chan *ClientMessage
	unloadRoomChan chan unloadRoomRequest
	broadcastChan  chan *ServerMessage
	stop           chan stopReq
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[string]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		broadcastChan:  make(chan *ServerMessage, 256),
		stop:           make(chan stopReq),
	}

	for _, name := range []string{metricActiveClients, metricActiveRooms, metricMessages, metricNotifications} {
		su.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.joinChan:
			cs.handleJoinRoom(msg)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId)
		case msg := <-cs.broadcastChan:
			cs.handleBroadcast(msg)
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			cs.unloadAllRooms()
			cs.stopAllClients()
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoinRoom(msg *ClientMessage) {
	roomId := msg.Room.RoomId
	room, ok := cs.getRoom(roomId)
	if !ok {
		book, err := cs.db.GetBook(roomId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				msg.client.queueMessage(ErrRoomNotFound(msg.Event))
			} else {
				cs.log.Println("GetBook:", err)
				msg.client.queueMessage(ErrInternalError(msg.Event))
			}
			return
		}

		room = NewRoom(book.Id, cs)
		cs.addRoom(room.id, room)
		go room.start()
	}

	select {
	case room.joinChan <- msg:
	default:
		cs.log.Printf("join channel full on room %q", room.id)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Event))
	}
}

// handleBroadcast delivers msg to every session of msg.UserId.
func (cs *ChatServer) handleBroadcast(msg *ServerMessage) {
	for _, c := range cs.getClients(msg.UserId) {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// sendToUser queues msg for delivery to every session of userId.
func (cs *ChatServer) sendToUser(userId string, msg *ServerMessage, skip *Client) {
	out := &ServerMessage{Envelope: msg.Envelope, UserId: userId, SkipClient: skip}
	select {
	case cs.broadcastChan <- out:
	default:
		cs.log.Printf("broadcast channel full, dropping %q for user %q", msg.Event, userId)
	}
}

// Notify pushes a notification event to every connected session of userId.
func (cs *ChatServer) Notify(userId string, n protocol.Notification) {
	cs.stats.Incr(metricNotifications)
	cs.sendToUser(userId, newServerMessage(protocol.EventNotification, n), nil)
}

// handlePrivate persists a direct message and delivers it to every session
// of both participants, including the sending one.
func (cs *ChatServer) handlePrivate(msg *ClientMessage) {
	c := msg.client
	p := msg.Private

	a, b, ok := protocol.Participants(p.ConversationId)
	if !ok {
		c.queueMessage(ErrInvalidMessage(msg.Event))
		return
	}
	var other string
	switch msg.UserId {
	case a:
		other = b
	case b:
		other = a
	default:
		c.queueMessage(ErrEvent(msg.Event, errMsgNotParticipant))
		return
	}
	if !validContent(p.Content) {
		c.queueMessage(ErrEvent(msg.Event, errMsgEmptyContent))
		return
	}

	friends, err := cs.db.AreFriends(msg.UserId, other)
	if err != nil {
		cs.log.Println("AreFriends:", err)
		c.queueMessage(ErrInternalError(msg.Event))
		return
	}
	if !friends {
		c.queueMessage(ErrEvent(msg.Event, errMsgNotFriends))
		return
	}

	conversationId := protocol.DirectConversationId(a, b)
	id := uuid.NewString()
	if err := cs.db.CreateMessage(database.Message{
		Id:             id,
		ConversationId: conversationId,
		SenderId:       msg.UserId,
		Content:        p.Content,
		ClientId:       p.ClientId,
		CreatedAt:      msg.Timestamp,
	}); err != nil {
		cs.log.Println("CreateMessage:", err)
		c.queueMessage(ErrInternalError(msg.Event))
		return
	}
	cs.stats.Incr(metricMessages)

	out := newServerMessage(protocol.EventPrivate, protocol.Private{
		ConversationId: conversationId,
		MessageId:      id,
		SenderId:       msg.UserId,
		Content:        p.Content,
		SentAt:         msg.Timestamp,
		ClientId:       p.ClientId,
	})
	cs.sendToUser(msg.UserId, out, nil)
	cs.sendToUser(other, out, nil)
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.log.Printf("adding connection from %q", c.user.Username)
	cs.addClient(c)
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	cs.log.Printf("removing connection from %q", c.user.Username)
	cs.removeClient(c)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}
	cs.stats.Incr(metricActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}
	cs.stats.Decr(metricActiveClients)
}

func (cs *ChatServer) getClients(userId string) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.userMap[userId]))
	for c := range cs.userMap[userId] {
		clients = append(clients, c)
	}
	return clients
}

// OnlineUsers returns the ids of users with at least one connected session.
func (cs *ChatServer) OnlineUsers() []string {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	ids := make([]string, 0, len(cs.userMap))
	for id := range cs.userMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (cs *ChatServer) stopAllClients() {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	for c := range cs.clients {
		c.stopClient()
	}
}

func (cs *ChatServer) addRoom(id string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.roomsMap.Store(id, r)
	cs.numRooms++
	cs.stats.Incr(metricActiveRooms)
}

func (cs *ChatServer) getRoom(id string) (*Room, bool) {
	r, ok := cs.roomsMap.Load(id)
	if !ok {
		return nil, false
	}
	return r.(*Room), true
}

func (cs *ChatServer) removeRoom(id string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if _, ok := cs.roomsMap.LoadAndDelete(id); ok {
		cs.numRooms--
		cs.stats.Decr(metricActiveRooms)
	}
}

// UnloadRoom asks the server to stop the room for a book.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string) error {
	if roomId == "" {
		return fmt.Errorf("roomId cannot be empty")
	}

	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomId: roomId}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) unloadRoom(roomId string) {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return
	}

	cs.log.Printf("unloading room %q", roomId)
	cs.removeRoom(roomId)
	done := make(chan string, 1)
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *ChatServer) unloadAllRooms() {
	var rooms []*Room
	cs.roomsMap.Range(func(_, v any) bool {
		rooms = append(rooms, v.(*Room))
		return true
	})

	var wg sync.WaitGroup
	for _, r := range rooms {
		cs.removeRoom(r.id)
		wg.Add(1)
		go func(r *Room) {
			defer wg.Done()
			done := make(chan string, 1)
			r.exit <- exitReq{shutdown: true, done: done}
			<-done
		}(r)
	}
	wg.Wait()
}

// Shutdown stops every room and disconnects all clients.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
