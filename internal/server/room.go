package server

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/database"
	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/google/uuid"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	// shutdown is set when the whole server is stopping rather than the
	// room going idle.
	shutdown bool
	done     chan string
}

// Room is the realtime hub of one book. Its id is the book id.
type Room struct {
	id            string
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	userMap       map[string]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has had no clients for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
}

func NewRoom(id string, cs *ChatServer) *Room {
	return &Room{
		id:            id,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[string]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq, 1),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case msg := <-r.clientMsgChan:
			switch msg.Event {
			case protocol.EventRequestActiveUsers:
				r.handleActiveUsers(msg)
			case protocol.EventSendBroadcast:
				r.saveAndBroadcast(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clientLock.Unlock()

	// joins that raced with the unload are handed back to the server, which
	// loads a fresh room for them
	for {
		select {
		case join := <-r.joinChan:
			if e.shutdown {
				join.client.queueMessage(ErrServiceUnavailable(join.Event))
				continue
			}
			select {
			case r.cs.joinChan <- join:
			default:
				join.client.queueMessage(ErrServiceUnavailable(join.Event))
			}
		default:
			if e.done != nil {
				e.done <- r.id
			}
			return
		}
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	_, present := r.userMap[c.user.Id]
	r.addClient(c)

	msg := newServerMessage(protocol.EventUserJoined, protocol.PresenceChange{
		RoomId: r.id,
		UserId: c.user.Id,
		Count:  len(r.userMap),
	})

	if present {
		// the user was already in the room from another session
		c.queueMessage(msg)
		return
	}
	r.broadcast(msg)
}

func (r *Room) handleLeave(leave *ClientMessage) {
	c := leave.client
	if _, ok := r.getClient(c); !ok {
		r.log.Printf("client %q not found in room %q", c.user.Username, r.id)
		return
	}

	r.deleteClient(c)

	// the user is only gone once their last session leaves
	if _, ok := r.userMap[c.user.Id]; !ok {
		r.broadcast(newServerMessage(protocol.EventUserLeft, protocol.PresenceChange{
			RoomId: r.id,
			UserId: c.user.Id,
			Count:  len(r.userMap),
		}))
	}
}

func (r *Room) handleActiveUsers(msg *ClientMessage) {
	msg.client.queueMessage(newServerMessage(protocol.EventActiveUsers, protocol.ActiveUsers{
		RoomId:  r.id,
		UserIds: r.activeUserIds(),
	}))
}

func (r *Room) activeUserIds() []string {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	ids := make([]string, 0, len(r.userMap))
	for id := range r.userMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	c := msg.client
	b := msg.Broadcast
	if !validContent(b.Content) {
		c.queueMessage(ErrEvent(msg.Event, errMsgEmptyContent))
		return
	}

	id := uuid.NewString()
	if err := r.cs.db.CreateMessage(database.Message{
		Id:             id,
		ConversationId: protocol.RoomConversationId(r.id),
		SenderId:       c.user.Id,
		Content:        b.Content,
		FriendsOnly:    b.FriendsOnly,
		ClientId:       b.ClientId,
		CreatedAt:      msg.Timestamp,
	}); err != nil {
		r.log.Println("error saving message:", err)
		c.queueMessage(ErrInternalError(msg.Event))
		return
	}
	r.cs.stats.Incr(metricMessages)

	out := newServerMessage(protocol.EventBroadcast, protocol.Broadcast{
		RoomId:      r.id,
		MessageId:   id,
		Sender:      protocol.Sender(c.user.Profile()),
		SenderId:    c.user.Id,
		Content:     b.Content,
		Time:        msg.Timestamp,
		FriendsOnly: b.FriendsOnly,
		ClientId:    b.ClientId,
	})

	if !b.FriendsOnly {
		r.broadcast(out)
		return
	}

	recipients := map[string]struct{}{c.user.Id: {}}
	friends, err := r.cs.db.ListFriends(c.user.Id)
	if err != nil {
		// the message is stored; only the sender sees it until history is reloaded
		r.log.Println("ListFriends:", err)
	}
	for _, f := range friends {
		recipients[f.Id] = struct{}{}
	}
	r.broadcastTo(out, recipients)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	if _, ok := r.clients[c]; ok {
		return c, true
	}
	return nil, false
}

func (r *Room) deleteClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delete(r.clients, c)
	c.delRoom(r.id)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 && r.killTimer != nil {
		r.log.Printf("no clients in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}
		client.queueMessage(msg)
	}
}

func (r *Room) broadcastTo(msg *ServerMessage, userIds map[string]struct{}) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for id := range userIds {
		for client := range r.userMap[id] {
			client.queueMessage(msg)
		}
	}
}
