package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Karanraj-6/PagePulse-frontend-sub000/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// conn is one live websocket. A Manager replaces it on every reconnect.
type conn struct {
	ws   *websocket.Conn
	log  *log.Logger
	send chan []byte
	stop chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, l *log.Logger) *conn {
	return &conn{
		ws:   ws,
		log:  l,
		send: make(chan []byte, sendBufferSize),
		stop: make(chan struct{}),
	}
}

func (c *conn) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// read blocks until the socket fails, handing every decoded envelope to
// dispatch on the calling goroutine.
func (c *conn) read(dispatch func(*protocol.Envelope)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Println("realtime: invalid frame:", err)
			continue
		}
		if env.Event == "" {
			c.log.Println("realtime: frame without event name")
			continue
		}

		dispatch(&env)
	}
}

func (c *conn) queue(msg []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.log.Println("realtime: send buffer full, dropping frame")
		return false
	}
}

func (c *conn) sendMessage(msgType int, msg []byte) bool {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.ws.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("realtime: write message: %s", err)
		}
		return false
	}

	return true
}

// close stops the write pump and unblocks read.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.stop)
		// give the write pump a moment to send the close frame before the
		// socket goes away under it
		time.AfterFunc(100*time.Millisecond, func() { c.ws.Close() })
	})
}
