package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

var errConnectionClosed = errors.New("realtime: connection closed")

// Connection wraps one operator websocket. Writes go through a buffered
// channel serviced by a single write loop, so Send is safe from any
// goroutine; a client that cannot drain the buffer is disconnected.
type Connection struct {
	ID         string
	OperatorID string

	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewConnection(operatorID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		closed:     make(chan struct{}),
	}
}

// Start launches the write loop. Call exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues a payload for delivery. A full buffer means the client is
// too slow to keep; the connection is closed instead of blocking fanout.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errConnectionClosed
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
