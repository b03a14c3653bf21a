package hive

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slothive/internal/logging"
	"slothive/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// ClientInfo is the read-only view of a connected client exposed to the REST
// surface and tests.
type ClientInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	ConnectedAt   time.Time      `json:"connectedAt"`
	LastHeartbeat time.Time      `json:"lastHeartbeat"`
	Stats         protocol.Stats `json:"stats"`
}

// client is the server-side record of one connected hunter. All fields behind
// mu are mutated only by that client's read pump and the sweep, one message at
// a time.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	mu            sync.Mutex
	name          string
	status        string
	connectedAt   time.Time
	lastHeartbeat time.Time
	stats         protocol.Stats
}

func (c *client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:            c.id,
		Name:          c.name,
		Status:        c.status,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: c.lastHeartbeat,
		Stats:         c.stats,
	}
}

func (c *client) displayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name != "" {
		return c.name
	}
	return c.id
}

func (c *client) touch(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}

// enqueue queues a frame for delivery. Best-effort: a slow consumer's full
// buffer drops the frame rather than stalling the hub.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		logging.L().Warnw("client send buffer full, dropping frame", "client", c.id)
	}
}

// close signals the pumps to wind the client down exactly once. The write
// pump owns the connection and closes it after flushing queued frames.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump decodes inbound frames and dispatches them sequentially. It owns
// per-client message ordering: the next frame is not read until the current
// handler returns.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.L().Debugw("client read error", "client", c.id, "err", err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			logging.L().Warnw("undecodable frame", "client", c.id, "err", err)
			continue
		}

		// Any inbound traffic proves liveness.
		c.touch(time.Now().UTC())
		c.hub.dispatch(c, env)
	}
}

// writePump serializes all writes to the connection and is the only place the
// connection is closed. On shutdown it flushes frames already queued, each
// still bounded by writeWait, so a SERVER_SHUTDOWN notice reaches the client
// before the socket drops.
func (c *client) writePump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
