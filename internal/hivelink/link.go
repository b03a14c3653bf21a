// Package hivelink maintains the hunter's side of the coordination channel:
// one websocket to the hive, kept alive with heartbeats and rebuilt with a
// fixed-interval reconnect loop whenever it drops.
package hivelink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slothive/config"
	"slothive/internal/logging"
	"slothive/internal/protocol"
)

const (
	handshakeWait = 10 * time.Second
	writeWait     = 10 * time.Second
)

// Version is reported to the hive during registration.
const Version = "1.0.0"

// HandlerFunc consumes one inbound server message. Handlers run on the read
// goroutine, so messages for a single link are handled sequentially.
type HandlerFunc func(env protocol.Envelope)

// StatsFunc returns the counter delta accumulated since the previous call.
type StatsFunc func() protocol.Stats

// StatusFunc returns the current hunt status for heartbeats.
type StatusFunc func() string

// Link is the client end of the coordination channel. Sends are best-effort:
// while disconnected they are dropped with a log line, never queued.
type Link struct {
	cfg      config.HunterConfig
	handlers map[protocol.Type]HandlerFunc
	statsFn  StatsFunc
	statusFn StatusFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
}

// NewLink creates an unconnected link. Register handlers with On before Run.
func NewLink(cfg config.HunterConfig) *Link {
	return &Link{
		cfg:      cfg,
		handlers: make(map[protocol.Type]HandlerFunc),
		statsFn:  func() protocol.Stats { return protocol.Stats{} },
		statusFn: func() string { return protocol.StatusIdle },
	}
}

// On registers the handler for one server message type. Not safe to call
// after Run has started.
func (l *Link) On(t protocol.Type, fn HandlerFunc) {
	l.handlers[t] = fn
}

// SetStatsSource installs the heartbeat delta supplier.
func (l *Link) SetStatsSource(fn StatsFunc) {
	l.statsFn = fn
}

// SetStatusSource installs the heartbeat status supplier.
func (l *Link) SetStatusSource(fn StatusFunc) {
	l.statusFn = fn
}

// ClientID returns the server-assigned id of the current session, or "" when
// disconnected.
func (l *Link) ClientID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clientID
}

// Connected reports whether a session is currently up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send queues one message for the hive. While disconnected the message is
// dropped; coordination traffic is advisory and must never block the hunt.
func (l *Link) Send(t protocol.Type, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		logging.L().Warnw("encode outbound message failed", "type", t, "err", err)
		return
	}

	l.mu.Lock()
	conn := l.conn
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, frame)
	}
	l.mu.Unlock()

	if conn == nil {
		logging.L().Debugw("dropping message while disconnected", "type", t)
		return
	}
	if err != nil {
		logging.L().Warnw("send failed", "type", t, "err", err)
	}
}

// Run dials the hive and keeps the session alive until the context is
// cancelled. Reconnects happen at a fixed interval; with MaxReconnectAttempts
// of zero it retries forever.
func (l *Link) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logging.L().Warnw("hive session ended", "err", err)
			attempts++
		} else {
			attempts = 0
		}
		if l.cfg.MaxReconnectAttempts > 0 && attempts >= l.cfg.MaxReconnectAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts", attempts)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.ReconnectInterval):
		}
	}
}

// session runs one connection lifetime: dial, handshake, heartbeats, reads.
func (l *Link) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.ServerURL, err)
	}
	defer conn.Close()

	// The server speaks first: WELCOME carries our assigned id.
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("welcome handshake: %w", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("welcome handshake: %w", err)
	}
	if env.Type != protocol.TypeWelcome {
		return fmt.Errorf("welcome handshake: unexpected %s", env.Type)
	}
	welcome, err := protocol.DecodePayload[protocol.WelcomePayload](env)
	if err != nil {
		return fmt.Errorf("welcome handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	l.mu.Lock()
	l.conn = conn
	l.clientID = welcome.ClientID
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.clientID = ""
		l.mu.Unlock()
	}()

	logging.L().Infow("connected to hive", "server", l.cfg.ServerURL, "clientId", welcome.ClientID)
	l.Send(protocol.TypeRegister, protocol.RegisterPayload{Name: l.cfg.Name, Version: Version})

	// Heartbeats run on their own ticker, independent of hunt activity.
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go l.heartbeatLoop(hbCtx)

	// Close the connection on cancellation so the read below unblocks.
	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			logging.L().Warnw("undecodable frame from hive", "err", err)
			continue
		}
		if handler, ok := l.handlers[env.Type]; ok {
			handler(env)
		}
	}
}

func (l *Link) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Send(protocol.TypeHeartbeat, protocol.HeartbeatPayload{
				ClientID:  l.ClientID(),
				Timestamp: time.Now().UTC(),
				Status:    l.statusFn(),
				Stats:     l.statsFn(),
			})
		}
	}
}
