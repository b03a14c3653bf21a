package hive

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"slothive/config"
	"slothive/internal/logging"
	"slothive/internal/model"
	"slothive/internal/notification"
	"slothive/internal/protocol"
	"slothive/internal/slot"
	"slothive/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Hunters connect from anywhere; the portal is not browser-hosted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type handlerFunc func(c *client, env protocol.Envelope)

// Hub is the rendezvous point for every hunter racing for the same scarce
// slots. It owns the authoritative client registry; clients mutate it only
// through messages.
type Hub struct {
	cfg      config.ServerConfig
	archive  store.Store
	notifier *notification.WorkerPool
	handlers map[protocol.Type]handlerFunc
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates the hub with its message dispatch table.
func NewHub(cfg config.ServerConfig, archive store.Store, notifier *notification.WorkerPool) *Hub {
	h := &Hub{
		cfg:      cfg,
		archive:  archive,
		notifier: notifier,
		clients:  make(map[string]*client),
		now:      func() time.Time { return time.Now().UTC() },
	}
	h.handlers = map[protocol.Type]handlerFunc{
		protocol.TypeRegister:       h.handleRegister,
		protocol.TypeHeartbeat:      h.handleHeartbeat,
		protocol.TypeSlotFound:      h.handleSlotFound,
		protocol.TypeBookingSuccess: h.handleBookingSuccess,
		protocol.TypeBookingFailed:  h.handleBookingFailed,
		protocol.TypeStatusUpdate:   h.handleStatusUpdate,
		protocol.TypeLog:            h.handleLog,
		protocol.TypeError:          h.handleErrorMsg,
	}
	return h
}

// HandleWS upgrades an HTTP request into a hunter connection. The server
// assigns the id and sends WELCOME before any registration, so early messages
// are already attributable.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Warnw("websocket upgrade failed", "err", err)
		return
	}

	now := h.now()
	c := &client{
		id:            uuid.NewString(),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		status:        protocol.StatusIdle,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	go c.writePump()
	c.enqueue(protocol.MustEncode(protocol.TypeWelcome, protocol.WelcomePayload{
		ClientID:   c.id,
		ServerTime: now,
	}))
	h.broadcastAll(protocol.MustEncode(protocol.TypeClientCount, protocol.ClientCountPayload{Count: count}))

	logging.L().Infow("client connected", "client", c.id, "total", count)
	go c.readPump()
}

// Run drives the liveness sweep until the context is cancelled. It runs
// independently of message handling so a silently dead connection cannot
// occupy registry state forever.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep evicts every client whose last heartbeat is older than the timeout.
func (h *Hub) sweep() {
	now := h.now()
	var evicted []*client

	h.mu.Lock()
	for id, c := range h.clients {
		c.mu.Lock()
		stale := now.Sub(c.lastHeartbeat) > h.cfg.HeartbeatTimeout
		c.mu.Unlock()
		if stale {
			delete(h.clients, id)
			evicted = append(evicted, c)
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	for _, c := range evicted {
		logging.L().Warnw("evicting silent client", "client", c.id, "name", c.displayName())
		c.close()
	}
	if len(evicted) > 0 {
		h.broadcastAll(protocol.MustEncode(protocol.TypeClientCount, protocol.ClientCountPayload{Count: count}))
	}
}

// unregister removes a client after its connection died.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	if present {
		delete(h.clients, c.id)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		logging.L().Infow("client disconnected", "client", c.id, "name", c.displayName(), "total", count)
		h.broadcastAll(protocol.MustEncode(protocol.TypeClientCount, protocol.ClientCountPayload{Count: count}))
	}
}

// dispatch routes one inbound message through the handler table.
func (h *Hub) dispatch(c *client, env protocol.Envelope) {
	handler, ok := h.handlers[env.Type]
	if !ok {
		logging.L().Warnw("unknown message type", "client", c.id, "type", env.Type)
		return
	}
	handler(c, env)
}

func (h *Hub) handleRegister(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.RegisterPayload](env)
	if err != nil {
		logging.L().Warnw("bad REGISTER payload", "client", c.id, "err", err)
		return
	}
	c.mu.Lock()
	c.name = payload.Name
	c.mu.Unlock()
	logging.L().Infow("client registered", "client", c.id, "name", payload.Name, "version", payload.Version)
}

func (h *Hub) handleHeartbeat(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.HeartbeatPayload](env)
	if err != nil {
		logging.L().Warnw("bad HEARTBEAT payload", "client", c.id, "err", err)
		return
	}

	c.mu.Lock()
	c.lastHeartbeat = h.now()
	if payload.Status != "" {
		c.status = payload.Status
	}
	// Stats arrive as deltas and merge into the running totals.
	c.stats.Add(payload.Stats)
	c.mu.Unlock()

	c.enqueue(protocol.MustEncode(protocol.TypeHeartbeatAck, protocol.HeartbeatAckPayload{
		Timestamp: h.now(),
	}))
}

// handleSlotFound is the highest-priority event: archive it, notify the
// outside world, and fan the trigger out to every other hunter.
func (h *Hub) handleSlotFound(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.SlotFoundPayload](env)
	if err != nil {
		logging.L().Warnw("bad SLOT_FOUND payload", "client", c.id, "err", err)
		return
	}
	if len(payload.Slots) == 0 {
		return
	}

	name := c.displayName()
	logging.L().Infow("slots reported", "client", c.id, "name", name, "count", len(payload.Slots))

	c.mu.Lock()
	c.stats.SlotsFound += len(payload.Slots)
	c.status = protocol.StatusActive
	c.mu.Unlock()

	h.archiveSlotEvents(c, payload)
	if h.notifier != nil {
		h.notifier.Dispatch(notification.Event{
			Kind:       notification.KindSlotsFound,
			ClientName: name,
			Param:      payload.DataParam,
			Slots:      payload.Slots,
		})
	}

	trigger := protocol.MustEncode(protocol.TypeSniperTrigger, protocol.SniperTriggerPayload{
		Source:    name,
		Slots:     payload.Slots,
		Timestamp: h.now(),
	})
	// Not back to the reporter; it is already acting on the find locally.
	h.broadcastExcept(c.id, trigger)
}

// handleBookingSuccess broadcasts the global stop signal to everyone,
// including the reporter, so its own scout stops cleanly too.
func (h *Hub) handleBookingSuccess(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.BookingOutcomePayload](env)
	if err != nil {
		logging.L().Warnw("bad BOOKING_SUCCESS payload", "client", c.id, "err", err)
		return
	}

	name := c.displayName()
	logging.L().Infow("booking success reported", "client", c.id, "name", name,
		"date", payload.SlotData.Date, "slotId", payload.SlotData.SlotID)

	c.mu.Lock()
	c.stats.Bookings++
	c.status = protocol.StatusIdle
	c.mu.Unlock()

	h.archiveBooking(c, "BOOKED", payload)
	if h.notifier != nil {
		h.notifier.Dispatch(notification.Event{
			Kind:       notification.KindBooked,
			ClientName: name,
			Slots:      []slot.Descriptor{payload.SlotData},
		})
	}

	h.broadcastAll(protocol.MustEncode(protocol.TypeBookingComplete, protocol.BookingCompletePayload{
		BookedBy: name,
		SlotData: payload.SlotData,
	}))
}

func (h *Hub) handleBookingFailed(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.BookingOutcomePayload](env)
	if err != nil {
		logging.L().Warnw("bad BOOKING_FAILED payload", "client", c.id, "err", err)
		return
	}
	logging.L().Warnw("booking failed", "client", c.id, "name", c.displayName(), "reason", payload.Reason)
	h.archiveBooking(c, "FAILED", payload)
}

func (h *Hub) handleStatusUpdate(c *client, env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.StatusUpdatePayload](env)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.status = payload.Status
	c.mu.Unlock()
}

func (h *Hub) handleLog(c *client, env protocol.Envelope) {
	payload, _ := protocol.DecodePayload[protocol.LogPayload](env)
	logging.L().Infow("client log", "client", c.id, "name", c.displayName(), "message", payload.Message)
}

func (h *Hub) handleErrorMsg(c *client, env protocol.Envelope) {
	payload, _ := protocol.DecodePayload[protocol.LogPayload](env)
	logging.L().Warnw("client error", "client", c.id, "name", c.displayName(), "message", payload.Message)
}

func (h *Hub) archiveSlotEvents(c *client, payload protocol.SlotFoundPayload) {
	if h.archive == nil {
		return
	}
	reportedAt := payload.Timestamp
	if reportedAt.IsZero() {
		reportedAt = h.now()
	}
	events := make([]model.SlotEvent, 0, len(payload.Slots))
	for _, sl := range payload.Slots {
		events = append(events, model.SlotEvent{
			ClientID:   c.id,
			ClientName: c.displayName(),
			Param:      payload.DataParam,
			SlotDate:   sl.Date,
			SlotID:     sl.SlotID,
			SlotTime:   sl.Time,
			ReportedAt: reportedAt,
		})
	}
	if err := h.archive.RecordSlotEvents(context.Background(), events); err != nil {
		logging.L().Warnw("failed to archive slot events", "err", err)
	}
}

func (h *Hub) archiveBooking(c *client, outcome string, payload protocol.BookingOutcomePayload) {
	if h.archive == nil {
		return
	}
	rec := &model.BookingRecord{
		ClientID:    c.id,
		ClientName:  c.displayName(),
		Outcome:     outcome,
		Reason:      payload.Reason,
		SlotDate:    payload.SlotData.Date,
		SlotID:      payload.SlotData.SlotID,
		SlotTime:    payload.SlotData.Time,
		RedirectURL: payload.RedirectURL,
	}
	if err := h.archive.RecordBooking(context.Background(), rec); err != nil {
		logging.L().Warnw("failed to archive booking record", "err", err)
	}
}

// broadcastAll queues a frame for every connected client.
func (h *Hub) broadcastAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(frame)
	}
}

// broadcastExcept queues a frame for every client but one.
func (h *Hub) broadcastExcept(exceptID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		if id == exceptID {
			continue
		}
		c.enqueue(frame)
	}
}

// SendTo queues a frame for one client, for the REST command passthrough.
func (h *Hub) SendTo(clientID string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no connected client %s", clientID)
	}
	c.enqueue(frame)
	return nil
}

// Broadcast queues a frame for every client, for the REST passthrough.
func (h *Hub) Broadcast(frame []byte) {
	h.broadcastAll(frame)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Snapshot returns a view of every connected client.
func (h *Hub) Snapshot() []ClientInfo {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.info())
	}
	return infos
}

// Shutdown notifies every client of the drain and closes all connections.
// The notice is queued before the close signal, and each write pump flushes
// its queue on the way out, so delivery only fails on a peer that is already
// slow or gone.
func (h *Hub) Shutdown() {
	h.broadcastAll(protocol.MustEncode(protocol.TypeServerShutdown, nil))

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
