// Package hunter is the client-side coordinator: it connects the scout's
// finds, the sniper's attempts, and the hive's commands into one hunt.
package hunter

import (
	"context"
	"sync"
	"time"

	"slothive/config"
	"slothive/internal/hivelink"
	"slothive/internal/logging"
	"slothive/internal/protocol"
	"slothive/internal/scout"
	"slothive/internal/session"
	"slothive/internal/slot"
	"slothive/internal/sniper"
)

const (
	// fireQueueSize bounds pending sniper work. Slot finds are perishable, so a
	// full queue drops rather than backing up.
	fireQueueSize = 8

	// maxCandidateSlots caps how many slots of a single find the hunter will
	// walk before giving the scout another look.
	maxCandidateSlots = 5
)

// Prowler is the polling side of the hunt.
type Prowler interface {
	Start(ctx context.Context, param string) scout.StartResult
	Stop() scout.State
	Snapshot() scout.State
}

// Shooter executes booking attempts.
type Shooter interface {
	ExecuteWithRetry(ctx context.Context, target slot.Descriptor, retries int) sniper.Result
}

// Uplink is the coordination channel to the hive.
type Uplink interface {
	Send(t protocol.Type, payload any)
	On(t protocol.Type, fn hivelink.HandlerFunc)
	ClientID() string
}

type fireRequest struct {
	source string
	slots  []slot.Descriptor
}

// Hunter drives one client's hunt. Remote triggers and local finds both feed
// a single bounded queue, so sniper work is serialized and never recursive.
type Hunter struct {
	cfg     config.HunterConfig
	retries int
	scout   Prowler
	sniper  Shooter
	link    Uplink
	rotator session.Rotator

	fireCh chan fireRequest

	mu           sync.Mutex
	param        string
	bookings     int
	lastChecks   int
	lastSlots    int
	lastBookings int
	done         bool
}

// New wires the hunter and registers its message handlers on the link.
func New(cfg config.HunterConfig, sniperCfg config.SniperConfig, prowler Prowler, shooter Shooter, link Uplink, rotator session.Rotator) *Hunter {
	h := &Hunter{
		cfg:     cfg,
		retries: sniperCfg.Retries,
		scout:   prowler,
		sniper:  shooter,
		link:    link,
		rotator: rotator,
		fireCh:  make(chan fireRequest, fireQueueSize),
	}
	if link != nil {
		link.On(protocol.TypeSniperTrigger, h.handleSniperTrigger)
		link.On(protocol.TypeBookingComplete, h.handleBookingComplete)
		link.On(protocol.TypeCommand, h.handleCommand)
	}
	return h
}

// Run consumes the fire queue until the context is cancelled.
func (h *Hunter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.fireCh:
			h.fire(ctx, req)
		}
	}
}

// StartHunt begins polling for the given booking parameter.
func (h *Hunter) StartHunt(ctx context.Context, param string) {
	h.mu.Lock()
	h.param = param
	h.done = false
	h.mu.Unlock()
	logging.L().Infow("hunt started", "param", param)
	h.scout.Start(ctx, param)
	h.link.Send(protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{Status: h.Status()})
}

// StopHunt stops polling.
func (h *Hunter) StopHunt() {
	st := h.scout.Stop()
	logging.L().Infow("hunt stopped", "checks", st.TotalChecks, "slotsFound", st.SlotsFound)
	h.link.Send(protocol.TypeStatusUpdate, protocol.StatusUpdatePayload{Status: protocol.StatusIdle})
}

// OnSlotsFound is the scout's find callback: report upward, then fire locally.
// The reporter does not wait for its own relayed trigger.
func (h *Hunter) OnSlotsFound(param string, slots []slot.Descriptor) {
	logging.L().Infow("slots found", "param", param, "count", len(slots))
	h.link.Send(protocol.TypeSlotFound, protocol.SlotFoundPayload{
		Slots:     slots,
		DataParam: param,
		Timestamp: time.Now().UTC(),
	})
	h.enqueueFire(fireRequest{source: "local", slots: slots})
}

// Status reports the heartbeat status string.
func (h *Hunter) Status() string {
	if h.scout.Snapshot().Polling {
		return protocol.StatusHunting
	}
	return protocol.StatusIdle
}

// StatsDelta returns the counters accumulated since the previous call.
func (h *Hunter) StatsDelta() protocol.Stats {
	st := h.scout.Snapshot()
	h.mu.Lock()
	defer h.mu.Unlock()
	delta := protocol.Stats{
		Checks:     st.TotalChecks - h.lastChecks,
		SlotsFound: st.SlotsFound - h.lastSlots,
		Bookings:   h.bookings - h.lastBookings,
	}
	h.lastChecks = st.TotalChecks
	h.lastSlots = st.SlotsFound
	h.lastBookings = h.bookings
	return delta
}

func (h *Hunter) handleSniperTrigger(env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.SniperTriggerPayload](env)
	if err != nil {
		logging.L().Warnw("bad SNIPER_TRIGGER payload", "err", err)
		return
	}
	if len(payload.Slots) == 0 {
		return
	}
	logging.L().Infow("sniper trigger received", "source", payload.Source, "count", len(payload.Slots))
	h.enqueueFire(fireRequest{source: payload.Source, slots: payload.Slots})
}

// handleBookingComplete is the global stop: someone in the fleet booked.
func (h *Hunter) handleBookingComplete(env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.BookingCompletePayload](env)
	if err != nil {
		return
	}
	h.mu.Lock()
	alreadyDone := h.done
	h.done = true
	h.mu.Unlock()
	if alreadyDone {
		return
	}
	logging.L().Infow("fleet booking complete, standing down",
		"bookedBy", payload.BookedBy, "date", payload.SlotData.Date)
	h.scout.Stop()
}

func (h *Hunter) handleCommand(env protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.CommandPayload](env)
	if err != nil {
		logging.L().Warnw("bad COMMAND payload", "err", err)
		return
	}
	logging.L().Infow("command received", "command", payload.Command)

	switch payload.Command {
	case protocol.CommandStartHunt:
		param := payload.Param
		if param == "" {
			h.mu.Lock()
			param = h.param
			h.mu.Unlock()
		}
		h.StartHunt(context.Background(), param)
	case protocol.CommandStopHunt:
		h.StopHunt()
	case protocol.CommandFireSniper:
		if len(payload.Slots) == 0 {
			logging.L().Warnw("FIRE_SNIPER without slots")
			return
		}
		h.enqueueFire(fireRequest{source: "command", slots: payload.Slots})
	case protocol.CommandRotateIdentity:
		if h.rotator == nil {
			return
		}
		if err := h.rotator.Rotate(context.Background()); err != nil {
			logging.L().Warnw("identity rotation failed", "err", err)
		}
	default:
		logging.L().Warnw("unknown command", "command", payload.Command)
	}
}

// enqueueFire is best-effort: a full queue means the sniper is already busy
// with older finds, and stale slots are not worth waiting for.
func (h *Hunter) enqueueFire(req fireRequest) {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done {
		return
	}
	select {
	case h.fireCh <- req:
	default:
		logging.L().Warnw("fire queue full, dropping", "source", req.source, "count", len(req.slots))
	}
}

// fire walks the candidate slots of one request in order. A taken slot is the
// common race outcome, so a Failed attempt advances to the next candidate;
// Booked, Pending, and a broken token all end the walk.
func (h *Hunter) fire(ctx context.Context, req fireRequest) {
	candidates := req.slots
	if len(candidates) > maxCandidateSlots {
		candidates = candidates[:maxCandidateSlots]
	}

	for _, target := range candidates {
		h.mu.Lock()
		done := h.done
		h.mu.Unlock()
		if done || ctx.Err() != nil {
			return
		}

		logging.L().Infow("firing sniper", "source", req.source,
			"date", target.Date, "slotId", target.SlotID)

		res := h.sniper.ExecuteWithRetry(ctx, target, h.retries)
		switch res.Outcome {
		case sniper.OutcomeBooked:
			h.mu.Lock()
			h.bookings++
			h.done = true
			h.mu.Unlock()
			logging.L().Infow("booking succeeded", "date", target.Date, "slotId", target.SlotID)
			h.link.Send(protocol.TypeBookingSuccess, protocol.BookingOutcomePayload{
				SlotData:    target,
				RedirectURL: res.RedirectURL,
			})
			h.scout.Stop()
			return
		case sniper.OutcomePending:
			logging.L().Warnw("booking outcome unclear", "reason", res.Reason)
			h.link.Send(protocol.TypeLog, protocol.LogPayload{
				Level:   "warn",
				Message: "booking outcome unclear: " + res.Reason,
			})
			// Ambiguous: the slot may be ours. Firing at more slots before
			// someone verifies risks a double booking.
			return
		case sniper.OutcomeTokenError:
			// Not transient; the next candidate would fail the same way.
			logging.L().Warnw("booking aborted", "reason", res.Reason)
			h.link.Send(protocol.TypeBookingFailed, protocol.BookingOutcomePayload{
				SlotData: target,
				Reason:   res.Reason,
			})
			return
		default:
			logging.L().Warnw("booking failed, trying next candidate", "reason", res.Reason)
			h.link.Send(protocol.TypeBookingFailed, protocol.BookingOutcomePayload{
				SlotData: target,
				Reason:   res.Reason,
			})
		}
	}
}
