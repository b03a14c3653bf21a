package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"slothive/internal/slot"
)

// Type identifies a coordination message.
type Type string

// Client-to-server message types.
const (
	TypeRegister       Type = "REGISTER"
	TypeHeartbeat      Type = "HEARTBEAT"
	TypeSlotFound      Type = "SLOT_FOUND"
	TypeBookingSuccess Type = "BOOKING_SUCCESS"
	TypeBookingFailed  Type = "BOOKING_FAILED"
	TypeStatusUpdate   Type = "STATUS_UPDATE"
	TypeLog            Type = "LOG"
	TypeError          Type = "ERROR"
)

// Server-to-client message types.
const (
	TypeWelcome         Type = "WELCOME"
	TypeHeartbeatAck    Type = "HEARTBEAT_ACK"
	TypeSniperTrigger   Type = "SNIPER_TRIGGER"
	TypeBookingComplete Type = "BOOKING_COMPLETE"
	TypeClientCount     Type = "CLIENT_COUNT"
	TypeServerShutdown  Type = "SERVER_SHUTDOWN"
	TypeCommand         Type = "COMMAND"
)

// Commands carried by a COMMAND message.
const (
	CommandStartHunt      = "START_HUNT"
	CommandStopHunt       = "STOP_HUNT"
	CommandFireSniper     = "FIRE_SNIPER"
	CommandRotateIdentity = "ROTATE_IDENTITY"
)

// Client status values reported in heartbeats.
const (
	StatusIdle    = "idle"
	StatusHunting = "hunting"
	StatusActive  = "active"
)

// Envelope is the JSON frame every coordination message travels in.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stats are the per-client hunt counters. Heartbeats carry deltas; the server
// merges them incrementally into its running totals.
type Stats struct {
	Checks     int `json:"checks"`
	SlotsFound int `json:"slotsFound"`
	Bookings   int `json:"bookings"`
}

// Add merges a delta into the receiver.
func (s *Stats) Add(delta Stats) {
	s.Checks += delta.Checks
	s.SlotsFound += delta.SlotsFound
	s.Bookings += delta.Bookings
}

type WelcomePayload struct {
	ClientID   string    `json:"clientId"`
	ServerTime time.Time `json:"serverTime"`
}

type RegisterPayload struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HeartbeatPayload struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Stats     Stats     `json:"stats"`
}

type HeartbeatAckPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type SlotFoundPayload struct {
	Slots     []slot.Descriptor `json:"slots"`
	DataParam string            `json:"dataParam"`
	Timestamp time.Time         `json:"timestamp"`
}

type SniperTriggerPayload struct {
	Source    string            `json:"source"`
	Slots     []slot.Descriptor `json:"slots"`
	Timestamp time.Time         `json:"timestamp"`
}

type BookingOutcomePayload struct {
	SlotData    slot.Descriptor `json:"slotData"`
	Reason      string          `json:"reason,omitempty"`
	RedirectURL string          `json:"redirectUrl,omitempty"`
}

type BookingCompletePayload struct {
	BookedBy string          `json:"bookedBy"`
	SlotData slot.Descriptor `json:"slotData"`
}

type ClientCountPayload struct {
	Count int `json:"count"`
}

type StatusUpdatePayload struct {
	Status string `json:"status"`
}

type LogPayload struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

type CommandPayload struct {
	Command string            `json:"command"`
	Param   string            `json:"param,omitempty"`
	Slots   []slot.Descriptor `json:"slots,omitempty"`
}

// Encode wraps a payload into a marshaled envelope.
func Encode(t Type, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t Type, payload any) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a wire frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into the given value.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}
