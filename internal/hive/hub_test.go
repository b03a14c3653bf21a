package hive

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slothive/config"
	"slothive/internal/protocol"
	"slothive/internal/slot"
)

func testHub(t *testing.T) (*Hub, *httptest.Server) {
	cfg := config.Config{}
	cfg.ApplyDefaults()
	hub := NewHub(cfg.Server, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(server.Close)
	return hub, server
}

// testConn wraps a websocket client connection with frame helpers.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, server *httptest.Server) *testConn {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tc := &testConn{t: t, conn: conn}
	welcome := tc.await(protocol.TypeWelcome)
	payload, err := protocol.DecodePayload[protocol.WelcomePayload](welcome)
	require.NoError(t, err)
	require.NotEmpty(t, payload.ClientID)
	tc.id = payload.ClientID
	return tc
}

func (tc *testConn) send(typ protocol.Type, payload any) {
	frame, err := protocol.Encode(typ, payload)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.conn.WriteMessage(websocket.TextMessage, frame))
}

// await reads frames until one of the wanted type arrives, skipping
// unrelated broadcasts such as CLIENT_COUNT.
func (tc *testConn) await(want protocol.Type) protocol.Envelope {
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(tc.t, tc.conn.SetReadDeadline(deadline))
		_, data, err := tc.conn.ReadMessage()
		require.NoError(tc.t, err, "waiting for %s", want)
		env, err := protocol.Decode(data)
		require.NoError(tc.t, err)
		if env.Type == want {
			return env
		}
	}
}

// awaitCount reads frames until a CLIENT_COUNT with the wanted value arrives.
func (tc *testConn) awaitCount(want int) {
	for {
		env := tc.await(protocol.TypeClientCount)
		payload, err := protocol.DecodePayload[protocol.ClientCountPayload](env)
		require.NoError(tc.t, err)
		if payload.Count == want {
			return
		}
	}
}

// assertSilent asserts no frame of the given type arrives within the window.
func (tc *testConn) assertSilent(window time.Duration, banned protocol.Type) {
	tc.conn.SetReadDeadline(time.Now().Add(window))
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			return // timeout: silence confirmed
		}
		env, err := protocol.Decode(data)
		require.NoError(tc.t, err)
		require.NotEqual(tc.t, banned, env.Type)
	}
}

var testSlots = []slot.Descriptor{{Date: "2025-06-01", SlotID: "42", Time: "09:00"}}

func TestBroadcastFanOut(t *testing.T) {
	_, server := testHub(t)
	a := dial(t, server)
	b := dial(t, server)
	c := dial(t, server)

	a.send(protocol.TypeRegister, protocol.RegisterPayload{Name: "alpha"})

	// SLOT_FOUND from A triggers B and C, not A.
	a.send(protocol.TypeSlotFound, protocol.SlotFoundPayload{Slots: testSlots, DataParam: "MAR"})

	for _, other := range []*testConn{b, c} {
		env := other.await(protocol.TypeSniperTrigger)
		payload, err := protocol.DecodePayload[protocol.SniperTriggerPayload](env)
		require.NoError(t, err)
		assert.Equal(t, "alpha", payload.Source)
		assert.Equal(t, testSlots, payload.Slots)
	}
	a.assertSilent(200*time.Millisecond, protocol.TypeSniperTrigger)

	// BOOKING_SUCCESS from B completes to A, B, and C.
	b.send(protocol.TypeBookingSuccess, protocol.BookingOutcomePayload{SlotData: testSlots[0]})
	for _, member := range []*testConn{a, b, c} {
		env := member.await(protocol.TypeBookingComplete)
		payload, err := protocol.DecodePayload[protocol.BookingCompletePayload](env)
		require.NoError(t, err)
		assert.Equal(t, testSlots[0], payload.SlotData)
		assert.Equal(t, b.id, payload.BookedBy, "unregistered booker is identified by id")
	}
}

func TestHeartbeatAckAndStatsMerge(t *testing.T) {
	hub, server := testHub(t)
	tc := dial(t, server)
	tc.send(protocol.TypeRegister, protocol.RegisterPayload{Name: "alpha"})

	tc.send(protocol.TypeHeartbeat, protocol.HeartbeatPayload{
		Status: protocol.StatusHunting,
		Stats:  protocol.Stats{Checks: 10, SlotsFound: 1},
	})
	tc.await(protocol.TypeHeartbeatAck)

	// A second heartbeat reports a delta, not a running total.
	tc.send(protocol.TypeHeartbeat, protocol.HeartbeatPayload{
		Status: protocol.StatusHunting,
		Stats:  protocol.Stats{Checks: 5},
	})
	tc.await(protocol.TypeHeartbeatAck)

	assert.Eventually(t, func() bool {
		for _, info := range hub.Snapshot() {
			if info.Name == "alpha" && info.Stats.Checks == 15 && info.Stats.SlotsFound == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "stats must merge incrementally")
}

func TestHeartbeatEviction(t *testing.T) {
	cfg := config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.HeartbeatTimeout = 50 * time.Millisecond
	hub := NewHub(cfg.Server, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	dial(t, server) // never heartbeats
	fresh := dial(t, server)
	require.Equal(t, 2, hub.Count())

	// Age the stale client past the timeout, keep the fresh one alive.
	time.Sleep(80 * time.Millisecond)
	fresh.send(protocol.TypeHeartbeat, protocol.HeartbeatPayload{Status: protocol.StatusIdle})
	fresh.await(protocol.TypeHeartbeatAck)

	hub.sweep()

	assert.Equal(t, 1, hub.Count())
	infos := hub.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, fresh.id, infos[0].ID)

	// Survivors hear the decremented fleet size.
	fresh.awaitCount(1)
}

func TestClientCountOnJoinAndLeave(t *testing.T) {
	hub, server := testHub(t)
	a := dial(t, server)

	b := dial(t, server)
	// A hears its own join count first, then B's.
	a.awaitCount(1)
	a.awaitCount(2)

	b.conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	a.awaitCount(1)
}

func TestSendToUnknownClient(t *testing.T) {
	hub, _ := testHub(t)
	err := hub.SendTo("nope", protocol.MustEncode(protocol.TypeCommand, protocol.CommandPayload{Command: protocol.CommandStopHunt}))
	assert.Error(t, err)
}

func TestShutdownDeliversNoticeBeforeClose(t *testing.T) {
	hub, server := testHub(t)
	a := dial(t, server)
	b := dial(t, server)

	hub.Shutdown()

	// Every client reads the drain notice before its connection drops.
	for _, member := range []*testConn{a, b} {
		member.await(protocol.TypeServerShutdown)
		member.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := member.conn.ReadMessage(); err != nil {
				assert.False(t, strings.Contains(err.Error(), "timeout"), "connection must close after the notice")
				break
			}
		}
	}
	assert.Equal(t, 0, hub.Count())
}

func TestBookingFailedIsNotBroadcast(t *testing.T) {
	_, server := testHub(t)
	a := dial(t, server)
	b := dial(t, server)

	a.send(protocol.TypeBookingFailed, protocol.BookingOutcomePayload{
		SlotData: testSlots[0],
		Reason:   "Slot no longer available",
	})
	b.assertSilent(200*time.Millisecond, protocol.TypeBookingComplete)
}
