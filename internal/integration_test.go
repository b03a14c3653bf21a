package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"slothive/config"
	"slothive/internal/hive"
	"slothive/internal/hivelink"
	"slothive/internal/hunter"
	"slothive/internal/model"
	"slothive/internal/protocol"
	"slothive/internal/scout"
	"slothive/internal/session"
	"slothive/internal/slot"
	"slothive/internal/sniper"
	"slothive/internal/store"
)

// watcher reads frames from one passive fleet member.
type watcher struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWatcher(t *testing.T, wsURL string) *watcher {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	w := &watcher{t: t, conn: conn}
	w.await(protocol.TypeWelcome)
	return w
}

func (w *watcher) await(want protocol.Type) protocol.Envelope {
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(w.t, w.conn.SetReadDeadline(deadline))
		_, data, err := w.conn.ReadMessage()
		require.NoError(w.t, err, "waiting for %s", want)
		env, err := protocol.Decode(data)
		require.NoError(w.t, err)
		if env.Type == want {
			return env
		}
	}
}

// TestHuntLifecycle runs the whole race: one hunter's scout finds a slot on
// the mocked portal, its sniper books it through a payment redirect, and the
// hive archives the outcome and stands the rest of the fleet down.
func TestHuntLifecycle(t *testing.T) {
	// In-memory archive.
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&model.SlotEvent{}, &model.BookingRecord{}, &model.PushSubscription{}))
	archive := store.NewGormStore(gdb)

	// Mocked visa portal: one open slot, bookings redirect to payment.
	var bookedForm string
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/availability"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"slots":[{"date":"2025-06-01","slotId":42,"time":"09:00"}]}`))
		case strings.HasPrefix(r.URL.Path, "/book"):
			require.NoError(t, r.ParseForm())
			bookedForm = r.Form.Encode()
			w.Header().Set("Location", "/MAR/Payment")
			w.WriteHeader(http.StatusFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer portal.Close()

	cfg := config.Config{}
	cfg.ApplyDefaults()
	cfg.Scout.AvailabilityURL = portal.URL + "/availability"
	cfg.Scout.Param = "MAR/casablanca"
	cfg.Sniper.BookingURL = portal.URL + "/book"
	cfg.Sniper.VisaType = "short-stay"
	cfg.Sniper.Center = "casablanca"

	// The hive.
	hub := hive.NewHub(cfg.Server, archive, nil)
	hiveServer := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer hiveServer.Close()
	wsURL := "ws" + strings.TrimPrefix(hiveServer.URL, "http")

	// Two passive fleet members.
	bravo := dialWatcher(t, wsURL)
	charlie := dialWatcher(t, wsURL)

	// The active hunter: real scout, sniper, session store, and link.
	sessions := session.NewStore()
	sessions.Set(session.Context{
		Authenticated: true,
		Headers:       map[string]string{cfg.Sniper.TokenHeader: "tok-123"},
	})

	hunterCfg := cfg.Hunter
	hunterCfg.ServerURL = wsURL
	hunterCfg.Name = "alpha"
	hunterCfg.HeartbeatInterval = 50 * time.Millisecond
	hunterCfg.ReconnectInterval = 50 * time.Millisecond
	link := hivelink.NewLink(hunterCfg)

	var h *hunter.Hunter
	sc := scout.New(cfg.Scout, sessions, nil, func(param string, slots []slot.Descriptor) {
		h.OnSlotsFound(param, slots)
	})
	sn := sniper.New(cfg.Sniper, sessions, nil)
	h = hunter.New(hunterCfg, cfg.Sniper, sc, sn, link, nil)
	link.SetStatsSource(h.StatsDelta)
	link.SetStatusSource(h.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	go link.Run(ctx)

	require.Eventually(t, func() bool { return link.Connected() }, 5*time.Second, 10*time.Millisecond)

	// Go. The first probe finds the slot immediately.
	h.StartHunt(ctx, cfg.Scout.Param)

	// The rest of the fleet hears the find...
	for _, member := range []*watcher{bravo, charlie} {
		env := member.await(protocol.TypeSniperTrigger)
		payload, err := protocol.DecodePayload[protocol.SniperTriggerPayload](env)
		require.NoError(t, err)
		assert.Equal(t, "alpha", payload.Source)
		require.Len(t, payload.Slots, 1)
		assert.Equal(t, slot.Descriptor{Date: "2025-06-01", SlotID: "42", Time: "09:00"}, payload.Slots[0])
	}

	// ...and then the booking, reporter included.
	for _, member := range []*watcher{bravo, charlie} {
		env := member.await(protocol.TypeBookingComplete)
		payload, err := protocol.DecodePayload[protocol.BookingCompletePayload](env)
		require.NoError(t, err)
		assert.Equal(t, "alpha", payload.BookedBy)
		assert.Equal(t, "42", payload.SlotData.SlotID)
	}

	// The booking hit the portal with the slot identity and the token.
	assert.Contains(t, bookedForm, "slotId=42")
	assert.Contains(t, bookedForm, "date=2025-06-01")
	assert.Contains(t, bookedForm, cfg.Sniper.TokenField+"=tok-123")

	// The hunter stood itself down.
	assert.Eventually(t, func() bool { return !sc.Snapshot().Polling }, 5*time.Second, 10*time.Millisecond)

	// The archive recorded both the sighting and the outcome.
	assert.Eventually(t, func() bool {
		events, err := archive.RecentSlotEvents(context.Background(), 10)
		if err != nil || len(events) != 1 {
			return false
		}
		bookings, err := archive.RecentBookings(context.Background(), 10)
		return err == nil && len(bookings) == 1 && bookings[0].Outcome == "BOOKED" &&
			bookings[0].RedirectURL == "/MAR/Payment"
	}, 5*time.Second, 10*time.Millisecond)
}
