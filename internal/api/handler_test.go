package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"slothive/internal/hive"
	"slothive/internal/model"
	"slothive/internal/notification"
	"slothive/internal/protocol"
	"slothive/internal/store"
)

type fakeHub struct {
	infos      []hive.ClientInfo
	sent       map[string][][]byte
	broadcasts [][]byte
}

func newFakeHub(infos ...hive.ClientInfo) *fakeHub {
	return &fakeHub{infos: infos, sent: make(map[string][][]byte)}
}

func (f *fakeHub) Snapshot() []hive.ClientInfo { return f.infos }
func (f *fakeHub) Count() int                  { return len(f.infos) }

func (f *fakeHub) SendTo(clientID string, frame []byte) error {
	for _, info := range f.infos {
		if info.ID == clientID {
			f.sent[clientID] = append(f.sent[clientID], frame)
			return nil
		}
	}
	return fmt.Errorf("no connected client %s", clientID)
}

func (f *fakeHub) Broadcast(frame []byte) {
	f.broadcasts = append(f.broadcasts, frame)
}

func newTestStore(t *testing.T) store.Store {
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&model.SlotEvent{},
		&model.BookingRecord{},
		&model.PushSubscription{},
	))
	return store.NewGormStore(gdb)
}

func newTestRouter(t *testing.T, hub Coordinator, notifier *notification.WorkerPool, vapidPub string) (*gin.Engine, store.Store) {
	gin.SetMode(gin.TestMode)
	s := newTestStore(t)
	handler := NewHandler(hub, s, notifier, vapidPub)

	r := gin.New()
	r.GET("/health", handler.GetHealth)
	api := r.Group("/api")
	{
		api.GET("/clients", handler.GetClients)
		api.POST("/command/:clientId", handler.PostCommand)
		api.POST("/broadcast", handler.PostBroadcast)
		api.POST("/notify", handler.PostNotify)
		api.GET("/events", handler.GetEvents)
		api.GET("/bookings", handler.GetBookings)
		api.GET("/subscriptions", handler.GetSubscriptions)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}
	return r, s
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetHealth(t *testing.T) {
	hub := newFakeHub(hive.ClientInfo{ID: "c1", Name: "alpha"})
	r, _ := newTestRouter(t, hub, nil, "")

	w := doJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 1, resp["clients"])
}

func TestGetClients(t *testing.T) {
	hub := newFakeHub(
		hive.ClientInfo{ID: "c1", Name: "alpha", Status: protocol.StatusHunting},
		hive.ClientInfo{ID: "c2", Name: "bravo", Status: protocol.StatusIdle},
	)
	r, _ := newTestRouter(t, hub, nil, "")

	w := doJSON(r, http.MethodGet, "/api/clients", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count   int               `json:"count"`
		Clients []hive.ClientInfo `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "alpha", resp.Clients[0].Name)
}

func TestPostCommand(t *testing.T) {
	hub := newFakeHub(hive.ClientInfo{ID: "c1", Name: "alpha"})
	r, _ := newTestRouter(t, hub, nil, "")

	w := doJSON(r, http.MethodPost, "/api/command/c1", commandRequest{
		Command: protocol.CommandStartHunt,
		Param:   "MAR/casablanca",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, hub.sent["c1"], 1)
	env, err := protocol.Decode(hub.sent["c1"][0])
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeCommand, env.Type)
	payload, err := protocol.DecodePayload[protocol.CommandPayload](env)
	require.NoError(t, err)
	assert.Equal(t, protocol.CommandStartHunt, payload.Command)
	assert.Equal(t, "MAR/casablanca", payload.Param)
}

func TestPostCommandValidation(t *testing.T) {
	hub := newFakeHub(hive.ClientInfo{ID: "c1"})
	r, _ := newTestRouter(t, hub, nil, "")

	w := doJSON(r, http.MethodPost, "/api/command/c1", commandRequest{Command: "SELF_DESTRUCT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/command/ghost", commandRequest{Command: protocol.CommandStopHunt})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostBroadcast(t *testing.T) {
	hub := newFakeHub(hive.ClientInfo{ID: "c1"}, hive.ClientInfo{ID: "c2"})
	r, _ := newTestRouter(t, hub, nil, "")

	w := doJSON(r, http.MethodPost, "/api/broadcast", commandRequest{Command: protocol.CommandStopHunt})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, hub.broadcasts, 1)

	env, err := protocol.Decode(hub.broadcasts[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeCommand, env.Type)
}

func TestPostNotify(t *testing.T) {
	pool := notification.NewWorkerPool(1)
	r, _ := newTestRouter(t, newFakeHub(), pool, "")

	w := doJSON(r, http.MethodPost, "/api/notify", notifyRequest{Message: "manual check please"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case ev := <-pool.Jobs():
		assert.Equal(t, "manual check please", ev.Message())
	case <-time.After(time.Second):
		t.Fatal("no event dispatched")
	}
}

func TestArchiveListings(t *testing.T) {
	r, s := newTestRouter(t, newFakeHub(), nil, "")
	ctx := context.Background()

	require.NoError(t, s.RecordSlotEvents(ctx, []model.SlotEvent{
		{ClientID: "c1", ClientName: "alpha", Param: "MAR", SlotDate: "2025-06-01", SlotID: "42", SlotTime: "09:00", ReportedAt: time.Now()},
	}))
	require.NoError(t, s.RecordBooking(ctx, &model.BookingRecord{
		ClientID: "c1", ClientName: "alpha", Outcome: "BOOKED", SlotDate: "2025-06-01", SlotID: "42", SlotTime: "09:00",
	}))

	w := doJSON(r, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []model.SlotEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, "42", events.Events[0].SlotID)

	w = doJSON(r, http.MethodGet, "/api/bookings?limit=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var bookings struct {
		Bookings []model.BookingRecord `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bookings))
	require.Len(t, bookings.Bookings, 1)
	assert.Equal(t, "BOOKED", bookings.Bookings[0].Outcome)
}

func TestSubscriptionLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, newFakeHub(), nil, "")

	w := doJSON(r, http.MethodPut, "/api/subscriptions", putSubscriptionRequest{
		Endpoint: "https://push.example/ep1", P256DH: "key", Auth: "auth",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"https://push.example/ep1"}, resp.Endpoints)

	w = doJSON(r, http.MethodDelete, "/api/subscriptions", deleteSubscriptionRequest{Endpoint: "https://push.example/ep1"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(r, http.MethodPut, "/api/subscriptions", putSubscriptionRequest{Endpoint: "https://push.example/ep2"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "keys are required")
}

func TestGetVAPIDPublicKey(t *testing.T) {
	r, _ := newTestRouter(t, newFakeHub(), nil, "")
	w := doJSON(r, http.MethodGet, "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	r, _ = newTestRouter(t, newFakeHub(), nil, "BPubKey")
	w = doJSON(r, http.MethodGet, "/api/vapid_public_key", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPubKey"}`, w.Body.String())
}
