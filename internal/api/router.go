package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"slothive/config"
	"slothive/internal/hive"
	"slothive/internal/mw"
	"slothive/internal/notification"
	"slothive/internal/store"
)

// NewRouter creates and configures the hive's HTTP surface: the hunter
// websocket endpoint plus the REST API for the portal.
func NewRouter(cfg config.ServerConfig, hub *hive.Hub, s store.Store, notifier *notification.WorkerPool, vapidPub string) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(hub, s, notifier, vapidPub)

	// Hunters connect here; the websocket is never rate limited.
	r.GET("/ws", func(c *gin.Context) {
		hub.HandleWS(c.Writer, c.Request)
	})
	r.GET("/health", handler.GetHealth)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.CacheGET(cache.New(cacheTTL, 2*cacheTTL), cacheTTL)

	api := r.Group("/api")
	api.Use(mw.RateLimit(cfg.RateLimitPerSec, int(cfg.RateLimitPerSec)))
	{
		api.GET("/clients", handler.GetClients)
		api.POST("/command/:clientId", handler.PostCommand)
		api.POST("/broadcast", handler.PostBroadcast)
		api.POST("/notify", handler.PostNotify)

		// Archive listings are cached; they back the portal's polling views.
		api.GET("/events", caching, handler.GetEvents)
		api.GET("/bookings", caching, handler.GetBookings)

		api.GET("/subscriptions", handler.GetSubscriptions)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
