package mw

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(1, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}

func TestRateLimitIsPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(1, 1))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
}

func TestCacheGETServesFromMemory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var hits atomic.Int32
	r := gin.New()
	r.Use(CacheGET(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/list", func(c *gin.Context) {
		hits.Add(1)
		c.JSON(http.StatusOK, gin.H{"n": hits.Load()})
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"n":1}`, w.Body.String())
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCacheGETSkipsWritesAndErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var hits atomic.Int32
	r := gin.New()
	r.Use(CacheGET(cache.New(time.Minute, time.Minute), time.Minute))
	r.POST("/cmd", func(c *gin.Context) {
		hits.Add(1)
		c.Status(http.StatusNoContent)
	})
	r.GET("/boom", func(c *gin.Context) {
		hits.Add(1)
		c.Status(http.StatusInternalServerError)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cmd", nil))
	}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	}
	assert.Equal(t, int32(4), hits.Load())
}
