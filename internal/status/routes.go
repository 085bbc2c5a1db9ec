// Package status serves a small read-only HTTP API over the running pipeline.
package status

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pawrelay/internal/avatarid"
	"pawrelay/internal/dispatch"
)

// History is the read side of the success history.
type History interface {
	Snapshot() []avatarid.ID
	Contains(id avatarid.ID) bool
	Capacity() int
}

// Queue is the read side of the dispatch queue.
type Queue interface {
	Stats() dispatch.Stats
	Pending() []avatarid.ID
}

// Deps are the data sources behind the routes. Health may be nil.
type Deps struct {
	History History
	Queue   Queue
	Health  func() any
	Started time.Time
}

type HistoryResponse struct {
	Count    int           `json:"count"`
	Capacity int           `json:"capacity"`
	IDs      []avatarid.ID `json:"ids"`
}

type QueueResponse struct {
	dispatch.Stats
	PendingIDs []avatarid.ID `json:"pending_ids"`
}

type LookupResponse struct {
	ID      avatarid.ID `json:"id"`
	Relayed bool        `json:"relayed"`
}

// NewRouter builds the gin engine. It does not start a listener.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler(d))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/history", historyHandler(d.History))
	v1.GET("/history/:id", lookupHandler(d.History))
	v1.GET("/queue", queueHandler(d.Queue))
	return r
}

func healthHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if !d.Started.IsZero() {
			body["uptime"] = time.Since(d.Started).Round(time.Second).String()
		}
		if d.Health != nil {
			body["runtime"] = d.Health()
		}
		c.JSON(http.StatusOK, body)
	}
}

func historyHandler(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := h.Snapshot()
		c.JSON(http.StatusOK, HistoryResponse{Count: len(ids), Capacity: h.Capacity(), IDs: ids})
	}
}

func lookupHandler(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := avatarid.Parse(c.Param("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, avatarid.ErrInvalid) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, LookupResponse{ID: id, Relayed: h.Contains(id)})
	}
}

func queueHandler(q Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, QueueResponse{Stats: q.Stats(), PendingIDs: q.Pending()})
	}
}
