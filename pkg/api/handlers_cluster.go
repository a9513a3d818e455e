package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatsResponse mirrors store.Stats for JSON output.
type StatsResponse struct {
	Namespace string `json:"namespace"`
	Pending   int64  `json:"pending"`
	Scheduled int64  `json:"scheduled"`
	InFlight  int64  `json:"in_flight"`
	Done      int64  `json:"done"`
	Failed    int64  `json:"failed"`
	Dead      int64  `json:"dead"`
	IsEmpty   bool   `json:"is_empty"`
}

// queueStats handles GET /v1/queues/:namespace/stats
func (s *Server) queueStats(c *gin.Context) {
	namespace := c.Param("namespace")

	stats, err := s.backend.Stats(c.Request.Context(), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	empty, err := s.backend.IsEmpty(c.Request.Context(), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		Namespace: namespace,
		Pending:   stats.Pending,
		Scheduled: stats.Scheduled,
		InFlight:  stats.InFlight,
		Done:      stats.Done,
		Failed:    stats.Failed,
		Dead:      stats.Dead,
		IsEmpty:   empty,
	})
}

// ConsumerResponse is one live worker entry.
type ConsumerResponse struct {
	WorkerID string `json:"worker_id"`
	LastSeen string `json:"last_seen"`
}

// queueNodes handles GET /v1/queues/:namespace/nodes
func (s *Server) queueNodes(c *gin.Context) {
	namespace := c.Param("namespace")

	consumers, err := s.backend.Consumers(c.Request.Context(), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]ConsumerResponse, 0, len(consumers))
	for _, con := range consumers {
		out = append(out, ConsumerResponse{
			WorkerID: con.WorkerID,
			LastSeen: con.LastSeen.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"namespace": namespace,
		"nodes":     out,
		"count":     len(out),
	})
}
