package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"forgequeue/pkg/api/middleware"
	"forgequeue/pkg/job"
	"forgequeue/pkg/store"
)

var payloadValidator = middleware.NewValidator(middleware.DefaultValidatorConfig())

// sniffShellCommand screens a push payload for known-dangerous shell
// commands when it happens to decode into {"command": "..."}. Payload
// is otherwise opaque to the API — this is best-effort defense in
// depth for the common case of a ShellHandler-bound job, not a
// schema requirement on Payload in general.
func sniffShellCommand(payload []byte) error {
	var probe struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Command == "" {
		return nil
	}
	return payloadValidator.ValidateCommand(probe.Command)
}

// PushRequest is the payload for POST /v1/jobs. Payload carries the
// caller's already-encoded job body; the API only probes it for a
// {"command": ...} shape (sniffShellCommand) and otherwise leaves
// decoding to the eventual handler's Codec. Setting ScheduledFor pushes into
// the scheduled collection instead of pending.
type PushRequest struct {
	Namespace    string     `json:"namespace" binding:"required"`
	Payload      []byte     `json:"payload" binding:"required"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// PushResponse reports the id assigned to a pushed or scheduled job.
type PushResponse struct {
	ID string `json:"id"`
}

// JobResponse is the API representation of a job.Record.
type JobResponse struct {
	ID           string     `json:"id"`
	Namespace    string     `json:"namespace"`
	Payload      []byte     `json:"payload"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func jobToResponse(rec *job.Record) JobResponse {
	return JobResponse{
		ID:           rec.ID,
		Namespace:    rec.Namespace,
		Payload:      rec.Payload,
		Attempts:     rec.Attempts,
		MaxAttempts:  rec.MaxAttempts,
		ScheduledFor: rec.ScheduledFor,
		LastError:    rec.LastError,
		CreatedAt:    rec.CreatedAt,
	}
}

// createJob handles POST /v1/jobs: immediate push, or a Schedule when
// scheduled_for is set.
func (s *Server) createJob(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := sniffShellCommand(req.Payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	var (
		id  string
		err error
	)
	if req.ScheduledFor != nil {
		id, err = s.backend.Schedule(c.Request.Context(), req.Namespace, req.Payload, maxAttempts, *req.ScheduledFor)
	} else {
		id, err = s.backend.Push(c.Request.Context(), req.Namespace, req.Payload, maxAttempts)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, PushResponse{ID: id})
}

// getJob handles GET /v1/jobs/:id?namespace=...
func (s *Server) getJob(c *gin.Context) {
	namespace := c.Query("namespace")
	if namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "namespace query parameter is required"})
		return
	}
	id := c.Param("id")

	rec, err := s.backend.FetchByID(c.Request.Context(), namespace, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(rec))
}

// cancelJob handles POST /v1/jobs/:id/cancel?namespace=...
func (s *Server) cancelJob(c *gin.Context) {
	namespace := c.Query("namespace")
	if namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "namespace query parameter is required"})
		return
	}
	id := c.Param("id")

	cancelled, err := s.backend.Cancel(c.Request.Context(), namespace, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !cancelled {
		c.JSON(http.StatusOK, gin.H{
			"id":        id,
			"cancelled": false,
			"message":   "job already leased, terminal, or unknown",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        id,
		"cancelled": true,
	})
}
