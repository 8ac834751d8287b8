package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/petbotlabs/room-render/internal/api/respond"
	"github.com/petbotlabs/room-render/internal/model"
	"github.com/petbotlabs/room-render/internal/obs"
	jobrepo "github.com/petbotlabs/room-render/internal/repository/job"
	"github.com/petbotlabs/room-render/internal/service/render"
)

// service defines the interface for render job operations.
type service interface {
	Submit(payload model.Job) (uuid.UUID, error)
	Poll(id uuid.UUID) (model.Record, error)
}

// artifacts resolves artifact file names to local paths.
type artifacts interface {
	Path(name string) (string, bool)
}

// Handler provides HTTP handlers for the render job endpoints.
type Handler struct {
	service   service
	artifacts artifacts
}

// NewHandler creates a new Handler with the given service and artifact store.
func NewHandler(s service, a artifacts) *Handler {
	return &Handler{service: s, artifacts: a}
}

// Submit accepts a render job. It validates the payload via the
// service, registers the job and returns its ID immediately; rendering
// happens in the background.
func (h *Handler) Submit(c *ginext.Context) {
	var payload model.Job
	if err := json.NewDecoder(c.Request.Body).Decode(&payload); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to decode job payload")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid json body: %v", err))
		return
	}

	id, err := h.service.Submit(payload)
	if err != nil {
		if errors.Is(err, render.ErrInvalidPayload) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).Msg("failed to submit job")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to submit job"))
		return
	}

	respond.Accepted(c, map[string]interface{}{"jobId": id})
}

// Poll returns the current record of a job by ID.
func (h *Handler) Poll(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("unknown job"))
		return
	}

	rec, err := h.service.Poll(id)
	if err != nil {
		if errors.Is(err, jobrepo.ErrJobNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("unknown job"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to poll job")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to poll job"))
		return
	}

	respond.OK(c, rec)
}

// Artifact serves a finished render. Artifacts are content-addressed
// and immutable, so the response carries a year-long caching header.
func (h *Handler) Artifact(c *ginext.Context) {
	path, ok := h.artifacts.Path(c.Param("file"))
	if !ok {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("unknown artifact"))
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(path)
}

// Root returns the service descriptor.
func (h *Handler) Root(c *ginext.Context) {
	respond.OK(c, map[string]interface{}{
		"service": "room-render",
		"endpoints": []string{
			"POST /jobs",
			"GET /jobs/:id",
			"GET /out/:file",
			"GET /health",
			"GET /metrics",
		},
	})
}

// Health reports liveness.
func (h *Handler) Health(c *ginext.Context) {
	respond.JSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics exposes the Prometheus registry.
func (h *Handler) Metrics(c *ginext.Context) {
	obs.Handler().ServeHTTP(c.Writer, c.Request)
}
