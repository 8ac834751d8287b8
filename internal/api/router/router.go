package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/petbotlabs/room-render/internal/api/handlers/job"
	"github.com/petbotlabs/room-render/internal/middleware"
	"github.com/petbotlabs/room-render/internal/obs"
)

// Options carry the boundary knobs the router needs.
type Options struct {
	APIToken     string // empty disables auth
	MaxBodyBytes int64
}

func Setup(h *job.Handler, opts Options) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())
	r.Use(obs.Middleware())

	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.GET("/out/:file", h.Artifact) // finished artifacts

	jobs := r.Group("/jobs")
	jobs.Use(middleware.BearerAuth(opts.APIToken))
	jobs.POST("", middleware.BodyLimit(opts.MaxBodyBytes), h.Submit)
	jobs.GET("/:id", h.Poll)

	return r
}
