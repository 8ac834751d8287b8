package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/singleflight"

	"github.com/petbotlabs/room-render/internal/compositor"
	"github.com/petbotlabs/room-render/internal/events"
	"github.com/petbotlabs/room-render/internal/fingerprint"
	"github.com/petbotlabs/room-render/internal/limiter"
	"github.com/petbotlabs/room-render/internal/model"
	"github.com/petbotlabs/room-render/internal/obs"
	"github.com/petbotlabs/room-render/internal/resolve"
)

// ErrInvalidPayload marks structural or limit violations found on submit.
var ErrInvalidPayload = errors.New("invalid payload")

// registry is the job state store.
type registry interface {
	Create(payload model.Job) model.Record
	Get(id uuid.UUID) (model.Record, error)
	MarkDone(id uuid.UUID, url, format string)
	MarkError(id uuid.UUID, msg string)
}

// artifacts is the content-addressed artifact cache.
type artifacts interface {
	Lookup(ctx context.Context, fp string) (url, format string, ok bool)
	Write(ctx context.Context, fp, ext string, data []byte) (string, error)
}

// composer renders resolved layers into encoded bytes.
type composer interface {
	ComposePNG(ctx context.Context, w, h int, layers []compositor.Layer, backgroundHex string) ([]byte, error)
	ComposeGIF(ctx context.Context, w, h int, layers []compositor.Layer, opts model.GifOptions) (*compositor.Result, error)
}

// Limits caps per-job cost. Violations are rejected on submit.
type Limits struct {
	MaxWidth  int
	MaxHeight int
	MaxLayers int
	MaxFrames int
}

// Service accepts render jobs, deduplicates identical in-flight work by
// fingerprint, and drives the fetch–compose–write pipeline under the
// global render semaphore.
type Service struct {
	registry   registry
	artifacts  artifacts
	composer   composer
	resolver   *resolve.Resolver
	sem        *limiter.Semaphore
	notifier   *events.Notifier
	limits     Limits
	flights    singleflight.Group
	background context.Context
}

// renderOutput is the value shared across a deduplicated flight.
type renderOutput struct {
	URL    string
	Format string
}

// NewService wires the render pipeline. background outlives individual
// HTTP requests and bounds all spawned render tasks.
func NewService(
	background context.Context,
	reg registry,
	store artifacts,
	comp composer,
	resolver *resolve.Resolver,
	renderConcurrency int,
	notifier *events.Notifier,
	limits Limits,
) *Service {
	return &Service{
		registry:   reg,
		artifacts:  store,
		composer:   comp,
		resolver:   resolver,
		sem:        limiter.NewSemaphore(renderConcurrency),
		notifier:   notifier,
		limits:     limits,
		background: background,
	}
}

// Submit validates the payload, registers a pending job, dispatches the
// render task to the background and returns the job ID immediately.
func (s *Service) Submit(payload model.Job) (uuid.UUID, error) {
	if err := s.validate(payload); err != nil {
		return uuid.Nil, err
	}

	rec := s.registry.Create(payload)
	go s.run(rec.ID, payload)

	return rec.ID, nil
}

// Poll returns the current job record.
func (s *Service) Poll(id uuid.UUID) (model.Record, error) {
	return s.registry.Get(id)
}

func (s *Service) validate(p model.Job) error {
	if p.Guild == "" {
		return fmt.Errorf("%w: guild is required", ErrInvalidPayload)
	}
	if p.User == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidPayload)
	}
	if p.Layers == nil {
		return fmt.Errorf("%w: layers is required", ErrInvalidPayload)
	}
	if p.Size.Width < 0 || p.Size.Width > s.limits.MaxWidth {
		return fmt.Errorf("%w: width must be between 0 and %d", ErrInvalidPayload, s.limits.MaxWidth)
	}
	if p.Size.Height < 0 || p.Size.Height > s.limits.MaxHeight {
		return fmt.Errorf("%w: height must be between 0 and %d", ErrInvalidPayload, s.limits.MaxHeight)
	}
	if len(p.Layers) > s.limits.MaxLayers {
		return fmt.Errorf("%w: at most %d layers allowed", ErrInvalidPayload, s.limits.MaxLayers)
	}
	for _, l := range p.Layers {
		if len(l.Frames) > s.limits.MaxFrames {
			return fmt.Errorf("%w: at most %d frames per layer allowed", ErrInvalidPayload, s.limits.MaxFrames)
		}
	}
	return nil
}

// run is the background render task for one job.
func (s *Service) run(id uuid.UUID, payload model.Job) {
	ctx := s.background
	obs.JobStarted()
	defer obs.JobFinished()

	fp := fingerprint.Compute(payload)
	log := zlog.Logger.With().Str("job", id.String()).Str("fingerprint", fp).Logger()

	if url, format, ok := s.artifacts.Lookup(ctx, fp); ok {
		log.Debug().Str("url", url).Msg("artifact cache hit")
		s.finish(ctx, id, fp, renderOutput{URL: url, Format: format}, nil)
		return
	}

	out, err, led := s.flight(ctx, fp, payload)
	if err != nil && !led {
		// The flight this job joined was led by another job and failed.
		// Followers do not inherit the failure; they retry the full
		// pipeline, coalescing among themselves.
		log.Warn().Err(err).Msg("joined render failed, retrying")
		out, err, _ = s.flight(ctx, fp, payload)
	}

	if err != nil {
		log.Err(err).Msg("render failed")
	} else {
		log.Info().Str("url", out.URL).Str("format", out.Format).Msg("render finished")
	}
	s.finish(ctx, id, fp, out, err)
}

// flight runs the render once per fingerprint; concurrent identical
// jobs share the in-flight result instead of composing twice. The third
// return reports whether this call led the flight; only followers fall
// through to a retry when the leader fails.
func (s *Service) flight(ctx context.Context, fp string, payload model.Job) (renderOutput, error, bool) {
	led := false
	v, err, _ := s.flights.Do(fp, func() (interface{}, error) {
		led = true
		return s.render(ctx, fp, payload)
	})
	if err != nil {
		return renderOutput{}, err, led
	}
	return v.(renderOutput), nil, led
}

// render is the single-flight body: resolve layers, acquire the global
// render semaphore, compose, and write the artifact.
func (s *Service) render(ctx context.Context, fp string, payload model.Job) (renderOutput, error) {
	// An artifact may have appeared since the caller's probe, e.g. when
	// this flight follows a failed one that another job completed.
	if url, format, ok := s.artifacts.Lookup(ctx, fp); ok {
		return renderOutput{URL: url, Format: format}, nil
	}

	layers := s.resolveLayers(payload.Layers)

	wantsGif := strings.EqualFold(payload.Format, model.FormatGIF)
	for _, l := range layers {
		if l.Animated() {
			wantsGif = true
			break
		}
	}

	if err := s.sem.Acquire(ctx); err != nil {
		return renderOutput{}, fmt.Errorf("acquire render slot: %w", err)
	}
	defer s.sem.Release()

	w, h := payload.Size.Width, payload.Size.Height
	if w <= 0 {
		w = fingerprint.DefaultWidth
	}
	if h <= 0 {
		h = fingerprint.DefaultHeight
	}

	start := time.Now()
	var (
		format string
		data   []byte
		err    error
	)

	if wantsGif {
		opts := s.gifOptions(payload)
		var res *compositor.Result
		res, err = s.composer.ComposeGIF(ctx, w, h, layers, opts)
		if err == nil {
			format, data = res.Format, res.Data
		}
	} else {
		format = model.FormatPNG
		data, err = s.composer.ComposePNG(ctx, w, h, layers, payload.BackgroundColorHex)
	}
	obs.RecordRender(format, start, err)
	if err != nil {
		return renderOutput{}, err
	}

	url, err := s.artifacts.Write(ctx, fp, format, data)
	if err != nil {
		return renderOutput{}, err
	}

	return renderOutput{URL: url, Format: format}, nil
}

// resolveLayers maps payload layers onto compositor layers. Animated
// layers pass through with their frames; other layers get their URL
// from the payload or the CDN path table. Layers whose URL cannot be
// derived are dropped.
func (s *Service) resolveLayers(in []model.Layer) []compositor.Layer {
	out := make([]compositor.Layer, 0, len(in))
	for _, l := range in {
		if l.Animated() {
			frames := make([]compositor.Frame, 0, len(l.Frames))
			for _, f := range l.Frames {
				frames = append(frames, compositor.Frame{URL: f.URL, Rect: f.Rect})
			}
			out = append(out, compositor.Layer{Rect: l.Rect, Frames: frames})
			continue
		}

		url, ok := s.resolver.URLFor(l)
		if !ok {
			zlog.Logger.Warn().Str("type", l.Type).Str("key", l.Key).Msg("dropping unresolvable layer")
			continue
		}
		out = append(out, compositor.Layer{URL: url, Rect: l.Rect})
	}
	return out
}

// gifOptions merges the payload-level background color into the GIF
// options when the options themselves leave it unset.
func (s *Service) gifOptions(payload model.Job) model.GifOptions {
	var opts model.GifOptions
	if payload.GifOptions != nil {
		opts = *payload.GifOptions
	}
	if opts.BackgroundColorHex == "" {
		opts.BackgroundColorHex = payload.BackgroundColorHex
	}
	return opts
}

// finish records the terminal status and publishes the job event.
func (s *Service) finish(ctx context.Context, id uuid.UUID, fp string, out renderOutput, err error) {
	ev := events.JobEvent{
		JobID:       id.String(),
		Fingerprint: fp,
	}

	if err != nil {
		s.registry.MarkError(id, err.Error())
		ev.Status = model.StatusError
		ev.Error = err.Error()
	} else {
		s.registry.MarkDone(id, out.URL, out.Format)
		ev.Status = model.StatusDone
		ev.URL = out.URL
		ev.Format = out.Format
	}

	s.notifier.JobFinished(ctx, ev)
}
