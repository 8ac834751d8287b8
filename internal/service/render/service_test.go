package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/petbotlabs/room-render/internal/artifact"
	"github.com/petbotlabs/room-render/internal/compositor"
	"github.com/petbotlabs/room-render/internal/fetch"
	"github.com/petbotlabs/room-render/internal/imagecache"
	"github.com/petbotlabs/room-render/internal/model"
	jobrepo "github.com/petbotlabs/room-render/internal/repository/job"
	"github.com/petbotlabs/room-render/internal/resolve"
)

func pngDataURL(t *testing.T, c color.NRGBA) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// countingComposer wraps the real compositor to observe and perturb
// compose invocations.
type countingComposer struct {
	inner        *compositor.Compositor
	delay        time.Duration
	failuresLeft int32
	calls        int32
}

func (c *countingComposer) enter() error {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(c.delay)
	if atomic.AddInt32(&c.failuresLeft, -1) >= 0 {
		return errors.New("encode failed")
	}
	return nil
}

func (c *countingComposer) ComposePNG(ctx context.Context, w, h int, layers []compositor.Layer, bg string) ([]byte, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	return c.inner.ComposePNG(ctx, w, h, layers, bg)
}

func (c *countingComposer) ComposeGIF(ctx context.Context, w, h int, layers []compositor.Layer, opts model.GifOptions) (*compositor.Result, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	return c.inner.ComposeGIF(ctx, w, h, layers, opts)
}

type harness struct {
	svc      *Service
	repo     *jobrepo.Repository
	composer *countingComposer
}

func newHarness(t *testing.T, delay time.Duration, failures int32) *harness {
	t.Helper()

	f := fetch.New(fetch.Config{Timeout: time.Second, CacheTTL: time.Minute, CacheMaxItems: 100})
	d := imagecache.New(time.Minute, 100)
	comp := &countingComposer{
		inner:        compositor.New(f, d, 4, 4),
		delay:        delay,
		failuresLeft: failures,
	}
	repo := jobrepo.NewRepository()
	store := artifact.NewStore(t.TempDir(), "http://localhost:8081", nil)

	svc := NewService(
		context.Background(),
		repo,
		store,
		comp,
		resolve.New("http://cdn.test"),
		2,
		nil,
		Limits{MaxWidth: 1024, MaxHeight: 1024, MaxLayers: 50, MaxFrames: 120},
	)
	return &harness{svc: svc, repo: repo, composer: comp}
}

func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) model.Record {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := h.svc.Poll(id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal status")
	return model.Record{}
}

func staticJob(t *testing.T) model.Job {
	return model.Job{
		Guild: "g",
		User:  "u",
		Size:  model.Size{Width: 32, Height: 32},
		Layers: []model.Layer{
			{Type: "static", URL: pngDataURL(t, color.NRGBA{R: 255, A: 255})},
			{Type: "static", URL: pngDataURL(t, color.NRGBA{G: 255, A: 255})},
		},
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, 0, 0)

	tests := []struct {
		name   string
		mutate func(*model.Job)
	}{
		{"missing guild", func(j *model.Job) { j.Guild = "" }},
		{"missing user", func(j *model.Job) { j.User = "" }},
		{"missing layers", func(j *model.Job) { j.Layers = nil }},
		{"width over limit", func(j *model.Job) { j.Size.Width = 2048 }},
		{"height over limit", func(j *model.Job) { j.Size.Height = 2048 }},
		{"too many layers", func(j *model.Job) { j.Layers = make([]model.Layer, 51) }},
		{"too many frames", func(j *model.Job) {
			j.Layers = []model.Layer{{Type: "pet_gif_frames", Frames: make([]model.Frame, 121)}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := staticJob(t)
			tt.mutate(&job)
			if _, err := h.svc.Submit(job); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestPollUnknownJob(t *testing.T) {
	h := newHarness(t, 0, 0)

	if _, err := h.svc.Poll(uuid.New()); !errors.Is(err, jobrepo.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestStaticJobRendersPNG(t *testing.T) {
	h := newHarness(t, 0, 0)

	id, err := h.svc.Submit(staticJob(t))
	if err != nil {
		t.Fatal(err)
	}

	rec := h.waitTerminal(t, id)
	if rec.Status != model.StatusDone {
		t.Fatalf("status = %q (%s), want done", rec.Status, rec.Error)
	}
	if rec.Format != model.FormatPNG {
		t.Fatalf("format = %q, want png", rec.Format)
	}
	if !strings.HasPrefix(rec.URL, "http://localhost:8081/out/") || !strings.HasSuffix(rec.URL, ".png") {
		t.Fatalf("url = %q", rec.URL)
	}
}

func TestResubmitHitsArtifactCache(t *testing.T) {
	h := newHarness(t, 0, 0)

	first, err := h.svc.Submit(staticJob(t))
	if err != nil {
		t.Fatal(err)
	}
	rec1 := h.waitTerminal(t, first)

	// Same pixels under a different caller identity.
	job := staticJob(t)
	job.Guild = "other"
	second, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}
	rec2 := h.waitTerminal(t, second)

	if rec1.URL != rec2.URL {
		t.Fatalf("urls differ: %q vs %q", rec1.URL, rec2.URL)
	}
	if calls := atomic.LoadInt32(&h.composer.calls); calls != 1 {
		t.Fatalf("compose ran %d times, want 1 (artifact cache hit)", calls)
	}
}

func TestAnimatedLayerProducesGIF(t *testing.T) {
	h := newHarness(t, 0, 0)

	job := model.Job{
		Guild: "g",
		User:  "u",
		Size:  model.Size{Width: 16, Height: 16},
		Layers: []model.Layer{
			{Type: "static", URL: pngDataURL(t, color.NRGBA{R: 255, A: 255})},
			{Type: "pet_gif_frames", Frames: []model.Frame{
				{URL: pngDataURL(t, color.NRGBA{G: 255, A: 255})},
				{URL: pngDataURL(t, color.NRGBA{B: 255, A: 255})},
			}},
		},
	}

	id, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}

	rec := h.waitTerminal(t, id)
	if rec.Status != model.StatusDone || rec.Format != model.FormatGIF {
		t.Fatalf("got (%q, %q), want (done, gif): %s", rec.Status, rec.Format, rec.Error)
	}

	// The artifact on disk is a real 2-frame GIF.
	name := rec.URL[strings.LastIndex(rec.URL, "/")+1:]
	path, ok := h.svc.artifacts.(*artifact.Store).Path(name)
	if !ok {
		t.Fatalf("artifact %q not on disk", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Image) != 2 {
		t.Fatalf("frame count = %d, want 2", len(g.Image))
	}
}

func TestConcurrentIdenticalJobsComposeOnce(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, 0)

	job := staticJob(t)
	first, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("job ids must be distinct")
	}

	rec1 := h.waitTerminal(t, first)
	rec2 := h.waitTerminal(t, second)

	if rec1.Status != model.StatusDone || rec2.Status != model.StatusDone {
		t.Fatalf("statuses: %q / %q", rec1.Status, rec2.Status)
	}
	if rec1.URL != rec2.URL {
		t.Fatalf("urls differ: %q vs %q", rec1.URL, rec2.URL)
	}
	if calls := atomic.LoadInt32(&h.composer.calls); calls != 1 {
		t.Fatalf("compose ran %d times, want 1", calls)
	}
}

func TestFollowerRetriesAfterLeaderFailure(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond, 1)

	job := staticJob(t)
	first, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}

	rec1 := h.waitTerminal(t, first)
	rec2 := h.waitTerminal(t, second)

	// The leader fails; the follower does not inherit the failure and
	// retries the full pipeline.
	statuses := []string{rec1.Status, rec2.Status}
	done, failed := 0, 0
	for _, s := range statuses {
		switch s {
		case model.StatusDone:
			done++
		case model.StatusError:
			failed++
		}
	}
	if done != 1 || failed != 1 {
		t.Fatalf("statuses = %v, want one done and one error", statuses)
	}
	if calls := atomic.LoadInt32(&h.composer.calls); calls != 2 {
		t.Fatalf("compose ran %d times, want 2 (failed leader + follower retry)", calls)
	}
}

func TestUnresolvableLayersAreDropped(t *testing.T) {
	h := newHarness(t, 0, 0)

	job := staticJob(t)
	job.Layers = append(job.Layers, model.Layer{Type: "hologram", Key: "x"})

	id, err := h.svc.Submit(job)
	if err != nil {
		t.Fatal(err)
	}

	rec := h.waitTerminal(t, id)
	if rec.Status != model.StatusDone {
		t.Fatalf("status = %q (%s), want done despite the dropped layer", rec.Status, rec.Error)
	}
}
