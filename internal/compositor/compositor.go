package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"regexp"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/petbotlabs/room-render/internal/limiter"
	"github.com/petbotlabs/room-render/internal/model"
)

// fetcher downloads asset bytes with extension fallback.
type fetcher interface {
	FetchWithFallback(ctx context.Context, url string) ([]byte, error)
}

// decoder turns bytes into a cached bitmap keyed by source URL.
type decoder interface {
	Decode(key string, data []byte) (image.Image, error)
}

// Layer is a planner-resolved layer. A non-empty Frames list marks an
// animated layer; otherwise URL names a single static bitmap.
type Layer struct {
	URL    string
	Rect   *model.Rect
	Frames []Frame
}

// Frame is one frame of an animated layer.
type Frame struct {
	URL  string
	Rect *model.Rect
}

// Animated reports whether the layer declares frames.
func (l Layer) Animated() bool {
	return len(l.Frames) > 0
}

// Result carries encoded output bytes. Format is "gif" or "png"; a GIF
// request downgrades to PNG when no animated layer survives loading.
type Result struct {
	Format string
	Data   []byte
}

// Compositor draws layers in declaration order onto an RGBA canvas and
// encodes the result. Per-layer fetch and decode failures skip the
// layer; they never fail the composition.
type Compositor struct {
	fetcher     fetcher
	decoder     decoder
	staticLimit int
	frameLimit  int
}

// New creates a Compositor. staticLimit bounds parallel single-bitmap
// fetches, frameLimit bounds parallel frame fetches within one layer.
func New(f fetcher, d decoder, staticLimit, frameLimit int) *Compositor {
	if staticLimit < 1 {
		staticLimit = 10
	}
	if frameLimit < 1 {
		frameLimit = 10
	}
	return &Compositor{fetcher: f, decoder: d, staticLimit: staticLimit, frameLimit: frameLimit}
}

// ComposePNG renders a single frame of w×h pixels and returns PNG bytes.
// Animated layers have no single source bitmap and are skipped here;
// they only reach ComposePNG through ComposeGIF's no-animation
// fallback path, where their frames already failed to load.
func (c *Compositor) ComposePNG(ctx context.Context, w, h int, layers []Layer, backgroundHex string) ([]byte, error) {
	dc := gg.NewContext(w, h)
	fillBackground(dc, backgroundHex)

	imgs := limiter.Map(ctx, layers, c.staticLimit, func(ctx context.Context, l Layer) (image.Image, error) {
		if l.URL == "" {
			return nil, fmt.Errorf("layer has no source url")
		}
		return c.load(ctx, l.URL)
	})

	for i, l := range layers {
		if imgs[i] == nil {
			continue
		}
		drawInRect(dc, *imgs[i], l.Rect, w, h)
	}

	return encodePNG(dc.Image())
}

// load fetches and decodes one bitmap.
func (c *Compositor) load(ctx context.Context, url string) (image.Image, error) {
	b, err := c.fetcher.FetchWithFallback(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.decoder.Decode(url, b)
}

// drawInRect blits img into the rect, scaling when the rect size
// differs from the bitmap. A nil rect or zero dimensions mean the full
// canvas; missing x/y default to 0.
func drawInRect(dc *gg.Context, img image.Image, rect *model.Rect, canvasW, canvasH int) {
	x, y, w, h := 0, 0, canvasW, canvasH
	if rect != nil {
		x, y = rect.X, rect.Y
		if rect.W > 0 {
			w = rect.W
		}
		if rect.H > 0 {
			h = rect.H
		}
	}

	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	dc.DrawImage(img, x, y)
}

var hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// fillBackground fills the canvas with the given hex color. Invalid
// colors are ignored silently.
func fillBackground(dc *gg.Context, hex string) {
	if !hexColor.MatchString(hex) {
		return
	}
	dc.SetHexColor(hex)
	dc.Clear()
}

// clearCanvas resets every pixel to fully transparent.
func clearCanvas(dc *gg.Context) {
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
