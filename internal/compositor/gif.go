package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"strconv"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/fogleman/gg"

	"github.com/petbotlabs/room-render/internal/fingerprint"
	"github.com/petbotlabs/room-render/internal/limiter"
	"github.com/petbotlabs/room-render/internal/model"
)

// resolvedLayer is a layer with its pixels loaded. Static layers carry
// img; animated layers carry the surviving frames in declaration order.
type resolvedLayer struct {
	rect   *model.Rect
	img    image.Image
	frames []frameBitmap
}

type frameBitmap struct {
	img  image.Image
	rect *model.Rect
}

// ComposeGIF renders an animated raster of w×h pixels. The frame count
// is the longest surviving animated layer; shorter animations loop via
// modular indexing. When no animated layer survives loading, the
// composition downgrades to a single PNG.
func (c *Compositor) ComposeGIF(ctx context.Context, w, h int, layers []Layer, opts model.GifOptions) (*Result, error) {
	resolved := limiter.Map(ctx, layers, c.staticLimit, func(ctx context.Context, l Layer) (resolvedLayer, error) {
		return c.resolveLayer(ctx, l)
	})

	frameCount := 0
	for _, r := range resolved {
		if r != nil && len(r.frames) > frameCount {
			frameCount = len(r.frames)
		}
	}

	if frameCount == 0 {
		data, err := c.ComposePNG(ctx, w, h, layers, opts.BackgroundColorHex)
		if err != nil {
			return nil, err
		}
		return &Result{Format: model.FormatPNG, Data: data}, nil
	}

	enc := newGifEncoder(opts)
	dc := gg.NewContext(w, h)

	for i := 0; i < frameCount; i++ {
		fillBackground(dc, opts.BackgroundColorHex)

		for _, r := range resolved {
			if r == nil {
				continue
			}
			switch {
			case len(r.frames) > 0:
				f := r.frames[i%len(r.frames)]
				drawInRect(dc, f.img, f.rect, w, h)
			case r.img != nil:
				drawInRect(dc, r.img, r.rect, w, h)
			}
		}

		enc.addFrame(dc.Image())
		clearCanvas(dc)
	}

	data, err := enc.encode()
	if err != nil {
		return nil, err
	}
	return &Result{Format: model.FormatGIF, Data: data}, nil
}

// resolveLayer loads a layer's pixels. For animated layers every frame
// is fetched in parallel, bounded by the frame concurrency, preserving
// order; frames that fail to load are dropped. A layer whose frames all
// fail resolves as empty and is skipped.
func (c *Compositor) resolveLayer(ctx context.Context, l Layer) (resolvedLayer, error) {
	if !l.Animated() {
		if l.URL == "" {
			return resolvedLayer{}, fmt.Errorf("layer has no source url")
		}
		img, err := c.load(ctx, l.URL)
		if err != nil {
			return resolvedLayer{}, err
		}
		return resolvedLayer{rect: l.Rect, img: img}, nil
	}

	loaded := limiter.Map(ctx, l.Frames, c.frameLimit, func(ctx context.Context, f Frame) (image.Image, error) {
		return c.load(ctx, f.URL)
	})

	out := resolvedLayer{rect: l.Rect}
	for i, img := range loaded {
		if img == nil {
			continue
		}
		rect := l.Frames[i].Rect
		if rect == nil {
			rect = l.Rect
		}
		out.frames = append(out.frames, frameBitmap{img: *img, rect: rect})
	}

	if len(out.frames) == 0 {
		return resolvedLayer{}, fmt.Errorf("all %d frames failed to load", len(l.Frames))
	}
	return out, nil
}

// gifEncoder accumulates frames and writes the final GIF stream with a
// per-frame quantized palette.
type gifEncoder struct {
	g           *gif.GIF
	delay       int // hundredths of a second
	quantizer   quantize.MedianCutQuantizer
	transparent bool
	transColor  color.NRGBA
	hasTrans    bool
}

func newGifEncoder(opts model.GifOptions) *gifEncoder {
	delayMs := opts.DelayMs
	if delayMs <= 0 {
		delayMs = fingerprint.DefaultDelayMs
	}

	repeat := 0
	if opts.Repeat != nil {
		repeat = *opts.Repeat
	}

	e := &gifEncoder{
		g:           &gif.GIF{LoopCount: repeat},
		delay:       delayMs / 10,
		transparent: opts.Transparent,
		quantizer:   quantize.MedianCutQuantizer{AddTransparent: opts.Transparent},
	}
	if opts.Transparent {
		if c, ok := parseHexRGB(opts.TransparentColorHex); ok {
			e.transColor = c
			e.hasTrans = true
		}
	}
	return e
}

func (e *gifEncoder) addFrame(img image.Image) {
	bounds := img.Bounds()
	pal := e.quantizer.Quantize(make(color.Palette, 0, 256), img)
	frame := image.NewPaletted(bounds, pal)
	draw.FloydSteinberg.Draw(frame, bounds, img, bounds.Min)

	if e.hasTrans {
		e.applyTransparency(frame, img)
	}

	e.g.Image = append(e.g.Image, frame)
	e.g.Delay = append(e.g.Delay, e.delay)
	e.g.Disposal = append(e.g.Disposal, gif.DisposalBackground)
}

// applyTransparency maps every pixel matching the configured color to
// the palette's fully transparent entry, if one exists.
func (e *gifEncoder) applyTransparency(frame *image.Paletted, src image.Image) {
	transIdx := -1
	for i, c := range frame.Palette {
		if _, _, _, a := c.RGBA(); a == 0 {
			transIdx = i
			break
		}
	}
	if transIdx < 0 {
		return
	}

	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if c.R == e.transColor.R && c.G == e.transColor.G && c.B == e.transColor.B {
				frame.SetColorIndex(x, y, uint8(transIdx))
			}
		}
	}
}

func (e *gifEncoder) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, e.g); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

// parseHexRGB parses "#RRGGBB" into an opaque color.
func parseHexRGB(s string) (color.NRGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, true
}
