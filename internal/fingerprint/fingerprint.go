package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/petbotlabs/room-render/internal/model"
	"github.com/petbotlabs/room-render/internal/resolve"
)

// Defaults applied during normalization. They are part of the hashed
// representation, so a payload that spells a default out explicitly
// fingerprints the same as one that omits it.
const (
	DefaultWidth   = 300
	DefaultHeight  = 300
	DefaultDelayMs = 180
	DefaultQuality = 10
)

// Normalized mirrors of the payload types. Field order is fixed, so
// json.Marshal produces a canonical serialization.
type normRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type normFrame struct {
	URL  string   `json:"url"`
	Rect normRect `json:"rect"`
}

type normLayer struct {
	Type   string      `json:"type"`
	Key    string      `json:"key"`
	URL    string      `json:"url"`
	Rect   normRect    `json:"rect"`
	Frames []normFrame `json:"frames,omitempty"`
}

type normGif struct {
	DelayMs             int    `json:"delayMs"`
	Repeat              int    `json:"repeat"`
	Quality             int    `json:"quality"`
	Transparent         bool   `json:"transparent"`
	TransparentColorHex string `json:"transparentColorHex"`
	BackgroundColorHex  string `json:"backgroundColorHex"`
}

type normJob struct {
	Width              int         `json:"width"`
	Height             int         `json:"height"`
	Format             string      `json:"format"`
	BackgroundColorHex string      `json:"backgroundColorHex"`
	Layers             []normLayer `json:"layers"`
	Gif                normGif     `json:"gif"`
}

// Compute returns the SHA-1 hex of the canonical serialization of job.
// Only fields that affect pixels participate: size, layers in input
// order, format, background color and GIF options. Guild, user and
// unknown fields do not.
func Compute(job model.Job) string {
	w, h := job.Size.Width, job.Size.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}

	canvas := normRect{X: 0, Y: 0, W: w, H: h}

	n := normJob{
		Width:              w,
		Height:             h,
		Format:             strings.ToLower(job.Format),
		BackgroundColorHex: strings.ToLower(job.BackgroundColorHex),
		Layers:             make([]normLayer, 0, len(job.Layers)),
		Gif:                normGifOptions(job.GifOptions),
	}

	for _, l := range job.Layers {
		rect := normalizeRect(l.Rect, canvas)
		nl := normLayer{
			Type: resolve.NormalizeType(l.Type),
			Key:  strings.ToLower(l.Key),
			URL:  l.URL,
			Rect: rect,
		}
		for _, f := range l.Frames {
			nl.Frames = append(nl.Frames, normFrame{
				URL:  f.URL,
				Rect: normalizeRect(f.Rect, rect),
			})
		}
		n.Layers = append(n.Layers, nl)
	}

	data, _ := json.Marshal(n)
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// normalizeRect coerces a rect against its fallback: a layer rect falls
// back to the canvas, a frame rect to its layer rect.
func normalizeRect(r *model.Rect, fallback normRect) normRect {
	if r == nil {
		return fallback
	}
	out := normRect{X: r.X, Y: r.Y, W: r.W, H: r.H}
	if out.W <= 0 {
		out.W = fallback.W
	}
	if out.H <= 0 {
		out.H = fallback.H
	}
	return out
}

func normGifOptions(o *model.GifOptions) normGif {
	var g normGif
	if o != nil {
		g = normGif{
			DelayMs:             o.DelayMs,
			Quality:             o.Quality,
			Transparent:         o.Transparent,
			TransparentColorHex: strings.ToLower(o.TransparentColorHex),
			BackgroundColorHex:  strings.ToLower(o.BackgroundColorHex),
		}
		if o.Repeat != nil {
			g.Repeat = *o.Repeat
		}
	}
	if g.DelayMs <= 0 {
		g.DelayMs = DefaultDelayMs
	}
	if g.Quality <= 0 {
		g.Quality = DefaultQuality
	}
	return g
}
