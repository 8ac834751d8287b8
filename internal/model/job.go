package model

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job is created pending and moves to exactly one
// terminal status.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusError   = "error"
)

// Output formats.
const (
	FormatGIF = "gif"
	FormatPNG = "png"
)

// Size is the output canvas size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect is the blit destination of a layer on the output canvas.
// Zero W/H means "full canvas"; missing X/Y default to 0.
type Rect struct {
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`
	W int `json:"w,omitempty"`
	H int `json:"h,omitempty"`
}

// Frame is a single frame of an animated layer.
type Frame struct {
	URL  string `json:"url"`
	Rect *Rect  `json:"rect,omitempty"` // falls back to the layer rect
}

// Layer is one element of the composition, drawn in declaration order.
// Either Key (resolved against the asset CDN), URL (explicit source) or
// Frames (animated layer) identifies the pixels.
type Layer struct {
	Type   string  `json:"type"`
	Key    string  `json:"key,omitempty"`
	URL    string  `json:"url,omitempty"`
	Rect   *Rect   `json:"rect,omitempty"`
	Frames []Frame `json:"frames,omitempty"`
}

// Animated reports whether the layer declares an ordered frame list.
func (l Layer) Animated() bool {
	return len(l.Frames) > 0
}

// GifOptions tune the animated output encoder.
type GifOptions struct {
	DelayMs             int    `json:"delayMs,omitempty"`
	Repeat              *int   `json:"repeat,omitempty"` // 0 = infinite
	Quality             int    `json:"quality,omitempty"`
	Transparent         bool   `json:"transparent,omitempty"`
	TransparentColorHex string `json:"transparentColorHex,omitempty"`
	BackgroundColorHex  string `json:"backgroundColorHex,omitempty"`
}

// Job is the declarative render request accepted on submit.
// Guild and User are opaque caller identifiers; they never affect pixels.
type Job struct {
	Guild              string      `json:"guild"`
	User               string      `json:"user"`
	Size               Size        `json:"size"`
	Format             string      `json:"format,omitempty"` // "gif", "png" or absent
	Layers             []Layer     `json:"layers"`
	GifOptions         *GifOptions `json:"gifOptions,omitempty"`
	BackgroundColorHex string      `json:"backgroundColorHex,omitempty"`
}

// Record is the registry-owned state of a submitted job.
type Record struct {
	ID         uuid.UUID  `json:"id"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	URL        string     `json:"url,omitempty"`
	Format     string     `json:"format,omitempty"`
	Error      string     `json:"error,omitempty"`
	Payload    Job        `json:"payload"`
}

// Terminal reports whether the record reached a final status.
func (r Record) Terminal() bool {
	return r.Status == StatusDone || r.Status == StatusError
}
