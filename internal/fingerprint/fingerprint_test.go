package fingerprint

import (
	"testing"

	"github.com/petbotlabs/room-render/internal/model"
)

func baseJob() model.Job {
	return model.Job{
		Guild: "g",
		User:  "u",
		Size:  model.Size{Width: 300, Height: 300},
		Layers: []model.Layer{
			{Type: "background", Key: "default"},
			{Type: "floor", Key: "Wood 01"},
		},
	}
}

func TestIgnoresCallerIdentity(t *testing.T) {
	a := baseJob()
	b := baseJob()
	b.Guild = "other-guild"
	b.User = "other-user"

	if Compute(a) != Compute(b) {
		t.Error("guild and user must not affect the fingerprint")
	}
}

func TestLayerOrderMatters(t *testing.T) {
	a := baseJob()
	b := baseJob()
	b.Layers[0], b.Layers[1] = b.Layers[1], b.Layers[0]

	if Compute(a) == Compute(b) {
		t.Error("reordered layers must produce a different fingerprint")
	}
}

func TestTypeAliasesAgree(t *testing.T) {
	a := baseJob()
	a.Layers = []model.Layer{{Type: "room_bg", Key: "sky"}}
	b := baseJob()
	b.Layers = []model.Layer{{Type: "roomBg", Key: "sky"}}

	if Compute(a) != Compute(b) {
		t.Error("type aliases must fingerprint identically")
	}
}

func TestDefaultsAreCanonical(t *testing.T) {
	// Omitting the size equals spelling out the default.
	a := baseJob()
	a.Size = model.Size{}
	b := baseJob()
	b.Size = model.Size{Width: DefaultWidth, Height: DefaultHeight}

	if Compute(a) != Compute(b) {
		t.Error("omitted size must equal the explicit default")
	}

	// Same for GIF options.
	c := baseJob()
	c.GifOptions = nil
	d := baseJob()
	repeat := 0
	d.GifOptions = &model.GifOptions{DelayMs: DefaultDelayMs, Repeat: &repeat, Quality: DefaultQuality}

	if Compute(c) != Compute(d) {
		t.Error("omitted gif options must equal the explicit defaults")
	}
}

func TestRectInheritance(t *testing.T) {
	// A frame without a rect inherits the layer rect; a layer without
	// a rect inherits the canvas.
	a := baseJob()
	a.Layers = []model.Layer{{
		Type: "pet_gif_frames",
		Rect: &model.Rect{X: 10, Y: 10, W: 50, H: 50},
		Frames: []model.Frame{
			{URL: "data:image/png;base64,AA=="},
		},
	}}
	b := baseJob()
	b.Layers = []model.Layer{{
		Type: "pet_gif_frames",
		Rect: &model.Rect{X: 10, Y: 10, W: 50, H: 50},
		Frames: []model.Frame{
			{URL: "data:image/png;base64,AA==", Rect: &model.Rect{X: 10, Y: 10, W: 50, H: 50}},
		},
	}}

	if Compute(a) != Compute(b) {
		t.Error("inherited frame rect must equal the explicit one")
	}
}

func TestGifOptionsAffectFingerprint(t *testing.T) {
	a := baseJob()
	b := baseJob()
	b.GifOptions = &model.GifOptions{DelayMs: 40}

	if Compute(a) == Compute(b) {
		t.Error("non-default delay must change the fingerprint")
	}
}
