package resolve

import (
	"regexp"
	"strings"

	"github.com/petbotlabs/room-render/internal/model"
)

// Canonical layer types. Aliases in underscore, dash and camelCase
// notation all normalize to these.
const (
	TypeBackground     = "background"
	TypeRoomBg         = "room-bg"
	TypeFloor          = "floor"
	TypeFurniture      = "furniture"
	TypeWallpaperLeft  = "wallpaper-left"
	TypeWallpaperRight = "wallpaper-right"
	TypeStatic         = "static"
	TypePetGifFrames   = "pet_gif_frames"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single dash, trimming leading and trailing dashes.
func Slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// NormalizeType maps a layer type in any recognized notation to its
// canonical form. Unknown types are returned collapsed so that equal
// aliases of an unknown type still fingerprint identically.
func NormalizeType(t string) string {
	switch collapse(t) {
	case "background":
		return TypeBackground
	case "roombg":
		return TypeRoomBg
	case "floor":
		return TypeFloor
	case "furniture":
		return TypeFurniture
	case "wallpaperleft":
		return TypeWallpaperLeft
	case "wallpaperright":
		return TypeWallpaperRight
	case "static":
		return TypeStatic
	case "petgifframes":
		return TypePetGifFrames
	default:
		return collapse(t)
	}
}

// collapse strips separators so "room_bg", "room-bg" and "roomBg" compare equal.
func collapse(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "_", "")
	t = strings.ReplaceAll(t, "-", "")
	return t
}

// Resolver derives asset URLs for typed layers from the CDN base URL.
type Resolver struct {
	base string
}

// New creates a Resolver for the given asset base URL.
func New(baseURL string) *Resolver {
	return &Resolver{base: strings.TrimRight(baseURL, "/")}
}

// URLFor returns the CDN URL for a typed layer. Layers carrying an
// explicit URL are returned as-is. The second return is false when no
// URL can be derived; such layers are dropped by the planner.
func (r *Resolver) URLFor(l model.Layer) (string, bool) {
	if l.URL != "" {
		return l.URL, true
	}

	switch NormalizeType(l.Type) {
	case TypeBackground:
		return r.base + "/backgrounds/default.png", true
	case TypeRoomBg:
		slug := Slugify(l.Key)
		if slug == "" {
			slug = "default"
		}
		return r.base + "/backgrounds/" + slug + ".png", true
	case TypeFloor:
		return r.typed("/floor/", l.Key)
	case TypeFurniture:
		return r.typed("/furniture/", l.Key)
	case TypeWallpaperLeft:
		return r.typed("/wallpaper/left/", l.Key)
	case TypeWallpaperRight:
		return r.typed("/wallpaper/right/", l.Key)
	default:
		return "", false
	}
}

func (r *Resolver) typed(prefix, key string) (string, bool) {
	slug := Slugify(key)
	if slug == "" {
		return "", false
	}
	return r.base + prefix + slug + ".png", true
}
