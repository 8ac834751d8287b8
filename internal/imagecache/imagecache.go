package imagecache

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"github.com/petbotlabs/room-render/internal/cache"
	"github.com/petbotlabs/room-render/internal/obs"
)

// Decoder turns asset bytes into bitmaps and keeps the decoded form in
// a TTL cache keyed by the source URL.
type Decoder struct {
	cache *cache.Cache[image.Image]
}

// New creates a Decoder whose cache holds maxItems decoded bitmaps.
func New(ttl time.Duration, maxItems int) *Decoder {
	return &Decoder{cache: cache.New[image.Image](ttl, maxItems)}
}

// Decode returns the bitmap for key, decoding data on a cache miss.
func (d *Decoder) Decode(key string, data []byte) (image.Image, error) {
	if img, ok := d.cache.Get(key); ok {
		obs.RecordCacheEvent("images", true)
		return img, nil
	}
	obs.RecordCacheEvent("images", false)

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	d.cache.Set(key, img)
	return img, nil
}
