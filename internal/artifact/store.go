package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/petbotlabs/room-render/internal/model"
	"github.com/petbotlabs/room-render/internal/obs"
)

// artifactName matches <sha1-hex>.<gif|png>, the only files the store
// ever produces or serves.
var artifactName = regexp.MustCompile(`^[0-9a-f]{40}\.(gif|png)$`)

// Store is the content-addressed on-disk artifact cache. Files are
// named <fingerprint>.<ext> and immutable once written; writes are
// idempotent because identical fingerprints produce identical bytes.
type Store struct {
	dir     string
	baseURL string
	mirror  *Mirror // optional replica, may be nil
}

// NewStore creates a Store rooted at dir. URLs are composed against
// publicBaseURL. The mirror may be nil.
func NewStore(dir, publicBaseURL string, mirror *Mirror) *Store {
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		mirror:  mirror,
	}
}

// Lookup probes for <fp>.gif then <fp>.png; the first hit wins. On a
// local miss with a mirror configured, the mirror is probed and a hit
// is restored to disk before being reported.
func (s *Store) Lookup(ctx context.Context, fp string) (url, format string, ok bool) {
	for _, ext := range []string{model.FormatGIF, model.FormatPNG} {
		name := fp + "." + ext
		if _, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			obs.RecordArtifactLookup(true)
			return s.URL(fp, ext), ext, true
		}
	}

	if s.mirror != nil {
		for _, ext := range []string{model.FormatGIF, model.FormatPNG} {
			name := fp + "." + ext
			if err := s.mirror.Restore(ctx, name, filepath.Join(s.dir, name)); err == nil {
				zlog.Logger.Info().Str("artifact", name).Msg("restored artifact from mirror")
				obs.RecordArtifactLookup(true)
				return s.URL(fp, ext), ext, true
			}
		}
	}

	obs.RecordArtifactLookup(false)
	return "", "", false
}

// Write stores the artifact atomically (temp file plus rename) and
// returns its public URL. The output directory is created lazily. A
// configured mirror receives a best-effort replica.
func (s *Store) Write(ctx context.Context, fp, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := fp + "." + ext
	tmp, err := os.CreateTemp(s.dir, name+".*")
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, name, data); err != nil {
			zlog.Logger.Warn().Err(err).Str("artifact", name).Msg("failed to mirror artifact")
		}
	}

	return s.URL(fp, ext), nil
}

// URL composes the stable public URL of an artifact.
func (s *Store) URL(fp, ext string) string {
	return fmt.Sprintf("%s/out/%s.%s", s.baseURL, fp, ext)
}

// Path maps a requested file name onto the artifact directory. Names
// that are not well-formed artifact names are rejected, which also
// rules out path traversal.
func (s *Store) Path(name string) (string, bool) {
	if !artifactName.MatchString(name) {
		return "", false
	}
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}
