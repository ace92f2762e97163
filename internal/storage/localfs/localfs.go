// Package localfs stores media blobs on the local filesystem under a
// configured base directory.
package localfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/elsehu/supportdesk/internal/storage"
)

// Provider writes blobs under BasePath. Keys are slash-separated relative
// paths, safe to store in the database and use in URLs.
type Provider struct {
	basePath string
	log      *slog.Logger
}

func New(log *slog.Logger, basePath string) (*Provider, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage base path: %w", err)
	}
	return &Provider{
		basePath: abs,
		log:      log.With(slog.String("service", "storage")),
	}, nil
}

func (p *Provider) Save(ctx context.Context, params storage.SaveParams) (storage.SavedFile, error) {
	sub, err := sanitizeSubdirectory(params.Subdirectory)
	if err != nil {
		return storage.SavedFile{}, err
	}

	dir := filepath.Join(p.basePath, filepath.FromSlash(sub))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.SavedFile{}, err
	}

	filename := generateFilename(params.OriginalName)
	if err := os.WriteFile(filepath.Join(dir, filename), params.Data, 0o644); err != nil {
		return storage.SavedFile{}, err
	}

	key := path.Join(sub, filename)
	p.log.Debug("file saved", slog.String("key", key), slog.Int("size", len(params.Data)))

	size := len(params.Data)
	if size > math.MaxInt32 {
		size = math.MaxInt32
	}
	return storage.SavedFile{Key: key, Size: int32(size)}, nil
}

func (p *Provider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := p.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	return f, err
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	full, err := p.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if os.IsNotExist(err) {
		return storage.ErrNotFound
	}
	return err
}

// resolve maps a key to an absolute path, refusing anything that would
// escape the base directory.
func (p *Provider) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", storage.ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", storage.ErrInvalidKey
	}
	return filepath.Join(p.basePath, filepath.FromSlash(cleaned)), nil
}

func sanitizeSubdirectory(sub string) (string, error) {
	sub = strings.Trim(sub, "/")
	if sub == "" {
		return "", nil
	}
	cleaned := path.Clean(sub)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", storage.ErrInvalidKey
	}
	return cleaned, nil
}

// generateFilename prefixes a timestamp and strips anything that is not
// filesystem-safe, keeping the original extension.
func generateFilename(originalName string) string {
	timestamp := strings.NewReplacer(":", "-", ".", "-").
		Replace(time.Now().UTC().Format(time.RFC3339Nano))

	base := path.Base(originalName)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	safe := b.String()
	if strings.Trim(safe, "-") == "" {
		safe = "file"
	}
	return timestamp + "-" + safe + sanitizeExt(ext)
}

func sanitizeExt(ext string) string {
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}
