// Package images downloads remote event images into local storage so events
// keep their picture when the origin site removes it.
package images

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lysyi3m/event-comb/app/metrics"
)

const (
	maxImageSize     = 15 << 20
	defaultExtension = ".jpg"
)

// ErrImageTooLarge is returned instead of storing a truncated image.
var ErrImageTooLarge = errors.New("image exceeds size limit")

// IsRemote reports whether image is an absolute or protocol-relative URL.
func IsRemote(image string) bool {
	return strings.HasPrefix(image, "http://") ||
		strings.HasPrefix(image, "https://") ||
		strings.HasPrefix(image, "//")
}

// IsLocal reports whether image is a path into local storage.
func IsLocal(image string) bool {
	return image != "" && !IsRemote(image)
}

type Cache struct {
	dir       string
	client    *http.Client
	userAgent string
	metrics   *metrics.Metrics
	maxSize   int64
}

func NewCache(dir string, client *http.Client, userAgent string, m *metrics.Metrics) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		dir:       dir,
		client:    client,
		userAgent: userAgent,
		metrics:   m,
		maxSize:   maxImageSize,
	}
}

// Resolve returns the local path of the image at rawURL, downloading it on
// the first request.
func (c *Cache) Resolve(ctx context.Context, rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	if !IsRemote(rawURL) {
		return "", fmt.Errorf("not a remote image URL: %q", rawURL)
	}

	hash := hashURL(rawURL)

	if cached, ok := c.lookup(hash); ok {
		c.metrics.ImageCache(true)
		return cached, nil
	}
	c.metrics.ImageCache(false)

	data, err := c.download(ctx, rawURL)
	if err != nil {
		return "", err
	}

	ext := extension(data, rawURL)
	target := filepath.Join(c.dir, hash+ext)

	if err := c.write(target, data); err != nil {
		return "", err
	}

	slog.Debug("Image cached", "url", rawURL, "path", target, "size", len(data))

	return filepath.ToSlash(target), nil
}

func (c *Cache) lookup(hash string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(c.dir, hash+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return filepath.ToSlash(matches[0]), true
}

func (c *Cache) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, c.maxSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image response")
	}

	return data, nil
}

// write stores data through a temp file and rename so readers never observe
// a partial image.
func (c *Cache) write(target string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}

	return nil
}

func hashURL(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func extension(data []byte, rawURL string) string {
	mtype := mimetype.Detect(data)
	if strings.HasPrefix(mtype.String(), "image/") && mtype.Extension() != "" {
		return mtype.Extension()
	}

	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}

	return defaultExtension
}
