package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxBodySize = 10 << 20

// ErrBodyTooLarge is returned instead of a truncated body.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

type Fetcher struct {
	client    *http.Client
	userAgent string
	maxSize   int64
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		}
	}
	return &Fetcher{client: client, userAgent: userAgent, maxSize: maxBodySize}
}

func (f *Fetcher) Client() *http.Client {
	return f.client
}

func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

// Get returns the body and Content-Type of a successful GET.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > f.maxSize {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxSize)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
