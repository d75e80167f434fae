// Package adapter defines the contract between site-specific scrapers and the
// ingestion core, and ships two configuration-driven implementations.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/event-comb/app/source"
)

var ErrUnknownAdapter = errors.New("unknown adapter")

// Candidate is an unvalidated event record as scraped from a source.
type Candidate struct {
	Title       string
	Description string
	Start       time.Time
	End         *time.Time
	DateOnly    bool // Start carries no time of day
	Category    string
	Location    string
	ImageURL    string
	URL         string
}

type Request struct {
	Name      string
	URL       string
	Location  *time.Location
	Settings  source.Settings
	Selectors source.Selectors
}

type Result struct {
	Candidates []Candidate
	Warnings   []string
}

func (r *Result) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Adapter fetches one source. A returned error aborts that source's run only;
// recoverable per-item problems belong in Result.Warnings. Adapters must not
// touch the event store.
type Adapter interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// ConfigValidator is implemented by adapters that need source settings beyond
// the URL.
type ConfigValidator interface {
	ValidateConfig(sourceConfig *source.Config) error
}

func NewRequest(sourceConfig *source.Config) Request {
	return Request{
		Name:      sourceConfig.Name,
		URL:       sourceConfig.URL,
		Location:  time.Local,
		Settings:  sourceConfig.Settings,
		Selectors: sourceConfig.Selectors,
	}
}

type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// NewDefaultRegistry registers the built-in adapters.
func NewDefaultRegistry(fetcher *Fetcher) *Registry {
	r := NewRegistry()
	r.Register("rss", NewRSSAdapter(fetcher))
	r.Register("html", NewHTMLAdapter(fetcher))
	return r
}

func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

func (r *Registry) Resolve(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate fails on the first adapter name that is not registered.
func (r *Registry) Validate(names ...string) error {
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConfig checks that the adapter of sourceConfig is registered and
// accepts its settings. Registry satisfies source.Validator.
func (r *Registry) ValidateConfig(sourceConfig *source.Config) error {
	if err := r.Validate(sourceConfig.Adapter); err != nil {
		return err
	}

	a, err := r.Resolve(sourceConfig.Adapter)
	if err != nil {
		return err
	}
	if v, ok := a.(ConfigValidator); ok {
		return v.ValidateConfig(sourceConfig)
	}
	return nil
}
