package source

import (
	"fmt"
	"time"
)

type Config struct {
	Name      string    // Derived from filename (without .yml extension)
	URL       string    `yaml:"url"`
	Adapter   string    `yaml:"adapter"`
	Active    *bool     `yaml:"active"` // defaults to true
	Settings  Settings  `yaml:"settings"`
	Selectors Selectors `yaml:"selectors"`
}

type Settings struct {
	Timeout            int     `yaml:"timeout"`          // seconds
	RefreshInterval    int     `yaml:"refresh_interval"` // seconds
	DefaultTime        string  `yaml:"default_time"`     // HH:MM applied to date-only events
	CacheImages        *bool   `yaml:"cache_images"`     // defaults to true
	ExtractDescription bool    `yaml:"extract_description"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
}

// Selectors drive the generic HTML adapter. Attr fields name the attribute to
// read instead of the element text.
type Selectors struct {
	Item        string `yaml:"item"`
	Title       string `yaml:"title"`
	Date        string `yaml:"date"`
	DateAttr    string `yaml:"date_attr"`
	DateLayout  string `yaml:"date_layout"`
	EndDate     string `yaml:"end_date"`
	EndDateAttr string `yaml:"end_date_attr"`
	URL         string `yaml:"url"`
	Image       string `yaml:"image"`
	ImageAttr   string `yaml:"image_attr"`
	Description string `yaml:"description"`
	Location    string `yaml:"location"`
	Category    string `yaml:"category"`
}

func (c *Config) IsActive() bool {
	return c.Active == nil || *c.Active
}

func (s *Settings) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s *Settings) GetRefreshInterval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

func (s *Settings) ShouldCacheImages() bool {
	return s.CacheImages == nil || *s.CacheImages
}

// DefaultClock returns the hour and minute applied to events published
// without a time of day.
func (s *Settings) DefaultClock() (int, int, error) {
	t, err := time.Parse("15:04", s.DefaultTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid default time %q: %w", s.DefaultTime, err)
	}
	return t.Hour(), t.Minute(), nil
}
