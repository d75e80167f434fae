package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Ingestion configuration
	SourcesDir     string
	UploadsDir     string
	LogFile        string
	RunConcurrency int
	RunTimeout     int

	// Server configuration
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// One-shot mode
	RunOnce    bool
	SourceName string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) GetRunTimeout() time.Duration {
	if c.RunTimeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.RunTimeout) * time.Second
}

func (c *Cfg) GetSchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}
