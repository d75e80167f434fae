package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBDriver   string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" description:"Database driver"`
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/events.db" description:"SQLite database file"`
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host (postgres)"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port (postgres)"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"events_user" description:"Database user (postgres)"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" description:"Database password (postgres)"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"event_comb" description:"Database name (postgres)"`

	// Ingestion configuration
	SourcesDir     string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	UploadsDir     string `long:"uploads-dir" env:"UPLOADS_DIR" default:"uploads/scraped" description:"Directory for cached event images"`
	LogFile        string `long:"log-file" env:"RUN_LOG_FILE" default:"./data/ingest.log" description:"Append-only run log file"`
	RunConcurrency int    `long:"run-concurrency" env:"RUN_CONCURRENCY" default:"1" description:"Sources executed in parallel by a batch run (1 = sequential)"`
	RunTimeout     int    `long:"run-timeout" env:"RUN_TIMEOUT" default:"600" description:"Wall-clock limit for a batch run in seconds"`

	// Server configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers for scheduled runs"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Scheduler interval in seconds (0 disables scheduled runs)"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// One-shot mode
	RunOnce    bool   `long:"run-once" description:"Run sources once, print the report and exit"`
	SourceName string `long:"source" description:"Restrict --run-once to a single source name"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Event Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"Europe/Rome" description:"Local time zone every event time is expressed in"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBDriver:          raw.DBDriver,
		DBPath:            raw.DBPath,
		DBHost:            raw.DBHost,
		DBPort:            raw.DBPort,
		DBUser:            raw.DBUser,
		DBPassword:        raw.DBPassword,
		DBName:            raw.DBName,
		SourcesDir:        raw.SourcesDir,
		UploadsDir:        raw.UploadsDir,
		LogFile:           raw.LogFile,
		RunConcurrency:    max(raw.RunConcurrency, 1),
		RunTimeout:        raw.RunTimeout,
		Port:              raw.Port,
		WorkerCount:       max(raw.WorkerCount, 1),
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		RunOnce:           raw.RunOnce,
		SourceName:        raw.SourceName,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if cfg.SourceName != "" && !cfg.RunOnce {
		return nil, fmt.Errorf("--source requires --run-once")
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// DSN returns the data source name for the configured driver.
func (c *Cfg) DSN() string {
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
	}
	return c.DBPath
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
