package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30s" or "2m" in config files
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration the way it is parsed
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the application configuration
type Config struct {
	Server     Server     `yaml:"server" toml:"server"`
	Database   Database   `yaml:"database" toml:"database"`
	Pool       Pool       `yaml:"pool" toml:"pool"`
	Scheduler  Scheduler  `yaml:"scheduler" toml:"scheduler"`
	Controller Controller `yaml:"controller" toml:"controller"`
	Processor  Processor  `yaml:"processor" toml:"processor"`
	Logging    Logging    `yaml:"logging" toml:"logging"`
}

// Server contains HTTP listener settings
type Server struct {
	Port            string   `yaml:"port" toml:"port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Database configures the optional job archive. An empty URL disables it.
type Database struct {
	Driver string `yaml:"driver" toml:"driver"` // postgres or sqlite
	URL    string `yaml:"url" toml:"url"`
}

// Pool sizes the worker pool
type Pool struct {
	Size           int   `yaml:"size" toml:"size"`
	MinSize        int   `yaml:"min_size" toml:"min_size"`
	MaxSize        int   `yaml:"max_size" toml:"max_size"`
	CapabilitySeed int64 `yaml:"capability_seed" toml:"capability_seed"` // 0 seeds from the clock
}

// Scheduler bounds the concurrency ceiling
type Scheduler struct {
	MinCeiling      int `yaml:"min_ceiling" toml:"min_ceiling"`
	MaxCeiling      int `yaml:"max_ceiling" toml:"max_ceiling"`
	InitialCeiling  int `yaml:"initial_ceiling" toml:"initial_ceiling"`
	StreamThreshold int `yaml:"stream_threshold" toml:"stream_threshold"`
}

// Controller sets the autonomous controller cadence and thresholds
type Controller struct {
	HealthInterval       Duration `yaml:"health_interval" toml:"health_interval"`
	OptimizeInterval     Duration `yaml:"optimize_interval" toml:"optimize_interval"`
	PredictiveInterval   Duration `yaml:"predictive_interval" toml:"predictive_interval"`
	Window               Duration `yaml:"window" toml:"window"`
	HistoricalThroughput float64  `yaml:"historical_throughput" toml:"historical_throughput"`
	ThroughputDropRatio  float64  `yaml:"throughput_drop_ratio" toml:"throughput_drop_ratio"`
	UtilizationHigh      float64  `yaml:"utilization_high" toml:"utilization_high"`
	UtilizationLow       float64  `yaml:"utilization_low" toml:"utilization_low"`
	ErrorRateThreshold   float64  `yaml:"error_rate_threshold" toml:"error_rate_threshold"`
	ScaleUpBacklog       int      `yaml:"scale_up_backlog" toml:"scale_up_backlog"`
}

// Processor tunes chunk execution
type Processor struct {
	ChunkTimeout Duration `yaml:"chunk_timeout" toml:"chunk_timeout"`
}

// Logging configures the slog logger
type Logging struct {
	Level       string   `yaml:"level" toml:"level"`
	Format      string   `yaml:"format" toml:"format"`
	OutputPaths []string `yaml:"output_paths" toml:"output_paths"`
}

// Default returns the reference configuration
func Default() *Config {
	return &Config{
		Server: Server{
			Port:            "8080",
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: Database{
			Driver: "postgres",
		},
		Pool: Pool{
			Size:    4,
			MinSize: 4,
			MaxSize: 16,
		},
		Scheduler: Scheduler{
			MinCeiling:      4,
			MaxCeiling:      16,
			InitialCeiling:  8,
			StreamThreshold: 20,
		},
		Controller: Controller{
			HealthInterval:      Duration(10 * time.Second),
			OptimizeInterval:    Duration(30 * time.Second),
			PredictiveInterval:  Duration(2 * time.Minute),
			Window:              Duration(time.Hour),
			ThroughputDropRatio: 0.8,
			UtilizationHigh:     0.9,
			UtilizationLow:      0.25,
			ErrorRateThreshold:  0.1,
			ScaleUpBacklog:      5,
		},
		Processor: Processor{
			ChunkTimeout: Duration(2 * time.Minute),
		},
		Logging: Logging{
			Level:       "info",
			Format:      "auto",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Load reads the optional config file over the defaults, applies environment
// overrides and validates the result. The file format follows its extension.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		default:
			return nil, fmt.Errorf("config %s: unsupported file extension", path)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	if v := os.Getenv("POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POOL_SIZE: %w", err)
		}
		c.Pool.Size = n
	}
	return nil
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must be set")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
	if c.Pool.MinSize < 1 {
		return errors.New("pool.min_size must be at least 1")
	}
	if c.Pool.MaxSize < c.Pool.MinSize {
		return errors.New("pool.max_size must not be below pool.min_size")
	}
	if c.Pool.Size < c.Pool.MinSize || c.Pool.Size > c.Pool.MaxSize {
		return fmt.Errorf("pool.size %d must be within [%d, %d]", c.Pool.Size, c.Pool.MinSize, c.Pool.MaxSize)
	}
	if c.Scheduler.MinCeiling < 1 || c.Scheduler.MaxCeiling < c.Scheduler.MinCeiling {
		return fmt.Errorf("scheduler ceiling bounds [%d, %d] are invalid", c.Scheduler.MinCeiling, c.Scheduler.MaxCeiling)
	}
	if c.Scheduler.StreamThreshold < 0 {
		return errors.New("scheduler.stream_threshold must not be negative")
	}
	if c.Controller.ThroughputDropRatio < 0 || c.Controller.ThroughputDropRatio > 1 {
		return errors.New("controller.throughput_drop_ratio must be between 0 and 1")
	}
	if c.Controller.UtilizationLow > c.Controller.UtilizationHigh {
		return errors.New("controller.utilization_low must not exceed controller.utilization_high")
	}
	if c.Processor.ChunkTimeout < 0 {
		return errors.New("processor.chunk_timeout must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
