package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/dep-population/internal/tile"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	Grid       tile.GridSpec    `yaml:"grid" mapstructure:"grid"`
	Boundaries BoundariesConfig `yaml:"boundaries" mapstructure:"boundaries"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DatasetConfig names the outputs and where they are written.
type DatasetConfig struct {
	// Destination is a gocloud.dev bucket URL: s3://, file:// or mem://.
	Destination string `yaml:"destination" mapstructure:"destination"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix"`
	Sensor      string `yaml:"sensor" mapstructure:"sensor"`
	DatasetID   string `yaml:"dataset_id" mapstructure:"dataset_id"`
	Version     string `yaml:"version" mapstructure:"version"`
	Datetime    string `yaml:"datetime" mapstructure:"datetime"`
}

// BoundariesConfig selects the territory boundary backend.
type BoundariesConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // shapefile or postgis
	Path        string `yaml:"path" mapstructure:"path"`     // .shp, .zip or http(s) URL
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	CodeField   string `yaml:"code_field" mapstructure:"code_field"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// SourcesConfig configures count-raster downloads.
type SourcesConfig struct {
	Registry    string  `yaml:"registry" mapstructure:"registry"` // optional YAML override
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second per host, 0 for default
}

// StoreConfig configures the task ledger.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres or none
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentTiles int `yaml:"max_concurrent_tiles" mapstructure:"max_concurrent_tiles"`
}

// MonitoringConfig configures ledger alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleTaskMinutes     int     `yaml:"stale_task_minutes" mapstructure:"stale_task_minutes"`
}

// ServerConfig configures the status and tile API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Validate checks settings that Load cannot default. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []string
	if err := c.Grid.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Boundaries.Driver {
	case "shapefile":
		if c.Boundaries.Path == "" {
			errs = append(errs, "boundaries.path is required for the shapefile driver")
		}
	case "postgis":
		if c.Boundaries.DatabaseURL == "" {
			errs = append(errs, "boundaries.database_url is required for the postgis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown boundaries driver %q", c.Boundaries.Driver))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	if c.Dataset.Destination == "" {
		errs = append(errs, "dataset.destination is required")
	}
	if c.Batch.MaxConcurrentTiles < 1 || c.Batch.MaxConcurrentTiles > 64 {
		errs = append(errs, "batch.max_concurrent_tiles must be between 1 and 64")
	}
	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if p := c.Server.Port; p < 0 || p > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from config.yaml and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	grid := tile.DefaultGridSpec()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("dataset.destination", "s3://dep-public-staging?region=us-west-2")
	v.SetDefault("dataset.bucket", "dep-public-staging")
	v.SetDefault("dataset.prefix", "dep")
	v.SetDefault("dataset.sensor", "pdhhdx")
	v.SetDefault("dataset.dataset_id", "population")
	v.SetDefault("dataset.version", "0.1.1")
	v.SetDefault("dataset.datetime", "2023_2025")
	v.SetDefault("grid.crs", grid.CRS)
	v.SetDefault("grid.resolution", grid.Resolution)
	v.SetDefault("grid.tile_size", grid.TileSize)
	v.SetDefault("grid.origin_x", grid.OriginX)
	v.SetDefault("grid.origin_y", grid.OriginY)
	v.SetDefault("boundaries.driver", "shapefile")
	v.SetDefault("boundaries.path", "data/gadm_pacific_level0.zip")
	v.SetDefault("boundaries.cache_dir", "/tmp/dep-population/boundaries")
	v.SetDefault("boundaries.table", "gadm_level0")
	v.SetDefault("boundaries.code_field", "GID_0")
	v.SetDefault("boundaries.max_conns", 4)
	v.SetDefault("sources.temp_dir", "/tmp/dep-population")
	v.SetDefault("sources.user_agent", "dep-population/1.0")
	v.SetDefault("sources.timeout_secs", 600)
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "dep-population.db")
	v.SetDefault("batch.max_concurrent_tiles", 4)
	v.SetDefault("monitoring.failure_rate_threshold", 0.1)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_task_minutes", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger configures the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
