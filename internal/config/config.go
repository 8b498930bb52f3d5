package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"revenue-analytics/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Forecasting ForecastingConfig `mapstructure:"forecasting"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Server      ServerConfig      `mapstructure:"server"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	Dir             string        `mapstructure:"dir"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SchedulerConfig governs the monitoring cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AttributionConfig selects the default attribution model.
type AttributionConfig struct {
	DefaultModel string `mapstructure:"default_model"`
}

// ForecastingConfig holds model defaults.
type ForecastingConfig struct {
	DefaultMethod         string  `mapstructure:"default_method"`
	DefaultGranularity    string  `mapstructure:"default_granularity"`
	WindowSize            int     `mapstructure:"window_size"`
	Alpha                 float64 `mapstructure:"alpha"`
	MinSeasonalityPeriods int     `mapstructure:"min_seasonality_periods"`
}

// MonitorConfig tunes anomaly and underperformance detection.
type MonitorConfig struct {
	ZThreshold           float64 `mapstructure:"z_threshold"`
	DeviationPct         float64 `mapstructure:"deviation_pct"`
	CriticalDeviationPct float64 `mapstructure:"critical_deviation_pct"`
	UnderperformRatio    float64 `mapstructure:"underperform_ratio"`
	ForecastDeviationPct float64 `mapstructure:"forecast_deviation_pct"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Channels    []string       `mapstructure:"channels"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ServerConfig configures the HTTP operation surface.
type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	MetricsPath    string        `mapstructure:"metrics_path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REVENUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "revenued")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.sqlite_path", "data/revenue.db")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 2)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.advisory_lock_key", int64(0x72657665))

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("attribution.default_model", "linear")

	v.SetDefault("forecasting.default_method", "exponential_smoothing")
	v.SetDefault("forecasting.default_granularity", "monthly")
	v.SetDefault("forecasting.window_size", 3)
	v.SetDefault("forecasting.alpha", 0.3)
	v.SetDefault("forecasting.min_seasonality_periods", 12)

	v.SetDefault("monitor.z_threshold", 2.0)
	v.SetDefault("monitor.deviation_pct", 20.0)
	v.SetDefault("monitor.critical_deviation_pct", 50.0)
	v.SetDefault("monitor.underperform_ratio", 0.7)
	v.SetDefault("monitor.forecast_deviation_pct", 20.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", "warning")
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file driver")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
		if c.Storage.AdvisoryLockKey < math.MinInt32 || c.Storage.AdvisoryLockKey > math.MaxInt32 {
			return fmt.Errorf("storage.advisory_lock_key must fit in a 32-bit integer")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Forecasting.WindowSize <= 0 {
		return fmt.Errorf("forecasting.window_size must be greater than zero")
	}
	if c.Forecasting.Alpha <= 0 || c.Forecasting.Alpha > 1 {
		return fmt.Errorf("forecasting.alpha must be in (0, 1]")
	}
	if c.Monitor.UnderperformRatio <= 0 || c.Monitor.UnderperformRatio > 1 {
		return fmt.Errorf("monitor.underperform_ratio must be in (0, 1]")
	}
	if c.Monitor.DeviationPct < 0 || c.Monitor.ForecastDeviationPct < 0 {
		return fmt.Errorf("monitor deviation thresholds cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
