package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	WFS     WFSConfig     `yaml:"wfs" mapstructure:"wfs"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	PostGIS PostGISConfig `yaml:"postgis" mapstructure:"postgis"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Plot    PlotConfig    `yaml:"plot" mapstructure:"plot"`
}

// DataConfig locates input and output data.
type DataConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
	OutDir  string `yaml:"out_dir" mapstructure:"out_dir"`
	Catalog string `yaml:"catalog" mapstructure:"catalog"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig configures remote downloads.
type FetchConfig struct {
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	FTPTimeoutSecs int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// WFSConfig configures the WFS client.
type WFSConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Version     string `yaml:"version" mapstructure:"version"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	AxisOrder   string `yaml:"axis_order" mapstructure:"axis_order"`
	MaxFeatures int    `yaml:"max_features" mapstructure:"max_features"`
}

// ExportConfig configures file outputs.
type ExportConfig struct {
	DefaultFormat     string `yaml:"default_format" mapstructure:"default_format"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	ShapefileEncoding string `yaml:"shapefile_encoding" mapstructure:"shapefile_encoding"`
}

// PostGISConfig configures PostGIS loads.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the feature server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CacheSize   int      `yaml:"cache_size" mapstructure:"cache_size"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PlotConfig configures SVG rendering.
type PlotConfig struct {
	Width   int    `yaml:"width" mapstructure:"width"`
	Height  int    `yaml:"height" mapstructure:"height"`
	Palette string `yaml:"palette" mapstructure:"palette"`
}

var (
	exportFormats = map[string]bool{"shp": true, "gpkg": true, "geojson": true, "csv": true, "xlsx": true}
	axisOrders    = map[string]bool{"auto": true, "xy": true, "yx": true}
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOCLI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.base_dir", "data")
	v.SetDefault("data.out_dir", "out")
	v.SetDefault("data.catalog", "datasets.yaml")
	v.SetDefault("data.temp_dir", "/tmp/geo-cli")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("fetch.user_agent", "geo-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 5.0)
	v.SetDefault("fetch.ftp_timeout_secs", 60)
	v.SetDefault("wfs.version", "2.0.0")
	v.SetDefault("wfs.page_size", 1000)
	v.SetDefault("wfs.axis_order", "auto")
	v.SetDefault("wfs.max_features", 0)
	v.SetDefault("export.default_format", "gpkg")
	v.SetDefault("export.concurrency", 4)
	v.SetDefault("export.shapefile_encoding", "UTF-8")
	v.SetDefault("postgis.schema", "public")
	v.SetDefault("postgis.batch_size", 50000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_size", 128)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("plot.width", 800)
	v.SetDefault("plot.height", 600)
	v.SetDefault("plot.palette", "tableau")

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

// Validate checks the configuration for a command mode. Every mode checks
// the shared export, wfs and size settings; "postgis" additionally needs a
// database URL and "serve" a port. Problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "", "convert", "split", "wfs", "plot":
	case "postgis":
		if c.PostGIS.DatabaseURL == "" {
			errs = append(errs, "postgis.database_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.CacheSize <= 0 {
			errs = append(errs, "server.cache_size must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if !exportFormats[strings.ToLower(c.Export.DefaultFormat)] {
		errs = append(errs, "export.default_format must be one of shp, gpkg, geojson, csv, xlsx")
	}
	if !axisOrders[strings.ToLower(c.WFS.AxisOrder)] {
		errs = append(errs, "wfs.axis_order must be one of auto, xy, yx")
	}
	if c.WFS.PageSize <= 0 {
		errs = append(errs, "wfs.page_size must be > 0")
	}
	if c.WFS.MaxFeatures < 0 {
		errs = append(errs, "wfs.max_features must be >= 0")
	}
	if c.Export.Concurrency < 1 || c.Export.Concurrency > 64 {
		errs = append(errs, "export.concurrency must be between 1 and 64")
	}
	if c.PostGIS.BatchSize <= 0 {
		errs = append(errs, "postgis.batch_size must be > 0")
	}
	if c.Plot.Width <= 0 || c.Plot.Height <= 0 {
		errs = append(errs, "plot.width and plot.height must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
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
