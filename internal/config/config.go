// Package config loads flood-risk settings from flags, environment and an
// optional config.yaml, and installs the global logger.
package config

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/sells-group/flood-risk/internal/geo"
)

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Risk    RiskConfig    `yaml:"risk" mapstructure:"risk"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// InputConfig tunes how the address file is read.
type InputConfig struct {
	// Sheet picks an XLSX sheet by name or 1-based number.
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	Comment   string `yaml:"comment" mapstructure:"comment"`
	TrimSpace bool   `yaml:"trim_space" mapstructure:"trim_space"`
}

// CommentRune returns the CSV comment character, or zero when unset.
func (c InputConfig) CommentRune() rune {
	for _, r := range c.Comment {
		return r
	}
	return 0
}

// RiskConfig locates the raster layers.
type RiskConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	Recursive   bool   `yaml:"recursive" mapstructure:"recursive"`
	DefaultEPSG int    `yaml:"default_epsg" mapstructure:"default_epsg"`
	// NoDataValue is written to cells without a risk value.
	NoDataValue string `yaml:"nodata_value" mapstructure:"nodata_value"`
}

// OutputConfig configures the enriched table and the optional side outputs.
type OutputConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	Coordinates bool   `yaml:"coordinates" mapstructure:"coordinates"`
	Shapefile   string `yaml:"shapefile" mapstructure:"shapefile"`
	Report      string `yaml:"report" mapstructure:"report"`
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
}

// GeocodeConfig selects and tunes the geocoding backend.
type GeocodeConfig struct {
	Method    string          `yaml:"method" mapstructure:"method"`
	CacheSize int             `yaml:"cache_size" mapstructure:"cache_size"`
	Nominatim NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	BAG       BAGConfig       `yaml:"bag" mapstructure:"bag"`
}

// NominatimConfig configures the online geocoder.
type NominatimConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	Email            string `yaml:"email" mapstructure:"email"`
	DelayMs          int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BAGConfig configures the offline geocoder. Path is a GeoPackage file or
// a postgres:// URL.
type BAGConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Table string `yaml:"table" mapstructure:"table"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"sheet":        "input.sheet",
	"comment":      "input.comment",
	"trim":         "input.trim_space",
	"risk-data":    "risk.path",
	"recursive":    "risk.recursive",
	"nodata":       "risk.nodata_value",
	"output":       "output.path",
	"coordinates":  "output.coordinates",
	"shapefile":    "output.shapefile",
	"report":       "output.report",
	"metrics-file": "output.metrics_file",
	"method":       "geocode.method",
	"bag":          "geocode.bag.path",
	"verbose":      "log.level",
	"log-format":   "log.format",
}

// Load reads configuration from defaults, config.yaml, the environment and
// flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FLOODRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.comment", "")
	v.SetDefault("input.trim_space", false)
	v.SetDefault("risk.path", "risk_data/")
	v.SetDefault("risk.recursive", false)
	v.SetDefault("risk.default_epsg", int(geo.RDNew))
	v.SetDefault("risk.nodata_value", "")
	v.SetDefault("output.path", "flooding_risks.csv")
	v.SetDefault("output.coordinates", false)
	v.SetDefault("output.shapefile", "")
	v.SetDefault("output.report", "")
	v.SetDefault("output.metrics_file", "")
	v.SetDefault("geocode.method", "nominatim")
	v.SetDefault("geocode.cache_size", 10000)
	v.SetDefault("geocode.nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.nominatim.user_agent", "flood-risk")
	v.SetDefault("geocode.nominatim.email", "")
	v.SetDefault("geocode.nominatim.delay_ms", 1000)
	v.SetDefault("geocode.nominatim.timeout_secs", 30)
	v.SetDefault("geocode.nominatim.max_attempts", 1)
	v.SetDefault("geocode.nominatim.initial_backoff_ms", 2000)
	v.SetDefault("geocode.nominatim.failure_threshold", 5)
	v.SetDefault("geocode.nominatim.reset_timeout_secs", 60)
	v.SetDefault("geocode.bag.path", "bag_data/bag-light.gpkg")
	v.SetDefault("geocode.bag.table", "bagactueel.adres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, eris.Wrapf(err, "config: bind flag %s", name)
				}
			}
		}
	}

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

// Validate checks settings that would otherwise fail late in a run.
func (c *Config) Validate() error {
	var problems []string

	switch c.Geocode.Method {
	case "nominatim", "bag":
	default:
		problems = append(problems, "geocode.method must be nominatim or bag, got "+c.Geocode.Method)
	}
	if c.Geocode.Method == "bag" && c.Geocode.BAG.Path == "" {
		problems = append(problems, "geocode.bag.path is required for the bag method")
	}
	if c.Risk.Path == "" {
		problems = append(problems, "risk.path is required")
	}
	if c.Output.Path == "" {
		problems = append(problems, "output.path is required")
	}
	if !geo.Supported(geo.EPSG(c.Risk.DefaultEPSG)) {
		problems = append(problems, "risk.default_epsg is not a supported CRS")
	}
	if utf8.RuneCountInString(c.Input.Comment) > 1 {
		problems = append(problems, "input.comment must be a single character")
	}
	if c.Geocode.Nominatim.DelayMs < 0 {
		problems = append(problems, "geocode.nominatim.delay_ms must not be negative")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseLevel accepts zap level names plus "critical" and "warning".
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return zapcore.FatalLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return level, eris.Wrap(err, "config: parse log level")
	}
	return level, nil
}

// resolveFormat turns "auto" into console for terminals and json otherwise.
func resolveFormat(format string, isTerminal func() bool) string {
	switch format {
	case "console", "json":
		return format
	}
	if isTerminal() {
		return "console"
	}
	return "json"
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if resolveFormat(cfg.Format, stderrIsTerminal) == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
