package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "NOTESYNC"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "notesreview.db"
	defaultAPIURL        = "https://api.openstreetmap.org/api/0.6"
	defaultMaxLimit      = 10000
	defaultBatchSize     = 50000
	defaultWatermarkDir  = "."
	defaultLogLevel      = "info"
	defaultDrift         = time.Hour
	defaultPace          = 15 * time.Second
)

// AppConfig captures runtime configuration for the sync engine.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	APIURL         string
	MaxLimit       int
	BatchSize      int
	DriftTolerance time.Duration
	Pace           time.Duration
	WatermarkDir   string
	LogLevel       string
	LogFile        string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("api.url", defaultAPIURL)
	configViper.SetDefault("api.max_limit", defaultMaxLimit)
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
	configViper.SetDefault("sync.drift_tolerance", defaultDrift)
	configViper.SetDefault("sync.pace", defaultPace)
	configViper.SetDefault("watermark.dir", defaultWatermarkDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		APIURL:         configViper.GetString("api.url"),
		MaxLimit:       configViper.GetInt("api.max_limit"),
		BatchSize:      configViper.GetInt("sync.batch_size"),
		DriftTolerance: configViper.GetDuration("sync.drift_tolerance"),
		Pace:           configViper.GetDuration("sync.pace"),
		WatermarkDir:   configViper.GetString("watermark.dir"),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api.url is required")
	}
	if c.MaxLimit <= 0 {
		return fmt.Errorf("api.max_limit must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.DriftTolerance <= 0 {
		return fmt.Errorf("sync.drift_tolerance must be positive")
	}
	if c.Pace <= 0 {
		return fmt.Errorf("sync.pace must be positive")
	}
	if strings.TrimSpace(c.WatermarkDir) == "" {
		return fmt.Errorf("watermark.dir is required")
	}
	return nil
}
