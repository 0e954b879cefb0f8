package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/pkg/proto"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Registry  RegistryConfig  `yaml:"registry"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains status API settings
type ServerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Addr         string   `yaml:"addr"`
	ReadTimeout  int      `yaml:"read_timeout"`
	WriteTimeout int      `yaml:"write_timeout"`
	IdleTimeout  int      `yaml:"idle_timeout"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// StoreConfig selects and configures the remote store
type StoreConfig struct {
	Type string `yaml:"type"`

	// Collection to sync. When empty and ShopNumber is set the
	// plate-states-<shop> name is used.
	Collection string `yaml:"collection"`
	ShopNumber int64  `yaml:"shop_number"`

	ProjectID    string `yaml:"project_id"`
	EmulatorHost string `yaml:"emulator_host"`

	BaseURL  string `yaml:"base_url"`
	ClientID string `yaml:"client_id"`

	// Seconds
	Timeout      int `yaml:"timeout"`
	FetchTimeout int `yaml:"fetch_timeout"`
}

// CollectionName returns the collection to sync
func (s StoreConfig) CollectionName() string {
	if s.Collection != "" {
		return s.Collection
	}
	if s.ShopNumber > 0 {
		return proto.CollectionName(proto.PlateStatesCollectionPrefix, s.ShopNumber)
	}
	return ""
}

// RegistryConfig contains subscription registry settings
type RegistryConfig struct {
	DedupeVersions bool `yaml:"dedupe_versions"`
}

// SinksConfig selects where fetched and live documents are recorded
type SinksConfig struct {
	Log       bool         `yaml:"log"`
	CacheSize int          `yaml:"cache_size"`
	Mirror    MirrorConfig `yaml:"mirror"`
	PubSub    PubSubConfig `yaml:"pubsub"`
}

// MirrorConfig contains badger mirror settings
type MirrorConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Dir               string `yaml:"dir"`
	SyncWrites        bool   `yaml:"sync_writes"`
	GCIntervalMinutes int    `yaml:"gc_interval_minutes"`
}

// PubSubConfig contains change publishing settings
type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	IncludeTrace  bool              `yaml:"include_trace"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Addr:         ":8080",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Store: StoreConfig{
			Type:         "memory",
			Collection:   "plate-states-160",
			ClientID:     "docsync",
			Timeout:      30,
			FetchTimeout: 30,
		},
		Registry: RegistryConfig{
			DedupeVersions: true,
		},
		Sinks: SinksConfig{
			Log:       true,
			CacheSize: 10000,
			Mirror: MirrorConfig{
				Dir:               "./data/mirror",
				GCIntervalMinutes: 10,
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			IncludeTrace: true,
			GlobalFields: map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "docsync",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Type {
	case "memory":
	case "firestore":
		if c.Store.ProjectID == "" && os.Getenv("PROJECT_ID") == "" {
			errs = append(errs, errors.New("store.project_id is required for the firestore store"))
		}
	case "http":
		if c.Store.BaseURL == "" {
			errs = append(errs, errors.New("store.base_url is required for the http store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.type %q", c.Store.Type))
	}

	if c.Store.CollectionName() == "" {
		errs = append(errs, errors.New("store.collection or store.shop_number is required"))
	}
	if c.Store.Timeout < 0 || c.Store.FetchTimeout < 0 {
		errs = append(errs, errors.New("store timeouts must not be negative"))
	}
	if c.Sinks.CacheSize < 0 {
		errs = append(errs, errors.New("sinks.cache_size must not be negative"))
	}
	if c.Sinks.Mirror.Enabled && c.Sinks.Mirror.Dir == "" {
		errs = append(errs, errors.New("sinks.mirror.dir is required when the mirror is enabled"))
	}
	if c.Sinks.PubSub.Enabled && c.Sinks.PubSub.TopicID == "" {
		errs = append(errs, errors.New("sinks.pubsub.topic_id is required when pubsub is enabled"))
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		errs = append(errs, errors.New("telemetry.sampling_ratio must be within [0, 1]"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// Overrides are command line values applied after the file and environment
type Overrides struct {
	Collection string
	StoreType  string
	Addr       string
	LogLevel   string
	MirrorDir  string
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, overrides Overrides) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	if overrides.Collection != "" {
		config.Store.Collection = overrides.Collection
	}
	if overrides.StoreType != "" {
		config.Store.Type = overrides.StoreType
	}
	if overrides.Addr != "" {
		config.Server.Addr = overrides.Addr
	}
	if overrides.LogLevel != "" {
		config.Logging.Level = overrides.LogLevel
	}
	if overrides.MirrorDir != "" {
		dir, err := filepath.Abs(overrides.MirrorDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for mirror directory: %w", err)
		}
		config.Sinks.Mirror.Dir = dir
		config.Sinks.Mirror.Enabled = true
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyEnvOverrides applies DOCSYNC_* environment variables
func applyEnvOverrides(config *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Warn().Str("env", key).Str("value", v).Msg("Ignoring non-integer environment override")
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else {
				log.Warn().Str("env", key).Str("value", v).Msg("Ignoring non-boolean environment override")
			}
		}
	}

	// Server
	setString("DOCSYNC_SERVER_ADDR", &config.Server.Addr)
	setBool("DOCSYNC_SERVER_ENABLED", &config.Server.Enabled)
	if origins := os.Getenv("DOCSYNC_SERVER_CORS_ORIGINS"); origins != "" {
		config.Server.CORSOrigins = strings.Split(origins, ",")
	}

	// Store
	setString("DOCSYNC_STORE_TYPE", &config.Store.Type)
	setString("DOCSYNC_STORE_COLLECTION", &config.Store.Collection)
	if shop := os.Getenv("DOCSYNC_STORE_SHOP_NUMBER"); shop != "" {
		if n, err := strconv.ParseInt(shop, 10, 64); err == nil {
			config.Store.ShopNumber = n
			config.Store.Collection = ""
		}
	}
	setString("PROJECT_ID", &config.Store.ProjectID)
	setString("DOCSYNC_STORE_PROJECT_ID", &config.Store.ProjectID)
	setString("FIRESTORE_EMULATOR_HOST", &config.Store.EmulatorHost)
	setString("DOCSYNC_STORE_BASE_URL", &config.Store.BaseURL)
	setString("DOCSYNC_STORE_CLIENT_ID", &config.Store.ClientID)
	setInt("DOCSYNC_STORE_TIMEOUT", &config.Store.Timeout)
	setInt("DOCSYNC_STORE_FETCH_TIMEOUT", &config.Store.FetchTimeout)

	// Registry
	setBool("DOCSYNC_REGISTRY_DEDUPE_VERSIONS", &config.Registry.DedupeVersions)

	// Sinks
	setBool("DOCSYNC_SINKS_LOG", &config.Sinks.Log)
	setInt("DOCSYNC_SINKS_CACHE_SIZE", &config.Sinks.CacheSize)
	setBool("DOCSYNC_SINKS_MIRROR_ENABLED", &config.Sinks.Mirror.Enabled)
	setString("DOCSYNC_SINKS_MIRROR_DIR", &config.Sinks.Mirror.Dir)
	setBool("DOCSYNC_SINKS_PUBSUB_ENABLED", &config.Sinks.PubSub.Enabled)
	setString("DOCSYNC_SINKS_PUBSUB_PROJECT_ID", &config.Sinks.PubSub.ProjectID)
	setString("DOCSYNC_SINKS_PUBSUB_TOPIC_ID", &config.Sinks.PubSub.TopicID)

	// Logging
	setString("DOCSYNC_LOG_LEVEL", &config.Logging.Level)
	setString("DOCSYNC_LOG_FORMAT", &config.Logging.Format)

	// Telemetry
	setBool("DOCSYNC_TELEMETRY_ENABLED", &config.Telemetry.Enabled)
	setString("DOCSYNC_TELEMETRY_ENDPOINT", &config.Telemetry.Endpoint)

	// Metrics
	setBool("DOCSYNC_METRICS_ENABLED", &config.Metrics.Enabled)
}
