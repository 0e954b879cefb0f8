package config

import (
	"strings"
	"time"

	"github.com/nkkko/docsync/internal/api"
	"github.com/nkkko/docsync/internal/coordinator"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/registry"
	"github.com/nkkko/docsync/internal/sink"
	"github.com/nkkko/docsync/internal/store"
	"github.com/nkkko/docsync/internal/telemetry"
	"github.com/rs/zerolog"
)

// ToStoreConfig converts to remote store config
func (c *Config) ToStoreConfig() store.Config {
	return store.Config{
		Type:         store.Type(c.Store.Type),
		ProjectID:    c.Store.ProjectID,
		EmulatorHost: c.Store.EmulatorHost,
		BaseURL:      c.Store.BaseURL,
		ClientID:     c.Store.ClientID,
		Timeout:      time.Duration(c.Store.Timeout) * time.Second,
	}
}

// ToRegistryConfig converts to subscription registry config
func (c *Config) ToRegistryConfig() registry.Config {
	return registry.Config{
		DedupeVersions: c.Registry.DedupeVersions,
	}
}

// ToCoordinatorConfig converts to sync coordinator config
func (c *Config) ToCoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		FetchTimeout: time.Duration(c.Store.FetchTimeout) * time.Second,
		StoreType:    c.Store.Type,
	}
}

// ToSinkConfig converts to sink config. Disabled sinks are left nil.
func (c *Config) ToSinkConfig() sink.Config {
	cfg := sink.Config{
		Log:       c.Sinks.Log,
		CacheSize: c.Sinks.CacheSize,
	}

	if c.Sinks.Mirror.Enabled {
		cfg.Mirror = &sink.MirrorConfig{
			Dir:        c.Sinks.Mirror.Dir,
			Collection: c.Store.CollectionName(),
			SyncWrites: c.Sinks.Mirror.SyncWrites,
			GCInterval: time.Duration(c.Sinks.Mirror.GCIntervalMinutes) * time.Minute,
		}
	}

	if c.Sinks.PubSub.Enabled {
		projectID := c.Sinks.PubSub.ProjectID
		if projectID == "" {
			projectID = c.Store.ProjectID
		}
		cfg.PubSub = &sink.PubSubConfig{
			ProjectID:  projectID,
			TopicID:    c.Sinks.PubSub.TopicID,
			Collection: c.Store.CollectionName(),
		}
	}

	return cfg
}

// ToAPIConfig converts to status API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:           c.Server.Addr,
		ReadTimeout:    time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(c.Server.IdleTimeout) * time.Second,
		CORSOrigins:    c.Server.CORSOrigins,
		MetricsEnabled: c.Metrics.Enabled,
		MetricsPath:    c.Metrics.Endpoint,
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := logging.FormatJSON
	if strings.EqualFold(c.Logging.Format, string(logging.FormatConsole)) {
		format = logging.FormatConsole
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(level.String())
	cfg.Format = format
	cfg.IncludeCaller = c.Logging.IncludeCaller
	cfg.IncludeTraceContext = c.Logging.IncludeTrace
	for k, v := range c.Logging.GlobalFields {
		cfg.GlobalFields[k] = v
	}
	return cfg
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		Insecure:      c.Telemetry.Insecure,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Attributes:    c.Telemetry.Attributes,
	}
}
