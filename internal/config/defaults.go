package config

import (
	"os"
	"time"
)

const (
	DefaultHubName     = "hub"
	DefaultListen      = "tcp:9222"
	DefaultNoteTTL     = 10 * time.Minute
	DefaultBuilderRoot = "./projects"
	DefaultNATSURL     = "nats://127.0.0.1:4222"
	DefaultNATSSubject = "buildmesh.notes"
	DefaultNATSStream  = "BUILDMESH"
	DefaultHTTPAddr    = ":9290"
	DefaultMetricsPath = "/metrics"
	DefaultHealthPath  = "/health"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// HubDefaultApplier handles hub defaults.
type HubDefaultApplier struct{}

func (HubDefaultApplier) Domain() string { return "hub" }

func (HubDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Hub.Name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Hub.Name = host
		} else {
			cfg.Hub.Name = DefaultHubName
		}
	}
	if !cfg.Hub.noteTTLSpecified {
		cfg.Hub.NoteTTL = Duration(DefaultNoteTTL)
	}
	if cfg.Hub.NoteTTL < 0 {
		cfg.Hub.NoteTTL = 0
	}
	return nil
}

// BuilderDefaultApplier handles local builder defaults.
type BuilderDefaultApplier struct{}

func (BuilderDefaultApplier) Domain() string { return "builder" }

func (BuilderDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Builder.Name == "" {
		cfg.Builder.Name = cfg.Hub.Name
	}
	if cfg.Builder.Enabled && cfg.Builder.Root == "" {
		cfg.Builder.Root = DefaultBuilderRoot
	}
	return nil
}

// NotifyDefaultApplier handles note sink defaults.
type NotifyDefaultApplier struct{}

func (NotifyDefaultApplier) Domain() string { return "notify" }

func (NotifyDefaultApplier) ApplyDefaults(cfg *Config) error {
	n := &cfg.Notify.NATS
	if n.URL == "" {
		n.URL = DefaultNATSURL
	}
	if n.Subject == "" {
		n.Subject = DefaultNATSSubject
	}
	if n.Stream == "" {
		n.Stream = DefaultNATSStream
	}
	return nil
}

// MonitoringDefaultApplier handles HTTP and logging defaults.
type MonitoringDefaultApplier struct{}

func (MonitoringDefaultApplier) Domain() string { return "monitoring" }

func (MonitoringDefaultApplier) ApplyDefaults(cfg *Config) error {
	m := &cfg.Monitoring
	if m.HTTP.MetricsPath == "" {
		m.HTTP.MetricsPath = DefaultMetricsPath
	}
	if m.HTTP.HealthPath == "" {
		m.HTTP.HealthPath = DefaultHealthPath
	}
	m.Logging.Level = NormalizeLogLevel(string(m.Logging.Level))
	m.Logging.Format = NormalizeLogFormat(string(m.Logging.Format))
	return nil
}

// defaultAppliers run in order; builder defaults depend on the hub name.
var defaultAppliers = []DefaultApplier{
	HubDefaultApplier{},
	BuilderDefaultApplier{},
	NotifyDefaultApplier{},
	MonitoringDefaultApplier{},
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() error {
	for _, a := range defaultAppliers {
		if err := a.ApplyDefaults(c); err != nil {
			return err
		}
	}
	return nil
}
