// Package config loads the buildmesh YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
)

// Config is the complete configuration of a buildmesh node.
type Config struct {
	Hub        HubConfig        `yaml:"hub"`
	Builder    BuilderConfig    `yaml:"builder"`
	Schedules  []Schedule       `yaml:"schedules,omitempty"`
	Results    ResultsConfig    `yaml:"results,omitempty"`
	Notify     NotifyConfig     `yaml:"notify,omitempty"`
	Monitoring MonitoringConfig `yaml:"monitoring,omitempty"`
}

// HubConfig describes the mesh node itself.
type HubConfig struct {
	Name   string   `yaml:"name,omitempty"`   // default: hostname
	Listen []string `yaml:"listen,omitempty"` // server endpoint descriptions
	Peers  []string `yaml:"peers,omitempty"`  // client endpoint descriptions to join
	// NoteTTL is how long relayed note ids are remembered. Zero selects the
	// unbounded ledger.
	NoteTTL Duration `yaml:"note_ttl,omitempty"`
	// noteTTLSpecified distinguishes an explicit 0 from an omitted field.
	noteTTLSpecified bool
}

// BuilderConfig describes the local filesystem builder.
type BuilderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name,omitempty"` // default: hub name
	Root    string `yaml:"root,omitempty"`
}

// Schedule periodically requests a build.
type Schedule struct {
	Project  string   `yaml:"project"`
	Version  string   `yaml:"version"`
	TestPath string   `yaml:"test_path,omitempty"`
	Every    Duration `yaml:"every"`
}

// ResultsConfig enables the legacy results server next to the hub.
type ResultsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// NotifyConfig configures note sinks beyond the log.
type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats,omitempty"`
}

// NATSConfig configures JetStream publishing of notes.
type NATSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url,omitempty"`
	Subject      string `yaml:"subject,omitempty"`
	Stream       string `yaml:"stream,omitempty"`
	StatusBucket string `yaml:"status_bucket,omitempty"`
}

// MonitoringConfig configures the HTTP endpoints and logging.
type MonitoringConfig struct {
	HTTP    HTTPConfig    `yaml:"http,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// HTTPConfig configures the metrics and health listener. An empty Addr
// disables it.
type HTTPConfig struct {
	Addr        string `yaml:"addr,omitempty"`
	MetricsPath string `yaml:"metrics_path,omitempty"`
	HealthPath  string `yaml:"health_path,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level,omitempty"`
	Format LogFormat `yaml:"format,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML records whether note_ttl was given explicitly.
func (h *HubConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain HubConfig
	if err := value.Decode((*plain)(h)); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "note_ttl" {
			h.noteTTLSpecified = true
		}
	}
	return nil
}

// Load reads configPath, expands ${VAR} references, applies defaults and
// validates the result. A .env or .env.local file in the working directory
// is loaded first without overriding the environment.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read config file").
			WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).Build()
	}

	example := Config{
		Hub: HubConfig{
			Name:    "build1",
			Listen:  []string{"tcp:9222"},
			Peers:   []string{"tcp:host=build2.example.com:port=9222"},
			NoteTTL: Duration(DefaultNoteTTL),
		},
		Builder: BuilderConfig{Enabled: true, Root: "./projects"},
		Schedules: []Schedule{
			{Project: "example", Version: "main", Every: Duration(time.Hour)},
		},
		Notify: NotifyConfig{NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: DefaultNATSSubject,
			Stream:  DefaultNATSStream,
		}},
		Monitoring: MonitoringConfig{
			HTTP:    HTTPConfig{Addr: DefaultHTTPAddr, MetricsPath: "/metrics", HealthPath: "/health"},
			Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config file").
			WithContext("path", configPath).Build()
	}
	return nil
}
