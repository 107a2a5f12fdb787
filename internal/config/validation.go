package config

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
	"git.home.luguber.info/inful/buildmesh/internal/rpc"
)

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	return newConfigurationValidator(c).validate()
}

// configurationValidator coordinates validation across configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	for _, check := range []func() error{
		cv.validateHub,
		cv.validateBuilder,
		cv.validateSchedules,
		cv.validateResults,
		cv.validateNotify,
		cv.validateMonitoring,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateHub() error {
	seen := make(map[string]bool)
	for _, desc := range cv.config.Hub.Listen {
		if err := validateEndpoint("hub.listen", desc, rpc.RoleServer); err != nil {
			return err
		}
		if seen[desc] {
			return ferrors.ValidationError(fmt.Sprintf("duplicate listen endpoint: %s", desc)).Build()
		}
		seen[desc] = true
	}
	clear(seen)
	for _, desc := range cv.config.Hub.Peers {
		if err := validateEndpoint("hub.peers", desc, rpc.RoleClient); err != nil {
			return err
		}
		if seen[desc] {
			return ferrors.ValidationError(fmt.Sprintf("duplicate peer endpoint: %s", desc)).Build()
		}
		seen[desc] = true
	}
	return nil
}

func (cv *configurationValidator) validateBuilder() error {
	b := cv.config.Builder
	if b.Enabled && strings.TrimSpace(b.Root) == "" {
		return ferrors.ValidationError("builder.root is required when the builder is enabled").Build()
	}
	return nil
}

func (cv *configurationValidator) validateSchedules() error {
	for i, s := range cv.config.Schedules {
		if strings.TrimSpace(s.Project) == "" {
			return ferrors.ValidationError(fmt.Sprintf("schedules[%d]: project is required", i)).Build()
		}
		if s.Every <= 0 {
			return ferrors.ValidationError(fmt.Sprintf("schedules[%d]: every must be positive", i)).
				WithContext("project", s.Project).Build()
		}
	}
	return nil
}

func (cv *configurationValidator) validateResults() error {
	if cv.config.Results.Listen == "" {
		return nil
	}
	return validateEndpoint("results.listen", cv.config.Results.Listen, rpc.RoleServer)
}

func (cv *configurationValidator) validateNotify() error {
	n := cv.config.Notify.NATS
	if !n.Enabled {
		return nil
	}
	if strings.ContainsAny(n.Subject, " *>") || strings.HasSuffix(n.Subject, ".") {
		return ferrors.ValidationError(fmt.Sprintf("invalid notify.nats.subject: %q", n.Subject)).Build()
	}
	if strings.ContainsAny(n.Stream, " .*>") {
		return ferrors.ValidationError(fmt.Sprintf("invalid notify.nats.stream: %q", n.Stream)).Build()
	}
	return nil
}

func (cv *configurationValidator) validateMonitoring() error {
	h := cv.config.Monitoring.HTTP
	for name, p := range map[string]string{"metrics_path": h.MetricsPath, "health_path": h.HealthPath} {
		if !strings.HasPrefix(p, "/") {
			return ferrors.ValidationError(fmt.Sprintf("monitoring.http.%s must start with /", name)).Build()
		}
	}
	if h.MetricsPath == h.HealthPath {
		return ferrors.ValidationError("monitoring.http metrics_path and health_path must differ").Build()
	}
	return nil
}

func validateEndpoint(field, desc string, role rpc.Role) error {
	if _, err := rpc.ParseEndpoint(desc, role); err != nil {
		return ferrors.ValidationError(fmt.Sprintf("invalid %s endpoint %q", field, desc)).
			WithCause(err).Build()
	}
	return nil
}
