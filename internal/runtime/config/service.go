package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// DefaultWebUIPort is used when the web UI is enabled without a port.
const DefaultWebUIPort = 8081

// Service configures a process hosting several lua channels.
type Service struct {
	// Channels are opened in order and closed in reverse order.
	Channels []*Config

	// WebUI configuration.
	WebUIEnabled bool
	// WebUIPort is the port where the status API and metrics are exposed.
	// Defaults to 8081.
	WebUIPort int
	// WebUICORSAllowedOrigins specifies allowed origins for CORS. Use "*" for
	// development only.
	WebUICORSAllowedOrigins []string

	// MetricsEnabled exposes prometheus metrics on the web UI port.
	MetricsEnabled bool
}

type serviceDocument struct {
	WebUI struct {
		Enabled bool     `yaml:"enabled"`
		Port    int      `yaml:"port"`
		CORS    []string `yaml:"cors"`
	} `yaml:"webui"`
	Metrics  bool             `yaml:"metrics"`
	Channels []map[string]any `yaml:"channels"`
}

// LoadServiceFile reads a service YAML file:
//
//	webui: {enabled: true, port: 8081, cors: ["*"]}
//	metrics: true
//	channels:
//	  - url: lua+direct://;name=prefix
//	    code: file://prefix.lua
//
// Every channels entry is read like a channel file passed to LoadFile.
func LoadServiceFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return LoadServiceYAML(data)
}

// LoadServiceYAML is LoadServiceFile for in-memory documents.
func LoadServiceYAML(data []byte) (*Service, error) {
	var doc serviceDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errspkg.Config("load service", "%v", err)
	}
	s := &Service{
		WebUIEnabled:            doc.WebUI.Enabled,
		WebUIPort:               doc.WebUI.Port,
		WebUICORSAllowedOrigins: doc.WebUI.CORS,
		MetricsEnabled:          doc.Metrics,
	}
	for i, entry := range doc.Channels {
		c, err := fromDocument(entry)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		if c.Name == "" {
			c.Name = fmt.Sprintf("lua-%d", i)
			c.Props.Set("name", c.Name)
		}
		s.Channels = append(s.Channels, c)
	}
	return s, nil
}

// Port returns the web UI port, applying the default.
func (s *Service) Port() int {
	if s.WebUIPort == 0 {
		return DefaultWebUIPort
	}
	return s.WebUIPort
}

// Validate checks every channel and the service level settings.
func (s *Service) Validate() error {
	var errs []error
	if len(s.Channels) == 0 {
		errs = append(errs, errors.New("service: at least one channel is required"))
	}
	if s.WebUIPort < 0 || s.WebUIPort > 65535 {
		errs = append(errs, fmt.Errorf("webui: invalid port %d", s.WebUIPort))
	}
	seen := make(map[string]bool, len(s.Channels))
	for _, c := range s.Channels {
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("channel %s: duplicate name", c.Name))
			continue
		}
		seen[c.Name] = true
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", c.Name, err))
		}
	}
	return errspkg.NewConfigValidationError(errors.Join(errs...))
}
