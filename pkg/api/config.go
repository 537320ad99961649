package api

import "time"

// Defaults for APIConfig.
const (
	DefaultPort         = 7070
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// APIConfig configures the node HTTP API that exposes health probes,
// metrics and lock diagnostics.
type APIConfig struct {
	// Enabled is a pointer so an omitted key means enabled.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Negative timeouts disable the limit; zero takes the default.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled reports whether the API server should start.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults fills zero fields.
func (c *APIConfig) ApplyDefaults() {
	c.applyDefaults()
}

func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	setDefault(&c.ReadTimeout, DefaultReadTimeout)
	setDefault(&c.WriteTimeout, DefaultWriteTimeout)
	setDefault(&c.IdleTimeout, DefaultIdleTimeout)
}

func setDefault(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}
