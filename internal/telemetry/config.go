package telemetry

// Config configures span export over OTLP/gRPC.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the collector address, e.g. localhost:4317.
	Endpoint string
	Insecure bool

	// SampleRate in [0,1] is the fraction of root spans kept.
	SampleRate float64
}

// DefaultConfig exports nothing until Enabled is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "dittolock",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1,
	}
}
