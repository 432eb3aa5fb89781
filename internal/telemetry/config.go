package telemetry

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, production)
	Environment string

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used
	Enabled bool

	// Exporter selects where spans go: otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP/HTTP collector endpoint, used when Exporter is otlp.
	Endpoint string

	// SampleRate is the fraction of runs to sample (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns a sensible default configuration.
// Tracing is disabled by default for the CLI.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "dispatch",
		ServiceVersion: "dev",
		Environment:    "development",
		Enabled:        false,
		Exporter:       ExporterNone,
		SampleRate:     1.0,
	}
}

// DevelopmentConfig prints every span to stdout.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = ExporterStdout
	return cfg
}

// ProductionConfig returns a configuration suitable for production
// Tracing enabled with sampling
func ProductionConfig(endpoint string) Config {
	return Config{
		ServiceName:    "dispatch",
		ServiceVersion: "unknown",
		Environment:    "production",
		Enabled:        true,
		Exporter:       ExporterOTLP,
		Endpoint:       endpoint,
		SampleRate:     0.1,
	}
}
