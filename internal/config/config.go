// Package config provides configuration loading for chatindex.
//
// Values come from hardcoded defaults, an optional YAML file and CHATINDEX_
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

// Config holds the complete chatindex configuration.
type Config struct {
	Parser        ParserConfig        `koanf:"parser"`
	Engine        EngineConfig        `koanf:"engine"`
	Server        ServerConfig        `koanf:"server"`
	Watch         WatchConfig         `koanf:"watch"`
	NATS          NATSConfig          `koanf:"nats"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ParserConfig selects the segment boundary markers.
type ParserConfig struct {
	Labels    []string `koanf:"labels"`
	AnyLabel  bool     `koanf:"any_label"`
	ChunkSize int      `koanf:"chunk_size"`
}

// Engine defaults.
const (
	DefaultMaxSourceBytes   = 64 << 20
	DefaultParseConcurrency = 4
)

// EngineConfig holds indexing limits.
type EngineConfig struct {
	MaxSourceBytes   int64 `koanf:"max_source_bytes"`
	ParseConcurrency int   `koanf:"parse_concurrency"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WatchConfig tunes the file watcher.
type WatchConfig struct {
	Debounce Duration `koanf:"debounce"`
	// Rate is the number of reindexes allowed per second.
	Rate  float64 `koanf:"rate"`
	Burst int     `koanf:"burst"`
}

// NATSConfig holds event broadcast settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Token   Secret `koanf:"token"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
	ServiceName     string `koanf:"service_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Parser: ParserConfig{
			Labels:    append([]string(nil), segment.DefaultLabels...),
			AnyLabel:  true,
			ChunkSize: segment.DefaultChunkSize,
		},
		Engine: EngineConfig{
			MaxSourceBytes:   DefaultMaxSourceBytes,
			ParseConcurrency: DefaultParseConcurrency,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9191,
			ShutdownTimeout: 10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: Duration(250 * time.Millisecond),
			Rate:     20,
			Burst:    10,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "chatindex.events",
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
			ServiceName:  "chatindex",
		},
	}
}

// SegmentConfig converts the parser section to segment.Config.
func (c *Config) SegmentConfig() segment.Config {
	return segment.Config{
		Labels:    c.Parser.Labels,
		AnyLabel:  c.Parser.AnyLabel,
		ChunkSize: c.Parser.ChunkSize,
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the parser has no labels and any_label is off, or chunk_size is negative
//   - parse_concurrency is negative
//   - server port is not between 1 and 65535 or shutdown timeout is not positive
//   - watch rate or burst is not positive
//   - nats is enabled without url or subject
//   - log level or format is unknown, or service name is empty with telemetry on
func (c *Config) Validate() error {
	if err := c.SegmentConfig().Validate(); err != nil {
		return fmt.Errorf("parser: %w", err)
	}
	if c.Engine.ParseConcurrency < 0 {
		return fmt.Errorf("engine: parse_concurrency must not be negative: %d", c.Engine.ParseConcurrency)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Watch.Rate <= 0 || c.Watch.Burst <= 0 {
		return fmt.Errorf("watch: rate and burst must be positive (rate=%v burst=%d)", c.Watch.Rate, c.Watch.Burst)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.New("nats: url required when enabled")
		}
		if c.NATS.Subject == "" || strings.ContainsAny(c.NATS.Subject, " *>") {
			return fmt.Errorf("nats: invalid subject prefix %q", c.NATS.Subject)
		}
	}

	if _, err := zapcore.ParseLevel(c.Observability.LogLevel); err != nil && !strings.EqualFold(c.Observability.LogLevel, "trace") {
		return fmt.Errorf("observability: invalid log level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("observability: invalid log format %q (must be json or console)", c.Observability.LogFormat)
	}
	switch c.Observability.OTLPProtocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("observability: invalid otlp protocol %q", c.Observability.OTLPProtocol)
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
