package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Server.Addr() != "localhost:9191" {
		t.Errorf("Server.Addr() = %q, want localhost:9191", cfg.Server.Addr())
	}
	if cfg.Watch.Debounce.Duration() != 250*time.Millisecond {
		t.Errorf("Watch.Debounce = %v, want 250ms", cfg.Watch.Debounce.Duration())
	}
	if cfg.NATS.Enabled {
		t.Error("NATS.Enabled = true, want false")
	}

	sc := cfg.SegmentConfig()
	if !sc.AnyLabel || sc.ChunkSize != segment.DefaultChunkSize {
		t.Errorf("SegmentConfig() = %+v", sc)
	}
	if len(sc.Labels) != len(segment.DefaultLabels) {
		t.Errorf("SegmentConfig().Labels = %v, want %v", sc.Labels, segment.DefaultLabels)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no labels", func(c *Config) { c.Parser.AnyLabel = false; c.Parser.Labels = nil }, "parser"},
		{"negative chunk", func(c *Config) { c.Parser.ChunkSize = -1 }, "parser"},
		{"negative concurrency", func(c *Config) { c.Engine.ParseConcurrency = -2 }, "parse_concurrency"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"zero rate", func(c *Config) { c.Watch.Rate = 0 }, "watch"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "url required"},
		{"nats wildcard subject", func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = "chat.>" }, "subject"},
		{"nats disabled ignores url", func(c *Config) { c.NATS.URL = "" }, ""},
		{"trace level", func(c *Config) { c.Observability.LogLevel = "trace" }, ""},
		{"bad level", func(c *Config) { c.Observability.LogLevel = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Observability.LogFormat = "xml" }, "log format"},
		{"bad protocol", func(c *Config) { c.Observability.OTLPProtocol = "udp" }, "otlp protocol"},
		{"telemetry without name", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("s3cret")
	if s.String() != "[REDACTED]" {
		t.Errorf("String() = %q", s.String())
	}
	if got := fmt.Sprintf("%v %#v", s, s); strings.Contains(got, "s3cret") {
		t.Errorf("formatting leaked secret: %s", got)
	}
	b, err := json.Marshal(NATSConfig{Token: s})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "s3cret") {
		t.Errorf("json leaked secret: %s", b)
	}
	if s.Value() != "s3cret" || !s.IsSet() {
		t.Error("Value()/IsSet() wrong")
	}
	if Secret("").String() != "" {
		t.Error("empty secret should print empty")
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration())
	}
	if err := d.UnmarshalText([]byte("-1s")); err == nil {
		t.Error("negative duration accepted")
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("garbage accepted")
	}
	if err := d.UnmarshalText([]byte(" 250ms\n")); err != nil {
		t.Fatalf("padded value rejected: %v", err)
	}
	b, err := d.MarshalText()
	if err != nil || string(b) != "250ms" {
		t.Errorf("MarshalText() = %q, %v, want 250ms", b, err)
	}
}

func TestSecret_NestedFormatting(t *testing.T) {
	cfg := NATSConfig{URL: "nats://localhost:4222", Token: Secret("s3cret")}
	for _, verb := range []string{"%v", "%+v", "%#v"} {
		if got := fmt.Sprintf(verb, cfg); strings.Contains(got, "s3cret") {
			t.Errorf("%s leaked secret: %s", verb, got)
		}
	}
}
