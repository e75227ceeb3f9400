// Package config provides configuration loading for remediator.
//
// Values come from built-in defaults, then an optional YAML file, then a
// .env file in the working directory, then REMEDIATOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete remediator configuration.
type Config struct {
	Remediation  RemediationConfig           `koanf:"remediation"`
	Store        StoreConfig                 `koanf:"store"`
	Events       EventsConfig                `koanf:"events"`
	Server       ServerConfig                `koanf:"server"`
	Temporal     TemporalConfig              `koanf:"temporal"`
	Watch        WatchConfig                 `koanf:"watch"`
	Redaction    RedactionConfig             `koanf:"redaction"`
	Capabilities map[string]CapabilityConfig `koanf:"capabilities"`
	Logging      LoggingConfig               `koanf:"logging"`
	Telemetry    TelemetryConfig             `koanf:"telemetry"`
}

// RemediationConfig bounds how a phase batches, executes and scores fixes.
type RemediationConfig struct {
	MaxBatchSize           int      `koanf:"max_batch_size"`
	RiskCeiling            string   `koanf:"risk_ceiling"`
	ValidationFloor        float64  `koanf:"validation_floor"`
	TargetComplianceScore  float64  `koanf:"target_compliance_score"`
	InitialComplianceScore float64  `koanf:"initial_compliance_score"`
	WorkerLimit            int      `koanf:"worker_limit"`
	FixConcurrency         int      `koanf:"fix_concurrency"`
	FixTimeout             Duration `koanf:"fix_timeout"`
	FixRate                float64  `koanf:"fix_rate"` // fix attempts per second, 0 = unlimited
	PhaseWeight            float64  `koanf:"phase_weight"`
	MaxAdvancePerPhase     float64  `koanf:"max_advance_per_phase"`
	CategoryTable          string   `koanf:"category_table"` // optional TOML overrides
}

// StoreConfig configures run state persistence.
type StoreConfig struct {
	Path      string `koanf:"path"`
	CacheSize int    `koanf:"cache_size"`
}

// EventsConfig configures phase lifecycle events on NATS.
type EventsConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Token         Secret   `koanf:"token"`
	Timeout       Duration `koanf:"timeout"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig configures the durable run workflow worker.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// WatchConfig configures the detector feed directory watcher.
type WatchConfig struct {
	Dir      string   `koanf:"dir"`
	Pattern  string   `koanf:"pattern"`
	Debounce Duration `koanf:"debounce"`
}

// RedactionConfig configures secret scrubbing of problem messages.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// CapabilityConfig describes an external command that fixes one category.
// Arguments may reference {path}, {line}, {column}, {id} and {message}.
type CapabilityConfig struct {
	Command []string `koanf:"command"`
	Dir     string   `koanf:"dir"`
	Timeout Duration `koanf:"timeout"`
}

// LoggingConfig holds the user-facing logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Remediation: RemediationConfig{
			MaxBatchSize:           50,
			RiskCeiling:            "MEDIUM",
			ValidationFloor:        70,
			TargetComplianceScore:  98,
			InitialComplianceScore: 0,
			WorkerLimit:            4,
			FixConcurrency:         8,
			FixTimeout:             Duration(2 * time.Minute),
			PhaseWeight:            2.0,
			MaxAdvancePerPhase:     25,
		},
		Store: StoreConfig{
			Path:      "remediator.db",
			CacheSize: 128,
		},
		Events: EventsConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "remediator",
			Timeout:       Duration(5 * time.Second),
		},
		Server: ServerConfig{
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "remediator",
		},
		Watch: WatchConfig{
			Pattern:  "*.json",
			Debounce: Duration(500 * time.Millisecond),
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Capabilities: map[string]CapabilityConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "remediator",
			ServiceVersion: "0.1.0",
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	r := c.Remediation

	if r.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("remediation.max_batch_size must be positive, got %d", r.MaxBatchSize))
	}
	switch strings.ToUpper(r.RiskCeiling) {
	case "LOW", "MEDIUM", "HIGH":
	default:
		errs = append(errs, fmt.Errorf("remediation.risk_ceiling must be LOW, MEDIUM or HIGH, got %q", r.RiskCeiling))
	}
	if r.ValidationFloor < 0 || r.ValidationFloor > 100 {
		errs = append(errs, fmt.Errorf("remediation.validation_floor must be within 0-100, got %v", r.ValidationFloor))
	}
	if r.TargetComplianceScore <= 0 || r.TargetComplianceScore > 100 {
		errs = append(errs, fmt.Errorf("remediation.target_compliance_score must be within (0,100], got %v", r.TargetComplianceScore))
	}
	if r.InitialComplianceScore < 0 || r.InitialComplianceScore > r.TargetComplianceScore {
		errs = append(errs, fmt.Errorf("remediation.initial_compliance_score must be within 0 and the target, got %v", r.InitialComplianceScore))
	}
	if r.WorkerLimit < 1 {
		errs = append(errs, fmt.Errorf("remediation.worker_limit must be positive, got %d", r.WorkerLimit))
	}
	if r.FixConcurrency < 1 {
		errs = append(errs, fmt.Errorf("remediation.fix_concurrency must be positive, got %d", r.FixConcurrency))
	}
	if r.FixTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("remediation.fix_timeout must be positive"))
	}
	if r.FixRate < 0 {
		errs = append(errs, errors.New("remediation.fix_rate must not be negative"))
	}
	if r.PhaseWeight <= 0 {
		errs = append(errs, errors.New("remediation.phase_weight must be positive"))
	}
	if r.MaxAdvancePerPhase <= 0 || r.MaxAdvancePerPhase > 100 {
		errs = append(errs, errors.New("remediation.max_advance_per_phase must be within (0,100]"))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.Port))
	}
	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, errors.New("temporal.host_port and temporal.task_queue are required when temporal is enabled"))
	}
	for category, capability := range c.Capabilities {
		if len(capability.Command) == 0 {
			errs = append(errs, fmt.Errorf("capabilities.%s.command is required", category))
		}
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, errors.New("telemetry.sample_rate must be within 0-1"))
		}
	}

	return errors.Join(errs...)
}
