// Package config loads the run configuration for the phone automation agent
// from YAML, the way hector's config-first runtime does: agents, models and
// runtime knobs are declared in a file and env-expanded before use.
//
// Example config:
//
//	device:
//	  transport: android-usb
//	  serial: emulator-5554
//
//	model:
//	  base_url: https://api.openai.com/v1
//	  api_key: ${MODEL_API_KEY}
//	  model: gpt-4o
//	  max_tokens: 2048
//
//	memory:
//	  dir: ./memory
//
//	skills:
//	  library_path: ./skills/skill_library.json
//
//	loop:
//	  max_steps: 40
//	  planning_interval: 5
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one agent run.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	Model  ModelConfig  `yaml:"model"`
	Memory MemoryConfig `yaml:"memory"`
	Skills SkillsConfig `yaml:"skills"`
	Loop   LoopConfig   `yaml:"loop"`
	Logger LoggerConfig `yaml:"logger"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeviceConfig selects and configures the device transport (§6 DeviceController).
type DeviceConfig struct {
	// Transport is one of "android-usb", "harmony", "ios-wda".
	Transport string `yaml:"transport"`
	Serial    string `yaml:"serial,omitempty"`
	// ConfirmSensitive gates Type/Tap actions the handler marks sensitive (§4.4).
	ConfirmSensitive bool `yaml:"confirm_sensitive"`
}

// ModelConfig configures the VLM facade (§4.10 ModelClient).
type ModelConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	Language         string  `yaml:"language"`
	// RequestTimeout bounds a single VLM call (§5 cancellation & timeouts).
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`

	// EmbedderBaseURL/EmbedderModel configure the embedding backend used to
	// compute Workflow.task_embedding / tag_embedding (§3, DOMAIN STACK).
	EmbedderBaseURL string `yaml:"embedder_base_url"`
	EmbedderAPIKey  string `yaml:"embedder_api_key"`
	EmbedderModel   string `yaml:"embedder_model"`
}

// MemoryConfig configures ActionMemory's on-disk store (§4.2, §6).
type MemoryConfig struct {
	Dir                string  `yaml:"dir"`
	EmbedThreshold     float64 `yaml:"embed_threshold"`
	TagThreshold       float64 `yaml:"tag_threshold"`
	HistoryCapacity    int     `yaml:"history_capacity"`
	ReflectionCapacity int     `yaml:"reflection_capacity"`
}

// SkillsConfig points at the declarative skill library (§6).
type SkillsConfig struct {
	LibraryPath string `yaml:"library_path"`
	// OverlayPath names the optional yaml.v3-loaded companion file with
	// per-skill action lists, the dual JSON+YAML pattern described in
	// SPEC_FULL's DOMAIN STACK. It is not read: the skill registry always loads
	// skills.yaml from LibraryPath's directory.
	OverlayPath string `yaml:"overlay_path,omitempty"`
	WatchReload bool   `yaml:"watch_reload"`
}

// LoopConfig configures the AgentLoop controller (§4.11, §5).
type LoopConfig struct {
	MaxSteps                int           `yaml:"max_steps"`
	PlanningInterval        int           `yaml:"planning_interval"`
	WallClockBudget         time.Duration `yaml:"wall_clock_budget"`
	ReflectionOnFailureOnly bool          `yaml:"reflection_on_failure_only"`
	Verbose                 bool          `yaml:"verbose"`
}

// LoggerConfig configures the slog setup (pkg/logger.Init).
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures the otel tracer/meter providers wrapping
// ActionMemory persistence, ModelClient calls, and the reflection slow path.
type ObservabilityConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	MetricsAddr    string  `yaml:"metrics_addr"`
}

// Default returns a Config populated with the defaults named throughout §3-§4
// of the specification (history<=10, reflection<=5, planning_interval=5, ...).
func Default() Config {
	return Config{
		Device: DeviceConfig{Transport: "android-usb", ConfirmSensitive: true},
		Model: ModelConfig{
			MaxTokens:      2048,
			Temperature:    0.2,
			TopP:           0.95,
			Language:       "en",
			RequestTimeout: 60 * time.Second,
			MaxRetries:     3,
			EmbedderModel:  "text-embedding-3-small",
		},
		Memory: MemoryConfig{
			Dir:                "./memory",
			EmbedThreshold:     0.5,
			TagThreshold:       0.8,
			HistoryCapacity:    10,
			ReflectionCapacity: 5,
		},
		Skills: SkillsConfig{LibraryPath: "./skills/skill_library.json"},
		Loop: LoopConfig{
			MaxSteps:                40,
			PlanningInterval:        5,
			ReflectionOnFailureOnly: false,
		},
		Logger: LoggerConfig{Level: "info", Format: "simple"},
		Observability: ObservabilityConfig{
			SamplingRate: 1.0,
			MetricsAddr:  ":9090",
		},
	}
}

// Load reads a YAML config file, expands ${ENV_VAR} references, and merges
// it over Default().
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := expandEnv(string(raw))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default} references, matching the
// expansion syntax hector's config loader supports.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if idx := strings.Index(key, ":-"); idx >= 0 {
			name, def := key[:idx], key[idx+2:]
			if v, ok := os.LookupEnv(name); ok && v != "" {
				return v
			}
			return def
		}
		return os.Getenv(key)
	})
}

// Validate checks required fields are present before the agent starts.
func (c Config) Validate() error {
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.Memory.Dir == "" {
		return fmt.Errorf("memory.dir is required")
	}
	if c.Loop.MaxSteps <= 0 {
		return fmt.Errorf("loop.max_steps must be positive, got %d", c.Loop.MaxSteps)
	}
	return nil
}

// ParseBool is a small helper used by the CLI layer to parse flag overrides.
func ParseBool(s string) (bool, error) {
	return strconv.ParseBool(s)
}
