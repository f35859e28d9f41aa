package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

// HTTPConfig controls the ops listener serving health and metrics while a batch runs.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBatches    int    `yaml:"max_batches"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthesisConfig struct {
	Mode           string `yaml:"mode"` // http, exec, mock
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Command        string `yaml:"command"`
	Voice          string `yaml:"voice"`
	Model          string `yaml:"model"`
	ResponseFormat string `yaml:"response_format"`
	MockDelayMS    int    `yaml:"mock_delay_ms"`
}

type DispatchConfig struct {
	// Concurrency of 0 means one worker per task.
	Concurrency int    `yaml:"max_concurrency"`
	OutputDir   string `yaml:"output_dir"`
	FilePattern string `yaml:"file_pattern"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-speech-batch",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9091,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/speech-batch.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxBatches:    1000,
		},
		Synthesis: SynthesisConfig{
			Mode:           "http",
			Endpoint:       "http://localhost:3000/v1",
			APIKey:         "password",
			Voice:          "dragon",
			Model:          "tts-1",
			ResponseFormat: "wav",
			MockDelayMS:    50,
		},
		Dispatch: DispatchConfig{
			Concurrency: 0,
			OutputDir:   ".",
			FilePattern: "temp_{n}.{format}",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxBatches, "LOQA_EVENT_STORE_MAX_BATCHES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synthesis.Mode, "LOQA_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Endpoint, "LOQA_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.APIKey, "LOQA_SYNTHESIS_API_KEY")
	overrideString(&cfg.Synthesis.Command, "LOQA_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "LOQA_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Model, "LOQA_SYNTHESIS_MODEL")
	overrideString(&cfg.Synthesis.ResponseFormat, "LOQA_SYNTHESIS_RESPONSE_FORMAT")
	overrideInt(&cfg.Synthesis.MockDelayMS, "LOQA_SYNTHESIS_MOCK_DELAY_MS")
	overrideInt(&cfg.Dispatch.Concurrency, "LOQA_DISPATCH_MAX_CONCURRENCY")
	overrideString(&cfg.Dispatch.OutputDir, "LOQA_DISPATCH_OUTPUT_DIR")
	overrideString(&cfg.Dispatch.FilePattern, "LOQA_DISPATCH_FILE_PATTERN")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
				return errors.New("bus.port must be -1 or between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Synthesis.Mode {
	case "http", "exec", "mock":
	default:
		return errors.New("synthesis.mode must be one of http|exec|mock")
	}
	if cfg.Synthesis.Mode == "http" && cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must be set when mode=http")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.Voice == "" || cfg.Synthesis.Model == "" || cfg.Synthesis.ResponseFormat == "" {
		return errors.New("synthesis.voice, synthesis.model and synthesis.response_format must be set")
	}
	if cfg.Synthesis.MockDelayMS < 0 {
		return errors.New("synthesis.mock_delay_ms must be >= 0")
	}
	if cfg.Dispatch.Concurrency < 0 {
		return errors.New("dispatch.max_concurrency must be >= 0")
	}
	if cfg.Dispatch.FilePattern == "" {
		return errors.New("dispatch.file_pattern must not be empty")
	}
	if !strings.Contains(cfg.Dispatch.FilePattern, "{n}") && !strings.Contains(cfg.Dispatch.FilePattern, "{index}") {
		return errors.New("dispatch.file_pattern must contain {n} or {index}")
	}
	return nil
}
