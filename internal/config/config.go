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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Fixtures    FixturesConfig   `yaml:"fixtures"`
	Sequence    SequenceConfig   `yaml:"sequence"`
	Timing      TimingConfig     `yaml:"timing"`
	Generator   GeneratorConfig  `yaml:"generator"`
}

type BusConfig struct {
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
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// FixturesConfig points at the directory holding active_models/ and inactive_models/.
type FixturesConfig struct {
	Directory    string `yaml:"directory"`
	StateSlots   int    `yaml:"state_slots"`
	DefaultState string `yaml:"default_state"`
}

type SequenceConfig struct {
	FrameDurationMS   int    `yaml:"frame_duration_ms"`
	DefaultDurationMS int    `yaml:"default_duration_ms"`
	ChannelMode       string `yaml:"channel_mode"` // budget, fixture
	OutputDir         string `yaml:"output_dir"`
	WriteDescriptor   bool   `yaml:"write_descriptor"`
}

type TimingConfig struct {
	Mode           string `yaml:"mode"` // none, exec
	Command        string `yaml:"command"`
	ExpandWords    bool   `yaml:"expand_words"`
	DictionaryPath string `yaml:"dictionary_path"`
	PaddingMS      int    `yaml:"padding_ms"`
	MinWordMS      int    `yaml:"min_word_ms"`
}

type GeneratorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"max_concurrency"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-facesync",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/facesync-runs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Fixtures: FixturesConfig{
			Directory:  "./models",
			StateSlots: 9,
		},
		Sequence: SequenceConfig{
			FrameDurationMS:   50,
			DefaultDurationMS: 5000,
			ChannelMode:       "budget",
			OutputDir:         "./output",
			WriteDescriptor:   true,
		},
		Timing: TimingConfig{
			Mode:      "none",
			PaddingMS: 100,
			MinWordMS: 100,
		},
		Generator: GeneratorConfig{
			Enabled:     true,
			Concurrency: 2,
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

type envBinding struct {
	key    string
	target any
}

// envBindings maps LOQA_* variables onto config fields. Empty or unparsable
// values leave the field alone.
func envBindings(cfg *Config) []envBinding {
	return []envBinding{
		{"LOQA_RUNTIME_NAME", &cfg.RuntimeName},
		{"LOQA_RUNTIME_ENVIRONMENT", &cfg.Environment},
		{"LOQA_HTTP_BIND", &cfg.HTTP.Bind},
		{"LOQA_HTTP_PORT", &cfg.HTTP.Port},
		{"LOQA_TELEMETRY_LOG_LEVEL", &cfg.Telemetry.LogLevel},
		{"LOQA_TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint},
		{"LOQA_TELEMETRY_OTLP_INSECURE", &cfg.Telemetry.OTLPInsecure},
		{"LOQA_TELEMETRY_PROMETHEUS_BIND", &cfg.Telemetry.PrometheusBind},
		{"LOQA_BUS_EMBEDDED", &cfg.Bus.Embedded},
		{"LOQA_BUS_PORT", &cfg.Bus.Port},
		{"LOQA_BUS_STORE_DIR", &cfg.Bus.StoreDir},
		{"LOQA_BUS_SERVERS", &cfg.Bus.Servers},
		{"LOQA_BUS_USERNAME", &cfg.Bus.Username},
		{"LOQA_BUS_PASSWORD", &cfg.Bus.Password},
		{"LOQA_BUS_TOKEN", &cfg.Bus.Token},
		{"LOQA_BUS_TLS_INSECURE", &cfg.Bus.TLSInsecure},
		{"LOQA_BUS_CONNECT_TIMEOUT_MS", &cfg.Bus.ConnectTimeout},
		{"LOQA_EVENT_STORE_PATH", &cfg.EventStore.Path},
		{"LOQA_EVENT_STORE_RETENTION_MODE", &cfg.EventStore.RetentionMode},
		{"LOQA_EVENT_STORE_RETENTION_DAYS", &cfg.EventStore.RetentionDays},
		{"LOQA_EVENT_STORE_MAX_RUNS", &cfg.EventStore.MaxRuns},
		{"LOQA_EVENT_STORE_VACUUM_ON_START", &cfg.EventStore.VacuumOnStart},
		{"LOQA_FIXTURES_DIRECTORY", &cfg.Fixtures.Directory},
		{"LOQA_FIXTURES_STATE_SLOTS", &cfg.Fixtures.StateSlots},
		{"LOQA_FIXTURES_DEFAULT_STATE", &cfg.Fixtures.DefaultState},
		{"LOQA_SEQUENCE_FRAME_DURATION_MS", &cfg.Sequence.FrameDurationMS},
		{"LOQA_SEQUENCE_DEFAULT_DURATION_MS", &cfg.Sequence.DefaultDurationMS},
		{"LOQA_SEQUENCE_CHANNEL_MODE", &cfg.Sequence.ChannelMode},
		{"LOQA_SEQUENCE_OUTPUT_DIR", &cfg.Sequence.OutputDir},
		{"LOQA_SEQUENCE_WRITE_DESCRIPTOR", &cfg.Sequence.WriteDescriptor},
		{"LOQA_TIMING_MODE", &cfg.Timing.Mode},
		{"LOQA_TIMING_COMMAND", &cfg.Timing.Command},
		{"LOQA_TIMING_EXPAND_WORDS", &cfg.Timing.ExpandWords},
		{"LOQA_TIMING_DICTIONARY_PATH", &cfg.Timing.DictionaryPath},
		{"LOQA_TIMING_PADDING_MS", &cfg.Timing.PaddingMS},
		{"LOQA_TIMING_MIN_WORD_MS", &cfg.Timing.MinWordMS},
		{"LOQA_GENERATOR_ENABLED", &cfg.Generator.Enabled},
		{"LOQA_GENERATOR_MAX_CONCURRENCY", &cfg.Generator.Concurrency},
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings(cfg) {
		value, ok := os.LookupEnv(b.key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		switch target := b.target.(type) {
		case *string:
			*target = value
		case *int:
			if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				*target = parsed
			}
		case *bool:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
				*target = parsed
			}
		case *[]string:
			if list := splitList(value); len(list) > 0 {
				*target = list
			}
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Fixtures.Directory == "" {
		return errors.New("fixtures.directory must not be empty")
	}
	if cfg.Fixtures.StateSlots <= 0 {
		return errors.New("fixtures.state_slots must be >= 1")
	}
	if cfg.Sequence.FrameDurationMS <= 0 || cfg.Sequence.FrameDurationMS > 65535 {
		return errors.New("sequence.frame_duration_ms must be between 1 and 65535")
	}
	if cfg.Sequence.DefaultDurationMS <= 0 {
		return errors.New("sequence.default_duration_ms must be positive")
	}
	switch cfg.Sequence.ChannelMode {
	case "budget", "fixture":
	default:
		return errors.New("sequence.channel_mode must be one of budget|fixture")
	}
	switch cfg.Timing.Mode {
	case "none":
	case "exec":
		if cfg.Timing.Command == "" {
			return errors.New("timing.command must be set when mode=exec")
		}
	default:
		return errors.New("timing.mode must be one of none|exec")
	}
	if cfg.Timing.PaddingMS < 0 || cfg.Timing.MinWordMS < 0 {
		return errors.New("timing.padding_ms and timing.min_word_ms must be >= 0")
	}
	if cfg.Generator.Enabled {
		if cfg.Sequence.OutputDir == "" {
			return errors.New("sequence.output_dir must not be empty when the generator is enabled")
		}
		if cfg.Generator.Concurrency <= 0 {
			return errors.New("generator.max_concurrency must be >= 1")
		}
	}
	return nil
}
