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
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Listen      ListenConfig    `yaml:"listen"`
	Wake        WakeConfig      `yaml:"wake"`
	ASR         ASRConfig       `yaml:"asr"`
	Voiceprint  VoiceprintConfig `yaml:"voiceprint"`
	Report      ReportConfig    `yaml:"report"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ListenConfig governs the per-session listen state machine.
type ListenConfig struct {
	DefaultMode string `yaml:"default_mode"`
	// IdleKeepFrames bounds the rolling buffer while no voice is present.
	IdleKeepFrames int `yaml:"idle_keep_frames"`
	// MinUtteranceFrames is the smallest snapshot worth recognizing.
	MinUtteranceFrames int `yaml:"min_utterance_frames"`
	// FrameDurationMS is used only for diagnostic duration estimates.
	FrameDurationMS int `yaml:"frame_duration_ms"`
}

type WakeConfig struct {
	Phrases        []string `yaml:"phrases"`
	EnableGreeting bool     `yaml:"enable_greeting"`
	GreetingText   string   `yaml:"greeting_text"`
}

type ASRConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, ws
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	Endpoint       string `yaml:"endpoint"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	WorkerPoolSize int    `yaml:"worker_pool_size"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type VoiceprintConfig struct {
	Mode     string `yaml:"mode"` // off, mock, http
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type ReportConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "vox-runtime",
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
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Listen: ListenConfig{
			DefaultMode:        "auto",
			IdleKeepFrames:     10,
			MinUtteranceFrames: 5,
			FrameDurationMS:    60,
		},
		Wake: WakeConfig{
			Phrases:        []string{"嘿，你好呀"},
			EnableGreeting: true,
			GreetingText:   "嘿，你好呀",
		},
		ASR: ASRConfig{
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			TimeoutSeconds: 30,
			WorkerPoolSize: 4,
		},
		Voiceprint: VoiceprintConfig{
			Mode: "off",
		},
		Report: ReportConfig{
			Path:          "./data/vox-reports.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Listen.DefaultMode, "VOX_LISTEN_DEFAULT_MODE")
	overrideInt(&cfg.Listen.IdleKeepFrames, "VOX_LISTEN_IDLE_KEEP_FRAMES")
	overrideInt(&cfg.Listen.MinUtteranceFrames, "VOX_LISTEN_MIN_UTTERANCE_FRAMES")
	overrideInt(&cfg.Listen.FrameDurationMS, "VOX_LISTEN_FRAME_DURATION_MS")
	overrideStringSlice(&cfg.Wake.Phrases, "VOX_WAKE_PHRASES")
	overrideBool(&cfg.Wake.EnableGreeting, "VOX_WAKE_ENABLE_GREETING")
	overrideString(&cfg.Wake.GreetingText, "VOX_WAKE_GREETING_TEXT")
	overrideString(&cfg.ASR.Mode, "VOX_ASR_MODE")
	overrideString(&cfg.ASR.Command, "VOX_ASR_COMMAND")
	overrideString(&cfg.ASR.ModelPath, "VOX_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.Language, "VOX_ASR_LANGUAGE")
	overrideString(&cfg.ASR.Endpoint, "VOX_ASR_ENDPOINT")
	overrideInt(&cfg.ASR.SampleRate, "VOX_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "VOX_ASR_CHANNELS")
	overrideInt(&cfg.ASR.TimeoutSeconds, "VOX_ASR_TIMEOUT_SECONDS")
	overrideInt(&cfg.ASR.WorkerPoolSize, "VOX_ASR_WORKER_POOL_SIZE")
	overrideBool(&cfg.ASR.PublishInterim, "VOX_ASR_PUBLISH_INTERIM")
	overrideString(&cfg.Voiceprint.Mode, "VOX_VOICEPRINT_MODE")
	overrideString(&cfg.Voiceprint.Endpoint, "VOX_VOICEPRINT_ENDPOINT")
	overrideString(&cfg.Voiceprint.APIKey, "VOX_VOICEPRINT_API_KEY")
	overrideString(&cfg.Report.Path, "VOX_REPORT_PATH")
	overrideString(&cfg.Report.RetentionMode, "VOX_REPORT_RETENTION_MODE")
	overrideInt(&cfg.Report.RetentionDays, "VOX_REPORT_RETENTION_DAYS")
	overrideInt(&cfg.Report.MaxSessions, "VOX_REPORT_MAX_SESSIONS")
	overrideBool(&cfg.Report.VacuumOnStart, "VOX_REPORT_VACUUM_ON_START")
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
	switch cfg.Listen.DefaultMode {
	case "auto", "manual", "realtime":
	default:
		return errors.New("listen.default_mode must be one of auto|manual|realtime")
	}
	if cfg.Listen.IdleKeepFrames <= 0 {
		return errors.New("listen.idle_keep_frames must be positive")
	}
	if cfg.Listen.MinUtteranceFrames < 0 {
		return errors.New("listen.min_utterance_frames must be >= 0")
	}
	if cfg.Listen.FrameDurationMS <= 0 {
		return errors.New("listen.frame_duration_ms must be positive")
	}
	switch cfg.ASR.Mode {
	case "mock", "exec", "ws":
	default:
		return errors.New("asr.mode must be one of mock|exec|ws")
	}
	if cfg.ASR.Mode == "exec" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when mode=exec")
	}
	if cfg.ASR.Mode == "ws" && cfg.ASR.Endpoint == "" {
		return errors.New("asr.endpoint must be set when mode=ws")
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.Channels <= 0 {
		return errors.New("asr.channels must be positive")
	}
	if cfg.ASR.TimeoutSeconds <= 0 {
		return errors.New("asr.timeout_seconds must be positive")
	}
	if cfg.ASR.WorkerPoolSize <= 0 {
		return errors.New("asr.worker_pool_size must be >= 1")
	}
	switch cfg.Voiceprint.Mode {
	case "off", "mock", "http":
	default:
		return errors.New("voiceprint.mode must be one of off|mock|http")
	}
	if cfg.Voiceprint.Mode == "http" && cfg.Voiceprint.Endpoint == "" {
		return errors.New("voiceprint.endpoint must be set when mode=http")
	}
	if cfg.Report.Path == "" {
		return errors.New("report.path must not be empty")
	}
	switch cfg.Report.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("report.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Report.RetentionDays < 0 {
		return errors.New("report.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
