package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/callrelay/pkg/configutil"
	"github.com/harunnryd/callrelay/pkg/errorsx"
	"github.com/harunnryd/callrelay/pkg/logging"
	"github.com/harunnryd/callrelay/pkg/realtime"
	"github.com/harunnryd/callrelay/pkg/transports/twilio"
)

const envPrefix = "CALLRELAY"

const defaultInstructions = "Tu es un assistant IA vocal professionnel et amical. " +
	"Tu réponds de manière concise et naturelle aux questions des utilisateurs. " +
	"Fais des reponses courtes pour garder la dialogue. " +
	"Tu parles français par défaut mais tu peux aussi parler d'autres langues si demandé. " +
	"Tu es poli, serviable et tu gardes un ton conversationnel."

type Config struct {
	Environment       string              `mapstructure:"environment"`
	LogLevel          string              `mapstructure:"log_level"`
	LogFormat         string              `mapstructure:"log_format"`
	LogFile           logging.FileOptions `mapstructure:"log_file"`
	Port              int                 `mapstructure:"port"`
	ShutdownTimeoutMS int                 `mapstructure:"shutdown_timeout_ms"`
	AI                realtime.Config     `mapstructure:"ai"`
	Transports        TransportsConfig    `mapstructure:"transports"`
	Recording         RecordingConfig     `mapstructure:"recording"`
	Metrics           MetricsConfig       `mapstructure:"metrics"`
	Privacy           PrivacyConfig       `mapstructure:"privacy"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type RecordingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// twilioSchema lists the transport settings the twilio provider accepts.
var twilioSchema = configutil.Schema{
	Optional: []string{
		"server_addr", "public_url", "auth_token", "account_sid",
		"voice_path", "ws_path", "status_callback_path",
		"voice_greeting", "greeting_voice", "greeting_language", "ready_prompt", "pause_seconds",
		"send_buffer", "allow_any_origin", "allowed_origins",
	},
}

// Load reads configuration from path (optional) and the environment.
// Every key can be overridden with CALLRELAY_<KEY>, dots replaced by
// underscores; OPENAI_API_KEY, PORT, TEMPERATURE and ENABLE_LOGGING are
// honoured as well.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", envPrefix+"_AI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("port", envPrefix+"_PORT", "PORT")
	_ = v.BindEnv("ai.temperature", envPrefix+"_AI_TEMPERATURE", "TEMPERATURE")
	_ = v.BindEnv("recording.enabled", envPrefix+"_RECORDING_ENABLED", "ENABLE_LOGGING")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}
	var ai struct {
		DialBackoffMS     int `mapstructure:"dial_backoff_ms"`
		DialTimeoutMS     int `mapstructure:"dial_timeout_ms"`
		CircuitCooldownMS int `mapstructure:"circuit_cooldown_ms"`
	}
	if err := v.UnmarshalKey("ai", &ai); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal ai: %w", err), errorsx.ReasonConfigInvalid)
	}
	cfg.AI.DialBackoff = time.Duration(ai.DialBackoffMS) * time.Millisecond
	cfg.AI.DialTimeout = time.Duration(ai.DialTimeoutMS) * time.Millisecond
	cfg.AI.CircuitCooldown = time.Duration(ai.CircuitCooldownMS) * time.Millisecond

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfigInvalid)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file.path", "")
	v.SetDefault("log_file.max_size_mb", 100)
	v.SetDefault("log_file.max_backups", 3)
	v.SetDefault("log_file.max_age_days", 28)
	v.SetDefault("log_file.compress", false)
	v.SetDefault("port", 5050)
	v.SetDefault("shutdown_timeout_ms", 30000)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "gpt-4o-realtime-preview-2024-10-01")
	v.SetDefault("ai.base_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("ai.voice", "alloy")
	v.SetDefault("ai.instructions", defaultInstructions)
	v.SetDefault("ai.temperature", 0.8)
	v.SetDefault("ai.turn_detection", "server_vad")
	v.SetDefault("ai.transcription_model", "whisper-1")
	v.SetDefault("ai.dial_retries", 2)
	v.SetDefault("ai.dial_backoff_ms", 250)
	v.SetDefault("ai.dial_timeout_ms", 10000)
	v.SetDefault("ai.circuit_threshold", 5)
	v.SetDefault("ai.circuit_cooldown_ms", 30000)

	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("transports.settings.voice_greeting",
		"Veuillez patienter pendant que nous connectons votre appel à l'assistant vocal I.A.")
	v.SetDefault("transports.settings.ready_prompt", "Vous pouvez maintenant parler.")
	v.SetDefault("transports.settings.pause_seconds", 1)

	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.artifacts_dir", "logs")
	v.SetDefault("recording.retention_days", 0)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("privacy.redact_pii", false)
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.AI.APIKey, "ai.api_key"); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature %.2f out of range", c.AI.Temperature)
	}
	switch strings.ToLower(strings.TrimSpace(c.Transports.Provider)) {
	case "twilio":
		if err := configutil.ValidateSettings(c.Transports.Settings, twilioSchema); err != nil {
			return fmt.Errorf("transports.settings: %w", err)
		}
	default:
		return fmt.Errorf("transports.provider %q is not supported", c.Transports.Provider)
	}
	if c.Recording.Enabled {
		if err := configutil.RequireString(c.Recording.ArtifactsDir, "recording.artifacts_dir"); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// TwilioConfig decodes the transport settings. The listen address falls
// back to the configured port.
func (c Config) TwilioConfig() (twilio.Config, error) {
	var out twilio.Config
	if err := configutil.DecodeSettings(c.Transports.Settings, &out); err != nil {
		return twilio.Config{}, errorsx.Wrap(fmt.Errorf("decode transports.settings: %w", err), errorsx.ReasonConfigInvalid)
	}
	if strings.TrimSpace(out.ServerAddr) == "" && c.Port > 0 {
		out.ServerAddr = ":" + strconv.Itoa(c.Port)
	}
	out.RecordingEnabled = c.Recording.Enabled
	return out, nil
}

// LoggingOptions maps the log settings onto logging.Options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

// ShutdownTimeout is the drain budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// RetentionPeriod is how long call artifacts are kept, zero for forever.
func (c Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Recording.RetentionDays) * 24 * time.Hour
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
