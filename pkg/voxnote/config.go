package voxnote

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/voxnote/pkg/frames"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Recognizers   RecognizersConfig   `mapstructure:"recognizers"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type CaptureConfig struct {
	Dir            string `mapstructure:"dir"`
	Filename       string `mapstructure:"filename"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Channels       int    `mapstructure:"channels"`
	FramesPerBlock int    `mapstructure:"frames_per_block"`
}

// Path is the fixed capture location. Every recording session truncates and
// reuses the same file; callers that want to keep a take move it after stop.
func (c CaptureConfig) Path() string {
	return filepath.Join(c.Dir, c.Filename)
}

func (c CaptureConfig) Format() frames.Format {
	return frames.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

type TranscriptionConfig struct {
	Locale     string       `mapstructure:"locale"`
	SampleRate int          `mapstructure:"sample_rate"`
	Models     ModelsConfig `mapstructure:"models"`
}

func (c TranscriptionConfig) Format() frames.Format {
	return frames.Format{SampleRate: c.SampleRate, Channels: 1}
}

type ModelsConfig struct {
	Dir     string   `mapstructure:"dir"`
	BaseURL string   `mapstructure:"base_url"`
	Locales []string `mapstructure:"locales"`
}

type RecognizerConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type RecognizersConfig struct {
	HighQuality RecognizerConfig `mapstructure:"high_quality"`
	Fallback    RecognizerConfig `mapstructure:"fallback"`
}

type ObservabilityConfig struct {
	ArtifactsDir      string  `mapstructure:"artifacts_dir"`
	MetricsSampleRate float64 `mapstructure:"metrics_sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.Recognizers.HighQuality.Settings = expandSettings(cfg.Recognizers.HighQuality.Settings)
	cfg.Recognizers.Fallback.Settings = expandSettings(cfg.Recognizers.Fallback.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig is the zero-file configuration: record next to the binary,
// transcribe with the mock recognizer so nothing external is required.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	expandEnvStrings(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("capture.dir", ".")
	v.SetDefault("capture.filename", "recording.wav")
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.channels", 1)
	v.SetDefault("capture.frames_per_block", 1024)
	v.SetDefault("transcription.locale", "en-US")
	v.SetDefault("transcription.sample_rate", 16000)
	v.SetDefault("transcription.models.dir", "models")
	v.SetDefault("transcription.models.base_url", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main")
	v.SetDefault("transcription.models.locales", []string{"en", "es", "fr", "de", "ja"})
	v.SetDefault("recognizers.high_quality.provider", "whisper")
	v.SetDefault("recognizers.fallback.provider", "mock")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.metrics_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", false)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Capture.Dir) == "" {
		return fmt.Errorf("capture.dir is required")
	}
	if strings.TrimSpace(c.Capture.Filename) == "" {
		return fmt.Errorf("capture.filename is required")
	}
	if !c.Capture.Format().Valid() {
		return fmt.Errorf("capture format invalid: %s", c.Capture.Format())
	}
	if !c.Transcription.Format().Valid() {
		return fmt.Errorf("transcription sample rate invalid: %d", c.Transcription.SampleRate)
	}
	if strings.TrimSpace(c.Recognizers.Fallback.Provider) == "" {
		return fmt.Errorf("recognizers.fallback.provider is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
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
