package voxnote

import (
	"fmt"
	"strings"

	"github.com/harunnryd/voxnote/pkg/configutil"
	"github.com/harunnryd/voxnote/pkg/providers/deepgram"
	"github.com/harunnryd/voxnote/pkg/providers/mock"
	"github.com/harunnryd/voxnote/pkg/providers/whisper"
	"github.com/harunnryd/voxnote/pkg/transcribe"
)

// RecognizerBuilder turns a provider's settings map into a session factory.
// Builders validate settings once; the returned factory runs per session.
type RecognizerBuilder func(cfg Config, settings map[string]any) (transcribe.Factory, error)

type ProviderRegistry struct {
	recognizers map[string]RecognizerBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{recognizers: make(map[string]RecognizerBuilder)}
}

func (r *ProviderRegistry) Register(name string, builder RecognizerBuilder) {
	r.recognizers[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) Build(provider string, cfg Config, settings map[string]any) (transcribe.Factory, error) {
	fn := r.recognizers[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("recognizer provider not registered: %s", provider)
	}
	return fn(cfg, settings)
}

// DefaultRegistry registers the built-in providers: whisper for the
// high-quality path, deepgram for the cloud fallback, and mock for tests and
// offline demos.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.Register("whisper", buildWhisper)
	r.Register("deepgram", buildDeepgram)
	r.Register("mock", buildMock)
	return r
}

type whisperSettings struct {
	ServerURL string `mapstructure:"server_url"`
}

func buildWhisper(cfg Config, settings map[string]any) (transcribe.Factory, error) {
	var s whisperSettings
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"server_url"},
	}); err != nil {
		return nil, fmt.Errorf("whisper settings: %w", err)
	}
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("whisper settings: %w", err)
	}
	modelsDir := cfg.Transcription.Models.Dir
	return func(tc transcribe.Config) (transcribe.Recognizer, error) {
		return whisper.New(whisper.Config{
			ServerURL:  s.ServerURL,
			ModelPath:  transcribe.ModelPath(modelsDir, tc.Locale),
			Locale:     tc.Locale,
			Keywords:   tc.Keywords,
			SampleRate: tc.Format().SampleRate,
			SessionID:  tc.SessionID,
		}), nil
	}, nil
}

type deepgramSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

func buildDeepgram(cfg Config, settings map[string]any) (transcribe.Factory, error) {
	var s deepgramSettings
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language"},
	}); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	return func(tc transcribe.Config) (transcribe.Recognizer, error) {
		language := s.Language
		if language == "" {
			language = tc.Locale
		}
		return deepgram.New(deepgram.Config{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Language:   language,
			Keywords:   tc.Keywords,
			SampleRate: tc.Format().SampleRate,
			SessionID:  tc.SessionID,
		}), nil
	}, nil
}

type mockSettings struct {
	Script []string `mapstructure:"script"`
}

func buildMock(cfg Config, settings map[string]any) (transcribe.Factory, error) {
	var s mockSettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, fmt.Errorf("mock settings: %w", err)
	}
	updates := make([]transcribe.Update, 0, len(s.Script))
	for _, line := range s.Script {
		updates = append(updates, transcribe.Update{Text: line, Final: true})
	}
	return func(tc transcribe.Config) (transcribe.Recognizer, error) {
		return mock.NewRecognizer(mock.STTConfig{Script: updates}), nil
	}, nil
}
