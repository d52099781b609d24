package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLanguage = "kn-IN"
	envPrefix       = "MICSTT"
)

const (
	SourceMicrophone = "microphone"
	SourceWav        = "wav"

	BackendGoogle  = "google"
	BackendHTTP    = "http"
	BackendWhisper = "whisper"
)

type Config struct {
	Language   string           `mapstructure:"language" yaml:"language"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

type AudioConfig struct {
	// Source is "microphone" or "wav".
	Source string `mapstructure:"source"`
	// Device is the input device name; empty selects the default device.
	Device     string `mapstructure:"device"`
	WavFile    string `mapstructure:"wav_file"`
	SampleRate int    `mapstructure:"sample_rate"`
	FrameSize  int    `mapstructure:"frame_size"`

	EnergyThreshold     float64       `mapstructure:"energy_threshold"`
	DynamicEnergy       bool          `mapstructure:"dynamic_energy"`
	CalibrationDuration time.Duration `mapstructure:"calibration_duration"`
	PauseThreshold      time.Duration `mapstructure:"pause_threshold"`
	PhraseThreshold     time.Duration `mapstructure:"phrase_threshold"`
	NonSpeakingDuration time.Duration `mapstructure:"non_speaking_duration"`
	PhraseTimeLimit     time.Duration `mapstructure:"phrase_time_limit"`
}

type RecognizerConfig struct {
	// Backend is "google", "http" or "whisper".
	Backend string                  `mapstructure:"backend" yaml:"backend"`
	Google  GoogleRecognizerConfig  `mapstructure:"google" yaml:"google"`
	HTTP    HTTPRecognizerConfig    `mapstructure:"http" yaml:"http"`
	Whisper WhisperRecognizerConfig `mapstructure:"whisper" yaml:"whisper"`
}

type GoogleRecognizerConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type HTTPRecognizerConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type WhisperRecognizerConfig struct {
	ModelPath string `mapstructure:"model_path" yaml:"model_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Address serves /metrics when set, e.g. "127.0.0.1:9464".
	Address string `mapstructure:"address" yaml:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("language", DefaultLanguage)

	v.SetDefault("audio.source", SourceMicrophone)
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.wav_file", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.frame_size", 1024)
	v.SetDefault("audio.energy_threshold", 300)
	v.SetDefault("audio.dynamic_energy", true)
	v.SetDefault("audio.calibration_duration", "1s")
	v.SetDefault("audio.pause_threshold", "800ms")
	v.SetDefault("audio.phrase_threshold", "300ms")
	v.SetDefault("audio.non_speaking_duration", "500ms")
	v.SetDefault("audio.phrase_time_limit", "15s")

	v.SetDefault("recognizer.backend", BackendGoogle)
	v.SetDefault("recognizer.google.credentials_file", "")
	v.SetDefault("recognizer.google.endpoint", "")
	v.SetDefault("recognizer.google.timeout", "15s")
	v.SetDefault("recognizer.http.endpoint", "")
	v.SetDefault("recognizer.http.api_key", "")
	v.SetDefault("recognizer.http.timeout", "30s")
	v.SetDefault("recognizer.http.max_retries", 2)
	v.SetDefault("recognizer.whisper.model_path", "")

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.address", "")
}

// Load reads the configuration from path, or from config.yaml in the working
// directory or ./config when path is empty. A missing default file is not an
// error. Environment variables prefixed with MICSTT_ override file values,
// e.g. MICSTT_RECOGNIZER_BACKEND.
func Load(fileSys afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fileSys)
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Language) == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if c.Recognizer.Backend == BackendWhisper && c.Audio.SampleRate != 16000 {
		return fmt.Errorf("whisper backend needs audio.sample_rate 16000, got %d", c.Audio.SampleRate)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (a *AudioConfig) Validate() error {
	switch a.Source {
	case SourceMicrophone:
	case SourceWav:
		if a.WavFile == "" {
			return fmt.Errorf("wav_file cannot be empty when source is wav")
		}
	default:
		return fmt.Errorf("source must be 'microphone' or 'wav', got '%s'", a.Source)
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 8192 {
		return fmt.Errorf("frame_size must be between 256 and 8192 samples, got %d", a.FrameSize)
	}

	if a.EnergyThreshold < 0 {
		return fmt.Errorf("energy_threshold cannot be negative, got %f", a.EnergyThreshold)
	}

	durations := map[string]time.Duration{
		"calibration_duration":  a.CalibrationDuration,
		"pause_threshold":       a.PauseThreshold,
		"phrase_threshold":      a.PhraseThreshold,
		"non_speaking_duration": a.NonSpeakingDuration,
		"phrase_time_limit":     a.PhraseTimeLimit,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if a.NonSpeakingDuration > a.PauseThreshold {
		return fmt.Errorf("non_speaking_duration (%s) cannot exceed pause_threshold (%s)",
			a.NonSpeakingDuration, a.PauseThreshold)
	}

	return nil
}

func (r *RecognizerConfig) Validate() error {
	switch r.Backend {
	case BackendGoogle:
		if r.Google.Timeout <= 0 {
			return fmt.Errorf("google timeout must be positive, got %s", r.Google.Timeout)
		}
	case BackendHTTP:
		if r.HTTP.Endpoint == "" {
			return fmt.Errorf("http endpoint cannot be empty")
		}
		if r.HTTP.Timeout <= 0 {
			return fmt.Errorf("http timeout must be positive, got %s", r.HTTP.Timeout)
		}
		if r.HTTP.MaxRetries < 0 {
			return fmt.Errorf("http max_retries cannot be negative, got %d", r.HTTP.MaxRetries)
		}
	case BackendWhisper:
		if r.Whisper.ModelPath == "" {
			return fmt.Errorf("whisper model_path cannot be empty")
		}
	default:
		return fmt.Errorf("backend must be 'google', 'http' or 'whisper', got '%s'", r.Backend)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of debug, info, warn, error, got '%s'", l.Level)
	}

	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("format must be 'text' or 'json', got '%s'", l.Format)
	}

	return nil
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (a AudioConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Source              string  `yaml:"source"`
		Device              string  `yaml:"device"`
		WavFile             string  `yaml:"wav_file,omitempty"`
		SampleRate          int     `yaml:"sample_rate"`
		FrameSize           int     `yaml:"frame_size"`
		EnergyThreshold     float64 `yaml:"energy_threshold"`
		DynamicEnergy       bool    `yaml:"dynamic_energy"`
		CalibrationDuration string  `yaml:"calibration_duration"`
		PauseThreshold      string  `yaml:"pause_threshold"`
		PhraseThreshold     string  `yaml:"phrase_threshold"`
		NonSpeakingDuration string  `yaml:"non_speaking_duration"`
		PhraseTimeLimit     string  `yaml:"phrase_time_limit"`
	}{
		Source:              a.Source,
		Device:              a.Device,
		WavFile:             a.WavFile,
		SampleRate:          a.SampleRate,
		FrameSize:           a.FrameSize,
		EnergyThreshold:     a.EnergyThreshold,
		DynamicEnergy:       a.DynamicEnergy,
		CalibrationDuration: a.CalibrationDuration.String(),
		PauseThreshold:      a.PauseThreshold.String(),
		PhraseThreshold:     a.PhraseThreshold.String(),
		NonSpeakingDuration: a.NonSpeakingDuration.String(),
		PhraseTimeLimit:     a.PhraseTimeLimit.String(),
	}, nil
}

func (g GoogleRecognizerConfig) MarshalYAML() (interface{}, error) {
	return struct {
		CredentialsFile string `yaml:"credentials_file"`
		Endpoint        string `yaml:"endpoint"`
		Timeout         string `yaml:"timeout"`
	}{g.CredentialsFile, g.Endpoint, g.Timeout.String()}, nil
}

func (h HTTPRecognizerConfig) MarshalYAML() (interface{}, error) {
	apiKey := ""
	if h.APIKey != "" {
		apiKey = "********"
	}

	return struct {
		Endpoint   string `yaml:"endpoint"`
		APIKey     string `yaml:"api_key"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
	}{h.Endpoint, apiKey, h.Timeout.String(), h.MaxRetries}, nil
}
