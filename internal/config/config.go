// Package config loads process configuration from defaults, an optional
// config file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendWatson = "watson"
	BackendOpenAI = "openai"
)

type Config struct {
	Environment  string `mapstructure:"environment"`
	LogLevel     string `mapstructure:"log_level"`
	Port         string `mapstructure:"port"`
	SettingsPath string `mapstructure:"settings_path"`
	OutputDir    string `mapstructure:"output_dir"`
	WorkDir      string `mapstructure:"work_dir"`

	Backend       string `mapstructure:"backend"`
	IdentityURL   string `mapstructure:"identity_url"`
	GenerationURL string `mapstructure:"generation_url"`
	ModelID       string `mapstructure:"model_id"`
	STTModel      string `mapstructure:"stt_model"`

	ChunkSize            int           `mapstructure:"chunk_size"`
	SynthesisConcurrency int           `mapstructure:"synthesis_concurrency"`
	MaxRetries           uint64        `mapstructure:"max_retries"`
	HTTPTimeout          time.Duration `mapstructure:"http_timeout"`

	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`

	OpenAI OpenAIConfig `mapstructure:"openai"`
	S3     S3Config     `mapstructure:"s3"`
}

type OpenAIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	ChatModel   string `mapstructure:"chat_model"`
	SpeechModel string `mapstructure:"speech_model"`
}

// S3Config enables artifact publishing when Endpoint is set.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
	Prefix    string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", "8080")
	v.SetDefault("settings_path", "settings.json")
	v.SetDefault("output_dir", ".")
	v.SetDefault("work_dir", "")
	v.SetDefault("backend", BackendWatson)
	v.SetDefault("identity_url", "https://iam.cloud.ibm.com/identity/token")
	v.SetDefault("generation_url", "https://us-south.ml.cloud.ibm.com/ml/v1/text/generation?version=2023-05-29")
	v.SetDefault("model_id", "mistralai/mistral-large")
	v.SetDefault("stt_model", "en-US_BroadbandModel")
	v.SetDefault("chunk_size", 400)
	v.SetDefault("synthesis_concurrency", 1)
	v.SetDefault("max_retries", 2)
	v.SetDefault("http_timeout", 5*time.Minute)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.speech_model", "tts-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.secure", true)
	v.SetDefault("s3.prefix", "speaker-notes")
}

// Load reads configuration. Environment variables use the upper-cased key
// with dots replaced by underscores (OPENAI_API_KEY, S3_BUCKET, ...).
// A config file is read when configFile is non-empty.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendWatson, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.SynthesisConcurrency < 1 {
		return fmt.Errorf("synthesis_concurrency must be positive, got %d", c.SynthesisConcurrency)
	}
	return nil
}
