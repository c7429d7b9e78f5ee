package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Onnx      OnnxConfig      `mapstructure:"onnx"`
	Model     ModelConfig     `mapstructure:"model"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Inference InferenceConfig `mapstructure:"inference"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type OnnxConfig struct {
	LibPath string `mapstructure:"lib_path"` // 为空时按平台推断
}

type ModelConfig struct {
	Family      string `mapstructure:"family"` // mobilesam | sam2
	EncoderPath string `mapstructure:"encoder_path"`
	DecoderPath string `mapstructure:"decoder_path"`
	UseCuda     bool   `mapstructure:"use_cuda"`
	NumThreads  int    `mapstructure:"num_threads"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type InferenceConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
}

type UploadConfig struct {
	MaxSize int64 `mapstructure:"max_size"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLICKSEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return unmarshal(v)
}

// New 使用给定路径加载配置, 失败时返回默认配置和加载错误
func New(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Default 仅包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch c.Model.Family {
	case "mobilesam", "sam2":
	default:
		return fmt.Errorf("unknown model family %q", c.Model.Family)
	}
	if c.Inference.MaxConcurrent < 1 {
		return fmt.Errorf("inference.max_concurrent must be positive, got %d", c.Inference.MaxConcurrent)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions)
	}
	for key, d := range map[string]time.Duration{
		"session.ttl":             c.Session.TTL,
		"session.sweep_interval":  c.Session.SweepInterval,
		"inference.queue_timeout": c.Inference.QueueTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("onnx.lib_path", "")

	v.SetDefault("model.family", "mobilesam")
	v.SetDefault("model.encoder_path", "./mobilesam_weights/mobile_sam_encoder.onnx")
	v.SetDefault("model.decoder_path", "./mobilesam_weights/mobile_sam_decoder.onnx")
	v.SetDefault("model.use_cuda", false)
	v.SetDefault("model.num_threads", 0)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("session.ttl", 15*time.Minute)
	v.SetDefault("session.max_sessions", 64)
	v.SetDefault("session.sweep_interval", time.Minute)

	v.SetDefault("inference.max_concurrent", 2)
	v.SetDefault("inference.queue_timeout", 30*time.Second)

	v.SetDefault("upload.max_size", 20*1024*1024)
}
