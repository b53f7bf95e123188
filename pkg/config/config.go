package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME" validate:"required"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Otel       struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL" validate:"omitempty,oneof=grpc http"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR" validate:"required"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH" validate:"required_if=Enable true"`
		KeyPath  string `mapstructure:"KEY_PATH" validate:"required_if=Enable true"`
	} `mapstructure:"TLS"`
	Redis struct {
		Addr            string        `mapstructure:"ADDR" validate:"required"`
		Password        string        `mapstructure:"PASSWORD"`
		DB              int           `mapstructure:"DB" validate:"gte=0"`
		PoolSize        int           `mapstructure:"POOL_SIZE" validate:"gte=0"`
		PoolTimeout     time.Duration `mapstructure:"POOL_TIMEOUT"`
		OpTimeout       time.Duration `mapstructure:"OP_TIMEOUT" validate:"gt=0"`
		TaskTTL         time.Duration `mapstructure:"TASK_TTL" validate:"gte=0"`
		ConnectAttempts int           `mapstructure:"CONNECT_ATTEMPTS" validate:"gt=0"`
		ConnectBackoff  time.Duration `mapstructure:"CONNECT_BACKOFF" validate:"gte=0"`
	} `mapstructure:"REDIS"`
	Worker struct {
		Concurrency   int           `mapstructure:"CONCURRENCY" validate:"gt=0"`
		TaskTimeout   time.Duration `mapstructure:"TASK_TIMEOUT" validate:"gt=0"`
		MaxRedelivery int           `mapstructure:"MAX_REDELIVERY" validate:"gte=0"`
	} `mapstructure:"WORKER"`
	Task struct {
		StatusPollInterval time.Duration `mapstructure:"STATUS_POLL_INTERVAL" validate:"gt=0"`
		MinSteps           int           `mapstructure:"MIN_STEPS" validate:"gt=0"`
		MaxSteps           int           `mapstructure:"MAX_STEPS" validate:"gtefield=MinSteps"`
		MinStepDuration    time.Duration `mapstructure:"MIN_STEP_DURATION" validate:"gte=0"`
		MaxStepDuration    time.Duration `mapstructure:"MAX_STEP_DURATION" validate:"gtefield=MinStepDuration"`
	} `mapstructure:"TASK"`
	Callback struct {
		Timeout     time.Duration `mapstructure:"TIMEOUT" validate:"gt=0"`
		MaxAttempts int           `mapstructure:"MAX_ATTEMPTS" validate:"gt=0"`
		BaseDelay   time.Duration `mapstructure:"BASE_DELAY" validate:"gte=0"`
	} `mapstructure:"CALLBACK"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

var defaults = map[string]any{
	"APP_ENV":     "development",
	"APP_NAME":    "task-execution-service",
	"APP_VERSION": "0.1.0",

	"OTEL.ADDR":     "",
	"OTEL.PROTOCOL": "grpc",

	"PYROSCOPE.ADDR": "",

	"HTTP_SERVER.ADDR":          ":8000",
	"HTTP_SERVER.READ_TIMEOUT":  15 * time.Second,
	"HTTP_SERVER.WRITE_TIMEOUT": 0, // SSE streams outlive any fixed write deadline
	"HTTP_SERVER.IDLE_TIMEOUT":  60 * time.Second,

	"TLS.ENABLE":    false,
	"TLS.CERT_PATH": "",
	"TLS.KEY_PATH":  "",

	"REDIS.ADDR":             "redis:6379",
	"REDIS.PASSWORD":         "",
	"REDIS.DB":               0,
	"REDIS.POOL_SIZE":        10,
	"REDIS.POOL_TIMEOUT":     5 * time.Second,
	"REDIS.OP_TIMEOUT":       5 * time.Second,
	"REDIS.TASK_TTL":         0,
	"REDIS.CONNECT_ATTEMPTS": 5,
	"REDIS.CONNECT_BACKOFF":  2 * time.Second,

	"WORKER.CONCURRENCY":    10,
	"WORKER.TASK_TIMEOUT":   time.Hour,
	"WORKER.MAX_REDELIVERY": 3,

	"TASK.STATUS_POLL_INTERVAL": 5 * time.Second,
	"TASK.MIN_STEPS":            5,
	"TASK.MAX_STEPS":            15,
	"TASK.MIN_STEP_DURATION":    time.Second,
	"TASK.MAX_STEP_DURATION":    3 * time.Second,

	"CALLBACK.TIMEOUT":      10 * time.Second,
	"CALLBACK.MAX_ATTEMPTS": 3,
	"CALLBACK.BASE_DELAY":   time.Second,
}

// LoadConfig reads config.yaml from the working directory when present and
// lets environment variables override every key, e.g. REDIS_ADDR for REDIS.ADDR.
func LoadConfig() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
