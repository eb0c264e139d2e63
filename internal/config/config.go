// Package config provides configuration management for headspace.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for headspace.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Events        EventsConfig        `mapstructure:"events"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Bridge        BridgeConfig        `mapstructure:"bridge"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	StateMachine  StateMachineConfig  `mapstructure:"stateMachine"`
	Broadcast     BroadcastConfig     `mapstructure:"broadcast"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// DatabaseConfig holds persistence store configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// EventsConfig holds internal event-bus configuration.
type EventsConfig struct {
	// NatsURL, if set, backs the bus with NATS instead of the in-memory bus.
	NatsURL       string `mapstructure:"natsUrl"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// BridgeConfig holds Terminal Input Bridge configuration.
type BridgeConfig struct {
	BaseTypeDelayMS  int `mapstructure:"baseTypeDelayMs"`
	SubmitRetries    int `mapstructure:"submitRetries"`
	ProbeIntervalSec int `mapstructure:"probeIntervalSec"`
}

// InferenceConfig holds the opaque Inference collaborator client configuration.
type InferenceConfig struct {
	URL             string  `mapstructure:"url"`
	TimeoutSec      int     `mapstructure:"timeoutSec"`
	RatePerSecond   float64 `mapstructure:"ratePerSecond"`
	Burst           int     `mapstructure:"burst"`
	CacheSize       int     `mapstructure:"cacheSize"`
}

// StateMachineConfig holds task-lifecycle/intent-detection configuration.
type StateMachineConfig struct {
	QuestionPatterns   []string `mapstructure:"questionPatterns"`
	CompletionPatterns []string `mapstructure:"completionPatterns"`
	SessionIdleTTLSec  int      `mapstructure:"sessionIdleTtlSec"`
}

// BroadcastConfig holds Event Broadcaster configuration.
type BroadcastConfig struct {
	SubscriberBufferSize int `mapstructure:"subscriberBufferSize"`
	HeartbeatIntervalSec int `mapstructure:"heartbeatIntervalSec"`
	WriteGraceSec        int `mapstructure:"writeGraceSec"`
	MaxSubscribers       int `mapstructure:"maxSubscribers"`
}

// TracingConfig holds OpenTelemetry export configuration.
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	ServiceName  string `mapstructure:"serviceName"`
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./headspace.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "headspace")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "headspace")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("bridge.baseTypeDelayMs", 150)
	v.SetDefault("bridge.submitRetries", 3)
	v.SetDefault("bridge.probeIntervalSec", 15)

	v.SetDefault("inference.url", "")
	v.SetDefault("inference.timeoutSec", 10)
	v.SetDefault("inference.ratePerSecond", 2.0)
	v.SetDefault("inference.burst", 4)
	v.SetDefault("inference.cacheSize", 256)

	v.SetDefault("stateMachine.questionPatterns", []string{
		`\?\s*$`, `(?i)^which\b`, `(?i)^what\b`, `(?i)should i\b`,
		`(?i)do you want\b`, `(?i)would you like\b`, `(?i)\(y/n\)`,
		`(?i)press enter to`,
	})
	v.SetDefault("stateMachine.completionPatterns", []string{
		`(?i)\bdone\b`, `(?i)\bcompleted\b`, `(?i)\bfinished\b`,
		`(?i)ready for review`, `(?i)^implemented\b`,
	})
	v.SetDefault("stateMachine.sessionIdleTtlSec", 86400)

	v.SetDefault("broadcast.subscriberBufferSize", 100)
	v.SetDefault("broadcast.heartbeatIntervalSec", 30)
	v.SetDefault("broadcast.writeGraceSec", 60)
	v.SetDefault("broadcast.maxSubscribers", 64)

	v.SetDefault("tracing.otlpEndpoint", "")
	v.SetDefault("tracing.serviceName", "headspace")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use prefix HEADSPACE_ with snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given search path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HEADSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "HEADSPACE_LOG_LEVEL")
	_ = v.BindEnv("events.natsUrl", "HEADSPACE_EVENTS_NATS_URL")
	_ = v.BindEnv("database.path", "HEADSPACE_DB_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/headspace/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		errs = append(errs, "database.driver must be sqlite or postgres")
	}
	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Broadcast.SubscriberBufferSize <= 0 {
		errs = append(errs, "broadcast.subscriberBufferSize must be positive")
	}
	if cfg.StateMachine.SessionIdleTTLSec <= 0 {
		errs = append(errs, "stateMachine.sessionIdleTtlSec must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
