package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// DARKPOOL_STORAGE_BACKEND=redis.
const EnvPrefix = "DARKPOOL"

// Config represents the application configuration
type Config struct {
	Server struct {
		GRPCAddr       string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
		HTTPAddr       string `mapstructure:"http_addr" yaml:"http_addr"`
		LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
		LogFormat      string `mapstructure:"log_format" yaml:"log_format"`
		ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	} `mapstructure:"server" yaml:"server"`

	Storage struct {
		Backend string `mapstructure:"backend" yaml:"backend"`
		Redis   struct {
			Addr     string `mapstructure:"addr" yaml:"addr"`
			Password string `mapstructure:"password" yaml:"password,omitempty"`
			DB       int    `mapstructure:"db" yaml:"db"`
			Prefix   string `mapstructure:"prefix" yaml:"prefix"`
		} `mapstructure:"redis" yaml:"redis"`
		Pebble struct {
			Path string `mapstructure:"path" yaml:"path"`
		} `mapstructure:"pebble" yaml:"pebble"`
	} `mapstructure:"storage" yaml:"storage"`

	Kafka struct {
		Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
		Brokers         []string `mapstructure:"brokers" yaml:"brokers"`
		EventsTopic     string   `mapstructure:"events_topic" yaml:"events_topic"`
		DelegationTopic string   `mapstructure:"delegation_topic" yaml:"delegation_topic"`
	} `mapstructure:"kafka" yaml:"kafka"`

	Queue struct {
		Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
		Brokers  []string `mapstructure:"brokers" yaml:"brokers"`
		Topic    string   `mapstructure:"topic" yaml:"topic"`
		PoolSize int      `mapstructure:"pool_size" yaml:"pool_size"`
	} `mapstructure:"queue" yaml:"queue"`

	Delegation struct {
		Mode         string `mapstructure:"mode" yaml:"mode"`
		Validator    string `mapstructure:"validator" yaml:"validator,omitempty"`
		CommitFreqMs uint32 `mapstructure:"commit_freq_ms" yaml:"commit_freq_ms"`
	} `mapstructure:"delegation" yaml:"delegation"`

	Matching struct {
		AllowPartialFill bool `mapstructure:"allow_partial_fill" yaml:"allow_partial_fill"`
		RequireCustodian bool `mapstructure:"require_custodian" yaml:"require_custodian"`
	} `mapstructure:"matching" yaml:"matching"`

	Auth struct {
		Mode string `mapstructure:"mode" yaml:"mode"`
	} `mapstructure:"auth" yaml:"auth"`

	Telemetry struct {
		Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
		Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	} `mapstructure:"telemetry" yaml:"telemetry"`

	// PrintConfig is set by the -print-config flag.
	PrintConfig bool `mapstructure:"-" yaml:"-"`
}

var defaults = map[string]any{
	"server.grpc_addr":            ":50051",
	"server.http_addr":            ":8080",
	"server.log_level":            "info",
	"server.log_format":           "pretty",
	"server.service_version":      "dev",
	"storage.backend":             "memory",
	"storage.redis.addr":          "localhost:6379",
	"storage.redis.password":      "",
	"storage.redis.db":            0,
	"storage.redis.prefix":        "darkpool",
	"storage.pebble.path":         "data/darkpool",
	"kafka.enabled":               false,
	"kafka.brokers":               []string{"localhost:9092"},
	"kafka.events_topic":          "darkpool-events",
	"kafka.delegation_topic":      "darkpool-delegations",
	"queue.enabled":               false,
	"queue.brokers":               []string{"localhost:9092"},
	"queue.topic":                 "darkpool-events",
	"queue.pool_size":             4,
	"delegation.mode":             "local",
	"delegation.validator":        "",
	"delegation.commit_freq_ms":   30000,
	"matching.allow_partial_fill": false,
	"matching.require_custodian":  false,
	"auth.mode":                   "signature",
	"telemetry.enabled":           false,
	"telemetry.endpoint":          "localhost:4317",
}

// LoadConfig loads the configuration from the process's command line.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load resolves the configuration from, lowest precedence first: defaults,
// the YAML file named by -config, .env and DARKPOOL_* environment
// variables, and explicitly set flags.
func Load(args []string) (*Config, error) {
	flags := flag.NewFlagSet("darkpool", flag.ContinueOnError)
	configFile := flags.String("config", "", "Path to config file (YAML)")
	envFile := flags.String("env_file", ".env", "Path to .env file")
	grpcPort := flags.Int("grpc_port", 50051, "The gRPC server port")
	httpPort := flags.Int("http_port", 8080, "The HTTP server port")
	logLevel := flags.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat := flags.String("log_format", "pretty", "Log format: json, pretty")
	printConfig := flags.Bool("print-config", false, "Print the effective configuration and exit")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := loadEnvFile(*envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grpc_port":
			cfg.Server.GRPCAddr = fmt.Sprintf(":%d", *grpcPort)
		case "http_port":
			cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
		case "log_level":
			cfg.Server.LogLevel = *logLevel
		case "log_format":
			cfg.Server.LogFormat = *logFormat
		}
	})
	cfg.PrintConfig = *printConfig

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks enumerated settings and required values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr must not be empty")
		}
	case "pebble":
		if c.Storage.Pebble.Path == "" {
			return errors.New("storage.pebble.path must not be empty")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Delegation.Mode {
	case "local":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.DelegationTopic == "" {
			return errors.New("kafka delegation needs kafka.brokers and kafka.delegation_topic")
		}
	default:
		return fmt.Errorf("unknown delegation mode %q", c.Delegation.Mode)
	}
	if c.Delegation.CommitFreqMs == 0 {
		return errors.New("delegation.commit_freq_ms must be positive")
	}

	switch c.Auth.Mode {
	case "signature", "trusted":
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty")
	}
	if c.Queue.Enabled && len(c.Queue.Brokers) == 0 {
		return errors.New("queue.brokers must not be empty")
	}
	return nil
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
