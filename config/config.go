package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportWebsocket = "websocket"
	TransportKafka     = "kafka"
)

// Client libraries for the kafka transport
const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

// Snapshot stores
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the daemon configuration
type Config struct {
	Server struct {
		GRPCAddr  string `yaml:"grpc_addr"`
		HTTPAddr  string `yaml:"http_addr"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`

		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Transport struct {
		Kind         string `yaml:"kind"`
		WebsocketURL string `yaml:"websocket_url"`
	} `yaml:"transport"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		EventTopic   string   `yaml:"event_topic"`
		RequestTopic string   `yaml:"request_topic"`
		GroupID      string   `yaml:"group_id"`
		Partition    int32    `yaml:"partition"`
		Client       string   `yaml:"client"`
	} `yaml:"kafka"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Snapshot struct {
		Store    string        `yaml:"store"`
		Interval time.Duration `yaml:"interval"`
		Restore  bool          `yaml:"restore"`
	} `yaml:"snapshot"`

	Telemetry struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"telemetry"`

	Gateway struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"gateway"`

	SessionFile string `yaml:"session_file"`
	EnvFile     string `yaml:"env_file"`
}

// LoadConfig loads the configuration from the process's command line
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load parses args as flags, then overlays the YAML file named by -config
// when one is given.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("replicad", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "Path to config file (YAML)")
		grpcPort    = fs.Int("grpc_port", 50051, "The gRPC admin server port")
		httpPort    = fs.Int("http_port", 8080, "The HTTP admin server port")
		logLevel    = fs.String("log_level", "info", "Log level: debug, info, warn, error")
		logFormat   = fs.String("log_format", "pretty", "Log format: json, pretty")
		transport   = fs.String("transport", TransportWebsocket, "Event transport: websocket, kafka")
		wsURL       = fs.String("ws_url", "", "Websocket URL of the matching engine session")
		brokers     = fs.String("kafka_brokers", "localhost:9092", "Comma separated kafka brokers")
		kafkaClient = fs.String("kafka_client", ClientKafkaGo, "Kafka client library: kafka-go, sarama")
		store       = fs.String("snapshot_store", StoreNone, "Snapshot store: none, memory, redis")
		sessionFile = fs.String("session", "", "Path to the session seed file")
		envFile     = fs.String("env_file", "", "Path to a .env file with MARKET_* variables")
		corsOrigins = fs.String("cors_origins", "", "Comma separated origins allowed to call the HTTP API")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.Server.GRPCAddr = fmt.Sprintf(":%d", *grpcPort)
	cfg.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
	cfg.Server.LogLevel = *logLevel
	cfg.Server.LogFormat = *logFormat
	cfg.Server.CORSOrigins = splitList(*corsOrigins)
	cfg.Transport.Kind = *transport
	cfg.Transport.WebsocketURL = *wsURL
	cfg.Kafka.Brokers = splitList(*brokers)
	cfg.Kafka.EventTopic = "market-events"
	cfg.Kafka.RequestTopic = "market-requests"
	cfg.Kafka.Client = *kafkaClient
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Prefix = "replica"
	cfg.Redis.TTL = time.Hour
	cfg.Snapshot.Store = *store
	cfg.Snapshot.Interval = 10 * time.Second
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.SessionFile = *sessionFile
	cfg.EnvFile = *envFile

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg
func (c *Config) LoadFile(path string) error {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(yamlFile, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks the option values that select components
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportWebsocket:
		if c.Transport.WebsocketURL == "" {
			return fmt.Errorf("%w: websocket transport needs a url", ErrInvalidConfig)
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka transport needs brokers", ErrInvalidConfig)
		}
		if c.Kafka.Client != ClientKafkaGo && c.Kafka.Client != ClientSarama {
			return fmt.Errorf("%w: unknown kafka client %q", ErrInvalidConfig, c.Kafka.Client)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}

	switch c.Snapshot.Store {
	case StoreNone, StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("%w: unknown snapshot store %q", ErrInvalidConfig, c.Snapshot.Store)
	}
	if c.Snapshot.Store != StoreNone && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("%w: snapshot interval must be positive", ErrInvalidConfig)
	}
	// Resuming needs stream positions, which only kafka provides.
	if c.Snapshot.Restore && c.Transport.Kind != TransportKafka {
		return fmt.Errorf("%w: snapshot restore needs the kafka transport", ErrInvalidConfig)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
