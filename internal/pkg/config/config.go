package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the orchestrator. Values come
// from a YAML file; a handful of deployment-specific fields can be overridden
// through environment variables (see applyEnv).
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	MySQL   MySQLConfig   `yaml:"mysql"`
	Redis   RedisConfig   `yaml:"redis"`
	CRM     HTTPEndpoint  `yaml:"crm"`
	ROS     ROSConfig     `yaml:"ros"`
	WMS     WMSConfig     `yaml:"wms"`
	Saga    SagaConfig    `yaml:"saga"`
}

type ServiceConfig struct {
	Name           string `yaml:"name"`
	Port           int    `yaml:"port"`
	LogLevel       string `yaml:"log_level"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	OrderTopic   string   `yaml:"order_topic"`
	OutcomeTopic string   `yaml:"outcome_topic"`
	GroupID      string   `yaml:"group_id"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// HTTPEndpoint describes one HTTP-addressed remote system. HTTP calls take
// their deadline from the per-order processing context, so there is no
// per-endpoint timeout here.
type HTTPEndpoint struct {
	URL string `yaml:"url"`
}

// ROSConfig is the route-optimization endpoint; the API key authenticates
// every request.
type ROSConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// WMSConfig is the warehouse endpoint, a plain TCP address.
type WMSConfig struct {
	Addr    string   `yaml:"addr"`
	Timeout Duration `yaml:"timeout"`
}

type SagaConfig struct {
	WorkerPoolSize    int      `yaml:"worker_pool_size"`
	InflightTTL       Duration `yaml:"inflight_ttl"`
	ProcessingTimeout Duration `yaml:"processing_timeout"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "saga-orchestrator",
			Port:           8080,
			LogLevel:       "info",
			JaegerEndpoint: "http://localhost:14268/api/traces",
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			OrderTopic:   "order-fulfillment-requests",
			OutcomeTopic: "fulfillment-outcomes",
			GroupID:      "saga-orchestrator",
		},
		MySQL: MySQLConfig{DSN: "root:root@tcp(localhost:3306)/fulfillment?parseTime=true"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		CRM:   HTTPEndpoint{URL: "http://localhost:8091/crm"},
		ROS:   ROSConfig{URL: "http://localhost:8092/optimize"},
		WMS:   WMSConfig{Addr: "localhost:9400", Timeout: Duration(5 * time.Second)},
		Saga: SagaConfig{
			WorkerPoolSize:    16,
			InflightTTL:       Duration(2 * time.Minute),
			ProcessingTimeout: Duration(2 * time.Minute),
		},
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = []string{v}
	}
	if v, ok := os.LookupEnv("MYSQL_DSN"); ok {
		c.MySQL.DSN = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("ROS_API_KEY"); ok {
		c.ROS.APIKey = v
	}
	if v, ok := os.LookupEnv("JAEGER_ENDPOINT"); ok {
		c.Service.JaegerEndpoint = v
	}
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("config: at least one kafka broker is required")
	}
	if c.MySQL.DSN == "" {
		return errors.New("config: mysql dsn is required")
	}
	if c.Saga.WorkerPoolSize <= 0 {
		return errors.New("config: worker_pool_size must be positive")
	}
	return nil
}
