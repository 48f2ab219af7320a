package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rzbill/replog/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Cluster   ClusterConfig  `mapstructure:"cluster"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Server    ServerConfig   `mapstructure:"server"`
	Gossip    GossipConfig   `mapstructure:"gossip"`
	Snapshots SnapshotConfig `mapstructure:"snapshots"`
	Host      HostConfig     `mapstructure:"host"`
	Publish   PublishConfig  `mapstructure:"publish"`
	Log       log.Config     `mapstructure:"log"`
}

// ClusterConfig identifies this replica. An empty ID is filled in at
// startup.
type ClusterConfig struct {
	ID string `mapstructure:"id"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Engine is pebble, bolt, sqlite or memory.
	Engine        string        `mapstructure:"engine"`
	DataDir       string        `mapstructure:"data_dir"`
	Fsync         string        `mapstructure:"fsync"`
	FsyncInterval time.Duration `mapstructure:"fsync_interval"`
}

type ServerConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// GossipConfig lists the peers notifications are sent to.
type GossipConfig struct {
	Peers   []string      `mapstructure:"peers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"`
}

// HostConfig tunes stream activations.
type HostConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	WriteRetries     int           `mapstructure:"write_retries"`
	MaxWriteAttempts int           `mapstructure:"max_write_attempts"`
}

// PublishConfig enables commit publishers.
type PublishConfig struct {
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// Engines lists the accepted storage engines.
var Engines = []string{"pebble", "bolt", "sqlite", "memory"}

// SharedEngines lists the engines several replica processes can open at
// once. Replicas that gossip must share one backend.
var SharedEngines = []string{"sqlite"}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Engine:  "pebble",
			DataDir: DefaultDataDir(),
			Fsync:   "always",
		},
		Server: ServerConfig{
			GRPCAddr: ":7070",
			HTTPAddr: ":8080",
		},
		Gossip:    GossipConfig{Timeout: 2 * time.Second},
		Snapshots: SnapshotConfig{Enabled: true, Interval: 100},
		Host: HostConfig{
			IdleTimeout:      10 * time.Minute,
			WriteRetries:     8,
			MaxWriteAttempts: 5,
		},
		Publish: PublishConfig{
			Kafka:    KafkaConfig{Topic: "replog.commits"},
			RabbitMQ: RabbitMQConfig{Exchange: "replog.commits"},
		},
		Log: log.Config{Level: "info", Format: "json"},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("cluster.id", d.Cluster.ID)
	v.SetDefault("storage.engine", d.Storage.Engine)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.fsync", d.Storage.Fsync)
	v.SetDefault("storage.fsync_interval", d.Storage.FsyncInterval)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("gossip.peers", d.Gossip.Peers)
	v.SetDefault("gossip.timeout", d.Gossip.Timeout)
	v.SetDefault("snapshots.enabled", d.Snapshots.Enabled)
	v.SetDefault("snapshots.interval", d.Snapshots.Interval)
	v.SetDefault("host.idle_timeout", d.Host.IdleTimeout)
	v.SetDefault("host.write_retries", d.Host.WriteRetries)
	v.SetDefault("host.max_write_attempts", d.Host.MaxWriteAttempts)
	v.SetDefault("publish.kafka.enabled", d.Publish.Kafka.Enabled)
	v.SetDefault("publish.kafka.brokers", d.Publish.Kafka.Brokers)
	v.SetDefault("publish.kafka.topic", d.Publish.Kafka.Topic)
	v.SetDefault("publish.rabbitmq.enabled", d.Publish.RabbitMQ.Enabled)
	v.SetDefault("publish.rabbitmq.url", d.Publish.RabbitMQ.URL)
	v.SetDefault("publish.rabbitmq.exchange", d.Publish.RabbitMQ.Exchange)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.outputs", d.Log.Outputs)
}

// Load reads configuration from a JSON or YAML file (by extension) and
// overlays REPLOG_* environment variables, e.g. REPLOG_STORAGE_ENGINE for
// storage.engine. If path is empty only defaults and env are used. The
// result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("replog")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !contains(Engines, c.Storage.Engine) {
		return fmt.Errorf("storage.engine must be one of %s", strings.Join(Engines, "|"))
	}
	if c.Storage.Engine != "memory" && c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	switch strings.ToLower(c.Storage.Fsync) {
	case "always", "interval", "never":
	default:
		return errors.New("storage.fsync must be always|interval|never")
	}
	if c.Snapshots.Enabled && c.Snapshots.Interval <= 0 {
		return errors.New("snapshots.interval must be positive")
	}
	if c.Host.MaxWriteAttempts < 0 || c.Host.WriteRetries < 0 {
		return errors.New("host write retries and attempts must not be negative")
	}
	for _, p := range c.Gossip.Peers {
		if strings.TrimSpace(p) == "" {
			return errors.New("gossip.peers must not contain empty addresses")
		}
	}
	if len(c.Gossip.Peers) > 0 && !contains(SharedEngines, c.Storage.Engine) {
		return fmt.Errorf("gossip.peers needs storage shared by every replica (%s); %s is local to this process",
			strings.Join(SharedEngines, "|"), c.Storage.Engine)
	}
	if c.Publish.Kafka.Enabled {
		if len(c.Publish.Kafka.Brokers) == 0 {
			return errors.New("publish.kafka.brokers is required when kafka is enabled")
		}
		if c.Publish.Kafka.Topic == "" {
			return errors.New("publish.kafka.topic is required when kafka is enabled")
		}
	}
	if c.Publish.RabbitMQ.Enabled && c.Publish.RabbitMQ.URL == "" {
		return errors.New("publish.rabbitmq.url is required when rabbitmq is enabled")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
