package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/databay/pkg/log"
)

// Config is databayd's process-level configuration, decoded from a single
// YAML file. Sourcing and hot-reload are out of scope; this struct only
// carries what every engine's constructor needs to start.
type Config struct {
	NodeID  string `yaml:"nodeId"`
	DataDir string `yaml:"dataDir"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Raft struct {
		BindAddr           string            `yaml:"bindAddr"`
		Peers              map[string]string `yaml:"peers"` // nodeID -> host:port, including self
		ElectionTimeoutMin time.Duration     `yaml:"electionTimeoutMin"`
		ElectionTimeoutMax time.Duration     `yaml:"electionTimeoutMax"`
		HeartbeatInterval  time.Duration     `yaml:"heartbeatInterval"`
	} `yaml:"raft"`

	Bus struct {
		Workers              int           `yaml:"workers"`
		QueueDepth           int           `yaml:"queueDepth"`
		RatePerSecond        float64       `yaml:"ratePerSecond"`
		Burst                int           `yaml:"burst"`
		IdempotencyCacheSize int           `yaml:"idempotencyCacheSize"`
		IdempotencyTTL       time.Duration `yaml:"idempotencyTTL"`
	} `yaml:"bus"`

	Plugins struct {
		Dir          string        `yaml:"dir"`
		DrainTimeout time.Duration `yaml:"drainTimeout"`
	} `yaml:"plugins"`

	Storage struct {
		Nodes []StorageNodeConfig `yaml:"nodes"`
	} `yaml:"storage"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// StorageNodeConfig describes one mounted storage backend in YAML.
type StorageNodeConfig struct {
	ID       string `yaml:"id"`
	Tier     string `yaml:"tier"` // Hot, Warm, Cold
	Driver   string `yaml:"driver"` // local, s3, memory
	Path     string `yaml:"path"`  // localdriver basePath
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Capacity int64  `yaml:"capacity"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.NodeID = "node-1"
	cfg.DataDir = "./databay-data"
	cfg.Log.Level = "info"
	cfg.Raft.BindAddr = "127.0.0.1:7300"
	cfg.Raft.ElectionTimeoutMin = 300 * time.Millisecond
	cfg.Raft.ElectionTimeoutMax = 600 * time.Millisecond
	cfg.Raft.HeartbeatInterval = 150 * time.Millisecond
	cfg.Bus.Workers = 8
	cfg.Bus.QueueDepth = 256
	cfg.Bus.IdempotencyCacheSize = 4096
	cfg.Bus.IdempotencyTTL = 5 * time.Minute
	cfg.Plugins.DrainTimeout = 10 * time.Second
	cfg.Metrics.Addr = "127.0.0.1:9090"
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func initLogging(cfg Config) {
	level := log.Level(cfg.Log.Level)
	if level == "" {
		level = log.InfoLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: cfg.Log.JSON})
}
