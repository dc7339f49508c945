package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/databay/pkg/acl"
	"github.com/cuemby/databay/pkg/bus"
	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/durable"
	"github.com/cuemby/databay/pkg/log"
	"github.com/cuemby/databay/pkg/metrics"
	"github.com/cuemby/databay/pkg/plugin"
	"github.com/cuemby/databay/pkg/raftengine"
	"github.com/cuemby/databay/pkg/raftengine/grpctransport"
	"github.com/cuemby/databay/pkg/raftlog"
	"github.com/cuemby/databay/pkg/storagepool"
	"github.com/cuemby/databay/pkg/storagepool/localdriver"
	"github.com/cuemby/databay/pkg/storagepool/memdriver"
	"github.com/cuemby/databay/pkg/storagepool/s3driver"

	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a databay node: plugin host, bus, raft engine, and storage pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		initLogging(cfg)
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to databayd YAML config")
	rootCmd.AddCommand(serveCmd)
}

type node struct {
	aclEngine  *acl.Engine
	registry   *bus.Registry
	messageBus *bus.Bus
	pluginHost *plugin.Host
	raft       *raftengine.Engine
	raftLog    *raftlog.Log
	raftMeta   *durable.State[raftengine.PersistentState]
	pool       *storagepool.Pool
	grpcServer *grpc.Server
	collector  *metrics.Collector
}

func runServe(cfg Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	n := &node{}
	var err error

	n.aclEngine, err = acl.Open(filepath.Join(cfg.DataDir, "acl"))
	if err != nil {
		return fmt.Errorf("opening ACL engine: %w", err)
	}
	log.Info("ACL engine opened")

	n.registry = bus.NewRegistry()
	n.messageBus, err = bus.New(n.registry, bus.Config{
		Workers:              cfg.Bus.Workers,
		QueueDepth:           cfg.Bus.QueueDepth,
		RatePerSecond:        cfg.Bus.RatePerSecond,
		Burst:                cfg.Bus.Burst,
		IdempotencyCacheSize: cfg.Bus.IdempotencyCacheSize,
		IdempotencyTTL:       cfg.Bus.IdempotencyTTL,
		ACL:                  n.aclEngine,
	})
	if err != nil {
		return fmt.Errorf("constructing message bus: %w", err)
	}
	n.messageBus.Start()
	log.Info("message bus started")

	n.pluginHost = plugin.New(n.registry, plugin.Config{DrainTimeout: cfg.Plugins.DrainTimeout})
	if cfg.Plugins.Dir != "" {
		if err := n.pluginHost.LoadAll(context.Background(), cfg.Plugins.Dir); err != nil {
			log.Warn(fmt.Sprintf("plugin discovery failed: %v", err))
		}
	}

	if err := setupRaft(cfg, n); err != nil {
		return err
	}
	n.raft.Start()
	log.Info("raft engine started")

	if err := setupStoragePool(cfg, n); err != nil {
		return err
	}

	n.collector = metrics.NewCollector(n.pluginHost, n.messageBus, n.raft, n.pool)
	n.collector.Start()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", n.collector.HealthHandler())
	metricsMux.Handle("/ready", n.collector.ReadinessHandler())
	metricsMux.Handle("/live", n.collector.LivenessHandler())
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(fmt.Sprintf("metrics server error: %v", err))
		}
	}()
	log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", cfg.Metrics.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	n.collector.Stop()
	metricsServer.Close()
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	n.raft.Stop()
	n.messageBus.Stop()
	if err := n.pool.Close(); err != nil {
		log.Warn(fmt.Sprintf("closing storage pool: %v", err))
	}
	n.raftLog.Close()
	if err := n.raftMeta.Close(); err != nil {
		log.Warn(fmt.Sprintf("closing raft metadata: %v", err))
	}
	if err := n.aclEngine.Close(); err != nil {
		log.Warn(fmt.Sprintf("closing ACL engine: %v", err))
	}
	log.Info("shutdown complete")
	return nil
}

// setupRaft wires the hand-rolled consensus engine over a real gRPC
// transport when peers are configured, falling back to a single-node
// cluster talking to itself when they aren't.
func setupRaft(cfg Config, n *node) error {
	var err error
	n.raftLog, err = raftlog.Open(filepath.Join(cfg.DataDir, "raft-log"))
	if err != nil {
		return fmt.Errorf("opening raft log: %w", err)
	}

	n.raftMeta, err = durable.Open[raftengine.PersistentState](cfg.DataDir, "raft-meta")
	if err != nil {
		return fmt.Errorf("opening raft metadata: %w", err)
	}

	peers := make([]raftengine.NodeID, 0, len(cfg.Raft.Peers))
	addrs := make(map[raftengine.NodeID]string, len(cfg.Raft.Peers))
	for id, addr := range cfg.Raft.Peers {
		peers = append(peers, raftengine.NodeID(id))
		addrs[raftengine.NodeID(id)] = addr
	}
	if len(peers) == 0 {
		peers = []raftengine.NodeID{raftengine.NodeID(cfg.NodeID)}
	}

	transport := grpctransport.NewTransport(addrs)

	n.raft, err = raftengine.New(raftengine.Config{
		ID:                 raftengine.NodeID(cfg.NodeID),
		Peers:              peers,
		Log:                n.raftLog,
		Durable:            n.raftMeta,
		Transport:          transport,
		Apply:              n.applyCommand,
		Clock:              clock.New(),
		ElectionTimeoutMin: cfg.Raft.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Raft.ElectionTimeoutMax,
		HeartbeatInterval:  cfg.Raft.HeartbeatInterval,
	})
	if err != nil {
		return fmt.Errorf("constructing raft engine: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.Raft.BindAddr)
	if err != nil {
		return fmt.Errorf("binding raft listener: %w", err)
	}
	n.grpcServer = grpc.NewServer()
	grpctransport.RegisterServer(n.grpcServer, n.raft)
	go func() {
		if err := n.grpcServer.Serve(lis); err != nil {
			log.Warn(fmt.Sprintf("raft gRPC server stopped: %v", err))
		}
	}()
	log.Info(fmt.Sprintf("raft gRPC listening on %s", cfg.Raft.BindAddr))
	return nil
}

// applyCommand is the raft engine's apply callback. It logs each
// committed entry's index, name and size at debug level; no component
// consumes the entries.
func (n *node) applyCommand(index uint64, name string, command []byte) {
	log.Debug(fmt.Sprintf("applying committed entry %d (%s, %d bytes)", index, name, len(command)))
}

func setupStoragePool(cfg Config, n *node) error {
	var nodeConfigs []storagepool.NodeConfig
	for _, sn := range cfg.Storage.Nodes {
		driver, err := buildStorageDriver(sn)
		if err != nil {
			return fmt.Errorf("storage node %s: %w", sn.ID, err)
		}
		nodeConfigs = append(nodeConfigs, storagepool.NodeConfig{
			ID:       sn.ID,
			Tier:     storagepool.Tier(sn.Tier),
			Driver:   driver,
			Capacity: sn.Capacity,
		})
	}
	if len(nodeConfigs) == 0 {
		// No storage configured: mount a single in-memory Hot node so the
		// pool and its metrics are always usable out of the box.
		nodeConfigs = append(nodeConfigs, storagepool.NodeConfig{
			ID: "default-hot", Tier: storagepool.Hot, Driver: memdriver.New("mem"), Capacity: 1 << 30,
		})
	}

	pool, err := storagepool.Open(filepath.Join(cfg.DataDir, "storage"), nodeConfigs, clock.New())
	if err != nil {
		return fmt.Errorf("opening storage pool: %w", err)
	}
	n.pool = pool
	return nil
}

func buildStorageDriver(sn StorageNodeConfig) (storagepool.Driver, error) {
	switch sn.Driver {
	case "local", "":
		return localdriver.New(sn.Path)
	case "s3":
		return s3driver.New(context.Background(), s3driver.Config{
			Bucket:       sn.Bucket,
			Prefix:       sn.Prefix,
			Region:       sn.Region,
			Endpoint:     sn.Endpoint,
			UsePathStyle: sn.Endpoint != "",
		})
	case "memory":
		return memdriver.New(sn.ID), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sn.Driver)
	}
}
