package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/cluster"
	"github.com/yndnr/graphmesh-go/internal/coordinator"
	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/graphmesh-go/internal/infra/shutdown"
	"github.com/yndnr/graphmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/graphmesh-go/internal/ingest"
	"github.com/yndnr/graphmesh-go/internal/server/config"
	"github.com/yndnr/graphmesh-go/internal/server/rpc"
	"github.com/yndnr/graphmesh-go/internal/storage"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/internal/telemetry/logger"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// node holds the components shared by every role.
type node struct {
	cfg      *config.ServerConfig
	log      *slog.Logger
	metrics  *metric.Registry
	book     *cluster.AddressBook
	client   *rpc.Client
	server   *rpc.Server
	shutdown *shutdown.Handler
}

func runServer(c *cli.Context) error {
	cfg, loader, err := loadConfig(c)
	if err != nil {
		return err
	}

	lcfg := config.ToLoggerConfig(cfg)
	lcfg.Output = os.Stdout
	base := logger.New(lcfg)
	logger.Install(base)
	log := base.With("node_id", cfg.Node.ID, "role", cfg.Node.Role)

	log.Info("starting graphmesh-server",
		"version", buildinfo.Version,
		"config", loader.FilePath(),
		"settings", config.Sanitize(cfg))

	n := &node{
		cfg:      cfg,
		log:      log,
		shutdown: shutdown.NewHandler(cfg.Server.ShutdownTimeout, log),
	}
	if cfg.Metrics.Enabled {
		n.metrics = metric.NewRegistry()
	}

	if loader.FilePath() != "" {
		w, err := watchConfig(cfg, loader, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			n.shutdown.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	if err := n.start(c.Context); err != nil {
		// Release whatever already started.
		n.shutdown.Trigger("startup failed")
		_ = n.shutdown.Wait(context.Background())
		return err
	}

	log.Info("graphmesh-server started", "rpc_addr", n.server.Addr())
	if err := n.shutdown.Wait(c.Context); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("graphmesh-server stopped")
	return nil
}

func (n *node) start(ctx context.Context) error {
	disc, err := cluster.NewDiscovery(config.ToDiscoveryConfig(n.cfg, n.log))
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	n.shutdown.OnShutdown("discovery", func(context.Context) error {
		return errors.Join(disc.Leave(), disc.Shutdown())
	})

	n.book = cluster.NewAddressBook(disc, config.StaticMembers(n.cfg)...)

	rcfg := config.ToRPCServerConfig(n.cfg)
	if tc := config.ToTLSConfig(&n.cfg.Server); tc.Enabled() {
		material, err := tlsroots.Load(tc, n.log)
		if err != nil {
			return fmt.Errorf("load tls material: %w", err)
		}
		material.Watch()
		n.shutdown.OnShutdown("tls-watcher", func(context.Context) error {
			material.Close()
			return nil
		})
		rcfg.TLS = material.ServerConfig()
		n.client = rpc.NewClient(n.book, rpc.NewHTTPClient(material.ClientConfig()), rpc.WithTLS())
	} else {
		n.client = rpc.NewClient(n.book, rpc.NewHTTPClient(nil))
	}

	rcfg.Logger = n.log
	rcfg.Metrics = n.metrics
	n.server = rpc.NewServer(rcfg)

	var run func() error
	switch n.cfg.Node.Role {
	case domain.RoleIngestor:
		run, err = n.startIngestor(ctx, disc)
	case domain.RoleStore:
		err = n.startStore()
	case domain.RoleCoordinator:
		err = n.startCoordinator()
	default:
		err = fmt.Errorf("unknown role %q", n.cfg.Node.Role)
	}
	if err != nil {
		return err
	}

	if err := n.server.Start(); err != nil {
		return err
	}
	n.shutdown.OnShutdown("rpc-server", n.server.Shutdown)
	go func() {
		<-n.server.Done()
		n.shutdown.Trigger("rpc server exited")
	}()

	// The ingest service starts last so that its readiness check can only
	// open once this node is reachable.
	if run != nil {
		return run()
	}
	return nil
}

// startIngestor wires the WAL, the batch sender and the ingest service.
// The returned func starts the service.
func (n *node) startIngestor(ctx context.Context, disc *cluster.Discovery) (func() error, error) {
	shardMap, err := cluster.NewShardMap(config.ToShardMapConfig(n.cfg))
	if err != nil {
		return nil, fmt.Errorf("build shard map: %w", err)
	}

	walCfg, err := config.ToWALConfig(n.cfg, n.log)
	if err != nil {
		return nil, err
	}
	walLog, err := wal.Open(walCfg)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	n.shutdown.OnShutdown("wal", func(context.Context) error { return walLog.Close() })

	sender := ingest.NewBatchSender(config.ToSenderConfig(n.cfg), shardMap, n.client, n.log, n.metrics)
	n.shutdown.OnShutdown("batch-sender", func(context.Context) error {
		sender.Close()
		return nil
	})

	svc := ingest.NewService(config.ToIngestConfig(n.cfg), shardMap, walLog, sender, n.client, nil, n.log, n.metrics)
	if n.metrics != nil {
		n.metrics.Registerer().MustRegister(metric.NewCollector(svc))
	}
	n.server.RegisterIngest(rpc.NewIngestHandler(svc, shardMap, n.log))

	n.log.Info("ingestor configured",
		"owned_shards", shardMap.OwnedShards(),
		"stores", shardMap.StoreIDs(),
		"partition_strategy", shardMap.Strategy().Name())

	return func() error {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start ingest service: %w", err)
		}
		disc.AddListener(svc)
		n.shutdown.OnShutdown("ingest-service", func(context.Context) error {
			svc.Stop()
			return nil
		})
		return nil
	}, nil
}

// startStore opens the graph store and mounts StoreService.
func (n *node) startStore() error {
	kv, err := storage.OpenKV(config.ToKVConfig(n.cfg), n.log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	n.shutdown.OnShutdown("kv", func(context.Context) error { return kv.Close() })

	graph := storage.NewGraphStore(kv, n.log)
	n.server.RegisterStore(rpc.NewStoreHandler(config.ToStoreHandlerConfig(n.cfg), graph, n.log, n.metrics))
	n.log.Info("store configured", "engine", n.cfg.Store.Engine)
	return nil
}

// startCoordinator joins the raft group and starts the advance loop.
func (n *node) startCoordinator() error {
	fsm := coordinator.NewFSM(n.log)
	raftNode, err := coordinator.NewRaftNode(config.ToRaftConfig(n.cfg, n.log), fsm)
	if err != nil {
		return fmt.Errorf("start raft: %w", err)
	}
	n.shutdown.OnShutdown("raft", func(context.Context) error { return raftNode.Close() })

	coord := coordinator.New(config.ToCoordinatorConfig(n.cfg), fsm, raftNode, n.book,
		n.cfg.Cluster.Stores, n.client, n.client, n.log, n.metrics)
	coord.Start(raftNode.LeaderCh())
	n.shutdown.OnShutdown("coordinator", func(context.Context) error {
		coord.Stop()
		return nil
	})
	n.server.RegisterCoordinator(rpc.NewCoordinatorHandler(coord))
	n.log.Info("coordinator configured", "raft_addr", raftNode.Addr(), "stores", n.cfg.Cluster.Stores)
	return nil
}
