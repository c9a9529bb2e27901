package main

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/infra/confloader"
	"github.com/yndnr/graphmesh-go/internal/server/config"
	"github.com/yndnr/graphmesh-go/internal/telemetry/logger"
)

// loadConfig layers defaults, file, environment and flags, then validates.
func loadConfig(c *cli.Context) (*config.ServerConfig, *confloader.Loader, error) {
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(flagOverrides(c)),
	)
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Node.ID == "" {
		id, err := config.GenerateNodeID()
		if err != nil {
			return nil, nil, err
		}
		cfg.Node.ID = id
	}
	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, loader, nil
}

func checkConfig(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "configuration ok: node %s, role %s\n", cfg.Node.ID, cfg.Node.Role)
	return nil
}

// watchConfig applies live-reloadable settings when the config file changes.
func watchConfig(cfg *config.ServerConfig, loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(loader.FilePath()); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(path string) {
		next := config.Default()
		if err := loader.Reload(next); err != nil {
			log.Warn("config reload failed, keeping current settings", "file", path, "error", err)
			return
		}
		if next.Node.ID == "" {
			next.Node.ID = cfg.Node.ID
		}
		if err := config.Verify(next); err != nil {
			log.Warn("reloaded config is invalid, keeping current settings", "file", path, "error", err)
			return
		}
		if next.Log.Level != logger.GetLevel() {
			logger.SetLevel(next.Log.Level)
			log.Info("log level changed", "level", next.Log.Level)
		}
	})
	w.StartAsync()
	return w, nil
}
