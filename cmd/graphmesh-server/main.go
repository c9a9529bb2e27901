package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/infra/buildinfo"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "graphmesh-server",
		Usage:   "GraphMesh ingestion, storage and coordination node",
		Version: buildinfo.Get().String(),
		Flags:   globalFlags(),
		Action:  runServer,
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "Load and validate the configuration, then exit",
				Action: checkConfig,
			},
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, buildinfo.String())
					return nil
				},
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"GRAPHMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "node-id",
			Usage: "Stable node identifier (node.id)",
		},
		&cli.StringFlag{
			Name:  "role",
			Usage: "Node role: ingestor, store or coordinator (node.role)",
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Data directory (node.data_dir)",
		},
		&cli.StringFlag{
			Name:  "rpc-addr",
			Usage: "RPC listen address (server.rpc_addr)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (log.level)",
		},
	}
}

// flagOverrides maps explicitly set flags onto config keys.
func flagOverrides(c *cli.Context) map[string]any {
	keys := map[string]string{
		"node-id":   "node.id",
		"role":      "node.role",
		"data-dir":  "node.data_dir",
		"rpc-addr":  "server.rpc_addr",
		"log-level": "log.level",
	}
	out := make(map[string]any)
	for flag, key := range keys {
		if c.IsSet(flag) {
			out[key] = c.String(flag)
		}
	}
	return out
}
