package command

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/cli/connection"
	"github.com/yndnr/graphmesh-go/internal/cli/output"
	"github.com/yndnr/graphmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/graphmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/graphmesh-go/internal/server/rpc"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "graphmesh-cli",
		Usage:   "GraphMesh ingestion and operations tool",
		Version: buildinfo.Get().String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			WriteCommand(),
			SnapshotCommand(),
			OffsetsCommand(),
			NodeCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "ingestor",
			Aliases: []string{"i"},
			Usage:   "Ingestor RPC address",
			EnvVars: []string{"GRAPHMESH_INGESTOR"},
			Value:   "127.0.0.1:7480",
		},
		&cli.StringSliceFlag{
			Name:    "coordinator",
			Usage:   "Coordinator RPC address (repeatable)",
			EnvVars: []string{"GRAPHMESH_COORDINATORS"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Deadline for each request",
			Value: 30 * time.Second,
		},
		&cli.StringFlag{
			Name:    "tls-ca",
			Usage:   "CA bundle for TLS-enabled nodes (enables https)",
			EnvVars: []string{"GRAPHMESH_TLS_CA"},
		},
		&cli.StringFlag{
			Name:    "tls-cert",
			Usage:   "Client certificate for nodes that require one",
			EnvVars: []string{"GRAPHMESH_TLS_CERT"},
		},
		&cli.StringFlag{
			Name:    "tls-key",
			Usage:   "Client key matching --tls-cert",
			EnvVars: []string{"GRAPHMESH_TLS_KEY"},
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Ingestor     string
	Coordinators []string
	Output       output.Format
	Timeout      time.Duration
	TLS          tlsroots.Config
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	return &GlobalFlags{
		Ingestor:     c.String("ingestor"),
		Coordinators: c.StringSlice("coordinator"),
		Output:       format,
		Timeout:      c.Duration("timeout"),
		TLS: tlsroots.Config{
			CAFile:   c.String("tls-ca"),
			CertFile: c.String("tls-cert"),
			KeyFile:  c.String("tls-key"),
		},
	}, nil
}

// session bundles what a command needs to make calls and print results.
type session struct {
	flags  *GlobalFlags
	http   *http.Client
	client *rpc.Client
	tls    bool
}

func newSession(c *cli.Context) (*session, error) {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return nil, err
	}
	targets := connection.Targets{Coordinators: flags.Coordinators}
	if !flags.TLS.Enabled() {
		httpClient := rpc.NewHTTPClient(nil)
		return &session{
			flags:  flags,
			http:   httpClient,
			client: rpc.NewClient(targets, httpClient),
		}, nil
	}

	material, err := tlsroots.Load(flags.TLS, nil)
	if err != nil {
		return nil, err
	}
	httpClient := rpc.NewHTTPClient(material.ClientConfig())
	return &session{
		flags:  flags,
		http:   httpClient,
		client: rpc.NewClient(targets, httpClient, rpc.WithTLS()),
		tls:    true,
	}, nil
}

// url prefixes bare addresses with the session's scheme.
func (s *session) url(addr string) string {
	if s.tls && !strings.Contains(addr, "://") {
		return "https://" + addr
	}
	return addr
}

func (s *session) context(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, s.flags.Timeout)
}

func (s *session) print(c *cli.Context, data any) error {
	return output.NewFormatter(s.flags.Output).Format(c.App.Writer, data)
}

// int32s converts an --shards flag value.
func int32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
