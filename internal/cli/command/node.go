package command

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/cli/connection"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// NodeCommand groups node health commands.
func NodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "Node health and status",
		Subcommands: []*cli.Command{
			{
				Name:      "ping",
				Usage:     "Check /healthz of one or more nodes",
				ArgsUsage: "ADDR...",
				Action:    runPing,
			},
			{
				Name:      "status",
				Usage:     "Show a node's GraphMesh metrics",
				ArgsUsage: "ADDR",
				Action:    runStatus,
			},
		},
	}
}

type pingRow struct {
	Addr    string `json:"addr" yaml:"addr"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

type pingTable []pingRow

func (p pingTable) Headers() []string { return []string{"addr", "healthy", "latency", "error"} }

func (p pingTable) Rows() [][]string {
	rows := make([][]string, len(p))
	for i, r := range p {
		rows[i] = []string{r.Addr, strconv.FormatBool(r.Healthy), r.Latency, r.Error}
	}
	return rows
}

func runPing(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one address is required")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.context(c)
	defer cancel()

	out := make(pingTable, 0, c.NArg())
	unhealthy := 0
	for _, addr := range c.Args().Slice() {
		row := pingRow{Addr: addr}
		d, err := connection.Ping(ctx, s.http, s.url(addr))
		if err != nil {
			row.Error = err.Error()
			unhealthy++
		} else {
			row.Healthy = true
			row.Latency = d.String()
		}
		out = append(out, row)
	}
	if err := s.print(c, out); err != nil {
		return err
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d nodes unhealthy", unhealthy, len(out))
	}
	return nil
}

type statusTable []connection.Sample

func (t statusTable) Headers() []string { return []string{"metric", "labels", "value"} }

func (t statusTable) Rows() [][]string {
	rows := make([][]string, len(t))
	for i, s := range t {
		rows[i] = []string{s.Name, s.Labels, strconv.FormatFloat(s.Value, 'f', -1, 64)}
	}
	return rows
}

func runStatus(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one address is required")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.context(c)
	defer cancel()
	samples, err := connection.ScrapeMetrics(ctx, s.http, s.url(c.Args().First()), metric.Namespace+"_")
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return s.print(c, statusTable(samples))
}
