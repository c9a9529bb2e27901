package command

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// SnapshotCommand groups snapshot operations.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Snapshot barrier operations",
		Subcommands: []*cli.Command{
			{
				Name:  "advance",
				Usage: "Move one ingestor to a new snapshot id (normally done by the coordinator)",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "id", Usage: "New snapshot id", Required: true},
				},
				Action: runAdvance,
			},
		},
	}
}

type advanceResult struct {
	Ingestor string `json:"ingestor" yaml:"ingestor"`
	Previous int64  `json:"previous" yaml:"previous"`
	Current  int64  `json:"current" yaml:"current"`
}

func (r advanceResult) Headers() []string { return []string{"ingestor", "previous", "current"} }

func (r advanceResult) Rows() [][]string {
	return [][]string{{r.Ingestor, fmt.Sprint(r.Previous), fmt.Sprint(r.Current)}}
}

func runAdvance(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	next := c.Int64("id")
	ctx, cancel := s.context(c)
	defer cancel()
	prev, err := s.client.AdvanceSnapshot(ctx, s.flags.Ingestor, next)
	if err != nil {
		return fmt.Errorf("advance snapshot: %w", err)
	}
	return s.print(c, advanceResult{Ingestor: s.flags.Ingestor, Previous: prev, Current: next})
}
