package command

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// OffsetsCommand groups progress queries.
func OffsetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "offsets",
		Usage: "Inspect delivery progress",
		Subcommands: []*cli.Command{
			{
				Name:   "tails",
				Usage:  "Offsets applied by every store, as reported by a coordinator",
				Flags:  []cli.Flag{shardsFlag()},
				Action: runTails,
			},
			{
				Name:  "applied",
				Usage: "Offsets applied by one store",
				Flags: []cli.Flag{
					shardsFlag(),
					&cli.StringFlag{Name: "store", Usage: "Store RPC address", Required: true},
				},
				Action: runApplied,
			},
		},
	}
}

func shardsFlag() cli.Flag {
	return &cli.IntSliceFlag{Name: "shards", Usage: "Shard ids, comma separated", Required: true}
}

type offsetTable struct {
	Shards  []int32 `json:"shards" yaml:"shards"`
	Offsets []int64 `json:"offsets" yaml:"offsets"`
}

func (o offsetTable) Headers() []string { return []string{"shard", "offset"} }

func (o offsetTable) Rows() [][]string {
	rows := make([][]string, len(o.Shards))
	for i, s := range o.Shards {
		off := "-"
		if i < len(o.Offsets) && o.Offsets[i] >= 0 {
			off = fmt.Sprint(o.Offsets[i])
		}
		rows[i] = []string{fmt.Sprint(s), off}
	}
	return rows
}

func runTails(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	if len(s.flags.Coordinators) == 0 {
		return fmt.Errorf("--coordinator is required")
	}
	shards := int32s(c.IntSlice("shards"))
	ctx, cancel := s.context(c)
	defer cancel()
	offsets, err := s.client.GetTailOffsets(ctx, shards)
	if err != nil {
		return fmt.Errorf("tail offsets: %w", err)
	}
	return s.print(c, offsetTable{Shards: shards, Offsets: offsets})
}

func runApplied(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	shards := int32s(c.IntSlice("shards"))
	ctx, cancel := s.context(c)
	defer cancel()
	offsets, err := s.client.AppliedOffsets(ctx, c.String("store"), shards)
	if err != nil {
		return fmt.Errorf("applied offsets: %w", err)
	}
	return s.print(c, offsetTable{Shards: shards, Offsets: offsets})
}
