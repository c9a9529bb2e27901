package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/server/rpc"
)

// WriteCommand submits one batch of graph operations to an ingestor.
func WriteCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "Submit a batch of operations and wait until it is durable",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON array of operations, - for stdin", Required: true},
			&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Routing key; selects the shard"},
			&cli.IntFlag{Name: "shard", Usage: "Explicit shard id (overrides --key)", Value: -1},
			&cli.Int64Flag{Name: "min-snapshot", Usage: "Minimum snapshot the batch depends on", Value: domain.NoMinSnapshot},
			&cli.StringFlag{Name: "request-id", Usage: "Request id (generated when empty)"},
		},
		Action: runWrite,
	}
}

type writeResult struct {
	RequestID  string `json:"request_id" yaml:"request_id"`
	ShardID    int32  `json:"shard_id" yaml:"shard_id"`
	SnapshotID int64  `json:"snapshot_id" yaml:"snapshot_id"`
}

func (r writeResult) Headers() []string { return []string{"request_id", "shard", "snapshot"} }

func (r writeResult) Rows() [][]string {
	return [][]string{{r.RequestID, strconv.Itoa(int(r.ShardID)), strconv.FormatInt(r.SnapshotID, 10)}}
}

func runWrite(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	ops, err := readOps(c.String("file"), c.App.Reader)
	if err != nil {
		return err
	}

	req := rpc.SubmitWriteRequest{
		RequestID: c.String("request-id"),
		Key:       c.String("key"),
		Ops:       ops,
	}
	if shard := c.Int("shard"); shard >= 0 {
		id := int32(shard)
		req.ShardID = &id
	} else if req.Key == "" {
		return fmt.Errorf("either --key or --shard is required")
	}
	if minSnap := c.Int64("min-snapshot"); minSnap != domain.NoMinSnapshot {
		req.MinSnapshot = &minSnap
	}

	ctx, cancel := s.context(c)
	defer cancel()
	resp, err := s.client.SubmitWrite(ctx, s.flags.Ingestor, req)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return s.print(c, writeResult{RequestID: resp.RequestID, ShardID: resp.ShardID, SnapshotID: resp.SnapshotID})
}

func readOps(path string, stdin io.Reader) ([]domain.Operation, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var ops []domain.Operation
	if err := json.NewDecoder(r).Decode(&ops); err != nil {
		return nil, fmt.Errorf("parse operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("no operations in %s", path)
	}
	return ops, nil
}
