package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/pkg/cmap"
)

// Resolver maps node ids to RPC addresses.
type Resolver interface {
	Resolve(id string) (string, bool)
	IDs(role string) []string
}

// peer holds the typed clients of one node.
type peer struct {
	submitWrite *connect.Client[SubmitWriteRequest, SubmitWriteResponse]
	advance     *connect.Client[AdvanceSnapshotRequest, AdvanceSnapshotResponse]
	apply       *connect.Client[domain.ApplyRequest, ApplyBatchResponse]
	applied     *connect.Client[OffsetsRequest, OffsetsResponse]
	tails       *connect.Client[OffsetsRequest, OffsetsResponse]
}

// Client calls other nodes by id. It implements the delivery, progress
// and snapshot-advance ports of the ingest and coordinator packages.
type Client struct {
	resolver   Resolver
	httpClient connect.HTTPClient
	options    []connect.ClientOption
	scheme     string

	peers *cmap.Map[string, *peer]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTLS makes bare host:port addresses resolve to https URLs. The
// http.Client passed to NewClient must trust the peers' certificates.
func WithTLS() ClientOption {
	return func(c *Client) {
		c.scheme = "https"
	}
}

// NewClient creates a client. httpClient may be nil.
func NewClient(resolver Resolver, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	c := &Client{
		resolver:   resolver,
		httpClient: httpClient,
		options:    []connect.ClientOption{connect.WithCodec(jsonCodec{})},
		scheme:     "http",
		peers:      cmap.New[string, *peer](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient returns an HTTP client whose transport dials with tlsCfg.
// A nil tlsCfg yields a plain client.
func NewHTTPClient(tlsCfg *tls.Config) *http.Client {
	if tlsCfg == nil {
		return &http.Client{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{Transport: transport}
}

func baseURL(scheme, addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return scheme + "://" + addr
}

func (c *Client) peer(id string) (*peer, error) {
	addr, ok := c.resolver.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("rpc: no address for node %q", id)
	}
	base := baseURL(c.scheme, addr)

	p, _ := c.peers.GetOrCompute(base, func() *peer {
		return &peer{
			submitWrite: connect.NewClient[SubmitWriteRequest, SubmitWriteResponse](c.httpClient, base+SubmitWriteProcedure, c.options...),
			advance:     connect.NewClient[AdvanceSnapshotRequest, AdvanceSnapshotResponse](c.httpClient, base+AdvanceSnapshotProcedure, c.options...),
			apply:       connect.NewClient[domain.ApplyRequest, ApplyBatchResponse](c.httpClient, base+ApplyBatchProcedure, c.options...),
			applied:     connect.NewClient[OffsetsRequest, OffsetsResponse](c.httpClient, base+GetAppliedOffsetsProcedure, c.options...),
			tails:       connect.NewClient[OffsetsRequest, OffsetsResponse](c.httpClient, base+GetTailOffsetsProcedure, c.options...),
		}
	})
	return p, nil
}

// ApplyBatch delivers one entry to a store.
func (c *Client) ApplyBatch(ctx context.Context, storeID string, req domain.ApplyRequest) error {
	p, err := c.peer(storeID)
	if err != nil {
		return err
	}
	if _, err := p.apply.CallUnary(ctx, connect.NewRequest(&req)); err != nil {
		return fromConnectError(err)
	}
	return nil
}

// AppliedOffsets reads a store's applied watermarks.
func (c *Client) AppliedOffsets(ctx context.Context, storeID string, shards []int32) ([]int64, error) {
	p, err := c.peer(storeID)
	if err != nil {
		return nil, err
	}
	resp, err := p.applied.CallUnary(ctx, connect.NewRequest(&OffsetsRequest{Shards: shards}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Offsets, nil
}

// AdvanceSnapshot pushes a new snapshot id to an ingestor.
func (c *Client) AdvanceSnapshot(ctx context.Context, ingestorID string, next int64) (int64, error) {
	p, err := c.peer(ingestorID)
	if err != nil {
		return domain.SnapshotUninitialized, err
	}
	resp, err := p.advance.CallUnary(ctx, connect.NewRequest(&AdvanceSnapshotRequest{SnapshotID: next}))
	if err != nil {
		return domain.SnapshotUninitialized, fromConnectError(err)
	}
	return resp.Msg.Previous, nil
}

// SubmitWrite sends a batch to an ingestor.
func (c *Client) SubmitWrite(ctx context.Context, ingestorID string, req SubmitWriteRequest) (*SubmitWriteResponse, error) {
	p, err := c.peer(ingestorID)
	if err != nil {
		return nil, err
	}
	resp, err := p.submitWrite.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg, nil
}

// GetTailOffsets asks the known coordinators in turn until one answers.
func (c *Client) GetTailOffsets(ctx context.Context, shards []int32) ([]int64, error) {
	ids := c.resolver.IDs(domain.RoleCoordinator)
	if len(ids) == 0 {
		return nil, domain.ErrNotReady.WithDetails("no coordinator known")
	}

	var errs []error
	for _, id := range ids {
		p, err := c.peer(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := p.tails.CallUnary(ctx, connect.NewRequest(&OffsetsRequest{Shards: shards}))
		if err != nil {
			errs = append(errs, fmt.Errorf("coordinator %s: %w", id, fromConnectError(err)))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Msg.Offsets) != len(shards) {
			errs = append(errs, fmt.Errorf("coordinator %s: %d offsets for %d shards", id, len(resp.Msg.Offsets), len(shards)))
			continue
		}
		return resp.Msg.Offsets, nil
	}
	return nil, errors.Join(errs...)
}
