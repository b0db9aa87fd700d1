package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
	"github.com/paxoslabs/go-mpaxos/pkg/transport"
)

type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithBlock(),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return nil, err
	}
	defer rel()
	out := new(statusBlob)
	if err := cc.Invoke(cctx, "/paxos.v1.Paxos/GetStatus", &empty{}, out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) SendP1A(ctx context.Context, addr string, req wire.P1A) (wire.P1B, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp wire.P1B
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer rel()
	if err := cc.Invoke(cctx, "/paxos.v1.Paxos/P1A", &req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) SendP2A(ctx context.Context, addr string, req wire.P2A) (wire.P2B, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp wire.P2B
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer rel()
	if err := cc.Invoke(cctx, "/paxos.v1.Paxos/P2A", &req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) SendDecision(ctx context.Context, addr string, dec wire.Decision) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return err
	}
	defer rel()
	return cc.Invoke(cctx, "/paxos.v1.Paxos/Decision", &dec, &empty{})
}

func (c *Client) SendPropose(ctx context.Context, addr string, req wire.Propose) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return err
	}
	defer rel()
	return cc.Invoke(cctx, "/paxos.v1.Paxos/Propose", &req, &empty{})
}

func (c *Client) SendClientRequest(ctx context.Context, addr string, req wire.ClientRequest) (wire.ClientResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp wire.ClientResponse
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer rel()
	if err := cc.Invoke(cctx, "/paxos.v1.Paxos/ClientRequest", &req, &resp); err != nil {
		return resp, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

var _ transport.RPCClient = (*Client)(nil)

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	if c.cm == nil {
		c.cm = NewConnManager(30*time.Second, c.dialCtx)
	}
	return c.cm.Get(ctx, addr)
}
