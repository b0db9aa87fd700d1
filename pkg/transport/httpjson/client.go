package httpjson

import (
    "crypto/tls"
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
    "github.com/paxoslabs/go-mpaxos/pkg/transport"
)

// Client is a thin HTTP client for the Paxos peer-to-peer and client-facing
// endpoints. It supports optional TLS configuration and simple retry with
// backoff for robustness.
type Client struct {
    httpc *http.Client
    transport *http.Transport
    isTLS bool
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) scheme() string {
    if c.isTLS { return "https" }
    return "http"
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    url := fmt.Sprintf("%s://%s/status", c.scheme(), addr)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil { return nil, err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            defer resp.Body.Close()
            if resp.StatusCode != http.StatusOK {
                b, _ := io.ReadAll(resp.Body)
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
            } else {
                return io.ReadAll(resp.Body)
            }
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

// postJSON posts body to path and decodes the JSON response into out,
// retrying transport-level failures with backoff. A non-2xx response still
// decodes into out (callers may carry an Error field) before reporting err.
func (c *Client) postJSON(ctx context.Context, addr, path string, body, out interface{}) error {
    url := fmt.Sprintf("%s://%s%s", c.scheme(), addr, path)
    b, err := json.Marshal(body)
    if err != nil { return err }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
        if err != nil { return err }
        httpReq.Header.Set("Content-Type", "application/json")
        resp, err := c.httpc.Do(httpReq)
        if err != nil {
            lastErr = err
        } else {
            func() {
                defer resp.Body.Close()
                raw, _ := io.ReadAll(resp.Body)
                if out != nil && len(raw) > 0 {
                    _ = json.Unmarshal(raw, out)
                }
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("%s status %d: %s", path, resp.StatusCode, string(raw))
                } else {
                    lastErr = nil
                }
            }()
            if lastErr == nil { return nil }
        }
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) SendP1A(ctx context.Context, addr string, req wire.P1A) (wire.P1B, error) {
    var out wire.P1B
    err := c.postJSON(ctx, addr, "/p1a", req, &out)
    return out, err
}

func (c *Client) SendP2A(ctx context.Context, addr string, req wire.P2A) (wire.P2B, error) {
    var out wire.P2B
    err := c.postJSON(ctx, addr, "/p2a", req, &out)
    return out, err
}

func (c *Client) SendDecision(ctx context.Context, addr string, dec wire.Decision) error {
    return c.postJSON(ctx, addr, "/decision", dec, nil)
}

func (c *Client) SendPropose(ctx context.Context, addr string, req wire.Propose) error {
    return c.postJSON(ctx, addr, "/propose", req, nil)
}

func (c *Client) SendClientRequest(ctx context.Context, addr string, req wire.ClientRequest) (wire.ClientResponse, error) {
    var out wire.ClientResponse
    if err := c.postJSON(ctx, addr, "/submit", req, &out); err != nil {
        if out.Error != "" {
            return out, fmt.Errorf(out.Error)
        }
        return out, err
    }
    if out.Error != "" {
        return out, fmt.Errorf(out.Error)
    }
    return out, nil
}

var _ transport.RPCClient = (*Client)(nil)
