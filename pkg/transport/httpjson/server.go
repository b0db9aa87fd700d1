package httpjson

import (
    "crypto/tls"
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/paxoslabs/go-mpaxos/pkg/transport"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
    "github.com/paxoslabs/go-mpaxos/pkg/observability/tracing"
)

// Server is a plain HTTP/JSON server exposing the Paxos peer-to-peer
// endpoints (P1A/P2A/Decision/Propose) plus the client-facing
// status/submit endpoints. bootstrap selects it only when MgmtProto is
// "http"; every other value selects the gRPC transport.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server and registers handlers backed by the
// provided functions. The server is shut down when the context is
// canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, p1a transport.P1AFunc, p2a transport.P2AFunc, decision transport.DecisionFunc, propose transport.ProposeFunc, clientReq transport.ClientRequestFunc) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())

    mux.HandleFunc("/p1a", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var req wire.P1A
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.p1a")
        defer end()
        resp, err := p1a(ctx, req)
        if err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/p2a", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var req wire.P2A
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.p2a")
        defer end()
        resp, err := p2a(ctx, req)
        if err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/decision", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var dec wire.Decision
        if err := json.NewDecoder(r.Body).Decode(&dec); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        if err := decision(r.Context(), dec); err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        w.WriteHeader(http.StatusOK)
    })
    mux.HandleFunc("/propose", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var req wire.Propose
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        if err := propose(r.Context(), req); err != nil { http.Error(w, err.Error(), http.StatusInternalServerError); return }
        w.WriteHeader(http.StatusOK)
    })
    mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        var req wire.ClientRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.submit")
        defer end()
        resp, err := clientReq(ctx, req)
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusInternalServerError, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })

    s.srv = &http.Server{Addr: s.bind, Handler: mux}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Printf("httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)
