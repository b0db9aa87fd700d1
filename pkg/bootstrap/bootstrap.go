package bootstrap

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "time"

    "github.com/paxoslabs/go-mpaxos/internal/demoapp"
    "github.com/paxoslabs/go-mpaxos/pkg/discovery"
    dDNS "github.com/paxoslabs/go-mpaxos/pkg/discovery/dns"
    dFile "github.com/paxoslabs/go-mpaxos/pkg/discovery/file"
    dStatic "github.com/paxoslabs/go-mpaxos/pkg/discovery/static"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos/node"
    tlsx "github.com/paxoslabs/go-mpaxos/pkg/security/tlsconfig"
    "github.com/paxoslabs/go-mpaxos/pkg/storage"
    "github.com/paxoslabs/go-mpaxos/pkg/storage/boltlog"
    "github.com/paxoslabs/go-mpaxos/pkg/storage/inmem"
    "github.com/paxoslabs/go-mpaxos/pkg/transport"
    mgmtgrpc "github.com/paxoslabs/go-mpaxos/pkg/transport/grpc"
    "github.com/paxoslabs/go-mpaxos/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a Paxos participant with
// sensible defaults. Applications embed the module by providing this
// structure and calling Build/Run.
type Config struct {
    // ID is this replica's position in the resolved peer roster (0-based).
    // The same roster, resolved the same way, must agree on every node's ID.
    ID int

    // BindAddr is where this node's peer-to-peer and client-facing RPCs are
    // served (e.g., ":17946"). MgmtProto selects the wire protocol.
    BindAddr  string
    MgmtProto string // "grpc" (default) or "http"

    // Discovery settings resolve the fixed peer roster: index i in the
    // returned, deterministically-ordered address list is peer ID i.
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    DNSPort       int           // used when kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // Persistence. Empty DataDir runs fully in-memory (tests, demos).
    DataDir string

    // Quorum overrides the default floor(n/2)+1 majority. Zero means
    // default.
    Quorum int

    // LeaderTimeout/RequestTimeout tune the leader's straggler resend and
    // Submit's give-up deadline; zero means the package defaults.
    LeaderTimeout  time.Duration
    RequestTimeout time.Duration

    // TLS (optional) for the peer/client transport.
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Codec and StateMachine default to internal/demoapp's key-value store
    // when left nil, so a bare Config produces a runnable demo cluster.
    Codec        paxos.Codec
    StateMachine paxos.StateMachine

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// Built is the result of Build: the assembled Node plus the RPCServer it
// must be wired to so peer and client RPCs reach it.
type Built struct {
    Node   *node.Node
    Server transport.RPCServer
}

// Build resolves the peer roster, constructs durable storage, the RPC
// transport and the Node, without starting any of it. The RPCServer's
// handlers are not attached here; Run passes the Node's Handle* methods to
// Server.Start.
func Build(cfg Config) (*Built, error) {
    if cfg.Logger == nil {
        cfg.Logger = log.Default()
    }
    if cfg.Codec == nil {
        cfg.Codec = demoapp.Codec{}
    }
    if cfg.StateMachine == nil {
        cfg.StateMachine = demoapp.NewStore()
    }

    roster, err := resolveRoster(cfg)
    if err != nil {
        return nil, err
    }
    if cfg.ID < 0 || cfg.ID >= len(roster) {
        return nil, fmt.Errorf("bootstrap: id %d out of range for roster of size %d", cfg.ID, len(roster))
    }
    ids := make([]int, len(roster))
    for i := range roster {
        ids[i] = i
    }
    quorum := cfg.Quorum
    if quorum <= 0 {
        quorum = len(roster)/2 + 1
    }

    acceptorStore, decisionStore, err := buildStores(cfg)
    if err != nil {
        return nil, err
    }

    var srvTLS, cliTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
        if s, err := topts.ServerHotReload(); err == nil {
            srvTLS = s
        } else {
            return nil, err
        }
        if c, err := topts.ClientHotReload(); err == nil {
            cliTLS = c
        } else {
            return nil, err
        }
    }

    resolve := func(peer int) (string, bool) {
        if peer < 0 || peer >= len(roster) {
            return "", false
        }
        return roster[peer], true
    }

    var srv transport.RPCServer
    var ptr paxos.Transport
    switch cfg.MgmtProto {
    case "http":
        s := httpjson.NewServer(cfg.BindAddr, cfg.Logger)
        if srvTLS != nil {
            s.UseTLS(srvTLS)
        }
        c := httpjson.NewClient(3 * time.Second)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        srv = s
        ptr = httpjson.NewPaxosTransport(c, resolve)
    default:
        s := mgmtgrpc.NewServer(cfg.BindAddr)
        if srvTLS != nil {
            s.UseTLS(srvTLS)
        }
        c := mgmtgrpc.NewClient(3 * time.Second)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        srv = s
        ptr = mgmtgrpc.NewPaxosTransport(c, resolve)
    }

    n, err := node.New(node.Options{
        ID:             cfg.ID,
        Acceptors:      ids,
        Replicas:       ids,
        Quorum:         quorum,
        Transport:      ptr,
        Codec:          cfg.Codec,
        StateMachine:   cfg.StateMachine,
        AcceptorStore:  acceptorStore,
        DecisionStore:  decisionStore,
        LeaderTimeout:  cfg.LeaderTimeout,
        RequestTimeout: cfg.RequestTimeout,
        Logger:         cfg.Logger,
    })
    if err != nil {
        return nil, err
    }

    return &Built{Node: n, Server: srv}, nil
}

func resolveRoster(cfg Config) ([]string, error) {
    var disc discovery.Discovery
    switch cfg.DiscoveryKind {
    case "dns":
        names := dStatic.Parse(cfg.DNSNamesCSV)
        opts := dDNS.Options{Names: names, Port: cfg.DNSPort}
        if cfg.DiscRefresh > 0 {
            opts.Refresh = cfg.DiscRefresh
        }
        disc = dDNS.New(opts)
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 {
            opts.Refresh = cfg.DiscRefresh
        }
        disc = dFile.New(opts)
    default:
        seeds := dStatic.Parse(cfg.SeedsCSV)
        disc = dStatic.New(seeds...)
    }
    roster := disc.Seeds()
    if len(roster) == 0 {
        return nil, fmt.Errorf("bootstrap: discovery resolved an empty peer roster")
    }
    return roster, nil
}

func buildStores(cfg Config) (storage.AcceptorStore, storage.DecisionStore, error) {
    if cfg.DataDir == "" {
        return inmem.NewAcceptorStore(), inmem.NewDecisionStore(), nil
    }
    accPath := cfg.DataDir + "/acceptor.paxos"
    decPath := cfg.DataDir + "/replica.paxos"
    if err := checkLogPairPresence(accPath, decPath); err != nil {
        return nil, nil, err
    }
    acc, err := boltlog.NewAcceptorStore(accPath)
    if err != nil {
        return nil, nil, fmt.Errorf("bootstrap: acceptor store: %w", err)
    }
    dec, err := boltlog.NewDecisionStore(decPath)
    if err != nil {
        return nil, nil, fmt.Errorf("bootstrap: decision store: %w", err)
    }
    return acc, dec, nil
}

// checkLogPairPresence refuses to start when exactly one of the acceptor
// and replica logs already holds state: a node that recovers its ballot
// promises but not its decisions (or vice versa) can re-promise a ballot
// it already accepted values under, or re-apply decisions it already
// durably recorded, either of which breaks the one-vote-per-ballot
// guarantee across restarts. Both logs must be fresh or both must carry
// history together.
func checkLogPairPresence(accPath, decPath string) error {
    accPresent, err := fileNonEmpty(accPath)
    if err != nil {
        return err
    }
    decPresent, err := fileNonEmpty(decPath)
    if err != nil {
        return err
    }
    if accPresent != decPresent {
        return fmt.Errorf("bootstrap: %w: acceptor log present=%v, replica log present=%v", paxos.ErrConfigMismatch, accPresent, decPresent)
    }
    return nil
}

func fileNonEmpty(path string) (bool, error) {
    info, err := os.Stat(path)
    if errors.Is(err, os.ErrNotExist) {
        return false, nil
    }
    if err != nil {
        return false, err
    }
    return info.Size() > 0, nil
}

// Run builds the node, wires its RPC server and starts both, returning the
// assembled pair for lifecycle control. The caller is responsible for
// calling Stop when finished.
func Run(ctx context.Context, cfg Config) (*Built, error) {
    b, err := Build(cfg)
    if err != nil {
        return nil, err
    }
    statusFn := func(ctx context.Context) ([]byte, error) {
        return json.Marshal(b.Node.Status())
    }
    if err := b.Server.Start(ctx, statusFn, b.Node.HandleP1A, b.Node.HandleP2A, b.Node.HandleDecision, b.Node.HandlePropose, b.Node.HandleClientRequest); err != nil {
        return nil, fmt.Errorf("bootstrap: starting RPC server: %w", err)
    }
    if err := b.Node.Start(ctx); err != nil {
        return nil, fmt.Errorf("bootstrap: starting node: %w", err)
    }
    return b, nil
}

// Stop stops the node and its RPC server, in that order so in-flight
// requests are rejected by Submit rather than hung in a dead server.
func (b *Built) Stop(ctx context.Context) error {
    if err := b.Node.Stop(ctx); err != nil {
        return err
    }
    return b.Server.Stop(ctx)
}
