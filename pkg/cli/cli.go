package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "math/rand"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"

    "github.com/paxoslabs/go-mpaxos/internal/demoapp"
    "github.com/paxoslabs/go-mpaxos/pkg/bootstrap"
    tracing "github.com/paxoslabs/go-mpaxos/pkg/observability/tracing"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos"
    "github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
    tlsx "github.com/paxoslabs/go-mpaxos/pkg/security/tlsconfig"
    "github.com/paxoslabs/go-mpaxos/pkg/transport"
    mgmtgrpc "github.com/paxoslabs/go-mpaxos/pkg/transport/grpc"
    httpjson "github.com/paxoslabs/go-mpaxos/pkg/transport/httpjson"
)

// AddAll attaches the node subcommands (run/submit/status) to the provided
// root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewSubmitCmd())
    root.AddCommand(NewStatusCmd())
}

// NewNodeCommand returns a parent command "node" containing run/submit/status
// as subcommands.
func NewNodeCommand() *cobra.Command {
    parent := &cobra.Command{Use: "node", Short: "node lifecycle and client commands"}
    parent.AddCommand(NewRunCmd())
    parent.AddCommand(NewSubmitCmd())
    parent.AddCommand(NewStatusCmd())
    return parent
}

// NewRunCmd returns the "run" command used to start a Paxos participant.
func NewRunCmd() *cobra.Command {
    var (
        id                                                         int
        bindAddr, mgmtProto, discoveryKind                         string
        seedsCSV, dnsNames, filePath, fileEnv                      string
        dnsPort                                                    int
        discRefresh, leaderTimeout, requestTimeout                 time.Duration
        tlsEnable, tlsSkip, traceEnable                            bool
        tlsCA, tlsCert, tlsKey, tlsServerName, dataDir              string
        quorum                                                     int
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a Paxos participant",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg := bootstrap.Config{
                ID:             id,
                BindAddr:       bindAddr,
                MgmtProto:      mgmtProto,
                DiscoveryKind:  discoveryKind,
                SeedsCSV:       seedsCSV,
                DNSNamesCSV:    dnsNames,
                DNSPort:        dnsPort,
                DiscRefresh:    discRefresh,
                FilePath:       filePath,
                FileEnv:        fileEnv,
                DataDir:        dataDir,
                Quorum:         quorum,
                LeaderTimeout:  leaderTimeout,
                RequestTimeout: requestTimeout,
                TLSEnable:      tlsEnable,
                TLSCA:          tlsCA,
                TLSCert:        tlsCert,
                TLSKey:         tlsKey,
                TLSServerName:  tlsServerName,
                TLSSkipVerify:  tlsSkip,
                Logger:         log.Default(),
            }
            b, err := bootstrap.Run(ctx, cfg)
            if err != nil {
                return err
            }
            defer func() { _ = b.Stop(context.Background()) }()

            go func() {
                if err, ok := <-b.Node.Fatal(); ok {
                    log.Fatalf("node aborting: %v", err)
                }
            }()

            fmt.Println("node running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().IntVar(&id, "id", -1, "this replica's index in the resolved peer roster (required)")
    cmd.Flags().StringVar(&bindAddr, "bind-addr", ":17946", "address this node serves peer and client RPCs on")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "grpc", "RPC protocol: grpc|http")
    cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    cmd.Flags().StringVar(&seedsCSV, "peers", "", "comma-separated peer addresses (host:port) — used by discovery=static; index is peer ID")
    cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _paxos._tcp.example.com)")
    cmd.Flags().IntVar(&dnsPort, "dns-port", 17946, "port used for A/AAAA lookups")
    cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    cmd.Flags().StringVar(&filePath, "file-path", "", "path or glob to a file with peer addresses (one per line or CSV)")
    cmd.Flags().StringVar(&fileEnv, "file-env", "", "ENV var name containing CSV peer addresses; overrides file when set")
    cmd.Flags().IntVar(&quorum, "quorum", 0, "override the default floor(n/2)+1 majority (0 = default)")
    cmd.Flags().DurationVar(&leaderTimeout, "leader-timeout", 0, "scout/commander straggler resend timeout (0 = default)")
    cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 0, "Submit give-up deadline (0 = default)")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for the peer/client transport")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    cmd.Flags().StringVar(&dataDir, "data", "", "durable log directory (empty = in-memory)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr      string
        mgmtProto string
        timeout   time.Duration
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a node's status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := newClient(mgmtProto, timeout, nil)
            data, err := client.GetStatus(ctx, addr)
            if err != nil {
                return fmt.Errorf("status error: %w", err)
            }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' {
                os.Stdout.Write([]byte("\n"))
            }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "RPC address of a node (host:port)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "grpc", "RPC protocol: grpc|http")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewSubmitCmd returns the "submit" command, which puts, gets or deletes a
// key through demoapp against a running node.
func NewSubmitCmd() *cobra.Command {
    var (
        addr, mgmtProto, op, key, value, clientID string
        timeout                                   time.Duration
        tlsEnable, tlsSkip                        bool
        tlsCA, tlsCert, tlsKey, tlsServerName      string
    )
    cmd := &cobra.Command{
        Use:   "submit",
        Short: "Submit a put/get/delete command to a running node's demo key-value store",
        RunE: func(cmd *cobra.Command, args []string) error {
            if key == "" {
                return fmt.Errorf("missing required flag: --key")
            }
            var cliTLS *tls.Config
            if tlsEnable {
                topts := tlsx.Options{Enable: true, CAFile: tlsCA, CertFile: tlsCert, KeyFile: tlsKey, InsecureSkipVerify: tlsSkip, ServerName: tlsServerName}
                var err error
                cliTLS, err = topts.Client()
                if err != nil {
                    return fmt.Errorf("tls client config: %w", err)
                }
            }
            client := newClient(mgmtProto, timeout, cliTLS)

            if clientID == "" {
                clientID = fmt.Sprintf("cli-%d", rand.Uint64())
            }
            cmdVal := demoapp.Command{
                ReqID: paxos.RequestID{ClientID: clientID, LocalID: rand.Uint64()},
                Op:    demoapp.Op(op),
                Key:   key,
                Value: value,
            }
            encoded, err := demoapp.Codec{}.EncodeCommand(cmdVal)
            if err != nil {
                return err
            }
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            resp, err := client.SendClientRequest(ctx, addr, wire.ClientRequest{Command: encoded})
            if err != nil {
                return fmt.Errorf("submit error: %w", err)
            }
            if resp.Error != "" {
                return fmt.Errorf("submit error: %s", resp.Error)
            }
            decoded, err := demoapp.Codec{}.DecodeResponse(resp.Response)
            if err != nil {
                return err
            }
            return json.NewEncoder(os.Stdout).Encode(decoded)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "RPC address of a node (host:port)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "grpc", "RPC protocol: grpc|http")
    cmd.Flags().StringVar(&op, "op", "put", "operation: put|get|delete")
    cmd.Flags().StringVar(&key, "key", "", "key to operate on (required)")
    cmd.Flags().StringVar(&value, "value", "", "value for op=put")
    cmd.Flags().StringVar(&clientID, "client-id", "", "request de-duplication client id (default: random)")
    cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for the client transport")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    return cmd
}

func newClient(mgmtProto string, timeout time.Duration, cliTLS *tls.Config) transport.RPCClient {
    switch mgmtProto {
    case "http":
        c := httpjson.NewClient(timeout)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c
    default:
        c := mgmtgrpc.NewClient(timeout)
        if cliTLS != nil {
            c.UseTLS(cliTLS)
        }
        return c
    }
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
