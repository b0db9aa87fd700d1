package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/paxoslabs/go-mpaxos/pkg/observability/tracing"
	"github.com/paxoslabs/go-mpaxos/pkg/paxos/wire"
	"github.com/paxoslabs/go-mpaxos/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec,
// exposing the Paxos peer-to-peer RPCs (P1A/P2A/Decision/Propose) plus the
// client-facing Status/ClientRequest endpoints on a single listener.
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
	Data []byte `json:"data"`
}

// paxosServer defines the methods exposed over the gRPC service.
type paxosServer interface {
	GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
	P1A(ctx context.Context, in *wire.P1A) (*wire.P1B, error)
	P2A(ctx context.Context, in *wire.P2A) (*wire.P2B, error)
	Decision(ctx context.Context, in *wire.Decision) (*empty, error)
	Propose(ctx context.Context, in *wire.Propose) (*empty, error)
	ClientRequest(ctx context.Context, in *wire.ClientRequest) (*wire.ClientResponse, error)
}

type paxosImpl struct {
	status   transport.StatusFunc
	p1a      transport.P1AFunc
	p2a      transport.P2AFunc
	decision transport.DecisionFunc
	propose  transport.ProposeFunc
	client   transport.ClientRequestFunc
}

func (p *paxosImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
	ctx, end := tracing.StartSpan(ctx, "grpc.status")
	defer end()
	b, err := p.status(ctx)
	if err != nil {
		return nil, err
	}
	return &statusBlob{Data: b}, nil
}

func (p *paxosImpl) P1A(ctx context.Context, in *wire.P1A) (*wire.P1B, error) {
	if in == nil {
		in = &wire.P1A{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.p1a")
	defer end()
	out, err := p.p1a(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *paxosImpl) P2A(ctx context.Context, in *wire.P2A) (*wire.P2B, error) {
	if in == nil {
		in = &wire.P2A{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.p2a")
	defer end()
	out, err := p.p2a(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *paxosImpl) Decision(ctx context.Context, in *wire.Decision) (*empty, error) {
	if in == nil {
		in = &wire.Decision{}
	}
	if err := p.decision(ctx, *in); err != nil {
		return nil, err
	}
	return &empty{}, nil
}

func (p *paxosImpl) Propose(ctx context.Context, in *wire.Propose) (*empty, error) {
	if in == nil {
		in = &wire.Propose{}
	}
	if err := p.propose(ctx, *in); err != nil {
		return nil, err
	}
	return &empty{}, nil
}

func (p *paxosImpl) ClientRequest(ctx context.Context, in *wire.ClientRequest) (*wire.ClientResponse, error) {
	if in == nil {
		in = &wire.ClientRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.clientRequest")
	defer end()
	out, err := p.client(ctx, *in)
	if err != nil {
		return &wire.ClientResponse{Error: err.Error()}, nil
	}
	return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required).
var _Paxos_serviceDesc = grpc.ServiceDesc{
	ServiceName: "paxos.v1.Paxos",
	HandlerType: (*paxosServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _Paxos_GetStatus_Handler},
		{MethodName: "P1A", Handler: _Paxos_P1A_Handler},
		{MethodName: "P2A", Handler: _Paxos_P2A_Handler},
		{MethodName: "Decision", Handler: _Paxos_Decision_Handler},
		{MethodName: "Propose", Handler: _Paxos_Propose_Handler},
		{MethodName: "ClientRequest", Handler: _Paxos_ClientRequest_Handler},
	},
}

func _Paxos_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).GetStatus(ctx, req.(*empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Paxos_P1A_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.P1A)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).P1A(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/P1A"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).P1A(ctx, req.(*wire.P1A))
	}
	return interceptor(ctx, in, info, handler)
}

func _Paxos_P2A_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.P2A)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).P2A(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/P2A"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).P2A(ctx, req.(*wire.P2A))
	}
	return interceptor(ctx, in, info, handler)
}

func _Paxos_Decision_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.Decision)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).Decision(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/Decision"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).Decision(ctx, req.(*wire.Decision))
	}
	return interceptor(ctx, in, info, handler)
}

func _Paxos_Propose_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.Propose)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/Propose"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).Propose(ctx, req.(*wire.Propose))
	}
	return interceptor(ctx, in, info, handler)
}

func _Paxos_ClientRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.ClientRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(paxosServer).ClientRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/paxos.v1.Paxos/ClientRequest"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(paxosServer).ClientRequest(ctx, req.(*wire.ClientRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, status transport.StatusFunc, p1a transport.P1AFunc, p2a transport.P2AFunc, decision transport.DecisionFunc, propose transport.ProposeFunc, clientReq transport.ClientRequestFunc) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types.
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	srv.RegisterService(&_Paxos_serviceDesc, &paxosImpl{status: status, p1a: p1a, p2a: p2a, decision: decision, propose: propose, client: clientReq})

	go func() {
		<-ctx.Done()
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}

var _ transport.RPCServer = (*Server)(nil)
