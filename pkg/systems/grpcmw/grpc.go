package grpcmw

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"gopkg.in/yaml.v3"

	"github.com/crossbus/crossbus/pkg/async"
	"github.com/crossbus/crossbus/pkg/correlation"
	"github.com/crossbus/crossbus/pkg/system"
	"github.com/crossbus/crossbus/pkg/types"
)

// Kind is the middleware kind name this adapter registers under.
const Kind = "grpc"

const defaultQueueSize = 1024

// Config is the middleware-specific configuration fragment. Target enables
// the provider side (outbound calls); Listen enables the client side
// (inbound calls). Either or both may be set.
type Config struct {
	Target      string          `yaml:"target"`
	Listen      string          `yaml:"listen"`
	CallTimeout system.Duration `yaml:"call_timeout"`
	QueueSize   int             `yaml:"queue_size"`
}

// System is the gRPC adapter. It implements system.ServiceSystem.
type System struct {
	log logrus.FieldLogger

	// test hooks
	listener net.Listener
	dialOpts []grpc.DialOption

	mu         sync.Mutex
	cfg        Config
	reg        *types.Registry
	conn       *grpc.ClientConn
	server     *grpc.Server
	clients    map[string]*clientProxy // keyed by full method
	inbound    chan func()
	ctx        context.Context
	cancel     context.CancelFunc
	configured bool

	ok atomic.Bool
}

// Option adjusts construction, mainly for tests.
type Option func(*System)

// WithListener serves the inbound side on a pre-built listener (e.g.
// bufconn) instead of binding cfg.Listen.
func WithListener(lis net.Listener) Option {
	return func(s *System) { s.listener = lis }
}

// WithDialOptions appends dial options for the outbound ClientConn.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(s *System) { s.dialOpts = append(s.dialOpts, opts...) }
}

// New creates an unconfigured gRPC adapter.
func New(log logrus.FieldLogger, opts ...Option) *System {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &System{
		log:     log.WithField("system", Kind),
		clients: make(map[string]*clientProxy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory builds adapters for the system registry.
func Factory(log logrus.FieldLogger) system.Factory {
	return func() system.SystemHandle { return New(log) }
}

// Configure implements system.SystemHandle. Required types the registry
// lacks are contributed from the process's linked protobuf registry when
// present there; configuration fails if any required type remains unknown,
// and also if the adapter is asked to run with neither side enabled.
func (s *System) Configure(req types.Required, cfg *yaml.Node, reg *types.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return fmt.Errorf("grpc: already configured")
	}
	if cfg != nil && cfg.Kind != 0 {
		if err := cfg.Decode(&s.cfg); err != nil {
			return fmt.Errorf("grpc: decoding configuration: %w", err)
		}
	}
	if s.cfg.QueueSize <= 0 {
		s.cfg.QueueSize = defaultQueueSize
	}
	if s.cfg.Target == "" && s.cfg.Listen == "" && s.listener == nil {
		return fmt.Errorf("grpc: configuration needs target and/or listen")
	}

	contributeTypes(req, reg)
	if missing := reg.Missing(req); len(missing) > 0 {
		return fmt.Errorf("grpc: %w: %v", system.ErrUnknownType, missing)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.inbound = make(chan func(), s.cfg.QueueSize)

	if s.cfg.Target != "" {
		opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, s.dialOpts...)
		conn, err := grpc.NewClient(s.cfg.Target, opts...)
		if err != nil {
			s.cancel()
			return fmt.Errorf("grpc: dialing %s: %w", s.cfg.Target, err)
		}
		s.conn = conn
	}

	lis := s.listener
	if lis == nil && s.cfg.Listen != "" {
		var err error
		lis, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			s.teardownLocked()
			return fmt.Errorf("grpc: listening on %s: %w", s.cfg.Listen, err)
		}
	}
	if lis != nil {
		s.server = grpc.NewServer(grpc.UnknownServiceHandler(s.handleStream))
		go func(srv *grpc.Server, lis net.Listener) {
			if err := srv.Serve(lis); err != nil && s.ctx.Err() == nil {
				s.log.WithError(err).Error("inbound server stopped, marking adapter down")
				s.ok.Store(false)
			}
		}(s.server, lis)
	}

	s.reg = reg
	s.configured = true
	s.ok.Store(true)
	return nil
}

// contributeTypes registers required types the adapter's middleware knows
// natively: anything compiled into the process's global protobuf registry.
func contributeTypes(req types.Required, reg *types.Registry) {
	for name := range req.Messages {
		if _, ok := reg.Message(name); ok {
			continue
		}
		desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(name))
		if err != nil {
			continue
		}
		if md, ok := desc.(protoreflect.MessageDescriptor); ok {
			_ = reg.RegisterMessage(md)
		}
	}
	for name := range req.Services {
		if _, ok := reg.Service(name); ok {
			continue
		}
		svcName, method := name, ""
		if i := strings.IndexByte(name, '/'); i >= 0 {
			svcName, method = name[:i], name[i+1:]
		}
		desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(svcName))
		if err != nil {
			continue
		}
		sd, ok := desc.(protoreflect.ServiceDescriptor)
		if !ok {
			continue
		}
		methods := sd.Methods()
		var m protoreflect.MethodDescriptor
		if method != "" {
			m = methods.ByName(protoreflect.Name(method))
		} else if methods.Len() == 1 {
			m = methods.Get(0)
		}
		if m == nil || m.IsStreamingClient() || m.IsStreamingServer() {
			continue
		}
		_ = reg.RegisterService(types.Service{
			Name:       name,
			FullMethod: fmt.Sprintf("/%s/%s", sd.FullName(), m.Name()),
			Request:    m.Input(),
			Response:   m.Output(),
		})
	}
}

// Okay implements system.SystemHandle.
func (s *System) Okay() bool {
	return s.ok.Load()
}

// SpinOnce drains queued inbound requests without blocking. The transport
// itself runs on gRPC's goroutines; the queue exists so RequestCallbacks
// still fire from the polling loop.
func (s *System) SpinOnce() bool {
	if !s.ok.Load() {
		return false
	}
	for {
		select {
		case fn := <-s.inbound:
			fn()
		default:
			return s.ok.Load()
		}
	}
}

// Close stops serving and releases the connection. Parked inbound streams
// unblock with an error; their handles are dropped.
func (s *System) Close() error {
	s.ok.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

func (s *System) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Stop()
		s.server = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// CreateClientProxy implements system.ServiceClientSystem.
func (s *System) CreateClientProxy(service string, svcType string, cb system.RequestCallback, cfg *yaml.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return system.ErrNotConfigured
	}
	if s.server == nil {
		return fmt.Errorf("grpc: client proxy %s: inbound side not enabled", service)
	}
	svc, ok := s.reg.Service(svcType)
	if !ok {
		return fmt.Errorf("grpc: client proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}
	if _, exists := s.clients[svc.FullMethod]; exists {
		return fmt.Errorf("grpc: method %s already has a client proxy", svc.FullMethod)
	}
	s.clients[svc.FullMethod] = &clientProxy{
		sys:     s,
		service: service,
		svc:     svc,
		cb:      cb,
		calls:   correlation.NewTable[chan *types.Data](0),
		log:     s.log.WithField("service", service),
	}
	return nil
}

// CreateServiceProxy implements system.ServiceProviderSystem.
func (s *System) CreateServiceProxy(service string, svcType string, cfg *yaml.Node) (system.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.configured {
		return nil, system.ErrNotConfigured
	}
	if s.conn == nil {
		return nil, fmt.Errorf("grpc: service proxy %s: outbound side not enabled", service)
	}
	svc, ok := s.reg.Service(svcType)
	if !ok {
		return nil, fmt.Errorf("grpc: service proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}
	return &provider{sys: s, service: service, svc: svc, log: s.log.WithField("service", service)}, nil
}

// handleStream services one inbound unary call: decode, mint a handle,
// queue the RequestCallback, then park until the response resolves the
// handle or the caller goes away.
func (s *System) handleStream(srv interface{}, stream grpc.ServerStream) error {
	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(codes.Internal, "no method in stream")
	}

	s.mu.Lock()
	cp := s.clients[method]
	s.mu.Unlock()
	if cp == nil {
		return status.Errorf(codes.Unimplemented, "no client proxy for %s", method)
	}

	req := types.NewData(cp.svc.Request)
	if err := stream.RecvMsg(req.Message()); err != nil {
		return status.Errorf(codes.InvalidArgument, "receiving request: %v", err)
	}

	ch := make(chan *types.Data, 1)
	handle := cp.calls.Insert(ch)

	delivered := func() bool {
		select {
		case s.inbound <- func() { cp.cb(req, cp, handle) }:
			return true
		default:
			return false
		}
	}()
	if !delivered {
		cp.calls.Drop(handle)
		return status.Error(codes.ResourceExhausted, "inbound queue full")
	}

	select {
	case resp := <-ch:
		return stream.SendMsg(resp.Message())
	case <-stream.Context().Done():
		// Caller disconnected mid-call; abandon the handle so a late
		// response is dropped instead of leaking.
		cp.calls.Drop(handle)
		return status.FromContextError(stream.Context().Err()).Err()
	case <-s.ctx.Done():
		cp.calls.Drop(handle)
		return status.Error(codes.Unavailable, "adapter shutting down")
	}
}

type clientProxy struct {
	sys     *System
	service string
	svc     types.Service
	cb      system.RequestCallback
	calls   *correlation.Table[chan *types.Data]
	log     logrus.FieldLogger
}

// ReceiveResponse implements system.Client.
func (cp *clientProxy) ReceiveResponse(call correlation.Handle, resp *types.Data) {
	ch, ok := cp.calls.Resolve(call)
	if !ok {
		if at, late := cp.calls.ReleasedAt(call); late {
			cp.log.WithFields(logrus.Fields{
				"call":        call.String(),
				"released_at": at,
			}).Warn("late response for already-completed call")
		} else {
			cp.log.WithField("call", call.String()).Warn("response for unknown call handle")
		}
		return
	}
	if resp == nil || !resp.Is(cp.svc.Response) {
		// Reject at the boundary; the parked stream ends when its caller
		// times out.
		cp.log.WithField("call", call.String()).Warn("rejecting response with mismatched type")
		return
	}
	ch <- resp
}

type provider struct {
	sys     *System
	service string
	svc     types.Service
	log     logrus.FieldLogger
}

// CallService implements system.Provider. The unary invoke runs off the
// caller's goroutine; any failure still completes the call exactly once
// with a synthetic empty response.
func (p *provider) CallService(req *types.Data, client system.Client, call correlation.Handle) {
	if req == nil || !req.Is(p.svc.Request) {
		p.log.WithField("call", call.String()).Warn("rejecting request with mismatched type")
		client.ReceiveResponse(call, types.NewData(p.svc.Response))
		return
	}

	async.SafeGo(p.sys.ctx, p.log, p.sys.cfg.CallTimeout.Std(), "grpc unary invoke", func(ctx context.Context) error {
		out := types.NewData(p.svc.Response)
		if err := p.sys.conn.Invoke(ctx, p.svc.FullMethod, req.Message(), out.Message()); err != nil {
			p.log.WithError(err).WithField("call", call.String()).Warn("remote call failed, completing with empty response")
			client.ReceiveResponse(call, types.NewData(p.svc.Response))
			return nil
		}
		client.ReceiveResponse(call, out)
		return nil
	})
}
