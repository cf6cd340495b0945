package redismw

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/reflect/protoreflect"
	"gopkg.in/yaml.v3"

	"github.com/crossbus/crossbus/pkg/async"
	"github.com/crossbus/crossbus/pkg/correlation"
	"github.com/crossbus/crossbus/pkg/system"
	"github.com/crossbus/crossbus/pkg/types"
)

// Kind is the middleware kind name this adapter registers under.
const Kind = "redis"

const (
	defaultQueueSize   = 1024
	defaultDialTimeout = 5 * time.Second
)

// Config is the middleware-specific configuration fragment.
type Config struct {
	URL           string          `yaml:"url"`
	ChannelPrefix string          `yaml:"channel_prefix"`
	QueueSize     int             `yaml:"queue_size"`
	DialTimeout   system.Duration `yaml:"dial_timeout"`

	// CallTimeout, when non-zero, bounds in-flight calls on both proxy
	// sides. An expired client-side call discards its handle; an expired
	// provider-side call completes with a synthetic empty response. Never
	// both for one call.
	CallTimeout system.Duration `yaml:"call_timeout"`
}

// envelope frames service traffic on Redis channels. Data carries proto
// wire bytes; encoding/json base64s it.
type envelope struct {
	ID      string `json:"id"`
	ReplyTo string `json:"reply_to,omitempty"`
	Data    []byte `json:"data"`
}

// System is the Redis adapter. It implements system.FullSystem.
type System struct {
	log logrus.FieldLogger

	mu         sync.Mutex
	cfg        Config
	reg        *types.Registry
	client     *redis.Client
	ctx        context.Context
	cancel     context.CancelFunc
	inbound    chan func()
	pubsubs    []*redis.PubSub
	configured bool

	ok atomic.Bool
}

// New creates an unconfigured Redis adapter.
func New(log logrus.FieldLogger) *System {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &System{log: log.WithField("system", Kind)}
}

// Factory builds adapters for the system registry.
func Factory(log logrus.FieldLogger) system.Factory {
	return func() system.SystemHandle { return New(log) }
}

// Configure implements system.SystemHandle. Redis supplies no types
// natively, so every required type must already be registered.
func (s *System) Configure(req types.Required, cfg *yaml.Node, reg *types.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return fmt.Errorf("redis: already configured")
	}
	if cfg != nil && cfg.Kind != 0 {
		if err := cfg.Decode(&s.cfg); err != nil {
			return fmt.Errorf("redis: decoding configuration: %w", err)
		}
	}
	if s.cfg.URL == "" {
		return fmt.Errorf("redis: configuration is missing url")
	}
	if s.cfg.ChannelPrefix == "" {
		s.cfg.ChannelPrefix = "crossbus"
	}
	if s.cfg.QueueSize <= 0 {
		s.cfg.QueueSize = defaultQueueSize
	}
	if s.cfg.DialTimeout <= 0 {
		s.cfg.DialTimeout = system.Duration(defaultDialTimeout)
	}

	if missing := reg.Missing(req); len(missing) > 0 {
		return fmt.Errorf("redis: %w: %v", system.ErrUnknownType, missing)
	}

	opt, err := redis.ParseURL(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("redis: parsing url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout.Std())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis: reaching transport: %w", err)
	}

	s.reg = reg
	s.client = client
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.inbound = make(chan func(), s.cfg.QueueSize)
	s.configured = true
	s.ok.Store(true)
	return nil
}

// Okay implements system.SystemHandle.
func (s *System) Okay() bool {
	return s.ok.Load()
}

// SpinOnce drains queued inbound work without blocking.
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

// Close tears the adapter down.
func (s *System) Close() error {
	s.ok.Store(false)

	s.mu.Lock()
	cancel := s.cancel
	pubsubs := s.pubsubs
	client := s.client
	s.pubsubs = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, ps := range pubsubs {
		_ = ps.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

func (s *System) topicChannel(topic string) string {
	return fmt.Sprintf("%s:topic:%s", s.cfg.ChannelPrefix, topic)
}

func (s *System) requestChannel(service string) string {
	return fmt.Sprintf("%s:svc:%s:req", s.cfg.ChannelPrefix, service)
}

// subscribe opens a pub/sub channel and waits for the subscription to be
// confirmed so traffic published immediately afterwards is not missed.
func (s *System) subscribe(channel string) (*redis.PubSub, error) {
	ps := s.client.Subscribe(s.ctx, channel)
	if _, err := ps.Receive(s.ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribing %s: %w", channel, err)
	}
	s.mu.Lock()
	s.pubsubs = append(s.pubsubs, ps)
	s.mu.Unlock()
	return ps, nil
}

// enqueue parks inbound work for the next SpinOnce.
func (s *System) enqueue(fn func()) {
	select {
	case s.inbound <- fn:
	default:
		s.log.Warn("inbound queue full, dropping delivery")
	}
}

// receive pumps one pub/sub channel into handle until the adapter closes.
// An unexpected channel closure degrades the adapter.
func (s *System) receive(ps *redis.PubSub, handle func(payload string)) {
	go func() {
		for msg := range ps.Channel() {
			handle(msg.Payload)
		}
		if s.ctx.Err() == nil {
			s.log.Error("pub/sub stream closed unexpectedly, marking adapter down")
			s.ok.Store(false)
		}
	}()
}

// Advertise implements system.TopicPublisherSystem.
func (s *System) Advertise(topic string, msgType string, cfg *yaml.Node) (system.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return nil, system.ErrNotConfigured
	}
	md, ok := s.reg.Message(msgType)
	if !ok {
		return nil, fmt.Errorf("redis: advertise %s: %w: %s", topic, system.ErrUnknownType, msgType)
	}
	return &publisher{sys: s, topic: topic, channel: s.topicChannel(topic), md: md}, nil
}

// Subscribe implements system.TopicSubscriberSystem. Messages are decoded on
// the receiver goroutine and delivered to cb from SpinOnce in Redis delivery
// order.
func (s *System) Subscribe(topic string, msgType string, cb system.SubscriptionCallback, cfg *yaml.Node) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return system.ErrNotConfigured
	}
	md, found := s.reg.Message(msgType)
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("redis: subscribe %s: %w: %s", topic, system.ErrUnknownType, msgType)
	}

	ps, err := s.subscribe(s.topicChannel(topic))
	if err != nil {
		return err
	}
	log := s.log.WithField("topic", topic)
	s.receive(ps, func(payload string) {
		msg, err := types.Unmarshal(md, []byte(payload))
		if err != nil {
			log.WithError(err).Warn("dropping undecodable message")
			return
		}
		s.enqueue(func() { cb(msg) })
	})
	return nil
}

// CreateClientProxy implements system.ServiceClientSystem: native Redis
// callers publish request envelopes on the service's request channel, and
// every envelope becomes one correlated RequestCallback invocation.
func (s *System) CreateClientProxy(service string, svcType string, cb system.RequestCallback, cfg *yaml.Node) error {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return system.ErrNotConfigured
	}
	svc, found := s.reg.Service(svcType)
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("redis: client proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}

	cp := &clientProxy{
		sys:     s,
		service: service,
		svc:     svc,
		calls:   correlation.NewTable[replyRoute](0),
		log:     s.log.WithField("service", service),
	}

	ps, err := s.subscribe(s.requestChannel(service))
	if err != nil {
		return err
	}
	s.receive(ps, func(payload string) {
		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			cp.log.WithError(err).Warn("dropping malformed request envelope")
			return
		}
		req, err := types.Unmarshal(svc.Request, env.Data)
		if err != nil {
			cp.log.WithError(err).Warn("dropping undecodable request")
			return
		}

		handle := cp.calls.Insert(replyRoute{id: env.ID, replyTo: env.ReplyTo})
		if d := s.cfg.CallTimeout.Std(); d > 0 {
			h := handle
			time.AfterFunc(d, func() {
				if cp.calls.Drop(h) {
					cp.log.WithField("call", h.String()).Warn("call timed out, discarding handle")
				}
			})
		}
		s.enqueue(func() { cb(req, cp, handle) })
	})
	return nil
}

// CreateServiceProxy implements system.ServiceProviderSystem: forwarded
// requests are published to the service's request channel and the matching
// reply envelopes are awaited on a proxy-private reply channel.
func (s *System) CreateServiceProxy(service string, svcType string, cfg *yaml.Node) (system.Provider, error) {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return nil, system.ErrNotConfigured
	}
	svc, found := s.reg.Service(svcType)
	s.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("redis: service proxy %s: %w: %s", service, system.ErrUnknownType, svcType)
	}

	p := &provider{
		sys:       s,
		service:   service,
		svc:       svc,
		replyChan: fmt.Sprintf("%s:svc:%s:rsp:%s", s.cfg.ChannelPrefix, service, uuid.NewString()),
		pending:   make(map[string]pendingCall),
		log:       s.log.WithField("service", service),
	}

	ps, err := s.subscribe(p.replyChan)
	if err != nil {
		return nil, err
	}
	// Responses are delivered straight from the receiver goroutine; the
	// client proxy's ReceiveResponse is thread-safe by contract.
	s.receive(ps, p.handleReply)
	return p, nil
}

// publisher forwards router traffic onto a Redis topic channel.
type publisher struct {
	sys     *System
	topic   string
	channel string
	md      protoreflect.MessageDescriptor
}

func (p *publisher) Publish(msg *types.Data) error {
	if msg == nil || !msg.Is(p.md) {
		return fmt.Errorf("publish %s: %w", p.topic, system.ErrMismatchedType)
	}
	if !p.sys.ok.Load() {
		return system.ErrNotLive
	}
	wire, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := p.sys.client.Publish(p.sys.ctx, p.channel, wire).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

// replyRoute is the transport-level correlation a response needs to reach
// its original Redis caller.
type replyRoute struct {
	id      string
	replyTo string
}

type clientProxy struct {
	sys     *System
	service string
	svc     types.Service
	calls   *correlation.Table[replyRoute]
	log     logrus.FieldLogger
}

// ReceiveResponse implements system.Client.
func (cp *clientProxy) ReceiveResponse(call correlation.Handle, resp *types.Data) {
	route, ok := cp.calls.Resolve(call)
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
		cp.log.WithField("call", call.String()).Warn("rejecting response with mismatched type")
		return
	}
	if route.replyTo == "" {
		return
	}

	wire, err := resp.Marshal()
	if err != nil {
		cp.log.WithError(err).Error("encoding response")
		return
	}
	payload, err := json.Marshal(envelope{ID: route.id, Data: wire})
	if err != nil {
		cp.log.WithError(err).Error("framing response envelope")
		return
	}
	if err := cp.sys.client.Publish(cp.sys.ctx, route.replyTo, payload).Err(); err != nil {
		cp.log.WithError(err).Warn("delivering response to reply channel")
	}
}

type pendingCall struct {
	client system.Client
	call   correlation.Handle
}

type provider struct {
	sys       *System
	service   string
	svc       types.Service
	replyChan string
	log       logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]pendingCall
}

// CallService implements system.Provider. The publish happens off the
// caller's goroutine; on any failure the call is still completed exactly
// once with a synthetic empty response.
func (p *provider) CallService(req *types.Data, client system.Client, call correlation.Handle) {
	if req == nil || !req.Is(p.svc.Request) {
		p.log.WithField("call", call.String()).Warn("rejecting request with mismatched type")
		client.ReceiveResponse(call, types.NewData(p.svc.Response))
		return
	}

	wire, err := req.Marshal()
	if err != nil {
		p.log.WithError(err).Warn("encoding request, completing call with empty response")
		client.ReceiveResponse(call, types.NewData(p.svc.Response))
		return
	}

	id := uuid.NewString()
	p.mu.Lock()
	p.pending[id] = pendingCall{client: client, call: call}
	p.mu.Unlock()

	if d := p.sys.cfg.CallTimeout.Std(); d > 0 {
		time.AfterFunc(d, func() {
			if pc, ok := p.takePending(id); ok {
				p.log.WithField("call", pc.call.String()).Warn("remote call timed out, completing with empty response")
				pc.client.ReceiveResponse(pc.call, types.NewData(p.svc.Response))
			}
		})
	}

	payload, _ := json.Marshal(envelope{ID: id, ReplyTo: p.replyChan, Data: wire})
	async.SafeGo(p.sys.ctx, p.log, p.sys.cfg.DialTimeout.Std(), "redis request publish", func(ctx context.Context) error {
		if err := p.sys.client.Publish(ctx, p.sys.requestChannel(p.service), payload).Err(); err != nil {
			if pc, ok := p.takePending(id); ok {
				pc.client.ReceiveResponse(pc.call, types.NewData(p.svc.Response))
			}
			return fmt.Errorf("publishing request for %s: %w", p.service, err)
		}
		return nil
	})
}

func (p *provider) takePending(id string) (pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	return pc, ok
}

func (p *provider) handleReply(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		p.log.WithError(err).Warn("dropping malformed reply envelope")
		return
	}
	pc, ok := p.takePending(env.ID)
	if !ok {
		p.log.WithField("id", env.ID).Warn("dropping reply for unknown or expired request")
		return
	}
	resp, err := types.Unmarshal(p.svc.Response, env.Data)
	if err != nil {
		p.log.WithError(err).Warn("undecodable reply, completing call with empty response")
		resp = types.NewData(p.svc.Response)
	}
	pc.client.ReceiveResponse(pc.call, resp)
}
