package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crossbus/crossbus/pkg/correlation"
	"github.com/crossbus/crossbus/pkg/observability"
	"github.com/crossbus/crossbus/pkg/system"
	"github.com/crossbus/crossbus/pkg/types"
)

const defaultSpinInterval = time.Millisecond

// ErrNoLiveAdapters means every adapter has left the polling rotation and
// the bridge can do no further work.
var ErrNoLiveAdapters = errors.New("no live adapters remain")

// Bridge owns the configured adapters, the shared type registry and the
// polling loop.
type Bridge struct {
	cfg     *Config
	log     logrus.FieldLogger
	metrics *observability.Metrics
	reg     *types.Registry

	injected     map[string]system.SystemHandle
	spinInterval time.Duration

	mu       sync.Mutex
	systems  map[string]system.SystemHandle
	rotation []string // system names still being spun, in declaration order
}

// Option adjusts bridge construction.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithMetrics sets the metrics sink. Defaults to unregistered no-op metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithSystem supplies a pre-built adapter for the named system instead of
// going through the factory registry. Used by embedders and tests that need
// to hand an adapter shared state before Configure runs.
func WithSystem(name string, h system.SystemHandle) Option {
	return func(b *Bridge) { b.injected[name] = h }
}

// WithSpinInterval sets the pause between polling passes.
func WithSpinInterval(d time.Duration) Option {
	return func(b *Bridge) { b.spinInterval = d }
}

// New builds a bridge from a validated configuration: compile schemas,
// configure every adapter, then wire the routes. Configuration is all or
// nothing — any adapter that cannot configure, or any route that cannot
// bind, fails construction. An adapter whose Configure failed is never
// spun.
func New(cfg *Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &Bridge{
		cfg:          cfg,
		log:          logrus.StandardLogger(),
		reg:          types.NewRegistry(),
		injected:     make(map[string]system.SystemHandle),
		spinInterval: defaultSpinInterval,
		systems:      make(map[string]system.SystemHandle),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observability.NewNopMetrics()
	}
	b.log = b.log.WithField("component", "bridge")

	if err := types.CompileFiles(context.Background(), b.reg, cfg.Types.Paths, cfg.Types.Files); err != nil {
		return nil, err
	}

	if err := b.configureSystems(); err != nil {
		b.closeSystems()
		return nil, err
	}
	if err := b.wireTopics(); err != nil {
		b.closeSystems()
		return nil, err
	}
	if err := b.wireServices(); err != nil {
		b.closeSystems()
		return nil, err
	}

	b.metrics.AdaptersLive.Set(float64(len(b.rotation)))
	b.log.WithFields(logrus.Fields{
		"systems":  len(b.systems),
		"topics":   len(cfg.Routes.Topics),
		"services": len(cfg.Routes.Services),
	}).Info("bridge configured")
	return b, nil
}

func (b *Bridge) configureSystems() error {
	// Deterministic order keeps logs and rotation stable across runs.
	names := make([]string, 0, len(b.cfg.Systems))
	for name := range b.cfg.Systems {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := b.cfg.Systems[name]

		h, ok := b.injected[name]
		if !ok {
			var err error
			h, err = system.New(sc.Type)
			if err != nil {
				return fmt.Errorf("system %q: %w", name, err)
			}
		}

		node := sc.Config
		cfgNode := &node
		if node.Kind == 0 {
			cfgNode = nil
		}

		req := b.cfg.RequiredFor(name)
		if err := h.Configure(req, cfgNode, b.reg); err != nil {
			return fmt.Errorf("configuring system %q (%s): %w", name, sc.Type, err)
		}

		b.systems[name] = h
		b.rotation = append(b.rotation, name)
		b.log.WithFields(logrus.Fields{
			"system": name,
			"type":   sc.Type,
		}).Info("system configured")
	}
	return nil
}

func (b *Bridge) wireTopics() error {
	for _, route := range b.cfg.Routes.Topics {
		src, ok := b.systems[route.From].(system.TopicSubscriberSystem)
		if !ok {
			return fmt.Errorf("topic route %q: system %q cannot subscribe", route.Name, route.From)
		}

		type boundPublisher struct {
			name string
			pub  system.Publisher
		}
		pubs := make([]boundPublisher, 0, len(route.To))
		for _, to := range route.To {
			dst, ok := b.systems[to].(system.TopicPublisherSystem)
			if !ok {
				return fmt.Errorf("topic route %q: system %q cannot publish", route.Name, to)
			}
			pub, err := dst.Advertise(route.Name, route.Type, nil)
			if err != nil {
				return fmt.Errorf("topic route %q: advertising on %q: %w", route.Name, to, err)
			}
			pubs = append(pubs, boundPublisher{name: to, pub: pub})
		}

		route := route
		cb := func(msg *types.Data) {
			for i, bp := range pubs {
				out := msg
				if i < len(pubs)-1 {
					out = msg.Clone()
				}
				if err := bp.pub.Publish(out); err != nil {
					b.metrics.PublishErrorsTotal.WithLabelValues(route.Name, bp.name, publishFailureReason(err)).Inc()
					b.log.WithError(err).WithFields(logrus.Fields{
						"topic": route.Name,
						"to":    bp.name,
					}).Warn("publish rejected")
					continue
				}
				b.metrics.MessagesRoutedTotal.WithLabelValues(route.Name, route.From, bp.name).Inc()
			}
		}
		if err := src.Subscribe(route.Name, route.Type, cb, nil); err != nil {
			return fmt.Errorf("topic route %q: subscribing on %q: %w", route.Name, route.From, err)
		}
	}
	return nil
}

func publishFailureReason(err error) string {
	switch {
	case errors.Is(err, system.ErrMismatchedType):
		return "mismatched_type"
	case errors.Is(err, system.ErrNotLive):
		return "not_live"
	default:
		return "error"
	}
}

func (b *Bridge) wireServices() error {
	for _, route := range b.cfg.Routes.Services {
		srvSys, ok := b.systems[route.Server].(system.ServiceProviderSystem)
		if !ok {
			return fmt.Errorf("service route %q: system %q cannot provide services", route.Name, route.Server)
		}
		prov, err := srvSys.CreateServiceProxy(route.Name, route.Type, nil)
		if err != nil {
			return fmt.Errorf("service route %q: service proxy on %q: %w", route.Name, route.Server, err)
		}

		for _, clName := range route.Clients {
			clSys, ok := b.systems[clName].(system.ServiceClientSystem)
			if !ok {
				return fmt.Errorf("service route %q: system %q cannot originate calls", route.Name, clName)
			}

			route, clName := route, clName
			cb := func(req *types.Data, client system.Client, call correlation.Handle) {
				b.metrics.CallsTotal.WithLabelValues(route.Name, clName, route.Server).Inc()
				b.metrics.CallsInflight.Inc()
				prov.CallService(req, &trackedClient{inner: client, bridge: b}, call)
			}
			if err := clSys.CreateClientProxy(route.Name, route.Type, cb, nil); err != nil {
				return fmt.Errorf("service route %q: client proxy on %q: %w", route.Name, clName, err)
			}
		}
	}
	return nil
}

// trackedClient decrements the in-flight gauge when the provider completes
// the call. The exactly-once contract on CallService makes the once
// redundant in a correct adapter; it keeps the gauge honest in a broken one.
type trackedClient struct {
	inner  system.Client
	bridge *Bridge
	once   sync.Once
}

func (t *trackedClient) ReceiveResponse(call correlation.Handle, resp *types.Data) {
	t.once.Do(func() { t.bridge.metrics.CallsInflight.Dec() })
	t.inner.ReceiveResponse(call, resp)
}

// Spin runs the polling loop until ctx is cancelled or no adapter remains
// live. Each pass gives every adapter in the rotation one SpinOnce; an
// adapter that reports itself down is removed from the rotation and never
// brings the loop down with it.
func (b *Bridge) Spin(ctx context.Context) error {
	ticker := time.NewTicker(b.spinInterval)
	defer ticker.Stop()

	for {
		if remaining := b.spinPass(); remaining == 0 {
			return ErrNoLiveAdapters
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SpinPass runs a single polling pass. Exposed for embedders that drive the
// loop themselves.
func (b *Bridge) SpinPass() int {
	return b.spinPass()
}

func (b *Bridge) spinPass() int {
	start := time.Now()

	b.mu.Lock()
	rotation := make([]string, len(b.rotation))
	copy(rotation, b.rotation)
	b.mu.Unlock()

	var dropped []string
	for _, name := range rotation {
		if !b.systems[name].SpinOnce() {
			dropped = append(dropped, name)
		}
	}

	if len(dropped) > 0 {
		b.mu.Lock()
		for _, name := range dropped {
			b.rotation = removeString(b.rotation, name)
			b.log.WithField("system", name).Error("adapter degraded, removing from rotation")
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	remaining := len(b.rotation)
	b.mu.Unlock()

	b.metrics.AdaptersLive.Set(float64(remaining))
	b.metrics.SpinDuration.Observe(time.Since(start).Seconds())
	return remaining
}

// Okay reports whether every configured adapter is still live.
func (b *Bridge) Okay() bool {
	for _, h := range b.systems {
		if !h.Okay() {
			return false
		}
	}
	return len(b.systems) > 0
}

// Status reports per-system liveness, shaped for the readiness probe.
func (b *Bridge) Status() map[string]bool {
	out := make(map[string]bool, len(b.systems))
	for name, h := range b.systems {
		out[name] = h.Okay()
	}
	return out
}

// Registry exposes the shared type registry.
func (b *Bridge) Registry() *types.Registry {
	return b.reg
}

// Close shuts down every adapter that supports it.
func (b *Bridge) Close() error {
	b.closeSystems()
	return nil
}

func (b *Bridge) closeSystems() {
	for name, h := range b.systems {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				b.log.WithError(err).WithField("system", name).Warn("error closing adapter")
			}
		}
	}
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
