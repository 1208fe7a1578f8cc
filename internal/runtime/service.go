package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/luaflow/internal/runtime/channel"
	configpkg "github.com/drblury/luaflow/internal/runtime/config"
	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	// Transports builds bus children, transport.DefaultRegistry when nil.
	Transports *transport.Registry
	// Hooks observe every channel of the service.
	Hooks channel.Hooks
	// Middlewares wrap every hook call. Nil selects the default chain.
	Middlewares []channel.HookMiddleware
	// Registerer receives the channel metrics. A private registry is used
	// when nil.
	Registerer prometheus.Registerer
	// DumpWriter receives dumped messages instead of the logger.
	DumpWriter io.Writer
}

// Service hosts the channels of a service configuration, sharing one
// channel registry, metrics and the web UI server between them.
type Service struct {
	Conf   *configpkg.Service
	Logger loggingpkg.ServiceLogger

	registry *channel.Registry
	metrics  *channel.Metrics
	gatherer prometheus.Gatherer

	mu       sync.Mutex
	channels []*channel.Lua

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	resourceTracker *resourceTracker
	startedAt       time.Time
}

// NewService validates conf and creates its channels. Channels are opened by
// Open or Start.
func NewService(conf *configpkg.Service, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errors.New("service: config is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = loggingpkg.NopLogger()
	}
	log.Info("Creating luaflow service", loggingpkg.LogFields{
		"channels": len(conf.Channels),
		"webui":    conf.WebUIEnabled,
		"metrics":  conf.MetricsEnabled,
	})

	registerer := deps.Registerer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if registerer == nil {
		reg := prometheus.NewRegistry()
		registerer, gatherer = reg, reg
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        channel.NewRegistry(),
		metrics:         channel.NewMetrics(registerer),
		gatherer:        gatherer,
		resourceTracker: newResourceTracker(),
	}

	for _, c := range conf.Channels {
		l, err := channel.New(c, log, channel.Dependencies{
			Registry:    s.registry,
			Transports:  deps.Transports,
			Hooks:       deps.Hooks,
			Middlewares: deps.Middlewares,
			Metrics:     s.metrics,
			DumpWriter:  deps.DumpWriter,
		})
		if err != nil {
			return nil, fmt.Errorf("create channel %s: %w", c.Name, err)
		}
		s.channels = append(s.channels, l)
	}
	return s, nil
}

// Channels returns the hosted channels in configuration order.
func (s *Service) Channels() []*channel.Lua {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*channel.Lua(nil), s.channels...)
}

// Channel returns the hosted channel called name.
func (s *Service) Channel(name string) (*channel.Lua, error) {
	for _, l := range s.Channels() {
		if l.Name() == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errspkg.ErrChannelNotFound, name)
}

// Registry returns the registry shared by the hosted channels and their
// children.
func (s *Service) Registry() *channel.Registry { return s.registry }

// Metrics returns the channel metrics of the service.
func (s *Service) Metrics() *channel.Metrics { return s.metrics }

// Open opens the channels in order. When one fails, the channels opened
// before it are closed again.
func (s *Service) Open(ctx context.Context) error {
	channels := s.Channels()
	for i, l := range channels {
		err := l.Open(ctx, nil)
		if err == nil && l.State() != channel.Active {
			err = fmt.Errorf("state %s after open", l.State())
		}
		if err != nil {
			s.Logger.Error("Failed to open channel", err, loggingpkg.LogFields{"channel": l.Name()})
			_ = s.closeChannels(ctx, channels[:i+1])
			return fmt.Errorf("open channel %s: %w", l.Name(), err)
		}
	}
	return nil
}

// Close closes the channels in reverse order.
func (s *Service) Close(ctx context.Context) error {
	return s.closeChannels(ctx, s.Channels())
}

func (s *Service) closeChannels(ctx context.Context, channels []*channel.Lua) error {
	var errs []error
	for i := len(channels) - 1; i >= 0; i-- {
		if err := channels[i].Close(ctx, false); err != nil {
			errs = append(errs, fmt.Errorf("close channel %s: %w", channels[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reload closes and reopens one channel, loading its script again.
func (s *Service) Reload(ctx context.Context, name string) error {
	l, err := s.Channel(name)
	if err != nil {
		return err
	}
	s.Logger.Info("Reloading channel", loggingpkg.LogFields{"channel": name})
	if err := l.Close(ctx, false); err != nil {
		return fmt.Errorf("close channel %s: %w", name, err)
	}
	return l.Open(ctx, nil)
}

// Start opens the channels and serves the web UI until ctx is cancelled,
// then closes everything.
func (s *Service) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.StartWebUIServer()
	s.startHTTPServers()
	defer s.stopHTTPServers()

	if err := s.Open(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Logger.Info("Stopping luaflow service", nil)
	return s.Close(context.WithoutCancel(ctx))
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for _, srv := range s.servers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Warn("HTTP server shutdown failed", loggingpkg.LogFields{"address": srv.Addr, "error": err.Error()})
		}
		cancel()
	}
	s.servers = nil
}
