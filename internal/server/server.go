package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/handshake"
	"github.com/edkek/eyerobot/internal/journal"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/session"
	"github.com/edkek/eyerobot/internal/world"
)

const (
	ServiceName    = "eyerobot"
	ServiceVersion = "1.0.0"
)

// Server wires the session core to its transports. It owns every component
// and their lifecycle; nothing is held in package state.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	world     *world.World
	sessions  *session.Manager
	validator *handshake.Validator
	udp       *UDPServer
	stream    *StreamServer
	http      *HTTPServer      // nil when disabled
	journal   *journal.Journal // nil when disabled

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

// New builds a server from configuration. Nothing is bound until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	s := &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		world:    world.New(logger),
		sessions: session.NewManager(logger, session.ManagerConfig{
			PeerRedirect: cfg.Session.PeerRedirect,
		}),
	}

	s.udp = NewUDPServer(&cfg.Server, logger, s.sessions, m)
	s.validator = handshake.NewValidator(handshake.Config{
		AllowReconnect: cfg.Session.AllowReconnect,
		EnforceIP:      cfg.Session.EnforceIP,
	}, s.world, s.sessions, s.udp, m, logger)
	s.udp.SetValidator(s.validator)

	s.stream = NewStreamServer(&cfg.Server, logger, s.sessions, s.world, m)

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.QueueSize, logger, m)
		if err != nil {
			return nil, err
		}
		s.journal = j
	}

	s.sessions.OnAdd(s.clientAdded)
	s.sessions.OnRemove(s.clientRemoved)

	if cfg.HTTP.Enabled {
		s.http = NewHTTPServer(cfg, logger, HTTPDeps{
			Sessions:  s.sessions,
			World:     s.world,
			UDP:       s.udp,
			Journal:   s.journal,
			Metrics:   m,
			Gatherer:  registry,
			WebSocket: s.stream.HandleWebSocket,
		})
	}

	return s, nil
}

func (s *Server) clientAdded(c session.Client) {
	s.metrics.RecordSessionCreated(string(c.Transport()))
	if s.journal != nil {
		s.journal.Record(journal.NewEvent(journal.EventConnect, c))
	}
}

func (s *Server) clientRemoved(c session.Client) {
	if rc, ok := c.(*session.RobotClient); ok {
		s.world.Release(rc.Name(), rc)
	}

	info := c.Info()
	s.metrics.RecordSessionDisconnected(string(c.Transport()), time.Since(info.ConnectedAt).Seconds())
	if s.journal != nil {
		s.journal.Record(journal.NewEvent(journal.EventDisconnect, c))
	}
}

// Start opens the session manager and binds every transport. A bind failure
// unwinds whatever was already started.
func (s *Server) Start() error {
	s.sessions.Start()

	if err := s.udp.Start(); err != nil {
		s.sessions.Stop()
		return err
	}

	if err := s.stream.Start(); err != nil {
		s.sessions.Stop()
		s.udp.Stop()
		return err
	}

	if s.http != nil {
		if err := s.http.Start(); err != nil {
			s.sessions.Stop()
			s.udp.Stop()
			s.stream.Stop()
			return err
		}
	}

	if timeout := s.config.Session.GetIdleTimeout(); timeout > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.reaperCancel = cancel
		s.reaperDone = make(chan struct{})
		go func() {
			defer close(s.reaperDone)
			s.sessions.RunIdleReaper(ctx, s.config.Session.GetReapInterval(), timeout)
		}()
	}

	s.logger.Info("Server started",
		slog.String("udp_address", s.udp.LocalAddr().String()),
		slog.String("tcp_address", s.stream.Addr().String()),
		slog.Bool("allow_reconnect", s.config.Session.AllowReconnect),
		slog.Bool("enforce_ip", s.config.Session.EnforceIP),
	)

	return nil
}

// Stop disconnects every client, then stops the transports in parallel and
// finally flushes the journal. Handshakes still in flight fail once the
// manager is stopped.
func (s *Server) Stop(ctx context.Context) error {
	if s.reaperCancel != nil {
		s.reaperCancel()
		<-s.reaperDone
	}

	s.sessions.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.udp.Stop)
	g.Go(s.stream.Stop)
	if s.http != nil {
		g.Go(func() error {
			return s.http.Stop(gctx)
		})
	}
	err := g.Wait()

	if s.journal != nil {
		if jerr := s.journal.Close(); jerr != nil && err == nil {
			err = fmt.Errorf("failed to close journal: %w", jerr)
		}
	}

	stats := s.udp.GetStatistics()
	s.logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_routed", stats.DatagramsRouted),
		slog.Uint64("handshakes", stats.Handshakes),
		slog.Uint64("handshakes_accepted", stats.HandshakesAccepted),
		slog.Uint64("handshakes_dropped", stats.HandshakesDropped),
	)

	return err
}

// Run starts the server and blocks until ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager { return s.sessions }

// World returns the robot directory
func (s *Server) World() *world.World { return s.world }

// UDP returns the datagram listener
func (s *Server) UDP() *UDPServer { return s.udp }

// Stream returns the reliable-transport listener
func (s *Server) Stream() *StreamServer { return s.stream }

// HTTP returns the HTTP API server, or nil when disabled
func (s *Server) HTTP() *HTTPServer { return s.http }
