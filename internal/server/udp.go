package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/session"
)

var ErrNotListening = errors.New("udp server is not listening")

// SessionRouter resolves the session that owns a sender
type SessionRouter interface {
	Route(key session.Key) (*session.RobotClient, bool)
}

// HandshakeValidator admits unknown senders
type HandshakeValidator interface {
	Validate(data []byte, from netip.AddrPort) (*session.RobotClient, error)
}

// UDPServer owns the robot datagram socket. Datagrams from known senders are
// processed inline on the receive goroutine, which keeps per-session order;
// everything else is rate limited and handed to a fixed pool of handshake
// workers.
type UDPServer struct {
	conn      *net.UDPConn
	config    *config.ServerConfig
	logger    *slog.Logger
	router    SessionRouter
	validator HandshakeValidator
	metrics   *metrics.Metrics
	limiter   *rate.Limiter

	// Concurrency management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}
	stopOnce sync.Once

	// Handshake processing
	handshakeChan chan *incomingDatagram
	workers       int

	// Basic counters, mirrored in Prometheus
	datagramsReceived  uint64
	datagramsRouted    uint64
	datagramsTruncated uint64
	handshakes         uint64
	handshakesAccepted uint64
	handshakesDropped  uint64
	readErrors         uint64
	sendErrors         uint64
	mu                 sync.RWMutex
}

// incomingDatagram represents a received datagram waiting for a handshake worker
type incomingDatagram struct {
	data       []byte
	remoteAddr netip.AddrPort
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance. metrics may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, router SessionRouter, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.HandshakeWorkers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.HandshakeQueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	limit := rate.Inf
	if cfg.HandshakeRate > 0 {
		limit = rate.Limit(cfg.HandshakeRate)
	}
	burst := cfg.HandshakeBurst
	if burst < 1 {
		burst = 1
	}

	return &UDPServer{
		config:        cfg,
		logger:        logger,
		router:        router,
		metrics:       m,
		limiter:       rate.NewLimiter(limit, burst),
		ctx:           ctx,
		cancel:        cancel,
		loopDone:      make(chan struct{}),
		handshakeChan: make(chan *incomingDatagram, queueSize),
		workers:       workers,
	}
}

// SetValidator installs the handshake validator. It must be called before Start.
func (s *UDPServer) SetValidator(v HandshakeValidator) {
	s.validator = v
}

// Start binds the socket and begins receiving. Failing to bind is the only
// fatal error.
func (s *UDPServer) Start() error {
	if s.validator == nil {
		return fmt.Errorf("udp server has no handshake validator")
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.UDPAddress())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.bufferSize()),
		slog.Int("handshake_workers", s.workers),
		slog.Int("handshake_queue_size", cap(s.handshakeChan)),
	)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.handshakeWorker(i)
	}

	go s.receiveLoop()

	return nil
}

// Stop closes the socket, waits for the receive loop to exit and drains the
// handshake workers. It is safe to call more than once.
func (s *UDPServer) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP server...")

		s.cancel()

		if s.conn == nil {
			return
		}

		// Closing the socket unblocks the pending receive
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}

		// The receive loop is the only sender on handshakeChan
		<-s.loopDone
		close(s.handshakeChan)
		s.wg.Wait()

		stats := s.GetStatistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("datagrams_received", stats.DatagramsReceived),
			slog.Uint64("datagrams_routed", stats.DatagramsRouted),
			slog.Uint64("handshakes", stats.Handshakes),
			slog.Uint64("handshakes_dropped", stats.HandshakesDropped),
		)
	})
	return nil
}

// LocalAddr returns the bound socket address
func (s *UDPServer) LocalAddr() netip.AddrPort {
	if s.conn == nil {
		return netip.AddrPort{}
	}
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (s *UDPServer) bufferSize() int {
	if s.config.BufferSize > 0 {
		return s.config.BufferSize
	}
	return 1024
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer close(s.loopDone)

	buffer := make([]byte, s.bufferSize())

	for {
		n, remoteAddr, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			// A receive in flight when the socket closes is expected
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Receive loop stopping")
				return
			}

			s.mu.Lock()
			s.readErrors++
			s.mu.Unlock()

			s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			continue
		}

		s.dispatch(buffer[:n], remoteAddr, n == len(buffer))
	}
}

// dispatch classifies one datagram. data aliases the receive buffer and is
// only valid for the duration of the call.
func (s *UDPServer) dispatch(data []byte, remoteAddr netip.AddrPort, truncated bool) {
	s.mu.Lock()
	s.datagramsReceived++
	if truncated {
		s.datagramsTruncated++
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordDatagramReceived(truncated)
	}

	if truncated {
		s.logger.Debug("Datagram filled receive buffer and may be truncated",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("buffer_size", len(data)),
		)
	}

	key := session.NewKey(remoteAddr)

	// Fast path: known sender
	if c, ok := s.router.Route(key); ok {
		s.route(c, data)
		return
	}

	// Slow path: candidate handshake
	if !s.limiter.Allow() {
		s.dropHandshake(metrics.DropRateLimited, remoteAddr, len(data))
		return
	}

	// Copy the datagram (buffer will be reused)
	datagram := &incomingDatagram{
		data:       append([]byte(nil), data...),
		remoteAddr: remoteAddr,
		timestamp:  time.Now(),
	}

	select {
	case s.handshakeChan <- datagram:
		if s.metrics != nil {
			s.metrics.SetHandshakeQueueSize(len(s.handshakeChan))
		}
	default:
		s.dropHandshake(metrics.DropQueueFull, remoteAddr, len(data))
	}
}

func (s *UDPServer) route(c *session.RobotClient, data []byte) {
	s.mu.Lock()
	s.datagramsRouted++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordDatagramRouted()
	}

	c.ProcessDatagram(data)
}

func (s *UDPServer) dropHandshake(reason string, remoteAddr netip.AddrPort, size int) {
	s.mu.Lock()
	s.handshakesDropped++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordHandshakeDropped(reason)
	}

	s.logger.Debug("Dropping datagram from unknown sender",
		slog.String("reason", reason),
		slog.String("remote_addr", remoteAddr.String()),
		slog.Int("size", size),
	)
}

// handshakeWorker validates datagrams from the handshake channel
func (s *UDPServer) handshakeWorker(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Handshake worker started", slog.Int("worker_id", workerID))

	for datagram := range s.handshakeChan {
		s.handleHandshake(datagram, workerID)
	}

	s.logger.Debug("Handshake worker stopped", slog.Int("worker_id", workerID))
}

// handleHandshake processes a single queued datagram
func (s *UDPServer) handleHandshake(datagram *incomingDatagram, workerID int) {
	if s.metrics != nil {
		s.metrics.SetHandshakeQueueSize(len(s.handshakeChan))
	}

	// An earlier datagram in the queue may have admitted this sender
	if c, ok := s.router.Route(session.NewKey(datagram.remoteAddr)); ok {
		s.route(c, datagram.data)
		return
	}

	s.mu.Lock()
	s.handshakes++
	s.mu.Unlock()

	c, err := s.validator.Validate(datagram.data, datagram.remoteAddr)
	if err != nil {
		// Already logged by the validator at the right level
		return
	}

	s.mu.Lock()
	s.handshakesAccepted++
	s.mu.Unlock()

	s.logger.Info("Robot session established",
		slog.String("robot", c.Name()),
		slog.String("client_id", c.ID()),
		slog.String("remote_addr", datagram.remoteAddr.String()),
		slog.Duration("queued", time.Since(datagram.timestamp)),
		slog.Int("worker_id", workerID),
	)
}

// SendDatagram sends data from the server socket. Failures are logged by the
// caller and counted here; nothing is retried.
func (s *UDPServer) SendDatagram(data []byte, dst netip.AddrPort) error {
	if s.conn == nil {
		return ErrNotListening
	}

	if _, err := s.conn.WriteToUDPAddrPort(data, dst); err != nil {
		s.mu.Lock()
		s.sendErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordSendError()
		}
		return err
	}
	return nil
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() UDPStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return UDPStatistics{
		DatagramsReceived:  s.datagramsReceived,
		DatagramsRouted:    s.datagramsRouted,
		DatagramsTruncated: s.datagramsTruncated,
		Handshakes:         s.handshakes,
		HandshakesAccepted: s.handshakesAccepted,
		HandshakesDropped:  s.handshakesDropped,
		ReadErrors:         s.readErrors,
		SendErrors:         s.sendErrors,
		QueueSize:          uint64(len(s.handshakeChan)),
		QueueCapacity:      uint64(cap(s.handshakeChan)),
	}
}

// UDPStatistics represents datagram listener counters
type UDPStatistics struct {
	DatagramsReceived  uint64 `json:"datagrams_received"`
	DatagramsRouted    uint64 `json:"datagrams_routed"`
	DatagramsTruncated uint64 `json:"datagrams_truncated"`
	Handshakes         uint64 `json:"handshakes"`
	HandshakesAccepted uint64 `json:"handshakes_accepted"`
	HandshakesDropped  uint64 `json:"handshakes_dropped"`
	ReadErrors         uint64 `json:"read_errors"`
	SendErrors         uint64 `json:"send_errors"`
	QueueSize          uint64 `json:"queue_size"`
	QueueCapacity      uint64 `json:"queue_capacity"`
}
