package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/protocol"
	"github.com/edkek/eyerobot/internal/session"
	"github.com/edkek/eyerobot/internal/world"
)

var ErrUnknownRobot = errors.New("unknown robot")

// ClientBinder is the registry side of the reliable transport
type ClientBinder interface {
	Attach(c session.Client) error
	Disconnected(c session.Client)
}

// RobotDirectory resolves robot names for forwarded commands
type RobotDirectory interface {
	Robot(name string) (*world.Robot, bool)
}

// motorDriver is implemented by sessions that can drive motors
type motorDriver interface {
	SendMotorCommand(motors [protocol.MotorCount]int32) error
}

// StreamServer accepts reliable-transport connections. Each connection gets
// its own goroutine; WebSocket connections share the same handler.
type StreamServer struct {
	listener net.Listener
	config   *config.ServerConfig
	logger   *slog.Logger
	binder   ClientBinder
	robots   RobotDirectory
	metrics  *metrics.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewStreamServer creates a new stream server instance. metrics may be nil.
func NewStreamServer(cfg *config.ServerConfig, logger *slog.Logger, binder ClientBinder, robots RobotDirectory, m *metrics.Metrics) *StreamServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamServer{
		config:  cfg,
		logger:  logger,
		binder:  binder,
		robots:  robots,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins accepting TCP connections
func (s *StreamServer) Start() error {
	listener, err := net.Listen("tcp", s.config.TCPAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("Stream server started", slog.String("address", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and waits for connection handlers to exit.
// Connections are closed by the session manager's Stop.
func (s *StreamServer) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping stream server...")
		s.cancel()

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
			}
		}

		s.wg.Wait()
		s.logger.Info("Stream server stopped")
	})
	return nil
}

// Addr returns the listener address
func (s *StreamServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *StreamServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn, session.TransportTCP)
		}()
	}
}

// ServeConn runs one connection until it closes. The client is on the
// client list for the whole call and disconnects through the shared
// lifecycle when the read side fails.
func (s *StreamServer) ServeConn(conn net.Conn, transport session.Transport) {
	c := session.NewStreamClient(conn, transport, s.binder.Disconnected, s.logger)
	if err := s.binder.Attach(c); err != nil {
		s.logger.Debug("Rejecting connection",
			slog.String("remote_addr", conn.RemoteAddr().String()),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}
	defer c.Disconnect()

	s.logger.Info("Stream client connected",
		slog.String("client_id", c.ID()),
		slog.String("transport", string(transport)),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	for {
		frame, err := protocol.DecodeFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.Connected() {
				s.logger.Debug("Stream read failed",
					slog.String("client_id", c.ID()),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		c.Touch()
		if s.metrics != nil {
			s.metrics.RecordStreamFrame(protocol.FrameTypeString(frame.Type))
		}

		if err := s.handleFrame(c, frame); err != nil {
			s.logger.Debug("Stream write failed",
				slog.String("client_id", c.ID()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// handleFrame processes one inbound frame. Only write failures are returned;
// request errors are reported to the client as Error frames.
func (s *StreamServer) handleFrame(c *session.StreamClient, frame *protocol.Frame) error {
	switch frame.Type {
	case protocol.FrameIdentify:
		name, err := protocol.DecodeIdentify(frame.Payload)
		if err == nil {
			err = c.Identify(name)
		}
		if err != nil {
			return writeError(c, err)
		}
		s.logger.Info("Stream client identified",
			slog.String("client_id", c.ID()),
			slog.String("name", name),
		)
		return c.WriteFrame(&protocol.Frame{Type: protocol.FrameAck})

	case protocol.FramePing:
		return c.WriteFrame(&protocol.Frame{Type: protocol.FramePong, Payload: frame.Payload})

	case protocol.FrameMotorCommand:
		if err := s.forwardMotorCommand(c, frame.Payload); err != nil {
			return writeError(c, err)
		}
		return c.WriteFrame(&protocol.Frame{Type: protocol.FrameAck})

	case protocol.FrameAck, protocol.FramePong:
		return nil

	default:
		return writeError(c, fmt.Errorf("unexpected frame %s", protocol.FrameTypeString(frame.Type)))
	}
}

func (s *StreamServer) forwardMotorCommand(c *session.StreamClient, payload []byte) error {
	if !c.Identified() {
		return session.ErrNotIdentified
	}

	cmd, err := protocol.DecodeStreamMotorCommand(payload)
	if err != nil {
		return err
	}

	robot, ok := s.robots.Robot(cmd.Robot)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRobot, cmd.Robot)
	}
	driver, ok := robot.Link().(motorDriver)
	if !ok || !robot.Online() {
		return fmt.Errorf("%w: %s is offline", ErrUnknownRobot, cmd.Robot)
	}

	s.logger.Debug("Forwarding motor command",
		slog.String("client_id", c.ID()),
		slog.String("operator", c.Name()),
		slog.String("robot", cmd.Robot),
	)
	return driver.SendMotorCommand(cmd.Motors)
}

func writeError(c *session.StreamClient, err error) error {
	return c.WriteFrame(&protocol.Frame{Type: protocol.FrameError, Payload: []byte(err.Error())})
}
