package session

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edkek/eyerobot/internal/protocol"
	"github.com/edkek/eyerobot/internal/world"
)

// Transmitter sends a datagram from the server's UDP socket
type Transmitter interface {
	SendDatagram(data []byte, dst netip.AddrPort) error
}

// RobotClient is the UDP session of one robot
type RobotClient struct {
	id           string
	name         string
	key          Key
	tx           Transmitter
	onDisconnect DisconnectFunc
	logger       *slog.Logger
	connectedAt  time.Time

	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanoseconds
	outSeq   atomic.Int64

	mu            sync.RWMutex
	robot         *world.Robot
	lastSequence  int64
	haveSequence  bool
	datagrams     uint64
	sensorReports uint64
	staleReports  uint64
	ignored       uint64
}

// NewRobotClient creates a session for the robot announced from key
func NewRobotClient(name string, key Key, tx Transmitter, onDisconnect DisconnectFunc, logger *slog.Logger) *RobotClient {
	now := time.Now()
	c := &RobotClient{
		id:           uuid.NewString(),
		name:         name,
		key:          key,
		tx:           tx,
		onDisconnect: onDisconnect,
		logger:       logger,
		connectedAt:  now,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *RobotClient) ID() string             { return c.id }
func (c *RobotClient) Name() string           { return c.name }
func (c *RobotClient) Key() Key               { return c.key }
func (c *RobotClient) Transport() Transport   { return TransportUDP }
func (c *RobotClient) RemoteAddr() netip.Addr { return c.key.Addr() }

// Connected reports whether the session has completed its handshake and has
// not been disconnected
func (c *RobotClient) Connected() bool {
	return c.state.Load() == stateConnected
}

// LastSeen returns the time of the last datagram from the robot
func (c *RobotClient) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// AttachRobot binds the world entity driven by this session
func (c *RobotClient) AttachRobot(robot *world.Robot) {
	c.mu.Lock()
	c.robot = robot
	c.mu.Unlock()
}

// Robot returns the attached world entity
func (c *RobotClient) Robot() *world.Robot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.robot
}

// OnConnected is the lifecycle hook run once the session is routable
func (c *RobotClient) OnConnected() {
	if !c.state.CompareAndSwap(stateConnecting, stateConnected) {
		return
	}

	c.mu.RLock()
	robot := c.robot
	c.mu.RUnlock()
	if robot != nil {
		robot.OnConnected()
	}

	c.logger.Info("Robot session connected",
		slog.String("client_id", c.id),
		slog.String("robot", c.name),
		slog.String("remote_addr", c.key.String()),
	)
}

// ProcessDatagram interprets one datagram routed to this session. Payloads it
// does not understand are counted and dropped.
func (c *RobotClient) ProcessDatagram(data []byte) {
	if c.state.Load() == stateDisconnected {
		return
	}
	c.lastSeen.Store(time.Now().UnixNano())

	c.mu.Lock()
	c.datagrams++
	c.mu.Unlock()

	op, err := protocol.Opcode(data)
	if err != nil {
		c.countIgnored()
		return
	}

	switch op {
	case protocol.OpSensorInfo:
		c.processSensorInfo(data)
	default:
		c.countIgnored()
		c.logger.Debug("Ignoring datagram on established session",
			slog.String("client_id", c.id),
			slog.String("robot", c.name),
			slog.String("opcode", protocol.OpcodeString(op)),
			slog.Int("size", len(data)),
		)
	}
}

func (c *RobotClient) processSensorInfo(data []byte) {
	info, err := protocol.ParseSensorInfo(data)
	if err != nil {
		c.countIgnored()
		c.logger.Debug("Malformed sensor info",
			slog.String("robot", c.name),
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	if c.haveSequence && info.Sequence < c.lastSequence {
		c.staleReports++
		c.mu.Unlock()
		return
	}
	c.lastSequence = info.Sequence
	c.haveSequence = true
	c.sensorReports++
	robot := c.robot
	c.mu.Unlock()

	if robot != nil {
		robot.UpdateTelemetry(info)
	}
}

func (c *RobotClient) countIgnored() {
	c.mu.Lock()
	c.ignored++
	c.mu.Unlock()
}

// Send pushes a payload to the robot's endpoint. Failures are logged and
// returned; nothing is retried.
func (c *RobotClient) Send(payload []byte) error {
	if c.state.Load() == stateDisconnected {
		return ErrDisconnected
	}

	if err := c.tx.SendDatagram(payload, c.key.AddrPort()); err != nil {
		c.logger.Error("Failed to send datagram",
			slog.String("client_id", c.id),
			slog.String("robot", c.name),
			slog.String("remote_addr", c.key.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("send to %s: %w", c.name, err)
	}
	return nil
}

// SendMotorCommand drives the robot's motors. Each command carries a higher
// sequence than the last so the robot can discard reordered commands.
func (c *RobotClient) SendMotorCommand(motors [protocol.MotorCount]int32) error {
	cmd := protocol.MotorCommand{
		Sequence: c.outSeq.Add(1),
		Motors:   motors,
	}
	data, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Disconnect closes the session and runs the disconnect call-out once
func (c *RobotClient) Disconnect() {
	if c.state.Swap(stateDisconnected) == stateDisconnected {
		return
	}

	c.logger.Debug("Robot session closing",
		slog.String("client_id", c.id),
		slog.String("robot", c.name),
	)

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
}

// Info returns a snapshot of the session
func (c *RobotClient) Info() ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientInfo{
		ID:            c.id,
		Name:          c.name,
		Transport:     TransportUDP,
		RemoteAddr:    c.key.String(),
		Connected:     c.Connected(),
		Identified:    true,
		ConnectedAt:   c.connectedAt,
		LastSeen:      c.LastSeen(),
		Duration:      time.Since(c.connectedAt).Round(time.Second).String(),
		Datagrams:     c.datagrams,
		SensorReports: c.sensorReports,
		StaleReports:  c.staleReports,
		Ignored:       c.ignored,
	}
}
