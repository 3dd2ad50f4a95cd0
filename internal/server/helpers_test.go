package server

import (
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/handshake"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/protocol"
	"github.com/edkek/eyerobot/internal/session"
	"github.com/edkek/eyerobot/internal/world"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		BindAddress:        "127.0.0.1",
		UDPPort:            0,
		BufferSize:         1024,
		HandshakeWorkers:   2,
		HandshakeQueueSize: 16,
		HandshakeRate:      1000,
		HandshakeBurst:     100,
	}
}

type core struct {
	sessions *session.Manager
	world    *world.World
	metrics  *metrics.Metrics
}

func newCore(t *testing.T) *core {
	t.Helper()
	logger := testLogger()
	c := &core{
		sessions: session.NewManager(logger, session.ManagerConfig{}),
		world:    world.New(logger),
		metrics:  metrics.NewMetrics(nil),
	}
	c.sessions.OnRemove(func(cl session.Client) {
		if rc, ok := cl.(*session.RobotClient); ok {
			c.world.Release(rc.Name(), rc)
		}
	})
	c.sessions.Start()
	t.Cleanup(c.sessions.Stop)
	return c
}

// startUDP runs a listener with a validator over the given core
func startUDP(t *testing.T, c *core, cfg *config.ServerConfig, policy handshake.Config) *UDPServer {
	t.Helper()
	logger := testLogger()
	udp := NewUDPServer(cfg, logger, c.sessions, c.metrics)
	udp.SetValidator(handshake.NewValidator(policy, c.world, c.sessions, udp, c.metrics, logger))
	require.NoError(t, udp.Start())
	t.Cleanup(func() { udp.Stop() })
	return udp
}

// robotConn is a UDP socket playing the robot side
type robotConn struct {
	t    *testing.T
	conn *net.UDPConn
}

func dialRobot(t *testing.T, server netip.AddrPort) *robotConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(server))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &robotConn{t: t, conn: conn}
}

func (r *robotConn) send(data []byte) {
	r.t.Helper()
	_, err := r.conn.Write(data)
	require.NoError(r.t, err)
}

func (r *robotConn) announce(name string) {
	r.t.Helper()
	data, err := protocol.EncodeAnnounce(name)
	require.NoError(r.t, err)
	r.send(data)
}

func (r *robotConn) sensor(seq int64) {
	r.t.Helper()
	data, err := (&protocol.SensorInfo{Sequence: seq, Motors: [protocol.MotorCount]int32{1, 1, 1, 1}}).MarshalBinary()
	require.NoError(r.t, err)
	r.send(data)
}

func (r *robotConn) readMotorCommand() *protocol.MotorCommand {
	r.t.Helper()
	buf := make([]byte, 256)
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := r.conn.Read(buf)
	require.NoError(r.t, err)
	cmd, err := protocol.ParseMotorCommand(buf[:n])
	require.NoError(r.t, err)
	return cmd
}

func (r *robotConn) localAddr() netip.AddrPort {
	return r.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

type recordingTransmitter struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransmitter) SendDatagram(data []byte, _ netip.AddrPort) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recordingTransmitter) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}

// bindRobot registers a connected robot session without a socket
func bindRobot(t *testing.T, c *core, name, addr string, tx session.Transmitter) *session.RobotClient {
	t.Helper()
	rc := session.NewRobotClient(name, session.NewKey(netip.MustParseAddrPort(addr)), tx, c.sessions.Disconnected, testLogger())
	rc.AttachRobot(c.world.Bind(name, rc))
	_, err := c.sessions.Promote(rc)
	require.NoError(t, err)
	rc.OnConnected()
	return rc
}
