package server

import (
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edkek/eyerobot/internal/handshake"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/protocol"
	"github.com/edkek/eyerobot/internal/session"
)

func TestUDPHandshakeAndTelemetry(t *testing.T) {
	c := newCore(t)
	udp := startUDP(t, c, testServerConfig(), handshake.Config{AllowReconnect: true, EnforceIP: true})
	robot := dialRobot(t, udp.LocalAddr())

	robot.announce("R1")
	require.Eventually(t, func() bool { return c.sessions.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rc, ok := c.sessions.Lookup(session.NewKey(robot.localAddr()))
	require.True(t, ok)
	assert.Equal(t, "R1", rc.Name())
	require.Eventually(t, rc.Connected, time.Second, 10*time.Millisecond)

	robot.sensor(1)
	robot.sensor(2)

	r, ok := c.world.Robot("R1")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		info, _, ok := r.Telemetry()
		return ok && info.Sequence == 2
	}, 2*time.Second, 10*time.Millisecond)

	stats := udp.GetStatistics()
	assert.Equal(t, uint64(3), stats.DatagramsReceived)
	assert.Equal(t, uint64(2), stats.DatagramsRouted)
	assert.Eventually(t, func() bool { return udp.GetStatistics().HandshakesAccepted == 1 }, time.Second, 10*time.Millisecond)
}

func TestUDPKnownSenderNeverReachesValidator(t *testing.T) {
	c := newCore(t)
	udp := startUDP(t, c, testServerConfig(), handshake.Config{AllowReconnect: true, EnforceIP: true})
	robot := dialRobot(t, udp.LocalAddr())

	robot.announce("R1")
	require.Eventually(t, func() bool { return c.sessions.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	rc, _ := c.sessions.Lookup(session.NewKey(robot.localAddr()))

	// an announce for another name from the same host is session traffic
	robot.announce("R2")
	robot.send([]byte{0xde, 0xad})

	require.Eventually(t, func() bool { return rc.Info().Ignored == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.world.HasRobot("R2"))
	assert.Equal(t, uint64(1), udp.GetStatistics().Handshakes)
	assert.True(t, rc.Connected())
}

func TestUDPMalformedHandshakeIgnored(t *testing.T) {
	c := newCore(t)
	udp := startUDP(t, c, testServerConfig(), handshake.Config{AllowReconnect: true})
	robot := dialRobot(t, udp.LocalAddr())

	robot.send([]byte{0x01, 0x00, 0x02, 'R', '1'})
	robot.send([]byte{0x00, 0x07, 0x02, 'R', '1'})
	robot.send([]byte{0x00})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.metrics.HandshakeAttempts.WithLabelValues(metrics.OutcomeProtocolError)) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.sessions.SessionCount())
	assert.Equal(t, 0, c.world.Count())

	// the listener is still serving
	robot.announce("R1")
	require.Eventually(t, func() bool { return c.sessions.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestUDPSendMotorCommand(t *testing.T) {
	c := newCore(t)
	udp := startUDP(t, c, testServerConfig(), handshake.Config{AllowReconnect: true})
	robot := dialRobot(t, udp.LocalAddr())

	robot.announce("R1")
	require.Eventually(t, func() bool { return c.sessions.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	rc, _ := c.sessions.Lookup(session.NewKey(robot.localAddr()))

	require.NoError(t, rc.SendMotorCommand([protocol.MotorCount]int32{100, -100, 50, 0}))
	cmd := robot.readMotorCommand()
	assert.Equal(t, [protocol.MotorCount]int32{100, -100, 50, 0}, cmd.Motors)
	assert.Equal(t, int64(1), cmd.Sequence)
}

func TestUDPHandshakeQueueFull(t *testing.T) {
	c := newCore(t)
	cfg := testServerConfig()
	cfg.HandshakeQueueSize = 1
	cfg.HandshakeRate = 0 // unlimited

	// not started: no workers drain the queue
	udp := NewUDPServer(cfg, testLogger(), c.sessions, c.metrics)

	announce, err := protocol.EncodeAnnounce("R1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		udp.dispatch(announce, netip.MustParseAddrPort("10.0.0.1:4000"), false)
	}

	stats := udp.GetStatistics()
	assert.Equal(t, uint64(1), stats.QueueSize)
	assert.Equal(t, uint64(2), stats.HandshakesDropped)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.HandshakesDropped.WithLabelValues(metrics.DropQueueFull)))
}

func TestUDPHandshakeRateLimited(t *testing.T) {
	c := newCore(t)
	cfg := testServerConfig()
	cfg.HandshakeRate = 0.001
	cfg.HandshakeBurst = 1

	udp := NewUDPServer(cfg, testLogger(), c.sessions, c.metrics)

	for i := 0; i < 5; i++ {
		udp.dispatch([]byte{0x00, 0x00}, netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}), 4000), false)
	}

	assert.Equal(t, uint64(1), udp.GetStatistics().QueueSize)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.metrics.HandshakesDropped.WithLabelValues(metrics.DropRateLimited)))
}

func TestUDPFastPathSkipsLimiter(t *testing.T) {
	c := newCore(t)
	cfg := testServerConfig()
	cfg.HandshakeRate = 0.001
	cfg.HandshakeBurst = 1

	udp := NewUDPServer(cfg, testLogger(), c.sessions, c.metrics)
	rc := bindRobot(t, c, "R1", "10.0.0.1:4000", &recordingTransmitter{})

	for i := 0; i < 10; i++ {
		udp.dispatch([]byte{0xff}, netip.MustParseAddrPort("10.0.0.1:5555"), false)
	}

	assert.Equal(t, uint64(10), rc.Info().Datagrams)
	assert.Equal(t, uint64(10), udp.GetStatistics().DatagramsRouted)
	assert.Equal(t, uint64(0), udp.GetStatistics().HandshakesDropped)
}

func TestUDPTruncationCounted(t *testing.T) {
	c := newCore(t)
	cfg := testServerConfig()
	cfg.BufferSize = 64
	udp := startUDP(t, c, cfg, handshake.Config{AllowReconnect: true})
	robot := dialRobot(t, udp.LocalAddr())

	robot.send(make([]byte, 200))

	require.Eventually(t, func() bool { return udp.GetStatistics().DatagramsTruncated == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.DatagramsTruncated))
}

func TestUDPStopIsClean(t *testing.T) {
	c := newCore(t)
	udp := startUDP(t, c, testServerConfig(), handshake.Config{AllowReconnect: true})
	robot := dialRobot(t, udp.LocalAddr())
	robot.announce("R1")

	require.NoError(t, udp.Stop())
	require.NoError(t, udp.Stop())

	// sends after stop fail instead of panicking
	err := udp.SendDatagram([]byte{0x01}, robot.localAddr())
	assert.Error(t, err)
}

func TestUDPStartRequiresValidator(t *testing.T) {
	c := newCore(t)
	udp := NewUDPServer(testServerConfig(), testLogger(), c.sessions, nil)
	assert.Error(t, udp.Start())
	assert.Equal(t, netip.AddrPort{}, udp.LocalAddr())
	assert.ErrorIs(t, udp.SendDatagram([]byte{1}, netip.MustParseAddrPort("127.0.0.1:1")), ErrNotListening)
}
