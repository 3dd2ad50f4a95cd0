package session

import (
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type sentDatagram struct {
	data []byte
	dst  netip.AddrPort
}

type fakeTransmitter struct {
	mu   sync.Mutex
	sent []sentDatagram
	err  error
}

func (f *fakeTransmitter) SendDatagram(data []byte, dst netip.AddrPort) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentDatagram{data: append([]byte(nil), data...), dst: dst})
	return nil
}

func (f *fakeTransmitter) Sent() []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDatagram(nil), f.sent...)
}

func newRunningManager(t *testing.T, config ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(testLogger(), config)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func newRobot(m *Manager, name, addr string) *RobotClient {
	return NewRobotClient(name, NewKey(netip.MustParseAddrPort(addr)), &fakeTransmitter{}, m.Disconnected, testLogger())
}
