package world

import (
	"log/slog"
	"net/netip"
	"os"
	"testing"

	"github.com/edkek/eyerobot/internal/protocol"
)

type testLink struct {
	id   string
	addr netip.Addr
}

func (l *testLink) ID() string             { return l.id }
func (l *testLink) RemoteAddr() netip.Addr { return l.addr }
func (l *testLink) Disconnect()            {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestBindAndRelease(t *testing.T) {
	w := New(testLogger())
	first := &testLink{id: "a", addr: netip.MustParseAddr("10.0.0.1")}
	second := &testLink{id: "b", addr: netip.MustParseAddr("10.0.0.1")}

	robot := w.Bind("R1", first)
	if !w.HasRobot("R1") {
		t.Fatal("Expected robot R1 to exist")
	}
	if robot.Link() != first {
		t.Error("Expected robot to be bound to first link")
	}
	if robot.Online() {
		t.Error("Expected robot to be offline until connected")
	}

	robot.OnConnected()
	robot.UpdateTelemetry(&protocol.SensorInfo{Sequence: 7})

	rebound := w.Bind("R1", second)
	if rebound != robot {
		t.Error("Expected rebind to keep the same robot")
	}
	if rebound.Online() {
		t.Error("Expected rebound robot to go offline")
	}
	if _, _, ok := rebound.Telemetry(); !ok {
		t.Error("Expected telemetry to survive a rebind")
	}

	// a stale link cannot release the rebound robot
	if w.Release("R1", first) {
		t.Error("Expected release by stale link to fail")
	}
	if !w.HasRobot("R1") {
		t.Fatal("Expected robot R1 to survive stale release")
	}

	if !w.Release("R1", second) {
		t.Error("Expected release by current link to succeed")
	}
	if w.HasRobot("R1") {
		t.Error("Expected robot R1 to be gone")
	}
	if w.Release("R1", second) {
		t.Error("Expected second release to be a no-op")
	}
}

func TestRobotsSnapshot(t *testing.T) {
	w := New(testLogger())
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		w.Bind(name, &testLink{id: name, addr: netip.MustParseAddr("192.168.0.1")})
	}

	robots := w.Robots()
	if len(robots) != 3 {
		t.Fatalf("Expected 3 robots, got %d", len(robots))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if robots[i].Name != want {
			t.Errorf("robots[%d] = %s, want %s", i, robots[i].Name, want)
		}
		if robots[i].ClientID != want {
			t.Errorf("robots[%d].ClientID = %s, want %s", i, robots[i].ClientID, want)
		}
	}
	if w.Count() != 3 {
		t.Errorf("Expected count 3, got %d", w.Count())
	}
}

func TestTelemetryIsCopied(t *testing.T) {
	w := New(testLogger())
	robot := w.Bind("R1", &testLink{id: "a"})

	info := &protocol.SensorInfo{Sequence: 1}
	robot.UpdateTelemetry(info)

	got, _, ok := robot.Telemetry()
	if !ok {
		t.Fatal("Expected telemetry")
	}
	got.Sequence = 99

	again, _, _ := robot.Telemetry()
	if again.Sequence != 1 {
		t.Errorf("Expected stored telemetry to be unchanged, got sequence %d", again.Sequence)
	}
}
