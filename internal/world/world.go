package world

import (
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/edkek/eyerobot/internal/protocol"
)

// Link is the session a robot is bound to.
type Link interface {
	ID() string
	RemoteAddr() netip.Addr
	Disconnect()
}

// Robot is a named robot and its current session.
type Robot struct {
	name string

	mu          sync.RWMutex
	link        Link
	online      bool
	boundAt     time.Time
	telemetry   *protocol.SensorInfo
	telemetryAt time.Time
}

// Name returns the robot's name
func (r *Robot) Name() string {
	return r.name
}

// Link returns the session currently bound to the robot
func (r *Robot) Link() Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.link
}

// OnConnected marks the robot online once its session is routable.
func (r *Robot) OnConnected() {
	r.mu.Lock()
	r.online = true
	r.mu.Unlock()
}

// Online reports whether the robot's session has completed its handshake
func (r *Robot) Online() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online
}

// UpdateTelemetry stores the latest sensor report.
func (r *Robot) UpdateTelemetry(info *protocol.SensorInfo) {
	r.mu.Lock()
	r.telemetry = info
	r.telemetryAt = time.Now()
	r.mu.Unlock()
}

// Telemetry returns the latest sensor report, if any
func (r *Robot) Telemetry() (*protocol.SensorInfo, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.telemetry == nil {
		return nil, time.Time{}, false
	}
	info := *r.telemetry
	return &info, r.telemetryAt, true
}

// Info returns a snapshot of the robot for monitoring APIs
func (r *Robot) Info() RobotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := RobotInfo{
		Name:    r.name,
		Online:  r.online,
		BoundAt: r.boundAt,
	}
	if r.link != nil {
		info.ClientID = r.link.ID()
		info.RemoteAddr = r.link.RemoteAddr().String()
	}
	if r.telemetry != nil {
		t := *r.telemetry
		info.Telemetry = &t
		info.TelemetryAt = r.telemetryAt
	}
	return info
}

// RobotInfo represents robot information for monitoring and APIs
type RobotInfo struct {
	Name        string               `json:"name"`
	Online      bool                 `json:"online"`
	ClientID    string               `json:"client_id,omitempty"`
	RemoteAddr  string               `json:"remote_addr,omitempty"`
	BoundAt     time.Time            `json:"bound_at"`
	Telemetry   *protocol.SensorInfo `json:"telemetry,omitempty"`
	TelemetryAt time.Time            `json:"telemetry_at,omitempty"`
}

// World is the robot directory
type World struct {
	robots map[string]*Robot
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates an empty world
func New(logger *slog.Logger) *World {
	return &World{
		robots: make(map[string]*Robot),
		logger: logger,
	}
}

// Robot looks up a robot by name
func (w *World) Robot(name string) (*Robot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	robot, exists := w.robots[name]
	return robot, exists
}

// HasRobot reports whether a robot with this name is bound to a session
func (w *World) HasRobot(name string) bool {
	_, exists := w.Robot(name)
	return exists
}

// Bind creates the robot or rebinds an existing one to link. A rebound robot
// keeps its telemetry and goes offline until OnConnected is called again.
func (w *World) Bind(name string, link Link) *Robot {
	w.mu.Lock()
	defer w.mu.Unlock()

	robot, exists := w.robots[name]
	if !exists {
		robot = &Robot{name: name}
		w.robots[name] = robot
	}

	robot.mu.Lock()
	robot.link = link
	robot.online = false
	robot.boundAt = time.Now()
	robot.mu.Unlock()

	w.logger.Debug("Robot bound",
		slog.String("robot", name),
		slog.String("client_id", link.ID()),
		slog.Bool("rebind", exists),
	)

	return robot
}

// Release removes the robot if it is still bound to link. It reports whether
// the robot was removed; a robot already rebound to a newer session is kept.
func (w *World) Release(name string, link Link) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	robot, exists := w.robots[name]
	if !exists {
		return false
	}

	robot.mu.Lock()
	current := robot.link
	if current != link {
		robot.mu.Unlock()
		return false
	}
	robot.link = nil
	robot.online = false
	robot.mu.Unlock()

	delete(w.robots, name)

	w.logger.Debug("Robot released",
		slog.String("robot", name),
		slog.String("client_id", link.ID()),
	)
	return true
}

// Count returns the number of robots in the world
func (w *World) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.robots)
}

// Robots returns a snapshot of all robots sorted by name
func (w *World) Robots() []RobotInfo {
	w.mu.RLock()
	robots := make([]*Robot, 0, len(w.robots))
	for _, robot := range w.robots {
		robots = append(robots, robot)
	}
	w.mu.RUnlock()

	infos := make([]RobotInfo, 0, len(robots))
	for _, robot := range robots {
		infos = append(infos, robot.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
