package handshake

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/protocol"
	"github.com/edkek/eyerobot/internal/session"
	"github.com/edkek/eyerobot/internal/world"
)

var (
	ErrReconnectDisabled = errors.New("reconnect rejected: reconnects are disabled")
	ErrAddressMismatch   = errors.New("reconnect rejected: sender address differs from existing session")
)

// Config is the reconnect policy
type Config struct {
	AllowReconnect bool
	EnforceIP      bool
}

// Directory resolves robot names. world.World implements it.
type Directory interface {
	Robot(name string) (*world.Robot, bool)
	Bind(name string, link world.Link) *world.Robot
	Release(name string, link world.Link) bool
}

// Registry admits promoted sessions. session.Manager implements it.
type Registry interface {
	Promote(c *session.RobotClient) (*session.RobotClient, error)
	Disconnected(c session.Client)
}

// Validator turns announce datagrams into sessions
type Validator struct {
	config    Config
	directory Directory
	registry  Registry
	tx        session.Transmitter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// serialises admissions so two announces for one name or one address
	// cannot interleave between the policy check and the promotion
	mu sync.Mutex
}

// NewValidator creates a validator. metrics may be nil.
func NewValidator(config Config, directory Directory, registry Registry, tx session.Transmitter, m *metrics.Metrics, logger *slog.Logger) *Validator {
	return &Validator{
		config:    config,
		directory: directory,
		registry:  registry,
		tx:        tx,
		metrics:   m,
		logger:    logger,
	}
}

// Validate processes one datagram from a sender with no session. It returns
// the new session, or an error describing why nothing changed. Errors are
// already logged; callers only need them for accounting.
func (v *Validator) Validate(data []byte, from netip.AddrPort) (*session.RobotClient, error) {
	start := time.Now()
	c, outcome, err := v.validate(data, from)
	if v.metrics != nil {
		v.metrics.RecordHandshake(outcome, time.Since(start).Seconds())
	}
	return c, err
}

func (v *Validator) validate(data []byte, from netip.AddrPort) (*session.RobotClient, string, error) {
	announce, err := protocol.ParseAnnounce(data)
	if err != nil {
		v.logger.Debug("Discarding datagram from unknown sender",
			slog.String("remote_addr", from.String()),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return nil, metrics.OutcomeProtocolError, err
	}

	key := session.NewKey(from)
	name := announce.Name
	outcome := metrics.OutcomeAccepted

	v.mu.Lock()
	defer v.mu.Unlock()

	if robot, exists := v.directory.Robot(name); exists {
		if !v.config.AllowReconnect {
			v.logger.Error("Reconnect rejected: reconnects are disabled",
				slog.String("robot", name),
				slog.String("remote_addr", key.String()),
			)
			return nil, metrics.OutcomeReconnectDenied, ErrReconnectDisabled
		}

		if old := robot.Link(); old != nil {
			if v.config.EnforceIP && old.RemoteAddr() != key.Addr() {
				v.logger.Error("Reconnect rejected: address mismatch",
					slog.String("robot", name),
					slog.String("remote_addr", key.String()),
					slog.String("session_addr", old.RemoteAddr().String()),
				)
				return nil, metrics.OutcomeAddressMismatch, ErrAddressMismatch
			}

			v.logger.Warn("Superseding existing session",
				slog.String("robot", name),
				slog.String("old_client_id", old.ID()),
				slog.String("old_addr", old.RemoteAddr().String()),
				slog.String("remote_addr", key.String()),
			)
			old.Disconnect()
			outcome = metrics.OutcomeSuperseded
		}
	}

	c := session.NewRobotClient(name, key, v.tx, v.registry.Disconnected, v.logger)
	c.AttachRobot(v.directory.Bind(name, c))

	displaced, err := v.registry.Promote(c)
	if err != nil {
		v.directory.Release(name, c)
		v.logger.Debug("Handshake abandoned",
			slog.String("robot", name),
			slog.String("remote_addr", key.String()),
			slog.String("error", err.Error()),
		)
		return nil, metrics.OutcomeStopped, err
	}

	if displaced != nil {
		v.logger.Warn("Announce displaced session at same address",
			slog.String("robot", name),
			slog.String("displaced_robot", displaced.Name()),
			slog.String("displaced_client_id", displaced.ID()),
			slog.String("remote_addr", key.String()),
		)
		displaced.Disconnect()
	}

	c.OnConnected()
	return c, outcome, nil
}
