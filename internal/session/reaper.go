package session

import (
	"context"
	"log/slog"
	"time"
)

// RunIdleReaper disconnects UDP sessions silent for longer than timeout,
// checking every interval until ctx is done.
func (m *Manager) RunIdleReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Idle session reaper started",
		slog.Duration("timeout", timeout),
		slog.Duration("check_interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Idle session reaper stopping")
			return

		case <-ticker.C:
			m.reapIdle(timeout)
		}
	}
}

// reapIdle disconnects every idle session and returns how many it found
func (m *Manager) reapIdle(timeout time.Duration) int {
	idle := m.IdleSessions(timeout)
	if len(idle) == 0 {
		return 0
	}

	m.logger.Info("Disconnecting idle sessions", slog.Int("idle_count", len(idle)))

	for _, c := range idle {
		m.logger.Debug("Session idle",
			slog.String("client_id", c.ID()),
			slog.String("robot", c.Name()),
			slog.Duration("silent_for", time.Since(c.LastSeen())),
		)
		c.Disconnect()
	}
	return len(idle)
}
