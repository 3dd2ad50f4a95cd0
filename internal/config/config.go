package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	HTTP    HTTPConfig    `yaml:"http"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the UDP and reliable-transport listener configuration
type ServerConfig struct {
	BindAddress        string  `yaml:"bind_address"`
	UDPPort            int     `yaml:"udp_port"`
	TCPPort            int     `yaml:"tcp_port"`    // 0 shares udp_port
	BufferSize         int     `yaml:"buffer_size"` // bytes per receive; longer datagrams are truncated
	HandshakeWorkers   int     `yaml:"handshake_workers"`
	HandshakeQueueSize int     `yaml:"handshake_queue_size"`
	HandshakeRate      float64 `yaml:"handshake_rate"` // attempts per second
	HandshakeBurst     int     `yaml:"handshake_burst"`
}

// SessionConfig contains the session and reconnect policy
type SessionConfig struct {
	AllowReconnect bool `yaml:"allow_reconnect"`
	EnforceIP      bool `yaml:"enforce_ip"`
	PeerRedirect   bool `yaml:"peer_redirect"`
	IdleTimeout    int  `yaml:"idle_timeout"` // seconds, 0 disables
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port          int    `yaml:"port"`
	Address       string `yaml:"address"`
	Enabled       bool   `yaml:"enabled"`
	WebSocketPath string `yaml:"websocket_path"`
}

// JournalConfig contains the session journal configuration
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any key the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:        "0.0.0.0",
			UDPPort:            7331,
			BufferSize:         1024,
			HandshakeWorkers:   4,
			HandshakeQueueSize: 256,
			HandshakeRate:      100,
			HandshakeBurst:     20,
		},
		Session: SessionConfig{
			AllowReconnect: true,
			EnforceIP:      true,
			IdleTimeout:    30,
		},
		HTTP: HTTPConfig{
			Port:          8080,
			Address:       "0.0.0.0",
			Enabled:       true,
			WebSocketPath: "/ws",
		},
		Journal: JournalConfig{
			Enabled:   false,
			Path:      "eyerobot.db",
			QueueSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.TCPPort < 0 || s.TCPPort > 65535 {
		return fmt.Errorf("tcp_port must be between 0 and 65535, got %d", s.TCPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 64 || s.BufferSize > 65535 {
		return fmt.Errorf("buffer_size must be between 64 and 65535 bytes, got %d", s.BufferSize)
	}

	if s.HandshakeWorkers < 1 {
		return fmt.Errorf("handshake_workers must be at least 1, got %d", s.HandshakeWorkers)
	}

	if s.HandshakeQueueSize < 1 {
		return fmt.Errorf("handshake_queue_size must be at least 1, got %d", s.HandshakeQueueSize)
	}

	if s.HandshakeRate <= 0 {
		return fmt.Errorf("handshake_rate must be positive, got %f", s.HandshakeRate)
	}

	if s.HandshakeBurst < 1 {
		return fmt.Errorf("handshake_burst must be at least 1, got %d", s.HandshakeBurst)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}

		if h.WebSocketPath != "" && !strings.HasPrefix(h.WebSocketPath, "/") {
			return fmt.Errorf("websocket_path must start with '/', got '%s'", h.WebSocketPath)
		}
	}

	return nil
}

// Validate validates journal configuration
func (j *JournalConfig) Validate() error {
	if j.Enabled {
		if j.Path == "" {
			return fmt.Errorf("path cannot be empty when the journal is enabled")
		}

		if j.QueueSize < 1 {
			return fmt.Errorf("queue_size must be at least 1, got %d", j.QueueSize)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path

	return nil
}

// UDPAddress returns the UDP listen address
func (s *ServerConfig) UDPAddress() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.UDPPort))
}

// GetTCPPort returns the reliable-transport port, which defaults to the UDP port
func (s *ServerConfig) GetTCPPort() int {
	if s.TCPPort == 0 {
		return s.UDPPort
	}
	return s.TCPPort
}

// TCPAddress returns the reliable-transport listen address
func (s *ServerConfig) TCPAddress() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.GetTCPPort()))
}

// ListenAddress returns the HTTP listen address
func (h *HTTPConfig) ListenAddress() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// GetIdleTimeout returns the idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetReapInterval returns how often idle sessions are checked: half the idle
// timeout, at least one second.
func (s *SessionConfig) GetReapInterval() time.Duration {
	interval := s.GetIdleTimeout() / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
