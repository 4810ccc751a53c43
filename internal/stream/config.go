package stream

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Default stream session configuration values
const (
	DefaultHeartbeatTimeout     = 35 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultCloseSentinel        = "stream closed"
)

// Config tunes liveness, reconnection and classification for a Session.
type Config struct {
	// HeartbeatTimeout is how long the session waits for any frame or
	// keep-alive before treating the transport as stale. It must exceed
	// the server keep-alive interval (30s). Zero disables the monitor.
	HeartbeatTimeout time.Duration

	// ReconnectDelay is the fixed wait before each reconnection attempt.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps consecutive attempts without a successful open.
	MaxReconnectAttempts int

	// AutoReconnect disables the reconnection policy entirely when false.
	AutoReconnect bool

	// CloseOnTerminal shuts the session down right after the first
	// completed or error frame instead of waiting for the server to end the stream.
	CloseOnTerminal bool

	// CloseSentinel is the message text that marks a generic end-of-stream frame.
	CloseSentinel string

	// CompletedStatuses and ErrorStatuses list the status values treated as
	// terminal. "completed" and "error" always are. The defaults add the
	// server's "cleaned" status and its localized completion status.
	CompletedStatuses []string
	ErrorStatuses     []string
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		AutoReconnect:        true,
		CloseSentinel:        DefaultCloseSentinel,
		CompletedStatuses:    []string{"completed", "cleaned", "音频分离完成"},
		ErrorStatuses:        []string{"error"},
	}
}

// Validate rejects configurations that can never make progress.
func (c Config) Validate() error {
	if c.HeartbeatTimeout < 0 {
		return errors.Newf("heartbeat timeout must not be negative, got %s", c.HeartbeatTimeout)
	}
	if c.ReconnectDelay < 0 {
		return errors.Newf("reconnect delay must not be negative, got %s", c.ReconnectDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.Newf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

func (c Config) policy() Policy {
	return Policy{
		Enabled:     c.AutoReconnect,
		Delay:       c.ReconnectDelay,
		MaxAttempts: c.MaxReconnectAttempts,
	}
}
