package lavago

import (
	"fmt"
	"time"
)

// ReconnectPolicy governs Node's WebSocket reconnect backoff, per
// spec.md §4.3/§5: delay = min(InitialDelay·2^attempt, MaxDelay), up to
// MaxTries attempts.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxTries     int
}

// DefaultReconnectPolicy mirrors the teacher's defaults (config.go's
// ReconnectDelay/ReconnectAttempts) translated into the exponential
// schedule the spec requires instead of the teacher's additive one.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		MaxTries:     10,
	}
}

// NodeConfig configures one audio-server connection. Grounded on the
// teacher's Config struct, split from the single flat struct into
// Node/Player/Manager-scoped structs per spec.md §9's design note.
type NodeConfig struct {
	// Identifier is how the Manager and logs refer to this Node. Must be
	// unique within a Manager.
	Identifier string
	Host       string
	Port       int
	Secure     bool
	Password   string

	// ClientName is sent as the Client-Name dial header.
	ClientName string
	// BufferSize sizes the underlying WebSocket read/write buffers.
	BufferSize int

	// ResumeKey, when non-empty, is sent as Resume-Key on dial (when no
	// sessionId is yet known) and causes the Node to PATCH the session
	// with ResumeTimeoutSeconds after a non-resumed READY.
	ResumeKey            string
	ResumeTimeoutSeconds int

	// RetryAmount bounds REST retry attempts per spec.md §4.2.
	RetryAmount int

	Reconnect ReconnectPolicy
}

// DefaultNodeConfig returns a NodeConfig with the teacher's concrete
// defaults (password, buffer size, resume timeout) carried forward.
func DefaultNodeConfig(identifier string) NodeConfig {
	return NodeConfig{
		Identifier:           identifier,
		Host:                 "127.0.0.1",
		Port:                 2333,
		Secure:               false,
		Password:             "youshallnotpass",
		ClientName:           "lavago-fleet/1.0",
		BufferSize:           512,
		ResumeKey:            "",
		ResumeTimeoutSeconds: 60,
		RetryAmount:          3,
		Reconnect:            DefaultReconnectPolicy(),
	}
}

func (cfg *NodeConfig) validate() error {
	if cfg.Identifier == "" {
		return newConfigError("node identifier must not be empty")
	}
	if cfg.Host == "" {
		return newConfigError("node %q: host must not be empty", cfg.Identifier)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return newConfigError("node %q: invalid port %d", cfg.Identifier, cfg.Port)
	}
	if cfg.Password == "" {
		return newConfigError("node %q: password must not be empty", cfg.Identifier)
	}
	return nil
}

func (cfg *NodeConfig) socketURL() string {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, cfg.Host, cfg.Port)
}

func (cfg *NodeConfig) httpBase() string {
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// PlayerOptions configures a Player at creation time.
type PlayerOptions struct {
	// InitialVolume is the Player's starting local volume, in [0,1000].
	// Connect does not send it to the audio server; it reaches the
	// server only through a later volume PATCH (SetVolume to a different
	// value, or a node migration).
	InitialVolume int
	SelfDeaf      bool
	SelfMute      bool
}

// DefaultPlayerOptions mirrors the teacher's SelfDeaf-by-default stance.
func DefaultPlayerOptions() PlayerOptions {
	return PlayerOptions{
		InitialVolume: 100,
		SelfDeaf:      true,
		SelfMute:      false,
	}
}

// ManagerConfig configures fleet-wide defaults.
type ManagerConfig struct {
	DefaultPlayerOptions PlayerOptions
	// VoiceHandshakeTimeout bounds Player.connect per spec.md §4.4 (20s).
	VoiceHandshakeTimeout time.Duration
}

// DefaultManagerConfig returns sane fleet-wide defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultPlayerOptions:  DefaultPlayerOptions(),
		VoiceHandshakeTimeout: 20 * time.Second,
	}
}
