package lavago

import "fmt"

// ConfigError signals a caller mistake in how a Node, Player, or Manager was
// configured or invoked — a missing send callback, an invalid node option,
// a bot user id that was never set. Never retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "lavago: config: " + e.Msg }

func newConfigError(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError wraps a WebSocket dial/IO failure or a REST network error
// or timeout. REST transport errors are retried up to a bounded count before
// being surfaced; WS transport errors trigger reconnect with backoff.
type TransportError struct {
	Msg string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return "lavago: transport: " + e.Msg + ": " + e.Err.Error()
	}
	return "lavago: transport: " + e.Msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(msg string, err error) error {
	return &TransportError{Msg: msg, Err: err}
}

// ProtocolError signals a non-2xx REST response, malformed JSON, or an
// unrecognized opcode from the audio server.
type ProtocolError struct {
	Msg        string
	StatusCode int
	Body       []byte
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lavago: protocol: %s (status %d)", e.Msg, e.StatusCode)
	}
	return "lavago: protocol: " + e.Msg
}

func newProtocolError(msg string, status int, body []byte) error {
	return &ProtocolError{Msg: msg, StatusCode: status, Body: body}
}

// PreconditionError signals that an operation was attempted while the
// owning state machine was in the wrong state — pause with no current
// track, seek on a non-seekable track, play on a destroyed player.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return "lavago: precondition: " + e.Msg }

func newPreconditionError(format string, args ...interface{}) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// SessionError signals that the Node's REST session is no longer valid
// (404 on a session/player path) or that the WebSocket closed with a
// permanent code. Callers should expect a reconnect (transient) or a
// node-failed notification (permanent) to follow.
type SessionError struct {
	Msg       string
	Permanent bool
}

func (e *SessionError) Error() string { return "lavago: session: " + e.Msg }

func newSessionError(permanent bool, format string, args ...interface{}) error {
	return &SessionError{Msg: fmt.Sprintf(format, args...), Permanent: permanent}
}

// FaultError signals a fatal condition that forces a Player to be
// destroyed outright: a fault-severity track exception, or a fatal voice
// WebSocket close code.
type FaultError struct {
	Msg string
}

func (e *FaultError) Error() string { return "lavago: fault: " + e.Msg }

func newFaultError(format string, args ...interface{}) error {
	return &FaultError{Msg: fmt.Sprintf(format, args...)}
}

// ErrPlayerDestroyed is returned by commands on a destroyed Player, and
// by an in-flight Connect whose Player was destroyed mid-handshake once
// its handshake wait ends (timeout or ctx done); Destroy does not cut
// that wait short.
var ErrPlayerDestroyed = newPreconditionError("player destroyed")

// ErrNoIdealNode is returned by Manager methods that require at least one
// READY node when none is available.
var ErrNoIdealNode = newConfigError("no ready node available")
