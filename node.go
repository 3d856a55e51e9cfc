package lavago

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nullwave/lavago-fleet/internal/backoff"
	"github.com/nullwave/lavago-fleet/internal/wsconn"
)

// NodeState enumerates the Node session lifecycle per spec.md §4.3.
type NodeState int

const (
	NodeIdle NodeState = iota
	NodeDialing
	NodeOpenAwaitingReady
	NodeReady
	NodeClosed
	NodeReconnectPending
	NodeDestroyed
)

func (s NodeState) String() string {
	switch s {
	case NodeIdle:
		return "IDLE"
	case NodeDialing:
		return "DIALING"
	case NodeOpenAwaitingReady:
		return "OPEN_AWAITING_READY"
	case NodeReady:
		return "READY"
	case NodeClosed:
		return "CLOSED"
	case NodeReconnectPending:
		return "RECONNECT_PENDING"
	case NodeDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// permanentCloseCodes are WS close codes that must never be reconnected
// from, per spec.md §4.3.
var permanentCloseCodes = map[int]bool{
	4004: true, 4005: true, 4006: true, 4009: true, 4015: true, 4016: true,
}

// NodeHealth is the public view of a Node's latest stats snapshot, per
// spec.md §3.
type NodeHealth struct {
	Players        int
	PlayingPlayers int
	CPUCores       int
	SystemLoad     float64
	LavalinkLoad   float64
	MemoryUsed     int64
	FrameDeficit   int
	FrameNulled    int
	// Valid is false until at least one `stats` frame has been received.
	// Per spec.md §9's open question (a), stats are never trusted once
	// `connected` goes false between READY payloads.
	Valid bool
}

// NodeObserver is the narrow interface a Manager (or any other caller)
// implements to learn about Node lifecycle and routed playback events,
// per the §9 design note replacing the teacher's event-emitter coupling
// with explicit handler interfaces.
type NodeObserver interface {
	OnNodeConnect(n *Node)
	OnNodeReady(n *Node, resumed bool)
	OnNodeStats(n *Node, health NodeHealth)
	OnNodeDisconnect(n *Node, code int, reason string)
	OnNodeError(n *Node, err error, context string)
	OnNodeFailedPermanently(n *Node)
	OnPlayerServerUpdate(guildID string, state PlayerServerState)
	OnPlayerServerEvent(guildID string, evt eventFrame)
	OnDebug(n *Node, msg string)
}

// PlayerServerState is the decoded `playerUpdate.state` object.
type PlayerServerState struct {
	Time       time.Time
	PositionMs int64
	Connected  bool
	Ping       time.Duration
}

// Node owns one authenticated WebSocket + REST session to a single audio
// server, per spec.md §4.3.
type Node struct {
	cfg      NodeConfig
	observer NodeObserver
	logger   *zap.Logger
	rest     *restClient

	mu          sync.Mutex
	state       NodeState
	conn        *wsconn.Conn
	sessionID   string
	botUserID   string
	reconnectOK bool
	destroyed   bool
	started     bool

	reconnectSchedule *backoff.Schedule

	healthMu sync.Mutex
	health   NodeHealth

	guildMu sync.Mutex
	guilds  map[string]struct{}

	runCancel context.CancelFunc
}

// NewNode constructs a Node. It does not dial until SetBotUserID has been
// called at least once, per spec.md §4.3 ("no reconnect ... while bot
// user id is unset").
func NewNode(cfg NodeConfig, observer NodeObserver, logger *zap.Logger) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:         cfg,
		observer:    observer,
		logger:      loggerOrNop(logger).With(zap.String("node", cfg.Identifier)),
		reconnectOK: true,
		guilds:      make(map[string]struct{}),
	}
	n.reconnectSchedule = backoff.NewSchedule(cfg.Reconnect.InitialDelay, cfg.Reconnect.MaxDelay, cfg.Reconnect.MaxTries)
	n.rest = newRESTClient(&n.cfg, n, n.logger)
	return n, nil
}

// REST exposes the Node's REST client to Player for playback PATCHes.
func (n *Node) REST() *restClient { return n.rest }

// Identifier is the Node's configured name.
func (n *Node) Identifier() string { return n.cfg.Identifier }

// State returns the current session state.
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Connected is true only in NodeReady, per spec.md §4.3.
func (n *Node) Connected() bool {
	return n.State() == NodeReady
}

func (n *Node) setState(s NodeState) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// currentSessionID implements sessionHolder for restClient.
func (n *Node) currentSessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// invalidateSession implements sessionHolder for restClient: a 404 on a
// session-scoped REST path means the session is gone server-side.
func (n *Node) invalidateSession(reason string) {
	n.logger.Warn("session invalidated", zap.String("reason", reason))
	n.mu.Lock()
	n.sessionID = ""
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		_ = conn.Terminate()
	}
}

// SetBotUserID records the platform bot's user id. The first call starts
// the Node's connect loop if it has not already been started.
func (n *Node) SetBotUserID(id string) {
	n.mu.Lock()
	n.botUserID = id
	already := n.started
	n.started = true
	destroyed := n.destroyed
	n.mu.Unlock()
	if already || destroyed || id == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.runCancel = cancel
	n.mu.Unlock()
	go n.runLoop(ctx)
}

func (n *Node) botID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.botUserID
}

// runLoop dials, waits for the connection to end, and reconnects with
// backoff until destroyed or a permanent failure is hit.
func (n *Node) runLoop(ctx context.Context) {
	for {
		if n.botID() == "" {
			n.logger.Debug("bot user id unset, skipping dial")
			return
		}
		n.mu.Lock()
		if n.destroyed || !n.reconnectOK {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()

		n.setState(NodeDialing)
		closeCh := make(chan struct{})
		err := n.dial(ctx, closeCh)
		if err != nil {
			n.logger.Warn("dial failed", zap.Error(err))
			n.observer.OnNodeError(n, newTransportError("dial failed", err), "dial")
			if !n.scheduleReconnect(ctx) {
				return
			}
			continue
		}

		// Wait for this connection's close before considering reconnect.
		select {
		case <-closeCh:
		case <-ctx.Done():
			return
		}

		n.mu.Lock()
		destroyed := n.destroyed
		reconnectOK := n.reconnectOK
		n.mu.Unlock()
		if destroyed || !reconnectOK {
			return
		}
		if !n.scheduleReconnect(ctx) {
			return
		}
	}
}

func (n *Node) scheduleReconnect(ctx context.Context) bool {
	delay, ok := n.reconnectSchedule.Next()
	if !ok {
		n.logger.Error("reconnect attempts exhausted")
		n.setState(NodeDestroyed)
		n.observer.OnNodeFailedPermanently(n)
		return false
	}
	n.setState(NodeReconnectPending)
	n.logger.Info("scheduling reconnect", zap.Duration("delay", delay), zap.Int("attempt", n.reconnectSchedule.Attempt()))
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// dial performs one WebSocket connect attempt and runs its read loop
// until it closes; closeCh is closed when that happens.
func (n *Node) dial(ctx context.Context, closeCh chan struct{}) error {
	headers := http.Header{}
	headers.Set("Authorization", n.cfg.Password)
	headers.Set("User-Id", n.botID())
	if n.cfg.ClientName != "" {
		headers.Set("Client-Name", n.cfg.ClientName)
	}

	n.mu.Lock()
	sid := n.sessionID
	n.mu.Unlock()
	if sid != "" {
		headers.Set("Session-Id", sid)
	} else if n.cfg.ResumeKey != "" {
		headers.Set("Resume-Key", n.cfg.ResumeKey)
	}

	conn, _, err := wsconn.Dial(ctx, n.cfg.socketURL(), wsconn.DialOptions{
		Headers:    headers,
		BufferSize: n.cfg.BufferSize,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	n.setState(NodeOpenAwaitingReady)
	n.observer.OnNodeConnect(n)

	conn.Run(n.onMessage, func(code int, reason string) {
		n.onClose(code, reason)
		close(closeCh)
	})
	return nil
}

func (n *Node) onMessage(data []byte) {
	var base wireFrame
	if err := json.Unmarshal(data, &base); err != nil {
		n.observer.OnNodeError(n, newProtocolError("malformed frame", 0, data), "decode")
		return
	}

	switch base.Op {
	case opReady:
		var frame readyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			n.observer.OnNodeError(n, newProtocolError("malformed ready frame", 0, data), "decode")
			return
		}
		n.handleReady(frame)
	case opStats:
		var frame statsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			n.observer.OnNodeError(n, newProtocolError("malformed stats frame", 0, data), "decode")
			return
		}
		n.handleStats(frame)
	case opPlayerUpdate:
		var frame playerUpdateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			n.observer.OnNodeError(n, newProtocolError("malformed playerUpdate frame", 0, data), "decode")
			return
		}
		n.observer.OnPlayerServerUpdate(frame.GuildID, PlayerServerState{
			Time:       time.UnixMilli(frame.State.Time),
			PositionMs: frame.State.PositionMs,
			Connected:  frame.State.Connected,
			Ping:       time.Duration(frame.State.Ping) * time.Millisecond,
		})
	case opEvent:
		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			n.observer.OnNodeError(n, newProtocolError("malformed event frame", 0, data), "decode")
			return
		}
		n.observer.OnPlayerServerEvent(frame.GuildID, frame)
	default:
		n.observer.OnDebug(n, "ignoring unknown opcode: "+base.Op)
	}
}

func (n *Node) handleReady(frame readyFrame) {
	n.mu.Lock()
	n.sessionID = frame.SessionID
	n.mu.Unlock()
	n.setState(NodeReady)
	n.reconnectSchedule.Reset()

	n.logger.Info("node ready", zap.String("sessionId", frame.SessionID), zap.Bool("resumed", frame.Resumed))
	n.observer.OnNodeReady(n, frame.Resumed)

	if !frame.Resumed && n.cfg.ResumeKey != "" {
		go func() {
			timeout := n.cfg.ResumeTimeoutSeconds
			resuming := true
			if err := n.rest.patchSession(context.Background(), &resuming, &timeout); err != nil {
				n.logger.Warn("failed to configure session resume", zap.Error(err))
			}
		}()
	}
}

func (n *Node) handleStats(frame statsFrame) {
	h := NodeHealth{
		Players:        frame.Players,
		PlayingPlayers: frame.PlayingPlayers,
		CPUCores:       frame.CPU.Cores,
		SystemLoad:     frame.CPU.SystemLoad,
		LavalinkLoad:   frame.CPU.LavalinkLoad,
		MemoryUsed:     frame.Memory.Used,
		Valid:          true,
	}
	if frame.FrameStats != nil {
		h.FrameDeficit = frame.FrameStats.Deficit
		h.FrameNulled = frame.FrameStats.Nulled
	}
	n.healthMu.Lock()
	n.health = h
	n.healthMu.Unlock()
	n.observer.OnNodeStats(n, h)
}

func (n *Node) onClose(code int, reason string) {
	n.mu.Lock()
	n.conn = nil
	callerInitiated := n.state == NodeClosed || n.destroyed
	permanent := permanentCloseCodes[code]
	keepSession := n.cfg.ResumeKey != ""
	if !keepSession {
		n.sessionID = ""
	}
	n.mu.Unlock()

	n.setState(NodeClosed)
	n.healthMu.Lock()
	n.health.Valid = false
	n.healthMu.Unlock()

	n.logger.Info("node connection closed", zap.Int("code", code), zap.String("reason", reason))
	n.observer.OnNodeDisconnect(n, code, reason)

	if permanent {
		n.logger.Error("permanent close code, disabling reconnect", zap.Int("code", code))
		n.mu.Lock()
		n.reconnectOK = false
		n.mu.Unlock()
		n.setState(NodeDestroyed)
		n.observer.OnNodeError(n, newSessionError(true, "permanent close code %d: %s", code, reason), "close")
		n.observer.OnNodeFailedPermanently(n)
		return
	}
	_ = callerInitiated
}

// Penalty computes the routing health score from spec.md §3. Infinity
// when not READY.
func (n *Node) Penalty() float64 {
	if !n.Connected() {
		return math.Inf(1)
	}
	n.healthMu.Lock()
	h := n.health
	n.healthMu.Unlock()
	if !h.Valid || h.CPUCores == 0 {
		return float64(h.Players)
	}

	cpuPenalty := math.Round(math.Pow(1.05, 100*h.SystemLoad/float64(h.CPUCores))*10 - 10)
	memPenalty := math.Round(float64(h.MemoryUsed) / (1024 * 1024))
	deficitPenalty := float64(h.FrameDeficit) / 3000
	nulledPenalty := 2 * float64(h.FrameNulled) / 3000

	return float64(h.Players) + cpuPenalty + memPenalty + deficitPenalty + nulledPenalty
}

// Health returns the latest stats snapshot.
func (n *Node) Health() NodeHealth {
	n.healthMu.Lock()
	defer n.healthMu.Unlock()
	return n.health
}

func (n *Node) addPlayerBinding(guildID string) {
	n.guildMu.Lock()
	n.guilds[guildID] = struct{}{}
	n.guildMu.Unlock()
}

func (n *Node) removePlayerBinding(guildID string) {
	n.guildMu.Lock()
	delete(n.guilds, guildID)
	n.guildMu.Unlock()
}

// BoundGuildIDs lists guilds with a Player currently bound to this Node.
func (n *Node) BoundGuildIDs() []string {
	n.guildMu.Lock()
	defer n.guildMu.Unlock()
	out := make([]string, 0, len(n.guilds))
	for g := range n.guilds {
		out = append(out, g)
	}
	return out
}

// Disconnect performs a caller-initiated close: clears the reconnect
// timer implicitly (the run loop checks reconnectOK before scheduling),
// closes gracefully, and purges the session id unless a resume key is
// configured, per spec.md §4.3.
func (n *Node) Disconnect() error {
	n.mu.Lock()
	n.state = NodeClosed
	n.reconnectOK = false
	conn := n.conn
	if n.cfg.ResumeKey == "" {
		n.sessionID = ""
	}
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Destroy disables reconnect for the remainder of this Node's life and
// tears down any active connection, per spec.md §4.3.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.reconnectOK = false
	conn := n.conn
	cancel := n.runCancel
	n.mu.Unlock()

	n.setState(NodeDestroyed)
	if conn != nil {
		_ = conn.Terminate()
	}
	if cancel != nil {
		cancel()
	}
}
