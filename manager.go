package lavago

import (
	"context"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// urlPattern and searchPrefixPattern decide whether Manager.LoadTracks
// should prefix an identifier with "ytsearch:", per spec.md §4.5.
var (
	urlPattern          = regexp.MustCompile(`^(?:https?|ftp)://`)
	searchPrefixPattern = regexp.MustCompile(`^(ytsearch|ytmsearch|scsearch|amsearch|dzsearch|spsearch):`)
)

// Manager is the fleet-wide routing layer described in spec.md §4.5: a
// map of Nodes, a map of Players, node selection by Penalty, and
// dispatch of platform voice events. Grounded on the teacher's
// discordgo-session-holding client, generalized from one node to many.
type Manager struct {
	cfg      ManagerConfig
	listener EventListener
	logger   *zap.Logger

	mu        sync.RWMutex
	nodes     []*Node // insertion order, for getIdealNode's tie-break
	nodesByID map[string]*Node
	players   map[string]*Player

	botUserID string
	send      func(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error
}

// NewManager constructs an empty Manager. send implements the
// platform's voice-connect opcode (discordgo's ChannelVoiceJoinManual or
// equivalent raw gateway send).
func NewManager(cfg ManagerConfig, listener EventListener, logger *zap.Logger, send func(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error) *Manager {
	if listener == nil {
		listener = NopEventListener{}
	}
	return &Manager{
		cfg:       cfg,
		listener:  listener,
		logger:    loggerOrNop(logger),
		nodesByID: make(map[string]*Node),
		players:   make(map[string]*Player),
		send:      send,
	}
}

// SetBotUserID records the platform bot's own user id and starts every
// already-added Node's connect loop, per spec.md §4.3/§4.5.
func (m *Manager) SetBotUserID(id string) {
	m.mu.Lock()
	m.botUserID = id
	nodes := append([]*Node(nil), m.nodes...)
	m.mu.Unlock()
	for _, n := range nodes {
		n.SetBotUserID(id)
	}
}

func (m *Manager) botID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.botUserID
}

// AddNode validates cfg, constructs a Node, and starts it dialing if the
// bot user id is already known.
func (m *Manager) AddNode(cfg NodeConfig) (*Node, error) {
	m.mu.Lock()
	if _, exists := m.nodesByID[cfg.Identifier]; exists {
		m.mu.Unlock()
		return nil, newConfigError("node %q already added", cfg.Identifier)
	}
	m.mu.Unlock()

	n, err := NewNode(cfg, m, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nodes = append(m.nodes, n)
	m.nodesByID[cfg.Identifier] = n
	m.mu.Unlock()

	if id := m.botID(); id != "" {
		n.SetBotUserID(id)
	}
	return n, nil
}

// RemoveNode gracefully closes a Node and migrates or destroys any
// Players still bound to it.
func (m *Manager) RemoveNode(ctx context.Context, identifier string) error {
	m.mu.Lock()
	n, ok := m.nodesByID[identifier]
	if !ok {
		m.mu.Unlock()
		return newConfigError("node %q not found", identifier)
	}
	delete(m.nodesByID, identifier)
	for i, existing := range m.nodes {
		if existing == n {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	_ = n.Disconnect()
	n.Destroy()
	m.migratePlayersOff(ctx, n, false)
	return nil
}

// getIdealNode returns the READY node with the smallest Penalty, ties
// broken by insertion order, or nil if none is READY.
func (m *Manager) getIdealNode() *Node {
	m.mu.RLock()
	nodes := append([]*Node(nil), m.nodes...)
	m.mu.RUnlock()

	var best *Node
	bestPenalty := 0.0
	for _, n := range nodes {
		penalty := n.Penalty()
		if math.IsInf(penalty, 1) {
			continue
		}
		if best == nil || penalty < bestPenalty {
			best = n
			bestPenalty = penalty
		}
	}
	return best
}

// GetPlayer returns the Player bound to guildID, if any.
func (m *Manager) GetPlayer(guildID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// CreatePlayer returns the existing non-destroyed Player for guildID, or
// constructs one on the current ideal Node.
func (m *Manager) CreatePlayer(guildID string) (*Player, error) {
	if m.botID() == "" {
		return nil, newConfigError("bot user id not set")
	}

	m.mu.Lock()
	if existing, ok := m.players[guildID]; ok {
		if !existing.isDestroyed() {
			m.mu.Unlock()
			return existing, nil
		}
		// existing self-destructed (fatal voice close code, fault-severity
		// exception, failed handshake) without going through destroyPlayer;
		// drop the stale entry and fall through to construct a fresh one.
		delete(m.players, guildID)
	}
	m.mu.Unlock()

	node := m.getIdealNode()
	if node == nil {
		return nil, ErrNoIdealNode
	}

	p := NewPlayer(node, guildID, m.cfg.DefaultPlayerOptions, m, m.logger)

	m.mu.Lock()
	m.players[guildID] = p
	m.mu.Unlock()

	m.listener.PlayerCreate(p)
	return p, nil
}

// Connect joins guildID's Player to channelID, bridging to the
// platform's voice-connect opcode via the Manager's send callback.
func (m *Manager) Connect(ctx context.Context, guildID, channelID string) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return newPreconditionError("no player for guild %q", guildID)
	}
	return p.Connect(ctx, channelID, m.cfg.VoiceHandshakeTimeout, func(ctx context.Context, ch *string, selfMute, selfDeaf bool) error {
		return m.send(ctx, guildID, ch, selfMute, selfDeaf)
	})
}

// LoadTracks resolves q against hintGuildID's Node if it is READY, else
// the fleet's ideal Node, prefixing bare search terms with "ytsearch:"
// per spec.md §4.5.
func (m *Manager) LoadTracks(ctx context.Context, q string, hintGuildID string) (*LoadResult, error) {
	node := m.getIdealNode()
	if hintGuildID != "" {
		if p, ok := m.GetPlayer(hintGuildID); ok && p.Node().Connected() {
			node = p.Node()
		}
	}
	if node == nil {
		return nil, ErrNoIdealNode
	}

	identifier := q
	if !urlPattern.MatchString(q) && !searchPrefixPattern.MatchString(q) {
		identifier = "ytsearch:" + q
	}
	return node.REST().loadTracks(ctx, identifier)
}

// HandleVoiceStateUpdate routes a platform VOICE_STATE_UPDATE into the
// matching Player, per spec.md §4.5. A null channel id for our own bot
// on an existing Player triggers full destruction.
func (m *Manager) HandleVoiceStateUpdate(ctx context.Context, guildID, userID string, channelID *string, sessionID string) {
	if m.botID() == "" || userID != m.botID() {
		return
	}
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return
	}
	if channelID == nil {
		_ = m.destroyPlayer(ctx, guildID)
		return
	}
	p.OnVoiceStateUpdate(channelID, sessionID)
}

// HandleVoiceServerUpdate routes a platform VOICE_SERVER_UPDATE into the
// matching Player.
func (m *Manager) HandleVoiceServerUpdate(guildID, token, endpoint string) {
	if m.botID() == "" {
		return
	}
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return
	}
	p.OnVoiceServerUpdate(token, endpoint)
}

// WireDiscord registers this Manager's voice-event handlers on a
// discordgo.Session, grounded on PancyBotGo's voiceStateUpdate/
// voiceServerUpdate handler pair.
func (m *Manager) WireDiscord(session *discordgo.Session) {
	session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		var channelID *string
		if v.ChannelID != "" {
			id := v.ChannelID
			channelID = &id
		}
		m.HandleVoiceStateUpdate(context.Background(), v.GuildID, v.UserID, channelID, v.SessionID)
	})
	session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
		m.HandleVoiceServerUpdate(v.GuildID, v.Token, v.Endpoint)
	})
}

func (m *Manager) destroyPlayer(ctx context.Context, guildID string) error {
	m.mu.Lock()
	p, ok := m.players[guildID]
	if ok {
		delete(m.players, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := p.Destroy(ctx)
	m.listener.PlayerDestroy(p)
	return err
}

// migratePlayersOff collects every non-destroyed Player bound to n and
// either moves it to a freshly chosen ideal node or destroys it, per
// spec.md §4.5's `_handleNodeDisconnection`.
func (m *Manager) migratePlayersOff(ctx context.Context, n *Node, permanent bool) {
	guildIDs := n.BoundGuildIDs()
	if len(guildIDs) == 0 {
		return
	}

	target := m.getIdealNode()
	if target == nil && !permanent {
		delay := n.cfg.Reconnect.InitialDelay + 500*time.Millisecond
		time.Sleep(delay)
		target = m.getIdealNode()
	}

	for _, guildID := range guildIDs {
		p, ok := m.GetPlayer(guildID)
		if !ok || p.isDestroyed() {
			continue
		}
		if target == nil {
			_ = m.destroyPlayer(ctx, guildID)
			continue
		}
		old := p.Node()
		if err := p.moveToNode(ctx, target); err != nil {
			m.logger.Warn("player migration failed, destroying", zap.String("guildId", guildID), zap.Error(err))
			_ = m.destroyPlayer(ctx, guildID)
			continue
		}
		m.listener.PlayerMove(p, old, target)
	}
}

// --- NodeObserver ---

func (m *Manager) OnNodeConnect(n *Node) { m.listener.NodeConnect(n) }

func (m *Manager) OnNodeReady(n *Node, resumed bool) { m.listener.NodeReady(n, resumed) }

func (m *Manager) OnNodeStats(n *Node, health NodeHealth) { m.listener.NodeStats(n, health) }

func (m *Manager) OnNodeDisconnect(n *Node, code int, reason string) {
	m.listener.NodeDisconnect(n, code, reason)
	go m.migratePlayersOff(context.Background(), n, false)
}

func (m *Manager) OnNodeError(n *Node, err error, phase string) {
	m.listener.NodeError(n, err, phase)
}

func (m *Manager) OnNodeFailedPermanently(n *Node) {
	go m.migratePlayersOff(context.Background(), n, true)
}

func (m *Manager) OnPlayerServerUpdate(guildID string, state PlayerServerState) {
	if p, ok := m.GetPlayer(guildID); ok {
		p.handleServerUpdate(state)
	}
}

func (m *Manager) OnPlayerServerEvent(guildID string, evt eventFrame) {
	if p, ok := m.GetPlayer(guildID); ok {
		p.handleServerEvent(context.Background(), evt)
	}
}

func (m *Manager) OnDebug(n *Node, msg string) {
	m.logger.Debug(msg)
	m.listener.Debug(msg)
}

// --- PlayerObserver ---

func (m *Manager) OnTrackStart(p *Player, track Track) { m.listener.TrackStart(p, track) }

func (m *Manager) OnTrackEnd(p *Player, track Track, reason string) {
	m.listener.TrackEnd(p, track, reason)
}

func (m *Manager) OnTrackException(p *Player, track Track, message, severity, cause string) {
	m.listener.TrackException(p, track, message, severity, cause)
}

func (m *Manager) OnTrackStuck(p *Player, track Track, thresholdMs int64) {
	m.listener.TrackStuck(p, track, thresholdMs)
}

func (m *Manager) OnPlayerWebSocketClosed(p *Player, code int, reason string, byRemote bool) {
	m.listener.PlayerWebsocketClosed(p, code, reason, byRemote)
}

func (m *Manager) OnQueueEnd(p *Player) { m.listener.QueueEnd(p) }

func (m *Manager) OnPlayerStateChange(p *Player, old, new PlayerState) {
	m.listener.PlayerStateUpdate(p, new)
}

func (m *Manager) OnPlayerDebug(p *Player, msg string) {
	m.logger.Debug(msg)
	m.listener.Debug(msg)
}
