package lavago

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PlayerState enumerates the Player lifecycle per spec.md §4.4.
type PlayerState int

const (
	PlayerInstantiated PlayerState = iota
	PlayerConnecting
	PlayerWaitingForServer
	PlayerStopped
	PlayerPlaying
	PlayerPaused
	PlayerDisconnected
	PlayerDisconnectedLavalink
	PlayerConnectionFailed
	PlayerDestroyedState
)

func (s PlayerState) String() string {
	switch s {
	case PlayerInstantiated:
		return "INSTANTIATED"
	case PlayerConnecting:
		return "CONNECTING"
	case PlayerWaitingForServer:
		return "WAITING_FOR_SERVER"
	case PlayerStopped:
		return "STOPPED"
	case PlayerPlaying:
		return "PLAYING"
	case PlayerPaused:
		return "PAUSED"
	case PlayerDisconnected:
		return "DISCONNECTED"
	case PlayerDisconnectedLavalink:
		return "DISCONNECTED_LAVALINK"
	case PlayerConnectionFailed:
		return "CONNECTION_FAILED"
	case PlayerDestroyedState:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// PlayerObserver is the narrow interface a Manager implements to learn
// about one Player's playback events, per the §9 design note replacing
// the teacher's direct emitter coupling.
type PlayerObserver interface {
	OnTrackStart(p *Player, track Track)
	OnTrackEnd(p *Player, track Track, reason string)
	OnTrackException(p *Player, track Track, message, severity, cause string)
	OnTrackStuck(p *Player, track Track, thresholdMs int64)
	OnPlayerWebSocketClosed(p *Player, code int, reason string, byRemote bool)
	OnQueueEnd(p *Player)
	OnPlayerStateChange(p *Player, old, new PlayerState)
	OnPlayerDebug(p *Player, msg string)
}

// voiceBuffer accumulates the platform's VoiceStateUpdate and
// VoiceServerUpdate for one guild until both halves are present, per
// spec.md §4.4 ("three-way handshake"). Grounded on
// sgrbot's voiceEventBuffer/pendingVoiceConnection pair.
type voiceBuffer struct {
	mu sync.Mutex

	channelID *string
	sessionID string
	token     string
	endpoint  string

	haveState  bool
	haveServer bool

	waiters []chan struct{}
}

func (b *voiceBuffer) setState(channelID *string, sessionID string) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelID = channelID
	b.sessionID = sessionID
	b.haveState = true
	return b.fireIfReadyLocked()
}

func (b *voiceBuffer) setServer(token, endpoint string) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.endpoint = endpoint
	b.haveServer = true
	return b.fireIfReadyLocked()
}

func (b *voiceBuffer) fireIfReadyLocked() bool {
	if !b.haveState || !b.haveServer {
		return false
	}
	for _, w := range b.waiters {
		close(w)
	}
	b.waiters = nil
	return true
}

func (b *voiceBuffer) snapshot() (channelID *string, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelID, b.sessionID, b.token, b.endpoint
}

// wait blocks until both halves have arrived, ctx is done, or it already
// has both halves.
func (b *voiceBuffer) wait(ctx context.Context) error {
	b.mu.Lock()
	if b.haveState && b.haveServer {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *voiceBuffer) resetLocked() {
	b.haveState = false
	b.haveServer = false
	b.token = ""
	b.endpoint = ""
}

// Player drives one guild's playback against one Node, per spec.md §4.4.
// It owns a single Queue and is never shared across Nodes except via
// moveToNode.
type Player struct {
	guildID  string
	observer PlayerObserver
	opts     PlayerOptions
	logger   *zap.Logger

	mu       sync.Mutex
	node     *Node
	state    PlayerState
	volume   int
	paused   bool
	lastSeen time.Time
	sendVoice SendVoiceStateFunc

	queue *Queue
	voice voiceBuffer

	destroyed bool

	// cmdMu serializes every caller-issued command (Play/Stop/Skip/
	// SetPaused/Seek/SetVolume/moveToNode) and server-driven queue
	// progression into a total order, per spec.md §5: no two command
	// handlers may interleave their Node REST round-trips or their
	// post-PATCH queue/state mutation for this Player. Exported methods
	// acquire it and delegate to an unexported *Locked body so internal
	// callers already holding it (Skip calling playLocked/stopLocked,
	// runQueueProgression) don't self-deadlock.
	cmdMu sync.Mutex
}

// NewPlayer constructs a Player bound to node for guildID. It does not
// perform the voice handshake; call Connect for that.
func NewPlayer(node *Node, guildID string, opts PlayerOptions, observer PlayerObserver, logger *zap.Logger) *Player {
	p := &Player{
		guildID:  guildID,
		observer: observer,
		opts:     opts,
		logger:   loggerOrNop(logger).With(zap.String("guildId", guildID)),
		node:     node,
		state:    PlayerInstantiated,
		volume:   opts.InitialVolume,
		queue:    NewQueue(),
	}
	node.addPlayerBinding(guildID)
	return p
}

func (p *Player) setState(s PlayerState) {
	p.mu.Lock()
	old := p.state
	p.state = s
	p.mu.Unlock()
	if old != s {
		p.observer.OnPlayerStateChange(p, old, s)
	}
}

// State returns the Player's current lifecycle state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GuildID returns the guild this Player is bound to.
func (p *Player) GuildID() string { return p.guildID }

// Queue returns the Player's track queue.
func (p *Player) Queue() *Queue { return p.queue }

// Node returns the Node this Player is currently bound to.
func (p *Player) Node() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// Volume returns the last volume this Player applied.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Paused reports whether playback is currently paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SendVoiceStateFunc asks the platform library to send a voice-connect
// opcode for channelID (nil to disconnect). Supplied by the Manager so
// Player stays free of any one chat-platform SDK.
type SendVoiceStateFunc func(ctx context.Context, channelID *string, selfMute, selfDeaf bool) error

// connectableStates are the states Connect may be called from, per
// spec.md §4.4 step 1.
var connectableStates = map[PlayerState]bool{
	PlayerInstantiated:         true,
	PlayerDisconnected:         true,
	PlayerConnectionFailed:     true,
	PlayerDisconnectedLavalink: true,
}

// tryBeginConnect atomically checks the precondition state set and, if it
// holds, transitions to CONNECTING so a concurrent Connect call observes
// a non-connectable state and is rejected — this doubles as the "no
// in-flight connect" guard per spec.md §4.4 step 1, since CONNECTING and
// WAITING_FOR_SERVER are themselves not in connectableStates.
func (p *Player) tryBeginConnect() (old PlayerState, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !connectableStates[p.state] {
		return p.state, false
	}
	old = p.state
	p.state = PlayerConnecting
	return old, true
}

// Connect performs the three-way voice handshake described in spec.md
// §4.4: ask the platform to join channelID, wait for both its
// VoiceStateUpdate and VoiceServerUpdate callbacks (fed via
// OnVoiceStateUpdate/OnVoiceServerUpdate), then PATCH the audio server
// with the resulting voice object. Bounded by timeout.
func (p *Player) Connect(ctx context.Context, channelID string, timeout time.Duration, send SendVoiceStateFunc) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}

	old, ok := p.tryBeginConnect()
	if !ok {
		return newPreconditionError("connect called from state %s", old)
	}
	p.observer.OnPlayerStateChange(p, old, PlayerConnecting)

	p.mu.Lock()
	p.voice.resetLocked()
	p.sendVoice = send
	p.mu.Unlock()

	cID := channelID
	if err := send(ctx, &cID, p.opts.SelfMute, p.opts.SelfDeaf); err != nil {
		p.setState(PlayerConnectionFailed)
		_ = p.disconnectAndDestroy(ctx)
		return newTransportError("voice connect request failed", err)
	}

	p.setState(PlayerWaitingForServer)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.voice.wait(waitCtx); err != nil {
		if p.isDestroyed() {
			return ErrPlayerDestroyed
		}
		p.setState(PlayerConnectionFailed)
		_ = p.disconnectAndDestroy(ctx)
		return newTransportError("timed out waiting for voice server update", err)
	}

	cid, sessionID, token, endpoint := p.voice.snapshot()
	if cid == nil {
		p.setState(PlayerConnectionFailed)
		_ = p.disconnectAndDestroy(ctx)
		return newProtocolError("voice handshake completed without a channel id", 0, nil)
	}

	node := p.Node()
	_, err := node.REST().patchPlayer(ctx, p.guildID, playerPatchBody{
		Voice: &restVoice{Token: token, Endpoint: endpoint, SessionID: sessionID},
	}, false)
	if err != nil {
		p.setState(PlayerConnectionFailed)
		_ = p.disconnectAndDestroy(ctx)
		return err
	}

	p.setState(PlayerStopped)
	return nil
}

// OnVoiceStateUpdate feeds the platform's VoiceStateUpdate half of the
// handshake. A nil channelID means the bot left the channel. A changed
// sessionId while already connected re-sends the cached token/endpoint
// under the new session id without waiting for a fresh voice-server
// update, per spec.md §9's open question (c).
func (p *Player) OnVoiceStateUpdate(channelID *string, sessionID string) {
	if channelID == nil {
		p.setState(PlayerDisconnected)
		return
	}
	_, prevSessionID, token, endpoint := p.voice.snapshot()
	p.voice.setState(channelID, sessionID)
	if prevSessionID != "" && prevSessionID != sessionID && token != "" && endpoint != "" {
		go func() {
			_, _ = p.Node().REST().patchPlayer(context.Background(), p.guildID, playerPatchBody{
				Voice: &restVoice{Token: token, Endpoint: endpoint, SessionID: sessionID},
			}, false)
		}()
	}
}

// OnVoiceServerUpdate feeds the platform's VoiceServerUpdate half of the
// handshake.
func (p *Player) OnVoiceServerUpdate(token, endpoint string) {
	p.voice.setServer(token, endpoint)
}

// playableStates are the states Play may be called from, per spec.md §4.4.
var playableStates = map[PlayerState]bool{
	PlayerStopped:          true,
	PlayerPlaying:          true,
	PlayerPaused:           true,
	PlayerWaitingForServer: true,
}

// PlayOptions controls one Play call. Track nil means "poll the queue for
// the next track"; a non-nil Track plays that exact track. FromQueue
// marks a non-nil Track the caller (Skip, queue progression) obtained
// from Queue.Peek, so it is still at the head of the queue; Play then
// commits it with Poll instead of setting it via advanceTo.
type PlayOptions struct {
	Track     *Track
	FromQueue bool
	NoReplace bool
	Paused    bool
	StartTime *time.Duration
	EndTime   *time.Duration
}

// Play starts playback, per spec.md §4.4. Local state (the queue's
// `current`) is committed only once the REST PATCH has succeeded; the
// Player does not transition to PLAYING here — that waits for the
// server's TrackStartEvent. Serialized against every other command and
// against server-driven queue progression via cmdMu, per spec.md §5.
func (p *Player) Play(ctx context.Context, opts PlayOptions) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()
	return p.playLocked(ctx, opts)
}

// playLocked is Play's body. Callers must already hold p.cmdMu.
func (p *Player) playLocked(ctx context.Context, opts PlayOptions) error {
	if !playableStates[p.State()] {
		return newPreconditionError("play called from state %s", p.State())
	}
	if !p.Node().Connected() {
		return newPreconditionError("play called with node %q not ready", p.Node().Identifier())
	}

	candidate := opts.Track
	fromQueue := opts.FromQueue
	if candidate == nil {
		candidate = p.queue.Peek()
		fromQueue = true
		if candidate == nil {
			p.observer.OnQueueEnd(p)
			return p.stopLocked(ctx, false)
		}
	}

	if opts.NoReplace {
		if cur := p.queue.Current(); cur != nil && cur.Encoded == candidate.Encoded && p.State() == PlayerPlaying {
			return nil
		}
	}

	body := playerPatchBody{EncodedTrack: &candidate.Encoded, Paused: &opts.Paused}
	if opts.StartTime != nil {
		length := candidate.Info.Length()
		pos := *opts.StartTime
		if pos < 0 {
			pos = 0
		}
		if pos > length {
			pos = length
		}
		ms := pos.Milliseconds()
		body.Position = &ms
		if opts.EndTime != nil && *opts.EndTime > pos {
			endMs := opts.EndTime.Milliseconds()
			body.EndTime = &endMs
		}
	}

	_, err := p.Node().REST().patchPlayer(ctx, p.guildID, body, opts.NoReplace)
	if err != nil {
		return err
	}

	if fromQueue {
		p.queue.Poll()
	} else {
		p.queue.advanceTo(candidate)
	}
	p.mu.Lock()
	p.paused = opts.Paused
	p.mu.Unlock()
	return nil
}

// Stop halts playback: clears `current` (pushing it to history) and
// resets position; if clearQueue, also empties the upcoming list and
// history. PATCHes the node only while it is READY. Serialized against
// every other command and against server-driven queue progression via
// cmdMu, per spec.md §5.
func (p *Player) Stop(ctx context.Context, clearQueue bool) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()
	return p.stopLocked(ctx, clearQueue)
}

// stopLocked is Stop's body. Callers must already hold p.cmdMu.
func (p *Player) stopLocked(ctx context.Context, clearQueue bool) error {
	if node := p.Node(); node.Connected() {
		// playerPatchBody drops a nil EncodedTrack (omitempty), so the
		// explicit {encodedTrack:null} is sent as a map body under the same
		// per-guild lock patchPlayer uses.
		rest := node.REST()
		lock := rest.lockForGuild(p.guildID)
		lock.Lock()
		err := rest.request(ctx, "PATCH", fmt.Sprintf("/v4/sessions/{sid}/players/%s", p.guildID), nil, map[string]interface{}{"encodedTrack": nil}, nil)
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	if clearQueue {
		p.queue.Clear()
	} else {
		p.queue.advanceTo(nil)
	}
	p.mu.Lock()
	p.lastSeen = time.Time{}
	p.mu.Unlock()
	p.setState(PlayerStopped)
	return nil
}

// Skip peeks the next queued track and plays it, or stops (without
// clearing the queue) if none remains, per spec.md §4.4. Holds cmdMu for
// the full peek-then-play/stop sequence so two concurrent Skip calls
// can't both observe the same Peek result before either commits it.
func (p *Player) Skip(ctx context.Context) (*Track, error) {
	if p.isDestroyed() {
		return nil, ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	next := p.queue.Peek()
	if next == nil {
		return nil, p.stopLocked(ctx, false)
	}
	if err := p.playLocked(ctx, PlayOptions{Track: next, FromQueue: true}); err != nil {
		return nil, err
	}
	return next, nil
}

// SetPaused is idempotent: PATCHes {paused} and, on success, toggles
// local paused and maps state PLAYING<->PAUSED. Never resumes into
// PLAYING when there is no current track. Serialized against every other
// command via cmdMu, per spec.md §5.
func (p *Player) SetPaused(ctx context.Context, paused bool) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.Paused() == paused {
		return nil
	}
	_, err := p.Node().REST().patchPlayer(ctx, p.guildID, playerPatchBody{
		Paused: &paused,
	}, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	if paused {
		p.setState(PlayerPaused)
	} else if p.queue.Current() != nil {
		p.setState(PlayerPlaying)
	}
	return nil
}

// Seek jumps the current track to position, clamped to [0, length].
// Returns a PreconditionError if no track is current or it is not
// seekable. Serialized against every other command via cmdMu, per
// spec.md §5.
func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	cur := p.queue.Current()
	if cur == nil {
		return newPreconditionError("seek with no current track")
	}
	if !cur.Info.IsSeekable {
		return newPreconditionError("track %q is not seekable", cur.Info.Title)
	}
	if position < 0 {
		position = 0
	}
	if length := cur.Info.Length(); position > length {
		position = length
	}
	ms := position.Milliseconds()
	_, err := p.Node().REST().patchPlayer(ctx, p.guildID, playerPatchBody{
		Position: &ms,
	}, false)
	if err != nil {
		return err
	}
	// Updated eagerly for immediate UI feedback; overwritten by the next
	// server PlayerUpdate, per spec.md §7.
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
	cur.Info.PositionMs = ms
	return nil
}

// SetVolume changes playback volume, clamped to [0,1000]. No-op (and no
// REST call) when unchanged. Serialized against every other command via
// cmdMu, per spec.md §5.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if volume < 0 {
		volume = 0
	}
	if volume > 1000 {
		volume = 1000
	}
	if p.Volume() == volume {
		return nil
	}
	_, err := p.Node().REST().patchPlayer(ctx, p.guildID, playerPatchBody{
		Volume: &volume,
	}, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// SetLoop updates the queue's loop mode.
func (p *Player) SetLoop(mode LoopMode) error {
	return p.queue.SetLoop(mode)
}

// EstimatedPosition returns the current track's estimated playback
// position, projecting forward from the last playerUpdate by wall-clock
// elapsed time, per spec.md §4.4.2. Returns 0 if nothing is playing or
// paused (no projection while paused).
func (p *Player) EstimatedPosition() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.queue.Current()
	if cur == nil {
		return 0
	}
	if p.paused || p.lastSeen.IsZero() {
		return time.Duration(cur.Info.PositionMs) * time.Millisecond
	}
	elapsed := time.Since(p.lastSeen)
	return time.Duration(cur.Info.PositionMs)*time.Millisecond + elapsed
}

// handleServerUpdate applies a decoded playerUpdate frame.
func (p *Player) handleServerUpdate(state PlayerServerState) {
	p.mu.Lock()
	p.lastSeen = state.Time
	if cur := p.queue.Current(); cur != nil {
		cur.Info.PositionMs = state.PositionMs
	}
	connected := state.Connected
	p.mu.Unlock()
	if !connected && p.State() == PlayerPlaying {
		p.setState(PlayerDisconnectedLavalink)
	}
}

// fatalVoiceCloseCodes force a player to disconnect+destroy outright,
// per spec.md §4.4.
var fatalVoiceCloseCodes = map[int]bool{4004: true, 4006: true, 4014: true}

// handleServerEvent dispatches one decoded `event` frame to the
// appropriate observer callback and advances playback state per
// spec.md §4.4/§4.4.1.
func (p *Player) handleServerEvent(ctx context.Context, evt eventFrame) {
	cur := p.queue.Current()
	var track Track
	if cur != nil {
		track = *cur
	} else {
		track = Track{Encoded: evt.EncodedTrack}
	}

	switch evt.Type {
	case eventTrackStart:
		p.mu.Lock()
		p.paused = false
		p.lastSeen = time.Now()
		if c := p.queue.Current(); c != nil {
			c.Info.PositionMs = 0
		}
		p.mu.Unlock()
		p.setState(PlayerPlaying)
		p.observer.OnTrackStart(p, track)
	case eventTrackEnd:
		if evt.Reason != ReasonReplaced {
			p.queue.advanceTo(nil)
			p.mu.Lock()
			p.lastSeen = time.Time{}
			p.mu.Unlock()
			p.setState(PlayerStopped)
		}
		p.observer.OnTrackEnd(p, track, evt.Reason)
		p.runQueueProgression(ctx, evt.Reason, track)
	case eventTrackException:
		msg, severity, cause := "", "", ""
		if evt.Exception != nil {
			msg, severity, cause = evt.Exception.Message, evt.Exception.Severity, evt.Exception.Cause
		}
		p.queue.advanceTo(nil)
		p.setState(PlayerStopped)
		p.observer.OnTrackException(p, track, msg, severity, cause)
		if severity == "fault" {
			faultErr := newFaultError("fault-severity exception on track %q: %s", track.Info.Title, msg)
			p.logger.Error("destroying player after fault", zap.Error(faultErr))
			_ = p.disconnectAndDestroy(ctx)
			return
		}
		p.runQueueProgression(ctx, ReasonLoadFailed, track)
	case eventTrackStuck:
		p.queue.advanceTo(nil)
		p.setState(PlayerStopped)
		p.observer.OnTrackStuck(p, track, evt.ThresholdMs)
		p.runQueueProgression(ctx, "stuck", track)
	case eventWebSocketClosed:
		p.mu.Lock()
		p.voice.resetLocked()
		p.mu.Unlock()
		p.setState(PlayerDisconnectedLavalink)
		p.observer.OnPlayerWebSocketClosed(p, evt.Code, evt.Reason, evt.ByRemote)
		if fatalVoiceCloseCodes[evt.Code] {
			_ = p.disconnectAndDestroy(ctx)
		}
	default:
		p.observer.OnPlayerDebug(p, "unhandled event type: "+evt.Type)
	}
}

// runQueueProgression implements spec.md §4.4.1 given the reason a track
// ended and the track it was (prior, already moved to history by the
// caller for non-replaced reasons).
func (p *Player) runQueueProgression(ctx context.Context, reason string, prior Track) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	if p.queue.Loop() == LoopTrack && reason == ReasonFinished {
		if err := p.playLocked(ctx, PlayOptions{Track: &prior}); err != nil {
			p.observer.OnPlayerDebug(p, fmt.Sprintf("loop-track replay failed: %v", err))
		}
		return
	}
	if reason == ReasonStopped || reason == ReasonReplaced || reason == ReasonCleanup {
		return
	}
	// The caller has already cleared `current`, so Poll cannot re-append
	// the finished track itself under LoopQueue; do it here.
	if p.queue.Loop() == LoopQueue && prior.Encoded != "" {
		p.queue.Add([]Track{prior})
	}
	next := p.queue.Peek()
	if next == nil {
		p.observer.OnQueueEnd(p)
		if err := p.stopLocked(ctx, false); err != nil {
			p.observer.OnPlayerDebug(p, fmt.Sprintf("defensive stop after queue end failed: %v", err))
		}
		return
	}
	if err := p.playLocked(ctx, PlayOptions{Track: next, FromQueue: true}); err != nil {
		p.observer.OnPlayerDebug(p, fmt.Sprintf("auto-advance failed: %v", err))
	}
}

// moveToNode migrates this Player to a different Node: it deletes the
// source node's player entry (best effort, only while the source is
// READY), rebinds to the destination, then replays the current track at
// its last known position there in one PATCH, per spec.md §4.4.3. Serialized against every other
// command via cmdMu, per spec.md §5.
func (p *Player) moveToNode(ctx context.Context, dst *Node) error {
	if p.isDestroyed() {
		return ErrPlayerDestroyed
	}
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	src := p.node
	cur := p.queue.Current()
	volume := p.volume
	paused := p.paused
	p.mu.Unlock()

	if src == dst {
		return nil
	}
	if !dst.Connected() {
		return newPreconditionError("move target node %q is not ready", dst.Identifier())
	}

	position := p.EstimatedPosition()

	if src.Connected() {
		_ = src.REST().deletePlayer(ctx, p.guildID)
	}
	src.removePlayerBinding(p.guildID)
	dst.addPlayerBinding(p.guildID)
	p.mu.Lock()
	p.node = dst
	p.mu.Unlock()

	body := playerPatchBody{Volume: &volume, Paused: &paused}
	if cur != nil {
		encoded := cur.Encoded
		posMs := position.Milliseconds()
		body.EncodedTrack = &encoded
		body.Position = &posMs
	}
	if _, sessionID, token, endpoint := p.voice.snapshot(); token != "" && endpoint != "" && sessionID != "" {
		body.Voice = &restVoice{Token: token, Endpoint: endpoint, SessionID: sessionID}
	}

	if _, err := dst.REST().patchPlayer(ctx, p.guildID, body, false); err != nil {
		_ = p.Destroy(ctx)
		return newTransportError("track replay on destination node failed during migration", err)
	}

	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *Player) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// disconnectAndDestroy asks the platform to leave voice (best effort)
// before destroying the Player, per spec.md §4.4's "disconnect+destroy"
// steps used on fatal voice-close codes and handshake failure.
func (p *Player) disconnectAndDestroy(ctx context.Context) error {
	p.mu.Lock()
	send := p.sendVoice
	p.mu.Unlock()
	if send != nil {
		_ = send(ctx, nil, p.opts.SelfMute, p.opts.SelfDeaf)
	}
	return p.Destroy(ctx)
}

// Destroy tears down this Player: deletes its server-side player,
// clears its queue, and marks it unusable. Safe to call more than once.
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	node := p.node
	p.mu.Unlock()

	p.setState(PlayerDestroyedState)
	p.queue.Clear()
	node.removePlayerBinding(p.guildID)
	return node.REST().deletePlayer(ctx, p.guildID)
}
