package lavago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPlayerObserver captures PlayerObserver callbacks.
type recordingPlayerObserver struct {
	mu          sync.Mutex
	trackStarts []Track
	trackEnds   []string
	queueEnds   int
	stateChange []PlayerState
}

func (o *recordingPlayerObserver) OnTrackStart(p *Player, track Track) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trackStarts = append(o.trackStarts, track)
}
func (o *recordingPlayerObserver) OnTrackEnd(p *Player, track Track, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trackEnds = append(o.trackEnds, reason)
}
func (o *recordingPlayerObserver) OnTrackException(p *Player, track Track, message, severity, cause string) {
}
func (o *recordingPlayerObserver) OnTrackStuck(p *Player, track Track, thresholdMs int64) {}
func (o *recordingPlayerObserver) OnPlayerWebSocketClosed(p *Player, code int, reason string, byRemote bool) {
}
func (o *recordingPlayerObserver) OnQueueEnd(p *Player) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queueEnds++
}
func (o *recordingPlayerObserver) OnPlayerStateChange(p *Player, old, new PlayerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateChange = append(o.stateChange, new)
}
func (o *recordingPlayerObserver) OnPlayerDebug(p *Player, msg string) {}

// newReadyTestNode builds a Node wired to an httptest REST server and
// forces it into NodeReady without a real WebSocket handshake, since
// Player tests only exercise the REST PATCH/DELETE path.
func newReadyTestNode(t *testing.T, handler http.HandlerFunc) (*Node, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	host, port := splitHostPort(t, srv.URL)

	cfg := DefaultNodeConfig("player-test-node")
	cfg.Host = host
	cfg.Port = port
	n, err := NewNode(cfg, &recordingObserver{}, nil)
	require.NoError(t, err)

	n.mu.Lock()
	n.sessionID = "sess-1"
	n.mu.Unlock()
	n.setState(NodeReady)

	return n, srv.Close
}

func echoPlayerPatchHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			return
		}
		var body playerPatchBody
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(playerStateResponse{GuildID: "g1"})
	}
}

func TestPlayerPlayCommitsQueueOnlyAfterRESTSuccess(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	obs := &recordingPlayerObserver{}
	p := NewPlayer(n, "g1", DefaultPlayerOptions(), obs, nil)
	p.setState(PlayerStopped)
	p.Queue().Add([]Track{track("a"), track("b")})

	err := p.Play(context.Background(), PlayOptions{})
	require.NoError(t, err)

	assert.Equal(t, "a", p.Queue().Current().Encoded)
	assert.Equal(t, PlayerStopped, p.State(), "Play must not itself set PLAYING; only a TrackStartEvent does")
}

func TestPlayerPlayFailsPreconditionWhenNotPlayable(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	p := NewPlayer(n, "g1", DefaultPlayerOptions(), &recordingPlayerObserver{}, nil)
	// state starts PlayerInstantiated, not in playableStates.
	err := p.Play(context.Background(), PlayOptions{Track: &Track{Encoded: "x"}})
	require.Error(t, err)
	var precondition *PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestPlayerTrackStartEventTransitionsToPlaying(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	obs := &recordingPlayerObserver{}
	p := NewPlayer(n, "g1", DefaultPlayerOptions(), obs, nil)
	p.setState(PlayerStopped)
	p.Queue().Add([]Track{track("a")})
	require.NoError(t, p.Play(context.Background(), PlayOptions{}))

	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackStart, EncodedTrack: "a"})

	assert.Equal(t, PlayerPlaying, p.State())
	require.Len(t, obs.trackStarts, 1)
}

func TestPlayerQueueProgressionOnFinishedAdvancesToNext(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	obs := &recordingPlayerObserver{}
	p := NewPlayer(n, "g1", DefaultPlayerOptions(), obs, nil)
	p.setState(PlayerStopped)
	p.Queue().Add([]Track{track("a"), track("b")})
	require.NoError(t, p.Play(context.Background(), PlayOptions{}))
	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackStart, EncodedTrack: "a"})

	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackEnd, EncodedTrack: "a", Reason: ReasonFinished})

	require.Eventually(t, func() bool {
		cur := p.Queue().Current()
		return cur != nil && cur.Encoded == "b"
	}, time.Second, 5*time.Millisecond)
}

func TestPlayerQueueProgressionStoppedReasonDoesNotAdvance(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	obs := &recordingPlayerObserver{}
	p := NewPlayer(n, "g1", DefaultPlayerOptions(), obs, nil)
	p.setState(PlayerStopped)
	p.Queue().Add([]Track{track("a"), track("b")})
	require.NoError(t, p.Play(context.Background(), PlayOptions{}))
	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackStart, EncodedTrack: "a"})

	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackEnd, EncodedTrack: "a", Reason: ReasonStopped})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "b", p.Queue().Peek().Encoded, "a stopped-reason end must not consume the queue")
}

func TestPlayerLoopTrackReplaysOnFinished(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	obs := &recordingPlayerObserver{}
	p := NewPlayer(n, "g1", DefaultPlayerOptions(), obs, nil)
	p.setState(PlayerStopped)
	p.Queue().Add([]Track{track("a")})
	require.NoError(t, p.SetLoop(LoopTrack))
	require.NoError(t, p.Play(context.Background(), PlayOptions{}))
	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackStart, EncodedTrack: "a"})

	p.handleServerEvent(context.Background(), eventFrame{Type: eventTrackEnd, EncodedTrack: "a", Reason: ReasonFinished})

	require.Eventually(t, func() bool {
		cur := p.Queue().Current()
		return cur != nil && cur.Encoded == "a"
	}, time.Second, 5*time.Millisecond)
}

func TestPlayerSetVolumeClampsAndNoOpsWhenUnchanged(t *testing.T) {
	var patchCalls int
	n, closeSrv := newReadyTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		patchCalls++
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(playerStateResponse{GuildID: "g1"})
	})
	defer closeSrv()

	p := NewPlayer(n, "g1", PlayerOptions{InitialVolume: 100}, &recordingPlayerObserver{}, nil)

	require.NoError(t, p.SetVolume(context.Background(), 100))
	assert.Equal(t, 0, patchCalls, "unchanged volume must not issue a REST call")

	require.NoError(t, p.SetVolume(context.Background(), 5000))
	assert.Equal(t, 1000, p.Volume(), "volume must clamp to 1000")
}

func TestPlayerSeekRejectsNonSeekableTrack(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	p := NewPlayer(n, "g1", DefaultPlayerOptions(), &recordingPlayerObserver{}, nil)
	p.setState(PlayerStopped)
	p.Queue().advanceTo(&Track{Encoded: "a", Info: TrackInfo{IsSeekable: false}})

	err := p.Seek(context.Background(), time.Second)
	require.Error(t, err)
	var precondition *PreconditionError
	assert.ErrorAs(t, err, &precondition)
}

func TestPlayerDestroyIsIdempotent(t *testing.T) {
	n, closeSrv := newReadyTestNode(t, echoPlayerPatchHandler(t))
	defer closeSrv()

	p := NewPlayer(n, "g1", DefaultPlayerOptions(), &recordingPlayerObserver{}, nil)
	require.NoError(t, p.Destroy(context.Background()))
	require.NoError(t, p.Destroy(context.Background()))
	assert.Equal(t, PlayerDestroyedState, p.State())

	err := p.Play(context.Background(), PlayOptions{Track: &Track{Encoded: "a"}})
	assert.ErrorIs(t, err, ErrPlayerDestroyed)
}
