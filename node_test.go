package lavago

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// recordingObserver captures NodeObserver callbacks for assertions. Safe
// for concurrent use since Node dispatches from its own goroutines.
type recordingObserver struct {
	mu                  sync.Mutex
	readyCount          int
	lastResumed         bool
	statsCount          int
	lastHealth          NodeHealth
	disconnects         int
	failedPermanently   int
	playerServerUpdates []PlayerServerState
	playerServerEvents  []eventFrame
}

func (o *recordingObserver) OnNodeConnect(n *Node) {}
func (o *recordingObserver) OnNodeReady(n *Node, resumed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readyCount++
	o.lastResumed = resumed
}
func (o *recordingObserver) OnNodeStats(n *Node, health NodeHealth) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statsCount++
	o.lastHealth = health
}
func (o *recordingObserver) OnNodeDisconnect(n *Node, code int, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnects++
}
func (o *recordingObserver) OnNodeError(n *Node, err error, context string) {}
func (o *recordingObserver) OnNodeFailedPermanently(n *Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failedPermanently++
}
func (o *recordingObserver) OnPlayerServerUpdate(guildID string, state PlayerServerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playerServerUpdates = append(o.playerServerUpdates, state)
}
func (o *recordingObserver) OnPlayerServerEvent(guildID string, evt eventFrame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playerServerEvents = append(o.playerServerEvents, evt)
}
func (o *recordingObserver) OnDebug(n *Node, msg string) {}

func (o *recordingObserver) snapshotReady() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readyCount, o.lastResumed
}

func (o *recordingObserver) snapshotStats() (int, NodeHealth) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsCount, o.lastHealth
}

func (o *recordingObserver) snapshotFailedPermanently() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failedPermanently
}

// fakeLavalinkServer upgrades to a WebSocket and lets the test script
// frames to the client on demand.
type fakeLavalinkServer struct {
	t      *testing.T
	srv    *httptest.Server
	connCh chan *websocket.Conn
}

func newFakeLavalinkServer(t *testing.T) *fakeLavalinkServer {
	t.Helper()
	f := &fakeLavalinkServer{t: t, connCh: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.connCh <- conn
	}))
	return f
}

func (f *fakeLavalinkServer) hostPort() (string, int) {
	u := strings.TrimPrefix(f.srv.URL, "http://")
	parts := strings.Split(u, ":")
	port, err := strconv.Atoi(parts[1])
	require.NoError(f.t, err)
	return parts[0], port
}

func (f *fakeLavalinkServer) acceptConn() *websocket.Conn {
	select {
	case c := <-f.connCh:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for client to dial")
		return nil
	}
}

func (f *fakeLavalinkServer) close() { f.srv.Close() }

func newTestNode(t *testing.T, host string, port int, observer NodeObserver) *Node {
	t.Helper()
	cfg := DefaultNodeConfig("test-node")
	cfg.Host = host
	cfg.Port = port
	cfg.Reconnect = ReconnectPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxTries: 2}
	n, err := NewNode(cfg, observer, nil)
	require.NoError(t, err)
	return n
}

func TestNodeReachesReadyOnReadyFrame(t *testing.T) {
	srv := newFakeLavalinkServer(t)
	defer srv.close()

	obs := &recordingObserver{}
	host, port := srv.hostPort()
	n := newTestNode(t, host, port, obs)
	n.SetBotUserID("bot-1")

	conn := srv.acceptConn()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"op": "ready", "resumed": false, "sessionId": "sess-abc",
	}))

	require.Eventually(t, func() bool {
		return n.State() == NodeReady
	}, time.Second, 10*time.Millisecond)

	count, resumed := obs.snapshotReady()
	require.Equal(t, 1, count)
	require.False(t, resumed)
	require.Equal(t, "sess-abc", n.currentSessionID())
	require.True(t, n.Connected())
}

func TestNodePenaltyInfiniteUntilReady(t *testing.T) {
	srv := newFakeLavalinkServer(t)
	defer srv.close()

	obs := &recordingObserver{}
	host, port := srv.hostPort()
	n := newTestNode(t, host, port, obs)

	require.True(t, n.Penalty() > 1e300, "penalty must be +Inf before any READY frame")
}

func TestNodeStatsUpdateHealthAndPenalty(t *testing.T) {
	srv := newFakeLavalinkServer(t)
	defer srv.close()

	obs := &recordingObserver{}
	host, port := srv.hostPort()
	n := newTestNode(t, host, port, obs)
	n.SetBotUserID("bot-1")

	conn := srv.acceptConn()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"op": "ready", "resumed": false, "sessionId": "sess-1",
	}))
	require.Eventually(t, func() bool { return n.State() == NodeReady }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"op":             "stats",
		"players":        2,
		"playingPlayers": 1,
		"cpu":            map[string]interface{}{"cores": 4, "systemLoad": 0.5, "lavalinkLoad": 0.1},
		"memory":         map[string]interface{}{"used": 104857600},
	}))

	require.Eventually(t, func() bool {
		count, _ := obs.snapshotStats()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	_, health := obs.snapshotStats()
	require.True(t, health.Valid)
	require.Equal(t, 2, health.Players)
	require.Equal(t, 4, health.CPUCores)

	penalty := n.Penalty()
	require.True(t, penalty < 1e300, "penalty must be finite once READY with stats")
	require.True(t, penalty >= float64(health.Players))
}

func TestNodePermanentCloseCodeDisablesReconnect(t *testing.T) {
	srv := newFakeLavalinkServer(t)
	defer srv.close()

	obs := &recordingObserver{}
	host, port := srv.hostPort()
	n := newTestNode(t, host, port, obs)
	n.SetBotUserID("bot-1")

	conn := srv.acceptConn()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"op": "ready", "resumed": false, "sessionId": "sess-1",
	}))
	require.Eventually(t, func() bool { return n.State() == NodeReady }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(4004, "authentication failed"),
		time.Now().Add(time.Second),
	))

	require.Eventually(t, func() bool {
		return n.State() == NodeDestroyed
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, obs.snapshotFailedPermanently())
}
