package lavago

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession implements sessionHolder for REST-client tests that don't
// need a real Node.
type fakeSession struct {
	sessionID  string
	invalidCnt int32
}

func (f *fakeSession) currentSessionID() string { return f.sessionID }
func (f *fakeSession) invalidateSession(reason string) {
	atomic.AddInt32(&f.invalidCnt, 1)
	f.sessionID = ""
}

func newTestRESTClient(t *testing.T, handler http.HandlerFunc) (*restClient, *fakeSession, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	host, port := splitHostPort(t, srv.URL)
	cfg := &NodeConfig{
		Identifier:  "test",
		Host:        host,
		Port:        port,
		Password:    "secret",
		RetryAmount: 2,
	}
	sess := &fakeSession{sessionID: "sess-1"}
	client := newRESTClient(cfg, sess, nil)
	return client, sess, srv.Close
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestRESTClientPatchPlayerSendsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	client, _, closeSrv := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(playerStateResponse{GuildID: "g1"})
	})
	defer closeSrv()

	_, err := client.patchPlayer(context.Background(), "g1", playerPatchBody{}, false)
	require.NoError(t, err)
	assert.Equal(t, "secret", gotAuth)
}

func TestRESTClient404OnSessionScopedPathInvalidatesSession(t *testing.T) {
	client, sess, closeSrv := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeSrv()

	_, err := client.patchPlayer(context.Background(), "g1", playerPatchBody{}, false)
	require.Error(t, err)
	var sessErr *SessionError
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, "", sess.currentSessionID())
}

func TestRESTClientNon2xxIsNotRetried(t *testing.T) {
	var calls int32
	client, _, closeSrv := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})
	defer closeSrv()

	_, err := client.patchPlayer(context.Background(), "g1", playerPatchBody{}, false)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRESTClientSerializesPerGuild(t *testing.T) {
	var inFlight, maxInFlight int32
	client, _, closeSrv := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(playerStateResponse{GuildID: "g1"})
	})
	defer closeSrv()

	done := make(chan error, 2)
	go func() {
		_, err := client.patchPlayer(context.Background(), "g1", playerPatchBody{}, false)
		done <- err
	}()
	go func() {
		_, err := client.patchPlayer(context.Background(), "g1", playerPatchBody{}, false)
		done <- err
	}()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	// The per-guild lock must keep the two PATCHes for g1 from overlapping
	// at the server.
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestRESTClientLoadTracksDecodesRawData(t *testing.T) {
	client, _, closeSrv := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ytsearch:foo", r.URL.Query().Get("identifier"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"loadType":"search","data":[{"encoded":"xyz","info":{"title":"Foo"}}]}`))
	})
	defer closeSrv()

	result, err := client.loadTracks(context.Background(), "ytsearch:foo")
	require.NoError(t, err)
	assert.Equal(t, "search", result.LoadType)

	var tracks []Track
	require.NoError(t, json.Unmarshal(result.Data, &tracks))
	require.Len(t, tracks, 1)
	assert.Equal(t, "Foo", tracks[0].Info.Title)
}
