package lavago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// restAttemptTimeout is the wall-clock cap per spec.md §4.2/§5.
const restAttemptTimeout = 15 * time.Second

// sessionHolder is the narrow view of Node the REST client needs: the
// current (possibly empty) sessionId, and a way to flag it invalid on a
// 404 against a session-scoped path.
type sessionHolder interface {
	currentSessionID() string
	invalidateSession(reason string)
}

// restClient is the per-Node authenticated HTTP client described in
// spec.md §4.2. Grounded on the teacher's Node.Search (http.NewRequest +
// http.DefaultClient.Do) generalized into a single request() operation
// with retry, timeout, and session-loss detection.
type restClient struct {
	cfg    *NodeConfig
	node   sessionHolder
	http   *http.Client
	logger *zap.Logger

	// guildLocks serializes PATCH/DELETE player calls per guildId so a
	// stop's {encodedTrack:null} can never race past a subsequent play's
	// {encodedTrack:X} for the same guild, per spec.md §5.
	guildMu    sync.Mutex
	guildLocks map[string]*sync.Mutex
}

func newRESTClient(cfg *NodeConfig, node sessionHolder, logger *zap.Logger) *restClient {
	return &restClient{
		cfg:        cfg,
		node:       node,
		http:       &http.Client{Timeout: restAttemptTimeout},
		logger:     loggerOrNop(logger),
		guildLocks: make(map[string]*sync.Mutex),
	}
}

func (r *restClient) lockForGuild(guildID string) *sync.Mutex {
	r.guildMu.Lock()
	defer r.guildMu.Unlock()
	m, ok := r.guildLocks[guildID]
	if !ok {
		m = &sync.Mutex{}
		r.guildLocks[guildID] = m
	}
	return m
}

// request performs method against path (relative to the node's HTTP
// base), retrying network failures and attempt timeouts up to
// RetryAmount with a 500ms*attempt linear backoff. Non-2xx HTTP
// responses are never retried. A 404 against a session-scoped path
// invalidates the node's session.
func (r *restClient) request(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	sessionScoped := strings.Contains(path, "{sid}")
	sid := r.node.currentSessionID()
	if sessionScoped {
		if sid == "" {
			return newPreconditionError("no session established for node %q", r.cfg.Identifier)
		}
		path = strings.ReplaceAll(path, "{sid}", sid)
	}

	fullURL := r.cfg.httpBase() + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lavago: marshal request body: %w", err)
		}
		bodyBytes = b
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		status, respBody, err := r.doOnce(ctx, method, fullURL, bodyBytes)
		if err == nil {
			if status >= 200 && status < 300 {
				if sp, ok := out.(*string); ok {
					*sp = string(respBody)
				} else if out != nil && len(respBody) > 0 {
					if uerr := json.Unmarshal(respBody, out); uerr != nil {
						return fmt.Errorf("lavago: decode response from %s: %w", path, uerr)
					}
				}
				return nil
			}
			if status == http.StatusNotFound && sessionScoped {
				r.node.invalidateSession("404 on session-scoped path " + path)
				return newSessionError(false, "session invalid: 404 on %s", path)
			}
			// Non-2xx, non-network: never retried.
			return newProtocolError(fmt.Sprintf("%s %s returned non-2xx", method, path), status, respBody)
		}

		lastErr = err
		if attempt >= r.cfg.RetryAmount {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return newTransportError(fmt.Sprintf("%s %s failed after %d attempts", method, path, r.cfg.RetryAmount), lastErr)
}

func (r *restClient) doOnce(ctx context.Context, method, fullURL string, body []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, restAttemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", r.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// --- Endpoints named in spec.md §4.2/§6 ---

func (r *restClient) version(ctx context.Context) (string, error) {
	var out string
	if err := r.request(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

type nodeInfo struct {
	Version struct {
		Semver string `json:"semver"`
	} `json:"version"`
	SourceManagers []string `json:"sourceManagers"`
}

func (r *restClient) info(ctx context.Context) (*nodeInfo, error) {
	var out nodeInfo
	if err := r.request(ctx, http.MethodGet, "/v4/info", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *restClient) stats(ctx context.Context) (*statsFrame, error) {
	var out statsFrame
	if err := r.request(ctx, http.MethodGet, "/v4/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *restClient) loadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	q := url.Values{"identifier": []string{identifier}}
	var out loadTracksResponse
	if err := r.request(ctx, http.MethodGet, "/v4/loadtracks", q, nil, &out); err != nil {
		return nil, err
	}
	return &LoadResult{LoadType: out.LoadType, Data: out.Data}, nil
}

func (r *restClient) decodeTrack(ctx context.Context, encoded string) (*Track, error) {
	q := url.Values{"encodedTrack": []string{encoded}}
	var out rawTrack
	if err := r.request(ctx, http.MethodGet, "/v4/decodetrack", q, nil, &out); err != nil {
		return nil, err
	}
	return &Track{Encoded: out.Encoded, Info: out.Info}, nil
}

func (r *restClient) decodeTracks(ctx context.Context, encoded []string) ([]Track, error) {
	var out []rawTrack
	if err := r.request(ctx, http.MethodPost, "/v4/decodetracks", nil, encoded, &out); err != nil {
		return nil, err
	}
	tracks := make([]Track, len(out))
	for i, t := range out {
		tracks[i] = Track{Encoded: t.Encoded, Info: t.Info}
	}
	return tracks, nil
}

func (r *restClient) patchSession(ctx context.Context, resuming *bool, timeoutSeconds *int) error {
	body := sessionPatchBody{Resuming: resuming, Timeout: timeoutSeconds}
	return r.request(ctx, http.MethodPatch, "/v4/sessions/{sid}", nil, body, nil)
}

func (r *restClient) getPlayer(ctx context.Context, guildID string) (*playerStateResponse, error) {
	var out playerStateResponse
	path := fmt.Sprintf("/v4/sessions/{sid}/players/%s", guildID)
	if err := r.request(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// patchPlayer serializes on guildID per spec.md §5.
func (r *restClient) patchPlayer(ctx context.Context, guildID string, body playerPatchBody, noReplace bool) (*playerStateResponse, error) {
	lock := r.lockForGuild(guildID)
	lock.Lock()
	defer lock.Unlock()

	q := url.Values{"noReplace": []string{strconv.FormatBool(noReplace)}}
	path := fmt.Sprintf("/v4/sessions/{sid}/players/%s", guildID)
	var out playerStateResponse
	if err := r.request(ctx, http.MethodPatch, path, q, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *restClient) deletePlayer(ctx context.Context, guildID string) error {
	lock := r.lockForGuild(guildID)
	lock.Lock()
	defer lock.Unlock()

	path := fmt.Sprintf("/v4/sessions/{sid}/players/%s", guildID)
	return r.request(ctx, http.MethodDelete, path, nil, nil, nil)
}
