package lavago

import "encoding/json"

// Wire types for the Node <-> audio server WebSocket and REST contract
// described in spec.md §6. Field names/casing match the Lavalink v4
// protocol; grounded on the teacher's op-discriminated struct style
// (payloads.go) and on PancyBotGo's v4 SearchResult shape.

// Inbound WS opcodes.
const (
	opReady        = "ready"
	opStats        = "stats"
	opPlayerUpdate = "playerUpdate"
	opEvent        = "event"
)

// Event `type` values carried by an `event` frame.
const (
	eventTrackStart      = "TrackStartEvent"
	eventTrackEnd        = "TrackEndEvent"
	eventTrackException  = "TrackExceptionEvent"
	eventTrackStuck      = "TrackStuckEvent"
	eventWebSocketClosed = "WebSocketClosedEvent"
)

// TrackEndReason values carried by a TrackEndEvent.
const (
	ReasonFinished = "finished"
	ReasonLoadFailed = "loadFailed"
	ReasonStopped  = "stopped"
	ReasonReplaced = "replaced"
	ReasonCleanup  = "cleanup"
)

// wireFrame is decoded first to discriminate on `op` before unmarshaling
// the rest of the frame into its specific shape.
type wireFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
}

type readyFrame struct {
	Op       string `json:"op"`
	Resumed  bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

type statsFrame struct {
	Op             string `json:"op"`
	Players        int    `json:"players"`
	PlayingPlayers int    `json:"playingPlayers"`
	Uptime         int64  `json:"uptime"`
	CPU            struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`
	Memory struct {
		Free       int64 `json:"free"`
		Used       int64 `json:"used"`
		Allocated  int64 `json:"allocated"`
		Reservable int64 `json:"reservable"`
	} `json:"memory"`
	FrameStats *struct {
		Sent   int `json:"sent"`
		Nulled int `json:"nulled"`
		Deficit int `json:"deficit"`
	} `json:"frameStats,omitempty"`
}

type playerUpdateFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	State   struct {
		Time       int64 `json:"time"`
		PositionMs int64 `json:"position"`
		Connected  bool  `json:"connected"`
		Ping       int64 `json:"ping"`
	} `json:"state"`
}

type eventFrame struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId"`
	Type    string `json:"type"`

	// TrackStartEvent / TrackEndEvent / TrackExceptionEvent / TrackStuckEvent
	EncodedTrack string `json:"encodedTrack"`

	// TrackEndEvent
	Reason string `json:"reason"`

	// TrackExceptionEvent
	Exception *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception,omitempty"`

	// TrackStuckEvent
	ThresholdMs int64 `json:"thresholdMs"`

	// WebSocketClosedEvent. Reuses Reason above: both TrackEndEvent and
	// WebSocketClosedEvent carry their explanation under the wire key
	// "reason", just with different meanings depending on Type.
	Code     int  `json:"code"`
	ByRemote bool `json:"byRemote"`
}

// restVoice is the `voice` object inside a player PATCH body.
type restVoice struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// playerPatchBody is the PATCH body for
// /v4/sessions/{sid}/players/{guildId}. Pointer fields are omitted from
// the wire payload when nil so a partial update (e.g. volume only) does
// not clobber unrelated player state.
type playerPatchBody struct {
	EncodedTrack *string                `json:"encodedTrack,omitempty"`
	Identifier   *string                `json:"identifier,omitempty"`
	Position     *int64                 `json:"position,omitempty"`
	EndTime      *int64                 `json:"endTime,omitempty"`
	Volume       *int                   `json:"volume,omitempty"`
	Paused       *bool                  `json:"paused,omitempty"`
	Filters      map[string]interface{} `json:"filters,omitempty"`
	Voice        *restVoice             `json:"voice,omitempty"`
}

// sessionPatchBody is the PATCH body for /v4/sessions/{sid}.
type sessionPatchBody struct {
	Resuming *bool `json:"resuming,omitempty"`
	Timeout  *int  `json:"timeout,omitempty"`
}

// playerStateResponse is the GET/PATCH response body for a player.
type playerStateResponse struct {
	GuildID string `json:"guildId"`
	Track   *struct {
		Encoded string    `json:"encoded"`
		Info    TrackInfo `json:"info"`
	} `json:"track"`
	Volume int  `json:"volume"`
	Paused bool `json:"paused"`
	Voice  struct {
		Token     string `json:"token"`
		Endpoint  string `json:"endpoint"`
		SessionID string `json:"sessionId"`
	} `json:"voice"`
}

// loadTracksResponse is the v4 /v4/loadtracks response: `data` is
// polymorphic depending on loadType (track, playlist, search, empty,
// error) so it is kept as a RawMessage and decoded by the caller.
type loadTracksResponse struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// LoadResult is the Manager.LoadTracks return value: the server's
// loadType plus its raw data, passed through verbatim per spec.md §4.5.
type LoadResult struct {
	LoadType string
	Data     json.RawMessage
}

// loadException is the shape of `data` when LoadType == "error".
type loadException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// playlistData is the shape of `data` when LoadType == "playlist".
type playlistData struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []Track         `json:"tracks"`
}

type rawTrack struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}
