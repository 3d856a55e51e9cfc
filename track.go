package lavago

import "time"

// TrackInfo is the decoded metadata the audio server returns alongside an
// encoded track. Fields mirror the Lavalink v4 `info` object.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	// LengthMs is the track length in milliseconds. Streams report 0.
	LengthMs   int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	PositionMs int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
	ISRC       string `json:"isrc"`
	SourceName string `json:"sourceName"`
}

// Length returns the track's duration as a time.Duration.
func (i TrackInfo) Length() time.Duration {
	return time.Duration(i.LengthMs) * time.Millisecond
}

// Track is an opaque, server-produced encoded blob plus its decoded info.
// Requester is the only field a caller may attach client-side. The
// owning Player updates Info.PositionMs of its current track in place
// from playerUpdate frames, seeks, and track starts; the other fields
// are left as received.
type Track struct {
	// Encoded is the opaque base64 blob the audio server understands.
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`

	// Requester is an optional client-side annotation (e.g. a user id)
	// never sent to the audio server and never touched by it.
	Requester interface{} `json:"-"`
}

// WithRequester returns a shallow copy of the track annotated with the
// given requester value.
func (t Track) WithRequester(requester interface{}) Track {
	t.Requester = requester
	return t
}
