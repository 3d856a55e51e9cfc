// Package lavago is a client for federating one or more Lavalink v4 audio
// servers on behalf of a Discord bot. A Manager owns a set of Nodes (one
// WebSocket+REST session per audio server) and a set of Players (one
// per guild), placing each new Player on whichever READY Node currently
// has the lowest penalty, sending that Player's playback commands to the
// Node it is bound to, and migrating the Player to another Node if its
// Node drops.
//
// A typical program constructs one Manager, adds one or more Nodes with
// AddNode, wires Discord voice events with WireDiscord (or calls
// HandleVoiceStateUpdate/HandleVoiceServerUpdate manually from another
// gateway client), then drives playback per guild through CreatePlayer,
// Connect, LoadTracks, and the Player returned by GetPlayer.
package lavago
