package lavago

// EventListener receives every event named in spec.md §6. A Manager is
// constructed with one; embed NopEventListener to implement only the
// callbacks a caller cares about.
type EventListener interface {
	NodeConnect(n *Node)
	NodeReady(n *Node, resumed bool)
	NodeDisconnect(n *Node, code int, reason string)
	NodeError(n *Node, err error, context string)
	NodeStats(n *Node, health NodeHealth)

	PlayerCreate(p *Player)
	PlayerDestroy(p *Player)
	PlayerMove(p *Player, oldNode, newNode *Node)
	PlayerStateUpdate(p *Player, state PlayerState)
	PlayerWebsocketClosed(p *Player, code int, reason string, byRemote bool)

	TrackStart(p *Player, track Track)
	TrackEnd(p *Player, track Track, reason string)
	TrackException(p *Player, track Track, message, severity, cause string)
	TrackStuck(p *Player, track Track, thresholdMs int64)
	QueueEnd(p *Player)

	Debug(msg string)
}

// NopEventListener implements EventListener with no-op bodies. Embed it
// in a caller-defined listener to override only the callbacks needed.
type NopEventListener struct{}

func (NopEventListener) NodeConnect(n *Node)                                            {}
func (NopEventListener) NodeReady(n *Node, resumed bool)                                 {}
func (NopEventListener) NodeDisconnect(n *Node, code int, reason string)                 {}
func (NopEventListener) NodeError(n *Node, err error, context string)                    {}
func (NopEventListener) NodeStats(n *Node, health NodeHealth)                            {}
func (NopEventListener) PlayerCreate(p *Player)                                          {}
func (NopEventListener) PlayerDestroy(p *Player)                                         {}
func (NopEventListener) PlayerMove(p *Player, oldNode, newNode *Node)                    {}
func (NopEventListener) PlayerStateUpdate(p *Player, state PlayerState)                  {}
func (NopEventListener) PlayerWebsocketClosed(p *Player, code int, reason string, byRemote bool) {}
func (NopEventListener) TrackStart(p *Player, track Track)                               {}
func (NopEventListener) TrackEnd(p *Player, track Track, reason string)                   {}
func (NopEventListener) TrackException(p *Player, track Track, message, severity, cause string) {}
func (NopEventListener) TrackStuck(p *Player, track Track, thresholdMs int64)             {}
func (NopEventListener) QueueEnd(p *Player)                                               {}
func (NopEventListener) Debug(msg string)                                                 {}
