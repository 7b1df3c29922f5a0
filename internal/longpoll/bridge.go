package longpoll

import "chatcore/internal/protocol"

// Resolver maps an envelope to the buffer key (SessionId) it should
// land in. The zero value (nil) falls back to DefaultResolver.
type Resolver func(env protocol.Envelope) string

// Forwarder fans an HTTP-originated envelope back out to WebSocket
// clients. It is optional: when nil, Bridge.SendFromHTTP silently
// skips forwarding, matching spec §7's BridgeUnattached-adjacent
// "missing forwarder silently skips" rule.
type Forwarder func(env protocol.Envelope)

// DefaultResolver implements spec §3's buffer-key default:
// "room:<room>" when the envelope names a room, else "broadcast".
func DefaultResolver(env protocol.Envelope) string {
	if env.Room != "" {
		return "room:" + env.Room
	}
	return "broadcast"
}

// Bridge routes successfully parsed WS envelopes into the buffer
// manager and optionally forwards HTTP-originated sends back out to
// WS clients, per spec §4.7. It neither parses nor serializes
// envelopes itself.
type Bridge struct {
	buffers   *Manager
	resolver  Resolver
	forwarder Forwarder
}

// NewBridge constructs a Bridge over an existing buffer Manager. A
// nil resolver falls back to DefaultResolver per spec §7's "missing
// resolver uses a default and continues" rule.
func NewBridge(buffers *Manager, resolver Resolver) *Bridge {
	if resolver == nil {
		resolver = DefaultResolver
	}
	return &Bridge{buffers: buffers, resolver: resolver}
}

// SetForwarder installs the HTTP→WS fan-out hook. Typical wiring
// dispatches to Server.BroadcastRoomJSON or Server.BroadcastJSON
// based on env.Room, performed by the caller (e.g. internal/app),
// which is why Bridge only holds a plain function reference rather
// than depending on realtime.Server directly.
func (b *Bridge) SetForwarder(fn Forwarder) {
	b.forwarder = fn
}

// OnWSMessage implements realtime.Bridge: it is called by the Server
// for every successfully parsed envelope, before the typed handler.
func (b *Bridge) OnWSMessage(env protocol.Envelope) {
	sid := b.resolver(env)
	b.buffers.PushTo(sid, env)
}

// Poll delegates to the buffer manager for an HTTP GET /ws/poll call.
func (b *Bridge) Poll(sid string, max int, createIfMissing bool) []protocol.Envelope {
	return b.buffers.Poll(sid, max, createIfMissing)
}

// SendFromHTTP enqueues env into sid's buffer, then synchronously
// invokes the forwarder if one is installed (spec §4.7, §6 POST
// /ws/send). The session id used for buffering is the one already
// resolved by the caller (HTTP handler), not recomputed here.
func (b *Bridge) SendFromHTTP(sid string, env protocol.Envelope) {
	b.buffers.PushTo(sid, env)
	if b.forwarder != nil {
		b.forwarder(env)
	}
}
