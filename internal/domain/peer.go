// Package domain holds the peer and admission types shared by the transport, the
// admission controller and the API.
package domain

import "time"

// Direction records who opened a connection.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// Peer represents a currently connected node.
type Peer struct {
	PeerID      string    `json:"peer_id"`
	RemoteAddr  string    `json:"remote_addr"`
	IP          string    `json:"ip,omitempty"`
	Direction   Direction `json:"direction"`
	ConnectedAt time.Time `json:"connected_at"`
	Streams     int       `json:"streams"`

	// LastActive is the last time the connection was seen carrying
	// streams. Zero means never, and idle time counts from ConnectedAt.
	LastActive time.Time `json:"last_active,omitempty"`
}

// IsInbound reports whether the remote side dialed us.
func (p *Peer) IsInbound() bool {
	return p.Direction == DirectionInbound
}

// IdleFor returns how long the connection has been without streams, or zero
// when it carries streams.
func (p *Peer) IdleFor(now time.Time) time.Duration {
	if p.Streams > 0 {
		return 0
	}
	since := p.LastActive
	if since.IsZero() {
		since = p.ConnectedAt
	}
	return now.Sub(since)
}
