// Copyright 2024-2026 Aiku AI

package mesh

// DirectClassifier decides whether a packet is a direct message to the relay
// node.
type DirectClassifier struct {
	RelayNode NodeNum
}

// IsDirectMessage reports whether the packet is addressed to the relay node
// itself rather than broadcast on a channel.
func (c DirectClassifier) IsDirectMessage(pkt *Packet) bool {
	if pkt == nil || c.RelayNode == 0 {
		return false
	}
	return pkt.To != BroadcastNum && pkt.To == c.RelayNode
}
