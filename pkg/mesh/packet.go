// Copyright 2024-2026 Aiku AI

// Package mesh holds the Meshtastic packet model handed to relay plugins.
package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeNum is the numeric address of a mesh node.
type NodeNum uint32

// BroadcastNum is the destination used for channel-wide (non-DM) traffic.
const BroadcastNum NodeNum = 0xffffffff

// String formats the node number as a Meshtastic user ID (e.g. "!abcd1234").
func (n NodeNum) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeID parses a node identifier in "!abcd1234", "0xabcd1234" or
// decimal form.
func ParseNodeID(s string) (NodeNum, error) {
	s = strings.TrimSpace(s)
	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "!"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeNum(v), nil
}

// Decoded is the decoded payload of a packet. Text is nil for non-text
// port numbers (position, telemetry, ...). User is set on node info
// packets.
type Decoded struct {
	PortNum string  `json:"portnum,omitempty"`
	Text    *string `json:"text,omitempty"`
	User    *User   `json:"user,omitempty"`
	Payload []byte  `json:"payload,omitempty"`
}

// User is the identity a node announces about itself.
type User struct {
	ID        string `json:"id"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

// Packet is a single decoded mesh packet as delivered by the host. Field
// names follow the keys produced by the Meshtastic client libraries.
type Packet struct {
	ID      uint32   `json:"id,omitempty"`
	From    NodeNum  `json:"from"`
	FromID  string   `json:"fromId,omitempty"`
	To      NodeNum  `json:"to"`
	ToID    string   `json:"toId,omitempty"`
	Channel int      `json:"channel,omitempty"`
	Decoded *Decoded `json:"decoded,omitempty"`
}

// Text returns the decoded text payload and whether the packet carries one.
func (p *Packet) Text() (string, bool) {
	if p == nil || p.Decoded == nil || p.Decoded.Text == nil {
		return "", false
	}
	return *p.Decoded.Text, true
}

// SenderID returns the sender's user ID, deriving it from From when the
// host did not fill in FromID. An unknown sender comes out as "!00000000".
func (p *Packet) SenderID() string {
	if p.FromID != "" {
		return p.FromID
	}
	return p.From.String()
}

// NewTextPacket builds a text packet from one node to another.
func NewTextPacket(from, to NodeNum, text string) *Packet {
	return &Packet{
		From:   from,
		FromID: from.String(),
		To:     to,
		ToID:   to.String(),
		Decoded: &Decoded{
			PortNum: PortNumText,
			Text:    &text,
		},
	}
}

// Port number names as reported in Decoded.PortNum.
const (
	PortNumText     = "TEXT_MESSAGE_APP"
	PortNumNodeInfo = "NODEINFO_APP"
)
