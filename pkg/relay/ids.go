// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"
)

// RoomTarget is a configured room reference: either a room ID or an alias
// that must be resolved before sending.
type RoomTarget struct {
	RoomID id.RoomID
	Alias  id.RoomAlias
}

// IsAlias reports whether the target still needs alias resolution.
func (t RoomTarget) IsAlias() bool {
	return t.Alias != ""
}

func (t RoomTarget) String() string {
	if t.IsAlias() {
		return string(t.Alias)
	}
	return string(t.RoomID)
}

// ParseRoomTarget accepts "!room:server" IDs and "#alias:server" aliases.
func ParseRoomTarget(room string) (RoomTarget, error) {
	room = strings.TrimSpace(room)
	if len(room) < 2 || !strings.Contains(room, ":") {
		return RoomTarget{}, fmt.Errorf("invalid room identifier %q", room)
	}
	switch room[0] {
	case '!':
		return RoomTarget{RoomID: id.RoomID(room)}, nil
	case '#':
		return RoomTarget{Alias: id.RoomAlias(room)}, nil
	default:
		return RoomTarget{}, fmt.Errorf("invalid room identifier %q: must start with '!' or '#'", room)
	}
}
