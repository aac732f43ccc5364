// Copyright 2024-2026 Aiku AI

package dmrcv

import (
	"context"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

const dmPrefix = "[DM] "

// ForwardResult is the outcome of a single forward attempt.
type ForwardResult struct {
	Room    string
	Message string
	Kind    plugin.SendErrorKind
	Err     error
}

// OK reports whether the message was delivered.
func (r ForwardResult) OK() bool {
	return r.Err == nil
}

// FormatMessage builds the text posted to Matrix for a DM.
func FormatMessage(showPrefix bool, senderName, senderID, text string) string {
	prefix := ""
	if showPrefix {
		prefix = dmPrefix
	}
	return prefix + senderName + " (" + senderID + "): " + text
}

// forward posts the DM to the configured room. Send errors are captured in
// the result and logged, never returned to the host.
func (p *Plugin) forward(ctx context.Context, senderName, senderID, text string) ForwardResult {
	res := ForwardResult{
		Room:    p.room,
		Message: FormatMessage(p.showPrefix, senderName, senderID, text),
	}
	res.Err = p.sender.SendMatrixMessage(ctx, p.room, res.Message)
	res.Kind = plugin.ClassifySendError(res.Err)
	if res.Err != nil {
		p.log.Error().
			Err(res.Err).
			Str("error_kind", string(res.Kind)).
			Str("dm_room", p.room).
			Str("sender_id", senderID).
			Int("message_length", len(res.Message)).
			Msg("Failed to forward DM to Matrix")
		return res
	}
	p.log.Info().Str("dm_room", p.room).Msg("Forwarded DM to Matrix room")
	return res
}
