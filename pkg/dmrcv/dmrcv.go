// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package dmrcv

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

const (
	// PluginName is the name the plugin is registered and configured under.
	PluginName = "dm-rcv-basic"
	// PluginDescription is shown in the host's help output.
	PluginDescription = "Forward direct messages to Matrix room for visibility"

	previewLength = 50
)

// Registration lets the host build the plugin from its config section.
var Registration = plugin.Registration{
	Name:          PluginName,
	ExampleConfig: ExampleConfig,
	Upgrader:      ConfigUpgrader,
	New:           NewFromYAML,
}

// Plugin forwards mesh direct messages to a Matrix room.
type Plugin struct {
	room       string
	showPrefix bool

	classifier plugin.DirectMessageClassifier
	sender     plugin.MatrixSender
	directory  plugin.LongNameDirectory
	log        zerolog.Logger
}

var _ plugin.Plugin = (*Plugin)(nil)

// New validates cfg and builds the plugin. A config without dm_room is
// rejected with ErrMissingDMRoom.
func New(cfg Config, host plugin.Host) (*Plugin, error) {
	log := host.Log
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("dm-rcv-basic plugin requires 'dm_room' configuration")
		return nil, fmt.Errorf("%s: %w", PluginName, err)
	}
	if host.Classifier == nil || host.Sender == nil {
		return nil, fmt.Errorf("%s: host is missing classifier or sender", PluginName)
	}
	p := &Plugin{
		room:       cfg.DMRoom,
		showPrefix: cfg.ShowPrefix(),
		classifier: host.Classifier,
		sender:     host.Sender,
		directory:  host.Directory,
		log:        log,
	}
	log.Info().
		Str("dm_room", p.room).
		Bool("dm_prefix", p.showPrefix).
		Msg("Direct message plugin initialized")
	return p, nil
}

// NewFromYAML decodes a plugin config section and calls New.
func NewFromYAML(node *yaml.Node, host plugin.Host) (plugin.Plugin, error) {
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to decode config: %w", PluginName, err)
	}
	return New(cfg, host)
}

func (p *Plugin) Name() string {
	return PluginName
}

func (p *Plugin) Description() string {
	return PluginDescription
}

// Room returns the configured destination room.
func (p *Plugin) Room() string {
	return p.room
}

// HandleMeshtasticMessage forwards direct text messages to the configured
// room. It declines packets that are not DMs or carry no text, and claims
// every other DM even when forwarding fails.
func (p *Plugin) HandleMeshtasticMessage(ctx context.Context, pkt *mesh.Packet, _, longName, _ string) bool {
	if !p.classifier.IsDirectMessage(pkt) {
		return false
	}

	text, ok := pkt.Text()
	if !ok {
		p.log.Debug().Msg("Received non-text DM packet, ignoring")
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.log.Debug().Msg("Received empty DM, ignoring")
		return false
	}

	senderID := pkt.SenderID()
	senderName := p.resolveSenderName(ctx, senderID, longName)

	p.log.Info().
		Str("sender", senderName).
		Str("sender_id", senderID).
		Str("preview", preview(text)).
		Msg("Received DM")

	p.forward(ctx, senderName, senderID, text)
	return true
}

// resolveSenderName prefers the host-supplied long name, then the
// directory, then the raw sender ID.
func (p *Plugin) resolveSenderName(ctx context.Context, senderID, longName string) string {
	if longName != "" {
		return longName
	}
	if p.directory != nil && senderID != "" {
		if name, ok := p.directory.LongName(ctx, senderID); ok && name != "" {
			return name
		}
	}
	return senderID
}

// HandleRoomMessage never consumes room messages; the plugin has no
// Matrix-side commands.
func (p *Plugin) HandleRoomMessage(_ context.Context, _ id.RoomID, _ *event.Event, _ string) bool {
	return false
}

func (p *Plugin) MatrixCommands() []string {
	return []string{}
}

// preview truncates text for log output.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
