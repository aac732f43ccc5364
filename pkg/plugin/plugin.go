// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package plugin defines the contract between the relay host and its
// plugins.
//
// A plugin receives its collaborators as a [Host] value instead of
// inheriting them from a base type. The host offers every decoded mesh
// packet to [Plugin.HandleMeshtasticMessage] and every Matrix room message
// to [Plugin.HandleRoomMessage]; a plugin returning true consumes the
// message and later plugins are not consulted.
package plugin

import (
	"context"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
)

// Plugin is implemented by every relay plugin.
type Plugin interface {
	Name() string
	Description() string

	// HandleMeshtasticMessage is called for each decoded mesh packet.
	// longName is the sender display name if the host already knows it.
	HandleMeshtasticMessage(ctx context.Context, pkt *mesh.Packet, formattedMessage, longName, meshnetName string) bool
	// HandleRoomMessage is called for each message in a bridged room.
	HandleRoomMessage(ctx context.Context, roomID id.RoomID, evt *event.Event, fullMessage string) bool
	// MatrixCommands lists the !commands the plugin answers to.
	MatrixCommands() []string
}

// Registration describes how the host builds a plugin from its section in
// the community-plugins config block. The section is upgraded onto
// ExampleConfig with Upgrader before New is called.
type Registration struct {
	Name          string
	ExampleConfig string
	Upgrader      up.Upgrader
	New           func(cfg *yaml.Node, host Host) (Plugin, error)
}

// DirectMessageClassifier decides whether a packet was addressed to the
// relay node.
type DirectMessageClassifier interface {
	IsDirectMessage(pkt *mesh.Packet) bool
}

// MatrixSender delivers plain text to a Matrix room. room may be a room ID
// or an alias.
type MatrixSender interface {
	SendMatrixMessage(ctx context.Context, room string, text string) error
}

// LongNameDirectory resolves mesh sender IDs to their long names.
type LongNameDirectory interface {
	LongName(ctx context.Context, senderID string) (string, bool)
}

// Host is the capability set a plugin is constructed with.
type Host struct {
	Classifier DirectMessageClassifier
	Sender     MatrixSender
	Directory  LongNameDirectory
	Log        zerolog.Logger
}
