// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

// matrixAPI is the subset of *mautrix.Client used for sending. Tests can
// substitute a fake.
type matrixAPI interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (*mautrix.RespAliasResolve, error)
}

// MatrixSender implements plugin.MatrixSender on top of a mautrix client.
// Aliases are resolved once and cached.
type MatrixSender struct {
	api     matrixAPI
	metrics *Metrics
	log     zerolog.Logger

	aliasMu sync.RWMutex
	aliases map[id.RoomAlias]id.RoomID
}

var _ plugin.MatrixSender = (*MatrixSender)(nil)

// NewMatrixSender wraps a Matrix client. metrics may be nil.
func NewMatrixSender(api matrixAPI, metrics *Metrics, log zerolog.Logger) *MatrixSender {
	return &MatrixSender{
		api:     api,
		metrics: metrics,
		log:     log.With().Str("component", "matrix_sender").Logger(),
		aliases: make(map[id.RoomAlias]id.RoomID),
	}
}

// SendMatrixMessage posts text as an m.text message to room.
func (s *MatrixSender) SendMatrixMessage(ctx context.Context, room string, text string) error {
	start := time.Now()
	err := s.send(ctx, room, text)
	if s.metrics != nil {
		s.metrics.ObserveSend(plugin.ClassifySendError(err), time.Since(start))
	}
	return err
}

func (s *MatrixSender) send(ctx context.Context, room string, text string) error {
	roomID, err := s.resolveRoom(ctx, room)
	if err != nil {
		return err
	}
	resp, err := s.api.SendText(ctx, roomID, text)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	s.log.Debug().
		Str("room_id", string(roomID)).
		Str("event_id", string(resp.EventID)).
		Msg("Sent message")
	return nil
}

// resolveRoom returns the room ID for a configured room reference.
func (s *MatrixSender) resolveRoom(ctx context.Context, room string) (id.RoomID, error) {
	target, err := ParseRoomTarget(room)
	if err != nil {
		return "", fmt.Errorf("%w: %w", plugin.ErrRoomNotFound, err)
	}
	if !target.IsAlias() {
		return target.RoomID, nil
	}

	s.aliasMu.RLock()
	roomID, ok := s.aliases[target.Alias]
	s.aliasMu.RUnlock()
	if ok {
		return roomID, nil
	}

	resp, err := s.api.ResolveAlias(ctx, target.Alias)
	if err != nil {
		return "", fmt.Errorf("failed to resolve room alias %s: %w", target.Alias, err)
	}
	if resp == nil || resp.RoomID == "" {
		return "", fmt.Errorf("room alias %s: %w", target.Alias, plugin.ErrRoomNotFound)
	}

	s.aliasMu.Lock()
	s.aliases[target.Alias] = resp.RoomID
	s.aliasMu.Unlock()

	s.log.Info().
		Str("alias", string(target.Alias)).
		Str("room_id", string(resp.RoomID)).
		Msg("Resolved room alias")
	return resp.RoomID, nil
}

// CachedAliasCount returns the number of cached alias resolutions.
func (s *MatrixSender) CachedAliasCount() int {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	return len(s.aliases)
}

// isAuthError reports whether err means the access token was rejected.
func isAuthError(err error) bool {
	return errors.Is(err, mautrix.MUnknownToken)
}
