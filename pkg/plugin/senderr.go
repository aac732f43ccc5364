// Copyright 2024-2026 Aiku AI

package plugin

import (
	"context"
	"errors"
	"net"

	"maunium.net/go/mautrix"
)

// SendErrorKind classifies a failed MatrixSender call.
type SendErrorKind string

const (
	SendOK              SendErrorKind = "ok"
	SendErrCancelled    SendErrorKind = "cancelled"
	SendErrNetwork      SendErrorKind = "network"
	SendErrForbidden    SendErrorKind = "forbidden"
	SendErrUnknownRoom  SendErrorKind = "unknown_room"
	SendErrRateLimited  SendErrorKind = "rate_limited"
	SendErrUnauthorized SendErrorKind = "unauthorized"
	SendErrUnknown      SendErrorKind = "unknown"
)

// ErrRoomNotFound is returned by senders that cannot resolve the target room.
var ErrRoomNotFound = errors.New("room not found")

// ClassifySendError maps an error returned by a MatrixSender to its kind.
func ClassifySendError(err error) SendErrorKind {
	var netErr net.Error
	switch {
	case err == nil:
		return SendOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return SendErrCancelled
	case errors.Is(err, mautrix.MForbidden):
		return SendErrForbidden
	case errors.Is(err, mautrix.MNotFound), errors.Is(err, ErrRoomNotFound):
		return SendErrUnknownRoom
	case errors.Is(err, mautrix.MLimitExceeded):
		return SendErrRateLimited
	case errors.Is(err, mautrix.MUnknownToken):
		return SendErrUnauthorized
	case errors.As(err, &netErr):
		return SendErrNetwork
	default:
		return SendErrUnknown
	}
}
