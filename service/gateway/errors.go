// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"errors"
	"net"
	"strings"
)

// ErrorCode is the machine stable code attached to every rejected operation.
type ErrorCode string

const (
	ErrorCodeRoomPasswordRequired ErrorCode = "ROOM_PASSWORD_REQUIRED"
	ErrorCodeInvalidRoomPassword  ErrorCode = "INVALID_ROOM_PASSWORD"
	ErrorCodeUsernameTaken        ErrorCode = "USERNAME_TAKEN"
	ErrorCodeMediaRoom            ErrorCode = "MEDIA_ROOM_ERROR"
	ErrorCodeJoin                 ErrorCode = "JOIN_ERROR"
	ErrorCodeRouter               ErrorCode = "ROUTER_ERROR"
	ErrorCodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	ErrorCodePeerNotFound         ErrorCode = "PEER_NOT_FOUND"
	ErrorCodeTransport            ErrorCode = "TRANSPORT_ERROR"
	ErrorCodeProduce              ErrorCode = "PRODUCE_ERROR"
	ErrorCodeConsume              ErrorCode = "CONSUME_ERROR"
	ErrorCodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// Backend service names used in serviceUnavailable notifications.
const (
	ServiceRoomRegistry = "roomRegistry"
	ServiceMedia        = "media"
)

// unavailability signatures commonly found in transport level errors.
var unavailableSignatures = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"service unavailable",
	"unreachable",
}

// isUnavailableErr reports whether the given error looks like the remote
// service being unreachable, as opposed to the service rejecting the request.
func isUnavailableErr(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range unavailableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
