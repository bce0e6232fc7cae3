// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// handleLeave processes an explicit leave request. It runs the same
// reconciliation as a transport level disconnect but keeps the connection's
// registry mapping only until the departure completes.
func (g *Gateway) handleLeave(ctx context.Context, connID string, cm *ClientMessage) {
	var data LeaveData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode leave data")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	g.reconcileDeparture(ctx, connID, peerID, roomID)
	g.unbind(connID)
}

// handleDisconnect reconciles a lost connection. Identity resolution is
// layered: local registry lookup first, then the room registry service, then
// a scan of every known room's participant list. If no tier
// resolves an identity the disconnect is a silent no-op beyond mapping
// cleanup, since the connection may never have completed a join.
func (g *Gateway) handleDisconnect(ctx context.Context, connID string) {
	// The mapping must go away regardless of how reconciliation ends, a
	// connection never leaks a stale mapping.
	defer g.unbind(connID)

	peerID, roomID, ok := g.resolveDeparting(ctx, connID)
	if !ok {
		g.log.Debug("gateway: disconnect with no resolvable identity", mlog.String("connID", connID))
		return
	}

	g.reconcileDeparture(ctx, connID, peerID, roomID)
}

func (g *Gateway) unbind(connID string) {
	if _, roomID, ok := g.registry.Unbind(connID); ok {
		g.metrics.DecSessions(roomID)
	}
}

// resolveDeparting works out who was behind a lost connection.
func (g *Gateway) resolveDeparting(ctx context.Context, connID string) (string, string, bool) {
	peerID, okPeer := g.registry.PeerOf(connID)
	roomID, okRoom := g.registry.RoomOf(connID)
	if okPeer && okRoom {
		return peerID, roomID, true
	}

	p, err := g.rooms.FindParticipantByConnection(ctx, connID)
	if err == nil && p != nil && p.PeerID != "" && p.RoomID != "" {
		return p.PeerID, p.RoomID, true
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		g.log.Warn("gateway: failed to find participant by connection",
			mlog.Err(err), mlog.String("connID", connID))
	}

	return g.scanRoomsForConn(ctx, connID)
}

// scanRoomsForConn is the last resort tier: every room the gateway knows
// about is searched for a participant record referencing the connection,
// either exactly, through the pending connection naming convention, or as a
// substring of a legacy placeholder identifier.
func (g *Gateway) scanRoomsForConn(ctx context.Context, connID string) (string, string, bool) {
	for _, roomID := range g.registry.Rooms() {
		room, err := g.rooms.GetRoom(ctx, roomID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				g.log.Warn("gateway: failed to get room during disconnect scan",
					mlog.Err(err), mlog.String("roomID", roomID))
			}
			continue
		}
		for _, p := range room.Participants {
			if p.ConnID == "" {
				continue
			}
			if p.ConnID == connID ||
				p.ConnID == PendingConnPrefix+connID ||
				strings.Contains(p.ConnID, connID) {
				return p.PeerID, room.ID, true
			}
		}
	}
	return "", "", false
}

// reconcileDeparture unwinds a participant's media resources, processes the
// departure with the room registry, broadcasts the resulting membership
// events and cleans up dependent translation relays.
func (g *Gateway) reconcileDeparture(ctx context.Context, connID, peerID, roomID string) {
	g.log.Debug("gateway: reconciling departure",
		mlog.String("connID", connID), mlog.String("peerID", peerID), mlog.String("roomID", roomID))

	removed, err := g.media.RemoveParticipantMedia(ctx, roomID, peerID)
	if err != nil {
		g.log.Error("gateway: failed to remove participant media",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
	}
	for _, streamID := range removed {
		g.broadcast(roomID, ClientMessageStreamRemoved, &StreamRemovedData{
			PeerID:   peerID,
			StreamID: streamID,
		}, peerID)
	}

	res, err := g.rooms.LeaveRoom(ctx, roomID, peerID)
	if err != nil {
		g.log.Error("gateway: failed to process departure",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
	} else {
		g.broadcast(roomID, ClientMessagePeerLeft, &PeerLeftData{PeerID: peerID}, peerID)
		g.broadcast(roomID, ClientMessageUserRemoved, &PeerLeftData{PeerID: peerID}, peerID)
		if res != nil && res.NewCreatorID != "" {
			g.broadcast(roomID, ClientMessageCreatorChanged, &CreatorChangedData{PeerID: res.NewCreatorID}, peerID)
		}
	}

	g.delayedMembershipRefresh(ctx, roomID)

	g.cleanupRelays(ctx, roomID, peerID)
}
