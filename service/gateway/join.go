// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// handleJoin admits a connection into a room. The flow is a single pass
// through lock check, room resolution, conflict check, the reconnect or new
// participant path, capability handoff and, for new participants, stream
// backfill.
func (g *Gateway) handleJoin(ctx context.Context, connID string, cm *ClientMessage) {
	var data JoinData
	if err := cm.DecodeData(&data); err != nil {
		g.metrics.IncJoins("invalid")
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode join data")
		return
	}
	if data.RoomID == "" || data.PeerID == "" {
		g.metrics.IncJoins("invalid")
		g.sendError(connID, ErrorCodeInvalidPayload, "roomId and peerId are required")
		return
	}

	if !g.checkRoomLock(ctx, connID, &data) {
		return
	}

	room, ok := g.resolveRoom(ctx, connID, &data)
	if !ok {
		return
	}

	// A participant rejoining under its own prior identity must not block
	// itself from becoming creator.
	isCreator := true
	for _, p := range room.Participants {
		if p.PeerID != data.PeerID {
			isCreator = false
			break
		}
	}

	existing := room.Participant(data.PeerID)
	reconnect := false
	if existing != nil {
		if boundConn, ok := g.registry.ConnOf(existing.PeerID); ok && boundConn != connID {
			// The identity is held by a different, currently bound
			// participant.
			g.metrics.IncJoins("username_taken")
			g.sendError(connID, ErrorCodeUsernameTaken, "username is already taken")
			return
		}
		reconnect = true
	}

	var participant *Participant
	if reconnect {
		participant = existing
		participant.ConnID = connID
		participant.RoomID = room.ID
		if data.UserInfo != nil {
			participant.UserInfo = data.UserInfo
		}
		// A sole rejoiner becomes creator even when its prior record says
		// otherwise.
		if isCreator {
			participant.IsCreator = true
		}
	} else {
		participant = &Participant{
			PeerID:    data.PeerID,
			ConnID:    connID,
			RoomID:    room.ID,
			IsCreator: isCreator,
			JoinedAt:  time.Now().UnixMilli(),
			UserInfo:  data.UserInfo,
		}
	}

	if err := g.rooms.SetParticipant(ctx, room.ID, participant); err != nil {
		g.log.Error("gateway: failed to set participant",
			mlog.Err(err), mlog.String("roomID", room.ID), mlog.String("peerID", data.PeerID))
		g.notifyUnavailable(connID, ServiceRoomRegistry, err)
		g.metrics.IncJoins("error")
		g.sendError(connID, ErrorCodeJoin, "failed to join room")
		return
	}

	g.registry.Bind(connID, participant.PeerID, room.ID, participant)
	g.metrics.IncSessions(room.ID)

	g.send(connID, ClientMessageJoined, &JoinedData{
		RoomID:    room.ID,
		PeerID:    participant.PeerID,
		IsCreator: participant.IsCreator,
	})

	if !reconnect {
		// Only a genuine membership change announces a new peer.
		g.broadcast(room.ID, ClientMessageNewPeer, &NewPeerData{
			PeerID:    participant.PeerID,
			IsCreator: participant.IsCreator,
			UserInfo:  participant.UserInfo,
		}, participant.PeerID)
	}

	// Everyone gets a fresh participant list, a reconnect rebinds the peer's
	// record so the list changed either way.
	g.refreshMembership(ctx, room.ID)

	if !g.handoffCapabilities(ctx, connID, room.ID) {
		g.metrics.IncJoins("router_error")
		return
	}

	if !reconnect {
		g.backfillStreams(ctx, connID, participant.PeerID, room.ID)
	}

	g.metrics.IncJoins("success")
	g.log.Debug("gateway: join completed",
		mlog.String("roomID", room.ID),
		mlog.String("peerID", participant.PeerID),
		mlog.Bool("reconnect", reconnect),
		mlog.Bool("isCreator", participant.IsCreator))
}

// checkRoomLock rejects the attempt when the room is password protected and
// the supplied password is missing or wrong. No further join state is entered
// after a rejection.
func (g *Gateway) checkRoomLock(ctx context.Context, connID string, data *JoinData) bool {
	locked, err := g.rooms.IsRoomLocked(ctx, data.RoomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The room does not exist yet, it cannot be locked.
			return true
		}
		g.log.Error("gateway: failed to check room lock", mlog.Err(err), mlog.String("roomID", data.RoomID))
		g.notifyUnavailable(connID, ServiceRoomRegistry, err)
		g.metrics.IncJoins("error")
		g.sendError(connID, ErrorCodeJoin, "failed to check room lock")
		return false
	}
	if !locked {
		return true
	}

	if data.Password == "" {
		g.metrics.IncJoins("password_required")
		g.sendError(connID, ErrorCodeRoomPasswordRequired, "room requires a password")
		return false
	}

	valid, err := g.rooms.VerifyRoomPassword(ctx, data.RoomID, data.Password)
	if err != nil {
		g.log.Error("gateway: failed to verify room password", mlog.Err(err), mlog.String("roomID", data.RoomID))
		g.notifyUnavailable(connID, ServiceRoomRegistry, err)
		g.metrics.IncJoins("error")
		g.sendError(connID, ErrorCodeJoin, "failed to verify room password")
		return false
	}
	if !valid {
		g.metrics.IncJoins("invalid_password")
		g.sendError(connID, ErrorCodeInvalidRoomPassword, "invalid room password")
		return false
	}

	return true
}

// resolveRoom fetches the room, creating it lazily together with its backend
// media room on first join.
func (g *Gateway) resolveRoom(ctx context.Context, connID string, data *JoinData) (*Room, bool) {
	room, err := g.rooms.GetRoom(ctx, data.RoomID)
	if err == nil {
		return room, true
	}
	if !errors.Is(err, ErrNotFound) {
		g.log.Error("gateway: failed to get room", mlog.Err(err), mlog.String("roomID", data.RoomID))
		g.notifyUnavailable(connID, ServiceRoomRegistry, err)
		g.metrics.IncJoins("error")
		g.sendError(connID, ErrorCodeJoin, "failed to get room")
		return nil, false
	}

	room, err = g.rooms.CreateRoom(ctx, data.RoomID, data.Password)
	if err != nil {
		g.log.Error("gateway: failed to create room", mlog.Err(err), mlog.String("roomID", data.RoomID))
		g.notifyUnavailable(connID, ServiceRoomRegistry, err)
		g.metrics.IncJoins("error")
		g.sendError(connID, ErrorCodeJoin, "failed to create room")
		return nil, false
	}

	if err := g.media.CreateMediaRoom(ctx, data.RoomID); err != nil {
		g.log.Error("gateway: failed to provision media room", mlog.Err(err), mlog.String("roomID", data.RoomID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.metrics.IncJoins("media_room_error")
		g.sendError(connID, ErrorCodeMediaRoom, "failed to provision media room")
		return nil, false
	}

	return room, true
}

// handoffCapabilities fetches and returns the router capabilities to the
// joining connection. Failure here is terminal for the join: negotiation
// cannot proceed without capabilities.
func (g *Gateway) handoffCapabilities(ctx context.Context, connID, roomID string) bool {
	caps, err := g.media.GetRouterCapabilities(ctx, roomID)
	if err != nil {
		g.log.Error("gateway: failed to get router capabilities", mlog.Err(err), mlog.String("roomID", roomID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeRouter, "failed to get router capabilities")
		return false
	}

	g.send(connID, ClientMessageRouterCapabilities, &RouterCapabilitiesData{
		RoomID:          roomID,
		RTPCapabilities: caps,
	})
	return true
}

// backfillStreams replays the room's current streams to the joiner, both as a
// bulk list and as individual streamAdded notifications, so its local state
// converges without racing live produce events.
func (g *Gateway) backfillStreams(ctx context.Context, connID, peerID, roomID string) {
	streams, err := g.media.GetStreams(ctx, roomID)
	if err != nil {
		g.log.Error("gateway: failed to get streams for backfill", mlog.Err(err), mlog.String("roomID", roomID))
		return
	}

	var replay []*Stream
	for _, s := range streams {
		if s.PeerID == peerID {
			continue
		}
		if err := normalizeStream(s); err != nil {
			g.log.Debug("gateway: skipping malformed stream", mlog.Err(err), mlog.String("roomID", roomID))
			continue
		}
		replay = append(replay, s)
	}

	g.send(connID, ClientMessageStreams, &StreamsData{Streams: replay})
	for _, s := range replay {
		g.send(connID, ClientMessageStreamAdded, &StreamAddedData{Stream: *s})
	}
}

// refreshMembership re-reads the room and broadcasts the full participant
// list to everyone in it.
func (g *Gateway) refreshMembership(ctx context.Context, roomID string) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		g.log.Error("gateway: failed to refresh membership", mlog.Err(err), mlog.String("roomID", roomID))
		return
	}
	g.broadcast(roomID, ClientMessageUsersUpdated, &UsersUpdatedData{Participants: room.Participants})
}

// delayedMembershipRefresh applies the configured delay before re-reading the
// membership, to sequence the read after the registry's own propagation. This
// is a soft consistency workaround, not a guarantee.
func (g *Gateway) delayedMembershipRefresh(ctx context.Context, roomID string) {
	if g.cfg.MembershipRefreshDelay > 0 {
		time.Sleep(g.cfg.MembershipRefreshDelay)
	}
	g.refreshMembership(ctx, roomID)
}
