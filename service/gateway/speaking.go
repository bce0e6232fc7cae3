// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// handleSpeaking reacts to a voice activity start signal. The speaker's
// qualifying streams are pushed onto every other participant with a priority
// marker so their clients subscribe regardless of their normal subscription
// policy. The raw speaking notification is broadcast in any case.
func (g *Gateway) handleSpeaking(ctx context.Context, connID string, cm *ClientMessage) {
	peerID, roomID, ok := g.decodeSpeaking(connID, cm)
	if !ok {
		return
	}

	g.propagatePriority(ctx, roomID, peerID)

	g.broadcast(roomID, ClientMessageUserSpeaking, &SpeakingData{
		RoomID: roomID,
		PeerID: peerID,
	}, peerID)
}

// handleStoppedSpeaking only broadcasts the stop notification. It does not
// reverse forced subscriptions, bandwidth reclamation is the media layer's
// call.
func (g *Gateway) handleStoppedSpeaking(_ context.Context, connID string, cm *ClientMessage) {
	peerID, roomID, ok := g.decodeSpeaking(connID, cm)
	if !ok {
		return
	}

	g.broadcast(roomID, ClientMessageUserStopSpeaking, &SpeakingData{
		RoomID: roomID,
		PeerID: peerID,
	}, peerID)
}

func (g *Gateway) decodeSpeaking(connID string, cm *ClientMessage) (string, string, bool) {
	var data SpeakingData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode speaking data")
		return "", "", false
	}
	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return "", "", false
	}
	return peerID, roomID, true
}

// propagatePriority forces the speaker's qualifying streams onto the other
// participants. The media service's explicit acknowledgment is a
// precondition: without it the propagation is aborted, leaving only the raw
// speaking broadcast to the caller.
func (g *Gateway) propagatePriority(ctx context.Context, roomID, peerID string) {
	ack, err := g.media.HandleSpeaking(ctx, roomID, peerID, true)
	if err != nil {
		g.log.Error("gateway: failed to notify media service of speaking event",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
		return
	}
	if !ack {
		g.log.Debug("gateway: speaking event not acknowledged, skipping propagation",
			mlog.String("roomID", roomID), mlog.String("peerID", peerID))
		return
	}

	streams, err := g.media.GetStreams(ctx, roomID)
	if err != nil {
		g.log.Error("gateway: failed to get streams for speaking propagation",
			mlog.Err(err), mlog.String("roomID", roomID))
		return
	}

	var qualifying []*Stream
	for _, s := range streams {
		if s.PeerID != peerID {
			continue
		}
		if err := normalizeStream(s); err != nil {
			g.log.Debug("gateway: skipping stream with invalid id",
				mlog.Err(err), mlog.String("roomID", roomID))
			continue
		}
		if s.Kind != StreamKindAudio && s.Kind != StreamKindVideo {
			continue
		}
		if s.IsScreen() {
			continue
		}
		qualifying = append(qualifying, s)
	}
	if len(qualifying) == 0 {
		return
	}

	// Delivery to a participant that vanished between resolution and send
	// fails silently. Subscribing twice is a no-op on the client side so
	// repeats are harmless.
	for _, targetConn := range g.registry.ConnsInRoom(roomID, peerID) {
		for _, s := range qualifying {
			g.send(targetConn, ClientMessageStreamAdded, &StreamAddedData{
				Stream:   *s,
				Priority: true,
			})
		}
	}
}
