// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// cleanupRelays tears down translation relays left behind by a departing
// participant. Relays are gathered across the remaining participants and
// deduplicated by (target, source language, target language). A relay whose
// target just departed is destroyed unconditionally. A relay held by the
// departing source is destroyed only when its target is also gone. Everything
// else is left untouched.
func (g *Gateway) cleanupRelays(ctx context.Context, roomID, departedPeerID string) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		g.log.Debug("gateway: skipping relay cleanup, room not available",
			mlog.Err(err), mlog.String("roomID", roomID))
		return
	}

	present := make(map[string]bool, len(room.Participants))
	for _, p := range room.Participants {
		present[p.PeerID] = true
	}

	relays := make(map[string]*Relay)
	for _, p := range room.Participants {
		list, err := g.media.ListRelays(ctx, roomID, p.PeerID)
		if err != nil {
			g.log.Warn("gateway: failed to list relays",
				mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", p.PeerID))
			continue
		}
		for _, r := range list {
			relays[r.Key()] = r
		}
	}
	// The departed participant's own relays may no longer be reachable
	// through the remaining membership, query them directly as well.
	if list, err := g.media.ListRelays(ctx, roomID, departedPeerID); err == nil {
		for _, r := range list {
			relays[r.Key()] = r
		}
	}

	for _, r := range relays {
		destroy := false
		switch {
		case r.TargetUserID == departedPeerID:
			destroy = true
		case r.SourceUserID == departedPeerID:
			destroy = !present[r.TargetUserID]
		}
		if !destroy {
			continue
		}
		if err := g.media.DestroyRelay(ctx, roomID, r); err != nil {
			g.log.Error("gateway: failed to destroy relay",
				mlog.Err(err), mlog.String("roomID", roomID), mlog.String("target", r.TargetUserID))
			continue
		}
		g.log.Debug("gateway: destroyed relay",
			mlog.String("roomID", roomID),
			mlog.String("source", r.SourceUserID),
			mlog.String("target", r.TargetUserID))
	}
}
