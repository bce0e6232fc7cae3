// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisconnectBoundConnection(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connA", "alice", "roomA")
	th.join(t, "connB", "bob", "roomA")
	th.metrics.sessions = 2

	th.media.removeMedia = func(_ context.Context, roomID, peerID string) ([]string, error) {
		require.Equal(t, "roomA", roomID)
		require.Equal(t, "alice", peerID)
		return []string{"audio_mic_aaaa1111"}, nil
	}
	th.rooms.leaveRoom = func(_ context.Context, _, _ string) (*LeaveResult, error) {
		return &LeaveResult{NewCreatorID: "bob"}, nil
	}
	th.rooms.getRoom = func(_ context.Context, roomID string) (*Room, error) {
		return &Room{ID: roomID, Participants: []*Participant{
			{PeerID: "bob", ConnID: "connB", RoomID: roomID, IsCreator: true},
		}}, nil
	}

	th.gw.HandleClose("connA")

	removed := decodeData[StreamRemovedData](t, th.sender.lastOfType("connB", ClientMessageStreamRemoved))
	require.Equal(t, "audio_mic_aaaa1111", removed.StreamID)
	require.Equal(t, "alice", removed.PeerID)

	left := decodeData[PeerLeftData](t, th.sender.lastOfType("connB", ClientMessagePeerLeft))
	require.Equal(t, "alice", left.PeerID)
	require.NotNil(t, th.sender.lastOfType("connB", ClientMessageUserRemoved))

	changed := decodeData[CreatorChangedData](t, th.sender.lastOfType("connB", ClientMessageCreatorChanged))
	require.Equal(t, "bob", changed.PeerID)

	updated := decodeData[UsersUpdatedData](t, th.sender.lastOfType("connB", ClientMessageUsersUpdated))
	require.Len(t, updated.Participants, 1)
	require.Equal(t, "bob", updated.Participants[0].PeerID)

	// The mapping is gone.
	_, ok := th.gw.registry.PeerOf("connA")
	require.False(t, ok)
	require.Equal(t, 1, th.metrics.sessions)
}

func TestDisconnectRemoteResolution(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	// The departing connection is unknown locally but the registry service
	// can resolve it.
	th.join(t, "connB", "bob", "roomA")

	th.rooms.findByConn = func(_ context.Context, connID string) (*Participant, error) {
		if connID == "connA" {
			return &Participant{PeerID: "alice", ConnID: "connA", RoomID: "roomA"}, nil
		}
		return nil, ErrNotFound
	}

	var leftPeer string
	th.rooms.leaveRoom = func(_ context.Context, _, peerID string) (*LeaveResult, error) {
		leftPeer = peerID
		return &LeaveResult{}, nil
	}

	th.gw.HandleClose("connA")

	require.Equal(t, "alice", leftPeer)
	require.NotNil(t, th.sender.lastOfType("connB", ClientMessagePeerLeft))
}

func TestDisconnectRoomScanResolution(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connB", "bob", "roomA")

	tests := []struct {
		name   string
		connID string
		stored string
	}{
		{"exact match", "conn1", "conn1"},
		{"pending prefix", "conn2", PendingConnPrefix + "conn2"},
		{"substring match", "conn3", "legacy-conn3-placeholder"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			th.sender.reset()
			var leftPeer string
			th.rooms.leaveRoom = func(_ context.Context, _, peerID string) (*LeaveResult, error) {
				leftPeer = peerID
				return &LeaveResult{}, nil
			}
			th.rooms.getRoom = func(_ context.Context, roomID string) (*Room, error) {
				return &Room{ID: roomID, Participants: []*Participant{
					{PeerID: "bob", ConnID: "connB", RoomID: roomID},
					{PeerID: "ghost", ConnID: tc.stored, RoomID: roomID},
				}}, nil
			}

			th.gw.HandleClose(tc.connID)

			require.Equal(t, "ghost", leftPeer)
		})
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connA", "alice", "roomA")
	th.join(t, "connB", "bob", "roomA")
	th.metrics.sessions = 2

	leaveCalls := 0
	th.rooms.leaveRoom = func(_ context.Context, _, peerID string) (*LeaveResult, error) {
		leaveCalls++
		require.Equal(t, "alice", peerID)
		return &LeaveResult{}, nil
	}
	// After the first departure only bob remains in the room.
	th.rooms.getRoom = func(_ context.Context, roomID string) (*Room, error) {
		return &Room{ID: roomID, Participants: []*Participant{
			{PeerID: "bob", ConnID: "connB", RoomID: roomID, IsCreator: true},
		}}, nil
	}

	th.gw.HandleClose("connA")
	th.gw.HandleClose("connA")

	// The second close resolves no identity, so the departure runs once.
	require.Equal(t, 1, leaveCalls)
	require.Len(t, th.sender.byType("connB", ClientMessagePeerLeft), 1)
	require.Len(t, th.sender.byType("connB", ClientMessageUserRemoved), 1)

	_, ok := th.gw.registry.PeerOf("connA")
	require.False(t, ok)
	require.Equal(t, 1, th.metrics.sessions)
}

func TestDisconnectUnresolvable(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connB", "bob", "roomA")

	leaveCalled := false
	th.rooms.leaveRoom = func(_ context.Context, _, _ string) (*LeaveResult, error) {
		leaveCalled = true
		return &LeaveResult{}, nil
	}

	th.gw.HandleClose("connUnknown")

	// A connection that never completed a join disconnects silently.
	require.False(t, leaveCalled)
	require.Empty(t, th.sender.sent("connB"))
}

func TestDisconnectLeaveFailure(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connA", "alice", "roomA")
	th.join(t, "connB", "bob", "roomA")

	th.rooms.leaveRoom = func(_ context.Context, _, _ string) (*LeaveResult, error) {
		return nil, fmt.Errorf("registry down")
	}

	th.gw.HandleClose("connA")

	// No departure events without the registry's confirmation, but the
	// local mapping still goes away.
	require.Empty(t, th.sender.byType("connB", ClientMessagePeerLeft))
	_, ok := th.gw.registry.PeerOf("connA")
	require.False(t, ok)
}

func TestExplicitLeave(t *testing.T) {
	th, teardown := setupTestHelper(t)
	defer teardown()

	th.join(t, "connA", "alice", "roomA")
	th.join(t, "connB", "bob", "roomA")

	var leftPeer string
	th.rooms.leaveRoom = func(_ context.Context, _, peerID string) (*LeaveResult, error) {
		leftPeer = peerID
		return &LeaveResult{}, nil
	}

	th.dispatch(t, "connA", ClientMessageLeave, &LeaveData{})

	require.Equal(t, "alice", leftPeer)
	require.NotNil(t, th.sender.lastOfType("connB", ClientMessagePeerLeft))
	_, ok := th.gw.registry.PeerOf("connA")
	require.False(t, ok)
}
