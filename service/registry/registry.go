// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package registry implements the HTTP client for the remote room registry
// service, the source of truth for rooms and participants.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/mattermost/sgwd/service/gateway"
	"github.com/mattermost/sgwd/service/rpc"
)

type Client struct {
	rpc *rpc.Client
	log mlog.LoggerIFace
}

func NewClient(cfg rpc.Config, log mlog.LoggerIFace, opts ...rpc.ClientOption) (*Client, error) {
	c, err := rpc.NewClient(cfg, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}
	return &Client{
		rpc: c,
		log: log,
	}, nil
}

// mapErr converts transport level failures into the gateway's sentinel
// errors.
func mapErr(err error) error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.StatusCode == http.StatusNotFound {
		return gateway.ErrNotFound
	}
	return err
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (*gateway.Room, error) {
	data, err := c.rpc.Do(ctx, "getRoom", map[string]string{"roomId": roomID})
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeRoom(data)
}

func (c *Client) CreateRoom(ctx context.Context, roomID, password string) (*gateway.Room, error) {
	data, err := c.rpc.Do(ctx, "createRoom", map[string]string{
		"roomId":   roomID,
		"password": password,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeRoom(data)
}

func (c *Client) SetParticipant(ctx context.Context, roomID string, p *gateway.Participant) error {
	if p == nil {
		return fmt.Errorf("participant should not be nil")
	}
	err := c.rpc.DoInto(ctx, "setParticipant", map[string]any{
		"roomId":      roomID,
		"participant": p,
	}, nil)
	return mapErr(err)
}

func (c *Client) GetParticipantByPeerID(ctx context.Context, roomID, peerID string) (*gateway.Participant, error) {
	data, err := c.rpc.Do(ctx, "getParticipantByPeerId", map[string]string{
		"roomId": roomID,
		"peerId": peerID,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeParticipant(data)
}

func (c *Client) FindParticipantByConnection(ctx context.Context, connID string) (*gateway.Participant, error) {
	data, err := c.rpc.Do(ctx, "findParticipantByConnection", map[string]string{
		"connId": connID,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return decodeParticipant(data)
}

func (c *Client) LeaveRoom(ctx context.Context, roomID, peerID string) (*gateway.LeaveResult, error) {
	data, err := c.rpc.Do(ctx, "leaveRoom", map[string]string{
		"roomId": roomID,
		"peerId": peerID,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}
	return &gateway.LeaveResult{
		NewCreatorID: rpc.String(obj, "newCreatorId", "new_creator_id"),
	}, nil
}

func (c *Client) IsRoomLocked(ctx context.Context, roomID string) (bool, error) {
	data, err := c.rpc.Do(ctx, "isRoomLocked", map[string]string{"roomId": roomID})
	if err != nil {
		return false, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return false, err
	}
	return rpc.Bool(obj, "locked", "isLocked", "is_locked"), nil
}

func (c *Client) VerifyRoomPassword(ctx context.Context, roomID, password string) (bool, error) {
	data, err := c.rpc.Do(ctx, "verifyRoomPassword", map[string]string{
		"roomId":   roomID,
		"password": password,
	})
	if err != nil {
		return false, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return false, err
	}
	return rpc.Bool(obj, "valid", "isValid", "is_valid"), nil
}

func decodeRoom(data json.RawMessage) (*gateway.Room, error) {
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}
	// Some deployments nest the room under a "room" key.
	if nested := rpc.Field(obj, "room"); nested != nil {
		if obj, err = rpc.Object(nested); err != nil {
			return nil, err
		}
	}

	room := &gateway.Room{
		ID:     rpc.String(obj, "id", "roomId", "room_id"),
		Locked: rpc.Bool(obj, "locked", "isLocked", "is_locked"),
	}
	if room.ID == "" {
		return nil, fmt.Errorf("invalid room: missing id")
	}

	if raw := rpc.Field(obj, "participants", "users"); raw != nil {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode participants: %w", err)
		}
		for _, item := range items {
			p, err := decodeParticipant(item)
			if err != nil {
				return nil, err
			}
			room.Participants = append(room.Participants, p)
		}
	}

	return room, nil
}

func decodeParticipant(data json.RawMessage) (*gateway.Participant, error) {
	obj, err := rpc.Object(rpc.Unwrap(data))
	if err != nil {
		return nil, err
	}
	if nested := rpc.Field(obj, "participant", "user"); nested != nil {
		if obj, err = rpc.Object(nested); err != nil {
			return nil, err
		}
	}

	p := &gateway.Participant{
		PeerID:          rpc.String(obj, "peerId", "peer_id", "username"),
		ConnID:          rpc.String(obj, "connId", "conn_id", "socketId", "socket_id"),
		RoomID:          rpc.String(obj, "roomId", "room_id"),
		IsCreator:       rpc.Bool(obj, "isCreator", "is_creator"),
		UserInfo:        rpc.Field(obj, "userInfo", "user_info"),
		RTPCapabilities: rpc.Field(obj, "rtpCapabilities", "rtp_capabilities"),
	}
	if p.PeerID == "" {
		return nil, fmt.Errorf("invalid participant: missing peer id")
	}

	if raw := rpc.Field(obj, "joinedAt", "joined_at"); raw != nil {
		var ts int64
		if err := json.Unmarshal(raw, &ts); err == nil {
			p.JoinedAt = ts
		}
	}

	return p, nil
}
