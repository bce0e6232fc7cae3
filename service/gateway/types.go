// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by backend calls when the requested entity does not
// exist.
var ErrNotFound = errors.New("not found")

// ErrConsumerSkipped is returned by MediaService.Consume when the media
// service elects not to create a consumer for a low priority stream.
var ErrConsumerSkipped = errors.New("consumer skipped")

// PendingConnPrefix marks connection identifiers assigned to participants
// that joined out-of-band (e.g. through an HTTP join) and have not yet bound
// a live signaling connection.
const PendingConnPrefix = "pending_"

const (
	TransportDirectionSend = "send"
	TransportDirectionRecv = "recv"
)

// Participant is the gateway's view of a conference member. The room registry
// service owns the canonical record, the gateway only keeps a derived cache.
type Participant struct {
	PeerID          string          `json:"peerId"`
	ConnID          string          `json:"connId,omitempty"`
	RoomID          string          `json:"roomId"`
	IsCreator       bool            `json:"isCreator"`
	JoinedAt        int64           `json:"joinedAt,omitempty"`
	UserInfo        json.RawMessage `json:"userInfo,omitempty"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type Room struct {
	ID           string         `json:"id"`
	Locked       bool           `json:"locked,omitempty"`
	Participants []*Participant `json:"participants,omitempty"`
}

// Creator returns the room's effective creator, if any.
func (r *Room) Creator() *Participant {
	for _, p := range r.Participants {
		if p.IsCreator {
			return p
		}
	}
	return nil
}

func (r *Room) Participant(peerID string) *Participant {
	for _, p := range r.Participants {
		if p.PeerID == peerID {
			return p
		}
	}
	return nil
}

// Transport is a negotiated media transport endpoint belonging to one
// participant.
type Transport struct {
	ID        string          `json:"id"`
	Direction string          `json:"direction"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Consumer is a per-subscriber handle binding a receiving transport to a
// specific stream.
type Consumer struct {
	ID            string          `json:"id"`
	StreamID      string          `json:"streamId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

// Relay is an ephemeral translation relay (cabin) bridging one source
// participant's audio to one target participant in another language.
type Relay struct {
	RoomID         string `json:"roomId"`
	SourceUserID   string `json:"sourceUserId"`
	TargetUserID   string `json:"targetUserId"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// Key identifies a relay for deduplication purposes.
func (r *Relay) Key() string {
	return r.TargetUserID + "/" + r.SourceLanguage + "/" + r.TargetLanguage
}

// LeaveResult reports the outcome of a participant's departure as decided by
// the room registry.
type LeaveResult struct {
	NewCreatorID string `json:"newCreatorId,omitempty"`
}

// ProduceRequest carries the parameters needed to publish a new stream.
type ProduceRequest struct {
	StreamID      string          `json:"streamId"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	Role          string          `json:"role"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       json.RawMessage `json:"appData,omitempty"`
}

// ConsumeRequest carries the parameters needed to subscribe to a stream.
type ConsumeRequest struct {
	StreamID        string          `json:"streamId"`
	TransportID     string          `json:"transportId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

// RoomRegistry is the remote room registry service. It is the source of truth
// for rooms and participants.
type RoomRegistry interface {
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	CreateRoom(ctx context.Context, roomID, password string) (*Room, error)
	SetParticipant(ctx context.Context, roomID string, p *Participant) error
	GetParticipantByPeerID(ctx context.Context, roomID, peerID string) (*Participant, error)
	FindParticipantByConnection(ctx context.Context, connID string) (*Participant, error)
	LeaveRoom(ctx context.Context, roomID, peerID string) (*LeaveResult, error)
	IsRoomLocked(ctx context.Context, roomID string) (bool, error)
	VerifyRoomPassword(ctx context.Context, roomID, password string) (bool, error)
}

// MediaService is the remote media routing service executing transports,
// producers and consumers.
type MediaService interface {
	CreateMediaRoom(ctx context.Context, roomID string) error
	GetRouterCapabilities(ctx context.Context, roomID string) (json.RawMessage, error)
	CreateTransport(ctx context.Context, roomID, peerID, direction string) (*Transport, error)
	ConnectTransport(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, roomID, peerID string, req ProduceRequest) (*Stream, error)
	Consume(ctx context.Context, roomID, peerID string, req ConsumeRequest) (*Consumer, error)
	ResumeConsumer(ctx context.Context, roomID, peerID, consumerID string) error
	GetStreams(ctx context.Context, roomID string) ([]*Stream, error)
	RemoveParticipantMedia(ctx context.Context, roomID, peerID string) ([]string, error)
	HandleSpeaking(ctx context.Context, roomID, peerID string, speaking bool) (bool, error)
	ListRelays(ctx context.Context, roomID, peerID string) ([]*Relay, error)
	DestroyRelay(ctx context.Context, roomID string, relay *Relay) error
}
