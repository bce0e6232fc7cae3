// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package media implements the HTTP client for the remote media routing
// service which executes transports, producers and consumers.
package media

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

func mapErr(err error) error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.StatusCode == http.StatusNotFound {
		return gateway.ErrNotFound
	}
	return err
}

func (c *Client) CreateMediaRoom(ctx context.Context, roomID string) error {
	return mapErr(c.rpc.DoInto(ctx, "createMediaRoom", map[string]string{"roomId": roomID}, nil))
}

func (c *Client) GetRouterCapabilities(ctx context.Context, roomID string) (json.RawMessage, error) {
	data, err := c.rpc.Do(ctx, "getRouterCapabilities", map[string]string{"roomId": roomID})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}
	caps := rpc.Field(obj, "rtpCapabilities", "rtp_capabilities", "routerRtpCapabilities")
	if caps == nil {
		return nil, fmt.Errorf("invalid response: missing capabilities")
	}
	return caps, nil
}

func (c *Client) CreateTransport(ctx context.Context, roomID, peerID, direction string) (*gateway.Transport, error) {
	data, err := c.rpc.Do(ctx, "createTransport", map[string]string{
		"roomId":    roomID,
		"peerId":    peerID,
		"direction": direction,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}

	t := &gateway.Transport{
		ID:        rpc.String(obj, "transportId", "transport_id", "id"),
		Direction: rpc.String(obj, "direction"),
		Params:    rpc.Field(obj, "params", "transportOptions", "transport_options"),
	}
	if t.ID == "" {
		return nil, fmt.Errorf("invalid response: missing transport id")
	}
	if t.Direction == "" {
		t.Direction = direction
	}
	return t, nil
}

func (c *Client) ConnectTransport(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error {
	return mapErr(c.rpc.DoInto(ctx, "connectTransport", map[string]any{
		"roomId":         roomID,
		"peerId":         peerID,
		"transportId":    transportID,
		"dtlsParameters": dtlsParameters,
	}, nil))
}

func (c *Client) Produce(ctx context.Context, roomID, peerID string, req gateway.ProduceRequest) (*gateway.Stream, error) {
	data, err := c.rpc.Do(ctx, "produce", map[string]any{
		"roomId":        roomID,
		"peerId":        peerID,
		"streamId":      req.StreamID,
		"transportId":   req.TransportID,
		"kind":          req.Kind,
		"role":          req.Role,
		"rtpParameters": req.RTPParameters,
		"appData":       req.AppData,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}

	s := &gateway.Stream{
		ID:      rpc.String(obj, "streamId", "stream_id", "producerId", "producer_id"),
		PeerID:  peerID,
		Kind:    rpc.String(obj, "kind"),
		Role:    rpc.String(obj, "role"),
		AppData: req.AppData,
	}
	if s.ID == "" {
		s.ID = req.StreamID
	}
	if s.Kind == "" {
		s.Kind = req.Kind
	}
	if s.Role == "" {
		s.Role = req.Role
	}
	return s, nil
}

func (c *Client) Consume(ctx context.Context, roomID, peerID string, req gateway.ConsumeRequest) (*gateway.Consumer, error) {
	data, err := c.rpc.Do(ctx, "consume", map[string]any{
		"roomId":          roomID,
		"peerId":          peerID,
		"streamId":        req.StreamID,
		"transportId":     req.TransportID,
		"rtpCapabilities": req.RTPCapabilities,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}

	// The media service may elect not to create a consumer for a low
	// priority subscription.
	if rpc.Bool(obj, "skipped", "skipConsume", "skip_consume") {
		return nil, gateway.ErrConsumerSkipped
	}

	consumer := &gateway.Consumer{
		ID:            rpc.String(obj, "consumerId", "consumer_id", "id"),
		StreamID:      rpc.String(obj, "streamId", "stream_id"),
		Kind:          rpc.String(obj, "kind"),
		RTPParameters: rpc.Field(obj, "rtpParameters", "rtp_parameters"),
	}
	if consumer.ID == "" {
		return nil, fmt.Errorf("invalid response: missing consumer id")
	}
	if consumer.StreamID == "" {
		consumer.StreamID = req.StreamID
	}
	return consumer, nil
}

func (c *Client) ResumeConsumer(ctx context.Context, roomID, peerID, consumerID string) error {
	return mapErr(c.rpc.DoInto(ctx, "resumeConsumer", map[string]string{
		"roomId":     roomID,
		"peerId":     peerID,
		"consumerId": consumerID,
	}, nil))
}

func (c *Client) GetStreams(ctx context.Context, roomID string) ([]*gateway.Stream, error) {
	data, err := c.rpc.Do(ctx, "getStreams", map[string]string{"roomId": roomID})
	if err != nil {
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}
	raw := rpc.Field(obj, "streams", "producers")
	if raw == nil {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode streams: %w", err)
	}

	streams := make([]*gateway.Stream, 0, len(items))
	for _, item := range items {
		sobj, err := rpc.Object(rpc.Unwrap(item))
		if err != nil {
			return nil, err
		}
		streams = append(streams, &gateway.Stream{
			ID:      rpc.String(sobj, "streamId", "stream_id", "producerId", "producer_id", "id"),
			PeerID:  rpc.String(sobj, "peerId", "peer_id", "username"),
			Kind:    rpc.String(sobj, "kind"),
			Role:    rpc.String(sobj, "role"),
			AppData: rpc.Field(sobj, "appData", "app_data"),
		})
	}
	return streams, nil
}

func (c *Client) RemoveParticipantMedia(ctx context.Context, roomID, peerID string) ([]string, error) {
	data, err := c.rpc.Do(ctx, "removeParticipantMedia", map[string]string{
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
	raw := rpc.Field(obj, "removedStreams", "removed_streams", "removed")
	if raw == nil {
		return nil, nil
	}
	var removed []string
	if err := json.Unmarshal(raw, &removed); err != nil {
		return nil, fmt.Errorf("failed to decode removed streams: %w", err)
	}
	return removed, nil
}

func (c *Client) HandleSpeaking(ctx context.Context, roomID, peerID string, speaking bool) (bool, error) {
	data, err := c.rpc.Do(ctx, "handleSpeaking", map[string]any{
		"roomId":   roomID,
		"peerId":   peerID,
		"speaking": speaking,
	})
	if err != nil {
		return false, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return false, err
	}
	return rpc.Bool(obj, "ack", "acknowledged", "handled"), nil
}

func (c *Client) ListRelays(ctx context.Context, roomID, peerID string) ([]*gateway.Relay, error) {
	data, err := c.rpc.Do(ctx, "listRelays", map[string]string{
		"roomId": roomID,
		"peerId": peerID,
	})
	if err != nil {
		if errors.Is(mapErr(err), gateway.ErrNotFound) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	obj, err := rpc.Object(data)
	if err != nil {
		return nil, err
	}
	raw := rpc.Field(obj, "relays", "cabins")
	if raw == nil {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode relays: %w", err)
	}

	relays := make([]*gateway.Relay, 0, len(items))
	for _, item := range items {
		robj, err := rpc.Object(rpc.Unwrap(item))
		if err != nil {
			return nil, err
		}
		relays = append(relays, &gateway.Relay{
			RoomID:         roomID,
			SourceUserID:   rpc.String(robj, "sourceUserId", "source_user_id", "creatorId", "creator_id"),
			TargetUserID:   rpc.String(robj, "targetUserId", "target_user_id"),
			SourceLanguage: rpc.String(robj, "sourceLanguage", "source_language"),
			TargetLanguage: rpc.String(robj, "targetLanguage", "target_language"),
		})
	}
	return relays, nil
}

func (c *Client) DestroyRelay(ctx context.Context, roomID string, relay *gateway.Relay) error {
	if relay == nil {
		return fmt.Errorf("relay should not be nil")
	}
	return mapErr(c.rpc.DoInto(ctx, "destroyRelay", map[string]string{
		"roomId":         roomID,
		"sourceUserId":   relay.SourceUserID,
		"targetUserId":   relay.TargetUserID,
		"sourceLanguage": relay.SourceLanguage,
		"targetLanguage": relay.TargetLanguage,
	}, nil))
}
