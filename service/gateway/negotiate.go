// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"errors"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

func (g *Gateway) handleSetCapabilities(ctx context.Context, connID string, cm *ClientMessage) {
	var data SetCapabilitiesData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode setCapabilities data")
		return
	}
	if len(data.RTPCapabilities) == 0 {
		g.sendError(connID, ErrorCodeInvalidPayload, "rtpCapabilities is required")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	p := g.registry.CachedParticipant(ctx, roomID, peerID)
	if p == nil {
		g.sendError(connID, ErrorCodePeerNotFound, "peer not found")
		return
	}
	p.RTPCapabilities = data.RTPCapabilities
	g.registry.UpdateCache(roomID, p)

	// Persisting capabilities to the registry is best effort: the session
	// keeps working off the local cache if the write fails.
	if err := g.rooms.SetParticipant(ctx, roomID, p); err != nil {
		g.log.Warn("gateway: failed to persist capabilities",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
	}

	g.send(connID, ClientMessageCapabilitiesSet, &CapabilitiesSetData{PeerID: peerID})
}

func (g *Gateway) handleCreateTransport(ctx context.Context, connID string, cm *ClientMessage) {
	var data CreateTransportData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode createTransport data")
		return
	}
	if data.Direction != TransportDirectionSend && data.Direction != TransportDirectionRecv {
		g.sendError(connID, ErrorCodeInvalidPayload, "invalid transport direction")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	transport, err := g.media.CreateTransport(ctx, roomID, peerID, data.Direction)
	if err != nil {
		g.log.Error("gateway: failed to create transport",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeTransport, "failed to create transport")
		return
	}

	g.send(connID, ClientMessageTransportCreated, &TransportCreatedData{
		TransportID: transport.ID,
		Direction:   transport.Direction,
		Params:      transport.Params,
	})
}

func (g *Gateway) handleConnectTransport(ctx context.Context, connID string, cm *ClientMessage) {
	var data ConnectTransportData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode connectTransport data")
		return
	}
	if data.TransportID == "" || len(data.DTLSParameters) == 0 {
		g.sendError(connID, ErrorCodeInvalidPayload, "transportId and dtlsParameters are required")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	if err := g.media.ConnectTransport(ctx, roomID, peerID, data.TransportID, data.DTLSParameters); err != nil {
		g.log.Error("gateway: failed to connect transport",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("transportID", data.TransportID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeTransport, "failed to connect transport")
		return
	}

	g.send(connID, ClientMessageTransportConnected, &TransportConnectedData{TransportID: data.TransportID})
}

func (g *Gateway) handleProduce(ctx context.Context, connID string, cm *ClientMessage) {
	var data ProduceData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode produce data")
		return
	}
	if data.TransportID == "" || len(data.RTPParameters) == 0 {
		g.sendError(connID, ErrorCodeInvalidPayload, "transportId and rtpParameters are required")
		return
	}
	if data.Kind != StreamKindAudio && data.Kind != StreamKindVideo {
		g.sendError(connID, ErrorCodeInvalidPayload, "invalid stream kind")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	role, dummy := classifyProduce(data.Kind, data.AppData)

	req := ProduceRequest{
		StreamID:      genStreamID(data.Kind, role),
		TransportID:   data.TransportID,
		Kind:          data.Kind,
		Role:          role,
		RTPParameters: data.RTPParameters,
		AppData:       data.AppData,
	}

	stream, err := g.media.Produce(ctx, roomID, peerID, req)
	if err != nil {
		g.log.Error("gateway: failed to produce",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("peerID", peerID), mlog.String("kind", data.Kind))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeProduce, "failed to produce")
		return
	}
	if err := normalizeStream(stream); err != nil {
		g.log.Warn("gateway: produced stream has malformed id",
			mlog.Err(err), mlog.String("streamID", stream.ID))
	}

	g.send(connID, ClientMessageProducerCreated, &ProducerCreatedData{
		StreamID: stream.ID,
		Kind:     stream.Kind,
		Role:     stream.Role,
	})

	// Dummy producers keep the negotiation pipeline warm without carrying
	// real media. They are acknowledged but never announced.
	if dummy {
		g.log.Debug("gateway: dummy producer created, skipping broadcast",
			mlog.String("roomID", roomID), mlog.String("peerID", peerID), mlog.String("streamID", stream.ID))
		return
	}

	if stream.IsScreen() {
		g.broadcast(roomID, ClientMessageScreenShareStarted, &ScreenShareStartedData{
			PeerID:   peerID,
			StreamID: stream.ID,
		}, peerID)
	}

	g.broadcast(roomID, ClientMessageStreamAdded, &StreamAddedData{Stream: *stream}, peerID)
}

func (g *Gateway) handleConsume(ctx context.Context, connID string, cm *ClientMessage) {
	var data ConsumeData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode consume data")
		return
	}
	if data.StreamID == "" || data.TransportID == "" {
		g.sendError(connID, ErrorCodeInvalidPayload, "streamId and transportId are required")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	caps := data.RTPCapabilities
	if len(caps) == 0 {
		if p := g.registry.CachedParticipant(ctx, roomID, peerID); p != nil {
			caps = p.RTPCapabilities
		}
	}
	if len(caps) == 0 {
		g.sendError(connID, ErrorCodeConsume, "no capabilities available for consumer")
		return
	}

	consumer, err := g.media.Consume(ctx, roomID, peerID, ConsumeRequest{
		StreamID:        data.StreamID,
		TransportID:     data.TransportID,
		RTPCapabilities: caps,
	})
	if err != nil {
		if errors.Is(err, ErrConsumerSkipped) {
			// Consuming the stream is not possible with the given
			// capabilities. This is a soft outcome, not a failure.
			g.send(connID, ClientMessageConsumerSkipped, &ConsumerSkippedData{StreamID: data.StreamID})
			return
		}
		g.log.Error("gateway: failed to consume",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("streamID", data.StreamID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeConsume, "failed to consume")
		return
	}

	g.send(connID, ClientMessageConsumerCreated, &ConsumerCreatedData{
		ConsumerID:    consumer.ID,
		StreamID:      consumer.StreamID,
		Kind:          consumer.Kind,
		RTPParameters: consumer.RTPParameters,
	})
}

func (g *Gateway) handleResumeConsumer(ctx context.Context, connID string, cm *ClientMessage) {
	var data ResumeConsumerData
	if err := cm.DecodeData(&data); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode resumeConsumer data")
		return
	}
	if data.ConsumerID == "" {
		g.sendError(connID, ErrorCodeInvalidPayload, "consumerId is required")
		return
	}

	peerID, roomID, err := g.resolvePeerRoom(connID, data.PeerID, data.RoomID)
	if err != nil {
		g.sendError(connID, ErrorCodePeerNotFound, err.Error())
		return
	}

	if err := g.media.ResumeConsumer(ctx, roomID, peerID, data.ConsumerID); err != nil {
		g.log.Error("gateway: failed to resume consumer",
			mlog.Err(err), mlog.String("roomID", roomID), mlog.String("consumerID", data.ConsumerID))
		g.notifyUnavailable(connID, ServiceMedia, err)
		g.sendError(connID, ErrorCodeConsume, "failed to resume consumer")
		return
	}

	g.send(connID, ClientMessageConsumerResumed, &ConsumerResumedData{ConsumerID: data.ConsumerID})
}
