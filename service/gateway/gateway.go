// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type Config struct {
	// MembershipRefreshDelay is the fixed delay applied before re-reading the
	// room membership after a departure, to let the registry's write
	// propagate.
	MembershipRefreshDelay time.Duration `toml:"membership_refresh_delay"`
}

func (c Config) IsValid() error {
	if c.MembershipRefreshDelay < 0 {
		return fmt.Errorf("invalid MembershipRefreshDelay value: should not be negative")
	}
	return nil
}

// Sender delivers an outbound message to a single connection.
type Sender interface {
	Send(connID string, msg *ClientMessage) error
}

// Metrics is the subset of performance counters the gateway reports to.
type Metrics interface {
	IncSessions(roomID string)
	DecSessions(roomID string)
	IncJoins(status string)
	IncErrors(code string)
}

// Gateway drives the session orchestration and media negotiation state
// machine on top of the room registry and media routing backends.
type Gateway struct {
	cfg      Config
	log      mlog.LoggerIFace
	metrics  Metrics
	registry *SessionRegistry
	rooms    RoomRegistry
	media    MediaService
	sender   Sender
}

func New(cfg Config, rooms RoomRegistry, media MediaService, sender Sender, log mlog.LoggerIFace, metrics Metrics) (*Gateway, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if rooms == nil {
		return nil, fmt.Errorf("rooms should not be nil")
	}
	if media == nil {
		return nil, fmt.Errorf("media should not be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender should not be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}

	return &Gateway{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		registry: NewSessionRegistry(rooms, log),
		rooms:    rooms,
		media:    media,
		sender:   sender,
	}, nil
}

// Registry exposes the session registry for service level wiring and tests.
func (g *Gateway) Registry() *SessionRegistry {
	return g.registry
}

// HandleClientMessage decodes and dispatches one inbound signaling message.
// Each message is an independent request: callers are expected to invoke this
// concurrently, one goroutine per message.
func (g *Gateway) HandleClientMessage(connID string, data []byte) {
	var cm ClientMessage
	if err := cm.Unpack(data); err != nil {
		g.log.Error("gateway: failed to unpack message", mlog.Err(err), mlog.String("connID", connID))
		g.sendError(connID, ErrorCodeInvalidPayload, "failed to decode message")
		return
	}
	if err := cm.IsValid(); err != nil {
		g.sendError(connID, ErrorCodeInvalidPayload, err.Error())
		return
	}

	ctx := context.Background()

	switch cm.Type {
	case ClientMessageJoin:
		g.handleJoin(ctx, connID, &cm)
	case ClientMessageLeave:
		g.handleLeave(ctx, connID, &cm)
	case ClientMessageSetCapabilities:
		g.handleSetCapabilities(ctx, connID, &cm)
	case ClientMessageCreateTransport:
		g.handleCreateTransport(ctx, connID, &cm)
	case ClientMessageConnectTransport:
		g.handleConnectTransport(ctx, connID, &cm)
	case ClientMessageProduce:
		g.handleProduce(ctx, connID, &cm)
	case ClientMessageConsume:
		g.handleConsume(ctx, connID, &cm)
	case ClientMessageResumeConsumer:
		g.handleResumeConsumer(ctx, connID, &cm)
	case ClientMessageSpeaking:
		g.handleSpeaking(ctx, connID, &cm)
	case ClientMessageStoppedSpeaking:
		g.handleStoppedSpeaking(ctx, connID, &cm)
	default:
		g.log.Debug("gateway: unexpected message type", mlog.String("type", cm.Type), mlog.String("connID", connID))
		g.sendError(connID, ErrorCodeInvalidPayload, fmt.Sprintf("unexpected message type %q", cm.Type))
	}
}

// HandleClose runs the disconnect reconciliation for the given connection.
func (g *Gateway) HandleClose(connID string) {
	g.handleDisconnect(context.Background(), connID)
}

// send delivers a message to a single connection. The target may have gone
// away between resolution and delivery, so failures are only logged.
func (g *Gateway) send(connID, msgType string, data any) {
	cm, err := NewClientMessage(msgType, data)
	if err != nil {
		g.log.Error("gateway: failed to create message", mlog.Err(err), mlog.String("type", msgType))
		return
	}
	if err := g.sender.Send(connID, cm); err != nil {
		g.log.Debug("gateway: failed to send message",
			mlog.Err(err), mlog.String("type", msgType), mlog.String("connID", connID))
	}
}

func (g *Gateway) sendError(connID string, code ErrorCode, message string) {
	g.metrics.IncErrors(string(code))
	g.send(connID, ClientMessageError, &ErrorData{
		Code:    code,
		Message: message,
	})
}

// broadcast delivers a message to every locally connected participant of the
// room, excluding the given peers.
func (g *Gateway) broadcast(roomID, msgType string, data any, excludePeers ...string) {
	for _, connID := range g.registry.ConnsInRoom(roomID, excludePeers...) {
		g.send(connID, msgType, data)
	}
}

// notifyUnavailable reports which backend service is down when the error
// matches a known unavailability signature.
func (g *Gateway) notifyUnavailable(connID, service string, err error) bool {
	if !isUnavailableErr(err) {
		return false
	}
	g.log.Warn("gateway: service unavailable", mlog.String("service", service), mlog.Err(err))
	g.send(connID, ClientMessageServiceUnavailable, &ServiceUnavailableData{
		Service: service,
		Message: fmt.Sprintf("%s service is unavailable", service),
	})
	return true
}

// resolvePeerRoom resolves the acting participant and room from the request
// payload or, when omitted, from the session registry via the connection.
func (g *Gateway) resolvePeerRoom(connID, peerID, roomID string) (string, string, error) {
	if peerID == "" {
		p, ok := g.registry.PeerOf(connID)
		if !ok {
			return "", "", fmt.Errorf("no peer bound to connection %q", connID)
		}
		peerID = p
	}
	if roomID == "" {
		r, ok := g.registry.RoomOf(connID)
		if !ok {
			return "", "", fmt.Errorf("no room bound to connection %q", connID)
		}
		roomID = r
	}
	return peerID, roomID, nil
}
