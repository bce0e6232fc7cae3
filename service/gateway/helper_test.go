// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

type mockRooms struct {
	getRoom             func(ctx context.Context, roomID string) (*Room, error)
	createRoom          func(ctx context.Context, roomID, password string) (*Room, error)
	setParticipant      func(ctx context.Context, roomID string, p *Participant) error
	getParticipant      func(ctx context.Context, roomID, peerID string) (*Participant, error)
	findByConn          func(ctx context.Context, connID string) (*Participant, error)
	leaveRoom           func(ctx context.Context, roomID, peerID string) (*LeaveResult, error)
	isRoomLocked        func(ctx context.Context, roomID string) (bool, error)
	verifyRoomPassword  func(ctx context.Context, roomID, password string) (bool, error)
}

func (m *mockRooms) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	if m.getRoom != nil {
		return m.getRoom(ctx, roomID)
	}
	return nil, ErrNotFound
}

func (m *mockRooms) CreateRoom(ctx context.Context, roomID, password string) (*Room, error) {
	if m.createRoom != nil {
		return m.createRoom(ctx, roomID, password)
	}
	return &Room{ID: roomID, Locked: password != ""}, nil
}

func (m *mockRooms) SetParticipant(ctx context.Context, roomID string, p *Participant) error {
	if m.setParticipant != nil {
		return m.setParticipant(ctx, roomID, p)
	}
	return nil
}

func (m *mockRooms) GetParticipantByPeerID(ctx context.Context, roomID, peerID string) (*Participant, error) {
	if m.getParticipant != nil {
		return m.getParticipant(ctx, roomID, peerID)
	}
	return nil, ErrNotFound
}

func (m *mockRooms) FindParticipantByConnection(ctx context.Context, connID string) (*Participant, error) {
	if m.findByConn != nil {
		return m.findByConn(ctx, connID)
	}
	return nil, ErrNotFound
}

func (m *mockRooms) LeaveRoom(ctx context.Context, roomID, peerID string) (*LeaveResult, error) {
	if m.leaveRoom != nil {
		return m.leaveRoom(ctx, roomID, peerID)
	}
	return &LeaveResult{}, nil
}

func (m *mockRooms) IsRoomLocked(ctx context.Context, roomID string) (bool, error) {
	if m.isRoomLocked != nil {
		return m.isRoomLocked(ctx, roomID)
	}
	return false, nil
}

func (m *mockRooms) VerifyRoomPassword(ctx context.Context, roomID, password string) (bool, error) {
	if m.verifyRoomPassword != nil {
		return m.verifyRoomPassword(ctx, roomID, password)
	}
	return false, nil
}

type mockMedia struct {
	createMediaRoom  func(ctx context.Context, roomID string) error
	getRouterCaps    func(ctx context.Context, roomID string) (json.RawMessage, error)
	createTransport  func(ctx context.Context, roomID, peerID, direction string) (*Transport, error)
	connectTransport func(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error
	produce          func(ctx context.Context, roomID, peerID string, req ProduceRequest) (*Stream, error)
	consume          func(ctx context.Context, roomID, peerID string, req ConsumeRequest) (*Consumer, error)
	resumeConsumer   func(ctx context.Context, roomID, peerID, consumerID string) error
	getStreams       func(ctx context.Context, roomID string) ([]*Stream, error)
	removeMedia      func(ctx context.Context, roomID, peerID string) ([]string, error)
	handleSpeaking   func(ctx context.Context, roomID, peerID string, speaking bool) (bool, error)
	listRelays       func(ctx context.Context, roomID, peerID string) ([]*Relay, error)
	destroyRelay     func(ctx context.Context, roomID string, relay *Relay) error
}

func (m *mockMedia) CreateMediaRoom(ctx context.Context, roomID string) error {
	if m.createMediaRoom != nil {
		return m.createMediaRoom(ctx, roomID)
	}
	return nil
}

func (m *mockMedia) GetRouterCapabilities(ctx context.Context, roomID string) (json.RawMessage, error) {
	if m.getRouterCaps != nil {
		return m.getRouterCaps(ctx, roomID)
	}
	return json.RawMessage(`{"codecs":[]}`), nil
}

func (m *mockMedia) CreateTransport(ctx context.Context, roomID, peerID, direction string) (*Transport, error) {
	if m.createTransport != nil {
		return m.createTransport(ctx, roomID, peerID, direction)
	}
	return &Transport{ID: "transportID", Direction: direction}, nil
}

func (m *mockMedia) ConnectTransport(ctx context.Context, roomID, peerID, transportID string, dtlsParameters json.RawMessage) error {
	if m.connectTransport != nil {
		return m.connectTransport(ctx, roomID, peerID, transportID, dtlsParameters)
	}
	return nil
}

func (m *mockMedia) Produce(ctx context.Context, roomID, peerID string, req ProduceRequest) (*Stream, error) {
	if m.produce != nil {
		return m.produce(ctx, roomID, peerID, req)
	}
	return &Stream{
		ID:     req.StreamID,
		PeerID: peerID,
		Kind:   req.Kind,
		Role:   req.Role,
	}, nil
}

func (m *mockMedia) Consume(ctx context.Context, roomID, peerID string, req ConsumeRequest) (*Consumer, error) {
	if m.consume != nil {
		return m.consume(ctx, roomID, peerID, req)
	}
	return &Consumer{ID: "consumerID", StreamID: req.StreamID}, nil
}

func (m *mockMedia) ResumeConsumer(ctx context.Context, roomID, peerID, consumerID string) error {
	if m.resumeConsumer != nil {
		return m.resumeConsumer(ctx, roomID, peerID, consumerID)
	}
	return nil
}

func (m *mockMedia) GetStreams(ctx context.Context, roomID string) ([]*Stream, error) {
	if m.getStreams != nil {
		return m.getStreams(ctx, roomID)
	}
	return nil, nil
}

func (m *mockMedia) RemoveParticipantMedia(ctx context.Context, roomID, peerID string) ([]string, error) {
	if m.removeMedia != nil {
		return m.removeMedia(ctx, roomID, peerID)
	}
	return nil, nil
}

func (m *mockMedia) HandleSpeaking(ctx context.Context, roomID, peerID string, speaking bool) (bool, error) {
	if m.handleSpeaking != nil {
		return m.handleSpeaking(ctx, roomID, peerID, speaking)
	}
	return true, nil
}

func (m *mockMedia) ListRelays(ctx context.Context, roomID, peerID string) ([]*Relay, error) {
	if m.listRelays != nil {
		return m.listRelays(ctx, roomID, peerID)
	}
	return nil, nil
}

func (m *mockMedia) DestroyRelay(ctx context.Context, roomID string, relay *Relay) error {
	if m.destroyRelay != nil {
		return m.destroyRelay(ctx, roomID, relay)
	}
	return nil
}

// mockSender records every message sent per connection.
type mockSender struct {
	mut  sync.Mutex
	msgs map[string][]*ClientMessage
}

func newMockSender() *mockSender {
	return &mockSender{
		msgs: make(map[string][]*ClientMessage),
	}
}

func (s *mockSender) Send(connID string, msg *ClientMessage) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.msgs[connID] = append(s.msgs[connID], msg)
	return nil
}

func (s *mockSender) sent(connID string) []*ClientMessage {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]*ClientMessage(nil), s.msgs[connID]...)
}

func (s *mockSender) byType(connID, msgType string) []*ClientMessage {
	var out []*ClientMessage
	for _, m := range s.sent(connID) {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (s *mockSender) lastOfType(connID, msgType string) *ClientMessage {
	msgs := s.byType(connID, msgType)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (s *mockSender) reset() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.msgs = make(map[string][]*ClientMessage)
}

type mockMetrics struct {
	mut      sync.Mutex
	sessions int
	joins    map[string]int
	errors   map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		joins:  make(map[string]int),
		errors: make(map[string]int),
	}
}

func (m *mockMetrics) IncSessions(_ string) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.sessions++
}

func (m *mockMetrics) DecSessions(_ string) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.sessions--
}

func (m *mockMetrics) IncJoins(status string) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.joins[status]++
}

func (m *mockMetrics) IncErrors(code string) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.errors[code]++
}

type testHelper struct {
	gw      *Gateway
	rooms   *mockRooms
	media   *mockMedia
	sender  *mockSender
	metrics *mockMetrics
	log     *mlog.Logger
}

func setupTestHelper(t *testing.T) (*testHelper, func()) {
	t.Helper()

	log, err := mlog.NewLogger()
	require.NoError(t, err)

	th := &testHelper{
		rooms:   &mockRooms{},
		media:   &mockMedia{},
		sender:  newMockSender(),
		metrics: newMockMetrics(),
		log:     log,
	}

	gw, err := New(Config{}, th.rooms, th.media, th.sender, log, th.metrics)
	require.NoError(t, err)
	th.gw = gw

	return th, func() {
		err := log.Shutdown()
		require.NoError(t, err)
	}
}

// dispatch packs and feeds a message through the public entry point.
func (th *testHelper) dispatch(t *testing.T, connID, msgType string, data any) {
	t.Helper()
	cm, err := NewClientMessage(msgType, data)
	require.NoError(t, err)
	packed, err := cm.Pack()
	require.NoError(t, err)
	th.gw.HandleClientMessage(connID, packed)
}

// join runs a successful join for the given identity against a static room
// and binds the connection.
func (th *testHelper) join(t *testing.T, connID, peerID, roomID string) {
	t.Helper()
	th.gw.registry.Bind(connID, peerID, roomID, &Participant{
		PeerID: peerID,
		ConnID: connID,
		RoomID: roomID,
	})
}

func decodeData[T any](t *testing.T, cm *ClientMessage) T {
	t.Helper()
	var v T
	require.NotNil(t, cm)
	require.NoError(t, cm.DecodeData(&v))
	return v
}
