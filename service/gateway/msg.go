// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ClientMessage is the envelope for every message exchanged on the signaling
// channel. Data carries the JSON encoded payload for the given type.
type ClientMessage struct {
	Type string          `msgpack:"type"`
	Data json.RawMessage `msgpack:"data,omitempty"`
}

// Inbound message types.
const (
	ClientMessageJoin             = "join"
	ClientMessageLeave            = "leave"
	ClientMessageSetCapabilities  = "setCapabilities"
	ClientMessageCreateTransport  = "createTransport"
	ClientMessageConnectTransport = "connectTransport"
	ClientMessageProduce          = "produce"
	ClientMessageConsume          = "consume"
	ClientMessageResumeConsumer   = "resumeConsumer"
	ClientMessageSpeaking         = "speaking"
	ClientMessageStoppedSpeaking  = "stoppedSpeaking"
)

// Outbound message types.
const (
	ClientMessageJoined             = "joined"
	ClientMessageError              = "error"
	ClientMessageRouterCapabilities = "routerCapabilities"
	ClientMessageCapabilitiesSet    = "capabilitiesSet"
	ClientMessageTransportCreated   = "transportCreated"
	ClientMessageTransportConnected = "transportConnected"
	ClientMessageProducerCreated    = "producerCreated"
	ClientMessageStreamAdded        = "streamAdded"
	ClientMessageScreenShareStarted = "screenShareStarted"
	ClientMessageConsumerCreated    = "consumerCreated"
	ClientMessageConsumerSkipped    = "consumerSkipped"
	ClientMessageConsumerResumed    = "consumerResumed"
	ClientMessageStreams            = "streams"
	ClientMessageUserSpeaking       = "userSpeaking"
	ClientMessageUserStopSpeaking   = "userStoppedSpeaking"
	ClientMessageNewPeer            = "newPeer"
	ClientMessagePeerLeft           = "peerLeft"
	ClientMessageUserRemoved        = "userRemoved"
	ClientMessageCreatorChanged     = "creatorChanged"
	ClientMessageUsersUpdated       = "usersUpdated"
	ClientMessageStreamRemoved      = "streamRemoved"
	ClientMessageServiceUnavailable = "serviceUnavailable"
)

var _ msgpack.CustomEncoder = (*ClientMessage)(nil)

func (cm *ClientMessage) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeMulti(cm.Type, []byte(cm.Data))
}

var _ msgpack.CustomDecoder = (*ClientMessage)(nil)

func (cm *ClientMessage) DecodeMsgpack(dec *msgpack.Decoder) error {
	msgType, err := dec.DecodeString()
	if err != nil {
		return fmt.Errorf("failed to decode msg.Type: %w", err)
	}
	cm.Type = msgType

	data, err := dec.DecodeBytes()
	if err != nil {
		return fmt.Errorf("failed to decode msg.Data: %w", err)
	}
	cm.Data = data

	return nil
}

// NewClientMessage builds an envelope of the given type, JSON encoding the
// given payload.
func NewClientMessage(msgType string, data any) (*ClientMessage, error) {
	cm := &ClientMessage{
		Type: msgType,
	}
	if data != nil {
		js, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
		cm.Data = js
	}
	return cm, nil
}

func (cm *ClientMessage) IsValid() error {
	if cm.Type == "" {
		return fmt.Errorf("invalid Type value: should not be empty")
	}
	return nil
}

func (cm *ClientMessage) Pack() ([]byte, error) {
	return msgpack.Marshal(&cm)
}

func (cm *ClientMessage) Unpack(data []byte) error {
	return msgpack.Unmarshal(data, &cm)
}

// DecodeData decodes the JSON payload into the given value.
func (cm *ClientMessage) DecodeData(v any) error {
	if len(cm.Data) == 0 {
		return fmt.Errorf("no data to decode")
	}
	return json.Unmarshal(cm.Data, v)
}

type JoinData struct {
	RoomID   string          `json:"roomId"`
	PeerID   string          `json:"peerId"`
	Password string          `json:"password,omitempty"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`
}

type JoinedData struct {
	RoomID    string `json:"roomId"`
	PeerID    string `json:"peerId"`
	IsCreator bool   `json:"isCreator"`
}

type ErrorData struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type RouterCapabilitiesData struct {
	RoomID          string          `json:"roomId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type SetCapabilitiesData struct {
	RoomID          string          `json:"roomId,omitempty"`
	PeerID          string          `json:"peerId,omitempty"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type CapabilitiesSetData struct {
	PeerID string `json:"peerId"`
}

type CreateTransportData struct {
	RoomID    string `json:"roomId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
	Direction string `json:"direction"`
}

type TransportCreatedData struct {
	TransportID string          `json:"transportId"`
	Direction   string          `json:"direction"`
	Params      json.RawMessage `json:"params"`
}

type ConnectTransportData struct {
	RoomID         string          `json:"roomId,omitempty"`
	PeerID         string          `json:"peerId,omitempty"`
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type TransportConnectedData struct {
	TransportID string `json:"transportId"`
}

type ProduceData struct {
	RoomID        string          `json:"roomId,omitempty"`
	PeerID        string          `json:"peerId,omitempty"`
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       json.RawMessage `json:"appData,omitempty"`
}

type ProducerCreatedData struct {
	StreamID string `json:"streamId"`
	Kind     string `json:"kind"`
	Role     string `json:"role"`
}

type StreamAddedData struct {
	Stream   Stream `json:"stream"`
	Priority bool   `json:"priority,omitempty"`
}

type ScreenShareStartedData struct {
	PeerID   string `json:"peerId"`
	StreamID string `json:"streamId"`
}

type StreamsData struct {
	Streams []*Stream `json:"streams"`
}

type StreamRemovedData struct {
	PeerID   string `json:"peerId"`
	StreamID string `json:"streamId"`
}

type ConsumeData struct {
	RoomID          string          `json:"roomId,omitempty"`
	PeerID          string          `json:"peerId,omitempty"`
	StreamID        string          `json:"streamId"`
	TransportID     string          `json:"transportId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ConsumerCreatedData struct {
	ConsumerID    string          `json:"consumerId"`
	StreamID      string          `json:"streamId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumerSkippedData struct {
	StreamID string `json:"streamId"`
}

type ResumeConsumerData struct {
	RoomID     string `json:"roomId,omitempty"`
	PeerID     string `json:"peerId,omitempty"`
	ConsumerID string `json:"consumerId"`
}

type ConsumerResumedData struct {
	ConsumerID string `json:"consumerId"`
}

type SpeakingData struct {
	RoomID string `json:"roomId,omitempty"`
	PeerID string `json:"peerId,omitempty"`
}

type LeaveData struct {
	RoomID string `json:"roomId,omitempty"`
	PeerID string `json:"peerId,omitempty"`
}

type NewPeerData struct {
	PeerID    string          `json:"peerId"`
	IsCreator bool            `json:"isCreator"`
	UserInfo  json.RawMessage `json:"userInfo,omitempty"`
}

type PeerLeftData struct {
	PeerID string `json:"peerId"`
}

type CreatorChangedData struct {
	PeerID string `json:"peerId"`
}

type UsersUpdatedData struct {
	Participants []*Participant `json:"participants"`
}

type ServiceUnavailableData struct {
	Service string `json:"service"`
	Message string `json:"message"`
}
