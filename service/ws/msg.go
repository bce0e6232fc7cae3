// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
	OpenMessage
	CloseMessage
)

type Message struct {
	ConnID   string
	ClientID string
	Type     MessageType
	Data     []byte
}

func newOpenMessage(connID, clientID string) Message {
	return Message{
		ConnID:   connID,
		ClientID: clientID,
		Type:     OpenMessage,
	}
}

func newCloseMessage(connID, clientID string) Message {
	return Message{
		ConnID:   connID,
		ClientID: clientID,
		Type:     CloseMessage,
	}
}
