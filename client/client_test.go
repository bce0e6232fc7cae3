// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattermost/sgwd/service/gateway"
	"github.com/mattermost/sgwd/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*httptest.Server, *ws.Server) {
	t.Helper()

	log, err := mlog.NewLogger()
	require.NoError(t, err)

	wsServer, err := ws.NewServer(ws.ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    time.Second,
	}, log, ws.WithAuthCb(func(_ http.ResponseWriter, _ *http.Request) (string, int, error) {
		return "clientA", http.StatusOK, nil
	}))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body["clientID"] != "clientA" || body["authKey"] != "Ey4-H_BJA23W8BN3fjrjsQ9-cOIGVYoCILGCTo2RT7A" {
			w.WriteHeader(http.StatusUnauthorized)
			require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"error": "authentication failed"}))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"bearerToken": "sometoken"}))
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"clientID": body["clientID"]}))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		wsServer.Close()
	})

	return srv, wsServer
}

func TestNew(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		c, err := New(Config{})
		require.Error(t, err)
		require.Nil(t, c)
	})

	t.Run("valid config", func(t *testing.T) {
		c, err := New(Config{URL: "http://localhost:8045"})
		require.NoError(t, err)
		require.NotNil(t, c)
		require.NoError(t, c.Close())
	})
}

func TestLogin(t *testing.T) {
	srv, _ := setupServer(t)

	t.Run("bad credentials", func(t *testing.T) {
		c, err := New(Config{
			URL:      srv.URL,
			ClientID: "clientA",
			AuthKey:  "wrongkey",
		})
		require.NoError(t, err)
		defer c.Close()

		token, err := c.Login()
		require.EqualError(t, err, "request failed: authentication failed")
		require.Empty(t, token)
	})

	t.Run("success", func(t *testing.T) {
		c, err := New(Config{
			URL:      srv.URL,
			ClientID: "clientA",
			AuthKey:  "Ey4-H_BJA23W8BN3fjrjsQ9-cOIGVYoCILGCTo2RT7A",
		})
		require.NoError(t, err)
		defer c.Close()

		token, err := c.Login()
		require.NoError(t, err)
		require.Equal(t, "sometoken", token)
		require.Equal(t, "sometoken", c.cfg.AuthToken)
	})
}

func TestRegister(t *testing.T) {
	srv, _ := setupServer(t)

	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	defer c.Close()

	err = c.Register("clientA", "Ey4-H_BJA23W8BN3fjrjsQ9-cOIGVYoCILGCTo2RT7A")
	require.NoError(t, err)
}

func TestConnectSendReceive(t *testing.T) {
	srv, wsServer := setupServer(t)

	c, err := New(Config{
		URL:      srv.URL,
		ClientID: "clientA",
		AuthKey:  "Ey4-H_BJA23W8BN3fjrjsQ9-cOIGVYoCILGCTo2RT7A",
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect())

	t.Run("send not initialized", func(t *testing.T) {
		c2, err := New(Config{URL: srv.URL})
		require.NoError(t, err)
		defer c2.Close()
		err = c2.Send(gateway.ClientMessage{Type: gateway.ClientMessageJoin})
		require.EqualError(t, err, "ws client is not initialized")
	})

	// The open message carries the server side connection id.
	var connID string
	select {
	case msg := <-wsServer.ReceiveCh():
		require.Equal(t, ws.OpenMessage, msg.Type)
		connID = msg.ConnID
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for open message")
	}

	cm, err := gateway.NewClientMessage(gateway.ClientMessageLeave, gateway.LeaveData{
		RoomID: "roomA",
		PeerID: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, c.Send(*cm))

	select {
	case msg := <-wsServer.ReceiveCh():
		require.Equal(t, ws.BinaryMessage, msg.Type)
		var got gateway.ClientMessage
		require.NoError(t, got.Unpack(msg.Data))
		require.Equal(t, gateway.ClientMessageLeave, got.Type)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for client message")
	}

	out, err := gateway.NewClientMessage(gateway.ClientMessageError, gateway.ErrorData{
		Code: gateway.ErrorCodeJoin,
	})
	require.NoError(t, err)
	data, err := out.Pack()
	require.NoError(t, err)
	require.NoError(t, wsServer.Send(ws.Message{
		ConnID: connID,
		Type:   ws.BinaryMessage,
		Data:   data,
	}))

	select {
	case got := <-c.ReceiveCh():
		require.Equal(t, gateway.ClientMessageError, got.Type)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for server message")
	}
}
