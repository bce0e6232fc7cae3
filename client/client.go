// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/sgwd/service/gateway"
	"github.com/mattermost/sgwd/service/ws"
)

const (
	msgChSize = 64
)

// Client implements the HTTP and WebSocket API exposed by the signaling
// gateway. It is used by backends and tooling that need to drive signaling
// sessions programmatically.
type Client struct {
	cfg *Config

	httpClient *http.Client
	wsClient   *ws.Client
	receiveCh  chan gateway.ClientMessage
	errorCh    chan error
	closeOnce  sync.Once
}

func New(cfg Config) (*Client, error) {
	var c Client

	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.cfg = &cfg

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       100,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   1 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c.httpClient = &http.Client{Transport: transport}

	return &c, nil
}

func (c *Client) doPost(path string, reqData map[string]string, wantStatus int) (map[string]string, error) {
	if c.httpClient == nil {
		return nil, fmt.Errorf("http client is not initialized")
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqData); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}

	req, err := http.NewRequest("POST", c.cfg.httpURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.cfg.ClientID != "" || c.cfg.AuthKey != "" {
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.AuthKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respData := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("decoding http response failed: %w", err)
	}

	if resp.StatusCode != wantStatus {
		if errMsg := respData["error"]; errMsg != "" {
			return nil, fmt.Errorf("request failed: %s", errMsg)
		}
		return nil, fmt.Errorf("request failed with status %s", resp.Status)
	}

	return respData, nil
}

// Register creates a new API client with the given credentials. The auth key
// is chosen by the caller and must meet the gateway's minimum length.
func (c *Client) Register(clientID, authKey string) error {
	_, err := c.doPost("/register", map[string]string{
		"clientID": clientID,
		"authKey":  authKey,
	}, http.StatusCreated)
	return err
}

// Unregister deletes a registered API client.
func (c *Client) Unregister(clientID string) error {
	_, err := c.doPost("/unregister", map[string]string{
		"clientID": clientID,
	}, http.StatusOK)
	return err
}

// Login exchanges the configured credentials for a bearer token. The token is
// stored on the client and used to authenticate the WebSocket connection.
func (c *Client) Login() (string, error) {
	respData, err := c.doPost("/login", map[string]string{
		"clientID": c.cfg.ClientID,
		"authKey":  c.cfg.AuthKey,
	}, http.StatusOK)
	if err != nil {
		return "", err
	}

	token := respData["bearerToken"]
	if token == "" {
		return "", fmt.Errorf("unexpected empty bearer token")
	}
	c.cfg.AuthToken = token

	return token, nil
}

// Connect opens the WebSocket connection used to exchange signaling messages.
func (c *Client) Connect() error {
	if c.wsClient != nil {
		return fmt.Errorf("ws client is already initialized")
	}

	wsCfg := ws.ClientConfig{
		URL: c.cfg.wsURL,
	}
	if c.cfg.AuthToken != "" {
		wsCfg.AuthToken = c.cfg.AuthToken
		wsCfg.AuthType = ws.BearerClientAuthType
	} else {
		wsCfg.AuthToken = base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.AuthKey))
		wsCfg.AuthType = ws.BasicClientAuthType
	}

	wsClient, err := ws.NewClient(wsCfg)
	if err != nil {
		return fmt.Errorf("failed to create ws client: %w", err)
	}

	c.wsClient = wsClient
	c.receiveCh = make(chan gateway.ClientMessage, msgChSize)
	c.errorCh = make(chan error)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.msgReader()
	}()

	go func() {
		for err := range c.wsClient.ErrorCh() {
			c.sendError(err)
		}
		wg.Wait()
		close(c.errorCh)
	}()

	return nil
}

// Send packs and sends a signaling message over the WebSocket connection.
func (c *Client) Send(msg gateway.ClientMessage) error {
	if c.wsClient == nil {
		return fmt.Errorf("ws client is not initialized")
	}

	data, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("failed to pack message: %w", err)
	}
	return c.wsClient.Send(ws.BinaryMessage, data)
}

func (c *Client) ReceiveCh() <-chan gateway.ClientMessage {
	return c.receiveCh
}

func (c *Client) ErrorCh() <-chan error {
	return c.errorCh
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.httpClient != nil {
			c.httpClient.CloseIdleConnections()
		}
		if c.wsClient != nil {
			err = c.wsClient.Close()
			close(c.receiveCh)
		}
	})
	return err
}

func (c *Client) sendError(err error) {
	select {
	case c.errorCh <- err:
	default:
		log.Printf("failed to send error: channel is full")
	}
}

func (c *Client) msgReader() {
	for msg := range c.wsClient.ReceiveCh() {
		if msg.Type != ws.BinaryMessage {
			c.sendError(fmt.Errorf("unexpected msg type: %d", msg.Type))
			continue
		}

		var cm gateway.ClientMessage
		if err := cm.Unpack(msg.Data); err != nil {
			c.sendError(fmt.Errorf("failed to unpack message: %w", err))
			continue
		}

		select {
		case c.receiveCh <- cm:
		default:
			c.sendError(fmt.Errorf("failed to send client message: channel is full"))
		}
	}
}
