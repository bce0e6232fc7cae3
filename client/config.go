// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package client

import (
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	// URL is the HTTP(S) URL of the signaling gateway to connect to.
	URL string
	// ClientID is the id of a registered API client.
	ClientID string
	// AuthKey is the secret key matching ClientID.
	AuthKey string
	// AuthToken is a bearer token obtained through Login. When set it takes
	// precedence over ClientID/AuthKey for the WebSocket connection.
	AuthToken string

	httpURL string
	wsURL   string
}

func (c *Config) Parse() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}

	c.httpURL = u.String()

	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else {
		u.Scheme = "wss"
	}
	u.Path += "/ws"
	c.wsURL = u.String()

	return nil
}
