// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package rpc

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	// URL is the base URL of the remote service.
	URL string `toml:"url"`
	// AuthToken is an optional bearer token attached to every request.
	AuthToken string `toml:"auth_token"`
	// RequestTimeout is the per-call timeout.
	RequestTimeout time.Duration `toml:"request_timeout"`
}

func (c Config) IsValid() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("invalid RequestTimeout value: should not be negative")
	}
	return nil
}

func (c *Config) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
}
