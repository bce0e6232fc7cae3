// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net"
	"testing"

	"github.com/mattermost/sgwd/client"

	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	srvc        *Service
	adminClient *client.Client
	cfg         Config
	tb          testing.TB
	apiURL      string
}

func MakeDefaultCfg(tb testing.TB) *Config {
	tb.Helper()

	var cfg Config
	cfg.SetDefaults()
	cfg.API.HTTP.ListenAddress = ":0"
	cfg.API.Security.EnableAdmin = true
	cfg.API.Security.AdminSecretKey = "admin_secret_key"
	cfg.Store.DataSource = tb.TempDir()
	cfg.Logger.EnableFile = false
	cfg.Logger.ConsoleLevel = "ERROR"

	return &cfg
}

func SetupTestHelper(tb testing.TB, cfg *Config) *TestHelper {
	tb.Helper()
	var err error

	if cfg == nil {
		cfg = MakeDefaultCfg(tb)
	}

	th := &TestHelper{
		cfg: *cfg,
		tb:  tb,
	}

	th.srvc, err = New(th.cfg)
	require.NoError(th.tb, err)
	require.NotNil(th.tb, th.srvc)

	err = th.srvc.Start()
	require.NoError(th.tb, err)

	_, port, err := net.SplitHostPort(th.srvc.apiServer.Addr())
	require.NoError(th.tb, err)
	th.apiURL = "http://localhost:" + port

	th.adminClient, err = client.New(client.Config{
		URL:     th.apiURL,
		AuthKey: th.srvc.cfg.API.Security.AdminSecretKey,
	})
	require.NoError(th.tb, err)
	require.NotNil(th.tb, th.adminClient)

	return th
}

func (th *TestHelper) Teardown() {
	err := th.adminClient.Close()
	require.NoError(th.tb, err)

	err = th.srvc.Stop()
	require.NoError(th.tb, err)
}
