// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityConfigIsValid(t *testing.T) {
	t.Run("empty struct", func(t *testing.T) {
		var cfg SecurityConfig
		err := cfg.IsValid()
		require.NoError(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		var cfg SecurityConfig
		cfg.EnableAdmin = true
		err := cfg.IsValid()
		require.Error(t, err)
		require.Equal(t, "invalid AdminSecretKey value: should not be empty", err.Error())
	})

	t.Run("valid", func(t *testing.T) {
		var cfg SecurityConfig
		cfg.EnableAdmin = true
		cfg.AdminSecretKey = "secret_key"
		err := cfg.IsValid()
		require.NoError(t, err)
	})
}

func TestStoreConfigIsValid(t *testing.T) {
	t.Run("empty struct", func(t *testing.T) {
		var cfg StoreConfig
		err := cfg.IsValid()
		require.Error(t, err)
		require.Equal(t, "invalid DataSource value: should not be empty", err.Error())
	})

	t.Run("valid", func(t *testing.T) {
		var cfg StoreConfig
		cfg.DataSource = "/tmp/sgwd_db"
		err := cfg.IsValid()
		require.NoError(t, err)
	})
}
