// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package auth

import (
	"errors"
	"fmt"

	"github.com/mattermost/sgwd/service/store"
)

// MinKeyLen is the minimum length for client provided auth keys.
const MinKeyLen = 32

type Service struct {
	store        store.Store
	sessionCache *SessionCache
}

func NewService(store store.Store, cache *SessionCache) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("invalid store")
	}
	if cache == nil {
		return nil, fmt.Errorf("invalid session cache")
	}
	return &Service{
		store:        store,
		sessionCache: cache,
	}, nil
}

func (s *Service) Authenticate(id, authKey string) error {
	hash, err := s.store.Get(id)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := compareKeyHash(hash, authKey); err != nil {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

func (s *Service) Register(id, authKey string) error {
	if len(authKey) < MinKeyLen {
		return fmt.Errorf("registration failed: key not long enough")
	}

	if _, err := s.store.Get(id); err == nil {
		return fmt.Errorf("registration failed: already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("registration failed: %w", err)
	}

	hash, err := hashKey(authKey)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	if err := s.store.Put(id, hash); errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("registration failed: already registered")
	} else if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	return nil
}

func (s *Service) Unregister(id string) error {
	if _, err := s.store.Get(id); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("unregister failed: %w", err)
	}

	s.sessionCache.Delete(id)

	return nil
}
