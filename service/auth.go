// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mattermost/sgwd/service/random"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const bearerTokenLen = 32

// authHandler authenticates an API or WebSocket upgrade request. It supports
// basic auth with registered client credentials, basic auth with the admin
// secret and bearer tokens issued through the login endpoint. A successful
// admin authentication yields an empty clientID.
func (s *Service) authHandler(w http.ResponseWriter, r *http.Request) (string, int, error) {
	clientID, authKey, ok := r.BasicAuth()
	if !ok {
		authHeader := r.Header.Get("Authorization")
		if token, found := strings.CutPrefix(authHeader, "Bearer "); found {
			session, err := s.sessionCache.Get(token)
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: %w", err)
			}
			return session.ClientID, http.StatusOK, nil
		}
		w.WriteHeader(http.StatusUnauthorized)
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: invalid auth header")
	}

	if s.cfg.API.Security.EnableAdmin && authKey == s.cfg.API.Security.AdminSecretKey {
		return "", http.StatusOK, nil
	}

	if clientID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed: unauthorized")
	}

	if err := s.auth.Authenticate(clientID, authKey); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		s.log.Error("authentication failed", mlog.Err(err))
		return "", http.StatusUnauthorized, fmt.Errorf("authentication failed")
	}

	return clientID, http.StatusOK, nil
}

func (s *Service) registerClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("registerClient", data, w, r)

	if !s.cfg.API.Security.EnableAdmin && !s.cfg.API.Security.AllowSelfRegistration {
		data.err = "registration is not enabled"
		data.code = http.StatusForbidden
		return
	}

	if !s.cfg.API.Security.AllowSelfRegistration {
		if _, code, err := s.authHandlerNoWrite(r); err != nil {
			data.err = err.Error()
			data.code = code
			return
		}
	}

	if err := json.NewDecoder(r.Body).Decode(&data.reqData); err != nil {
		data.err = "failed to decode request body: " + err.Error()
		data.code = http.StatusBadRequest
		return
	}

	clientID := data.reqData["clientID"]
	authKey := data.reqData["authKey"]
	if clientID == "" {
		data.err = "client id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	if err := s.auth.Register(clientID, authKey); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	s.log.Debug("registered new client", mlog.String("clientID", clientID))
	data.code = http.StatusCreated
	data.resData["clientID"] = clientID
}

func (s *Service) unregisterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("unregisterClient", data, w, r)

	if !s.cfg.API.Security.EnableAdmin && !s.cfg.API.Security.AllowSelfRegistration {
		data.err = "unregistering is not enabled"
		data.code = http.StatusForbidden
		return
	}

	clientID, code, err := s.authHandlerNoWrite(r)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	if err := json.NewDecoder(r.Body).Decode(&data.reqData); err != nil {
		data.err = "failed to decode request body: " + err.Error()
		data.code = http.StatusBadRequest
		return
	}

	reqClientID := data.reqData["clientID"]
	if reqClientID == "" {
		data.err = "client id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	// Non-admin clients can only unregister themselves.
	if clientID != "" && reqClientID != clientID {
		data.err = "not authorized to unregister a different client"
		data.code = http.StatusForbidden
		return
	}

	if err := s.auth.Unregister(reqClientID); err != nil {
		data.err = err.Error()
		data.code = http.StatusBadRequest
		return
	}

	s.log.Debug("unregistered client", mlog.String("clientID", reqClientID))
	data.code = http.StatusOK
}

func (s *Service) loginClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("loginClient", data, w, r)

	if err := json.NewDecoder(r.Body).Decode(&data.reqData); err != nil {
		data.err = "failed to decode request body: " + err.Error()
		data.code = http.StatusBadRequest
		return
	}

	clientID := data.reqData["clientID"]
	authKey := data.reqData["authKey"]
	if clientID == "" {
		data.err = "client id should not be empty"
		data.code = http.StatusBadRequest
		return
	}

	if err := s.auth.Authenticate(clientID, authKey); err != nil {
		data.err = err.Error()
		data.code = http.StatusUnauthorized
		return
	}

	token, err := random.NewSecureString(bearerTokenLen)
	if err != nil {
		data.err = "failed to generate token"
		data.code = http.StatusInternalServerError
		return
	}
	if err := s.sessionCache.Put(clientID, token); err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}

	s.log.Debug("logged in client", mlog.String("clientID", clientID))
	data.code = http.StatusOK
	data.resData["bearerToken"] = token
}

// authHandlerNoWrite authenticates without writing to the response, for
// handlers that produce their own JSON body through httpAudit.
func (s *Service) authHandlerNoWrite(r *http.Request) (string, int, error) {
	return s.authHandler(noopResponseWriter{}, r)
}

type noopResponseWriter struct{}

func (noopResponseWriter) Header() http.Header       { return http.Header{} }
func (noopResponseWriter) Write([]byte) (int, error) { return 0, nil }
func (noopResponseWriter) WriteHeader(int)           {}
