// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const (
	sendChSize    = 256
	receiveChSize = 256
	writeWaitTime = 10 * time.Second
)

// AuthCb is called prior to performing the websocket upgrade. Returning an
// error aborts the upgrade with the given HTTP status code. The returned
// clientID is attached to the connection and carried on every message it
// produces.
type AuthCb func(w http.ResponseWriter, r *http.Request) (string, int, error)

type ServerOption func(s *Server) error

// WithAuthCb lets the caller set an optional callback to authenticate
// incoming connections.
func WithAuthCb(cb AuthCb) ServerOption {
	return func(s *Server) error {
		s.authCb = cb
		return nil
	}
}

type Server struct {
	cfg       ServerConfig
	log       mlog.LoggerIFace
	conns     map[string]*conn
	authCb    AuthCb
	mut       sync.RWMutex
	sendCh    chan Message
	receiveCh chan Message

	closed   bool
	closeMut sync.RWMutex
}

func NewServer(cfg ServerConfig, log mlog.LoggerIFace, opts ...ServerOption) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		log:       log,
		conns:     make(map[string]*conn),
		sendCh:    make(chan Message, sendChSize),
		receiveCh: make(chan Message, receiveChSize),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	go s.connWriter()

	return s, nil
}

// Send queues the given message for delivery on its target connection.
func (s *Server) Send(msg Message) error {
	s.closeMut.RLock()
	defer s.closeMut.RUnlock()
	if s.closed {
		return fmt.Errorf("server is closed")
	}
	select {
	case s.sendCh <- msg:
	default:
		return fmt.Errorf("failed to send message: channel is full")
	}
	return nil
}

func (s *Server) ReceiveCh() <-chan Message {
	return s.receiveCh
}

// receive emits a message on the receiving channel unless the server has been
// closed already.
func (s *Server) receive(msg Message) bool {
	s.closeMut.RLock()
	defer s.closeMut.RUnlock()
	if s.closed {
		return false
	}
	s.receiveCh <- msg
	return true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.closeMut.RLock()
	if s.closed {
		s.closeMut.RUnlock()
		http.Error(w, "server is closed", http.StatusServiceUnavailable)
		return
	}
	s.closeMut.RUnlock()

	connID := newID()

	var clientID string
	if s.authCb != nil {
		id, code, err := s.authCb(w, r)
		if err != nil {
			s.log.Error("ws: auth callback failed", mlog.Err(err), mlog.Int("code", code))
			return
		}
		clientID = id
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws: failed to upgrade connection", mlog.Err(err))
		return
	}
	ws.SetReadLimit(connMaxReadBytes)

	conn := newConn(connID, clientID, ws)
	defer conn.close()
	defer close(conn.closeCh)
	s.addConn(conn)

	s.receive(newOpenMessage(connID, clientID))

	defer func() {
		s.receive(newCloseMessage(connID, clientID))
	}()
	defer s.removeConn(conn.id)

	if err := ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval)); err != nil {
		s.log.Error("ws: failed to set read deadline", mlog.Err(err))
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})

	go s.connPinger(conn)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.log.Debug("ws: read failed", mlog.Err(err), mlog.String("connID", connID))
			break
		}

		if !conn.limiter.Allow() {
			s.log.Warn("ws: dropping message, rate limit exceeded", mlog.String("connID", connID))
			continue
		}

		var msgType MessageType
		if mt == websocket.TextMessage {
			msgType = TextMessage
		} else if mt == websocket.BinaryMessage {
			msgType = BinaryMessage
		}
		s.receive(Message{
			ConnID:   connID,
			ClientID: clientID,
			Type:     msgType,
			Data:     data,
		})
	}
}

func (s *Server) Close() {
	s.closeMut.Lock()
	if s.closed {
		s.closeMut.Unlock()
		return
	}
	s.closed = true
	s.closeMut.Unlock()

	conns := s.getConns()
	for _, conn := range conns {
		if err := conn.close(); err != nil {
			s.log.Error("ws: failed to close conn", mlog.Err(err))
		}
		<-conn.closeCh
	}
	close(s.receiveCh)
	close(s.sendCh)
}

func (s *Server) connPinger(c *conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWaitTime)); err != nil {
				s.log.Debug("ws: failed to write ping message", mlog.Err(err), mlog.String("connID", c.id))
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (s *Server) connWriter() {
	for msg := range s.sendCh {
		conn := s.getConn(msg.ConnID)
		if conn == nil {
			s.log.Debug("ws: failed to get conn for sending", mlog.String("connID", msg.ConnID))
			continue
		}

		var msgType int
		if msg.Type == TextMessage {
			msgType = websocket.TextMessage
		} else if msg.Type == BinaryMessage {
			msgType = websocket.BinaryMessage
		} else if msg.Type == CloseMessage {
			msgType = websocket.CloseMessage
		}

		if err := conn.ws.SetWriteDeadline(time.Now().Add(writeWaitTime)); err != nil {
			s.log.Error("ws: failed to set write deadline", mlog.Err(err), mlog.String("connID", msg.ConnID))
		}
		if err := conn.ws.WriteMessage(msgType, msg.Data); err != nil {
			s.log.Error("ws: failed to write message", mlog.String("connID", msg.ConnID), mlog.Err(err))
		}
	}
}
