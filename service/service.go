// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	httppprof "net/http/pprof"

	"github.com/mattermost/sgwd/logger"
	"github.com/mattermost/sgwd/service/api"
	"github.com/mattermost/sgwd/service/auth"
	"github.com/mattermost/sgwd/service/gateway"
	"github.com/mattermost/sgwd/service/media"
	"github.com/mattermost/sgwd/service/perf"
	"github.com/mattermost/sgwd/service/registry"
	"github.com/mattermost/sgwd/service/rpc"
	"github.com/mattermost/sgwd/service/store"
	"github.com/mattermost/sgwd/service/ws"

	"github.com/grafana/pyroscope-go/godeltaprof/http/pprof"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
)

type Service struct {
	cfg          Config
	apiServer    *api.Server
	wsServer     *ws.Server
	gateway      *gateway.Gateway
	store        store.Store
	auth         *auth.Service
	sessionCache *auth.SessionCache
	metrics      *perf.Metrics
	log          *mlog.Logger
	proc         procfs.FS

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		log:     log,
		metrics: perf.NewMetrics("sgwd", nil),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	s.log.Info("starting up", getVersionInfo().logFields()...)

	s.store, err = store.New(cfg.Store.DataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	s.log.Info("initiated data store", mlog.String("DataSource", cfg.Store.DataSource))

	s.sessionCache, err = auth.NewSessionCache(cfg.API.Security.SessionCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}

	s.auth, err = auth.NewService(s.store, s.sessionCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}
	s.log.Info("initiated auth service")

	s.proc, err = procfs.NewDefaultFS()
	if err != nil {
		s.log.Warn("failed to create procfs", mlog.Err(err))
	}

	s.apiServer, err = api.NewServer(cfg.API.HTTP, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.wsServer, err = ws.NewServer(cfg.WS, log, ws.WithAuthCb(s.authHandler))
	if err != nil {
		return nil, fmt.Errorf("failed to create ws server: %w", err)
	}

	registryClient, err := registry.NewClient(cfg.Registry, log, rpc.WithMetrics(s.metrics, "registry"))
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client: %w", err)
	}

	mediaClient, err := media.NewClient(cfg.Media, log, rpc.WithMetrics(s.metrics, "media"))
	if err != nil {
		return nil, fmt.Errorf("failed to create media client: %w", err)
	}

	s.gateway, err = gateway.New(cfg.Gateway, registryClient, mediaClient, &wsSender{s.wsServer}, log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	s.apiServer.RegisterHandleFunc("/version", s.getVersion)
	s.apiServer.RegisterHandleFunc("/system", s.getSystemInfo)
	s.apiServer.RegisterHandleFunc("/stats", s.getStats)
	s.apiServer.RegisterHandleFunc("/login", s.loginClient)
	s.apiServer.RegisterHandleFunc("/register", s.registerClient)
	s.apiServer.RegisterHandleFunc("/unregister", s.unregisterClient)
	s.apiServer.RegisterHandler("/metrics", s.metrics.Handler())
	s.apiServer.RegisterHandler("/ws", s.wsServer)

	s.apiServer.RegisterHandleFunc("/debug/pprof/", httppprof.Index)
	s.apiServer.RegisterHandleFunc("/debug/pprof/profile", httppprof.Profile)
	s.apiServer.RegisterHandleFunc("/debug/pprof/trace", httppprof.Trace)
	s.apiServer.RegisterHandleFunc("/debug/pprof/delta_heap", pprof.Heap)
	s.apiServer.RegisterHandleFunc("/debug/pprof/delta_block", pprof.Block)
	s.apiServer.RegisterHandleFunc("/debug/pprof/delta_mutex", pprof.Mutex)

	return s, nil
}

// wsSender adapts the WebSocket server to the gateway's outbound interface.
type wsSender struct {
	ws *ws.Server
}

func (s *wsSender) Send(connID string, cm *gateway.ClientMessage) error {
	data, err := cm.Pack()
	if err != nil {
		return fmt.Errorf("failed to pack message: %w", err)
	}
	return s.ws.Send(ws.Message{
		ConnID: connID,
		Type:   ws.BinaryMessage,
		Data:   data,
	})
}

func (s *Service) Start() error {
	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	go s.messagePump()

	return nil
}

// messagePump drains the WebSocket server's receiving channel and dispatches
// each inbound message to the gateway on its own goroutine.
func (s *Service) messagePump() {
	defer close(s.doneCh)

	for {
		select {
		case msg, ok := <-s.wsServer.ReceiveCh():
			if !ok {
				return
			}
			s.handleWSMessage(msg)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) handleWSMessage(msg ws.Message) {
	switch msg.Type {
	case ws.OpenMessage:
		s.metrics.IncWSConnections(msg.ClientID)
		s.log.Debug("connection opened",
			mlog.String("connID", msg.ConnID), mlog.String("clientID", msg.ClientID))
	case ws.CloseMessage:
		s.metrics.DecWSConnections(msg.ClientID)
		go s.gateway.HandleClose(msg.ConnID)
	case ws.BinaryMessage, ws.TextMessage:
		s.metrics.IncWSMessages(msg.ClientID, "signaling", "in")
		go s.gateway.HandleClientMessage(msg.ConnID, msg.Data)
	}
}

func (s *Service) Stop() error {
	s.log.Info("shutting down")

	s.wsServer.Close()

	close(s.stopCh)
	<-s.doneCh

	if err := s.apiServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop API server: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	if err := s.log.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown logger: %w", err)
	}

	return nil
}
