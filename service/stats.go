// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	data := newHTTPData()
	defer s.httpAudit("getStats", data, w, r)

	clientID, code, err := s.authHandlerNoWrite(r)
	if err != nil {
		data.err = err.Error()
		data.code = code
		return
	}

	data.resData["sessions"] = s.metrics.SessionsTotal()

	var m = &model.Metric{}
	metric, err := s.metrics.WSConnections.GetMetricWith(prometheus.Labels{"clientID": clientID})
	if err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}
	if err := metric.Write(m); err != nil {
		data.err = err.Error()
		data.code = http.StatusInternalServerError
		return
	}
	data.resData["conns"] = m.Gauge.GetValue()

	data.code = http.StatusOK
}
