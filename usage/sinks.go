// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package usage

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/saucelabs/relay/log"
)

// LogSink writes records to the logger at debug level.
type LogSink struct {
	Log log.Logger
}

func (s LogSink) Write(r Record) {
	s.Log.Debugf("usage owner=%s app=%s endpoint=%s status=%d duration=%s",
		r.OwnerID, r.AppID, r.Endpoint, r.Status, r.Duration)
}

// PromSink exposes usage as prometheus metrics partitioned by endpoint and
// status. Owner and app are not labels, their cardinality is unbounded.
type PromSink struct {
	records  *prometheus.CounterVec
	duration *prometheus.SummaryVec
}

func NewPromSink(r prometheus.Registerer, namespace string) *PromSink {
	if r == nil {
		r = prometheus.NewRegistry()
	}
	f := promauto.With(r)

	return &PromSink{
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_total",
			Help:      "Total number of proxied requests recorded.",
		}, []string{"endpoint", "code"}),
		duration: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Name:      "usage_request_duration_seconds",
			Help:      "Duration of proxied requests.",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.001,
			},
		}, []string{"endpoint"}),
	}
}

func (s *PromSink) Write(r Record) {
	s.records.WithLabelValues(r.Endpoint, strconv.Itoa(r.Status)).Inc()
	s.duration.WithLabelValues(r.Endpoint).Observe(r.Duration.Seconds())
}
