////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rendererWorker

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "blocking_renderer"

// Values of the result label of renders_total.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultDropped = "dropped"
)

// metrics are the collectors updated by the render worker.
type metrics struct {
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	inFlight       prometheus.Gauge
	protocolErrors prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "renders_total",
			Help:      "Render requests handled by language and result.",
		}, []string{"lang", "result"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "render_duration_seconds",
			Help:      "Time from receiving a render request to posting its HTML.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "in_flight",
			Help:      "Render requests that have not posted their HTML yet.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Received messages rejected as unrecognized.",
		}),
	}
}

// register adds every collector to the registerer. A nil registerer is
// ignored.
func (m *metrics) register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{
		m.renders, m.renderDuration, m.inFlight, m.protocolErrors} {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "failed to register render worker metrics")
		}
	}
	return nil
}
