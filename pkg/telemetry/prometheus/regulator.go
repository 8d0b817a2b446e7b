// Copyright 2025 Streamware, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const ratecontrolNamespace string = "ratecontrol"

var (
	initialized atomic.Bool

	promBitrate      *prometheus.GaugeVec
	promCeiling      *prometheus.GaugeVec
	promRTT          prometheus.Gauge
	promPIF          prometheus.Gauge
	promActionTotal  *prometheus.CounterVec
	promTickTotal    *prometheus.CounterVec
	promTickDuration prometheus.Histogram
)

func Init(streamID string, algorithm string) {
	if initialized.Swap(true) {
		return
	}

	constLabels := prometheus.Labels{"stream_id": streamID, "algorithm": algorithm}

	promBitrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "regulator",
		Name:        "bitrate_bps",
		ConstLabels: constLabels,
	}, []string{"kind"})
	promCeiling = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "regulator",
		Name:        "ceiling_bps",
		ConstLabels: constLabels,
	}, []string{"kind"})
	promRTT = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "transport",
		Name:        "rtt_ms",
		ConstLabels: constLabels,
	})
	promPIF = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "transport",
		Name:        "packets_in_flight",
		ConstLabels: constLabels,
	})
	promActionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "regulator",
		Name:        "action_total",
		ConstLabels: constLabels,
	}, []string{"action"})
	promTickTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "regulator",
		Name:        "tick_total",
		ConstLabels: constLabels,
	}, []string{"result"})
	promTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   ratecontrolNamespace,
		Subsystem:   "regulator",
		Name:        "tick_duration_seconds",
		ConstLabels: constLabels,
		Buckets:     prometheus.DefBuckets,
	})

	prometheus.MustRegister(promBitrate)
	prometheus.MustRegister(promCeiling)
	prometheus.MustRegister(promRTT)
	prometheus.MustRegister(promPIF)
	prometheus.MustRegister(promActionTotal)
	prometheus.MustRegister(promTickTotal)
	prometheus.MustRegister(promTickDuration)
}

func RecordBitrate(targetBps int64, ceilingBps int64) {
	if !initialized.Load() {
		return
	}
	promBitrate.WithLabelValues("target").Set(float64(targetBps))
	promCeiling.WithLabelValues("target").Set(float64(ceilingBps))
}

func RecordTransport(rttMs float64, packetsInFlight float64) {
	if !initialized.Load() {
		return
	}
	promRTT.Set(rttMs)
	promPIF.Set(packetsInFlight)
}

func RecordAction(action string) {
	if !initialized.Load() {
		return
	}
	promActionTotal.WithLabelValues(action).Inc()
}

func RecordTick(result string, duration float64) {
	if !initialized.Load() {
		return
	}
	promTickTotal.WithLabelValues(result).Inc()
	promTickDuration.Observe(duration)
}
