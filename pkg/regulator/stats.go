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

package regulator

import (
	"go.uber.org/zap/zapcore"
)

// StatsSnapshot is one tick's readout of transport health. It is produced by
// the transport collaborator (e.g. an SRT connection) and consumed by the
// controller; the regulator never talks to the network directly.
type StatsSnapshot struct {
	// round-trip time in milliseconds, a snapshot with a non-positive RTT
	// is discarded without touching any regulator state
	RTTMs float64

	// packets sent but not yet acknowledged, held in the transport send buffer
	PacketsInFlight float64

	// instantaneous send rate estimate, <= 0 when no sample is available
	// for this tick
	SendRateMbps float64

	// transport link bandwidth estimate, 0 when unknown; used only as a
	// clamp on the regulated bitrate, never as a target
	BandwidthMbps float64
}

// Valid reports whether the snapshot carries a measured RTT.
func (s StatsSnapshot) Valid() bool {
	return s.RTTMs > 0
}

func (s StatsSnapshot) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddFloat64("rttMs", s.RTTMs)
	e.AddFloat64("packetsInFlight", s.PacketsInFlight)
	e.AddFloat64("sendRateMbps", s.SendRateMbps)
	e.AddFloat64("bandwidthMbps", s.BandwidthMbps)
	return nil
}

// ------------------------------------------------
