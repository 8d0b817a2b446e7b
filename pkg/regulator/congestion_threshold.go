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
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/streamware/ratecontrol/pkg/telemetry/prometheus"
)

const (
	// typical transport payload size, used to express buffered data in packets
	packetPayloadBytes = 1316
)

// ------------------------------------------------

type congestionAction int

const (
	congestionActionHold congestionAction = iota
	congestionActionSevere
	congestionActionFastDecrease
	congestionActionDecrease
	congestionActionIncrease
)

func (c congestionAction) String() string {
	switch c {
	case congestionActionHold:
		return "HOLD"
	case congestionActionSevere:
		return "SEVERE"
	case congestionActionFastDecrease:
		return "FAST_DECREASE"
	case congestionActionDecrease:
		return "DECREASE"
	case congestionActionIncrease:
		return "INCREASE"
	default:
		return fmt.Sprintf("%d", int(c))
	}
}

// ------------------------------------------------

type CongestionThresholdConfig struct {
	// end-to-end latency budget of the transport link; the RTT trip points
	// of the decision cascade are fractions of it
	AssumedLatency time.Duration `yaml:"assumed_latency,omitempty"`

	// per-rule cooldowns gating how often each adjustment may fire
	SevereCooldown   time.Duration `yaml:"severe_cooldown,omitempty"`
	FastCooldown     time.Duration `yaml:"fast_cooldown,omitempty"`
	DecreaseCooldown time.Duration `yaml:"decrease_cooldown,omitempty"`
	IncreaseCooldown time.Duration `yaml:"increase_cooldown,omitempty"`
}

var DefaultCongestionThresholdConfig = CongestionThresholdConfig{
	AssumedLatency:   2 * time.Second,
	SevereCooldown:   200 * time.Millisecond,
	FastCooldown:     250 * time.Millisecond,
	DecreaseCooldown: 200 * time.Millisecond,
	IncreaseCooldown: 400 * time.Millisecond,
}

// ------------------------------------------------

// CongestionThresholdRegulator reacts to escalating send-buffer and RTT
// thresholds. The send-buffer occupancy is not read from the transport, it
// is implied from throughput and RTT; see the package design notes for why
// the indirect estimate is kept.
type CongestionThresholdRegulator struct {
	params Params
	config CongestionThresholdConfig

	started bool

	prevRTTMs     float64
	avgRTTMs      float64
	rttDeltaAvgMs float64
	minRTTMs      float64
	rttJitterMs   float64

	prevSendBufferSize float64
	avgSendBufferSize  float64
	sendBufferJitter   float64

	throughputBps float64

	targetBitrate  int64
	currentBitrate int64

	nextSevereAllowed   time.Time
	nextFastAllowed     time.Time
	nextDecreaseAllowed time.Time
	nextIncreaseAllowed time.Time
}

func NewCongestionThresholdRegulator(params Params) *CongestionThresholdRegulator {
	return &CongestionThresholdRegulator{
		params: params,
		config: params.Config.CongestionThreshold,
	}
}

func (c *CongestionThresholdRegulator) CurrentBitrate() int64 {
	return c.currentBitrate
}

func (c *CongestionThresholdRegulator) CurrentCeiling() int64 {
	return c.targetBitrate
}

// SetTargetBitrate adjusts the ceiling the bitrate may climb toward without
// resetting accumulated smoothing state.
func (c *CongestionThresholdRegulator) SetTargetBitrate(bitrateBps int64) {
	c.targetBitrate = boundBitrate(bitrateBps, c.params.Config.BitrateMin, c.params.Config.BitrateMax)
}

func (c *CongestionThresholdRegulator) Update(snapshot StatsSnapshot, currentVideoBitrateBps int64, currentAudioBitrateBps int64) int64 {
	if !snapshot.Valid() {
		return c.currentBitrate
	}

	if !c.started {
		c.seed(snapshot, currentVideoBitrateBps, currentAudioBitrateBps)
	}

	c.updateEstimators(snapshot)

	action, bitrate := c.decide(snapshot)

	// transport bandwidth estimate acts as a hard lid with headroom for probing
	if snapshot.BandwidthMbps > 0 {
		estimateBps := snapshot.BandwidthMbps * 1e6
		lid := int64(estimateBps + 1e6)
		if scaled := int64(estimateBps * 1.7); scaled > lid {
			lid = scaled
		}
		if bitrate > lid {
			bitrate = lid
		}
	}

	bitrate = boundBitrate(bitrate, c.params.Config.BitrateMin, c.targetBitrate)
	if action != congestionActionHold {
		prometheus.RecordAction(action.String())
	}
	if action != congestionActionHold && bitrate != c.currentBitrate {
		c.params.Logger.Debugw(
			"congestion threshold: bitrate adjusted",
			"action", action,
			"old(bps)", c.currentBitrate,
			"new(bps)", bitrate,
			"snapshot", snapshot,
			"state", c,
		)
	}
	c.currentBitrate = bitrate

	return c.currentBitrate
}

// seed initializes the smoothed estimators from the first valid snapshot so
// ramp-up starts from where encoding already is rather than from zero.
func (c *CongestionThresholdRegulator) seed(snapshot StatsSnapshot, currentVideoBitrateBps int64, currentAudioBitrateBps int64) {
	c.targetBitrate = c.params.Config.BitrateMax
	c.currentBitrate = boundBitrate(currentVideoBitrateBps, c.params.Config.BitrateMin, c.targetBitrate)
	c.throughputBps = float64(currentVideoBitrateBps + currentAudioBitrateBps)

	c.prevRTTMs = snapshot.RTTMs
	c.avgRTTMs = snapshot.RTTMs
	c.minRTTMs = snapshot.RTTMs

	c.started = true
}

func (c *CongestionThresholdRegulator) updateEstimators(snapshot StatsSnapshot) {
	if snapshot.SendRateMbps > 0 {
		c.throughputBps = c.throughputBps*0.97 + snapshot.SendRateMbps*1e6*0.03
	}

	sendBufferSize := c.impliedSendBufferSize(snapshot.RTTMs)
	c.avgSendBufferSize = c.avgSendBufferSize*0.99 + sendBufferSize*0.01
	c.sendBufferJitter *= 0.99
	if delta := sendBufferSize - c.prevSendBufferSize; delta > c.sendBufferJitter {
		c.sendBufferJitter = delta
	}
	c.prevSendBufferSize = sendBufferSize

	rtt := snapshot.RTTMs
	c.avgRTTMs = c.avgRTTMs*0.99 + rtt*0.01

	rttDelta := rtt - c.prevRTTMs
	c.prevRTTMs = rtt
	c.rttDeltaAvgMs = c.rttDeltaAvgMs*0.8 + rttDelta*0.2

	// the floor rises slowly so a stale minimum cannot suppress increases
	// forever; it snaps back down when a stable low RTT shows up
	c.minRTTMs *= 1.001
	if rtt < c.minRTTMs && c.rttDeltaAvgMs < 1.0 {
		c.minRTTMs = rtt
	}

	c.rttJitterMs *= 0.99
	if rttDelta > c.rttJitterMs {
		c.rttJitterMs = rttDelta
	}
}

// impliedSendBufferSize estimates buffered packets from throughput and RTT.
func (c *CongestionThresholdRegulator) impliedSendBufferSize(rttMs float64) float64 {
	return (c.throughputBps / 8) * (rttMs / 1000) / packetPayloadBytes
}

func (c *CongestionThresholdRegulator) decide(snapshot StatsSnapshot) (congestionAction, int64) {
	rtt := snapshot.RTTMs
	sendBufferSize := c.prevSendBufferSize

	th1, th2, th3 := c.sendBufferThresholds()
	rttThMax, rttThMin := c.rttThresholds()
	latencyMs := float64(c.config.AssumedLatency.Milliseconds())

	now := c.params.Clock.Now()
	bitrate := c.currentBitrate

	// first matching rule wins; a rule inside its cooldown window holds
	// instead of falling through to a weaker one
	switch {
	case rtt >= latencyMs/3 || sendBufferSize > th3:
		if now.Before(c.nextSevereAllowed) {
			return congestionActionHold, bitrate
		}
		c.nextSevereAllowed = now.Add(c.config.SevereCooldown)
		return congestionActionSevere, c.params.Config.BitrateMin

	case rtt > latencyMs/5 || sendBufferSize > th2:
		if now.Before(c.nextFastAllowed) {
			return congestionActionHold, bitrate
		}
		c.nextFastAllowed = now.Add(c.config.FastCooldown)
		decrease := bitrate / 10
		if decrease < 100_000 {
			decrease = 100_000
		}
		return congestionActionFastDecrease, bitrate - decrease

	case rtt > rttThMax || sendBufferSize > th1:
		if now.Before(c.nextDecreaseAllowed) {
			return congestionActionHold, bitrate
		}
		c.nextDecreaseAllowed = now.Add(c.config.DecreaseCooldown)
		return congestionActionDecrease, bitrate - 100_000

	case rtt < rttThMin && c.rttDeltaAvgMs < 0.01:
		if now.Before(c.nextIncreaseAllowed) {
			return congestionActionHold, bitrate
		}
		c.nextIncreaseAllowed = now.Add(c.config.IncreaseCooldown)
		increase := bitrate / 30
		if increase < 100_000 {
			increase = 100_000
		}
		return congestionActionIncrease, bitrate + increase
	}

	return congestionActionHold, bitrate
}

func (c *CongestionThresholdRegulator) sendBufferThresholds() (float64, float64, float64) {
	th1 := c.avgSendBufferSize + maxFloat(c.sendBufferJitter*2.5, c.avgSendBufferSize*0.75)
	if th1 < 50 {
		th1 = 50
	}

	th2 := c.avgSendBufferSize + maxFloat(c.sendBufferJitter*3.0, c.avgSendBufferSize)
	if th2 < 100 {
		th2 = 100
	}
	// buffering worth half the latency budget is already trouble, do not
	// let a noisy average push the trip point above it
	halfLatencyMs := float64(c.config.AssumedLatency.Milliseconds()) / 2
	if latencyBufferSize := c.impliedSendBufferSize(halfLatencyMs); th2 > latencyBufferSize {
		th2 = latencyBufferSize
	}

	th3 := (c.avgSendBufferSize + c.sendBufferJitter) * 4

	return th1, th2, th3
}

func (c *CongestionThresholdRegulator) rttThresholds() (float64, float64) {
	rttThMax := c.avgRTTMs + maxFloat(c.rttJitterMs*4, c.avgRTTMs*0.15)
	rttThMin := c.minRTTMs + maxFloat(1, c.rttJitterMs*2)
	return rttThMax, rttThMin
}

func (c *CongestionThresholdRegulator) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddInt64("currentBitrate", c.currentBitrate)
	e.AddInt64("targetBitrate", c.targetBitrate)
	e.AddFloat64("avgRTTMs", c.avgRTTMs)
	e.AddFloat64("minRTTMs", c.minRTTMs)
	e.AddFloat64("rttJitterMs", c.rttJitterMs)
	e.AddFloat64("rttDeltaAvgMs", c.rttDeltaAvgMs)
	e.AddFloat64("avgSendBufferSize", c.avgSendBufferSize)
	e.AddFloat64("sendBufferJitter", c.sendBufferJitter)
	e.AddFloat64("throughputBps", c.throughputBps)
	return nil
}

// ------------------------------------------------

func maxFloat(a float64, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ------------------------------------------------
