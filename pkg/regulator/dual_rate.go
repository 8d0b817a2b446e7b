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

// ------------------------------------------------

type DualRateProfile string

const (
	DualRateProfileFast DualRateProfile = "fast"
	DualRateProfileSlow DualRateProfile = "slow"
)

// DualRateSettings is one tunable profile of the dual-rate regulator. The
// profile may be swapped live without discarding accumulated smoothing state.
type DualRateSettings struct {
	// packets-in-flight span the bitrate is scaled against; congestion
	// spikes beyond it saturate the scaling
	PacketsInFlight float64 `yaml:"packets_in_flight,omitempty"`

	// bits per second added to the ceiling per tick on a calm link
	PIFDiffIncreaseFactor int64 `yaml:"pif_diff_increase_factor,omitempty"`

	// instantaneous RTT spike over the average that triggers a decrease
	RTTSpikeAllowedMs   float64 `yaml:"rtt_spike_allowed_ms,omitempty"`
	RTTSpikeFactor      float64 `yaml:"rtt_spike_factor,omitempty"`
	RTTSpikeMinDecrease int64   `yaml:"rtt_spike_min_decrease,omitempty"`

	MinimumBitrate int64 `yaml:"minimum_bitrate,omitempty"`
}

var (
	DualRateSettingsFast = DualRateSettings{
		PacketsInFlight:       200,
		PIFDiffIncreaseFactor: 100_000,
		RTTSpikeAllowedMs:     50,
		RTTSpikeFactor:        0.9,
		RTTSpikeMinDecrease:   250_000,
		MinimumBitrate:        250_000,
	}

	DualRateSettingsSlow = DualRateSettings{
		PacketsInFlight:       500,
		PIFDiffIncreaseFactor: 25_000,
		RTTSpikeAllowedMs:     100,
		RTTSpikeFactor:        0.95,
		RTTSpikeMinDecrease:   100_000,
		MinimumBitrate:        50_000,
	}
)

type DualRateConfig struct {
	Profile DualRateProfile  `yaml:"profile,omitempty"`
	Fast    DualRateSettings `yaml:"fast,omitempty"`
	Slow    DualRateSettings `yaml:"slow,omitempty"`

	// jitter bands that must hold for the ceiling to grow
	AllowedRTTJitterMs float64 `yaml:"allowed_rtt_jitter_ms,omitempty"`
	AllowedPIFJitter   float64 `yaml:"allowed_pif_jitter,omitempty"`
}

var DefaultDualRateConfig = DualRateConfig{
	Profile:            DualRateProfileFast,
	Fast:               DualRateSettingsFast,
	Slow:               DualRateSettingsSlow,
	AllowedRTTJitterMs: 15,
	AllowedPIFJitter:   10,
}

const (
	// fixed trip points independent of the active profile
	dualRateSmoothPIFCap = 100
	dualRateAvgRTTCapMs  = 450
	dualRateAvgRTTMax    = 250
	dualRateCapDecrease  = 250_000
	dualRateCapFactor    = 0.9
)

// ------------------------------------------------

// DualRateRegulator maintains an adaptive ceiling and an instantaneous
// bitrate derived from it. Packets-in-flight and RTT are each tracked with a
// slow and a fast estimator; the gap between the two is the congestion
// signal.
type DualRateRegulator struct {
	params   Params
	config   DualRateConfig
	settings DualRateSettings

	started bool

	smoothPIF float64
	fastPIF   float64
	avgRTTMs  float64
	fastRTTMs float64

	targetBitrate  int64
	ceilingBitrate int64
	currentBitrate int64
}

func NewDualRateRegulator(params Params) *DualRateRegulator {
	d := &DualRateRegulator{
		params: params,
		config: params.Config.DualRate,
	}
	d.settings = d.config.Fast
	if d.config.Profile == DualRateProfileSlow {
		d.settings = d.config.Slow
	}
	return d
}

func (d *DualRateRegulator) CurrentBitrate() int64 {
	return d.currentBitrate
}

func (d *DualRateRegulator) CurrentCeiling() int64 {
	return d.ceilingBitrate
}

func (d *DualRateRegulator) SmoothedPIF() float64 {
	return d.smoothPIF
}

func (d *DualRateRegulator) FastPIF() float64 {
	return d.fastPIF
}

// SetSettings switches the active profile. Smoothing state and the current
// ceiling carry over so a live switch only changes subsequent adjustment
// magnitudes.
func (d *DualRateRegulator) SetSettings(settings DualRateSettings) {
	d.settings = settings
}

// SetProfile is a convenience wrapper selecting one of the configured
// profiles by name.
func (d *DualRateRegulator) SetProfile(profile DualRateProfile) {
	switch profile {
	case DualRateProfileFast:
		d.SetSettings(d.config.Fast)
	case DualRateProfileSlow:
		d.SetSettings(d.config.Slow)
	}
}

// SetTargetBitrate adjusts the ceiling's upper bound without resetting
// smoothing state.
func (d *DualRateRegulator) SetTargetBitrate(bitrateBps int64) {
	d.targetBitrate = boundBitrate(bitrateBps, d.params.Config.BitrateMin, d.params.Config.BitrateMax)
}

func (d *DualRateRegulator) Update(snapshot StatsSnapshot, currentVideoBitrateBps int64, currentAudioBitrateBps int64) int64 {
	if !snapshot.Valid() {
		return d.currentBitrate
	}

	if !d.started {
		d.seed(snapshot, currentVideoBitrateBps)
	}

	d.updatePIF(snapshot)
	d.updateRTT(snapshot)

	d.maybeIncreaseCeiling(snapshot)
	d.decreaseCeilingIfPIFIsHigh()
	d.decreaseCeilingIfRTTIsHigh()
	d.decreaseCeilingIfRTTSpikes(snapshot)

	bitrate := d.deriveBitrate(snapshot)
	bitrate = boundBitrate(bitrate, d.params.Config.BitrateMin, d.params.Config.BitrateMax)
	if bitrate != d.currentBitrate {
		d.params.Logger.Debugw(
			"dual rate: bitrate adjusted",
			"old(bps)", d.currentBitrate,
			"new(bps)", bitrate,
			"snapshot", snapshot,
			"state", d,
		)
	}
	d.currentBitrate = bitrate

	return d.currentBitrate
}

func (d *DualRateRegulator) seed(snapshot StatsSnapshot, currentVideoBitrateBps int64) {
	d.targetBitrate = d.params.Config.BitrateMax
	d.ceilingBitrate = boundBitrate(currentVideoBitrateBps, d.settings.MinimumBitrate, d.targetBitrate)
	d.currentBitrate = d.ceilingBitrate

	d.smoothPIF = snapshot.PacketsInFlight
	d.fastPIF = snapshot.PacketsInFlight
	d.avgRTTMs = snapshot.RTTMs
	d.fastRTTMs = snapshot.RTTMs

	d.started = true
}

func (d *DualRateRegulator) updatePIF(snapshot StatsSnapshot) {
	pif := snapshot.PacketsInFlight

	// slow to believe a spike, quick to believe relief
	if pif > d.smoothPIF {
		d.smoothPIF = d.smoothPIF*0.97 + pif*0.03
	} else {
		d.smoothPIF = d.smoothPIF*0.9 + pif*0.1
	}

	d.fastPIF = d.fastPIF*0.67 + pif*0.33
}

func (d *DualRateRegulator) updateRTT(snapshot StatsSnapshot) {
	rtt := snapshot.RTTMs

	if rtt > d.avgRTTMs {
		d.avgRTTMs = d.avgRTTMs*0.98 + rtt*0.02
	} else {
		d.avgRTTMs = d.avgRTTMs*0.9 + rtt*0.1
	}
	if d.avgRTTMs > dualRateAvgRTTCapMs {
		d.avgRTTMs = dualRateAvgRTTCapMs
	}

	if rtt > d.fastRTTMs {
		d.fastRTTMs = d.fastRTTMs*0.7 + rtt*0.3
	} else {
		d.fastRTTMs = d.fastRTTMs*0.9 + rtt*0.1
	}
}

// maybeIncreaseCeiling grows the ceiling by a fraction of the profile's
// increase factor, scaled by how far the current spike is below the
// profile's packets-in-flight span. All three calm conditions must hold.
func (d *DualRateRegulator) maybeIncreaseCeiling(snapshot StatsSnapshot) {
	spike := snapshot.PacketsInFlight - d.smoothPIF
	if spike < 0 {
		spike = 0
	}
	if spike > d.settings.PacketsInFlight {
		spike = d.settings.PacketsInFlight
	}
	headroom := d.settings.PacketsInFlight - spike

	if d.smoothPIF < d.settings.PacketsInFlight &&
		d.fastRTTMs <= d.avgRTTMs+d.config.AllowedRTTJitterMs &&
		snapshot.PacketsInFlight-d.smoothPIF < d.config.AllowedPIFJitter {
		d.ceilingBitrate += int64(float64(d.settings.PIFDiffIncreaseFactor) * headroom / d.settings.PacketsInFlight)
		if d.ceilingBitrate > d.targetBitrate {
			d.ceilingBitrate = d.targetBitrate
		}
	}
}

func (d *DualRateRegulator) decreaseCeilingIfPIFIsHigh() {
	if d.smoothPIF > dualRateSmoothPIFCap {
		d.decreaseCeiling(dualRateCapFactor, dualRateCapDecrease)
	}
}

func (d *DualRateRegulator) decreaseCeilingIfRTTIsHigh() {
	if d.avgRTTMs > dualRateAvgRTTMax {
		d.decreaseCeiling(dualRateCapFactor, dualRateCapDecrease)
	}
}

func (d *DualRateRegulator) decreaseCeilingIfRTTSpikes(snapshot StatsSnapshot) {
	if snapshot.RTTMs > d.avgRTTMs+d.settings.RTTSpikeAllowedMs {
		d.decreaseCeiling(d.settings.RTTSpikeFactor, d.settings.RTTSpikeMinDecrease)
	}
}

func (d *DualRateRegulator) decreaseCeiling(factor float64, minimumDecrease int64) {
	decrease := int64(float64(d.ceilingBitrate) * (1 - factor))
	if decrease < minimumDecrease {
		decrease = minimumDecrease
	}
	d.ceilingBitrate -= decrease
	if d.ceilingBitrate < d.settings.MinimumBitrate {
		d.ceilingBitrate = d.settings.MinimumBitrate
	}
}

// deriveBitrate scales the ceiling by the fast-vs-smoothed congestion spike.
// The fast estimator absorbs one-tick bursts; only the runaway floor reads
// the instantaneous gap.
func (d *DualRateRegulator) deriveBitrate(snapshot StatsSnapshot) int64 {
	spike := d.fastPIF - d.smoothPIF

	// a spike beyond the whole span earns the ceiling a lazy 5% haircut
	if spike > d.settings.PacketsInFlight {
		d.ceilingBitrate = int64(float64(d.ceilingBitrate) * 0.95)
	}

	if spike < 0 {
		spike = 0
	}
	if spike > d.settings.PacketsInFlight {
		spike = d.settings.PacketsInFlight
	}
	if spike == d.settings.PacketsInFlight {
		d.ceilingBitrate -= 500_000
	}
	if d.ceilingBitrate < d.settings.MinimumBitrate {
		d.ceilingBitrate = d.settings.MinimumBitrate
	}

	bitrate := int64(float64(d.ceilingBitrate) * (d.settings.PacketsInFlight - spike) / d.settings.PacketsInFlight)
	if bitrate < d.settings.MinimumBitrate {
		bitrate = d.settings.MinimumBitrate
	}

	// runaway congestion, force the floor no matter what the scaling says
	if snapshot.PacketsInFlight-d.smoothPIF > d.settings.PacketsInFlight*2 {
		bitrate = d.settings.MinimumBitrate
	}

	return bitrate
}

func (d *DualRateRegulator) MarshalLogObject(e zapcore.ObjectEncoder) error {
	e.AddInt64("currentBitrate", d.currentBitrate)
	e.AddInt64("ceilingBitrate", d.ceilingBitrate)
	e.AddInt64("targetBitrate", d.targetBitrate)
	e.AddFloat64("smoothPIF", d.smoothPIF)
	e.AddFloat64("fastPIF", d.fastPIF)
	e.AddFloat64("avgRTTMs", d.avgRTTMs)
	e.AddFloat64("fastRTTMs", d.fastRTTMs)
	return nil
}

// ------------------------------------------------
