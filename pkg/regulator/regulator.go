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

// Package regulator implements closed-loop regulation of an outbound video
// bitrate from periodic transport telemetry. Two interchangeable strategies
// are provided behind the Regulator interface: a congestion-threshold
// cascade and a dual-rate packets-in-flight/RTT regulator.
package regulator

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
)

// ------------------------------------------------

type Algorithm string

const (
	AlgorithmCongestionThreshold Algorithm = "congestion-threshold"
	AlgorithmDualRate            Algorithm = "dual-rate"
)

// ------------------------------------------------

var (
	ErrInvalidBitrateRange = errors.New("bitrate range lower bound must be positive and not above upper bound")
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
	ErrUnknownAlgorithm    = errors.New("unknown regulator algorithm")
)

// ------------------------------------------------

type Config struct {
	Algorithm Algorithm `yaml:"algorithm,omitempty"`

	// bounds of the regulated video bitrate, bits per second; the upper
	// bound is also the target the algorithms climb toward, the lower bound
	// is the hard floor congestion can pin the bitrate to
	BitrateMin int64 `yaml:"bitrate_min,omitempty"`
	BitrateMax int64 `yaml:"bitrate_max,omitempty"`

	// minimum spacing between accepted ticks, also the polling cadence of
	// the controller's worker
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`

	CongestionThreshold CongestionThresholdConfig `yaml:"congestion_threshold,omitempty"`
	DualRate            DualRateConfig            `yaml:"dual_rate,omitempty"`
}

var DefaultConfig = Config{
	Algorithm:           AlgorithmCongestionThreshold,
	BitrateMin:          250_000,
	BitrateMax:          6_000_000,
	TickInterval:        200 * time.Millisecond,
	CongestionThreshold: DefaultCongestionThresholdConfig,
	DualRate:            DefaultDualRateConfig,
}

func (c Config) Validate() error {
	if c.BitrateMin <= 0 || c.BitrateMin > c.BitrateMax {
		return errors.Wrapf(ErrInvalidBitrateRange, "min: %d, max: %d", c.BitrateMin, c.BitrateMax)
	}
	if c.TickInterval <= 0 {
		return errors.Wrapf(ErrInvalidTickInterval, "interval: %s", c.TickInterval)
	}
	switch c.Algorithm {
	case AlgorithmCongestionThreshold, AlgorithmDualRate:
	default:
		return errors.Wrapf(ErrUnknownAlgorithm, "algorithm: %s", c.Algorithm)
	}
	return nil
}

// ------------------------------------------------

// Regulator is one bitrate regulation strategy. Update consumes one valid
// snapshot and returns the bitrate the encoder should run at. All state is
// owned by the instance and mutated only inside Update; callers must drive
// one instance from a single goroutine.
type Regulator interface {
	Update(snapshot StatsSnapshot, currentVideoBitrateBps int64, currentAudioBitrateBps int64) int64

	// read accessors for telemetry display only
	CurrentBitrate() int64
	CurrentCeiling() int64
}

type Params struct {
	Config Config
	Logger logger.Logger
	Clock  clock.Clock
}

// New selects and constructs the configured strategy. Construction fails on
// malformed bounds; runtime paths never return errors.
func New(params Params) (Regulator, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	switch params.Config.Algorithm {
	case AlgorithmCongestionThreshold:
		return NewCongestionThresholdRegulator(params), nil
	case AlgorithmDualRate:
		return NewDualRateRegulator(params), nil
	}
	return nil, errors.Wrapf(ErrUnknownAlgorithm, "algorithm: %s", params.Config.Algorithm)
}

// ------------------------------------------------

func boundBitrate(bitrateBps int64, min int64, max int64) int64 {
	if bitrateBps < min {
		return min
	}
	if bitrateBps > max {
		return max
	}
	return bitrateBps
}

// ------------------------------------------------
