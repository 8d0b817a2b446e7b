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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/streamware/ratecontrol/pkg/telemetry/prometheus"
)

const decisionHistorySize = 32

// ------------------------------------------------

// StatsSource supplies one already-populated snapshot per poll. The second
// return value is false when no fresh reading is available, which skips the
// tick entirely.
type StatsSource interface {
	Snapshot() (StatsSnapshot, bool)
}

// ------------------------------------------------

type decision struct {
	at         time.Time
	bitrateBps int64
}

// ------------------------------------------------

type ControllerParams struct {
	Config Config
	Logger logger.Logger
	Clock  clock.Clock

	// optional, constructed from Config when nil
	Regulator Regulator
}

// Controller drives the active regulator at the configured cadence and
// translates its output into encoder-facing bitrate changes. All state
// mutation happens synchronously inside Tick; exactly one goroutine may call
// it at a time.
type Controller struct {
	params ControllerParams

	regulator Regulator

	onBitrateChange func(bitrateBps int64)

	lock            sync.Mutex
	lastTickAt      time.Time
	previousBitrate int64
	history         deque.Deque[decision]

	emittedBitrate atomic.Int64

	stop      core.Fuse
	isStarted atomic.Bool
}

func NewController(params ControllerParams) (*Controller, error) {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	regulator := params.Regulator
	if regulator == nil {
		var err error
		regulator, err = New(Params{
			Config: params.Config,
			Logger: params.Logger,
			Clock:  params.Clock,
		})
		if err != nil {
			return nil, err
		}
	} else if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	return &Controller{
		params:    params,
		regulator: regulator,
	}, nil
}

// OnBitrateChange registers the sink invoked with each newly regulated
// bitrate. The sink must not block; it is called from the tick path. May be
// called while the worker is running.
func (c *Controller) OnBitrateChange(f func(bitrateBps int64)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onBitrateChange = f
}

// Tick feeds one telemetry snapshot through the active regulator. Ticks
// closer together than the configured interval and ticks with an unmeasured
// RTT are dropped silently; bad telemetry is a no-op, never an error.
func (c *Controller) Tick(snapshot StatsSnapshot, currentVideoBitrateBps int64, currentAudioBitrateBps int64) {
	now := c.params.Clock.Now()

	c.lock.Lock()
	if !c.lastTickAt.IsZero() && now.Sub(c.lastTickAt) < c.params.Config.TickInterval {
		c.lock.Unlock()
		prometheus.RecordTick("dropped_interval", 0)
		return
	}
	if !snapshot.Valid() {
		c.lock.Unlock()
		prometheus.RecordTick("dropped_invalid", 0)
		return
	}
	c.lastTickAt = now

	bitrate := c.regulator.Update(snapshot, currentVideoBitrateBps, currentAudioBitrateBps)
	prometheus.RecordTransport(snapshot.RTTMs, snapshot.PacketsInFlight)
	prometheus.RecordTick("ok", c.params.Clock.Since(now).Seconds())
	if bitrate == c.previousBitrate {
		c.lock.Unlock()
		return
	}
	c.previousBitrate = bitrate
	c.emittedBitrate.Store(bitrate)
	prometheus.RecordBitrate(bitrate, c.regulator.CurrentCeiling())

	if c.history.Len() >= decisionHistorySize {
		c.history.PopFront()
	}
	c.history.PushBack(decision{at: now, bitrateBps: bitrate})

	onBitrateChange := c.onBitrateChange
	c.lock.Unlock()

	if onBitrateChange != nil {
		onBitrateChange(bitrate)
	}
}

// Start launches a worker polling the source at the configured cadence,
// applying each regulated bitrate as the next tick's current video bitrate.
// The audio bitrate is treated as fixed for the session.
func (c *Controller) Start(source StatsSource, currentVideoBitrateBps int64, currentAudioBitrateBps int64) {
	if c.isStarted.Swap(true) {
		return
	}

	c.emittedBitrate.Store(currentVideoBitrateBps)

	go c.worker(source, currentAudioBitrateBps)
}

func (c *Controller) Stop() {
	c.stop.Break()
}

func (c *Controller) worker(source StatsSource, currentAudioBitrateBps int64) {
	ticker := c.params.Clock.Ticker(c.params.Config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot, ok := source.Snapshot()
			if !ok {
				continue
			}
			c.Tick(snapshot, c.emittedBitrate.Load(), currentAudioBitrateBps)

		case <-c.stop.Watch():
			return
		}
	}
}

// CurrentBitrate returns the last bitrate the controller settled on.
func (c *Controller) CurrentBitrate() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.regulator.CurrentBitrate()
}

// CurrentCeiling returns the active regulator's adaptive ceiling.
func (c *Controller) CurrentCeiling() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.regulator.CurrentCeiling()
}

// Regulator exposes the underlying strategy for profile switches and
// diagnostics accessors.
func (c *Controller) Regulator() Regulator {
	return c.regulator
}

// DecisionHistory returns the most recent emitted bitrates, formatted for
// logging systems.
func (c *Controller) DecisionHistory() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	history := make([]string, 0, c.history.Len())
	for i := 0; i < c.history.Len(); i++ {
		d := c.history.At(i)
		history = append(history, fmt.Sprintf("t: %d, bps: %d", d.at.UnixMilli(), d.bitrateBps))
	}

	return history
}

// ------------------------------------------------
