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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newControllerForTest(t *testing.T, mock *clock.Mock, config Config) *Controller {
	t.Helper()

	c, err := NewController(ControllerParams{
		Config: config,
		Logger: logger.GetLogger(),
		Clock:  mock,
	})
	require.NoError(t, err)
	return c
}

func dualRateConfig() Config {
	config := DefaultConfig
	config.Algorithm = AlgorithmDualRate
	return config
}

func TestControllerTickSpacing(t *testing.T) {
	mock := clock.NewMock()
	c := newControllerForTest(t, mock, dualRateConfig())

	c.Tick(calmSnapshot(), 1_000_000, 128_000)
	require.Equal(t, int64(1_100_000), c.CurrentBitrate())

	// a tick inside the spacing window is dropped without touching state
	c.Tick(calmSnapshot(), c.CurrentBitrate(), 128_000)
	require.Equal(t, int64(1_100_000), c.CurrentBitrate())

	mock.Add(DefaultConfig.TickInterval)
	c.Tick(calmSnapshot(), c.CurrentBitrate(), 128_000)
	require.Equal(t, int64(1_200_000), c.CurrentBitrate())
}

func TestControllerInvalidSnapshot(t *testing.T) {
	mock := clock.NewMock()
	c := newControllerForTest(t, mock, dualRateConfig())

	c.Tick(calmSnapshot(), 1_000_000, 128_000)
	mock.Add(DefaultConfig.TickInterval)

	// a snapshot without a measured RTT is a no-op and does not consume the
	// spacing window
	c.Tick(StatsSnapshot{}, c.CurrentBitrate(), 128_000)
	require.Equal(t, int64(1_100_000), c.CurrentBitrate())

	c.Tick(calmSnapshot(), c.CurrentBitrate(), 128_000)
	require.Equal(t, int64(1_200_000), c.CurrentBitrate())
}

func TestControllerEmitsOnlyChanges(t *testing.T) {
	mock := clock.NewMock()
	config := dualRateConfig()
	config.BitrateMax = 1_200_000
	c := newControllerForTest(t, mock, config)

	var emitted []int64
	c.OnBitrateChange(func(bitrateBps int64) {
		emitted = append(emitted, bitrateBps)
	})

	for i := 0; i < 5; i++ {
		c.Tick(calmSnapshot(), 1_000_000, 128_000)
		mock.Add(config.TickInterval)
	}

	// ramp emits 1.1M then 1.2M, the capped ticks after that stay silent
	require.Equal(t, []int64{1_100_000, 1_200_000}, emitted)
	require.Len(t, c.DecisionHistory(), 2)
}

func TestControllerLateCallbackRegistration(t *testing.T) {
	mock := clock.NewMock()
	c := newControllerForTest(t, mock, dualRateConfig())

	c.Tick(calmSnapshot(), 1_000_000, 128_000)

	// a sink registered after ticking has begun sees subsequent changes
	var emitted []int64
	c.OnBitrateChange(func(bitrateBps int64) {
		emitted = append(emitted, bitrateBps)
	})

	mock.Add(DefaultConfig.TickInterval)
	c.Tick(calmSnapshot(), c.CurrentBitrate(), 128_000)
	require.Equal(t, []int64{1_200_000}, emitted)
}

func TestControllerStartStop(t *testing.T) {
	mock := clock.NewMock()
	c := newControllerForTest(t, mock, dualRateConfig())

	var lastEmitted atomic.Int64
	c.OnBitrateChange(func(bitrateBps int64) {
		lastEmitted.Store(bitrateBps)
	})

	c.Start(staticSource{}, 1_000_000, 128_000)

	for i := 0; i < 5; i++ {
		mock.Add(DefaultConfig.TickInterval)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return lastEmitted.Load() > 1_000_000
	}, time.Second, 10*time.Millisecond)

	c.Stop()
}

type staticSource struct{}

func (staticSource) Snapshot() (StatsSnapshot, bool) {
	return calmSnapshot(), true
}
