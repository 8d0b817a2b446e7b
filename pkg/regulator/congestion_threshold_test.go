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
)

func newCongestionThresholdForTest(t *testing.T, mock *clock.Mock) *CongestionThresholdRegulator {
	t.Helper()

	r, err := New(Params{
		Config: DefaultConfig,
		Logger: logger.GetLogger(),
		Clock:  mock,
	})
	require.NoError(t, err)

	ct, ok := r.(*CongestionThresholdRegulator)
	require.True(t, ok)
	return ct
}

func TestCongestionThresholdRampUp(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	snapshot := StatsSnapshot{RTTMs: 40}

	// stable low RTT, increase fires every cooldown window until the ramp
	// hits the configured maximum
	bitrate := int64(1_000_000)
	for i := 0; i < 60; i++ {
		mock.Add(400 * time.Millisecond)
		bitrate = r.Update(snapshot, bitrate, 128_000)
		require.LessOrEqual(t, bitrate, DefaultConfig.BitrateMax)
	}

	require.Equal(t, DefaultConfig.BitrateMax, bitrate)
	require.Equal(t, DefaultConfig.BitrateMax, r.CurrentBitrate())
}

func TestCongestionThresholdSevere(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	// RTT beyond a third of the latency budget drops straight to the floor
	bitrate := r.Update(StatsSnapshot{RTTMs: 700}, 3_000_000, 128_000)
	require.Equal(t, DefaultConfig.BitrateMin, bitrate)
}

func TestCongestionThresholdFastDecrease(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	// RTT over a fifth of the latency budget sheds a tenth of the bitrate
	bitrate := r.Update(StatsSnapshot{RTTMs: 450}, 3_000_000, 128_000)
	require.Equal(t, int64(2_700_000), bitrate)
}

func TestCongestionThresholdModerateDecrease(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	bitrate := r.Update(StatsSnapshot{RTTMs: 100}, 2_000_000, 128_000)
	require.Equal(t, int64(2_100_000), bitrate)

	// RTT creeping up a couple of milliseconds per tick keeps the jitter
	// estimate small, so the moderate threshold is crossed long before the
	// fast rule's trip point; the cut is the flat step
	for i := 1; i <= 15; i++ {
		mock.Add(200 * time.Millisecond)
		bitrate = r.Update(StatsSnapshot{RTTMs: 100 + float64(2*i)}, bitrate, 128_000)
		if bitrate != 2_100_000 {
			break
		}
	}
	require.Equal(t, int64(2_000_000), bitrate)
}

func TestCongestionThresholdIncreaseCooldown(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	snapshot := StatsSnapshot{RTTMs: 40}

	first := r.Update(snapshot, 1_000_000, 128_000)
	require.Equal(t, int64(1_100_000), first)

	// inside the cooldown window the same conditions hold instead of
	// stacking another increase
	mock.Add(100 * time.Millisecond)
	second := r.Update(snapshot, first, 128_000)
	require.Equal(t, first, second)

	mock.Add(300 * time.Millisecond)
	third := r.Update(snapshot, second, 128_000)
	require.Equal(t, int64(1_200_000), third)
}

func TestCongestionThresholdBandwidthLid(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	// link estimate of 1 Mbps caps the bitrate at 2 Mbps of probing headroom
	// even though conditions allow an increase
	bitrate := r.Update(StatsSnapshot{RTTMs: 40, BandwidthMbps: 1}, 5_000_000, 128_000)
	require.Equal(t, int64(2_000_000), bitrate)
}

func TestCongestionThresholdInvalidSnapshot(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	require.Equal(t, int64(0), r.Update(StatsSnapshot{}, 1_000_000, 128_000))
	require.False(t, r.started)

	// first valid snapshot seeds from where encoding already is
	bitrate := r.Update(StatsSnapshot{RTTMs: 40}, 1_000_000, 128_000)
	require.Equal(t, int64(1_100_000), bitrate)
}

func TestCongestionThresholdSetTargetBitrate(t *testing.T) {
	mock := clock.NewMock()
	r := newCongestionThresholdForTest(t, mock)

	r.Update(StatsSnapshot{RTTMs: 40}, 1_000_000, 128_000)
	require.Equal(t, DefaultConfig.BitrateMax, r.CurrentCeiling())

	r.SetTargetBitrate(1_000_000)
	require.Equal(t, int64(1_000_000), r.CurrentCeiling())

	// the lowered ceiling clamps the next adjustment
	mock.Add(400 * time.Millisecond)
	bitrate := r.Update(StatsSnapshot{RTTMs: 40}, r.CurrentBitrate(), 128_000)
	require.Equal(t, int64(1_000_000), bitrate)
}
