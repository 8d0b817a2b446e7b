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

package srtsource

import (
	"testing"

	srt "github.com/datarhei/gosrt"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	stats srt.Statistics
}

func (f *fakeReader) Stats(s *srt.Statistics) {
	*s = f.stats
}

func TestSourceSnapshot(t *testing.T) {
	reader := &fakeReader{
		stats: srt.Statistics{
			MsTimeStamp:   1000,
			ByteSent:      125_000,
			PktFlightSize: 42,
			MsRTT:         35.5,
			MbpsBandwidth: 48,
		},
	}
	source := NewSource(SourceParams{Reader: reader})

	// first poll has no previous counters to difference against
	snapshot, ok := source.Snapshot()
	require.True(t, ok)
	require.Equal(t, 35.5, snapshot.RTTMs)
	require.Equal(t, float64(42), snapshot.PacketsInFlight)
	require.Equal(t, float64(48), snapshot.BandwidthMbps)
	require.Equal(t, float64(0), snapshot.SendRateMbps)

	// 125 kB over 200 ms is 5 Mbps
	reader.stats.MsTimeStamp = 1200
	reader.stats.ByteSent = 250_000
	snapshot, ok = source.Snapshot()
	require.True(t, ok)
	require.InDelta(t, 5.0, snapshot.SendRateMbps, 0.001)
}

func TestSourceRejectsUnmeasuredRTT(t *testing.T) {
	reader := &fakeReader{
		stats: srt.Statistics{
			MsTimeStamp:   1000,
			ByteSent:      125_000,
			PktFlightSize: 42,
		},
	}
	source := NewSource(SourceParams{Reader: reader})

	_, ok := source.Snapshot()
	require.False(t, ok)
}

func TestSourceCounterReset(t *testing.T) {
	reader := &fakeReader{
		stats: srt.Statistics{
			MsTimeStamp: 1000,
			ByteSent:    500_000,
			MsRTT:       30,
		},
	}
	source := NewSource(SourceParams{Reader: reader})

	_, ok := source.Snapshot()
	require.True(t, ok)

	// a reconnected transport restarts its counters, the rate estimate
	// skips the poll instead of going negative
	reader.stats.MsTimeStamp = 100
	reader.stats.ByteSent = 10_000
	snapshot, ok := source.Snapshot()
	require.True(t, ok)
	require.Equal(t, float64(0), snapshot.SendRateMbps)
}
