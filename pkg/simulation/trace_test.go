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

package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateTrace(t *testing.T) {
	t.Run("deterministic per seed", func(t *testing.T) {
		params := TraceParams{Profile: ProfileSpiky, Ticks: 100, Seed: 42}

		first, err := GenerateTrace(params)
		require.NoError(t, err)
		second, err := GenerateTrace(params)
		require.NoError(t, err)
		require.Equal(t, first, second)

		params.Seed = 43
		third, err := GenerateTrace(params)
		require.NoError(t, err)
		require.NotEqual(t, first, third)
	})

	t.Run("all snapshots valid", func(t *testing.T) {
		for _, profile := range []Profile{ProfileClean, ProfileCongested, ProfileSpiky, ProfileRecovering} {
			trace, err := GenerateTrace(TraceParams{Profile: profile, Ticks: 50, Seed: 1})
			require.NoError(t, err)
			require.Len(t, trace, 50)
			for _, snapshot := range trace {
				require.True(t, snapshot.Valid())
			}
		}
	})

	t.Run("congested trace degrades", func(t *testing.T) {
		trace, err := GenerateTrace(TraceParams{Profile: ProfileCongested, Ticks: 100, Seed: 1})
		require.NoError(t, err)
		require.Greater(t, trace[99].RTTMs, trace[0].RTTMs)
		require.Greater(t, trace[99].PacketsInFlight, trace[0].PacketsInFlight)
	})

	t.Run("rejects unknown profile", func(t *testing.T) {
		_, err := GenerateTrace(TraceParams{Profile: "lossy", Ticks: 10, Seed: 1})
		require.Error(t, err)

		_, err = ParseProfile("lossy")
		require.Error(t, err)
	})

	t.Run("rejects empty trace", func(t *testing.T) {
		_, err := GenerateTrace(TraceParams{Profile: ProfileClean, Ticks: 0, Seed: 1})
		require.Error(t, err)
	})
}

func TestPlayer(t *testing.T) {
	trace, err := GenerateTrace(TraceParams{Profile: ProfileClean, Ticks: 3, Seed: 1})
	require.NoError(t, err)

	player := NewPlayer(trace)
	require.Equal(t, 3, player.Remaining())

	for i := 0; i < 3; i++ {
		snapshot, ok := player.Snapshot()
		require.True(t, ok)
		require.Equal(t, trace[i], snapshot)
	}

	_, ok := player.Snapshot()
	require.False(t, ok)
	require.Equal(t, 0, player.Remaining())
}
