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
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/streamware/ratecontrol/pkg/regulator"
)

// ------------------------------------------------

type Profile string

const (
	// stable link, low RTT, small packets-in-flight
	ProfileClean Profile = "clean"

	// link capacity below the configured maximum, RTT and queue grow
	ProfileCongested Profile = "congested"

	// mostly clean with short bursts of queued packets
	ProfileSpiky Profile = "spiky"

	// congested first half, clean second half
	ProfileRecovering Profile = "recovering"
)

var ErrUnknownProfile = errors.New("unknown trace profile")

func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileClean, ProfileCongested, ProfileSpiky, ProfileRecovering:
		return Profile(s), nil
	default:
		return "", errors.Wrap(ErrUnknownProfile, s)
	}
}

// ------------------------------------------------

type TraceParams struct {
	Profile Profile
	Ticks   int
	Seed    int64
}

// GenerateTrace produces a deterministic sequence of transport snapshots for
// the given profile. The same seed always yields the same trace.
func GenerateTrace(params TraceParams) ([]regulator.StatsSnapshot, error) {
	if params.Ticks <= 0 {
		return nil, errors.New("trace needs at least one tick")
	}

	rng := rand.New(rand.NewSource(params.Seed))

	snapshots := make([]regulator.StatsSnapshot, 0, params.Ticks)
	for i := 0; i < params.Ticks; i++ {
		var snapshot regulator.StatsSnapshot
		switch params.Profile {
		case ProfileClean:
			snapshot = cleanSnapshot(rng)
		case ProfileCongested:
			snapshot = congestedSnapshot(rng, float64(i)/float64(params.Ticks))
		case ProfileSpiky:
			snapshot = cleanSnapshot(rng)
			if rng.Float64() < 0.05 {
				snapshot.RTTMs += 150 + rng.Float64()*250
				snapshot.PacketsInFlight += 400 + rng.Float64()*400
			}
		case ProfileRecovering:
			if i < params.Ticks/2 {
				snapshot = congestedSnapshot(rng, float64(i)/float64(params.Ticks/2))
			} else {
				snapshot = cleanSnapshot(rng)
			}
		default:
			return nil, errors.Wrap(ErrUnknownProfile, string(params.Profile))
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func cleanSnapshot(rng *rand.Rand) regulator.StatsSnapshot {
	return regulator.StatsSnapshot{
		RTTMs:           30 + rng.Float64()*4,
		PacketsInFlight: 20 + rng.Float64()*10,
		SendRateMbps:    4 + rng.Float64()*0.5,
		BandwidthMbps:   50,
	}
}

func congestedSnapshot(rng *rand.Rand, progress float64) regulator.StatsSnapshot {
	return regulator.StatsSnapshot{
		RTTMs:           40 + progress*400 + rng.Float64()*20,
		PacketsInFlight: 50 + progress*800 + rng.Float64()*50,
		SendRateMbps:    2 + rng.Float64()*0.5,
		BandwidthMbps:   3,
	}
}

// ------------------------------------------------

// Player replays a trace one snapshot per poll. After the trace is
// exhausted every poll reports no fresh reading.
type Player struct {
	lock      sync.Mutex
	snapshots []regulator.StatsSnapshot
	pos       int
}

func NewPlayer(snapshots []regulator.StatsSnapshot) *Player {
	return &Player{
		snapshots: snapshots,
	}
}

func (p *Player) Snapshot() (regulator.StatsSnapshot, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.pos >= len(p.snapshots) {
		return regulator.StatsSnapshot{}, false
	}

	snapshot := p.snapshots[p.pos]
	p.pos++
	return snapshot, true
}

// Remaining reports how many snapshots are left to play.
func (p *Player) Remaining() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.snapshots) - p.pos
}
