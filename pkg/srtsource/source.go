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
	"sync"

	srt "github.com/datarhei/gosrt"
	"github.com/livekit/protocol/logger"

	"github.com/streamware/ratecontrol/pkg/regulator"
)

// StatsReader is the slice of an SRT connection the source needs. Both
// srt.Conn and srt.Listener connections satisfy it.
type StatsReader interface {
	Stats(s *srt.Statistics)
}

// ------------------------------------------------

type SourceParams struct {
	Reader StatsReader
	Logger logger.Logger
}

// Source adapts SRT connection statistics into regulator snapshots. The
// transport reports the send rate only as accumulated byte counters, so the
// instantaneous rate is derived from deltas between consecutive polls.
type Source struct {
	params SourceParams

	lock            sync.Mutex
	lastByteSent    uint64
	lastMsTimeStamp uint64
	haveLast        bool
}

func NewSource(params SourceParams) *Source {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	return &Source{
		params: params,
	}
}

func (s *Source) Snapshot() (regulator.StatsSnapshot, bool) {
	var stats srt.Statistics
	s.params.Reader.Stats(&stats)

	if stats.MsRTT <= 0 {
		return regulator.StatsSnapshot{}, false
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	snapshot := regulator.StatsSnapshot{
		RTTMs:           stats.MsRTT,
		PacketsInFlight: float64(stats.PktFlightSize),
		BandwidthMbps:   stats.MbpsBandwidth,
	}

	if s.haveLast && stats.MsTimeStamp > s.lastMsTimeStamp && stats.ByteSent >= s.lastByteSent {
		elapsedMs := stats.MsTimeStamp - s.lastMsTimeStamp
		sentBytes := stats.ByteSent - s.lastByteSent
		snapshot.SendRateMbps = float64(sentBytes) * 8 / float64(elapsedMs) / 1000
	}

	s.lastByteSent = stats.ByteSent
	s.lastMsTimeStamp = stats.MsTimeStamp
	s.haveLast = true

	return snapshot, true
}
