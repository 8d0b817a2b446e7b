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

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/streamware/ratecontrol/pkg/config"
	"github.com/streamware/ratecontrol/pkg/regulator"
	"github.com/streamware/ratecontrol/pkg/simulation"
	"github.com/streamware/ratecontrol/pkg/telemetry/prometheus"
)

const version = "0.1.0"

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"RATECONTROL_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "algorithm",
		Usage: "regulator algorithm: congestion-threshold or dual-rate",
	},
	&cli.Int64Flag{
		Name:  "bitrate-min",
		Usage: "lower bound of the regulated bitrate in bps",
	},
	&cli.Int64Flag{
		Name:  "bitrate-max",
		Usage: "upper bound of the regulated bitrate in bps",
	},
	&cli.StringFlag{
		Name:  "tick-interval",
		Usage: "minimum spacing between regulation ticks, e.g. 200ms",
	},
	&cli.StringFlag{
		Name:  "profile",
		Usage: "trace profile: clean, congested, spiky or recovering",
		Value: string(simulation.ProfileClean),
	},
	&cli.IntFlag{
		Name:  "ticks",
		Usage: "number of snapshots to replay",
		Value: 300,
	},
	&cli.Int64Flag{
		Name:  "seed",
		Usage: "trace generator seed",
		Value: 1,
	},
	&cli.Int64Flag{
		Name:  "start-bitrate",
		Usage: "video bitrate in bps the encoder starts at",
		Value: 1_000_000,
	},
	&cli.Int64Flag{
		Name:  "audio-bitrate",
		Usage: "fixed audio bitrate in bps",
		Value: 128_000,
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:        "ratesim",
		Usage:       "adaptive bitrate regulator trace simulator",
		Description: "replays transport telemetry traces through the regulator and reports its decisions",
		Flags:       baseFlags,
		Action:      runSimulation,
		Version:     version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString := c.String("config-body")
	if confString == "" && c.String("config") != "" {
		content, err := os.ReadFile(c.String("config"))
		if err != nil {
			return nil, err
		}
		confString = string(content)
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	return conf, nil
}

func runSimulation(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	profile, err := simulation.ParseProfile(c.String("profile"))
	if err != nil {
		return err
	}

	prometheus.Init("ratesim", string(conf.Regulator.Algorithm))
	if conf.PrometheusPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", conf.PrometheusPort)
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				logger.Errorw("prometheus listener failed", err)
			}
		}()
	}

	trace, err := simulation.GenerateTrace(simulation.TraceParams{
		Profile: profile,
		Ticks:   c.Int("ticks"),
		Seed:    c.Int64("seed"),
	})
	if err != nil {
		return err
	}

	mock := clock.NewMock()
	controller, err := regulator.NewController(regulator.ControllerParams{
		Config: conf.Regulator,
		Logger: logger.GetLogger(),
		Clock:  mock,
	})
	if err != nil {
		return err
	}

	controller.OnBitrateChange(func(bitrateBps int64) {
		logger.Infow("bitrate changed", "bitrate(bps)", bitrateBps)
	})

	logger.Infow(
		"replaying trace",
		"profile", profile,
		"ticks", len(trace),
		"algorithm", conf.Regulator.Algorithm,
	)

	videoBitrate := c.Int64("start-bitrate")
	audioBitrate := c.Int64("audio-bitrate")
	for _, snapshot := range trace {
		mock.Add(conf.Regulator.TickInterval)
		controller.Tick(snapshot, videoBitrate, audioBitrate)
		videoBitrate = controller.CurrentBitrate()
	}

	logger.Infow(
		"trace complete",
		"finalBitrate(bps)", controller.CurrentBitrate(),
		"finalCeiling(bps)", controller.CurrentCeiling(),
		"decisions", controller.DecisionHistory(),
	)

	return nil
}
