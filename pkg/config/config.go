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

package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/streamware/ratecontrol/pkg/regulator"
)

type Config struct {
	PrometheusPort uint32           `yaml:"prometheus_port,omitempty"`
	Regulator      regulator.Config `yaml:"regulator,omitempty"`
	Logging        LoggingConfig    `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Regulator: regulator.DefaultConfig,
	Logging: LoggingConfig{
		Config: logger.Config{
			Level: "info",
		},
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	conf := DefaultConfig

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, errors.Wrap(err, "could not parse config")
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c); err != nil {
			return nil, err
		}
	}

	if err := conf.Regulator.Validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (conf *Config) updateFromCLI(c *cli.Context) error {
	if c.IsSet("algorithm") {
		conf.Regulator.Algorithm = regulator.Algorithm(c.String("algorithm"))
	}
	if c.IsSet("bitrate-min") {
		conf.Regulator.BitrateMin = c.Int64("bitrate-min")
	}
	if c.IsSet("bitrate-max") {
		conf.Regulator.BitrateMax = c.Int64("bitrate-max")
	}
	if c.IsSet("tick-interval") {
		interval, err := time.ParseDuration(c.String("tick-interval"))
		if err != nil {
			return errors.Wrap(err, "could not parse tick interval")
		}
		conf.Regulator.TickInterval = interval
	}
	if c.Bool("dev") {
		conf.Development = true
		conf.Logging.Level = "debug"
	}
	return nil
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(config.Config, "ratecontrol")
}
