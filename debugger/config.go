package debugger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	. "github.com/io-no/libdebug/debugger/common"
)

// Config carries optional session settings.  The zero value is usable: warn
// level logging, unbounded step budget, no pre-armed breakpoints.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Default budget for step-until when the caller passes no bound.
	// Zero or negative means unbounded.
	StepBudget int `yaml:"step_budget"`

	// Addresses to install breakpoints at immediately after attaching.
	Breakpoints []uint64 `yaml:"breakpoints"`
}

func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	config := Config{}
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

func (config Config) logLevel() (logrus.Level, error) {
	if config.LogLevel == "" {
		return logrus.WarnLevel, nil
	}

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return 0, fmt.Errorf(
			"%w. unknown log level %q",
			ErrInvalidArgument,
			config.LogLevel)
	}

	return level, nil
}

func (config Config) stepBudget() int {
	if config.StepBudget <= 0 {
		return UnboundedSteps
	}
	return config.StepBudget
}
