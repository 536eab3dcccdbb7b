// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package scrub

import (
	"fmt"
	"math"
	"time"

	"github.com/NVIDIA/csumscrub/blunder"
	"github.com/NVIDIA/csumscrub/conf"
)

// Schedule selects what a scrubber does once it has used up its credits.
type Schedule int

const (
	// ScheduleContinuous yields and carries straight on.
	ScheduleContinuous Schedule = iota
	// ScheduleTimed sleeps for CreditSleep before carrying on.
	ScheduleTimed
)

func (schedule Schedule) String() string {
	switch schedule {
	case ScheduleContinuous:
		return "continuous"
	case ScheduleTimed:
		return "timed"
	default:
		return fmt.Sprintf("Schedule(%d)", int(schedule))
	}
}

// Defaults applied when the corresponding option is absent
const (
	DefaultEvictThreshold = uint32(10)
	DefaultCreditsPerPass = uint32(1)
	DefaultCreditSleep    = 100 * time.Millisecond
)

// MaxNodeRateLimit bounds Scrubber.NodeRateLimit so it also serves as the
// limiter's burst.
const MaxNodeRateLimit = uint64(math.MaxInt32)

// Config is read once when a target activates.
type Config struct {
	Disabled       bool
	EvictThreshold uint32
	CreditsPerPass uint32
	Schedule       Schedule
	CreditSleep    time.Duration
	PassInterval   time.Duration
	NodeRateLimit  uint64
}

// DefaultConfig is the configuration used when no option is set.
func DefaultConfig() (config Config) {
	config = Config{
		Disabled:       false,
		EvictThreshold: DefaultEvictThreshold,
		CreditsPerPass: DefaultCreditsPerPass,
		Schedule:       ScheduleContinuous,
		CreditSleep:    DefaultCreditSleep,
		PassInterval:   0,
		NodeRateLimit:  0,
	}
	return
}

// ConfigFromConfMap reads the [Scrubber] section, falling back to
// Pool.ScrubCredits for the credit budget. Absent options take their
// defaults; present but malformed ones fail with InvalidConfigError.
func ConfigFromConfMap(confMap conf.ConfMap) (config Config, err error) {
	var (
		scheduleString string
	)

	config = DefaultConfig()

	if optionPresent(confMap, "Scrubber", "Disabled") {
		config.Disabled, err = confMap.FetchOptionValueBool("Scrubber", "Disabled")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
	}

	if optionPresent(confMap, "Scrubber", "EvictThreshold") {
		config.EvictThreshold, err = confMap.FetchOptionValueUint32("Scrubber", "EvictThreshold")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
		if 0 == config.EvictThreshold {
			err = blunder.NewError(blunder.InvalidConfigError, "Scrubber.EvictThreshold must be at least 1")
			return
		}
	}

	if optionPresent(confMap, "Scrubber", "CreditsPerPass") {
		config.CreditsPerPass, err = confMap.FetchOptionValueUint32("Scrubber", "CreditsPerPass")
	} else if optionPresent(confMap, "Pool", "ScrubCredits") {
		config.CreditsPerPass, err = confMap.FetchOptionValueUint32("Pool", "ScrubCredits")
	}
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidConfigError)
		return
	}
	if 0 == config.CreditsPerPass {
		err = blunder.NewError(blunder.InvalidConfigError, "scrub credits per pass must be at least 1")
		return
	}

	if optionPresent(confMap, "Scrubber", "Schedule") {
		scheduleString, err = confMap.FetchOptionValueString("Scrubber", "Schedule")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
		switch scheduleString {
		case "continuous":
			config.Schedule = ScheduleContinuous
		case "timed":
			config.Schedule = ScheduleTimed
		default:
			err = blunder.NewError(blunder.InvalidConfigError, "Scrubber.Schedule \"%s\" must be one of continuous or timed", scheduleString)
			return
		}
	}

	if optionPresent(confMap, "Scrubber", "CreditSleep") {
		config.CreditSleep, err = confMap.FetchOptionValueDuration("Scrubber", "CreditSleep")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
	}

	if optionPresent(confMap, "Scrubber", "PassInterval") {
		config.PassInterval, err = confMap.FetchOptionValueDuration("Scrubber", "PassInterval")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
	}

	if optionPresent(confMap, "Scrubber", "NodeRateLimit") {
		config.NodeRateLimit, err = confMap.FetchOptionValueUint64("Scrubber", "NodeRateLimit")
		if nil != err {
			err = blunder.AddError(err, blunder.InvalidConfigError)
			return
		}
		if MaxNodeRateLimit < config.NodeRateLimit {
			err = blunder.NewError(blunder.InvalidConfigError, "Scrubber.NodeRateLimit %d exceeds %d", config.NodeRateLimit, MaxNodeRateLimit)
			return
		}
	}

	err = nil
	return
}

func optionPresent(confMap conf.ConfMap, sectionName string, optionName string) bool {
	return nil != confMap.VerifyOptionIsMissing(sectionName, optionName)
}
