package stake

import (
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
)

// Lock periods eligible for staking.
var AllowedDurations = []abi.ChainEpoch{
	90 * builtin.EpochsInDay,
	180 * builtin.EpochsInDay,
}

// Default reward multipliers (percent of principal) for each allowed lock period.
var DefaultDurationMultipliers = []DurationMultiplier{
	{Duration: 90 * builtin.EpochsInDay, Multiplier: 100},
	{Duration: 180 * builtin.EpochsInDay, Multiplier: 200},
}

func IsAllowedDuration(duration abi.ChainEpoch) bool {
	for _, d := range AllowedDurations {
		if d == duration {
			return true
		}
	}
	return false
}
