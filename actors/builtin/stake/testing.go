package stake

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
)

type StateSummary struct {
	StakerCount    uint64
	RecordCount    uint64
	UnsettledCount uint64
	TotalStake     abi.TokenAmount
}

// Checks internal invariants of stake state.
func CheckStateInvariants(st *State, store adt.Store) (*builtin.MessageAccumulator, *StateSummary) {
	acc := &builtin.MessageAccumulator{}

	for _, dm := range st.Multipliers {
		acc.Require(IsAllowedDuration(dm.Duration), "configured duration %d not allowed", dm.Duration)
		acc.Require(dm.Multiplier > 0, "non positive multiplier for duration %d", dm.Duration)
	}

	stakerCount := uint64(0)
	recordCount := uint64(0)
	unsettledCount := uint64(0)
	unsettledStake := big.Zero()

	stakers, err := adt.AsMap(store, st.Stakers)
	acc.RequireNoError(err, "failed to load stakers")
	if err == nil {
		var ss StakerState
		err = stakers.ForEach(&ss, func(key string) error {
			staker, err := addr.NewFromBytes([]byte(key))
			if err != nil {
				return err
			}
			accStaker := acc.WithPrefix("staker %v: ", staker)

			records, err := adt.AsArray(store, ss.Records)
			if err != nil {
				accStaker.Addf("failed to load records: %v", err)
				return nil
			}
			count := records.Length()
			accStaker.Require(count > 0, "has no records")

			settledCount, err := ss.Settled.Count()
			accStaker.RequireNoError(err, "failed to count settled set")
			accStaker.Require(settledCount <= count, "settled set larger than records")

			lastSettled, err := ss.Settled.All(count + 1)
			accStaker.RequireNoError(err, "failed to enumerate settled set")
			for _, idx := range lastSettled {
				accStaker.Require(idx < count, "settled index %d out of range", idx)
			}

			var record StakeRecord
			err = records.ForEach(&record, func(i int64) error {
				accStaker.Require(record.Amount.GreaterThan(big.Zero()), "record %d has non positive amount", i)
				accStaker.Require(record.Duration > 0, "record %d has non positive duration", i)

				recordCount++
				settled, err := ss.Settled.IsSet(uint64(i))
				if err != nil {
					return err
				}
				if !settled {
					unsettledCount++
					unsettledStake = big.Add(unsettledStake, record.Amount)
				}
				return nil
			})
			accStaker.RequireNoError(err, "error iterating records")

			stakerCount++
			return nil
		})
		acc.RequireNoError(err, "error iterating stakers")
	}

	acc.Require(st.TotalStake.Equals(unsettledStake),
		"total stake %v does not match unsettled records %v", st.TotalStake, unsettledStake)
	acc.Require(st.TotalRewardsFunded.GreaterThanEqual(big.Zero()), "negative rewards funded")

	return acc, &StateSummary{
		StakerCount:    stakerCount,
		RecordCount:    recordCount,
		UnsettledCount: unsettledCount,
		TotalStake:     unsettledStake,
	}
}
