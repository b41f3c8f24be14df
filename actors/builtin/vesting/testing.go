package vesting

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
)

type StateSummary struct {
	ScheduleCount    uint64
	BeneficiaryCount uint64
	TotalPledged     abi.TokenAmount
	TotalReleased    abi.TokenAmount
}

// Checks internal invariants of vesting state.
func CheckStateInvariants(st *State, store adt.Store) (*builtin.MessageAccumulator, *StateSummary) {
	acc := &builtin.MessageAccumulator{}

	scheduleCount := uint64(0)
	pledged := big.Zero()
	releasedBySchedule := make(map[addr.Address]abi.TokenAmount)

	schedules, err := adt.AsMap(store, st.Schedules)
	acc.RequireNoError(err, "failed to load schedules")
	if err == nil {
		var sch VestingSchedule
		err = schedules.ForEach(&sch, func(key string) error {
			acc.Require(sch.AmountTotal.GreaterThan(big.Zero()), "schedule %x has non positive amount", []byte(key))
			acc.Require(sch.Released.GreaterThanEqual(big.Zero()), "schedule %x has negative released", []byte(key))
			acc.Require(sch.Released.LessThanEqual(sch.AmountTotal), "schedule %x released more than granted", []byte(key))
			acc.Require(sch.Cliff >= sch.Start, "schedule %x has cliff before start", []byte(key))
			acc.Require(sch.Duration >= sch.Cliff-sch.Start, "schedule %x has duration shorter than cliff", []byte(key))
			acc.Require(sch.SliceDuration >= MinSliceDuration, "schedule %x has bad slice duration", []byte(key))
			acc.Require(sch.ReleaseAfterCliff.LessThanEqual(sch.AmountTotal), "schedule %x cliff unlock exceeds total", []byte(key))

			scheduleCount++
			pledged = big.Add(pledged, big.Sub(sch.AmountTotal, sch.Released))

			prev, ok := releasedBySchedule[sch.Beneficiary]
			if !ok {
				prev = big.Zero()
			}
			releasedBySchedule[sch.Beneficiary] = big.Add(prev, sch.Released)
			return nil
		})
		acc.RequireNoError(err, "error iterating schedules")
	}

	beneficiaryCount := uint64(0)
	totalReleased := big.Zero()

	beneficiaries, err := adt.AsMap(store, st.Beneficiaries)
	acc.RequireNoError(err, "failed to load beneficiaries")
	if err == nil {
		var info BeneficiaryInfo
		err = beneficiaries.ForEach(&info, func(key string) error {
			beneficiary, err := addr.NewFromBytes([]byte(key))
			if err != nil {
				return err
			}
			acc.Require(info.NextSeq > 0, "beneficiary %v has no schedules", beneficiary)

			expected, ok := releasedBySchedule[beneficiary]
			if !ok {
				expected = big.Zero()
			}
			acc.Require(info.Released.Equals(expected),
				"beneficiary %v released %v does not match schedules %v", beneficiary, info.Released, expected)

			beneficiaryCount++
			totalReleased = big.Add(totalReleased, info.Released)
			return nil
		})
		acc.RequireNoError(err, "error iterating beneficiaries")
	}

	acc.Require(st.TotalPledged.Equals(pledged),
		"total pledged %v does not match schedules %v", st.TotalPledged, pledged)

	return acc, &StateSummary{
		ScheduleCount:    scheduleCount,
		BeneficiaryCount: beneficiaryCount,
		TotalPledged:     pledged,
		TotalReleased:    totalReleased,
	}
}
