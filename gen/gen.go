package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/stake"
	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/system"
	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/vesting"
)

func main() {
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/system/cbor_gen.go", "system",
		// actor state
		system.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/vesting/cbor_gen.go", "vesting",
		// actor state
		vesting.State{},
		vesting.BeneficiaryInfo{},
		vesting.VestingSchedule{},
		// method params and returns
		vesting.ConstructorParams{},
		vesting.CreateVestingScheduleParams{},
		vesting.CreateVestingScheduleReturn{},
		vesting.ReleaseParams{},
		vesting.WithdrawBalanceParams{},
		vesting.GetVestingScheduleParams{},
		vesting.ComputeReleasableAmountParams{},
		vesting.AmountReturn{},
		vesting.ScheduleCountParams{},
		vesting.ScheduleCountReturn{},
		vesting.GetScheduleByIndexParams{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/stake/cbor_gen.go", "stake",
		// actor state
		stake.State{},
		stake.DurationMultiplier{},
		stake.StakerState{},
		stake.StakeRecord{},
		// method params and returns
		stake.ConstructorParams{},
		stake.CreateStakeParams{},
		stake.CreateStakeReturn{},
		stake.StakeIndexParams{},
		stake.SetMultipliersParams{},
		stake.GetStakeParams{},
		stake.GetStakeReturn{},
		stake.StakeCountParams{},
		stake.StakeCountReturn{},
		stake.TotalsReturn{},
	); err != nil {
		panic(err)
	}
}
