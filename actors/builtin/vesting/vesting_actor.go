package vesting

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	"github.com/ipfs/go-cid"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
	"github.com/tokenlock/go-tokenlock-actors/actors/runtime"
	. "github.com/tokenlock/go-tokenlock-actors/actors/util"
	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
)

type Runtime = runtime.Runtime

type Actor struct{}

func (a Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		2:                         a.CreateVestingSchedule,
		3:                         a.Release,
		4:                         a.WithdrawBalance,
		5:                         a.GetVestingSchedule,
		6:                         a.ComputeReleasableAmount,
		7:                         a.GetWithdrawableAmount,
		8:                         a.ScheduleCount,
		9:                         a.GetScheduleByIndex,
	}
}

func (a Actor) Code() cid.Cid {
	return builtin.VestingActorCodeID
}

func (a Actor) IsSingleton() bool {
	return true
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

////////////////////////////////////////////////////////////////////////////////
// Actor methods
////////////////////////////////////////////////////////////////////////////////

type ConstructorParams struct {
	Owner addr.Address
}

func (a Actor) Constructor(rt Runtime, params *ConstructorParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)

	owner := resolveAccount(rt, params.Owner)

	emptyMap, err := adt.MakeEmptyMap(adt.AsStore(rt)).Root()
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")

	st := ConstructState(emptyMap, owner)
	rt.StateCreate(st)
	return nil
}

type CreateVestingScheduleParams struct {
	Beneficiary          addr.Address
	Start                abi.ChainEpoch
	CliffDuration        abi.ChainEpoch
	ReleaseAfterCliffPct uint64
	Duration             abi.ChainEpoch
	SliceDuration        abi.ChainEpoch
	Revocable            bool
	Amount               abi.TokenAmount
}

type CreateVestingScheduleReturn struct {
	ID []byte
}

func (a Actor) CreateVestingSchedule(rt Runtime, params *CreateVestingScheduleParams) *CreateVestingScheduleReturn {
	builtin.RequireParam(rt, params.Duration > 0, "duration must be positive")
	builtin.RequireParam(rt, params.SliceDuration >= MinSliceDuration, "slice duration must be at least %d", MinSliceDuration)
	builtin.RequireParam(rt, params.Duration >= params.CliffDuration, "duration must not be shorter than cliff")
	builtin.RequireParam(rt, params.Amount.GreaterThan(big.Zero()), "non positive amount to vest")
	builtin.RequireParam(rt, params.ReleaseAfterCliffPct <= MaxReleaseAfterCliffPct, "release percentage exceeds %d", MaxReleaseAfterCliffPct)

	beneficiary := resolveAccount(rt, params.Beneficiary)

	var st State
	var id []byte
	store := adt.AsStore(rt)
	rt.StateTransaction(&st, func() {
		rt.ValidateImmediateCallerIs(st.Owner)

		free := big.Sub(rt.CurrentBalance(), st.TotalPledged)
		if free.LessThan(params.Amount) {
			rt.Abortf(exitcode.ErrInsufficientFunds, "unpledged balance %v less than amount %v", free, params.Amount)
		}

		beneficiaries, err := adt.AsMap(store, st.Beneficiaries)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load beneficiaries")

		info, found, err := getBeneficiaryInfo(beneficiaries, beneficiary)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get beneficiary info")
		if !found {
			info = &BeneficiaryInfo{NextSeq: 0, Released: big.Zero()}
		}

		id = ScheduleIDForBeneficiary(beneficiary, info.NextSeq)

		schedules, err := adt.AsMap(store, st.Schedules)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load schedules")

		_, exists, err := getSchedule(schedules, id)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to check schedule")
		AssertMsg(!exists, "schedule %x already exists", id)

		sch := &VestingSchedule{
			Beneficiary:       beneficiary,
			Start:             params.Start,
			Cliff:             params.Start + params.CliffDuration,
			Duration:          params.Duration,
			SliceDuration:     params.SliceDuration,
			Revocable:         params.Revocable,
			ReleaseAfterCliff: big.Div(big.Mul(params.Amount, big.NewInt(int64(params.ReleaseAfterCliffPct))), big.NewInt(100)),
			AmountTotal:       params.Amount,
			Released:          big.Zero(),
			Revoked:           false,
		}
		err = setSchedule(schedules, id, sch)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to put schedule")

		info.NextSeq++
		err = setBeneficiaryInfo(beneficiaries, beneficiary, info)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update beneficiary info")

		st.Schedules, err = schedules.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush schedules")

		st.Beneficiaries, err = beneficiaries.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush beneficiaries")

		st.TotalPledged = big.Add(st.TotalPledged, params.Amount)
	})

	rt.Log(rtt.INFO, "vesting schedule %x created for %v, amount %v", id, beneficiary, params.Amount)
	return &CreateVestingScheduleReturn{ID: id}
}

type ReleaseParams struct {
	ID     []byte
	Amount abi.TokenAmount
}

func (a Actor) Release(rt Runtime, params *ReleaseParams) *abi.EmptyValue {
	builtin.RequireParam(rt, params.Amount.GreaterThan(big.Zero()), "non positive amount to release")

	var st State
	var beneficiary addr.Address
	store := adt.AsStore(rt)
	rt.StateTransaction(&st, func() {
		schedules, err := adt.AsMap(store, st.Schedules)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load schedules")

		sch, found, err := getSchedule(schedules, params.ID)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get schedule")
		if !found {
			rt.Abortf(exitcode.ErrNotFound, "no schedule with id %x", params.ID)
		}

		rt.ValidateImmediateCallerIs(sch.Beneficiary, st.Owner)

		releasable := sch.ReleasableAt(rt.CurrEpoch())
		if params.Amount.GreaterThan(releasable) {
			rt.Abortf(exitcode.ErrForbidden, "not enough vested tokens, releasable %v less than %v", releasable, params.Amount)
		}

		sch.Released = big.Add(sch.Released, params.Amount)
		err = setSchedule(schedules, params.ID, sch)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update schedule")

		beneficiaries, err := adt.AsMap(store, st.Beneficiaries)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load beneficiaries")

		info, found, err := getBeneficiaryInfo(beneficiaries, sch.Beneficiary)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get beneficiary info")
		AssertMsg(found, "beneficiary %v has schedule but no info", sch.Beneficiary)

		info.Released = big.Add(info.Released, params.Amount)
		err = setBeneficiaryInfo(beneficiaries, sch.Beneficiary, info)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update beneficiary info")

		st.Schedules, err = schedules.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush schedules")

		st.Beneficiaries, err = beneficiaries.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush beneficiaries")

		st.TotalPledged = big.Sub(st.TotalPledged, params.Amount)
		Assert(st.TotalPledged.GreaterThanEqual(big.Zero()))

		beneficiary = sch.Beneficiary
	})

	code := rt.Send(beneficiary, builtin.MethodSend, nil, params.Amount, &builtin.Discard{})
	builtin.RequireSuccess(rt, code, "failed to send released tokens")

	rt.Log(rtt.INFO, "released %v to %v from schedule %x", params.Amount, beneficiary, params.ID)
	return nil
}

type WithdrawBalanceParams struct {
	Amount abi.TokenAmount
}

func (a Actor) WithdrawBalance(rt Runtime, params *WithdrawBalanceParams) *abi.EmptyValue {
	builtin.RequireParam(rt, params.Amount.GreaterThan(big.Zero()), "non positive amount to withdraw")

	var st State
	rt.StateReadonly(&st)
	rt.ValidateImmediateCallerIs(st.Owner)

	free := big.Sub(rt.CurrentBalance(), st.TotalPledged)
	if params.Amount.GreaterThan(free) {
		rt.Abortf(exitcode.ErrInsufficientFunds, "withdrawable %v less than requested %v", free, params.Amount)
	}

	code := rt.Send(st.Owner, builtin.MethodSend, nil, params.Amount, &builtin.Discard{})
	builtin.RequireSuccess(rt, code, "failed to withdraw balance")

	rt.Log(rtt.INFO, "withdrawn %v to owner %v", params.Amount, st.Owner)
	return nil
}

type GetVestingScheduleParams struct {
	ID []byte
}

func (a Actor) GetVestingSchedule(rt Runtime, params *GetVestingScheduleParams) *VestingSchedule {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)

	sch, found, err := st.LoadSchedule(adt.AsStore(rt), params.ID)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get schedule")
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no schedule with id %x", params.ID)
	}
	return sch
}

type ComputeReleasableAmountParams struct {
	ID []byte
}

type AmountReturn struct {
	Amount abi.TokenAmount
}

func (a Actor) ComputeReleasableAmount(rt Runtime, params *ComputeReleasableAmountParams) *AmountReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)

	sch, found, err := st.LoadSchedule(adt.AsStore(rt), params.ID)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get schedule")
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no schedule with id %x", params.ID)
	}
	return &AmountReturn{Amount: sch.ReleasableAt(rt.CurrEpoch())}
}

func (a Actor) GetWithdrawableAmount(rt Runtime, _ *abi.EmptyValue) *AmountReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)

	free := big.Sub(rt.CurrentBalance(), st.TotalPledged)
	Assert(free.GreaterThanEqual(big.Zero()))
	return &AmountReturn{Amount: free}
}

type ScheduleCountParams struct {
	Beneficiary addr.Address
}

type ScheduleCountReturn struct {
	Count uint64
}

func (a Actor) ScheduleCount(rt Runtime, params *ScheduleCountParams) *ScheduleCountReturn {
	rt.ValidateImmediateCallerAcceptAny()

	beneficiary := resolveAccount(rt, params.Beneficiary)

	var st State
	rt.StateReadonly(&st)

	beneficiaries, err := adt.AsMap(adt.AsStore(rt), st.Beneficiaries)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load beneficiaries")

	info, found, err := getBeneficiaryInfo(beneficiaries, beneficiary)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get beneficiary info")
	if !found {
		return &ScheduleCountReturn{Count: 0}
	}
	return &ScheduleCountReturn{Count: info.NextSeq}
}

type GetScheduleByIndexParams struct {
	Beneficiary addr.Address
	Seq         uint64
}

func (a Actor) GetScheduleByIndex(rt Runtime, params *GetScheduleByIndexParams) *VestingSchedule {
	rt.ValidateImmediateCallerAcceptAny()

	beneficiary := resolveAccount(rt, params.Beneficiary)
	id := ScheduleIDForBeneficiary(beneficiary, params.Seq)

	var st State
	rt.StateReadonly(&st)

	sch, found, err := st.LoadSchedule(adt.AsStore(rt), id)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get schedule")
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no schedule for %v at index %d", beneficiary, params.Seq)
	}
	return sch
}

func resolveAccount(rt Runtime, raw addr.Address) addr.Address {
	resolved, ok := rt.ResolveAddress(raw)
	builtin.RequireParam(rt, ok, "unable to resolve address %v", raw)

	return resolved
}
