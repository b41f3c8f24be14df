package stake

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-bitfield"
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
		2:                         a.CreateStake,
		3:                         a.GetReward,
		4:                         a.RemoveStake,
		5:                         a.ApplyRewards,
		6:                         a.SetMultipliers,
		7:                         a.GetStake,
		8:                         a.StakeCount,
		9:                         a.Totals,
	}
}

func (a Actor) Code() cid.Cid {
	return builtin.StakeActorCodeID
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

	owner, ok := rt.ResolveAddress(params.Owner)
	builtin.RequireParam(rt, ok, "unable to resolve address %v", params.Owner)

	emptyMap, err := adt.MakeEmptyMap(adt.AsStore(rt)).Root()
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")

	st := ConstructState(emptyMap, owner)
	rt.StateCreate(st)
	return nil
}

type CreateStakeParams struct {
	Duration abi.ChainEpoch
}

type CreateStakeReturn struct {
	Index uint64
}

func (a Actor) CreateStake(rt Runtime, params *CreateStakeParams) *CreateStakeReturn {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)

	amount := rt.ValueReceived()
	builtin.RequireParam(rt, amount.GreaterThan(big.Zero()), "non positive amount to stake")

	staker := rt.Caller()

	var st State
	var index uint64
	store := adt.AsStore(rt)
	rt.StateTransaction(&st, func() {
		multiplier, ok := st.multiplierFor(params.Duration)
		if !ok {
			rt.Abortf(exitcode.ErrIllegalArgument, "invalid duration %d", params.Duration)
		}

		stakers, err := adt.AsMap(store, st.Stakers)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load stakers")

		ss, found, err := getStaker(stakers, staker)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get staker")
		if !found {
			emptyArray, err := adt.MakeEmptyArray(store).Root()
			builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to create records")
			ss = &StakerState{Records: emptyArray, Settled: bitfield.New()}
		}

		records, err := adt.AsArray(store, ss.Records)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load records")

		index = records.Length()
		record := &StakeRecord{
			Amount:     amount,
			Duration:   params.Duration,
			Multiplier: multiplier,
			StartEpoch: rt.CurrEpoch(),
		}
		err = records.AppendContinuous(record)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to append record")

		ss.Records, err = records.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush records")

		err = setStaker(stakers, staker, ss)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update staker")

		st.Stakers, err = stakers.Root()
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush stakers")

		st.TotalStake = big.Add(st.TotalStake, amount)
	})

	rt.Log(rtt.INFO, "stake %d created by %v, amount %v, duration %d", index, staker, amount, params.Duration)
	return &CreateStakeReturn{Index: index}
}

type StakeIndexParams struct {
	Index uint64
}

func (a Actor) GetReward(rt Runtime, params *StakeIndexParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)

	staker := rt.Caller()

	var st State
	var payout abi.TokenAmount
	store := adt.AsStore(rt)
	rt.StateTransaction(&st, func() {
		record := loadUnsettledRecord(rt, store, &st, staker, params.Index)

		if rt.CurrEpoch() < record.MaturesAt() {
			rt.Abortf(exitcode.ErrForbidden, "staking period is not reached for stake %d", params.Index)
		}

		payout = big.Add(record.Amount, record.Reward())
		if rt.CurrentBalance().LessThan(payout) {
			rt.Abortf(exitcode.ErrInsufficientFunds, "insufficient reward tokens, balance %v less than payout %v", rt.CurrentBalance(), payout)
		}

		settleRecord(rt, store, &st, staker, params.Index, record.Amount)
	})

	code := rt.Send(staker, builtin.MethodSend, nil, payout, &builtin.Discard{})
	builtin.RequireSuccess(rt, code, "failed to send stake reward")

	rt.Log(rtt.INFO, "reward paid for stake %d of %v, payout %v", params.Index, staker, payout)
	return nil
}

func (a Actor) RemoveStake(rt Runtime, params *StakeIndexParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)

	staker := rt.Caller()

	var st State
	var refund abi.TokenAmount
	store := adt.AsStore(rt)
	rt.StateTransaction(&st, func() {
		record := loadUnsettledRecord(rt, store, &st, staker, params.Index)

		refund = record.Amount
		settleRecord(rt, store, &st, staker, params.Index, record.Amount)
	})

	code := rt.Send(staker, builtin.MethodSend, nil, refund, &builtin.Discard{})
	builtin.RequireSuccess(rt, code, "failed to refund stake")

	rt.Log(rtt.INFO, "stake %d of %v removed early, refund %v", params.Index, staker, refund)
	return nil
}

func (a Actor) ApplyRewards(rt Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	builtin.RequireParam(rt, rt.ValueReceived().GreaterThan(big.Zero()), "no reward tokens to apply")

	var st State
	rt.StateTransaction(&st, func() {
		rt.ValidateImmediateCallerIs(st.Owner)

		st.TotalRewardsFunded = big.Add(st.TotalRewardsFunded, rt.ValueReceived())
	})

	rt.Log(rtt.INFO, "rewards funded with %v", rt.ValueReceived())
	return nil
}

type SetMultipliersParams struct {
	Multipliers []DurationMultiplier
}

func (a Actor) SetMultipliers(rt Runtime, params *SetMultipliersParams) *abi.EmptyValue {
	builtin.RequireParam(rt, len(params.Multipliers) > 0, "empty multipliers")

	seen := make(map[abi.ChainEpoch]struct{})
	for _, dm := range params.Multipliers {
		builtin.RequireParam(rt, IsAllowedDuration(dm.Duration), "invalid duration %d", dm.Duration)
		builtin.RequireParam(rt, dm.Multiplier > 0, "non positive multiplier for duration %d", dm.Duration)

		_, dup := seen[dm.Duration]
		builtin.RequireParam(rt, !dup, "duplicate duration %d", dm.Duration)
		seen[dm.Duration] = struct{}{}
	}

	var st State
	rt.StateTransaction(&st, func() {
		rt.ValidateImmediateCallerIs(st.Owner)

		// Existing records keep the multiplier snapshotted at creation.
		st.Multipliers = params.Multipliers
	})

	rt.Log(rtt.INFO, "multipliers retuned to %v", params.Multipliers)
	return nil
}

type GetStakeParams struct {
	Account addr.Address
	Index   uint64
}

type GetStakeReturn struct {
	Amount     abi.TokenAmount
	Duration   abi.ChainEpoch
	Multiplier uint64
	StartEpoch abi.ChainEpoch
	Settled    bool
}

func (a Actor) GetStake(rt Runtime, params *GetStakeParams) *GetStakeReturn {
	rt.ValidateImmediateCallerAcceptAny()

	account, ok := rt.ResolveAddress(params.Account)
	builtin.RequireParam(rt, ok, "unable to resolve address %v", params.Account)

	var st State
	rt.StateReadonly(&st)

	record, settled, found, err := st.LoadStake(adt.AsStore(rt), account, params.Index)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load stake")
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no stake of %v at index %d", account, params.Index)
	}
	return &GetStakeReturn{
		Amount:     record.Amount,
		Duration:   record.Duration,
		Multiplier: record.Multiplier,
		StartEpoch: record.StartEpoch,
		Settled:    settled,
	}
}

type StakeCountParams struct {
	Account addr.Address
}

type StakeCountReturn struct {
	Count uint64
}

func (a Actor) StakeCount(rt Runtime, params *StakeCountParams) *StakeCountReturn {
	rt.ValidateImmediateCallerAcceptAny()

	account, ok := rt.ResolveAddress(params.Account)
	builtin.RequireParam(rt, ok, "unable to resolve address %v", params.Account)

	var st State
	rt.StateReadonly(&st)

	store := adt.AsStore(rt)
	stakers, err := adt.AsMap(store, st.Stakers)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load stakers")

	ss, found, err := getStaker(stakers, account)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get staker")
	if !found {
		return &StakeCountReturn{Count: 0}
	}

	records, err := adt.AsArray(store, ss.Records)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load records")

	return &StakeCountReturn{Count: records.Length()}
}

type TotalsReturn struct {
	TotalStake         abi.TokenAmount
	TotalRewardsFunded abi.TokenAmount
}

func (a Actor) Totals(rt Runtime, _ *abi.EmptyValue) *TotalsReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)

	return &TotalsReturn{
		TotalStake:         st.TotalStake,
		TotalRewardsFunded: st.TotalRewardsFunded,
	}
}

// Loads an existing unsettled record or aborts.
func loadUnsettledRecord(rt Runtime, store adt.Store, st *State, staker addr.Address, index uint64) *StakeRecord {
	stakers, err := adt.AsMap(store, st.Stakers)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load stakers")

	ss, found, err := getStaker(stakers, staker)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get staker")
	if !found {
		rt.Abortf(exitcode.ErrIllegalArgument, "invalid stake index %d for %v", index, staker)
	}

	records, err := adt.AsArray(store, ss.Records)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load records")

	var record StakeRecord
	found, err = records.Get(index, &record)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get record")
	if !found {
		rt.Abortf(exitcode.ErrIllegalArgument, "invalid stake index %d for %v", index, staker)
	}

	settled, err := ss.Settled.IsSet(index)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to check settled set")
	if settled {
		rt.Abortf(exitcode.ErrIllegalArgument, "invalid stake index %d for %v, already settled", index, staker)
	}
	return &record
}

// Marks a record settled and removes its principal from the pool total.
func settleRecord(rt Runtime, store adt.Store, st *State, staker addr.Address, index uint64, amount abi.TokenAmount) {
	stakers, err := adt.AsMap(store, st.Stakers)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load stakers")

	ss, found, err := getStaker(stakers, staker)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to get staker")
	AssertMsg(found, "staker %v disappeared", staker)

	err = markSettled(ss, index)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to mark settled")

	err = setStaker(stakers, staker, ss)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update staker")

	st.Stakers, err = stakers.Root()
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to flush stakers")

	st.TotalStake = big.Sub(st.TotalStake, amount)
	Assert(st.TotalStake.GreaterThanEqual(big.Zero()))
}
