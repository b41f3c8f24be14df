package stake_test

import (
	"context"
	"strings"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/stake"
	"github.com/tokenlock/go-tokenlock-actors/support/mock"
	tutil "github.com/tokenlock/go-tokenlock-actors/support/testing"
)

const day = abi.ChainEpoch(builtin.EpochsInDay)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, stake.Actor{})
}

func TestStakeRecord(t *testing.T) {
	record := stake.StakeRecord{
		Amount:     abi.NewTokenAmount(10000),
		Duration:   90 * day,
		Multiplier: 150,
		StartEpoch: 5,
	}
	assert.True(t, abi.NewTokenAmount(15000).Equals(record.Reward()))
	assert.Equal(t, 90*day+5, record.MaturesAt())
}

type actorHarness struct {
	stake.Actor

	owner  addr.Address
	staker addr.Address
}

func newHarness(t *testing.T) *actorHarness {
	return &actorHarness{
		owner:  tutil.NewIDAddr(t, 100),
		staker: tutil.NewIDAddr(t, 101),
	}
}

func (h *actorHarness) builder() mock.RuntimeBuilder {
	return mock.NewBuilder(context.Background(), builtin.StakeActorAddr).
		WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
}

func (h *actorHarness) constructAndVerify(t *testing.T, rt *mock.Runtime) {
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
	ret := rt.Call(h.Constructor, &stake.ConstructorParams{Owner: h.owner})
	assert.Nil(t, ret)
	rt.Verify()
}

// Stakes amount for duration, crediting the value onto the actor balance the
// way a value-bearing message would.
func (h *actorHarness) createStake(t *testing.T, rt *mock.Runtime, staker addr.Address, amount abi.TokenAmount, duration abi.ChainEpoch) uint64 {
	rt.SetBalance(big.Add(rt.Balance(), amount))
	rt.SetReceived(amount)
	rt.SetCaller(staker, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	ret := rt.Call(h.CreateStake, &stake.CreateStakeParams{Duration: duration}).(*stake.CreateStakeReturn)
	rt.Verify()
	rt.SetReceived(big.Zero())
	return ret.Index
}

func (h *actorHarness) applyRewards(t *testing.T, rt *mock.Runtime, amount abi.TokenAmount) {
	rt.SetBalance(big.Add(rt.Balance(), amount))
	rt.SetReceived(amount)
	rt.SetCaller(h.owner, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerAddr(h.owner)
	rt.Call(h.ApplyRewards, nil)
	rt.Verify()
	rt.SetReceived(big.Zero())
}

func (h *actorHarness) getStake(t *testing.T, rt *mock.Runtime, account addr.Address, index uint64) *stake.GetStakeReturn {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.GetStake, &stake.GetStakeParams{Account: account, Index: index}).(*stake.GetStakeReturn)
	rt.Verify()
	return ret
}

func (h *actorHarness) checkState(t *testing.T, rt *mock.Runtime) {
	var st stake.State
	rt.GetState(&st)
	acc, _ := stake.CheckStateInvariants(&st, rt.AdtStore())
	assert.True(t, acc.IsEmpty(), strings.Join(acc.Messages(), "\n"))
}

func TestConstruction(t *testing.T) {
	h := newHarness(t)

	t.Run("simple construction", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		var st stake.State
		rt.GetState(&st)
		assert.Equal(t, h.owner, st.Owner)
		assert.True(t, st.TotalStake.IsZero())
		assert.True(t, st.TotalRewardsFunded.IsZero())
		assert.Equal(t, stake.DefaultDurationMultipliers, st.Multipliers)
		h.checkState(t, rt)
	})

	t.Run("rejects non-system caller", func(t *testing.T) {
		rt := h.builder().Build(t)
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.Constructor, &stake.ConstructorParams{Owner: h.owner})
		})
		rt.Verify()
	})
}

func TestCreateStake(t *testing.T) {
	h := newHarness(t)

	t.Run("creates stakes with increasing indexes", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		idx0 := h.createStake(t, rt, h.staker, abi.NewTokenAmount(10000), 90*day)
		idx1 := h.createStake(t, rt, h.staker, abi.NewTokenAmount(5000), 180*day)
		assert.Equal(t, uint64(0), idx0)
		assert.Equal(t, uint64(1), idx1)

		var st stake.State
		rt.GetState(&st)
		assert.True(t, abi.NewTokenAmount(15000).Equals(st.TotalStake))

		first := h.getStake(t, rt, h.staker, 0)
		assert.True(t, abi.NewTokenAmount(10000).Equals(first.Amount))
		assert.Equal(t, 90*day, first.Duration)
		assert.Equal(t, uint64(100), first.Multiplier)
		assert.False(t, first.Settled)

		second := h.getStake(t, rt, h.staker, 1)
		assert.Equal(t, uint64(200), second.Multiplier)
		h.checkState(t, rt)
	})

	t.Run("rejects disallowed duration", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.SetBalance(abi.NewTokenAmount(10000))
		rt.SetReceived(abi.NewTokenAmount(10000))
		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "invalid duration", func() {
			rt.Call(h.CreateStake, &stake.CreateStakeParams{Duration: 91 * day})
		})
		rt.Verify()
	})

	t.Run("rejects zero value", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "non positive amount to stake", func() {
			rt.Call(h.CreateStake, &stake.CreateStakeParams{Duration: 90 * day})
		})
		rt.Verify()
	})
}

func TestGetReward(t *testing.T) {
	h := newHarness(t)
	principal := abi.NewTokenAmount(10000)

	setup := func(t *testing.T) *mock.Runtime {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)
		idx := h.createStake(t, rt, h.staker, principal, 90*day)
		require.Equal(t, uint64(0), idx)
		return rt
	}

	t.Run("rejects claim before maturity", func(t *testing.T) {
		rt := setup(t)
		rt.SetEpoch(90*day - 1)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrForbidden, "staking period is not reached", func() {
			rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		})
		rt.Verify()
		h.checkState(t, rt)
	})

	t.Run("pays principal plus reward at maturity", func(t *testing.T) {
		rt := setup(t)
		h.applyRewards(t, rt, abi.NewTokenAmount(15000))
		rt.SetEpoch(90 * day)

		// 100% multiplier doubles the stake on payout
		payout := abi.NewTokenAmount(20000)
		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectSend(h.staker, builtin.MethodSend, nil, payout, nil, exitcode.Ok)
		rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		rt.Verify()

		var st stake.State
		rt.GetState(&st)
		assert.True(t, st.TotalStake.IsZero())
		assert.True(t, h.getStake(t, rt, h.staker, 0).Settled)
		h.checkState(t, rt)
	})

	t.Run("rejects claim when reward pool cannot cover payout", func(t *testing.T) {
		rt := setup(t)
		h.applyRewards(t, rt, abi.NewTokenAmount(5000))
		rt.SetEpoch(90 * day)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrInsufficientFunds, "insufficient reward tokens", func() {
			rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		})
		rt.Verify()

		// the stake is untouched and can be claimed later
		assert.False(t, h.getStake(t, rt, h.staker, 0).Settled)
		h.checkState(t, rt)
	})

	t.Run("rejects second claim of the same stake", func(t *testing.T) {
		rt := setup(t)
		h.applyRewards(t, rt, abi.NewTokenAmount(15000))
		rt.SetEpoch(90 * day)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectSend(h.staker, builtin.MethodSend, nil, abi.NewTokenAmount(20000), nil, exitcode.Ok)
		rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		rt.Verify()

		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "already settled", func() {
			rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		})
		rt.Verify()
		h.checkState(t, rt)
	})

	t.Run("rejects unknown index", func(t *testing.T) {
		rt := setup(t)
		rt.SetEpoch(90 * day)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "invalid stake index", func() {
			rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 5})
		})
		rt.Verify()
	})
}

func TestRemoveStake(t *testing.T) {
	h := newHarness(t)
	principal := abi.NewTokenAmount(10000)

	setup := func(t *testing.T) *mock.Runtime {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)
		h.createStake(t, rt, h.staker, principal, 90*day)
		return rt
	}

	t.Run("refunds principal before maturity", func(t *testing.T) {
		rt := setup(t)
		rt.SetEpoch(30 * day)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectSend(h.staker, builtin.MethodSend, nil, principal, nil, exitcode.Ok)
		rt.Call(h.RemoveStake, &stake.StakeIndexParams{Index: 0})
		rt.Verify()

		var st stake.State
		rt.GetState(&st)
		assert.True(t, st.TotalStake.IsZero())
		assert.True(t, h.getStake(t, rt, h.staker, 0).Settled)
		h.checkState(t, rt)
	})

	t.Run("removed stake cannot be claimed", func(t *testing.T) {
		rt := setup(t)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectSend(h.staker, builtin.MethodSend, nil, principal, nil, exitcode.Ok)
		rt.Call(h.RemoveStake, &stake.StakeIndexParams{Index: 0})
		rt.Verify()

		rt.SetEpoch(90 * day)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "already settled", func() {
			rt.Call(h.GetReward, &stake.StakeIndexParams{Index: 0})
		})
		rt.Verify()
		h.checkState(t, rt)
	})
}

func TestApplyRewards(t *testing.T) {
	h := newHarness(t)

	t.Run("owner funds the reward pool", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		h.applyRewards(t, rt, abi.NewTokenAmount(5000))
		h.applyRewards(t, rt, abi.NewTokenAmount(2000))

		var st stake.State
		rt.GetState(&st)
		assert.True(t, abi.NewTokenAmount(7000).Equals(st.TotalRewardsFunded))
		h.checkState(t, rt)
	})

	t.Run("rejects zero value", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "no reward tokens to apply", func() {
			rt.Call(h.ApplyRewards, nil)
		})
		rt.Verify()
	})

	t.Run("rejects non-owner caller", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.SetReceived(abi.NewTokenAmount(5000))
		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.ApplyRewards, nil)
		})
		rt.Verify()
	})
}

func TestSetMultipliers(t *testing.T) {
	h := newHarness(t)

	setMultipliers := func(t *testing.T, rt *mock.Runtime, multipliers []stake.DurationMultiplier) {
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{Multipliers: multipliers})
		rt.Verify()
	}

	t.Run("new multipliers apply to future stakes only", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		before := h.createStake(t, rt, h.staker, abi.NewTokenAmount(1000), 90*day)

		setMultipliers(t, rt, []stake.DurationMultiplier{
			{Duration: 90 * day, Multiplier: 150},
			{Duration: 180 * day, Multiplier: 300},
		})

		after := h.createStake(t, rt, h.staker, abi.NewTokenAmount(1000), 90*day)

		assert.Equal(t, uint64(100), h.getStake(t, rt, h.staker, before).Multiplier)
		assert.Equal(t, uint64(150), h.getStake(t, rt, h.staker, after).Multiplier)
		h.checkState(t, rt)
	})

	t.Run("duration can be disabled by omission", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		setMultipliers(t, rt, []stake.DurationMultiplier{{Duration: 180 * day, Multiplier: 200}})

		rt.SetBalance(abi.NewTokenAmount(1000))
		rt.SetReceived(abi.NewTokenAmount(1000))
		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "invalid duration", func() {
			rt.Call(h.CreateStake, &stake.CreateStakeParams{Duration: 90 * day})
		})
		rt.Verify()
	})

	t.Run("rejects bad params", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)

		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "empty multipliers", func() {
			rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{})
		})

		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "invalid duration", func() {
			rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{
				Multipliers: []stake.DurationMultiplier{{Duration: 91 * day, Multiplier: 100}},
			})
		})

		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "non positive multiplier", func() {
			rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{
				Multipliers: []stake.DurationMultiplier{{Duration: 90 * day, Multiplier: 0}},
			})
		})

		rt.ExpectAbortContainsMessage(exitcode.ErrIllegalArgument, "duplicate duration", func() {
			rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{
				Multipliers: []stake.DurationMultiplier{
					{Duration: 90 * day, Multiplier: 100},
					{Duration: 90 * day, Multiplier: 200},
				},
			})
		})
	})

	t.Run("rejects non-owner caller", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.staker, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.SetMultipliers, &stake.SetMultipliersParams{
				Multipliers: []stake.DurationMultiplier{{Duration: 90 * day, Multiplier: 100}},
			})
		})
		rt.Verify()
	})
}

func TestGetters(t *testing.T) {
	h := newHarness(t)

	t.Run("stake count", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.ExpectValidateCallerAny()
		count := rt.Call(h.StakeCount, &stake.StakeCountParams{Account: h.staker}).(*stake.StakeCountReturn)
		rt.Verify()
		assert.Equal(t, uint64(0), count.Count)

		h.createStake(t, rt, h.staker, abi.NewTokenAmount(1000), 90*day)

		rt.ExpectValidateCallerAny()
		count = rt.Call(h.StakeCount, &stake.StakeCountParams{Account: h.staker}).(*stake.StakeCountReturn)
		rt.Verify()
		assert.Equal(t, uint64(1), count.Count)
	})

	t.Run("unknown stake", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.GetStake, &stake.GetStakeParams{Account: h.staker, Index: 0})
		})
		rt.Verify()
	})

	t.Run("totals", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		h.createStake(t, rt, h.staker, abi.NewTokenAmount(3000), 90*day)
		h.applyRewards(t, rt, abi.NewTokenAmount(9000))

		rt.ExpectValidateCallerAny()
		totals := rt.Call(h.Totals, nil).(*stake.TotalsReturn)
		rt.Verify()
		assert.True(t, abi.NewTokenAmount(3000).Equals(totals.TotalStake))
		assert.True(t, abi.NewTokenAmount(9000).Equals(totals.TotalRewardsFunded))
		h.checkState(t, rt)
	})
}
