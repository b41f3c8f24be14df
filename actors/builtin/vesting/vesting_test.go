package vesting_test

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
	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/vesting"
	"github.com/tokenlock/go-tokenlock-actors/support/mock"
	tutil "github.com/tokenlock/go-tokenlock-actors/support/testing"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, vesting.Actor{})
}

type actorHarness struct {
	vesting.Actor

	owner       addr.Address
	beneficiary addr.Address
	total       abi.TokenAmount
}

func newHarness(t *testing.T) *actorHarness {
	return &actorHarness{
		owner:       tutil.NewIDAddr(t, 100),
		beneficiary: tutil.NewIDAddr(t, 101),
		total:       abi.NewTokenAmount(1_000_000_000_000_000_000),
	}
}

func (h *actorHarness) builder() mock.RuntimeBuilder {
	return mock.NewBuilder(context.Background(), builtin.VestingActorAddr).
		WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
}

func (h *actorHarness) constructAndVerify(t *testing.T, rt *mock.Runtime) {
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
	ret := rt.Call(h.Constructor, &vesting.ConstructorParams{Owner: h.owner})
	assert.Nil(t, ret)
	rt.Verify()
}

// A 24 month grant with a 6 month cliff unlocking 20% and per-epoch slices.
func (h *actorHarness) defaultParams() *vesting.CreateVestingScheduleParams {
	return &vesting.CreateVestingScheduleParams{
		Beneficiary:          h.beneficiary,
		Start:                0,
		CliffDuration:        6 * month,
		ReleaseAfterCliffPct: 20,
		Duration:             24 * month,
		SliceDuration:        1,
		Revocable:            false,
		Amount:               h.total,
	}
}

func (h *actorHarness) createVestingSchedule(t *testing.T, rt *mock.Runtime, params *vesting.CreateVestingScheduleParams) []byte {
	rt.SetCaller(h.owner, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerAddr(h.owner)
	ret := rt.Call(h.CreateVestingSchedule, params).(*vesting.CreateVestingScheduleReturn)
	rt.Verify()
	require.NotEmpty(t, ret.ID)
	return ret.ID
}

func (h *actorHarness) release(rt *mock.Runtime, caller addr.Address, id []byte, amount abi.TokenAmount) {
	rt.SetCaller(caller, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerAddr(h.beneficiary, h.owner)
	rt.ExpectSend(h.beneficiary, builtin.MethodSend, nil, amount, nil, exitcode.Ok)
	rt.Call(h.Release, &vesting.ReleaseParams{ID: id, Amount: amount})
	rt.Verify()
}

func (h *actorHarness) computeReleasable(t *testing.T, rt *mock.Runtime, id []byte) abi.TokenAmount {
	rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.ComputeReleasableAmount, &vesting.ComputeReleasableAmountParams{ID: id}).(*vesting.AmountReturn)
	rt.Verify()
	return ret.Amount
}

func (h *actorHarness) checkState(t *testing.T, rt *mock.Runtime) {
	var st vesting.State
	rt.GetState(&st)
	acc, _ := vesting.CheckStateInvariants(&st, rt.AdtStore())
	assert.True(t, acc.IsEmpty(), strings.Join(acc.Messages(), "\n"))
}

func TestConstruction(t *testing.T) {
	h := newHarness(t)

	t.Run("simple construction", func(t *testing.T) {
		rt := h.builder().Build(t)
		h.constructAndVerify(t, rt)

		var st vesting.State
		rt.GetState(&st)
		assert.Equal(t, h.owner, st.Owner)
		assert.True(t, st.TotalPledged.IsZero())
		h.checkState(t, rt)
	})

	t.Run("rejects non-system caller", func(t *testing.T) {
		rt := h.builder().Build(t)
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.Constructor, &vesting.ConstructorParams{Owner: h.owner})
		})
		rt.Verify()
	})

	t.Run("rejects unresolvable owner", func(t *testing.T) {
		rt := h.builder().Build(t)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.Constructor, &vesting.ConstructorParams{Owner: tutil.NewSECP256K1Addr(t, "unregistered")})
		})
		rt.Verify()
	})
}

func TestCreateVestingSchedule(t *testing.T) {
	h := newHarness(t)

	t.Run("owner creates schedule", func(t *testing.T) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		id := h.createVestingSchedule(t, rt, h.defaultParams())
		assert.Equal(t, vesting.ScheduleIDForBeneficiary(h.beneficiary, 0), id)

		var st vesting.State
		rt.GetState(&st)
		assert.True(t, h.total.Equals(st.TotalPledged))

		sch, found, err := st.LoadSchedule(rt.AdtStore(), id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, h.beneficiary, sch.Beneficiary)
		assert.Equal(t, 6*month, sch.Cliff)
		assert.Equal(t, 24*month, sch.Duration)
		assert.True(t, sch.Released.IsZero())
		assert.False(t, sch.Revoked)
		// 20% of the grant unlocks at the cliff
		assert.True(t, big.Div(big.Mul(h.total, big.NewInt(20)), big.NewInt(100)).Equals(sch.ReleaseAfterCliff))
		h.checkState(t, rt)
	})

	t.Run("sequence increments per beneficiary", func(t *testing.T) {
		rt := h.builder().WithBalance(big.Mul(h.total, big.NewInt(2)), big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		id0 := h.createVestingSchedule(t, rt, h.defaultParams())
		id1 := h.createVestingSchedule(t, rt, h.defaultParams())
		assert.Equal(t, vesting.ScheduleIDForBeneficiary(h.beneficiary, 0), id0)
		assert.Equal(t, vesting.ScheduleIDForBeneficiary(h.beneficiary, 1), id1)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		count := rt.Call(h.ScheduleCount, &vesting.ScheduleCountParams{Beneficiary: h.beneficiary}).(*vesting.ScheduleCountReturn)
		rt.Verify()
		assert.Equal(t, uint64(2), count.Count)
		h.checkState(t, rt)
	})

	t.Run("rejects non-owner caller", func(t *testing.T) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.CreateVestingSchedule, h.defaultParams())
		})
		rt.Verify()
	})

	t.Run("rejects bad params", func(t *testing.T) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)

		badDuration := h.defaultParams()
		badDuration.Duration = 0
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, badDuration)
		})

		badSlice := h.defaultParams()
		badSlice.SliceDuration = 0
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, badSlice)
		})

		badCliff := h.defaultParams()
		badCliff.CliffDuration = badCliff.Duration + 1
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, badCliff)
		})

		badAmount := h.defaultParams()
		badAmount.Amount = big.Zero()
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, badAmount)
		})

		badPct := h.defaultParams()
		badPct.ReleaseAfterCliffPct = 101
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(h.CreateVestingSchedule, badPct)
		})
	})

	t.Run("rejects pledge beyond unpledged balance", func(t *testing.T) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		h.createVestingSchedule(t, rt, h.defaultParams())

		// The full balance is now pledged.
		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.CreateVestingSchedule, h.defaultParams())
		})
		rt.Verify()
		h.checkState(t, rt)
	})
}

func TestComputeReleasableAmount(t *testing.T) {
	h := newHarness(t)

	setup := func(t *testing.T) (*mock.Runtime, []byte) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)
		id := h.createVestingSchedule(t, rt, h.defaultParams())
		return rt, id
	}

	t.Run("tracks the vesting curve", func(t *testing.T) {
		rt, id := setup(t)

		rt.SetEpoch(6*month - 1)
		beforeCliff := h.computeReleasable(t, rt, id)
		assert.True(t, beforeCliff.IsZero())

		rt.SetEpoch(6 * month)
		assert.True(t, abi.NewTokenAmount(200_000_000_000_000_000).Equals(h.computeReleasable(t, rt, id)))

		rt.SetEpoch(15 * month)
		assert.True(t, abi.NewTokenAmount(600_000_000_000_000_000).Equals(h.computeReleasable(t, rt, id)))

		rt.SetEpoch(24 * month)
		assert.True(t, h.total.Equals(h.computeReleasable(t, rt, id)))
	})

	t.Run("unknown schedule", func(t *testing.T) {
		rt, _ := setup(t)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.ComputeReleasableAmount, &vesting.ComputeReleasableAmountParams{ID: []byte{1, 2, 3}})
		})
		rt.Verify()
	})
}

func TestRelease(t *testing.T) {
	h := newHarness(t)
	cliffUnlock := abi.NewTokenAmount(200_000_000_000_000_000)

	setup := func(t *testing.T) (*mock.Runtime, []byte) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)
		id := h.createVestingSchedule(t, rt, h.defaultParams())
		return rt, id
	}

	t.Run("beneficiary releases at cliff", func(t *testing.T) {
		rt, id := setup(t)
		rt.SetEpoch(6 * month)

		h.release(rt, h.beneficiary, id, cliffUnlock)

		var st vesting.State
		rt.GetState(&st)
		assert.True(t, big.Sub(h.total, cliffUnlock).Equals(st.TotalPledged))

		sch, _, err := st.LoadSchedule(rt.AdtStore(), id)
		require.NoError(t, err)
		assert.True(t, cliffUnlock.Equals(sch.Released))
		h.checkState(t, rt)
	})

	t.Run("owner may release on behalf of beneficiary", func(t *testing.T) {
		rt, id := setup(t)
		rt.SetEpoch(6 * month)

		h.release(rt, h.owner, id, cliffUnlock)
		h.checkState(t, rt)
	})

	t.Run("stranger may not release", func(t *testing.T) {
		rt, id := setup(t)
		rt.SetEpoch(6 * month)

		stranger := tutil.NewIDAddr(t, 999)
		rt.SetCaller(stranger, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.beneficiary, h.owner)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{ID: id, Amount: cliffUnlock})
		})
		rt.Verify()
	})

	t.Run("cannot release more than vested", func(t *testing.T) {
		rt, id := setup(t)
		rt.SetEpoch(6 * month)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.beneficiary, h.owner)
		rt.ExpectAbortContainsMessage(exitcode.ErrForbidden, "not enough vested tokens", func() {
			rt.Call(h.Release, &vesting.ReleaseParams{ID: id, Amount: big.Add(cliffUnlock, big.NewInt(1))})
		})
		rt.Verify()

		// state unchanged
		var st vesting.State
		rt.GetState(&st)
		assert.True(t, h.total.Equals(st.TotalPledged))
		h.checkState(t, rt)
	})

	t.Run("unknown schedule", func(t *testing.T) {
		rt, _ := setup(t)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.Release, &vesting.ReleaseParams{ID: []byte{1, 2, 3}, Amount: cliffUnlock})
		})
		rt.Verify()
	})

	t.Run("full release at end of duration", func(t *testing.T) {
		rt, id := setup(t)
		rt.SetEpoch(24 * month)

		h.release(rt, h.beneficiary, id, h.total)

		var st vesting.State
		rt.GetState(&st)
		assert.True(t, st.TotalPledged.IsZero())

		// nothing left to release
		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.beneficiary, h.owner)
		rt.ExpectAbortContainsMessage(exitcode.ErrForbidden, "not enough vested tokens", func() {
			rt.Call(h.Release, &vesting.ReleaseParams{ID: id, Amount: big.NewInt(1)})
		})
		rt.Verify()
		h.checkState(t, rt)
	})
}

func TestWithdrawBalance(t *testing.T) {
	h := newHarness(t)

	t.Run("owner withdraws free balance", func(t *testing.T) {
		rt := h.builder().WithBalance(abi.NewTokenAmount(500), big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectSend(h.owner, builtin.MethodSend, nil, abi.NewTokenAmount(200), nil, exitcode.Ok)
		rt.Call(h.WithdrawBalance, &vesting.WithdrawBalanceParams{Amount: abi.NewTokenAmount(200)})
		rt.Verify()

		rt.ExpectValidateCallerAny()
		free := rt.Call(h.GetWithdrawableAmount, nil).(*vesting.AmountReturn)
		rt.Verify()
		assert.True(t, abi.NewTokenAmount(300).Equals(free.Amount))
	})

	t.Run("pledged tokens are not withdrawable", func(t *testing.T) {
		rt := h.builder().WithBalance(big.Add(h.total, abi.NewTokenAmount(200)), big.Zero()).Build(t)
		h.constructAndVerify(t, rt)
		h.createVestingSchedule(t, rt, h.defaultParams())

		rt.SetCaller(h.owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.WithdrawBalance, &vesting.WithdrawBalanceParams{Amount: abi.NewTokenAmount(201)})
		})
		rt.Verify()

		rt.ExpectValidateCallerAny()
		free := rt.Call(h.GetWithdrawableAmount, nil).(*vesting.AmountReturn)
		rt.Verify()
		assert.True(t, abi.NewTokenAmount(200).Equals(free.Amount))
		h.checkState(t, rt)
	})

	t.Run("rejects non-owner caller", func(t *testing.T) {
		rt := h.builder().WithBalance(abi.NewTokenAmount(500), big.Zero()).Build(t)
		h.constructAndVerify(t, rt)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(h.owner)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.WithdrawBalance, &vesting.WithdrawBalanceParams{Amount: abi.NewTokenAmount(100)})
		})
		rt.Verify()
	})
}

func TestGetters(t *testing.T) {
	h := newHarness(t)

	setup := func(t *testing.T) (*mock.Runtime, []byte) {
		rt := h.builder().WithBalance(h.total, big.Zero()).Build(t)
		h.constructAndVerify(t, rt)
		id := h.createVestingSchedule(t, rt, h.defaultParams())
		return rt, id
	}

	t.Run("get schedule by id and by index", func(t *testing.T) {
		rt, id := setup(t)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		byID := rt.Call(h.GetVestingSchedule, &vesting.GetVestingScheduleParams{ID: id}).(*vesting.VestingSchedule)
		rt.Verify()

		rt.ExpectValidateCallerAny()
		byIndex := rt.Call(h.GetScheduleByIndex, &vesting.GetScheduleByIndexParams{Beneficiary: h.beneficiary, Seq: 0}).(*vesting.VestingSchedule)
		rt.Verify()

		assert.Equal(t, byID, byIndex)
		assert.Equal(t, h.beneficiary, byID.Beneficiary)
	})

	t.Run("unknown id and index", func(t *testing.T) {
		rt, _ := setup(t)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.GetVestingSchedule, &vesting.GetVestingScheduleParams{ID: []byte{0xde, 0xad}})
		})
		rt.Verify()

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(h.GetScheduleByIndex, &vesting.GetScheduleByIndexParams{Beneficiary: h.beneficiary, Seq: 7})
		})
		rt.Verify()
	})

	t.Run("schedule count for unknown beneficiary is zero", func(t *testing.T) {
		rt, _ := setup(t)

		rt.SetCaller(h.beneficiary, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		count := rt.Call(h.ScheduleCount, &vesting.ScheduleCountParams{Beneficiary: tutil.NewIDAddr(t, 999)}).(*vesting.ScheduleCountReturn)
		rt.Verify()
		assert.Equal(t, uint64(0), count.Count)
	})
}
