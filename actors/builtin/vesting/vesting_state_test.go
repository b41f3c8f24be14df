package vesting_test

import (
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin"
	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/vesting"
	tutil "github.com/tokenlock/go-tokenlock-actors/support/testing"
)

const month = abi.ChainEpoch(30 * builtin.EpochsInDay)

func TestScheduleIDForBeneficiary(t *testing.T) {
	alice := tutil.NewIDAddr(t, 101)
	bob := tutil.NewIDAddr(t, 102)

	id0 := vesting.ScheduleIDForBeneficiary(alice, 0)
	id1 := vesting.ScheduleIDForBeneficiary(alice, 1)
	other := vesting.ScheduleIDForBeneficiary(bob, 0)

	assert.Len(t, id0, 32)
	assert.NotEqual(t, id0, id1)
	assert.NotEqual(t, id0, other)

	// deterministic
	assert.Equal(t, id0, vesting.ScheduleIDForBeneficiary(alice, 0))
}

func TestReleasableAt(t *testing.T) {
	beneficiary := tutil.NewIDAddr(t, 101)
	total := abi.NewTokenAmount(1_000_000_000_000_000_000)

	newSchedule := func() *vesting.VestingSchedule {
		return &vesting.VestingSchedule{
			Beneficiary:       beneficiary,
			Start:             0,
			Cliff:             6 * month,
			Duration:          24 * month,
			SliceDuration:     1,
			ReleaseAfterCliff: big.Div(big.Mul(total, big.NewInt(20)), big.NewInt(100)),
			AmountTotal:       total,
			Released:          big.Zero(),
		}
	}

	t.Run("zero before cliff", func(t *testing.T) {
		vs := newSchedule()
		atZero := vs.ReleasableAt(0)
		assert.True(t, atZero.IsZero())
		beforeCliff := vs.ReleasableAt(6*month - 1)
		assert.True(t, beforeCliff.IsZero())
	})

	t.Run("cliff unlock at cliff", func(t *testing.T) {
		vs := newSchedule()
		expected := abi.NewTokenAmount(200_000_000_000_000_000)
		assert.True(t, expected.Equals(vs.ReleasableAt(6*month)))
	})

	t.Run("linear accrual after cliff", func(t *testing.T) {
		vs := newSchedule()
		// 9 of the 18 months after the cliff have elapsed, half of the
		// remaining 0.8e18 on top of the 0.2e18 cliff unlock.
		expected := abi.NewTokenAmount(600_000_000_000_000_000)
		assert.True(t, expected.Equals(vs.ReleasableAt(6*month+9*month)))
	})

	t.Run("everything at end of duration", func(t *testing.T) {
		vs := newSchedule()
		assert.True(t, total.Equals(vs.ReleasableAt(24*month)))
		assert.True(t, total.Equals(vs.ReleasableAt(100*month)))
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		vs := newSchedule()
		prev := big.Zero()
		for e := abi.ChainEpoch(0); e <= 25*month; e += month / 2 {
			cur := vs.ReleasableAt(e)
			assert.True(t, cur.GreaterThanEqual(prev), "decreased at epoch %d", e)
			prev = cur
		}
	})

	t.Run("released reduces releasable", func(t *testing.T) {
		vs := newSchedule()
		vs.Released = abi.NewTokenAmount(150_000_000_000_000_000)
		expected := abi.NewTokenAmount(50_000_000_000_000_000)
		assert.True(t, expected.Equals(vs.ReleasableAt(6*month)))
	})

	t.Run("slices round accrual down", func(t *testing.T) {
		vs := &vesting.VestingSchedule{
			Beneficiary:       beneficiary,
			Start:             0,
			Cliff:             0,
			Duration:          100,
			SliceDuration:     10,
			ReleaseAfterCliff: big.Zero(),
			AmountTotal:       abi.NewTokenAmount(1000),
			Released:          big.Zero(),
		}
		assert.True(t, abi.NewTokenAmount(300).Equals(vs.ReleasableAt(35)))
		assert.True(t, abi.NewTokenAmount(300).Equals(vs.ReleasableAt(39)))
		assert.True(t, abi.NewTokenAmount(400).Equals(vs.ReleasableAt(40)))
	})

	t.Run("revoked schedule releases nothing", func(t *testing.T) {
		vs := newSchedule()
		vs.Revoked = true
		afterEnd := vs.ReleasableAt(24 * month)
		assert.True(t, afterEnd.IsZero())
	})
}
