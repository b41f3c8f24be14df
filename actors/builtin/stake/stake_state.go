package stake

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-bitfield"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"

	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
)

type State struct {
	// Account allowed to retune multipliers and fund rewards.
	Owner addr.Address

	// Per-account stake records.
	Stakers cid.Cid // Map, HAMT[Staker ID-Address]StakerState

	// Sum of Amount over all unsettled records.
	TotalStake abi.TokenAmount

	// Cumulative reward liquidity deposited by the owner.
	TotalRewardsFunded abi.TokenAmount

	// Reward multiplier for each allowed lock period, snapshotted into records at creation.
	Multipliers []DurationMultiplier
}

type DurationMultiplier struct {
	Duration abi.ChainEpoch

	// Percent of principal paid as reward at maturity, e.g. 100 means 1.0x.
	Multiplier uint64
}

type StakerState struct {
	// Append-only stake records of one account.
	Records cid.Cid // Array, AMT[StakeRecord]

	// Indexes of records already paid out via GetReward or RemoveStake.
	Settled bitfield.BitField
}

type StakeRecord struct {
	// Principal staked.
	Amount abi.TokenAmount

	// Lock period.
	Duration abi.ChainEpoch

	// Multiplier snapshotted at creation time.
	Multiplier uint64

	// Epoch the stake was created.
	StartEpoch abi.ChainEpoch
}

// Reward paid on top of principal at maturity.
func (sr *StakeRecord) Reward() abi.TokenAmount {
	return big.Div(big.Mul(sr.Amount, big.NewIntUnsigned(sr.Multiplier)), big.NewInt(100))
}

func (sr *StakeRecord) MaturesAt() abi.ChainEpoch {
	return sr.StartEpoch + sr.Duration
}

func ConstructState(emptyMapCid cid.Cid, owner addr.Address) *State {
	return &State{
		Owner:              owner,
		Stakers:            emptyMapCid,
		TotalStake:         abi.NewTokenAmount(0),
		TotalRewardsFunded: abi.NewTokenAmount(0),
		Multipliers:        DefaultDurationMultipliers,
	}
}

// Returns the currently configured multiplier for a lock period.
func (st *State) multiplierFor(duration abi.ChainEpoch) (uint64, bool) {
	for _, dm := range st.Multipliers {
		if dm.Duration == duration {
			return dm.Multiplier, true
		}
	}
	return 0, false
}

// Convenience for tests and invariant checks.
func (st *State) LoadStake(s adt.Store, staker addr.Address, index uint64) (*StakeRecord, bool, bool, error) {
	stakers, err := adt.AsMap(s, st.Stakers)
	if err != nil {
		return nil, false, false, errors.Wrapf(err, "failed to load stakers")
	}
	ss, found, err := getStaker(stakers, staker)
	if err != nil || !found {
		return nil, false, false, err
	}
	records, err := adt.AsArray(s, ss.Records)
	if err != nil {
		return nil, false, false, errors.Wrapf(err, "failed to load records of %s", staker)
	}
	var record StakeRecord
	found, err = records.Get(index, &record)
	if err != nil || !found {
		return nil, false, false, err
	}
	settled, err := ss.Settled.IsSet(index)
	if err != nil {
		return nil, false, false, errors.Wrapf(err, "failed to check settled index %d", index)
	}
	return &record, settled, true, nil
}

func setStaker(stakers *adt.Map, staker addr.Address, ss *StakerState) error {
	if err := stakers.Put(adt.AddrKey(staker), ss); err != nil {
		return errors.Wrapf(err, "failed to put staker %s", staker)
	}
	return nil
}

func getStaker(stakers *adt.Map, staker addr.Address) (*StakerState, bool, error) {
	var out StakerState
	found, err := stakers.Get(adt.AddrKey(staker), &out)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get staker %v", staker)
	}
	if !found {
		return nil, false, nil
	}
	return &out, true, nil
}

func markSettled(ss *StakerState, index uint64) error {
	merged, err := bitfield.MergeBitFields(ss.Settled, bitfield.NewFromSet([]uint64{index}))
	if err != nil {
		return errors.Wrapf(err, "failed to mark index %d settled", index)
	}
	ss.Settled = merged
	return nil
}
