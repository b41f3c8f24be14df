package vesting

import (
	"encoding/binary"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"

	. "github.com/tokenlock/go-tokenlock-actors/actors/util"
	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
)

type State struct {
	// Account allowed to create schedules and withdraw unpledged funds.
	Owner addr.Address

	// Grants by schedule ID.
	Schedules cid.Cid // Map, HAMT[ScheduleID]VestingSchedule

	// Aggregates for each beneficiary.
	Beneficiaries cid.Cid // Map, HAMT[Beneficiary ID-Address]BeneficiaryInfo

	// Sum of AmountTotal - Released over all schedules. Tokens held by the actor
	// in excess of this are free for owner withdrawal.
	TotalPledged abi.TokenAmount
}

type BeneficiaryInfo struct {
	// Number of schedules ever created for this beneficiary, also the next sequence number.
	NextSeq uint64

	// Cumulative amount released over all this beneficiary's schedules.
	Released abi.TokenAmount
}

type VestingSchedule struct {
	// Account the grant is payable to.
	Beneficiary addr.Address

	// Epoch at which vesting begins counting.
	Start abi.ChainEpoch

	// Epoch before which nothing is releasable.
	Cliff abi.ChainEpoch

	// Total vesting length in epochs, from Start.
	Duration abi.ChainEpoch

	// Granularity at which partial vesting rounds down.
	SliceDuration abi.ChainEpoch

	// Whether the owner may cancel the grant.
	Revocable bool

	// Absolute amount unlocked immediately at the cliff.
	ReleaseAfterCliff abi.TokenAmount

	// Total tokens granted.
	AmountTotal abi.TokenAmount

	// Cumulative tokens already paid out.
	Released abi.TokenAmount

	// Whether the grant has been cancelled.
	Revoked bool
}

// Returns the amount releasable at the given epoch. Zero before the cliff, the
// unreleased remainder once the full duration has elapsed, and in between the
// cliff unlock plus a linear portion accrued in whole slices.
func (vs *VestingSchedule) ReleasableAt(now abi.ChainEpoch) abi.TokenAmount {
	if vs.Revoked || now < vs.Cliff {
		return big.Zero()
	}
	if now >= vs.Start+vs.Duration {
		return big.Sub(vs.AmountTotal, vs.Released)
	}

	elapsedSinceCliff := now - vs.Cliff
	vestingAfterCliff := big.Sub(vs.AmountTotal, vs.ReleaseAfterCliff)
	fullSlices := (elapsedSinceCliff / vs.SliceDuration) * vs.SliceDuration
	cliffDuration := vs.Cliff - vs.Start

	linearPortion := big.Div(
		big.Mul(vestingAfterCliff, big.NewInt(int64(fullSlices))),
		big.NewInt(int64(vs.Duration-cliffDuration)),
	)
	releasable := big.Sub(big.Add(vs.ReleaseAfterCliff, linearPortion), vs.Released)
	Assert(releasable.GreaterThanEqual(big.Zero()))
	return releasable
}

// Derives the deterministic schedule ID for the seq'th grant of a beneficiary.
func ScheduleIDForBeneficiary(beneficiary addr.Address, seq uint64) []byte {
	buf := make([]byte, 0, len(beneficiary.Bytes())+8)
	buf = append(buf, beneficiary.Bytes()...)

	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	buf = append(buf, seqBytes[:]...)

	id := blake2b.Sum256(buf)
	return id[:]
}

func ConstructState(emptyMapCid cid.Cid, owner addr.Address) *State {
	return &State{
		Owner:         owner,
		Schedules:     emptyMapCid,
		Beneficiaries: emptyMapCid,
		TotalPledged:  abi.NewTokenAmount(0),
	}
}

// Convenience for tests and invariant checks.
func (st *State) LoadSchedule(s adt.Store, id []byte) (*VestingSchedule, bool, error) {
	schedules, err := adt.AsMap(s, st.Schedules)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to load schedules")
	}
	return getSchedule(schedules, id)
}

func setSchedule(schedules *adt.Map, id []byte, vs *VestingSchedule) error {
	Assert(vs.Released.LessThanEqual(vs.AmountTotal))

	if err := schedules.Put(adt.BytesKey(id), vs); err != nil {
		return errors.Wrapf(err, "failed to put schedule %x", id)
	}
	return nil
}

func getSchedule(schedules *adt.Map, id []byte) (*VestingSchedule, bool, error) {
	var out VestingSchedule
	found, err := schedules.Get(adt.BytesKey(id), &out)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get schedule %x", id)
	}
	if !found {
		return nil, false, nil
	}
	return &out, true, nil
}

func setBeneficiaryInfo(beneficiaries *adt.Map, beneficiary addr.Address, info *BeneficiaryInfo) error {
	if err := beneficiaries.Put(adt.AddrKey(beneficiary), info); err != nil {
		return errors.Wrapf(err, "failed to put beneficiary %s", beneficiary)
	}
	return nil
}

func getBeneficiaryInfo(beneficiaries *adt.Map, beneficiary addr.Address) (*BeneficiaryInfo, bool, error) {
	var info BeneficiaryInfo
	found, err := beneficiaries.Get(adt.AddrKey(beneficiary), &info)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to get beneficiary %v", beneficiary)
	}
	if !found {
		return nil, false, nil
	}
	return &info, true, nil
}
