package builtin

import (
	"github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
)

var MethodsAccount = struct {
	Constructor   abi.MethodNum
	PubkeyAddress abi.MethodNum
}{MethodConstructor, 2}

var MethodsVesting = struct {
	Constructor             abi.MethodNum
	CreateVestingSchedule   abi.MethodNum
	Release                 abi.MethodNum
	WithdrawBalance         abi.MethodNum
	GetVestingSchedule      abi.MethodNum
	ComputeReleasableAmount abi.MethodNum
	GetWithdrawableAmount   abi.MethodNum
	ScheduleCount           abi.MethodNum
	GetScheduleByIndex      abi.MethodNum
}{MethodConstructor, 2, 3, 4, 5, 6, 7, 8, 9}

var MethodsStake = struct {
	Constructor    abi.MethodNum
	CreateStake    abi.MethodNum
	GetReward      abi.MethodNum
	RemoveStake    abi.MethodNum
	ApplyRewards   abi.MethodNum
	SetMultipliers abi.MethodNum
	GetStake       abi.MethodNum
	StakeCount     abi.MethodNum
	Totals         abi.MethodNum
}{MethodConstructor, 2, 3, 4, 5, 6, 7, 8, 9}
