package vesting

// The whole grant unlocked at the cliff when ReleaseAfterCliffPct is 100.
const MaxReleaseAfterCliffPct = 100

// Smallest granularity of linear accrual.
const MinSliceDuration = 1
