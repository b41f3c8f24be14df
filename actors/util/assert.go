package util

import (
	"fmt"
)

// Indicates a condition that should never happen. If encountered, execution will halt and the
// resulting state is undefined.
func Assert(b bool) {
	if !b {
		panic("assertion failed")
	}
}

func AssertMsg(b bool, format string, args ...interface{}) {
	if !b {
		panic(fmt.Sprintf(format, args...))
	}
}

func AssertNoError(e error) {
	if e != nil {
		panic(e.Error())
	}
}
