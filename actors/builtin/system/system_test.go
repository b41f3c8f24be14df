package system_test

import (
	"testing"

	"github.com/tokenlock/go-tokenlock-actors/actors/builtin/system"
	"github.com/tokenlock/go-tokenlock-actors/support/mock"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, system.Actor{})
}
