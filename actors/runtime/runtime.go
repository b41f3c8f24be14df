package runtime

import (
	"context"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"
)

// Runtime is the interface to the execution environment presented to actor code.
// Calls into the runtime which fail abort the current method invocation; errors are
// never returned to actor code.
type Runtime interface {
	// Information related to the current message being executed.
	// When an actor invokes a method on another actor as a sub-call, these values reflect
	// the sub-call.
	Message

	// Provides a handle for the actor's own state object.
	StateHandle

	// Provides IPLD storage for actor state.
	Store

	// The current chain epoch number. The genesis block has epoch zero.
	CurrEpoch() abi.ChainEpoch

	// Validates that the caller of the current method invocation is acceptable.
	// Every method invocation must make exactly one caller validation before any other
	// runtime interaction.
	ValidateImmediateCallerAcceptAny()
	ValidateImmediateCallerIs(addrs ...addr.Address)
	ValidateImmediateCallerType(types ...cid.Cid)

	// The balance of the receiver. Always >= zero.
	CurrentBalance() abi.TokenAmount

	// Resolves an address of any protocol to an ID address (via the state's account table).
	// Returns false if the address could not be resolved.
	ResolveAddress(address addr.Address) (addr.Address, bool)

	// Looks up the code ID of the actor at an address.
	// Returns false if no actor exists at the address.
	GetActorCodeCID(addr addr.Address) (cid.Cid, bool)

	// Sends a message to another actor, transferring `value` and blocking until the
	// sub-call completes. The exit code of a failed sub-call is returned, not raised.
	Send(toAddr addr.Address, methodNum abi.MethodNum, params cbor.Marshaler, value abi.TokenAmount, out cbor.Er) exitcode.ExitCode

	// Halts execution upon an error from which the receiver cannot recover.
	// The provided exit code must be >= exitcode.FirstActorErrorCode.
	// State changes made within this invocation will be rolled back.
	// This method does not return.
	Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{})

	// Provides the Go context for the current execution.
	Context() context.Context

	// Emits a message visible to the host environment, e.g. for off-chain observers.
	// Messages are not persisted in state and have no effect on execution.
	Log(level rt.LogLevel, msg string, args ...interface{})
}

// Message contains information available to the actor about the executing message.
type Message interface {
	// The address of the immediate calling actor. Always an ID-address.
	Caller() addr.Address

	// The address of the actor receiving the message. Always an ID-address.
	Receiver() addr.Address

	// The value attached to the message being processed, implicitly added to
	// CurrentBalance() before method invocation.
	ValueReceived() abi.TokenAmount
}

// Store defines the storage module exposed to actors.
type Store interface {
	// Serializes and stores an object, returning its CID.
	StorePut(x cbor.Marshaler) cid.Cid

	// Loads and deserializes the object at `c` into `out`, returning whether it was found.
	StoreGet(c cid.Cid, out cbor.Unmarshaler) bool
}

// StateHandle provides mutable, exclusive access to actor state.
type StateHandle interface {
	// Create initializes the state object.
	// This is only valid in a constructor function and when the state has not yet been
	// initialized.
	StateCreate(obj cbor.Marshaler)

	// Readonly loads a readonly copy of the state into the argument.
	// Any modification to the state is illegal and will result in an abort.
	StateReadonly(obj cbor.Unmarshaler)

	// Transaction loads a mutable version of the state into the `obj` argument and protects
	// the execution from side effects applied inside `f`, then flushes the modified object
	// back as the new state root.
	StateTransaction(obj cbor.Er, f func())
}

// VMActor is a concrete implementation of an actor, to be invoked by a VM.
type VMActor = rt.VMActor
