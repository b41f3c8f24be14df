package mock

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"

	"github.com/tokenlock/go-tokenlock-actors/actors/runtime"
	"github.com/tokenlock/go-tokenlock-actors/actors/util/adt"
	"github.com/tokenlock/go-tokenlock-actors/support/ipld"
)

// A mock runtime for unit testing of actors in isolation.
// The mock allows direct specification of the runtime context as observable by the actor, supports
// the storage interface, and mocks out side-effect-inducing calls.
type Runtime struct {
	// Execution context
	ctx           context.Context
	epoch         abi.ChainEpoch
	receiver      addr.Address
	caller        addr.Address
	callerType    cid.Cid
	valueReceived abi.TokenAmount
	idAddresses   map[addr.Address]addr.Address
	actorCodeCIDs map[addr.Address]cid.Cid

	// Actor state
	state   cid.Cid
	balance abi.TokenAmount

	// VM implementation
	inCall        bool
	store         ipldcbor.IpldStore
	inTransaction bool

	// Expectations
	t                        testing.TB
	expectValidateCallerAny  bool
	expectValidateCallerAddr []addr.Address
	expectValidateCallerType []cid.Cid
	expectSends              []*expectedMessage
	callerValidated          bool
	logs                     []string
}

var _ runtime.Runtime = &Runtime{}

type expectedMessage struct {
	// expectedMessage values
	to     addr.Address
	method abi.MethodNum
	params cbor.Marshaler
	value  abi.TokenAmount

	// returns from applying expectedMessage
	sendReturn cbor.Er
	exitCode   exitcode.ExitCode
}

func (m *expectedMessage) Equal(to addr.Address, method abi.MethodNum, params cbor.Marshaler, value abi.TokenAmount) bool {
	return m.to == to && m.method == method && m.value.Equals(value) && reflect.DeepEqual(m.params, params)
}

func (m *expectedMessage) String() string {
	return fmt.Sprintf("to: %v method: %v value: %v params: %v sendReturn: %v exitCode: %v", m.to, m.method, m.value, m.params, m.sendReturn, m.exitCode)
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func (a abort) String() string {
	return fmt.Sprintf("abort(%v): %s", a.code, a.msg)
}

///// Implementation of the runtime API /////

func (rt *Runtime) Caller() addr.Address {
	rt.requireInCall()
	return rt.caller
}

func (rt *Runtime) Receiver() addr.Address {
	rt.requireInCall()
	return rt.receiver
}

func (rt *Runtime) ValueReceived() abi.TokenAmount {
	rt.requireInCall()
	return rt.valueReceived
}

func (rt *Runtime) CurrEpoch() abi.ChainEpoch {
	rt.requireInCall()
	return rt.epoch
}

func (rt *Runtime) ValidateImmediateCallerAcceptAny() {
	rt.requireInCall()
	rt.checkSingleValidation()
	if !rt.expectValidateCallerAny {
		rt.failTest("unexpected validate-caller-any")
	}
	rt.expectValidateCallerAny = false
	rt.markValidated()
}

func (rt *Runtime) ValidateImmediateCallerIs(addrs ...addr.Address) {
	rt.requireInCall()
	rt.checkSingleValidation()
	rt.checkArgument(len(addrs) > 0, "addrs must be non-empty")
	// Check and clear expectations.
	if len(rt.expectValidateCallerAddr) == 0 {
		rt.failTest("unexpected validate caller addrs")
		return
	}
	if !reflect.DeepEqual(rt.expectValidateCallerAddr, addrs) {
		rt.failTest("unexpected validate caller addrs %v, expected %v", addrs, rt.expectValidateCallerAddr)
		return
	}
	defer func() {
		rt.expectValidateCallerAddr = nil
	}()

	// Implement method.
	for _, expected := range addrs {
		if rt.caller == expected {
			rt.markValidated()
			return
		}
	}
	rt.Abortf(exitcode.SysErrForbidden, "caller address %v forbidden, allowed: %v", rt.caller, addrs)
}

func (rt *Runtime) ValidateImmediateCallerType(types ...cid.Cid) {
	rt.requireInCall()
	rt.checkSingleValidation()
	rt.checkArgument(len(types) > 0, "types must be non-empty")

	// Check and clear expectations.
	if len(rt.expectValidateCallerType) == 0 {
		rt.failTest("unexpected validate caller code")
	}
	if !reflect.DeepEqual(rt.expectValidateCallerType, types) {
		rt.failTest("unexpected validate caller code %v, expected %v", types, rt.expectValidateCallerType)
	}
	defer func() {
		rt.expectValidateCallerType = nil
	}()

	// Implement method.
	for _, expected := range types {
		if rt.callerType.Equals(expected) {
			rt.markValidated()
			return
		}
	}
	rt.Abortf(exitcode.SysErrForbidden, "caller type %v forbidden, allowed: %v", rt.callerType, types)
}

func (rt *Runtime) CurrentBalance() abi.TokenAmount {
	rt.requireInCall()
	return rt.balance
}

func (rt *Runtime) ResolveAddress(address addr.Address) (addr.Address, bool) {
	rt.requireInCall()
	if address.Protocol() == addr.ID {
		return address, true
	}
	resolved, ok := rt.idAddresses[address]
	return resolved, ok
}

func (rt *Runtime) GetActorCodeCID(address addr.Address) (cid.Cid, bool) {
	rt.requireInCall()
	ret, ok := rt.actorCodeCIDs[address]
	return ret, ok
}

func (rt *Runtime) Send(toAddr addr.Address, methodNum abi.MethodNum, params cbor.Marshaler, value abi.TokenAmount, out cbor.Er) exitcode.ExitCode {
	rt.requireInCall()
	if rt.inTransaction {
		rt.Abortf(exitcode.SysErrorIllegalActor, "side-effect within transaction")
	}
	if len(rt.expectSends) == 0 {
		rt.failTestNow("unexpected send to: %v method: %v, value: %v, params: %v", toAddr, methodNum, value, params)
	}
	exp := rt.expectSends[0]

	if !exp.Equal(toAddr, methodNum, params, value) {
		rt.failTestNow("expected send\n"+
			"          to: %[1]v method: %[2]v value: %[3]v params: %[4]v\n"+
			"actual send\n"+
			"          to: %[5]v method: %[6]v value: %[7]v params: %[8]v",
			exp.to, exp.method, exp.value, exp.params,
			toAddr, methodNum, value, params)
	}

	if value.GreaterThan(rt.balance) {
		rt.Abortf(exitcode.SysErrSenderStateInvalid, "cannot send value: %v exceeds balance: %v", value, rt.balance)
	}

	// Pop the expectation and modify the balance to reflect the send.
	defer func() {
		rt.expectSends = rt.expectSends[1:]
		rt.balance = big.Sub(rt.balance, value)
	}()

	// Populate the output argument.
	if exp.sendReturn != nil && out != nil && !reflect.ValueOf(out).IsNil() {
		buf := new(bytes.Buffer)
		if err := exp.sendReturn.MarshalCBOR(buf); err != nil {
			rt.failTestNow("error serializing expected send return: %v", err)
		}
		if err := out.UnmarshalCBOR(buf); err != nil {
			rt.failTestNow("error deserializing send return bytes to output param: %v", err)
		}
	}
	return exp.exitCode
}

func (rt *Runtime) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	rt.t.Logf("Mock Runtime Abort ExitCode: %v Reason: %s", errExitCode, fmt.Sprintf(msg, args...))
	panic(abort{errExitCode, fmt.Sprintf(msg, args...)})
}

func (rt *Runtime) Context() context.Context {
	// requireInCall omitted because tests use this to build stores.
	return rt.ctx
}

func (rt *Runtime) Log(level rtt.LogLevel, msg string, args ...interface{}) {
	rt.logs = append(rt.logs, fmt.Sprintf(msg, args...))
}

///// Store implementation /////

func (rt *Runtime) StorePut(o cbor.Marshaler) cid.Cid {
	key, err := rt.store.Put(rt.ctx, o)
	if err != nil {
		rt.Abortf(exitcode.ErrSerialization, "failed to put: %v", err)
	}
	return key
}

func (rt *Runtime) StoreGet(c cid.Cid, o cbor.Unmarshaler) bool {
	err := rt.store.Get(rt.ctx, c, o)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false
		}
		rt.Abortf(exitcode.ErrSerialization, "failed to get: %v", err)
	}
	return true
}

// Provides the store as an ADT store for convenient inspection of state structures.
func (rt *Runtime) AdtStore() adt.Store {
	return adt.WrapStore(rt.ctx, rt.store)
}

///// State handle implementation /////

func (rt *Runtime) StateCreate(obj cbor.Marshaler) {
	if rt.state.Defined() {
		rt.Abortf(exitcode.SysErrorIllegalActor, "state already constructed")
	}
	rt.state = rt.StorePut(obj)
}

func (rt *Runtime) StateReadonly(obj cbor.Unmarshaler) {
	found := rt.StoreGet(rt.state, obj)
	if !found {
		rt.failTestNow("actor state not found")
	}
}

func (rt *Runtime) StateTransaction(obj cbor.Er, f func()) {
	if obj == nil {
		rt.Abortf(exitcode.SysErrorIllegalActor, "nil state")
	}
	if rt.inTransaction {
		rt.Abortf(exitcode.SysErrorIllegalActor, "nested transaction")
	}
	rt.StateReadonly(obj)
	rt.inTransaction = true
	defer func() { rt.inTransaction = false }()
	f()
	rt.state = rt.StorePut(obj)
}

///// Mock facilities and querying the mock state /////

func (rt *Runtime) StateRoot() cid.Cid {
	return rt.state
}

func (rt *Runtime) GetState(o cbor.Unmarshaler) {
	if found := rt.StoreGet(rt.state, o); !found {
		rt.failTestNow("can't find state at root %v", rt.state)
	}
}

func (rt *Runtime) Balance() abi.TokenAmount {
	return rt.balance
}

func (rt *Runtime) Epoch() abi.ChainEpoch {
	return rt.epoch
}

func (rt *Runtime) SetCaller(address addr.Address, actorType cid.Cid) {
	rt.caller = address
	rt.callerType = actorType
	rt.actorCodeCIDs[address] = actorType
}

func (rt *Runtime) SetAddressActorType(address addr.Address, actorType cid.Cid) {
	rt.actorCodeCIDs[address] = actorType
}

func (rt *Runtime) AddIDAddress(src addr.Address, target addr.Address) {
	rt.require(target.Protocol() == addr.ID, "target must use ID address protocol")
	rt.idAddresses[src] = target
}

func (rt *Runtime) SetReceived(amt abi.TokenAmount) {
	rt.valueReceived = amt
}

func (rt *Runtime) SetBalance(amt abi.TokenAmount) {
	rt.balance = amt
}

func (rt *Runtime) SetEpoch(epoch abi.ChainEpoch) abi.ChainEpoch {
	rt.epoch = epoch
	return epoch
}

///// Expectations /////

func (rt *Runtime) ExpectValidateCallerAny() {
	rt.expectValidateCallerAny = true
}

func (rt *Runtime) ExpectValidateCallerAddr(addrs ...addr.Address) {
	rt.require(len(addrs) > 0, "addrs must be non-empty")
	rt.expectValidateCallerAddr = addrs[:]
}

func (rt *Runtime) ExpectValidateCallerType(types ...cid.Cid) {
	rt.require(len(types) > 0, "types must be non-empty")
	rt.expectValidateCallerType = types[:]
}

func (rt *Runtime) ExpectSend(toAddr addr.Address, methodNum abi.MethodNum, params cbor.Marshaler, value abi.TokenAmount, sendReturn cbor.Er, exitCode exitcode.ExitCode) {
	rt.expectSends = append(rt.expectSends, &expectedMessage{
		to:         toAddr,
		method:     methodNum,
		params:     params,
		value:      value,
		sendReturn: sendReturn,
		exitCode:   exitCode,
	})
}

// Expects an abort with the specified code from the callable, and fails the test otherwise.
// State is rolled back so the runtime can be re-used after the abort.
func (rt *Runtime) ExpectAbort(expected exitcode.ExitCode, f func()) {
	rt.expectAbort(expected, nil, f)
}

// Expects an abort with the specified code and a message containing the substring.
func (rt *Runtime) ExpectAbortContainsMessage(expected exitcode.ExitCode, substr string, f func()) {
	rt.expectAbort(expected, &substr, f)
}

func (rt *Runtime) expectAbort(expected exitcode.ExitCode, substr *string, f func()) {
	prevState := rt.state

	defer func() {
		r := recover()
		if r == nil {
			rt.failTest("expected abort with code %v but call succeeded", expected)
			return
		}
		a, ok := r.(abort)
		if !ok {
			panic(r)
		}
		if a.code != expected {
			rt.failTest("abort expected code %v, actual %v %s", expected, a.code, a.msg)
		}
		if substr != nil && !strings.Contains(a.msg, *substr) {
			rt.failTest("abort expected message %q but got %q", *substr, a.msg)
		}
		// Roll back state change.
		rt.state = prevState
	}()
	f()
}

func (rt *Runtime) ExpectLogsContain(substr string) {
	for _, msg := range rt.logs {
		if strings.Contains(msg, substr) {
			return
		}
	}
	rt.failTest("logs contain %d message(s) and do not contain %q", len(rt.logs), substr)
}

func (rt *Runtime) ClearLogs() {
	rt.logs = []string{}
}

// Verifies that all expectations were satisfied and resets them for re-use of the runtime.
func (rt *Runtime) Verify() {
	rt.t.Helper()
	if rt.expectValidateCallerAny {
		rt.failTest("missing expected validate caller any")
	}
	if rt.expectValidateCallerAddr != nil {
		rt.failTest("missing expected validate caller address %v", rt.expectValidateCallerAddr)
	}
	if rt.expectValidateCallerType != nil {
		rt.failTest("missing expected validate caller code %v", rt.expectValidateCallerType)
	}
	if len(rt.expectSends) > 0 {
		rt.failTest("missing expected send %v", rt.expectSends)
	}
	rt.Reset()
}

// Resets expectations.
func (rt *Runtime) Reset() {
	rt.expectValidateCallerAny = false
	rt.expectValidateCallerAddr = nil
	rt.expectValidateCallerType = nil
	rt.expectSends = nil
}

///// Invoking actor code /////

// Calls the supplied actor method, passing the mock runtime and params.
// An abort from the method propagates as a panic (expected aborts are handled by ExpectAbort).
func (rt *Runtime) Call(method interface{}, params interface{}) interface{} {
	meth := reflect.ValueOf(method)
	rt.verifyExportedMethodType(meth)

	rt.inCall = true
	rt.callerValidated = false
	defer func() { rt.inCall = false }()
	var arg reflect.Value
	if params != nil {
		arg = reflect.ValueOf(params)
	} else {
		arg = reflect.ValueOf(abi.Empty)
	}
	ret := meth.Call([]reflect.Value{reflect.ValueOf(rt), arg})
	return ret[0].Interface()
}

var runtimeType = reflect.TypeOf((*runtime.Runtime)(nil)).Elem()
var cborUnmarshalerType = reflect.TypeOf((*cbor.Unmarshaler)(nil)).Elem()
var cborMarshalerType = reflect.TypeOf((*cbor.Marshaler)(nil)).Elem()

func (rt *Runtime) verifyExportedMethodType(meth reflect.Value) {
	rt.t.Helper()
	t := meth.Type()
	rt.require(t.Kind() == reflect.Func, "%v is not a function", meth)
	rt.require(t.NumIn() == 2, "exported method %v must have two parameters, got %v", meth, t.NumIn())
	rt.require(t.In(0) == runtimeType, "exported method first parameter must be runtime, got %v", t.In(0))
	rt.require(t.In(1).Kind() == reflect.Ptr, "exported method second parameter must be pointer to params, got %v", t.In(1))
	rt.require(t.In(1).Implements(cborUnmarshalerType), "exported method second parameter must be CBOR-unmarshalable params, got %v", t.In(1))
	rt.require(t.NumOut() == 1, "exported method must return a single value")
	rt.require(t.Out(0).Implements(cborMarshalerType), "exported method must return CBOR-marshalable value")
}

func (rt *Runtime) markValidated() {
	rt.callerValidated = true
}

func (rt *Runtime) checkSingleValidation() {
	if rt.callerValidated {
		rt.Abortf(exitcode.SysErrorIllegalActor, "caller has already been validated")
	}
}

func (rt *Runtime) checkArgument(predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.SysErrReserved1, msg, args...)
	}
}

func (rt *Runtime) requireInCall() {
	rt.require(rt.inCall, "invalid runtime invocation outside of method call")
}

func (rt *Runtime) require(predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.failTestNow(msg, args...)
	}
}

func (rt *Runtime) failTest(msg string, args ...interface{}) {
	rt.t.Helper()
	rt.t.Errorf(msg, args...)
}

func (rt *Runtime) failTestNow(msg string, args ...interface{}) {
	rt.t.Helper()
	rt.t.Fatalf(msg, args...)
}

// Checks that all exported methods of an actor have a valid signature.
func CheckActorExports(t *testing.T, act interface{ Exports() []interface{} }) {
	for i, m := range act.Exports() {
		if i == 0 { // Send is implicit
			continue
		}
		if m == nil {
			continue
		}

		t.Run(fmt.Sprintf("method%d-type", i), func(t *testing.T) {
			rt := Runtime{t: t}
			rt.verifyExportedMethodType(reflect.ValueOf(m))
		})
	}
}

///// Builder /////

// Build a mock runtime with the supplied context and receiver, customized by the With* methods.
type RuntimeBuilder struct {
	rt *Runtime
}

func NewBuilder(ctx context.Context, receiver addr.Address) RuntimeBuilder {
	m := &Runtime{
		ctx:           ctx,
		epoch:         0,
		receiver:      receiver,
		caller:        addr.Undef,
		callerType:    cid.Undef,
		valueReceived: abi.NewTokenAmount(0),
		idAddresses:   make(map[addr.Address]addr.Address),
		actorCodeCIDs: make(map[addr.Address]cid.Cid),

		state:   cid.Undef,
		balance: abi.NewTokenAmount(0),

		store: ipldcbor.NewCborStore(ipld.NewBlockStoreInMemory()),
	}
	return RuntimeBuilder{m}
}

func (b RuntimeBuilder) Build(t testing.TB) *Runtime {
	cpy := *b.rt
	cpy.t = t
	return &cpy
}

func (b RuntimeBuilder) WithEpoch(epoch abi.ChainEpoch) RuntimeBuilder {
	b.rt.epoch = epoch
	return b
}

func (b RuntimeBuilder) WithCaller(address addr.Address, code cid.Cid) RuntimeBuilder {
	b.rt.caller = address
	b.rt.callerType = code
	b.rt.actorCodeCIDs[address] = code
	return b
}

func (b RuntimeBuilder) WithBalance(balance, received abi.TokenAmount) RuntimeBuilder {
	b.rt.balance = balance
	b.rt.valueReceived = received
	return b
}

func (b RuntimeBuilder) WithActorType(address addr.Address, code cid.Cid) RuntimeBuilder {
	b.rt.actorCodeCIDs[address] = code
	return b
}
