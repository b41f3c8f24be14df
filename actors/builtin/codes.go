package builtin

import (
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// The built-in actor code IDs
var (
	SystemActorCodeID   cid.Cid
	AccountActorCodeID  cid.Cid
	MultisigActorCodeID cid.Cid
	VestingActorCodeID  cid.Cid
	StakeActorCodeID    cid.Cid
	CallerTypesSignable []cid.Cid
)

var builtinActors map[cid.Cid]*actorInfo

type actorInfo struct {
	name   string
	signer bool
}

func init() {
	builder := cid.V1Builder{Codec: cid.Raw, MhType: mh.IDENTITY}
	builtinActors = make(map[cid.Cid]*actorInfo)

	for id, info := range map[*cid.Cid]*actorInfo{ //nolint:nomaprange
		&SystemActorCodeID:   {name: "tokenlock/1/system"},
		&AccountActorCodeID:  {name: "tokenlock/1/account", signer: true},
		&MultisigActorCodeID: {name: "tokenlock/1/multisig", signer: true},
		&VestingActorCodeID:  {name: "tokenlock/1/vesting"},
		&StakeActorCodeID:    {name: "tokenlock/1/stake"},
	} {
		c, err := builder.Sum([]byte(info.name))
		if err != nil {
			panic(err)
		}
		*id = c
		builtinActors[c] = info
	}

	// Set of actor code types that can represent external signing parties.
	for id, info := range builtinActors { //nolint:nomaprange
		if info.signer {
			CallerTypesSignable = append(CallerTypesSignable, id)
		}
	}
}

// Tests whether a code CID represents an actor that can be an external principal: i.e. an account or multisig.
func IsPrincipal(code cid.Cid) bool {
	info, ok := builtinActors[code]
	if !ok {
		return false
	}
	return info.signer
}

// Tests whether a code CID represents an actor that can be an external signing party.
func IsBuiltinActor(code cid.Cid) bool {
	_, isBuiltin := builtinActors[code]
	return isBuiltin
}

// Returns a human-readable name for the actor with the provided code CID.
func ActorNameByCode(code cid.Cid) string {
	if !code.Defined() {
		return "<undefined>"
	}

	info, ok := builtinActors[code]
	if !ok {
		return "<unknown>"
	}
	return info.name
}
