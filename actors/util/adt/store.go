package adt

import (
	"context"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"

	"github.com/tokenlock/go-tokenlock-actors/actors/runtime"
)

// Store defines an interface required to back the ADTs in this package.
type Store interface {
	Context() context.Context
	ipldcbor.IpldStore
}

// Adapts a vanilla IPLD store as an ADT store.
func WrapStore(ctx context.Context, store ipldcbor.IpldStore) Store {
	return &wstore{
		ctx:       ctx,
		IpldStore: store,
	}
}

type wstore struct {
	ctx context.Context
	ipldcbor.IpldStore
}

var _ Store = &wstore{}

func (s *wstore) Context() context.Context {
	return s.ctx
}

// Store implementation in terms of a Runtime.
type rtStore struct {
	runtime.Runtime
}

// Adapts a Runtime as an ADT store.
func AsStore(rt runtime.Runtime) Store {
	return rtStore{rt}
}

var _ Store = &rtStore{}

func (r rtStore) Context() context.Context {
	return r.Runtime.Context()
}

func (r rtStore) Get(_ context.Context, c cid.Cid, out interface{}) error {
	// The Go context is (un/fortunately?) dropped here.
	// See https://github.com/filecoin-project/specs-actors/issues/140
	if !r.StoreGet(c, out.(cbor.Unmarshaler)) {
		r.Abortf(exitcode.ErrNotFound, "not found")
	}
	return nil
}

func (r rtStore) Put(_ context.Context, v interface{}) (cid.Cid, error) {
	// The Go context is (un/fortunately?) dropped here.
	// See https://github.com/filecoin-project/specs-actors/issues/140
	return r.StorePut(v.(cbor.Marshaler)), nil
}

// Keyer defines an interface required to put values in mapping.
type Keyer interface {
	Key() string
}

// Adapts an address as a mapping key.
type AddrKey addr.Address

func (k AddrKey) Key() string {
	return string(addr.Address(k).Bytes())
}

// Adapts a raw byte string as a mapping key.
type BytesKey []byte

func (k BytesKey) Key() string {
	return string(k)
}
