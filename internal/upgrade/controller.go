// Package upgrade implements the logic-swap controller: resident state
// stays in place while the implementation that interprets it is replaced
// by an authorized, signed request. Layout compatibility is proven when
// an implementation is bound, never discovered mid-operation.
package upgrade

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnauthorized   = errors.New("upgrade: unauthorized")
	ErrSchemaMismatch = errors.New("upgrade: state schema mismatch")
	ErrBadNonce       = errors.New("upgrade: stale or future nonce")
	ErrNilImpl        = errors.New("upgrade: nil implementation")
)

// Implementation is a replaceable logic version. SchemaVersion declares
// the state layout the implementation was built against.
type Implementation interface {
	Name() string
	SchemaVersion() uint32
}

// StateBinding is the resident state as seen by the controller: its
// current schema version and the ability to run explicit migrations.
type StateBinding interface {
	SchemaVersion() uint32
	Migrate(to uint32) error
}

// Request is a signed instruction to activate a new implementation.
// The signature is a 65-byte ECDSA signature over Digest.
type Request struct {
	Impl      Implementation
	Nonce     uint64
	Signature []byte
}

// Digest computes the hash an authority must sign to activate an
// implementation: keccak256("AGORA_UPGRADE" || name || schema || nonce).
func Digest(name string, schema uint32, nonce uint64) common.Hash {
	var schemaBuf [4]byte
	binary.BigEndian.PutUint32(schemaBuf[:], schema)
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)

	return crypto.Keccak256Hash(
		[]byte("AGORA_UPGRADE"),
		crypto.Keccak256([]byte(name)),
		schemaBuf[:],
		nonceBuf[:],
	)
}

// Controller routes calls to the currently active implementation while
// the resident state stays put. It is also the process-wide serializer:
// every operation against the state goes through Do, so no two
// operations ever interleave.
type Controller struct {
	mu        sync.Mutex
	authority common.Address
	state     StateBinding
	impl      Implementation
	nonce     uint64
}

// New binds the initial implementation to the resident state. The schema
// declared by the implementation must match the state exactly; a mismatch
// here is a deployment error, not a runtime condition.
func New(authority common.Address, state StateBinding, initial Implementation) (*Controller, error) {
	if initial == nil {
		return nil, ErrNilImpl
	}
	if got, want := initial.SchemaVersion(), state.SchemaVersion(); got != want {
		return nil, fmt.Errorf("%w: implementation %q declares schema %d, state has %d",
			ErrSchemaMismatch, initial.Name(), got, want)
	}
	return &Controller{
		authority: authority,
		state:     state,
		impl:      initial,
	}, nil
}

// Current returns the active implementation.
func (c *Controller) Current() Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.impl
}

// Nonce returns the nonce the next upgrade request must carry.
func (c *Controller) Nonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce
}

// Do executes fn against the active implementation under the global
// serializer. Every externally observable operation runs through here,
// so each one is atomic with respect to all others.
func (c *Controller) Do(fn func(Implementation) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.impl)
}

// Upgrade activates req.Impl after verifying the authority's signature,
// the replay nonce, and schema compatibility. If the new implementation
// declares a newer schema, the registered migrations are run before the
// pointer flips; a missing migration path aborts with no state change.
func (c *Controller) Upgrade(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Impl == nil {
		return ErrNilImpl
	}
	if req.Nonce != c.nonce {
		return ErrBadNonce
	}

	digest := Digest(req.Impl.Name(), req.Impl.SchemaVersion(), req.Nonce)
	pub, err := crypto.SigToPub(digest.Bytes(), req.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if crypto.PubkeyToAddress(*pub) != c.authority {
		return ErrUnauthorized
	}

	if want := req.Impl.SchemaVersion(); want != c.state.SchemaVersion() {
		if err := c.state.Migrate(want); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
	}

	c.impl = req.Impl
	c.nonce++
	return nil
}
