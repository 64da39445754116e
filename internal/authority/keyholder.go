// Package authority holds the upgrade authority's signing key and
// produces signed upgrade requests. The key lives in a memguard Enclave,
// encrypted at rest in process memory and opened only momentarily while
// signing.
package authority

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agora-markets/agora/internal/upgrade"
)

var (
	ErrNoActiveKey = errors.New("no active key")
	ErrKeyExpired  = errors.New("key expired")
)

// Keyholder seals the authority's private key with a TTL. After expiry
// the key is destroyed and must be re-activated (typically via a fresh
// KMS decrypt).
type Keyholder struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave // encrypted-at-rest key buffer
	address   common.Address    // derived authority address
	expiresAt time.Time
	ttl       time.Duration

	nowFunc func() time.Time // injectable clock for testing
}

// NewKeyholder creates a holder with the given TTL. No key is active
// until Activate is called.
func NewKeyholder(ttl time.Duration) *Keyholder {
	return &Keyholder{
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Activate seals keyBytes into a memguard Enclave and derives the
// authority address. The caller MUST zero their copy of keyBytes after
// calling this.
func (k *Keyholder) Activate(keyBytes []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	k.enclave = memguard.NewEnclave(keyBytes)
	k.address = crypto.PubkeyToAddress(privKey.PublicKey)
	k.expiresAt = k.nowFunc().Add(k.ttl)
	return nil
}

// Address returns the authority address derived from the active key.
func (k *Keyholder) Address() (common.Address, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.enclave == nil {
		return common.Address{}, ErrNoActiveKey
	}
	if k.isExpired() {
		return common.Address{}, ErrKeyExpired
	}
	return k.address, nil
}

// SignDigest opens the enclave momentarily and returns a 65-byte ECDSA
// signature (r || s || v) over the digest.
func (k *Keyholder) SignDigest(digest common.Hash) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.enclave == nil {
		return nil, ErrNoActiveKey
	}
	if k.isExpired() {
		k.destroyLocked()
		return nil, ErrKeyExpired
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}

	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := crypto.Sign(digest.Bytes(), privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// SignUpgrade builds a signed upgrade request for the given
// implementation and controller nonce.
func (k *Keyholder) SignUpgrade(impl upgrade.Implementation, nonce uint64) (upgrade.Request, error) {
	digest := upgrade.Digest(impl.Name(), impl.SchemaVersion(), nonce)
	sig, err := k.SignDigest(digest)
	if err != nil {
		return upgrade.Request{}, err
	}
	return upgrade.Request{Impl: impl, Nonce: nonce, Signature: sig}, nil
}

// Destroy zeroes and destroys the enclave.
func (k *Keyholder) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.destroyLocked()
}

// destroyLocked performs the actual cleanup. Caller must hold k.mu.
func (k *Keyholder) destroyLocked() {
	k.enclave = nil
	k.address = common.Address{}
}

// isExpired checks whether the TTL has elapsed. Caller must hold k.mu.
func (k *Keyholder) isExpired() bool {
	return k.nowFunc().After(k.expiresAt)
}
