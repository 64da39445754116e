package market

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agora-markets/agora/internal/upgrade"
)

// proxyFixture binds a fixture's v1 engine behind the upgrade controller,
// with a freshly generated authority key.
type proxyFixture struct {
	*fixture
	proxy        *Proxy
	authorityKey *ecdsa.PrivateKey
	authority    common.Address
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()

	f := newFixture(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	ctrl, err := upgrade.New(addr, f.state, f.engine)
	if err != nil {
		t.Fatalf("upgrade.New: %v", err)
	}
	return &proxyFixture{
		fixture:      f,
		proxy:        NewProxy(ctrl),
		authorityKey: key,
		authority:    addr,
	}
}

// signedUpgrade builds a request for impl signed by the fixture's
// authority at the controller's current nonce.
func (pf *proxyFixture) signedUpgrade(t *testing.T, impl upgrade.Implementation) upgrade.Request {
	t.Helper()

	nonce := pf.proxy.Controller().Nonce()
	digest := upgrade.Digest(impl.Name(), impl.SchemaVersion(), nonce)
	sig, err := crypto.Sign(digest.Bytes(), pf.authorityKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return upgrade.Request{Impl: impl, Nonce: nonce, Signature: sig}
}

func TestProxyRoutesToActiveLogic(t *testing.T) {
	pf := newProxyFixture(t)
	pf.approveListing(t)

	id, err := pf.proxy.Sell(pf.ctx, alice, nftAddr, big.NewInt(1), big.NewInt(10), 10*day, big.NewInt(100))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if err := pf.proxy.BuyWithNative(pf.ctx, bob, id, big.NewInt(100)); err != nil {
		t.Fatalf("BuyWithNative: %v", err)
	}
	if order, ok := pf.proxy.Order(id); !ok || order.Active {
		t.Errorf("expected settled order via proxy, got ok=%v active=%v", ok, order.Active)
	}
}

func TestSetFeeRateUnsupportedOnV1(t *testing.T) {
	pf := newProxyFixture(t)

	err := pf.proxy.SetFeeRate(pf.ctx, pf.authority, 5)
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestUpgradePreservesOrders(t *testing.T) {
	pf := newProxyFixture(t)
	pf.approveListing(t)

	id, err := pf.proxy.Sell(pf.ctx, alice, nftAddr, big.NewInt(1), big.NewInt(10), 10*day, big.NewInt(100))
	if err != nil {
		t.Fatalf("Sell under v1: %v", err)
	}
	before, _ := pf.proxy.Order(id)

	v2 := NewEngineV2(pf.engine, pf.authority)
	if err := pf.proxy.Controller().Upgrade(pf.signedUpgrade(t, v2)); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if got := pf.proxy.Controller().Current().Name(); got != "marketplace/v2" {
		t.Fatalf("expected marketplace/v2 active, got %s", got)
	}

	// The v1 order is still there, byte for byte.
	after, ok := pf.proxy.Order(id)
	if !ok {
		t.Fatal("order lost across upgrade")
	}
	if after.Seller != before.Seller || after.Price.Cmp(before.Price) != 0 ||
		after.Amount.Cmp(before.Amount) != 0 || !after.Deadline.Equal(before.Deadline) {
		t.Errorf("order changed across upgrade: before %+v, after %+v", before, after)
	}

	// And still settleable through the same proxy.
	if err := pf.proxy.BuyWithNative(pf.ctx, bob, id, big.NewInt(100)); err != nil {
		t.Fatalf("settlement under v2: %v", err)
	}
}

func TestUpgradeEnablesFeeAdmin(t *testing.T) {
	pf := newProxyFixture(t)

	v2 := NewEngineV2(pf.engine, pf.authority)
	if err := pf.proxy.Controller().Upgrade(pf.signedUpgrade(t, v2)); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	if err := pf.proxy.SetFeeRate(pf.ctx, bob, 5); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-admin: expected ErrUnauthorized, got %v", err)
	}
	if err := pf.proxy.SetFeeRate(pf.ctx, pf.authority, 5); err != nil {
		t.Fatalf("SetFeeRate: %v", err)
	}
	if _, rate := pf.state.FeeConfig(); rate != 5 {
		t.Errorf("expected rate 5, got %d", rate)
	}
	if err := pf.proxy.SetFeeRate(pf.ctx, pf.authority, 200); !errors.Is(err, ErrFeeRateOutOfRange) {
		t.Errorf("expected ErrFeeRateOutOfRange, got %v", err)
	}
}

func TestUpgradeRejectsForeignSigner(t *testing.T) {
	pf := newProxyFixture(t)

	mallory, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v2 := NewEngineV2(pf.engine, pf.authority)
	digest := upgrade.Digest(v2.Name(), v2.SchemaVersion(), pf.proxy.Controller().Nonce())
	sig, err := crypto.Sign(digest.Bytes(), mallory)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = pf.proxy.Controller().Upgrade(upgrade.Request{Impl: v2, Nonce: 0, Signature: sig})
	if !errors.Is(err, upgrade.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := pf.proxy.Controller().Current().Name(); got != "marketplace/v1" {
		t.Errorf("rejected upgrade must not flip the implementation, got %s", got)
	}
}

func TestUpgradeRejectsReplay(t *testing.T) {
	pf := newProxyFixture(t)

	v2 := NewEngineV2(pf.engine, pf.authority)
	req := pf.signedUpgrade(t, v2)
	if err := pf.proxy.Controller().Upgrade(req); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}

	// The same signed request again: the nonce has moved on.
	if err := pf.proxy.Controller().Upgrade(req); !errors.Is(err, upgrade.ErrBadNonce) {
		t.Fatalf("expected ErrBadNonce, got %v", err)
	}
}
