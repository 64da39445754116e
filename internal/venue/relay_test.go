package venue

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/gateway"
)

var (
	relayAddr  = common.HexToAddress("0x00000000000000000000000000000000000d0e0f")
	routerAddr = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	wethAddr   = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	daiAddr    = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// mockRouter lets tests script venue behavior per call.
type mockRouter struct {
	quoteFn func(amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	swapFn  func(ctx context.Context, payer common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address) (*big.Int, error)
}

func (m *mockRouter) GetAmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return m.quoteFn(amountIn, path)
}

func (m *mockRouter) SwapExactNativeForTokens(ctx context.Context, payer common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address, _ time.Time) (*big.Int, error) {
	return m.swapFn(ctx, payer, value, amountOutMin, path, to)
}

type relayFixture struct {
	ctx      context.Context
	native   *gateway.MemoryNative
	fungible *gateway.MemoryFungible
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := &relayFixture{
		ctx:      context.Background(),
		native:   gateway.NewMemoryNative(),
		fungible: gateway.NewMemoryFungible(),
	}
	f.fungible.Deploy(daiAddr, "Dai")
	f.native.Mint(carol, big.NewInt(1_000))
	return f
}

func (f *relayFixture) relay(router Router) *Relay {
	return NewRelay(relayAddr, wethAddr, router, f.native, f.fungible, 2*time.Minute, nil)
}

func (f *relayFixture) nativeBalance(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	b, err := f.native.BalanceOf(f.ctx, who)
	if err != nil {
		t.Fatalf("native BalanceOf: %v", err)
	}
	return b
}

func (f *relayFixture) daiBalance(t *testing.T, who common.Address) *big.Int {
	t.Helper()
	b, err := f.fungible.BalanceOf(f.ctx, daiAddr, who)
	if err != nil {
		t.Fatalf("dai BalanceOf: %v", err)
	}
	return b
}

func TestMakeSwapRejectsInvalidArgs(t *testing.T) {
	f := newRelayFixture(t)
	r := f.relay(&mockRouter{})

	cases := []struct {
		name            string
		payment, minOut *big.Int
	}{
		{"nil payment", nil, big.NewInt(1)},
		{"zero payment", big.NewInt(0), big.NewInt(1)},
		{"negative payment", big.NewInt(-1), big.NewInt(1)},
		{"nil minOut", big.NewInt(100), nil},
		{"negative minOut", big.NewInt(100), big.NewInt(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.MakeSwap(f.ctx, carol, daiAddr, tc.payment, tc.minOut)
			if !errors.Is(err, ErrInvalidSwap) {
				t.Fatalf("expected ErrInvalidSwap, got %v", err)
			}
		})
	}
}

func TestMakeSwapThroughFixedRateVenue(t *testing.T) {
	f := newRelayFixture(t)

	router := NewFixedRateRouter(routerAddr, f.native, f.fungible)
	router.SetRate(daiAddr, big.NewRat(2, 1))
	f.fungible.Mint(daiAddr, routerAddr, big.NewInt(10_000))

	out, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(200))
	if err != nil {
		t.Fatalf("MakeSwap: %v", err)
	}
	if out.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("expected out 200, got %s", out)
	}

	if got := f.daiBalance(t, carol); got.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("expected carol 200 DAI, got %s", got)
	}
	if got := f.nativeBalance(t, carol); got.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("expected carol 900 native, got %s", got)
	}
	if got := f.nativeBalance(t, relayAddr); got.Sign() != 0 {
		t.Errorf("relay must hold no residual custody, got %s", got)
	}
	if got := f.nativeBalance(t, routerAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("expected venue reserves to receive 100 native, got %s", got)
	}
}

func TestMakeSwapQuoteFloorsFractions(t *testing.T) {
	f := newRelayFixture(t)

	router := NewFixedRateRouter(routerAddr, f.native, f.fungible)
	router.SetRate(daiAddr, big.NewRat(1, 3))
	f.fungible.Mint(daiAddr, routerAddr, big.NewInt(10_000))

	out, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(33))
	if err != nil {
		t.Fatalf("MakeSwap: %v", err)
	}
	if out.Cmp(big.NewInt(33)) != 0 {
		t.Errorf("expected floored out 33, got %s", out)
	}
}

func TestMakeSwapQuoteBelowMinOut(t *testing.T) {
	f := newRelayFixture(t)

	router := NewFixedRateRouter(routerAddr, f.native, f.fungible)
	router.SetRate(daiAddr, big.NewRat(2, 1))
	f.fungible.Mint(daiAddr, routerAddr, big.NewInt(10_000))

	_, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(201))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	// Rejected before any value moved.
	if got := f.nativeBalance(t, carol); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("carol native changed: %s", got)
	}
}

func TestMakeSwapUnknownPair(t *testing.T) {
	f := newRelayFixture(t)
	router := NewFixedRateRouter(routerAddr, f.native, f.fungible)

	_, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(1))
	if !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
}

func TestMakeSwapVenueFailureRefunds(t *testing.T) {
	f := newRelayFixture(t)

	venueDown := errors.New("venue: execution reverted")
	router := &mockRouter{
		quoteFn: func(amountIn *big.Int, _ []common.Address) ([]*big.Int, error) {
			return []*big.Int{amountIn, big.NewInt(200)}, nil
		},
		swapFn: func(context.Context, common.Address, *big.Int, *big.Int, []common.Address, common.Address) (*big.Int, error) {
			return nil, venueDown
		},
	}

	_, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(200))
	if !errors.Is(err, venueDown) {
		t.Fatalf("expected the venue error surfaced, got %v", err)
	}
	if got := f.nativeBalance(t, carol); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("carol must be refunded in full, got %s", got)
	}
	if got := f.nativeBalance(t, relayAddr); got.Sign() != 0 {
		t.Errorf("relay must hold no residual custody, got %s", got)
	}
}

func TestMakeSwapReserveShortfallRefunds(t *testing.T) {
	f := newRelayFixture(t)

	router := NewFixedRateRouter(routerAddr, f.native, f.fungible)
	router.SetRate(daiAddr, big.NewRat(2, 1))
	f.fungible.Mint(daiAddr, routerAddr, big.NewInt(50))

	_, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(200))
	if !errors.Is(err, gateway.ErrInsufficientBalance) {
		t.Fatalf("expected reserve shortfall surfaced, got %v", err)
	}
	if got := f.nativeBalance(t, carol); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("carol must be refunded in full, got %s", got)
	}
}

func TestMakeSwapRejectsUnderDelivery(t *testing.T) {
	f := newRelayFixture(t)
	f.fungible.Mint(daiAddr, routerAddr, big.NewInt(10_000))

	// A venue that reports success and the quoted amount but delivers
	// less than minOut.
	router := &mockRouter{
		quoteFn: func(amountIn *big.Int, _ []common.Address) ([]*big.Int, error) {
			return []*big.Int{amountIn, big.NewInt(200)}, nil
		},
		swapFn: func(ctx context.Context, payer common.Address, value, _ *big.Int, _ []common.Address, to common.Address) (*big.Int, error) {
			if err := f.native.Transfer(ctx, payer, routerAddr, value); err != nil {
				return nil, err
			}
			if err := f.fungible.Transfer(ctx, daiAddr, routerAddr, to, big.NewInt(150)); err != nil {
				return nil, err
			}
			return big.NewInt(200), nil
		},
	}

	_, err := f.relay(router).MakeSwap(f.ctx, carol, daiAddr, big.NewInt(100), big.NewInt(200))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded on under-delivery, got %v", err)
	}
}

func TestRelayStateRefusesMigration(t *testing.T) {
	if err := (RelayState{}).Migrate(2); err == nil {
		t.Fatal("expected migration refusal")
	}
	if got := (RelayState{}).SchemaVersion(); got != RelaySchema {
		t.Errorf("expected schema %d, got %d", RelaySchema, got)
	}
}
