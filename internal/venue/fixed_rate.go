package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/gateway"
)

// FixedRateRouter is an in-memory Router quoting each pair at a constant
// rate out of its own token reserves. Used by tests and the local
// single-process mode in place of a real venue.
type FixedRateRouter struct {
	addr     common.Address
	native   gateway.NativeLedger
	fungible gateway.Fungible

	mu    sync.RWMutex
	rates map[common.Address]*big.Rat // target token → tokens per native unit
}

// NewFixedRateRouter creates a router settling out of the reserves held
// at addr.
func NewFixedRateRouter(addr common.Address, native gateway.NativeLedger, fungible gateway.Fungible) *FixedRateRouter {
	return &FixedRateRouter{
		addr:     addr,
		native:   native,
		fungible: fungible,
		rates:    make(map[common.Address]*big.Rat),
	}
}

// SetRate fixes the quote for a target token, in tokens per native unit.
func (r *FixedRateRouter) SetRate(target common.Address, rate *big.Rat) {
	r.mu.Lock()
	r.rates[target] = new(big.Rat).Set(rate)
	r.mu.Unlock()
}

func (r *FixedRateRouter) GetAmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrUnknownPair
	}
	out, err := r.quote(amountIn, path[len(path)-1])
	if err != nil {
		return nil, err
	}
	return []*big.Int{new(big.Int).Set(amountIn), out}, nil
}

func (r *FixedRateRouter) SwapExactNativeForTokens(ctx context.Context, payer common.Address, value, amountOutMin *big.Int, path []common.Address, to common.Address, deadline time.Time) (*big.Int, error) {
	if time.Now().After(deadline) {
		return nil, fmt.Errorf("venue: swap deadline passed")
	}
	if len(path) < 2 {
		return nil, ErrUnknownPair
	}
	target := path[len(path)-1]

	out, err := r.quote(value, target)
	if err != nil {
		return nil, err
	}
	if out.Cmp(amountOutMin) < 0 {
		return nil, ErrSlippageExceeded
	}

	if err := r.native.Transfer(ctx, payer, r.addr, value); err != nil {
		return nil, err
	}
	if err := r.fungible.Transfer(ctx, target, r.addr, to, out); err != nil {
		// Reserves short — hand the native back.
		r.native.Transfer(ctx, r.addr, payer, value)
		return nil, err
	}
	return out, nil
}

// quote converts a native amount at the fixed rate, flooring the result.
func (r *FixedRateRouter) quote(amountIn *big.Int, target common.Address) (*big.Int, error) {
	r.mu.RLock()
	rate, ok := r.rates[target]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPair
	}

	product := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), rate)
	return new(big.Int).Div(product.Num(), product.Denom()), nil
}
