package market

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/upgrade"
)

// ErrNotSupported is returned when an operation is not offered by the
// active logic version (e.g. fee administration before the v2 upgrade).
var ErrNotSupported = errors.New("operation not supported by active implementation")

// Proxy is the marketplace's public surface. Every call routes through
// the upgrade controller to whichever logic version is currently active,
// so callers keep working across upgrades without re-binding.
type Proxy struct {
	ctrl *upgrade.Controller
}

// NewProxy wraps the controller with the typed marketplace surface.
func NewProxy(ctrl *upgrade.Controller) *Proxy {
	return &Proxy{ctrl: ctrl}
}

// Controller exposes the underlying upgrade surface.
func (p *Proxy) Controller() *upgrade.Controller { return p.ctrl }

func (p *Proxy) Sell(ctx context.Context, caller, token common.Address, tokenID, amount *big.Int, duration time.Duration, price *big.Int) (uint64, error) {
	var id uint64
	err := p.ctrl.Do(func(impl upgrade.Implementation) error {
		var err error
		id, err = impl.(Logic).Sell(ctx, caller, token, tokenID, amount, duration, price)
		return err
	})
	return id, err
}

func (p *Proxy) BuyWithNative(ctx context.Context, caller common.Address, orderID uint64, payment *big.Int) error {
	return p.ctrl.Do(func(impl upgrade.Implementation) error {
		return impl.(Logic).BuyWithNative(ctx, caller, orderID, payment)
	})
}

func (p *Proxy) BuyWithToken(ctx context.Context, caller common.Address, orderID uint64, currencyCode int) error {
	return p.ctrl.Do(func(impl upgrade.Implementation) error {
		return impl.(Logic).BuyWithToken(ctx, caller, orderID, currencyCode)
	})
}

func (p *Proxy) CancelOrder(ctx context.Context, caller common.Address, orderID uint64) error {
	return p.ctrl.Do(func(impl upgrade.Implementation) error {
		return impl.(Logic).CancelOrder(ctx, caller, orderID)
	})
}

// Order reads a snapshot of the given order through the active logic.
func (p *Proxy) Order(orderID uint64) (Order, bool) {
	var (
		order Order
		ok    bool
	)
	p.ctrl.Do(func(impl upgrade.Implementation) error {
		order, ok = impl.(Logic).Order(orderID)
		return nil
	})
	return order, ok
}

// SetFeeRate routes to the FeeAdmin extension if the active logic
// provides one.
func (p *Proxy) SetFeeRate(ctx context.Context, caller common.Address, rate int64) error {
	return p.ctrl.Do(func(impl upgrade.Implementation) error {
		admin, ok := impl.(FeeAdmin)
		if !ok {
			return ErrNotSupported
		}
		return admin.SetFeeRate(ctx, caller, rate)
	})
}
