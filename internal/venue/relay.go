package venue

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/feed"
	"github.com/agora-markets/agora/internal/gateway"
)

// Logic is the relay surface routed through the upgrade controller.
type Logic interface {
	Name() string
	SchemaVersion() uint32

	MakeSwap(ctx context.Context, caller, target common.Address, payment, minOut *big.Int) (*big.Int, error)
}

// RelaySchema is the relay's state layout version. The relay keeps no
// resident state beyond upgrade bookkeeping, so the schema never needs
// migrating; the version exists so the controller can still prove
// compatibility when logic is swapped.
const RelaySchema uint32 = 1

// RelayState is the relay's (empty) resident state.
type RelayState struct{}

func (RelayState) SchemaVersion() uint32 { return RelaySchema }
func (RelayState) Migrate(to uint32) error {
	return fmt.Errorf("relay holds no migratable state (schema %d requested)", to)
}

// Relay converts attached native currency into a target token through
// the liquidity venue and forwards the proceeds to the caller. Stateless
// between calls; it charges no fee of its own.
type Relay struct {
	// addr is the relay's identity: transient custodian of the attached
	// value between receipt and venue execution.
	addr          common.Address
	wrappedNative common.Address
	router        Router
	native        gateway.NativeLedger
	fungible      gateway.Fungible
	swapDeadline  time.Duration
	sink          feed.Sink

	nowFunc func() time.Time // injectable clock for testing
}

// NewRelay creates relay logic over the given venue router. sink may be
// nil.
func NewRelay(addr, wrappedNative common.Address, router Router, native gateway.NativeLedger, fungible gateway.Fungible, swapDeadline time.Duration, sink feed.Sink) *Relay {
	return &Relay{
		addr:          addr,
		wrappedNative: wrappedNative,
		router:        router,
		native:        native,
		fungible:      fungible,
		swapDeadline:  swapDeadline,
		sink:          sink,
		nowFunc:       time.Now,
	}
}

// Name identifies this logic version.
func (r *Relay) Name() string { return "swaprelay/v1" }

// SchemaVersion declares the (empty) state layout.
func (r *Relay) SchemaVersion() uint32 { return RelaySchema }

// MakeSwap forwards payment through the venue requesting at least minOut
// units of target for the caller. The venue's quote is checked up front
// and the delivered balance delta is validated afterwards: a venue that
// reports success but under-delivers is rejected, not trusted.
func (r *Relay) MakeSwap(ctx context.Context, caller, target common.Address, payment, minOut *big.Int) (*big.Int, error) {
	if payment == nil || payment.Sign() <= 0 || minOut == nil || minOut.Sign() < 0 {
		return nil, ErrInvalidSwap
	}

	path := []common.Address{r.wrappedNative, target}

	amounts, err := r.router.GetAmountsOut(ctx, payment, path)
	if err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, ErrUnknownPair
	}
	quoted := amounts[len(amounts)-1]
	if quoted.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: quoted %s < min %s", ErrSlippageExceeded, quoted, minOut)
	}

	before, err := r.fungible.BalanceOf(ctx, target, caller)
	if err != nil {
		return nil, err
	}

	// Take custody of the attached value, then execute. A venue failure
	// refunds the caller and surfaces the venue's own error.
	if err := r.native.Transfer(ctx, caller, r.addr, payment); err != nil {
		return nil, err
	}
	out, err := r.router.SwapExactNativeForTokens(ctx, r.addr, payment, minOut, path, caller, r.nowFunc().Add(r.swapDeadline))
	if err != nil {
		if rerr := r.native.Transfer(ctx, r.addr, caller, payment); rerr != nil {
			return nil, fmt.Errorf("swap failed: %w (refund also failed: %v)", err, rerr)
		}
		return nil, err
	}

	after, err := r.fungible.BalanceOf(ctx, target, caller)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: venue delivered %s < min %s", ErrSlippageExceeded, delta, minOut)
	}

	if r.sink != nil {
		r.sink.Publish(feed.Event{
			Type:      feed.EventSwapped,
			Buyer:     caller,
			Currency:  target,
			Amount:    out,
			Price:     payment,
			Timestamp: r.nowFunc(),
		})
	}
	return out, nil
}
