package market

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agora-markets/agora/internal/feed"
	"github.com/agora-markets/agora/internal/gateway"
)

// FeeDenominator makes the configured fee rate a percentage of the
// settlement price.
const FeeDenominator = 100

// Sentinel errors returned by the engine's public operations. Gateway
// failures (allowance, balance) are NOT translated into these; they pass
// through verbatim.
var (
	ErrNotApproved         = errors.New("not approved")
	ErrOrderNotActive      = errors.New("order not active")
	ErrOrderExpired        = errors.New("order expired")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrUnknownCurrency     = errors.New("unknown currency code")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidListing      = errors.New("invalid listing")
)

// Logic is the marketplace surface routed through the upgrade
// controller. Implementations are bound to a State whose schema version
// they declare via upgrade.Implementation.
type Logic interface {
	Name() string
	SchemaVersion() uint32

	Sell(ctx context.Context, caller, token common.Address, tokenID, amount *big.Int, duration time.Duration, price *big.Int) (uint64, error)
	BuyWithNative(ctx context.Context, caller common.Address, orderID uint64, payment *big.Int) error
	BuyWithToken(ctx context.Context, caller common.Address, orderID uint64, currencyCode int) error
	CancelOrder(ctx context.Context, caller common.Address, orderID uint64) error
	Order(orderID uint64) (Order, bool)
}

// FeeAdmin is the optional administrative extension introduced by the v2
// implementation.
type FeeAdmin interface {
	SetFeeRate(ctx context.Context, caller common.Address, rate int64) error
}

// Gateways bundles the external ledgers the engine settles against.
type Gateways struct {
	Native     gateway.NativeLedger
	Fungible   gateway.Fungible
	MultiToken gateway.MultiToken
}

// Engine is the v1 settlement logic. It owns no state of its own: every
// order lives in the State it was bound to, which survives upgrades.
type Engine struct {
	state *State
	// addr is the engine's identity: the operator sellers approve and
	// the transient custodian of in-flight settlement funds.
	addr common.Address
	gw   Gateways
	sink feed.Sink

	nowFunc func() time.Time // injectable clock for testing
}

// NewEngine binds v1 logic to resident state. sink may be nil.
func NewEngine(state *State, addr common.Address, gw Gateways, sink feed.Sink) *Engine {
	return &Engine{
		state:   state,
		addr:    addr,
		gw:      gw,
		sink:    sink,
		nowFunc: time.Now,
	}
}

// Name identifies this logic version.
func (e *Engine) Name() string { return "marketplace/v1" }

// SchemaVersion declares the state layout this logic interprets.
func (e *Engine) SchemaVersion() uint32 { return SchemaV1 }

// Sell lists amount units of (token, tokenID) at the given total price.
// Escrow is by approval, not custody: the item stays with the seller and
// only moves atomically with payment. The listing is refused unless the
// seller holds the quantity and has approved the engine as operator.
func (e *Engine) Sell(ctx context.Context, caller, token common.Address, tokenID, amount *big.Int, duration time.Duration, price *big.Int) (uint64, error) {
	if tokenID == nil || amount == nil || amount.Sign() <= 0 ||
		price == nil || price.Sign() <= 0 || duration <= 0 {
		return 0, ErrInvalidListing
	}

	bal, err := e.gw.MultiToken.BalanceOf(ctx, token, caller, tokenID)
	if err != nil {
		return 0, err
	}
	if bal.Cmp(amount) < 0 {
		return 0, ErrNotApproved
	}
	approved, err := e.gw.MultiToken.IsApprovedForAll(ctx, token, caller, e.addr)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, ErrNotApproved
	}

	now := e.nowFunc()
	order := &Order{
		ID:       e.state.allocate(),
		Seller:   caller,
		Token:    token,
		TokenID:  new(big.Int).Set(tokenID),
		Amount:   new(big.Int).Set(amount),
		Price:    new(big.Int).Set(price),
		Deadline: now.Add(duration),
		Active:   true,
	}
	e.state.put(order)

	e.emit(feed.Event{
		Type:      feed.EventListed,
		OrderID:   order.ID,
		Seller:    order.Seller,
		Token:     order.Token,
		TokenID:   order.TokenID,
		Amount:    order.Amount,
		Price:     order.Price,
		Timestamp: now,
	})
	return order.ID, nil
}

// BuyWithNative settles an order with attached native currency. payment
// models the attached value: it is pulled into the engine, the price is
// split between fee recipient and seller, any excess is refunded, and
// the item moves to the buyer — all of it, or none of it.
func (e *Engine) BuyWithNative(ctx context.Context, caller common.Address, orderID uint64, payment *big.Int) error {
	order, err := e.settleable(orderID)
	if err != nil {
		return err
	}
	if payment == nil || payment.Cmp(order.Price) < 0 {
		return ErrInsufficientPayment
	}

	recipient, rate := e.state.FeeConfig()
	fee, proceeds := splitFee(order.Price, rate)
	refund := new(big.Int).Sub(payment, order.Price)

	var t tx
	t.stage(
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, caller, e.addr, payment) },
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, e.addr, caller, payment) },
	)
	t.stage(
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, e.addr, recipient, fee) },
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, recipient, e.addr, fee) },
	)
	t.stage(
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, e.addr, order.Seller, proceeds) },
		func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, order.Seller, e.addr, proceeds) },
	)
	if refund.Sign() > 0 {
		t.stage(
			func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, e.addr, caller, refund) },
			func(ctx context.Context) error { return e.gw.Native.Transfer(ctx, caller, e.addr, refund) },
		)
	}
	// Item transfer last: it is the one step whose inverse would need an
	// approval the buyer never granted, so nothing may fail after it.
	t.stage(
		func(ctx context.Context) error {
			return e.gw.MultiToken.SafeTransferFrom(ctx, order.Token, e.addr, order.Seller, caller, order.TokenID, order.Amount)
		},
		nil,
	)

	if err := t.commit(ctx); err != nil {
		return err
	}

	e.deactivate(order, caller, common.Address{})
	return nil
}

// BuyWithToken settles an order in an approved fungible currency,
// identified by its 1-based code. The price is pulled from the buyer via
// the buyer's standing allowance; allowance and balance failures surface
// verbatim from the gateway.
func (e *Engine) BuyWithToken(ctx context.Context, caller common.Address, orderID uint64, currencyCode int) error {
	order, err := e.settleable(orderID)
	if err != nil {
		return err
	}
	currency, ok := e.state.currency(currencyCode)
	if !ok {
		return ErrUnknownCurrency
	}

	recipient, rate := e.state.FeeConfig()
	fee, proceeds := splitFee(order.Price, rate)

	// Remember the buyer's allowance so a rollback can restore it along
	// with the balances.
	allowance, err := e.gw.Fungible.Allowance(ctx, currency, caller, e.addr)
	if err != nil {
		return err
	}

	var t tx
	t.stage(
		func(ctx context.Context) error {
			return e.gw.Fungible.TransferFrom(ctx, currency, e.addr, caller, e.addr, order.Price)
		},
		func(ctx context.Context) error {
			if err := e.gw.Fungible.Transfer(ctx, currency, e.addr, caller, order.Price); err != nil {
				return err
			}
			return e.gw.Fungible.Approve(ctx, currency, caller, e.addr, allowance)
		},
	)
	t.stage(
		func(ctx context.Context) error { return e.gw.Fungible.Transfer(ctx, currency, e.addr, recipient, fee) },
		func(ctx context.Context) error { return e.gw.Fungible.Transfer(ctx, currency, recipient, e.addr, fee) },
	)
	t.stage(
		func(ctx context.Context) error {
			return e.gw.Fungible.Transfer(ctx, currency, e.addr, order.Seller, proceeds)
		},
		func(ctx context.Context) error {
			return e.gw.Fungible.Transfer(ctx, currency, order.Seller, e.addr, proceeds)
		},
	)
	t.stage(
		func(ctx context.Context) error {
			return e.gw.MultiToken.SafeTransferFrom(ctx, order.Token, e.addr, order.Seller, caller, order.TokenID, order.Amount)
		},
		nil,
	)

	if err := t.commit(ctx); err != nil {
		return err
	}

	e.deactivate(order, caller, currency)
	return nil
}

// CancelOrder retires an active order. Seller only; nothing moves,
// because nothing was escrowed beyond the approval.
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, orderID uint64) error {
	order, ok := e.state.order(orderID)
	if !ok || !order.Active {
		return ErrOrderNotActive
	}
	if order.Seller != caller {
		return ErrUnauthorized
	}

	order.Active = false
	e.emit(feed.Event{
		Type:      feed.EventCancelled,
		OrderID:   order.ID,
		Seller:    order.Seller,
		Token:     order.Token,
		TokenID:   order.TokenID,
		Amount:    order.Amount,
		Price:     order.Price,
		Timestamp: e.nowFunc(),
	})
	return nil
}

// Order returns a read-only snapshot of the ledger entry.
func (e *Engine) Order(orderID uint64) (Order, bool) {
	o, ok := e.state.order(orderID)
	if !ok {
		return Order{}, false
	}
	return o.snapshot(), true
}

// settleable checks activity and expiry atomically with settlement (the
// controller serializes us against all other operations). A deadline
// that has exactly arrived is already expired.
func (e *Engine) settleable(orderID uint64) (*Order, error) {
	order, ok := e.state.order(orderID)
	if !ok || !order.Active {
		return nil, ErrOrderNotActive
	}
	if !e.nowFunc().Before(order.Deadline) {
		return nil, ErrOrderExpired
	}
	return order, nil
}

// deactivate flips the order inactive and publishes the settlement.
// Called only after the unit of work committed.
func (e *Engine) deactivate(order *Order, buyer common.Address, currency common.Address) {
	order.Active = false
	e.emit(feed.Event{
		Type:      feed.EventSettled,
		OrderID:   order.ID,
		Seller:    order.Seller,
		Buyer:     buyer,
		Token:     order.Token,
		TokenID:   order.TokenID,
		Amount:    order.Amount,
		Price:     order.Price,
		Currency:  currency,
		Timestamp: e.nowFunc(),
	})
}

func (e *Engine) emit(ev feed.Event) {
	if e.sink != nil {
		e.sink.Publish(ev)
	}
}

// splitFee divides the price between the fee recipient and the seller.
// Integer division floors the fee, so the rounding remainder always
// favors the seller: price == fee + proceeds exactly.
func splitFee(price *big.Int, rate int64) (fee, proceeds *big.Int) {
	fee = new(big.Int).Mul(price, big.NewInt(rate))
	fee.Div(fee, big.NewInt(FeeDenominator))
	proceeds = new(big.Int).Sub(price, fee)
	return fee, proceeds
}
