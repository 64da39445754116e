package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaV1 is the state layout every shipped implementation is built
// against: the order ledger, fee configuration, and the approved
// currency set.
const SchemaV1 uint32 = 1

var (
	ErrFeeRateOutOfRange = errors.New("fee rate out of range")
	ErrNoMigrationPath   = errors.New("no migration path")
)

// migrations maps a target schema version to the explicit transform that
// produces it from the previous version. Upgrades never reinterpret the
// layout implicitly; they either find a registered transform or fail.
var migrations = map[uint32]func(*State) error{}

// State is the upgrade-stable resident state shared by every logic
// version. It outlives implementations: an upgrade swaps the code that
// interprets it, never the data itself.
//
// State performs no validation of its own beyond construction; the
// active implementation owns all invariants, and the upgrade controller
// serializes access.
type State struct {
	mu sync.RWMutex

	schema      uint32
	nextOrderID uint64
	orders      map[uint64]*Order

	feeRecipient common.Address
	feeRate      int64

	// currencies is the approved settlement set; currency codes are
	// 1-based indexes into this slice. Fixed at initialization.
	currencies []common.Address
}

// NewState initializes resident state the way the proxy initializer
// does: fee configuration and the approved currency set are set once.
func NewState(feeRecipient common.Address, feeRate int64, currencies []common.Address) (*State, error) {
	if feeRate < 0 || feeRate > FeeDenominator {
		return nil, fmt.Errorf("%w: %d", ErrFeeRateOutOfRange, feeRate)
	}
	return &State{
		schema:       SchemaV1,
		orders:       make(map[uint64]*Order),
		feeRecipient: feeRecipient,
		feeRate:      feeRate,
		currencies:   append([]common.Address(nil), currencies...),
	}, nil
}

// SchemaVersion reports the layout version currently persisted.
func (s *State) SchemaVersion() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// Migrate walks the registered transforms from the current schema up to
// the target. Any gap in the chain aborts before mutating anything.
func (s *State) Migrate(to uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if to < s.schema {
		return fmt.Errorf("%w: cannot downgrade schema %d to %d", ErrNoMigrationPath, s.schema, to)
	}
	for v := s.schema + 1; v <= to; v++ {
		if _, ok := migrations[v]; !ok {
			return fmt.Errorf("%w: schema %d to %d", ErrNoMigrationPath, s.schema, to)
		}
	}
	for v := s.schema + 1; v <= to; v++ {
		if err := migrations[v](s); err != nil {
			return fmt.Errorf("migrate to schema %d: %w", v, err)
		}
		s.schema = v
	}
	return nil
}

// FeeConfig returns the current fee split configuration.
func (s *State) FeeConfig() (recipient common.Address, rate int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeRecipient, s.feeRate
}

// Currencies returns a copy of the approved currency set.
func (s *State) Currencies() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.currencies...)
}

// OrderCount reports how many order ids have been allocated.
func (s *State) OrderCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOrderID
}

// allocate assigns the next order id. Ids start at 1 and are never
// reused, even for cancelled orders.
func (s *State) allocate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	return s.nextOrderID
}

// put persists a freshly created order.
func (s *State) put(o *Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
}

// order returns the mutable ledger entry. Only the active implementation
// touches it, always under the controller's serializer.
func (s *State) order(id uint64) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// currency resolves a 1-based currency code.
func (s *State) currency(code int) (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if code < 1 || code > len(s.currencies) {
		return common.Address{}, false
	}
	return s.currencies[code-1], true
}

// setFeeRate is the administrative fee mutation path, reachable only
// through an authorized implementation operation.
func (s *State) setFeeRate(rate int64) error {
	if rate < 0 || rate > FeeDenominator {
		return fmt.Errorf("%w: %d", ErrFeeRateOutOfRange, rate)
	}
	s.mu.Lock()
	s.feeRate = rate
	s.mu.Unlock()
	return nil
}
