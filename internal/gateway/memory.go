package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryNative is an in-memory NativeLedger.
type MemoryNative struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewMemoryNative creates an empty native ledger.
func NewMemoryNative() *MemoryNative {
	return &MemoryNative{balances: make(map[common.Address]*big.Int)}
}

// Mint credits the account out of thin air. Test/bootstrap helper.
func (l *MemoryNative) Mint(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = new(big.Int).Add(l.balance(account), amount)
}

func (l *MemoryNative) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(account)), nil
}

func (l *MemoryNative) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

// balance returns the stored balance or zero. Caller must hold l.mu.
func (l *MemoryNative) balance(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

type fungibleKey struct {
	Token common.Address
	Owner common.Address
}

type allowanceKey struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
}

// MemoryFungible is an in-memory Fungible gateway hosting any number of
// ERC-20 style tokens, each identified by its contract address.
type MemoryFungible struct {
	mu         sync.RWMutex
	symbols    map[common.Address]string
	balances   map[fungibleKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// NewMemoryFungible creates an empty fungible gateway.
func NewMemoryFungible() *MemoryFungible {
	return &MemoryFungible{
		symbols:    make(map[common.Address]string),
		balances:   make(map[fungibleKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Deploy registers a token contract under the given symbol. The symbol is
// only used to prefix allowance errors the way the real contracts do.
func (g *MemoryFungible) Deploy(token common.Address, symbol string) {
	g.mu.Lock()
	g.symbols[token] = symbol
	g.mu.Unlock()
}

// Mint credits owner with amount of token. Test/bootstrap helper.
func (g *MemoryFungible) Mint(token, owner common.Address, amount *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := fungibleKey{token, owner}
	g.balances[k] = new(big.Int).Add(g.balanceLocked(k), amount)
}

func (g *MemoryFungible) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.symbols[token]; !ok {
		return nil, ErrUnknownToken
	}
	return new(big.Int).Set(g.balanceLocked(fungibleKey{token, owner})), nil
}

func (g *MemoryFungible) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.symbols[token]; !ok {
		return nil, ErrUnknownToken
	}
	return new(big.Int).Set(g.allowanceLocked(allowanceKey{token, owner, spender})), nil
}

func (g *MemoryFungible) Approve(_ context.Context, token, owner, spender common.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.symbols[token]; !ok {
		return ErrUnknownToken
	}
	g.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (g *MemoryFungible) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.symbols[token]; !ok {
		return ErrUnknownToken
	}
	return g.moveLocked(token, from, to, amount)
}

func (g *MemoryFungible) TransferFrom(_ context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sym, ok := g.symbols[token]
	if !ok {
		return ErrUnknownToken
	}

	ak := allowanceKey{token, from, spender}
	allowance := g.allowanceLocked(ak)
	if allowance.Cmp(amount) < 0 {
		// Same shape as the on-chain revert, e.g. "Dai/insufficient-allowance".
		return fmt.Errorf("%s/%w", sym, ErrInsufficientAllowance)
	}
	if err := g.moveLocked(token, from, to, amount); err != nil {
		return err
	}
	g.allowances[ak] = new(big.Int).Sub(allowance, amount)
	return nil
}

// moveLocked debits from and credits to. Caller must hold g.mu.
func (g *MemoryFungible) moveLocked(token, from, to common.Address, amount *big.Int) error {
	fk := fungibleKey{token, from}
	bal := g.balanceLocked(fk)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	g.balances[fk] = new(big.Int).Sub(bal, amount)
	tk := fungibleKey{token, to}
	g.balances[tk] = new(big.Int).Add(g.balanceLocked(tk), amount)
	return nil
}

func (g *MemoryFungible) balanceLocked(k fungibleKey) *big.Int {
	if b, ok := g.balances[k]; ok {
		return b
	}
	return new(big.Int)
}

func (g *MemoryFungible) allowanceLocked(k allowanceKey) *big.Int {
	if a, ok := g.allowances[k]; ok {
		return a
	}
	return new(big.Int)
}

type itemKey struct {
	Token common.Address
	Owner common.Address
	ID    string // big.Int key, decimal encoded
}

type operatorKey struct {
	Token    common.Address
	Owner    common.Address
	Operator common.Address
}

// MemoryMultiToken is an in-memory MultiToken gateway hosting any number
// of ERC-1155 style collections.
type MemoryMultiToken struct {
	mu        sync.RWMutex
	balances  map[itemKey]*big.Int
	operators map[operatorKey]bool
}

// NewMemoryMultiToken creates an empty multi-token gateway.
func NewMemoryMultiToken() *MemoryMultiToken {
	return &MemoryMultiToken{
		balances:  make(map[itemKey]*big.Int),
		operators: make(map[operatorKey]bool),
	}
}

// Mint credits owner with amount of (token, id). Test/bootstrap helper.
func (g *MemoryMultiToken) Mint(token, owner common.Address, id, amount *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := itemKey{token, owner, id.String()}
	g.balances[k] = new(big.Int).Add(g.balanceLocked(k), amount)
}

func (g *MemoryMultiToken) BalanceOf(_ context.Context, token, owner common.Address, id *big.Int) (*big.Int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return new(big.Int).Set(g.balanceLocked(itemKey{token, owner, id.String()})), nil
}

func (g *MemoryMultiToken) IsApprovedForAll(_ context.Context, token, owner, operator common.Address) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operators[operatorKey{token, owner, operator}], nil
}

func (g *MemoryMultiToken) SetApprovalForAll(_ context.Context, token, owner, operator common.Address, approved bool) error {
	g.mu.Lock()
	g.operators[operatorKey{token, owner, operator}] = approved
	g.mu.Unlock()
	return nil
}

func (g *MemoryMultiToken) SafeTransferFrom(_ context.Context, token, operator, from, to common.Address, id, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if operator != from && !g.operators[operatorKey{token, from, operator}] {
		return ErrNotApprovedForAll
	}

	fk := itemKey{token, from, id.String()}
	bal := g.balanceLocked(fk)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	g.balances[fk] = new(big.Int).Sub(bal, amount)
	tk := itemKey{token, to, id.String()}
	g.balances[tk] = new(big.Int).Add(g.balanceLocked(tk), amount)
	return nil
}

func (g *MemoryMultiToken) balanceLocked(k itemKey) *big.Int {
	if b, ok := g.balances[k]; ok {
		return b
	}
	return new(big.Int)
}
