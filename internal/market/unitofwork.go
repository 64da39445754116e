package market

import (
	"context"
	"errors"
)

// txStep is one staged balance mutation with its inverse.
type txStep struct {
	apply  func(context.Context) error
	revert func(context.Context) error
}

// tx is the settlement unit of work. Transfers are staged and then
// committed in order; the first failure unwinds every applied step in
// reverse, so a settlement either happens completely or not at all.
type tx struct {
	steps []txStep
}

// stage appends a mutation and its inverse. revert may be nil for the
// final step of a transaction, which by construction never needs undoing.
func (t *tx) stage(apply, revert func(context.Context) error) {
	t.steps = append(t.steps, txStep{apply: apply, revert: revert})
}

// commit applies all staged steps. On failure it rolls back the already
// applied steps in reverse order and returns the causing error verbatim,
// so gateway errors reach the caller unreinterpreted. A revert failure
// is joined onto the cause: it means the ledgers are out of sync and the
// operator must reconcile.
func (t *tx) commit(ctx context.Context) error {
	for i, s := range t.steps {
		if err := s.apply(ctx); err != nil {
			return t.rollback(ctx, i-1, err)
		}
	}
	return nil
}

// rollback reverts steps [0, from] in reverse order.
func (t *tx) rollback(ctx context.Context, from int, cause error) error {
	var revertErrs []error
	for i := from; i >= 0; i-- {
		if t.steps[i].revert == nil {
			continue
		}
		if err := t.steps[i].revert(ctx); err != nil {
			revertErrs = append(revertErrs, err)
		}
	}
	if len(revertErrs) == 0 {
		return cause
	}
	return errors.Join(append([]error{cause}, revertErrs...)...)
}
