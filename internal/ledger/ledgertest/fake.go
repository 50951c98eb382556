// Package ledgertest provides an in-memory ledger.Gateway for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/model"
)

// Fake is a scriptable ledger. Submitted operations confirm immediately
// unless Statuses says otherwise.
type Fake struct {
	mu sync.Mutex

	Vault    model.Vault
	Pool     model.Pool
	Balances model.Balances
	Height   int64

	// Statuses overrides the confirmation status per tx id.
	Statuses map[string]ledger.ConfirmStatus
	// Errs makes the named method ("GetVault", "Submit", ...) fail.
	Errs map[string]error
	// OnSubmit lets a test apply the effect of an operation to the snapshot.
	OnSubmit func(f *Fake, op ledger.Operation)

	Submitted []ledger.Operation
	calls     map[string]int
	nextTx    int
}

// New returns a fake at block height 100.
func New() *Fake {
	return &Fake{
		Balances: model.Balances{},
		Height:   100,
		Statuses: map[string]ledger.ConfirmStatus{},
		Errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

// Calls returns how often a method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls counts all gateway calls.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// SetErr makes method fail with err; nil clears it.
func (f *Fake) SetErr(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errs, method)
		return
	}
	f.Errs[method] = err
}

// SetStatus scripts the confirmation status of a tx.
func (f *Fake) SetStatus(txID string, status ledger.ConfirmStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[txID] = status
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	return f.Errs[method]
}

func (f *Fake) Name() string { return "ledger-fake" }

func (f *Fake) GetVault(_ context.Context) (model.Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetVault"); err != nil {
		return model.Vault{}, err
	}
	return f.Vault, nil
}

func (f *Fake) GetPool(_ context.Context, pair string) (model.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetPool"); err != nil {
		return model.Pool{}, err
	}
	if f.Pool.Symbol != pair {
		return model.Pool{}, &ledger.Error{Kind: ledger.KindRejected, Op: "get pool", Status: 404, Err: fmt.Errorf("pool %s not found", pair)}
	}
	return f.Pool, nil
}

func (f *Fake) GetBalances(_ context.Context) (model.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBalances"); err != nil {
		return nil, err
	}
	out := make(model.Balances, len(f.Balances))
	for k, v := range f.Balances {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) BlockHeight(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BlockHeight"); err != nil {
		return 0, err
	}
	return f.Height, nil
}

func (f *Fake) Submit(_ context.Context, op ledger.Operation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Submit"); err != nil {
		return "", err
	}
	f.nextTx++
	f.Submitted = append(f.Submitted, op)
	if f.OnSubmit != nil {
		f.OnSubmit(f, op)
	}
	return fmt.Sprintf("tx-%d", f.nextTx), nil
}

func (f *Fake) PollConfirmation(_ context.Context, txID string, _ int64) (ledger.ConfirmStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PollConfirmation"); err != nil {
		return ledger.Pending, err
	}
	if s, ok := f.Statuses[txID]; ok {
		return s, nil
	}
	return ledger.Confirmed, nil
}

// SubmittedTypes lists the types of all submitted operations in order.
func (f *Fake) SubmittedTypes() []ledger.OpType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.OpType, len(f.Submitted))
	for i, op := range f.Submitted {
		out[i] = op.Type
	}
	return out
}

var _ ledger.Gateway = (*Fake)(nil)
