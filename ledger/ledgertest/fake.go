// Package ledgertest provides an in-memory ledger.Provider for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/models"
)

// Transfer is one recorded call to Fake.Transfer.
type Transfer struct {
	To     string
	Amount int64
	TxID   string
}

// Fake is a scriptable provider. The zero value has address "treasury" and
// no funds.
type Fake struct {
	mu sync.Mutex

	Addr        string
	Bal         int64
	BalanceErr  error
	TransferErr error
	OpenErr     error
	StatusErr   error
	Statuses    map[string]models.ChainTxStatus

	// BeforeTransfer runs inside Transfer before any state changes.
	BeforeTransfer func()

	// NextTransferID, when set, is the identifier of the next transfer.
	NextTransferID string

	Transfers []Transfer
	Elections []string
	seq       int
}

var _ ledger.Provider = (*Fake)(nil)

// Address -
func (f *Fake) Address(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Addr == "" {
		return "treasury", nil
	}
	return f.Addr, nil
}

// Balance -
func (f *Fake) Balance(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return 0, f.BalanceErr
	}
	return f.Bal, nil
}

// Transfer moves amount out of the fake balance.
func (f *Fake) Transfer(ctx context.Context, to string, amount int64) (models.Receipt, error) {
	f.mu.Lock()
	hook := f.BeforeTransfer
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return models.Receipt{}, f.TransferErr
	}
	if amount > f.Bal {
		return models.Receipt{}, fmt.Errorf("insufficient funds: %d > %d", amount, f.Bal)
	}
	f.seq++
	f.Bal -= amount
	r := models.Receipt{TxID: fmt.Sprintf("tx-%d", f.seq), BlockHeight: uint64(1000 + f.seq)}
	if f.NextTransferID != "" {
		r.TxID, f.NextTransferID = f.NextTransferID, ""
	}
	f.Transfers = append(f.Transfers, Transfer{To: to, Amount: amount, TxID: r.TxID})
	return r, nil
}

// OpenVoting -
func (f *Fake) OpenVoting(ctx context.Context, proposalID string) (models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return models.Receipt{}, f.OpenErr
	}
	f.seq++
	f.Elections = append(f.Elections, proposalID)
	return models.Receipt{TxID: fmt.Sprintf("election-%d", f.seq), BlockHeight: uint64(1000 + f.seq)}, nil
}

// TransactionStatus answers from Statuses, defaulting to pending.
func (f *Fake) TransactionStatus(ctx context.Context, txID string) (models.ChainTxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return models.ChainTxUnknown, f.StatusErr
	}
	if s, ok := f.Statuses[txID]; ok {
		return s, nil
	}
	return models.ChainTxPending, nil
}

// SetStatus scripts the chain status of txID.
func (f *Fake) SetStatus(txID string, s models.ChainTxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Statuses == nil {
		f.Statuses = map[string]models.ChainTxStatus{}
	}
	f.Statuses[txID] = s
}

// TransferCount -
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

// SetBalance -
func (f *Fake) SetBalance(b int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bal = b
}

// SetTransferErr -
func (f *Fake) SetTransferErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransferErr = err
}
