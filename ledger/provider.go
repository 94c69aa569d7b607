// Package ledger defines the boundary to the chain: address, balance,
// transfer and election primitives supplied by an external wallet node.
package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/midnightos/treasury/models"
	logger "github.com/ndau/go-logger"
)

// ErrNotConfigured is returned by every call of a provider without a backing
// wallet node.
var ErrNotConfigured = errors.New("ledger provider is not configured")

// Provider supplies the on-chain primitives the treasury needs.
type Provider interface {
	Address(ctx context.Context) (string, error)
	Balance(ctx context.Context) (int64, error)
	Transfer(ctx context.Context, to string, amount int64) (models.Receipt, error)
	OpenVoting(ctx context.Context, proposalID string) (models.Receipt, error)
	TransactionStatus(ctx context.Context, txID string) (models.ChainTxStatus, error)
}

// New builds the provider described by cfg, bounded by cfg.LedgerTimeout.
func New(cfg *models.Config, observe Observer, log logger.Logger) (Provider, error) {
	var p Provider = Unconfigured{}
	if cfg.LedgerNodeAPI != "" {
		node, err := NewNodeProvider(cfg, log)
		if err != nil {
			return nil, err
		}
		p = node
	} else {
		log.Warnf("No ledger node API configured; on-chain operations are disabled")
	}
	return Guard(p, cfg.LedgerTimeout, observe), nil
}

// IsNotConfigured reports whether err comes from an unconfigured provider.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// Unconfigured is the provider used until a wallet node is set up.
type Unconfigured struct{}

func (Unconfigured) Address(context.Context) (string, error) { return "", ErrNotConfigured }
func (Unconfigured) Balance(context.Context) (int64, error)  { return 0, ErrNotConfigured }
func (Unconfigured) Transfer(context.Context, string, int64) (models.Receipt, error) {
	return models.Receipt{}, ErrNotConfigured
}
func (Unconfigured) OpenVoting(context.Context, string) (models.Receipt, error) {
	return models.Receipt{}, ErrNotConfigured
}
func (Unconfigured) TransactionStatus(context.Context, string) (models.ChainTxStatus, error) {
	return models.ChainTxUnknown, ErrNotConfigured
}

// Observer is told about every provider call.
type Observer func(op string, took time.Duration, err error)

type guarded struct {
	next    Provider
	timeout time.Duration
	observe Observer
}

// Guard bounds every call of p by timeout and classifies failures as
// ProviderError.
func Guard(p Provider, timeout time.Duration, observe Observer) Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if observe == nil {
		observe = func(string, time.Duration, error) {}
	}
	return &guarded{next: p, timeout: timeout, observe: observe}
}

func (g *guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	g.observe(op, time.Since(start), err)
	if err == nil {
		return nil
	}
	if models.KindOf(err) == models.KindProvider {
		return err
	}
	return models.WrapError(models.KindProvider, err, "ledger %s failed", op)
}

func (g *guarded) Address(ctx context.Context) (addr string, err error) {
	err = g.call(ctx, "address", func(ctx context.Context) error {
		addr, err = g.next.Address(ctx)
		return err
	})
	return addr, err
}

func (g *guarded) Balance(ctx context.Context) (balance int64, err error) {
	err = g.call(ctx, "balance", func(ctx context.Context) error {
		balance, err = g.next.Balance(ctx)
		return err
	})
	return balance, err
}

func (g *guarded) Transfer(ctx context.Context, to string, amount int64) (receipt models.Receipt, err error) {
	err = g.call(ctx, "transfer", func(ctx context.Context) error {
		receipt, err = g.next.Transfer(ctx, to, amount)
		return err
	})
	return receipt, err
}

func (g *guarded) OpenVoting(ctx context.Context, proposalID string) (receipt models.Receipt, err error) {
	err = g.call(ctx, "open_voting", func(ctx context.Context) error {
		receipt, err = g.next.OpenVoting(ctx, proposalID)
		return err
	})
	return receipt, err
}

func (g *guarded) TransactionStatus(ctx context.Context, txID string) (status models.ChainTxStatus, err error) {
	err = g.call(ctx, "transaction_status", func(ctx context.Context) error {
		status, err = g.next.TransactionStatus(ctx, txID)
		return err
	})
	return status, err
}
