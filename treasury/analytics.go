package treasury

import (
	"context"
	"strconv"

	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
)

// GetTreasuryAnalytics aggregates over every proposal and transaction. It
// writes nothing. An unreachable or unconfigured ledger reports a zero
// balance rather than failing the read.
func (m *Manager) GetTreasuryAnalytics(ctx context.Context) (*models.TreasuryState, error) {
	counts, err := m.repo.CountProposals(ctx)
	if err != nil {
		return nil, err
	}
	pendingTx, err := m.repo.CountTransactions(ctx, models.TxInitiated, models.TxSent)
	if err != nil {
		return nil, err
	}
	election, err := m.repo.LatestOpenElection(ctx)
	if err != nil {
		return nil, err
	}

	balance, configured := m.balance(ctx)

	state := &models.TreasuryState{
		Balance:             balance,
		TotalPaidOut:        counts.TotalPaidOut,
		TotalFunded:         balance + counts.TotalPaidOut,
		PendingProposals:    counts.ByStatus[models.ProposalPending],
		VotingProposals:     counts.ByStatus[models.ProposalVoting],
		ApprovedProposals:   counts.ByStatus[models.ProposalApproved],
		RejectedProposals:   counts.ByStatus[models.ProposalRejected],
		ExecutedProposals:   counts.ByStatus[models.ProposalExecuted],
		FailedProposals:     counts.ByStatus[models.ProposalFailed],
		PendingTransactions: pendingTx,
		Configured:          configured,
	}
	if election != nil {
		state.OpenElectionID = election.ID
	}
	return state, nil
}

// GetBalance returns the treasury balance and the open election, if any.
// Without a configured ledger it returns the zero balance with Configured
// unset instead of an error.
func (m *Manager) GetBalance(ctx context.Context) (*models.BalanceView, error) {
	election, err := m.repo.LatestOpenElection(ctx)
	if err != nil {
		return nil, err
	}

	balance, configured := m.balance(ctx)
	view := &models.BalanceView{
		Balance:    balance,
		Configured: configured,
	}
	if election != nil {
		view.ElectionStatus = models.ElectionStatus{
			Open:         true,
			ElectionID:   election.ID,
			VotingEndsAt: election.VotingEndsAt,
			VotesFor:     election.VotesFor,
			VotesAgainst: election.VotesAgainst,
		}
	}
	return view, nil
}

func (m *Manager) balance(ctx context.Context) (int64, bool) {
	balance, err := m.provider.Balance(ctx)
	if err == nil {
		return balance, true
	}
	if !ledger.IsNotConfigured(err) {
		m.Log.Warnf("%s | Could not read treasury balance: %v", tracking.From(ctx), err)
		return 0, true
	}
	return 0, false
}

func formatHeight(h uint64) string {
	return strconv.FormatUint(h, 10)
}
