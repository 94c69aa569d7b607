package treasury

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
)

// maxClaimAttempts bounds how often a payout moves on to the next candidate
// after losing a claim race.
const maxClaimAttempts = 5

// PayoutResult describes an executed payout.
type PayoutResult struct {
	ProposalID    string
	TransactionID string
	Receipt       models.Receipt
}

// PayoutApprovedProposal pays the oldest approved proposal not yet executed.
//
// The proposal is reserved with a claim before the transfer so concurrent
// payouts never pick the same one, and the claim is refused when the balance
// does not cover it on top of the payouts already in flight. A provider failure releases the claim and
// leaves the proposal approved. A transfer that went through but could not
// be recorded parks the proposal in failed.
func (m *Manager) PayoutApprovedProposal(ctx context.Context) (*PayoutResult, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		res, err := m.payoutNext(ctx)
		if errors.Is(err, errClaimLost) {
			continue
		}
		return res, err
	}
	return nil, models.NewError(models.KindConflict, "gave up after %d contested payout claims", maxClaimAttempts)
}

var errClaimLost = errors.New("payout claim lost")

// unrecordedTransfer prefixes the failure message of a record whose transfer
// went through but could not be marked sent.
const unrecordedTransfer = "transferred as "

func (m *Manager) payoutNext(ctx context.Context) (*PayoutResult, error) {
	trackingNumber := tracking.From(ctx)

	p, err := m.repo.NextPayable(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, models.NewError(models.KindNotFound, "no approved proposal is awaiting payout")
	}

	balance, err := m.provider.Balance(ctx)
	if err != nil {
		m.metrics.Payout("provider_error")
		return nil, asProviderError(err, "balance")
	}
	if balance < p.Amount {
		m.Log.Warnf("%s | Treasury balance %d cannot cover proposal %s for %d", trackingNumber, balance, p.ID, p.Amount)
		return nil, models.NewError(models.KindInsufficientBalance, "treasury balance %d is below the %d requested by proposal %s",
			balance, p.Amount, p.ID).WithDetails("proposalId=" + p.ID)
	}

	from, err := m.provider.Address(ctx)
	if err != nil {
		m.metrics.Payout("provider_error")
		return nil, asProviderError(err, "address")
	}

	token := uuid.NewString()
	ok, err := m.repo.ClaimPayout(ctx, p.ID, token, balance, m.now())
	if err != nil {
		if models.KindOf(err) == models.KindInsufficientBalance {
			m.Log.Warnf("%s | Payout of proposal %s not reserved: %v", trackingNumber, p.ID, err)
		}
		return nil, err
	}
	if !ok {
		m.Log.Infof("%s | Proposal %s was claimed by another payout", trackingNumber, p.ID)
		return nil, errClaimLost
	}

	rec, err := m.txs.CreateTransactionWithID(ctx, token, from, p.Recipient, p.Amount)
	if err != nil {
		m.release(ctx, p.ID, token)
		m.metrics.Payout("error")
		return nil, err
	}

	receipt, err := m.provider.Transfer(ctx, p.Recipient, p.Amount)
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		m.Log.Errorf("%s | Transfer for proposal %s failed: %v", trackingNumber, p.ID, err)
		if _, ferr := m.txs.MarkAsFailed(cleanup, rec.ID, err.Error()); ferr != nil {
			m.Log.Errorf("%s | Failed to record failure of transaction %s: %v", trackingNumber, rec.ID, ferr)
		}
		m.release(cleanup, p.ID, token)
		m.metrics.Payout("provider_error")
		m.publishProposal(cleanup, models.EventPayoutFailed, p, nil, err)
		return nil, asProviderError(err, "transfer")
	}

	// From here on the funds have moved; record the outcome even if the
	// caller went away.
	ctx = context.WithoutCancel(ctx)

	if _, err := m.txs.MarkAsSent(ctx, rec.ID, receipt.TxID); err != nil {
		m.Log.Errorf("%s | PAYOUT RECORDING FAILED: proposal %s transferred as %s but transaction %s could not be marked sent: %v",
			trackingNumber, p.ID, receipt.TxID, rec.ID, err)
		if _, ferr := m.txs.MarkAsFailed(ctx, rec.ID, fmt.Sprintf("%s%s but not recorded: %v", unrecordedTransfer, receipt.TxID, err)); ferr != nil {
			m.Log.Errorf("%s | Failed to record failure of transaction %s: %v", trackingNumber, rec.ID, ferr)
		}
		if _, ferr := m.repo.FailPayout(ctx, p.ID, token); ferr != nil {
			m.Log.Errorf("%s | Failed to park proposal %s: %v", trackingNumber, p.ID, ferr)
		}
		m.metrics.Payout("conflict")
		p.Status = models.ProposalFailed
		m.publishProposal(ctx, models.EventPayoutFailed, p, &receipt, err)
		return nil, err
	}

	now := m.now()
	ok, err = m.repo.CompletePayout(ctx, p.ID, token, receipt, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("proposal %s lost its payout claim after transfer %s", p.ID, receipt.TxID)
	}

	m.Log.Infof("%s | Proposal %s executed: %d to %s as %s", trackingNumber, p.ID, p.Amount, p.Recipient, receipt.TxID)
	m.metrics.Payout("executed")
	p.Status = models.ProposalExecuted
	p.ExecutedAt = &now
	p.TxHash = receipt.TxID
	m.publishProposal(ctx, models.EventProposalExecuted, p, &receipt, nil)

	return &PayoutResult{
		ProposalID:    p.ID,
		TransactionID: rec.ID,
		Receipt:       receipt,
	}, nil
}

// HeldPayouts lists approved proposals whose payout claim outlived the claim
// timeout without the transfer ever reaching the ledger. They stay out of the
// payout queue until ReleasePayoutClaim is called.
func (m *Manager) HeldPayouts(ctx context.Context) ([]models.Proposal, error) {
	claimed, err := m.repo.ListClaimed(ctx, models.ProposalApproved, m.now().Add(-m.rules.ClaimTimeout))
	if err != nil {
		return nil, err
	}
	held := []models.Proposal{}
	for _, p := range claimed {
		abandoned, err := m.abandoned(ctx, &p)
		if err != nil {
			return nil, err
		}
		if abandoned {
			held = append(held, p)
		}
	}
	return held, nil
}

// ReleasePayoutClaim returns a held approved proposal to the payout queue.
// The hold is only dropped when its transfer never reached the ledger.
func (m *Manager) ReleasePayoutClaim(ctx context.Context, proposalID string) (*models.Proposal, error) {
	p, err := m.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProposalApproved || p.ClaimToken == "" {
		return nil, models.NewError(models.KindInvalidState, "proposal %s is %s and holds no payout claim", p.ID, p.Status)
	}
	if p.ClaimedAt != nil && m.now().Sub(*p.ClaimedAt) < m.rules.ClaimTimeout {
		return nil, models.NewError(models.KindInvalidState, "payout of proposal %s may still be in flight", p.ID)
	}
	abandoned, err := m.abandoned(ctx, p)
	if err != nil {
		return nil, err
	}
	if !abandoned {
		return nil, models.NewError(models.KindInvalidState, "payout of proposal %s reached the ledger or is still pending as transaction %s", p.ID, p.ClaimToken)
	}

	ok, err := m.repo.ReleaseClaim(ctx, p.ID, p.ClaimToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewError(models.KindInvalidState, "proposal %s changed while its claim was being released", p.ID)
	}
	m.Log.Warnf("%s | Payout claim %s on proposal %s released", tracking.From(ctx), p.ClaimToken, p.ID)
	return m.repo.GetProposal(ctx, p.ID)
}

// abandoned reports whether the payout holding p never reached the ledger:
// its record is missing, or failed before submission.
func (m *Manager) abandoned(ctx context.Context, p *models.Proposal) (bool, error) {
	rec, err := m.txs.Get(ctx, p.ClaimToken)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			return true, nil
		}
		return false, err
	}
	if rec.State != models.TxFailed || rec.TxIdentifier != nil {
		return false, nil
	}
	return rec.ErrorMessage == nil || !strings.HasPrefix(*rec.ErrorMessage, unrecordedTransfer), nil
}
