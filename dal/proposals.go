package dal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/midnightos/treasury/models"
)

// CreateProposal inserts a new proposal.
func (db *Db) CreateProposal(ctx context.Context, p *models.Proposal) error {
	err := db.Client.WithContext(ctx).Create(p).Error
	return errors.Wrap(err, "Failed inserting into the proposals table")
}

// GetProposal returns a NotFoundError when id is unknown.
func (db *Db) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	var p models.Proposal
	if err := db.Client.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewError(models.KindNotFound, "proposal %s not found", id)
		}
		return nil, errors.Wrap(err, "Failed reading from the proposals table")
	}
	return &p, nil
}

// ListProposals returns proposals oldest first; an empty status means all.
func (db *Db) ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.Proposal, error) {
	proposals := []models.Proposal{}
	q := db.Client.WithContext(ctx).Order("created_at asc").Order("id asc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&proposals).Error; err != nil {
		return nil, errors.Wrap(err, "Failed reading from the proposals table")
	}
	return proposals, nil
}

// DueForTally lists voting proposals whose deadline has passed.
func (db *Db) DueForTally(ctx context.Context, now time.Time) ([]models.Proposal, error) {
	proposals := []models.Proposal{}
	err := db.Client.WithContext(ctx).
		Where("status = ? AND voting_ends_at <= ?", models.ProposalVoting, now).
		Order("voting_ends_at asc").
		Find(&proposals).Error
	if err != nil {
		return nil, errors.Wrap(err, "Failed reading due proposals")
	}
	return proposals, nil
}

// NextPayable returns the oldest approved proposal that is neither executed
// nor held by an in-flight payout, or nil when there is none.
func (db *Db) NextPayable(ctx context.Context) (*models.Proposal, error) {
	var p models.Proposal
	err := db.Client.WithContext(ctx).
		Where("status = ? AND executed_at IS NULL AND claim_token = ?", models.ProposalApproved, "").
		Order("created_at asc").
		Order("id asc").
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "Failed reading payable proposals")
	}
	return &p, nil
}

// LatestOpenElection returns the most recently opened proposal still voting,
// or nil when no vote is open.
func (db *Db) LatestOpenElection(ctx context.Context) (*models.Proposal, error) {
	var p models.Proposal
	err := db.Client.WithContext(ctx).
		Where("status = ?", models.ProposalVoting).
		Order("voting_ends_at desc").
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "Failed reading open elections")
	}
	return &p, nil
}

// CountProposals aggregates proposals by status.
func (db *Db) CountProposals(ctx context.Context) (ProposalCounts, error) {
	type row struct {
		Status models.ProposalStatus
		N      int64
	}
	var rows []row
	err := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return ProposalCounts{}, errors.Wrap(err, "Failed counting proposals")
	}

	counts := ProposalCounts{ByStatus: map[models.ProposalStatus]int64{}}
	for _, r := range rows {
		counts.ByStatus[r.Status] = r.N
	}

	var paid struct{ Total int64 }
	err = db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Select("coalesce(sum(amount), 0) as total").
		Where("status = ?", models.ProposalExecuted).
		Scan(&paid).Error
	if err != nil {
		return ProposalCounts{}, errors.Wrap(err, "Failed summing payouts")
	}
	counts.TotalPaidOut = paid.Total

	return counts, nil
}

// ClaimProposal reserves a proposal in status for one external call.
func (db *Db) ClaimProposal(ctx context.Context, id string, status models.ProposalStatus, token string, at time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, status, "").
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  at,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed claiming proposal")
	}
	return res.RowsAffected == 1, nil
}

// payoutLockKey serialises payout claims across processes on postgres.
const payoutLockKey = 7310115

// ClaimPayout reserves an approved proposal for payout. The claim only holds
// when balance covers the proposal on top of every amount already held by
// other payout claims; otherwise it fails with InsufficientBalanceError and
// nothing is reserved. The bool is false when the proposal was claimed or
// moved on concurrently.
func (db *Db) ClaimPayout(ctx context.Context, id, token string, balance int64, at time.Time) (bool, error) {
	claimed := false
	err := db.Client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == driverPostgres {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", payoutLockKey).Error; err != nil {
				return errors.Wrap(err, "Failed locking payout claims")
			}
		}

		var p models.Proposal
		if err := tx.Where("id = ?", id).Take(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewError(models.KindNotFound, "proposal %s not found", id)
			}
			return errors.Wrap(err, "Failed reading from the proposals table")
		}
		if p.Status != models.ProposalApproved || p.ClaimToken != "" || p.ExecutedAt != nil {
			return nil
		}

		var reserved struct{ Total int64 }
		err := tx.Model(&models.Proposal{}).
			Select("coalesce(sum(amount), 0) as total").
			Where("status = ? AND claim_token <> ?", models.ProposalApproved, "").
			Scan(&reserved).Error
		if err != nil {
			return errors.Wrap(err, "Failed summing reserved payouts")
		}
		if reserved.Total+p.Amount > balance {
			return models.NewError(models.KindInsufficientBalance,
				"treasury balance %d with %d reserved by payouts in flight cannot cover the %d requested by proposal %s",
				balance, reserved.Total, p.Amount, id).WithDetails("proposalId=" + id)
		}

		res := tx.Model(&models.Proposal{}).
			Where("id = ? AND status = ? AND claim_token = ?", id, models.ProposalApproved, "").
			Updates(map[string]interface{}{
				"claim_token": token,
				"claimed_at":  at,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "Failed claiming proposal")
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// ListClaimed returns proposals in status whose claim was taken at or before
// cutoff, oldest claim first.
func (db *Db) ListClaimed(ctx context.Context, status models.ProposalStatus, cutoff time.Time) ([]models.Proposal, error) {
	proposals := []models.Proposal{}
	err := db.Client.WithContext(ctx).
		Where("status = ? AND claim_token <> ? AND claimed_at <= ?", status, "", cutoff).
		Order("claimed_at asc").
		Find(&proposals).Error
	if err != nil {
		return nil, errors.Wrap(err, "Failed reading claimed proposals")
	}
	return proposals, nil
}

// ReleaseClaim drops a reservation held by token.
func (db *Db) ReleaseClaim(ctx context.Context, id, token string) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]interface{}{
			"claim_token": "",
			"claimed_at":  nil,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed releasing proposal claim")
	}
	return res.RowsAffected == 1, nil
}

// StartVoting moves a claimed pending proposal to voting.
func (db *Db) StartVoting(ctx context.Context, id, token string, endsAt time.Time, eligible int64, receipt models.Receipt) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.ProposalPending, token).
		Updates(map[string]interface{}{
			"status":              models.ProposalVoting,
			"voting_ends_at":      endsAt,
			"eligible_voters":     eligible,
			"voting_tx_id":        receipt.TxID,
			"voting_block_height": receipt.BlockHeight,
			"claim_token":         "",
			"claimed_at":          nil,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed opening voting")
	}
	return res.RowsAffected == 1, nil
}

// HasVoted reports whether voterID already voted on proposalID.
func (db *Db) HasVoted(ctx context.Context, proposalID, voterID string) (bool, error) {
	var n int64
	err := db.Client.WithContext(ctx).
		Model(&models.Vote{}).
		Where("proposal_id = ? AND voter_id = ?", proposalID, voterID).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "Failed reading from the votes table")
	}
	return n > 0, nil
}

// RecordVote stores a ballot and bumps the matching counter atomically.
// It fails with InvalidStateError when the proposal stopped accepting votes
// and with DuplicateVoteError when the voter already voted.
func (db *Db) RecordVote(ctx context.Context, vote models.Vote, now time.Time) error {
	column := "votes_against"
	if vote.Choice == models.VoteFor {
		column = "votes_for"
	}

	return db.Client.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Proposal{}).
			Where("id = ? AND status = ? AND voting_ends_at > ? AND votes_for + votes_against < eligible_voters",
				vote.ProposalID, models.ProposalVoting, now).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1))
		if res.Error != nil {
			return errors.Wrap(res.Error, "Failed counting vote")
		}
		if res.RowsAffected == 0 {
			return models.NewError(models.KindInvalidState, "proposal %s is not accepting votes", vote.ProposalID)
		}

		if err := tx.Create(&vote).Error; err != nil {
			if isUniqueViolation(err) {
				return models.NewError(models.KindDuplicateVote, "voter %s already voted on proposal %s", vote.VoterID, vote.ProposalID)
			}
			return errors.Wrap(err, "Failed inserting into the votes table")
		}
		return nil
	})
}

// CloseVoting records the tally outcome once the deadline has passed.
func (db *Db) CloseVoting(ctx context.Context, id string, status models.ProposalStatus, now time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND voting_ends_at <= ?", id, models.ProposalVoting, now).
		Updates(map[string]interface{}{
			"status":    status,
			"closed_at": now,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed closing voting")
	}
	return res.RowsAffected == 1, nil
}

// CompletePayout marks a claimed approved proposal executed. The claim token
// is the id of the transaction record that carried the payout.
func (db *Db) CompletePayout(ctx context.Context, id, token string, receipt models.Receipt, at time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND claim_token = ? AND executed_at IS NULL", id, models.ProposalApproved, token).
		Updates(map[string]interface{}{
			"status":                models.ProposalExecuted,
			"executed_at":           at,
			"tx_hash":               receipt.TxID,
			"payout_block_height":   receipt.BlockHeight,
			"payout_transaction_id": token,
			"claim_token":           "",
			"claimed_at":            nil,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed completing payout")
	}
	return res.RowsAffected == 1, nil
}

// FailPayout parks a claimed proposal in failed for operator attention.
func (db *Db) FailPayout(ctx context.Context, id, token string) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.ProposalApproved, token).
		Updates(map[string]interface{}{
			"status":                models.ProposalFailed,
			"payout_transaction_id": token,
			"claim_token":           "",
			"claimed_at":            nil,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed parking proposal")
	}
	return res.RowsAffected == 1, nil
}
