package dal

import (
	"context"
	"time"

	"github.com/midnightos/treasury/models"
)

// ProposalCounts is the per-status breakdown used by analytics.
type ProposalCounts struct {
	ByStatus     map[models.ProposalStatus]int64
	TotalPaidOut int64
}

// Repo is the persistence boundary of the treasury. Every lifecycle
// mutation is a conditional update; the bool result reports whether the
// precondition held.
type Repo interface {
	Close()
	Migrate(ctx context.Context) error

	// Voter roster
	ListVoters(ctx context.Context) ([]models.Voter, error)
	CountVoters(ctx context.Context) (int64, error)
	IsSeated(ctx context.Context, voterID string) (bool, error)
	Unseat(ctx context.Context, voterIDs []string) error
	UpsertVoters(ctx context.Context, voters []models.Voter) error

	// Proposals
	CreateProposal(ctx context.Context, p *models.Proposal) error
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
	ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.Proposal, error)
	DueForTally(ctx context.Context, now time.Time) ([]models.Proposal, error)
	NextPayable(ctx context.Context) (*models.Proposal, error)
	LatestOpenElection(ctx context.Context) (*models.Proposal, error)
	CountProposals(ctx context.Context) (ProposalCounts, error)
	ClaimProposal(ctx context.Context, id string, status models.ProposalStatus, token string, at time.Time) (bool, error)
	ClaimPayout(ctx context.Context, id, token string, balance int64, at time.Time) (bool, error)
	ListClaimed(ctx context.Context, status models.ProposalStatus, cutoff time.Time) ([]models.Proposal, error)
	ReleaseClaim(ctx context.Context, id, token string) (bool, error)
	StartVoting(ctx context.Context, id, token string, endsAt time.Time, eligible int64, receipt models.Receipt) (bool, error)
	HasVoted(ctx context.Context, proposalID, voterID string) (bool, error)
	RecordVote(ctx context.Context, vote models.Vote, now time.Time) error
	CloseVoting(ctx context.Context, id string, status models.ProposalStatus, now time.Time) (bool, error)
	CompletePayout(ctx context.Context, id, token string, receipt models.Receipt, at time.Time) (bool, error)
	FailPayout(ctx context.Context, id, token string) (bool, error)

	// Transactions
	CreateTransaction(ctx context.Context, t *models.TransactionRecord) error
	GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error)
	GetTransactionByIdentifier(ctx context.Context, txIdentifier string) (*models.TransactionRecord, error)
	ListTransactions(ctx context.Context, states ...models.TxState) ([]models.TransactionRecord, error)
	CountTransactions(ctx context.Context, states ...models.TxState) (int64, error)
	MarkTransactionSent(ctx context.Context, id, txIdentifier string, at time.Time) (bool, error)
	MarkTransactionCompleted(ctx context.Context, txIdentifier string, at time.Time) (bool, error)
	MarkTransactionFailed(ctx context.Context, id, message string, at time.Time) (bool, error)
}

var _ Repo = (*Db)(nil)
