package dal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/dal"
	"github.com/midnightos/treasury/dal/daltest"
	"github.com/midnightos/treasury/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newProposal(t *testing.T, db *dal.Db, id string, status models.ProposalStatus, createdAt time.Time) *models.Proposal {
	t.Helper()
	p := &models.Proposal{
		ID:          id,
		Description: "Fund " + id,
		Amount:      1000,
		Recipient:   "addr1",
		Status:      status,
		CreatedAt:   createdAt,
	}
	require.NoError(t, db.CreateProposal(context.Background(), p))
	return p
}

func openVoting(t *testing.T, db *dal.Db, id string, eligible int64, endsAt time.Time) {
	t.Helper()
	ctx := context.Background()
	ok, err := db.ClaimProposal(ctx, id, models.ProposalPending, "claim-"+id, t0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.StartVoting(ctx, id, "claim-"+id, endsAt, eligible, models.Receipt{TxID: "election-" + id, BlockHeight: 7})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetProposalNotFound(t *testing.T) {
	db := daltest.Open(t)

	_, err := db.GetProposal(context.Background(), "missing")
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestListProposalsOldestFirst(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()

	newProposal(t, db, "b", models.ProposalPending, t0.Add(time.Minute))
	newProposal(t, db, "a", models.ProposalPending, t0)
	newProposal(t, db, "c", models.ProposalApproved, t0.Add(2*time.Minute))

	all, err := db.ListProposals(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending, err := db.ListProposals(ctx, models.ProposalPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestClaimIsExclusive(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "p1", models.ProposalPending, t0)

	ok, err := db.ClaimProposal(ctx, "p1", models.ProposalPending, "first", t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimProposal(ctx, "p1", models.ProposalPending, "second", t0)
	require.NoError(t, err)
	assert.False(t, ok, "a held claim cannot be taken again")

	ok, err = db.ReleaseClaim(ctx, "p1", "second")
	require.NoError(t, err)
	assert.False(t, ok, "only the holder releases")

	ok, err = db.ReleaseClaim(ctx, "p1", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimProposal(ctx, "p1", models.ProposalPending, "second", t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimRequiresStatus(t *testing.T) {
	db := daltest.Open(t)
	newProposal(t, db, "p1", models.ProposalPending, t0)

	ok, err := db.ClaimProposal(context.Background(), "p1", models.ProposalApproved, "tok", t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartVotingRecordsElection(t *testing.T) {
	db := daltest.Open(t)
	newProposal(t, db, "p1", models.ProposalPending, t0)
	endsAt := t0.Add(72 * time.Hour)

	openVoting(t, db, "p1", 5, endsAt)

	p, err := db.GetProposal(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalVoting, p.Status)
	assert.Equal(t, int64(5), p.EligibleVoters)
	assert.Equal(t, "election-p1", p.VotingTxID)
	assert.Equal(t, uint64(7), p.VotingBlockHeight)
	assert.Empty(t, p.ClaimToken)
	require.NotNil(t, p.VotingEndsAt)
	assert.True(t, endsAt.Equal(*p.VotingEndsAt))
}

func TestRecordVote(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "p1", models.ProposalPending, t0)
	openVoting(t, db, "p1", 2, t0.Add(time.Hour))
	now := t0.Add(time.Minute)

	require.NoError(t, db.RecordVote(ctx, models.Vote{ProposalID: "p1", VoterID: "v1", Choice: models.VoteFor, CreatedAt: now}, now))

	err := db.RecordVote(ctx, models.Vote{ProposalID: "p1", VoterID: "v1", Choice: models.VoteAgainst, CreatedAt: now}, now)
	assert.Equal(t, models.KindDuplicateVote, models.KindOf(err))

	require.NoError(t, db.RecordVote(ctx, models.Vote{ProposalID: "p1", VoterID: "v2", Choice: models.VoteAgainst, CreatedAt: now}, now))

	err = db.RecordVote(ctx, models.Vote{ProposalID: "p1", VoterID: "v3", Choice: models.VoteFor, CreatedAt: now}, now)
	assert.Equal(t, models.KindInvalidState, models.KindOf(err), "ballots never exceed eligible voters")

	p, err := db.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.VotesFor)
	assert.Equal(t, int64(1), p.VotesAgainst)

	voted, err := db.HasVoted(ctx, "p1", "v1")
	require.NoError(t, err)
	assert.True(t, voted)
	voted, err = db.HasVoted(ctx, "p1", "v3")
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestRecordVoteAfterDeadline(t *testing.T) {
	db := daltest.Open(t)
	newProposal(t, db, "p1", models.ProposalPending, t0)
	endsAt := t0.Add(time.Hour)
	openVoting(t, db, "p1", 10, endsAt)

	err := db.RecordVote(context.Background(), models.Vote{ProposalID: "p1", VoterID: "v1", Choice: models.VoteFor, CreatedAt: endsAt}, endsAt)
	assert.Equal(t, models.KindInvalidState, models.KindOf(err))
}

func TestCloseVotingOnlyAfterDeadline(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "p1", models.ProposalPending, t0)
	endsAt := t0.Add(time.Hour)
	openVoting(t, db, "p1", 10, endsAt)

	ok, err := db.CloseVoting(ctx, "p1", models.ProposalApproved, endsAt.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := db.DueForTally(ctx, endsAt)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err = db.CloseVoting(ctx, "p1", models.ProposalApproved, endsAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CloseVoting(ctx, "p1", models.ProposalRejected, endsAt)
	require.NoError(t, err)
	assert.False(t, ok, "closing is one-shot")

	p, err := db.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)
}

func TestNextPayableSkipsClaimed(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "old", models.ProposalApproved, t0)
	newProposal(t, db, "new", models.ProposalApproved, t0.Add(time.Minute))

	p, err := db.NextPayable(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "old", p.ID)

	ok, err := db.ClaimProposal(ctx, "old", models.ProposalApproved, "tok", t0)
	require.NoError(t, err)
	require.True(t, ok)

	p, err = db.NextPayable(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "new", p.ID)

	ok, err = db.CompletePayout(ctx, "old", "tok", models.Receipt{TxID: "tx-1", BlockHeight: 9}, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CompletePayout(ctx, "old", "tok", models.Receipt{TxID: "tx-2"}, t0)
	require.NoError(t, err)
	assert.False(t, ok, "an executed proposal is never paid twice")

	counts, err := db.CountProposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.ByStatus[models.ProposalExecuted])
	assert.Equal(t, int64(1), counts.ByStatus[models.ProposalApproved])
	assert.Equal(t, int64(1000), counts.TotalPaidOut)
}

func TestNextPayableNone(t *testing.T) {
	db := daltest.Open(t)

	p, err := db.NextPayable(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestClaimPayoutReservesBalance(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "a", models.ProposalApproved, t0)
	newProposal(t, db, "b", models.ProposalApproved, t0.Add(time.Minute))

	ok, err := db.ClaimPayout(ctx, "a", "tok-a", 1500, t0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.ClaimPayout(ctx, "b", "tok-b", 1500, t0)
	assert.Equal(t, models.KindInsufficientBalance, models.KindOf(err), "1000 of 1500 is already held")
	b, err := db.GetProposal(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.ClaimToken)

	ok, err = db.ClaimPayout(ctx, "a", "tok-again", 5000, t0)
	require.NoError(t, err)
	assert.False(t, ok, "already claimed")

	ok, err = db.ReleaseClaim(ctx, "a", "tok-a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.ClaimPayout(ctx, "b", "tok-b", 1500, t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimPayoutRequiresApproved(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "a", models.ProposalPending, t0)

	ok, err := db.ClaimPayout(ctx, "a", "tok-a", 5000, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.ClaimPayout(ctx, "missing", "tok", 5000, t0)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestListClaimed(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()
	newProposal(t, db, "old", models.ProposalPending, t0)
	newProposal(t, db, "new", models.ProposalPending, t0)
	newProposal(t, db, "free", models.ProposalPending, t0)

	ok, err := db.ClaimProposal(ctx, "old", models.ProposalPending, "tok-old", t0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = db.ClaimProposal(ctx, "new", models.ProposalPending, "tok-new", t0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err := db.ListClaimed(ctx, models.ProposalPending, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "old", claimed[0].ID)
	assert.Equal(t, "tok-old", claimed[0].ClaimToken)

	claimed, err = db.ListClaimed(ctx, models.ProposalApproved, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
