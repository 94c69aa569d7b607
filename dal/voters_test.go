package dal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/dal/daltest"
	"github.com/midnightos/treasury/models"
)

func TestVoterRoster(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()

	daltest.SeatVoters(t, db, 3)
	n, err := db.CountVoters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, db.UpsertVoters(ctx, []models.Voter{{VoterID: "voter-0", Weight: 5}}))
	voters, err := db.ListVoters(ctx)
	require.NoError(t, err)
	require.Len(t, voters, 3)
	assert.Equal(t, 5.0, voters[0].Weight)

	require.NoError(t, db.Unseat(ctx, []string{"voter-1"}))
	seated, err := db.IsSeated(ctx, "voter-1")
	require.NoError(t, err)
	assert.False(t, seated)

	seated, err = db.IsSeated(ctx, "voter-2")
	require.NoError(t, err)
	assert.True(t, seated)
}

func TestListVotersEmptyRoster(t *testing.T) {
	db := daltest.Open(t)

	voters, err := db.ListVoters(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, voters)
	assert.Empty(t, voters)
}
