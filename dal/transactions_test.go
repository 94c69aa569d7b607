package dal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/dal/daltest"
	"github.com/midnightos/treasury/models"
)

func TestMarkTransactionSentConflict(t *testing.T) {
	db := daltest.Open(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, db.CreateTransaction(ctx, &models.TransactionRecord{
			ID: id, State: models.TxInitiated, ToAddress: "addr1", Amount: 10, CreatedAt: t0, UpdatedAt: t0,
		}))
	}

	ok, err := db.MarkTransactionSent(ctx, "t1", "chain-1", t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.MarkTransactionSent(ctx, "t2", "chain-1", t0.Add(time.Second))
	assert.Equal(t, models.KindConflict, models.KindOf(err))

	n, err := db.CountTransactions(ctx, models.TxInitiated, models.TxSent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err = db.MarkTransactionCompleted(ctx, "chain-1", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.MarkTransactionFailed(ctx, "t1", "late failure", t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "a completed record cannot fail")

	rec, err := db.GetTransactionByIdentifier(ctx, "chain-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, rec.State)
}
