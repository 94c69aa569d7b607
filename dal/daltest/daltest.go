// Package daltest opens throwaway databases for tests.
package daltest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/dal"
	"github.com/midnightos/treasury/models"
)

// Open returns a migrated in-memory sqlite database private to t.
func Open(t testing.TB) *dal.Db {
	t.Helper()

	cfg := models.DefaultConfig()
	cfg.DBDriver = "sqlite"
	cfg.SQLitePath = "file:" + uuid.NewString() + "?mode=memory&cache=shared"

	db, err := dal.NewDb(&cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(db.Close)
	return db
}

// SeatVoters seats n voters named voter-0 .. voter-(n-1).
func SeatVoters(t testing.TB, db dal.Repo, n int) []string {
	t.Helper()

	voters := make([]models.Voter, 0, n)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := "voter-" + strconv.Itoa(i)
		ids = append(ids, id)
		voters = append(voters, models.Voter{VoterID: id, Weight: 1, SeatedAt: time.Now().UTC()})
	}
	require.NoError(t, db.UpsertVoters(context.Background(), voters))
	return ids
}
