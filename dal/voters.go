package dal

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
)

// ListVoters - Read the whole roster
func (db *Db) ListVoters(ctx context.Context) ([]models.Voter, error) {
	voters := []models.Voter{}
	if err := db.Client.WithContext(ctx).Order("voter_id asc").Find(&voters).Error; err != nil {
		return nil, errors.Wrap(err, "Failed reading from the voters table")
	}

	return voters, nil
}

// CountVoters returns the size of the eligible-voter roster.
func (db *Db) CountVoters(ctx context.Context) (int64, error) {
	var n int64
	if err := db.Client.WithContext(ctx).Model(&models.Voter{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "Failed counting voters")
	}
	return n, nil
}

// IsSeated reports whether voterID is on the roster.
func (db *Db) IsSeated(ctx context.Context, voterID string) (bool, error) {
	var n int64
	err := db.Client.WithContext(ctx).Model(&models.Voter{}).Where("voter_id = ?", voterID).Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "Failed reading from the voters table")
	}
	return n > 0, nil
}

// Unseat removes voters from the roster. Ballots already cast are kept.
func (db *Db) Unseat(ctx context.Context, voterIDs []string) error {
	if len(voterIDs) == 0 {
		return nil
	}
	trackingNumber := tracking.From(ctx)
	db.Log.Infof("%s | Unseating '%d' voters", trackingNumber, len(voterIDs))

	err := db.Client.WithContext(ctx).Where("voter_id IN ?", voterIDs).Delete(&models.Voter{}).Error
	return errors.Wrap(err, "Failed deleting from the voters table")
}

// UpsertVoters seats new voters and refreshes existing seats.
func (db *Db) UpsertVoters(ctx context.Context, voters []models.Voter) error {
	if len(voters) == 0 {
		return nil
	}
	trackingNumber := tracking.From(ctx)
	db.Log.Infof("%s | Upserting '%d' voters into the voters table", trackingNumber, len(voters))

	err := db.Client.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"weight", "seated_at"}),
	}).CreateInBatches(voters, 1000).Error
	return errors.Wrap(err, "Failed upserting into the voters table")
}
