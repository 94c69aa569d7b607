package dal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/midnightos/treasury/models"
)

// CreateTransaction inserts a new transaction record.
func (db *Db) CreateTransaction(ctx context.Context, t *models.TransactionRecord) error {
	err := db.Client.WithContext(ctx).Create(t).Error
	return errors.Wrap(err, "Failed inserting into the transactions table")
}

// GetTransaction returns a NotFoundError when id is unknown.
func (db *Db) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	return db.takeTransaction(ctx, "id = ?", id)
}

// GetTransactionByIdentifier looks a record up by its chain identifier.
func (db *Db) GetTransactionByIdentifier(ctx context.Context, txIdentifier string) (*models.TransactionRecord, error) {
	return db.takeTransaction(ctx, "tx_identifier = ?", txIdentifier)
}

func (db *Db) takeTransaction(ctx context.Context, query string, arg string) (*models.TransactionRecord, error) {
	var t models.TransactionRecord
	if err := db.Client.WithContext(ctx).Where(query, arg).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewError(models.KindNotFound, "transaction %s not found", arg)
		}
		return nil, errors.Wrap(err, "Failed reading from the transactions table")
	}
	return &t, nil
}

// ListTransactions returns records oldest first, optionally filtered by state.
func (db *Db) ListTransactions(ctx context.Context, states ...models.TxState) ([]models.TransactionRecord, error) {
	records := []models.TransactionRecord{}
	q := db.Client.WithContext(ctx).Order("created_at asc").Order("id asc")
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "Failed reading from the transactions table")
	}
	return records, nil
}

// CountTransactions counts records, optionally filtered by state.
func (db *Db) CountTransactions(ctx context.Context, states ...models.TxState) (int64, error) {
	var n int64
	q := db.Client.WithContext(ctx).Model(&models.TransactionRecord{})
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "Failed counting transactions")
	}
	return n, nil
}

// MarkTransactionSent assigns the chain identifier to an INITIATED record.
// A unique violation on the identifier is reported as a ConflictError.
func (db *Db) MarkTransactionSent(ctx context.Context, id, txIdentifier string, at time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Where("id = ? AND state = ? AND tx_identifier IS NULL", id, models.TxInitiated).
		Updates(map[string]interface{}{
			"state":         models.TxSent,
			"tx_identifier": txIdentifier,
			"updated_at":    at,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, models.WrapError(models.KindConflict, res.Error, "transaction identifier %s already recorded", txIdentifier)
		}
		return false, errors.Wrap(res.Error, "Failed marking transaction sent")
	}
	return res.RowsAffected == 1, nil
}

// MarkTransactionCompleted confirms a SENT record.
func (db *Db) MarkTransactionCompleted(ctx context.Context, txIdentifier string, at time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Where("tx_identifier = ? AND state = ?", txIdentifier, models.TxSent).
		Updates(map[string]interface{}{
			"state":      models.TxCompleted,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed marking transaction completed")
	}
	return res.RowsAffected == 1, nil
}

// MarkTransactionFailed fails an INITIATED or SENT record.
func (db *Db) MarkTransactionFailed(ctx context.Context, id, message string, at time.Time) (bool, error) {
	res := db.Client.WithContext(ctx).
		Model(&models.TransactionRecord{}).
		Where("id = ? AND state IN ?", id, []models.TxState{models.TxInitiated, models.TxSent}).
		Updates(map[string]interface{}{
			"state":         models.TxFailed,
			"error_message": message,
			"updated_at":    at,
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "Failed marking transaction failed")
	}
	return res.RowsAffected == 1, nil
}
