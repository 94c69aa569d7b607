// Package txstore owns the lifecycle of outgoing transaction records:
// INITIATED -> SENT -> COMPLETED, or FAILED from INITIATED/SENT.
package txstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/midnightos/treasury/dal"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	logger "github.com/ndau/go-logger"
)

// Store is the transaction record store.
type Store struct {
	repo dal.Repo
	now  func() time.Time

	// Optional: logging
	Log logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a Store over repo.
func New(repo dal.Repo, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	s := &Store{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		Log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTransaction records a new INITIATED transaction under a fresh id.
func (s *Store) CreateTransaction(ctx context.Context, from, to string, amount int64) (*models.TransactionRecord, error) {
	return s.CreateTransactionWithID(ctx, uuid.NewString(), from, to, amount)
}

// CreateTransactionWithID records a new INITIATED transaction under id. Payouts
// reserve the proposal with this id before the record exists.
func (s *Store) CreateTransactionWithID(ctx context.Context, id, from, to string, amount int64) (*models.TransactionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.NewError(models.KindValidation, "transaction id is required")
	}
	if strings.TrimSpace(to) == "" {
		return nil, models.NewError(models.KindValidation, "destination address is required")
	}
	if amount < 0 {
		return nil, models.NewError(models.KindValidation, "amount must not be negative")
	}

	now := s.now()
	rec := &models.TransactionRecord{
		ID:          id,
		State:       models.TxInitiated,
		FromAddress: from,
		ToAddress:   to,
		Amount:      amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTransaction(ctx, rec); err != nil {
		return nil, err
	}

	s.Log.Infof("%s | Transaction %s initiated: %d to %s", tracking.From(ctx), rec.ID, amount, to)
	return rec, nil
}

// MarkAsSent attaches the chain identifier. It returns nil when id is
// unknown and a ConflictError when txIdentifier belongs to another record.
func (s *Store) MarkAsSent(ctx context.Context, id, txIdentifier string) (*models.TransactionRecord, error) {
	trackingNumber := tracking.From(ctx)
	if strings.TrimSpace(txIdentifier) == "" {
		return nil, models.NewError(models.KindValidation, "transaction identifier is required")
	}

	rec, err := s.lookup(ctx, id)
	if rec == nil || err != nil {
		return nil, err
	}
	if rec.State == models.TxSent && rec.TxIdentifier != nil && *rec.TxIdentifier == txIdentifier {
		return rec, nil
	}

	other, err := s.repo.GetTransactionByIdentifier(ctx, txIdentifier)
	switch {
	case err == nil && other.ID != id:
		s.Log.Errorf("%s | Transaction identifier %s is already recorded on %s; refusing to attach it to %s",
			trackingNumber, txIdentifier, other.ID, id)
		return nil, models.NewError(models.KindConflict, "transaction identifier %s already recorded", txIdentifier)
	case err != nil && models.KindOf(err) != models.KindNotFound:
		return nil, err
	}

	if rec.State != models.TxInitiated {
		return nil, models.NewError(models.KindInvalidState, "transaction %s is %s, not %s", id, rec.State, models.TxInitiated)
	}

	ok, err := s.repo.MarkTransactionSent(ctx, id, txIdentifier, s.now())
	if err != nil {
		if models.KindOf(err) == models.KindConflict {
			s.Log.Errorf("%s | Transaction identifier %s is already recorded; refusing to attach it to %s",
				trackingNumber, txIdentifier, id)
		}
		return nil, err
	}
	if !ok {
		return nil, models.NewError(models.KindInvalidState, "transaction %s changed state concurrently", id)
	}

	s.Log.Infof("%s | Transaction %s sent as %s", trackingNumber, id, txIdentifier)
	return s.repo.GetTransaction(ctx, id)
}

// MarkAsCompleted confirms the transaction known on chain as txIdentifier.
// Completing an already COMPLETED record returns it unchanged.
func (s *Store) MarkAsCompleted(ctx context.Context, txIdentifier string) (*models.TransactionRecord, error) {
	trackingNumber := tracking.From(ctx)

	rec, err := s.repo.GetTransactionByIdentifier(ctx, txIdentifier)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			s.Log.Warnf("%s | No transaction recorded for identifier %s", trackingNumber, txIdentifier)
			return nil, nil
		}
		return nil, err
	}

	switch rec.State {
	case models.TxCompleted:
		return rec, nil
	case models.TxFailed:
		return nil, models.NewError(models.KindInvalidState, "transaction %s already failed", rec.ID)
	}

	ok, err := s.repo.MarkTransactionCompleted(ctx, txIdentifier, s.now())
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.GetTransaction(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if !ok && latest.State != models.TxCompleted {
		return nil, models.NewError(models.KindInvalidState, "transaction %s is %s", rec.ID, latest.State)
	}

	s.Log.Infof("%s | Transaction %s completed", trackingNumber, rec.ID)
	return latest, nil
}

// MarkAsFailed fails an INITIATED or SENT record. Failing an already FAILED
// record returns it unchanged; a COMPLETED record cannot fail.
func (s *Store) MarkAsFailed(ctx context.Context, id, errorMessage string) (*models.TransactionRecord, error) {
	trackingNumber := tracking.From(ctx)

	rec, err := s.lookup(ctx, id)
	if rec == nil || err != nil {
		return nil, err
	}

	switch rec.State {
	case models.TxFailed:
		return rec, nil
	case models.TxCompleted:
		return nil, models.NewError(models.KindInvalidState, "transaction %s already completed", id)
	}

	ok, err := s.repo.MarkTransactionFailed(ctx, id, errorMessage, s.now())
	if err != nil {
		return nil, err
	}
	latest, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok && latest.State != models.TxFailed {
		return nil, models.NewError(models.KindInvalidState, "transaction %s is %s", id, latest.State)
	}

	s.Log.Warnf("%s | Transaction %s failed: %s", trackingNumber, id, errorMessage)
	return latest, nil
}

// GetPendingTransactions returns INITIATED and SENT records, oldest first.
func (s *Store) GetPendingTransactions(ctx context.Context) ([]models.TransactionRecord, error) {
	return s.repo.ListTransactions(ctx, models.TxInitiated, models.TxSent)
}

// Get returns the record with the given internal id.
func (s *Store) Get(ctx context.Context, id string) (*models.TransactionRecord, error) {
	return s.repo.GetTransaction(ctx, id)
}

// List returns records in state, or every record when state is empty.
func (s *Store) List(ctx context.Context, state models.TxState) ([]models.TransactionRecord, error) {
	if state == "" {
		return s.repo.ListTransactions(ctx)
	}
	if !state.Valid() {
		return nil, models.NewError(models.KindValidation, "unknown transaction state '%s'", state)
	}
	return s.repo.ListTransactions(ctx, state)
}

func (s *Store) lookup(ctx context.Context, id string) (*models.TransactionRecord, error) {
	rec, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			s.Log.Warnf("%s | No transaction recorded with id %s", tracking.From(ctx), id)
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
