// Package sweeper runs the periodic jobs that drive time-based transitions:
// closing votes past their deadline, reconciling submitted transactions with
// the ledger and, when scheduled, paying out approved proposals.
package sweeper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/metrics"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	"github.com/midnightos/treasury/treasury"
	"github.com/midnightos/treasury/txstore"
	logger "github.com/ndau/go-logger"
)

// Job names.
const (
	JobTally     = "tally"
	JobReconcile = "reconcile"
	JobPayout    = "payout"
)

// maxPayoutsPerRun bounds one payout sweep.
const maxPayoutsPerRun = 100

// Schedules are cron specs per job; an empty spec disables the job.
type Schedules struct {
	Tally     string
	Reconcile string
	Payout    string
}

// Sweeper owns the cron scheduler.
type Sweeper struct {
	manager    *treasury.Manager
	txs        *txstore.Store
	provider   ledger.Provider
	events     treasury.Publisher
	metrics    *metrics.Metrics
	schedules  Schedules
	staleAfter time.Duration
	now        func() time.Time
	newBackOff func() backoff.BackOff

	cron *cron.Cron

	// Optional: logging
	Log logger.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithPublisher sets the transaction event sink.
func WithPublisher(p treasury.Publisher) Option {
	return func(s *Sweeper) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithBackOff overrides the payout retry policy.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Sweeper) {
		s.newBackOff = newBackOff
	}
}

// New builds a Sweeper from cfg.
func New(manager *treasury.Manager, txs *txstore.Store, provider ledger.Provider, cfg *models.Config, log logger.Logger, opts ...Option) *Sweeper {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	s := &Sweeper{
		manager:  manager,
		txs:      txs,
		provider: provider,
		events:   noopPublisher{},
		schedules: Schedules{
			Tally:     cfg.TallySchedule,
			Reconcile: cfg.ReconcileSchedule,
			Payout:    cfg.PayoutSchedule,
		},
		staleAfter: cfg.StaleTransactionAfter,
		now:        func() time.Time { return time.Now().UTC() },
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		Log: log,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 15 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, interface{}) {}

// Start schedules every job with a non-empty spec. Jobs skip a tick while
// their previous run is still going.
func (s *Sweeper) Start(ctx context.Context) error {
	cl := cronLogger{s.Log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, j := range []struct{ name, spec string }{
		{JobTally, s.schedules.Tally},
		{JobReconcile, s.schedules.Reconcile},
		{JobPayout, s.schedules.Payout},
	} {
		if j.spec == "" {
			continue
		}
		job := j.name
		if _, err := c.AddFunc(j.spec, func() {
			runCtx := tracking.With(ctx, tracking.New())
			if err := s.Run(runCtx, job); err != nil {
				s.Log.Errorf("%s | Sweep %s failed: %v", tracking.From(runCtx), job, err)
			}
		}); err != nil {
			return errors.Wrapf(err, "invalid schedule '%s' for %s sweep", j.spec, job)
		}
		s.Log.Infof("Scheduled %s sweep: %s", job, j.spec)
	}

	s.cron = c
	c.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// Run executes one job synchronously.
func (s *Sweeper) Run(ctx context.Context, job string) error {
	var err error
	switch job {
	case JobTally:
		err = s.Tally(ctx)
	case JobReconcile:
		err = s.Reconcile(ctx)
	case JobPayout:
		err = s.Payout(ctx)
	default:
		return models.NewError(models.KindValidation, "unknown sweep job '%s'", job)
	}
	s.metrics.Sweep(job, err)
	return err
}

// Tally closes every vote past its deadline.
func (s *Sweeper) Tally(ctx context.Context) error {
	closed, err := s.manager.TallyDue(ctx)
	if closed > 0 {
		s.Log.Infof("%s | Tally sweep closed %d proposals", tracking.From(ctx), closed)
	}
	return err
}

// Reconcile settles pending transactions against the ledger, then sweeps
// abandoned claims.
func (s *Sweeper) Reconcile(ctx context.Context) error {
	trackingNumber := tracking.From(ctx)

	pending, err := s.txs.GetPendingTransactions(ctx)
	if err != nil {
		return err
	}

	settled := 0
	var firstErr error
	for _, rec := range pending {
		ok, err := s.reconcileOne(ctx, rec)
		if ok {
			settled++
		}
		if err == nil {
			continue
		}
		if ledger.IsNotConfigured(err) {
			s.Log.Warnf("%s | Ledger is not configured; %d transactions left unreconciled", trackingNumber, len(pending)-settled)
			break
		}
		s.Log.Errorf("%s | Failed to reconcile transaction %s: %v", trackingNumber, rec.ID, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	remaining := len(pending) - settled
	s.metrics.PendingTransactions(remaining)

	if err := s.reconcileClaims(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// reconcileClaims frees open-voting claims left by calls that never finished
// and reports payout claims that need an operator.
func (s *Sweeper) reconcileClaims(ctx context.Context) error {
	trackingNumber := tracking.From(ctx)

	released, err := s.manager.ReleaseStaleClaims(ctx)
	if err != nil {
		s.Log.Errorf("%s | Failed to release stale claims: %v", trackingNumber, err)
		return err
	}
	if released > 0 {
		s.Log.Infof("%s | Released %d stale open-voting claims", trackingNumber, released)
	}

	held, err := s.manager.HeldPayouts(ctx)
	if err != nil {
		s.Log.Errorf("%s | Failed to list held payouts: %v", trackingNumber, err)
		return err
	}
	for _, p := range held {
		s.Log.Errorf("%s | PAYOUT HELD: proposal %s is claimed by transaction %s that never reached the ledger; release it with POST /treasury/release-claim once the ledger shows no transfer",
			trackingNumber, p.ID, p.ClaimToken)
	}
	return nil
}

func (s *Sweeper) reconcileOne(ctx context.Context, rec models.TransactionRecord) (bool, error) {
	trackingNumber := tracking.From(ctx)

	if rec.State == models.TxInitiated {
		if s.now().Sub(rec.CreatedAt) < s.staleAfter {
			return false, nil
		}
		s.Log.Errorf("%s | STALE TRANSACTION: %s to %s for %d was never submitted; marking failed. The proposal it belongs to stays held for review.",
			trackingNumber, rec.ID, rec.ToAddress, rec.Amount)
		failed, err := s.txs.MarkAsFailed(ctx, rec.ID, "abandoned before submission")
		if err != nil || failed == nil {
			return false, err
		}
		s.publish(ctx, models.EventTransactionFailed, failed)
		return true, nil
	}

	if rec.TxIdentifier == nil {
		return false, nil
	}
	status, err := s.provider.TransactionStatus(ctx, *rec.TxIdentifier)
	if err != nil {
		return false, err
	}

	switch status {
	case models.ChainTxConfirmed:
		done, err := s.txs.MarkAsCompleted(ctx, *rec.TxIdentifier)
		if err != nil || done == nil {
			return false, err
		}
		s.publish(ctx, models.EventTransactionCompleted, done)
		return true, nil
	case models.ChainTxRejected:
		s.Log.Errorf("%s | Ledger rejected transaction %s (%s) after it was sent", trackingNumber, rec.ID, *rec.TxIdentifier)
		failed, err := s.txs.MarkAsFailed(ctx, rec.ID, "rejected by the ledger")
		if err != nil || failed == nil {
			return false, err
		}
		s.publish(ctx, models.EventTransactionFailed, failed)
		return true, nil
	default:
		return false, nil
	}
}

// Payout pays approved proposals until none is left or the treasury cannot
// cover the next one. Provider failures are retried with exponential
// backoff; every other failure ends the run.
func (s *Sweeper) Payout(ctx context.Context) error {
	trackingNumber := tracking.From(ctx)

	for i := 0; i < maxPayoutsPerRun; i++ {
		var res *treasury.PayoutResult
		err := backoff.Retry(func() error {
			var err error
			res, err = s.manager.PayoutApprovedProposal(ctx)
			if err == nil || models.KindOf(err) == models.KindProvider && !ledger.IsNotConfigured(err) {
				return err
			}
			return backoff.Permanent(err)
		}, backoff.WithContext(s.newBackOff(), ctx))

		if err == nil {
			s.Log.Infof("%s | Paid proposal %s as %s", trackingNumber, res.ProposalID, res.Receipt.TxID)
			continue
		}
		switch models.KindOf(err) {
		case models.KindNotFound:
			return nil
		case models.KindInsufficientBalance:
			s.Log.Warnf("%s | Payout sweep stopped: %v", trackingNumber, err)
			return nil
		default:
			return err
		}
	}
	return nil
}

func (s *Sweeper) publish(ctx context.Context, eventType string, rec *models.TransactionRecord) {
	data := models.TransactionEventData{
		Event:         models.Event{TrackingNumber: tracking.From(ctx)},
		TransactionID: rec.ID,
		State:         rec.State,
	}
	if rec.TxIdentifier != nil {
		data.TxIdentifier = *rec.TxIdentifier
	}
	if rec.ErrorMessage != nil {
		data.Error = *rec.ErrorMessage
	}
	s.events.Publish(ctx, eventType, data)
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

// Info only reports skipped runs; the scheduler's wake-ups are noise.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warnf("cron: previous run still in progress, skipping %v", keysAndValues)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("cron: %s %v: %v", msg, keysAndValues, err)
}
