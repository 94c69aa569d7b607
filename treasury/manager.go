// Package treasury enforces the proposal lifecycle:
//
//	pending --OpenVoting--> voting --TallyAndClose--> approved | rejected
//	approved --PayoutApprovedProposal--> executed
//
// A payout whose transfer fails at the provider leaves the proposal approved
// so it can be retried. A payout whose transfer went through but could not
// be recorded parks the proposal in failed.
package treasury

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/midnightos/treasury/dal"
	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/metrics"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	"github.com/midnightos/treasury/txstore"
	logger "github.com/ndau/go-logger"
)

// ratioEpsilon absorbs float rounding when comparing vote ratios.
const ratioEpsilon = 1e-9

// Publisher receives lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, interface{}) {}

// Rules are the voting parameters.
type Rules struct {
	VotingPeriod      time.Duration
	QuorumPercentage  float64
	ApprovalThreshold float64

	// ClaimTimeout is how long a claim may be held before it counts as
	// abandoned by a call that never finished.
	ClaimTimeout time.Duration
}

// RulesFromConfig extracts the voting parameters from cfg.
func RulesFromConfig(cfg *models.Config) Rules {
	return Rules{
		VotingPeriod:      cfg.VotingPeriod,
		QuorumPercentage:  cfg.QuorumPercentage,
		ApprovalThreshold: cfg.ApprovalThreshold,
		ClaimTimeout:      cfg.LedgerTimeout + time.Minute,
	}
}

// Manager owns every proposal transition.
type Manager struct {
	repo     dal.Repo
	txs      *txstore.Store
	provider ledger.Provider
	rules    Rules
	events   Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
	locks    *proposalLocks

	// Optional: logging
	Log logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets the lifecycle event sink.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.events = p
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager wires a Manager.
func NewManager(repo dal.Repo, txs *txstore.Store, provider ledger.Provider, rules Rules, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	if rules.VotingPeriod <= 0 {
		rules.VotingPeriod = 72 * time.Hour
	}
	if rules.ClaimTimeout <= 0 {
		rules.ClaimTimeout = 90 * time.Second
	}
	m := &Manager{
		repo:     repo,
		txs:      txs,
		provider: provider,
		rules:    rules,
		events:   noopPublisher{},
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		locks:    newProposalLocks(),
		Log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateProposal records a new pending proposal. Nothing happens on chain.
func (m *Manager) CreateProposal(ctx context.Context, description string, amount int64, recipient string) (*models.Proposal, error) {
	trackingNumber := tracking.From(ctx)
	description = strings.TrimSpace(description)
	if err := validateProposal(description, amount, recipient); err != nil {
		return nil, err
	}

	p := &models.Proposal{
		ID:          uuid.NewString(),
		Description: description,
		Amount:      amount,
		Recipient:   recipient,
		Status:      models.ProposalPending,
		CreatedAt:   m.now(),
	}
	if err := m.repo.CreateProposal(ctx, p); err != nil {
		return nil, err
	}

	m.Log.Infof("%s | Proposal %s created: %d to %s", trackingNumber, p.ID, amount, recipient)
	m.metrics.ProposalCreated()
	m.publishProposal(ctx, models.EventProposalCreated, p, nil, nil)
	return p, nil
}

// GetProposal returns one proposal.
func (m *Manager) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	return m.repo.GetProposal(ctx, id)
}

// ListProposals returns proposals oldest first, filtered by status when set.
func (m *Manager) ListProposals(ctx context.Context, status models.ProposalStatus) ([]models.Proposal, error) {
	if status != "" && !status.Valid() {
		return nil, models.NewError(models.KindValidation, "unknown proposal status '%s'", status)
	}
	return m.repo.ListProposals(ctx, status)
}

// OpenVoting registers the election with the provider and opens the vote.
// A provider failure leaves the proposal pending.
func (m *Manager) OpenVoting(ctx context.Context, proposalID string) (models.Receipt, error) {
	trackingNumber := tracking.From(ctx)

	p, err := m.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return models.Receipt{}, err
	}
	if p.Status != models.ProposalPending {
		return models.Receipt{}, models.NewError(models.KindInvalidState, "proposal %s is %s, voting can only open on a pending proposal", p.ID, p.Status)
	}

	eligible, err := m.repo.CountVoters(ctx)
	if err != nil {
		return models.Receipt{}, err
	}
	if eligible == 0 {
		return models.Receipt{}, models.NewError(models.KindInvalidState, "no eligible voters are seated")
	}

	token := uuid.NewString()
	ok, err := m.repo.ClaimProposal(ctx, p.ID, models.ProposalPending, token, m.now())
	if err != nil {
		return models.Receipt{}, err
	}
	if !ok {
		return models.Receipt{}, models.NewError(models.KindInvalidState, "proposal %s is already being opened or is no longer pending", p.ID)
	}

	receipt, err := m.provider.OpenVoting(ctx, p.ID)
	if err != nil {
		m.Log.Errorf("%s | Ledger refused to open voting on %s: %v", trackingNumber, p.ID, err)
		m.release(ctx, p.ID, token)
		return models.Receipt{}, asProviderError(err, "open voting")
	}

	endsAt := m.now().Add(m.rules.VotingPeriod)
	ok, err = m.repo.StartVoting(context.WithoutCancel(ctx), p.ID, token, endsAt, eligible, receipt)
	if err != nil {
		m.Log.Errorf("%s | ELECTION NOT RECORDED: ledger opened voting on %s as %s but the proposal could not be updated: %v",
			trackingNumber, p.ID, receipt.TxID, err)
		m.release(ctx, p.ID, token)
		return models.Receipt{}, err
	}
	if !ok {
		return models.Receipt{}, errors.Errorf("proposal %s lost its claim while opening voting", p.ID)
	}

	m.Log.Infof("%s | Voting opened on %s until %s with %d eligible voters (tx %s)",
		trackingNumber, p.ID, endsAt.Format(time.RFC3339), eligible, receipt.TxID)
	p.Status = models.ProposalVoting
	p.VotingEndsAt = &endsAt
	p.EligibleVoters = eligible
	m.publishProposal(ctx, models.EventProposalVotingOpened, p, &receipt, nil)
	return receipt, nil
}

// CastVote records one ballot. Each voter votes at most once per proposal.
func (m *Manager) CastVote(ctx context.Context, proposalID, voterID string, choice models.VoteChoice) (*models.Proposal, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, models.NewError(models.KindValidation, "voterId is required")
	}
	if !choice.Valid() {
		return nil, models.NewError(models.KindValidation, "choice must be '%s' or '%s'", models.VoteFor, models.VoteAgainst)
	}

	unlock := m.locks.Lock(proposalID)
	defer unlock()

	p, err := m.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if p.Status != models.ProposalVoting {
		return nil, models.NewError(models.KindInvalidState, "proposal %s is %s, not open for voting", p.ID, p.Status)
	}
	if p.VotingEndsAt == nil || !now.Before(*p.VotingEndsAt) {
		return nil, models.NewError(models.KindInvalidState, "voting on proposal %s has ended", p.ID)
	}

	seated, err := m.repo.IsSeated(ctx, voterID)
	if err != nil {
		return nil, err
	}
	if !seated {
		return nil, models.NewError(models.KindValidation, "voter %s is not eligible", voterID)
	}
	voted, err := m.repo.HasVoted(ctx, p.ID, voterID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, models.NewError(models.KindDuplicateVote, "voter %s already voted on proposal %s", voterID, p.ID)
	}

	err = m.repo.RecordVote(ctx, models.Vote{
		ProposalID: p.ID,
		VoterID:    voterID,
		Choice:     choice,
		CreatedAt:  now,
	}, now)
	if err != nil {
		return nil, err
	}

	m.metrics.VoteCast(choice)
	return m.repo.GetProposal(ctx, p.ID)
}

// TallyAndClose closes a vote whose deadline has passed. Calling it on a
// closed proposal returns the recorded outcome without recounting.
func (m *Manager) TallyAndClose(ctx context.Context, proposalID string) (models.ProposalStatus, error) {
	trackingNumber := tracking.From(ctx)

	unlock := m.locks.Lock(proposalID)
	defer unlock()

	p, err := m.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if p.Status.Closed() {
		return p.Status, nil
	}
	if p.Status != models.ProposalVoting {
		return "", models.NewError(models.KindInvalidState, "proposal %s is %s, voting has not opened", p.ID, p.Status)
	}
	now := m.now()
	if p.VotingEndsAt != nil && now.Before(*p.VotingEndsAt) {
		return "", models.NewError(models.KindInvalidState, "voting on proposal %s is open until %s", p.ID, p.VotingEndsAt.Format(time.RFC3339))
	}

	outcome := m.decide(p)
	ok, err := m.repo.CloseVoting(ctx, p.ID, outcome, now)
	if err != nil {
		return "", err
	}
	if !ok {
		latest, err := m.repo.GetProposal(ctx, p.ID)
		if err != nil {
			return "", err
		}
		if latest.Status.Closed() {
			return latest.Status, nil
		}
		return "", errors.Errorf("proposal %s could not be closed from %s", p.ID, latest.Status)
	}

	m.Log.Infof("%s | Proposal %s %s: %d for, %d against, %d eligible",
		trackingNumber, p.ID, outcome, p.VotesFor, p.VotesAgainst, p.EligibleVoters)
	m.metrics.Tallied(outcome)
	p.Status = outcome
	p.ClosedAt = &now
	m.publishProposal(ctx, models.EventProposalClosed, p, nil, nil)
	return outcome, nil
}

// decide applies quorum and approval threshold. A vote with no ballots fails.
func (m *Manager) decide(p *models.Proposal) models.ProposalStatus {
	total := p.TotalVotes()
	if total == 0 || p.EligibleVoters <= 0 {
		return models.ProposalRejected
	}
	turnout := float64(total) / float64(p.EligibleVoters)
	approval := float64(p.VotesFor) / float64(total)
	if turnout+ratioEpsilon >= m.rules.QuorumPercentage && approval+ratioEpsilon >= m.rules.ApprovalThreshold {
		return models.ProposalApproved
	}
	return models.ProposalRejected
}

// TallyDue closes every vote past its deadline and returns how many closed.
func (m *Manager) TallyDue(ctx context.Context) (int, error) {
	trackingNumber := tracking.From(ctx)

	due, err := m.repo.DueForTally(ctx, m.now())
	if err != nil {
		return 0, err
	}

	closed := 0
	var firstErr error
	for _, p := range due {
		if _, err := m.TallyAndClose(ctx, p.ID); err != nil {
			m.Log.Errorf("%s | Failed to tally proposal %s: %v", trackingNumber, p.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	return closed, firstErr
}

// SyncVoters seats or refreshes voters and unseats the listed ids.
func (m *Manager) SyncVoters(ctx context.Context, voters []models.Voter, unseat []string) error {
	now := m.now()
	for i := range voters {
		voters[i].VoterID = strings.TrimSpace(voters[i].VoterID)
		if voters[i].VoterID == "" {
			return models.NewError(models.KindValidation, "voterId is required")
		}
		if voters[i].SeatedAt.IsZero() {
			voters[i].SeatedAt = now
		}
	}
	if err := m.repo.UpsertVoters(ctx, voters); err != nil {
		return err
	}
	return m.repo.Unseat(ctx, unseat)
}

// ListVoters returns the eligible-voter roster.
func (m *Manager) ListVoters(ctx context.Context) ([]models.Voter, error) {
	return m.repo.ListVoters(ctx)
}

// ReleaseStaleClaims drops open-voting claims held longer than the claim
// timeout and returns how many it released. Such a claim belongs to a call
// that died between reserving the proposal and recording the election; the
// proposal is pending again and voting can be reopened.
func (m *Manager) ReleaseStaleClaims(ctx context.Context) (int, error) {
	trackingNumber := tracking.From(ctx)

	stale, err := m.repo.ListClaimed(ctx, models.ProposalPending, m.now().Add(-m.rules.ClaimTimeout))
	if err != nil {
		return 0, err
	}

	released := 0
	for _, p := range stale {
		ok, err := m.repo.ReleaseClaim(ctx, p.ID, p.ClaimToken)
		if err != nil {
			return released, err
		}
		if ok {
			m.Log.Warnf("%s | Released open-voting claim on %s taken at %s", trackingNumber, p.ID, p.ClaimedAt.Format(time.RFC3339))
			released++
		}
	}
	return released, nil
}

func (m *Manager) release(ctx context.Context, proposalID, token string) {
	if _, err := m.repo.ReleaseClaim(context.WithoutCancel(ctx), proposalID, token); err != nil {
		m.Log.Errorf("%s | Failed to release claim on proposal %s: %v", tracking.From(ctx), proposalID, err)
	}
}

func (m *Manager) publishProposal(ctx context.Context, eventType string, p *models.Proposal, receipt *models.Receipt, cause error) {
	data := models.ProposalEventData{
		Event:      models.Event{TrackingNumber: tracking.From(ctx)},
		ProposalID: p.ID,
		Status:     p.Status,
		Amount:     models.FormatAmount(p.Amount),
		Recipient:  p.Recipient,
	}
	if receipt != nil {
		data.TxID = receipt.TxID
		data.BlockHeight = formatHeight(receipt.BlockHeight)
	}
	if cause != nil {
		data.Error = cause.Error()
	}
	m.events.Publish(ctx, eventType, data)
}

func asProviderError(err error, op string) error {
	if models.KindOf(err) == models.KindProvider {
		return err
	}
	return models.WrapError(models.KindProvider, err, "ledger %s failed", op)
}
