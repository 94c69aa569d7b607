package models

// Event is the envelope metadata shared by every treasury event.
type Event struct {
	// TrackingNumber
	TrackingNumber string `json:"TrackingNumber,omitempty"`
}

// RosterData is the payload of a voter roster sync event.
type RosterData struct {
	// Voters to seat or update
	Voters []Voter `json:"voters"`

	// Unseat lists voter ids to remove from the roster
	Unseat []string `json:"unseat"`
}

// ProposalEventData is published on every proposal transition.
type ProposalEventData struct {
	Event
	ProposalID  string         `json:"proposalId"`
	Status      ProposalStatus `json:"status"`
	Amount      string         `json:"amount"`
	Recipient   string         `json:"recipient"`
	TxID        string         `json:"txId,omitempty"`
	BlockHeight string         `json:"blockHeight,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// TransactionEventData is published when a transaction reaches a final state.
type TransactionEventData struct {
	Event
	TransactionID string  `json:"transactionId"`
	State         TxState `json:"state"`
	TxIdentifier  string  `json:"txIdentifier,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Event types published and consumed by the treasury.
const (
	EventProposalCreated      = "io.midnightos.treasury.proposal.created"
	EventProposalVotingOpened = "io.midnightos.treasury.proposal.voting_opened"
	EventProposalClosed       = "io.midnightos.treasury.proposal.closed"
	EventProposalExecuted     = "io.midnightos.treasury.proposal.executed"
	EventPayoutFailed         = "io.midnightos.treasury.payout.failed"
	EventTransactionCompleted = "io.midnightos.treasury.transaction.completed"
	EventTransactionFailed    = "io.midnightos.treasury.transaction.failed"

	EventSweepTally     = "io.midnightos.treasury.sweep.tally"
	EventSweepReconcile = "io.midnightos.treasury.sweep.reconcile"
	EventSweepPayout    = "io.midnightos.treasury.sweep.payout"
	EventVotersSync     = "io.midnightos.treasury.voters.sync"
)
