package models

import (
	"time"
)

// TreasuryState is the aggregate view over proposals and transactions.
type TreasuryState struct {
	Balance             int64
	TotalFunded         int64
	TotalPaidOut        int64
	PendingProposals    int64
	VotingProposals     int64
	ApprovedProposals   int64
	RejectedProposals   int64
	ExecutedProposals   int64
	FailedProposals     int64
	PendingTransactions int64
	OpenElectionID      string
	Configured          bool
}

// ElectionStatus describes the most recently opened vote still in progress.
type ElectionStatus struct {
	Open         bool
	ElectionID   string
	VotingEndsAt *time.Time
	VotesFor     int64
	VotesAgainst int64
}

// BalanceView backs the balance endpoint.
type BalanceView struct {
	Balance        int64
	Configured     bool
	ElectionStatus ElectionStatus
}

// Receipt is what the ledger provider returns for an accepted on-chain action.
type Receipt struct {
	TxID        string
	BlockHeight uint64
}

// ChainTxStatus is the provider's view of a submitted transaction.
type ChainTxStatus string

const (
	ChainTxPending   ChainTxStatus = "pending"
	ChainTxConfirmed ChainTxStatus = "confirmed"
	ChainTxRejected  ChainTxStatus = "rejected"
	ChainTxUnknown   ChainTxStatus = "unknown"
)
