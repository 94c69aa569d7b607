package models

import (
	"time"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalVoting   ProposalStatus = "voting"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExecuted ProposalStatus = "executed"
	ProposalFailed   ProposalStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalPending, ProposalVoting, ProposalApproved, ProposalRejected, ProposalExecuted, ProposalFailed:
		return true
	}
	return false
}

// Closed reports whether voting on a proposal in this status has concluded.
func (s ProposalStatus) Closed() bool {
	switch s {
	case ProposalApproved, ProposalRejected, ProposalExecuted, ProposalFailed:
		return true
	}
	return false
}

// Proposal -
type Proposal struct {
	ID                  string         `gorm:"primaryKey;size:36"`
	Description         string         `gorm:"not null"`
	Amount              int64          `gorm:"not null"`
	Recipient           string         `gorm:"size:256;not null"`
	Status              ProposalStatus `gorm:"size:16;index;not null"`
	VotesFor            int64          `gorm:"not null;default:0"`
	VotesAgainst        int64          `gorm:"not null;default:0"`
	EligibleVoters      int64          `gorm:"not null;default:0"`
	CreatedAt           time.Time      `gorm:"index;not null"`
	VotingEndsAt        *time.Time     `gorm:"index"`
	ClosedAt            *time.Time
	ExecutedAt          *time.Time
	VotingTxID          string `gorm:"size:256"`
	VotingBlockHeight   uint64
	TxHash              string `gorm:"size:256"`
	PayoutBlockHeight   uint64
	PayoutTransactionID string     `gorm:"size:36"`
	ClaimToken          string     `gorm:"size:36;index"`
	ClaimedAt           *time.Time
}

// TableName - Return table name
func (t Proposal) TableName() string {
	return "proposals"
}

// TotalVotes is the number of ballots cast.
func (t Proposal) TotalVotes() int64 {
	return t.VotesFor + t.VotesAgainst
}

// VoteChoice is a ballot value.
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
)

// Valid reports whether c is a known choice.
func (c VoteChoice) Valid() bool {
	return c == VoteFor || c == VoteAgainst
}

// Vote is one voter's ballot on one proposal.
type Vote struct {
	ID         uint       `gorm:"primaryKey"`
	ProposalID string     `gorm:"size:36;not null;uniqueIndex:idx_vote_unique,priority:1"`
	VoterID    string     `gorm:"size:256;not null;uniqueIndex:idx_vote_unique,priority:2"`
	Choice     VoteChoice `gorm:"size:8;not null"`
	CreatedAt  time.Time  `gorm:"not null"`
}

// TableName - Return table name
func (t Vote) TableName() string {
	return "votes"
}
