package serving

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/midnightos/treasury/models"
)

// Amounts and block heights cross the wire as decimal strings.

type createProposalRequest struct {
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Recipient   string          `json:"recipient"`
}

type proposalIDRequest struct {
	ProposalID string `json:"proposalId"`
}

type voteRequest struct {
	ProposalID string            `json:"proposalId"`
	VoterID    string            `json:"voterId"`
	Choice     models.VoteChoice `json:"choice"`
}

type votersRequest struct {
	Voters []struct {
		VoterID string  `json:"voterId"`
		Weight  float64 `json:"weight"`
	} `json:"voters"`
	Unseat []string `json:"unseat"`
}

type proposalDTO struct {
	ID                string                `json:"id"`
	Description       string                `json:"description"`
	Amount            string                `json:"amount"`
	Recipient         string                `json:"recipient"`
	Status            models.ProposalStatus `json:"status"`
	VotesFor          int64                 `json:"votesFor"`
	VotesAgainst      int64                 `json:"votesAgainst"`
	EligibleVoters    int64                 `json:"eligibleVoters"`
	CreatedAt         time.Time             `json:"createdAt"`
	VotingEndsAt      *time.Time            `json:"votingEndsAt"`
	ClosedAt          *time.Time            `json:"closedAt,omitempty"`
	ExecutedAt        *time.Time            `json:"executedAt"`
	VotingTxID        string                `json:"votingTxId,omitempty"`
	TxHash            *string               `json:"txHash"`
	PayoutBlockHeight string                `json:"payoutBlockHeight,omitempty"`
	TransactionID     string                `json:"transactionId,omitempty"`
}

func toProposalDTO(p *models.Proposal) proposalDTO {
	dto := proposalDTO{
		ID:             p.ID,
		Description:    p.Description,
		Amount:         models.FormatAmount(p.Amount),
		Recipient:      p.Recipient,
		Status:         p.Status,
		VotesFor:       p.VotesFor,
		VotesAgainst:   p.VotesAgainst,
		EligibleVoters: p.EligibleVoters,
		CreatedAt:      p.CreatedAt,
		VotingEndsAt:   p.VotingEndsAt,
		ClosedAt:       p.ClosedAt,
		ExecutedAt:     p.ExecutedAt,
		VotingTxID:     p.VotingTxID,
		TransactionID:  p.PayoutTransactionID,
	}
	if p.TxHash != "" {
		hash := p.TxHash
		dto.TxHash = &hash
		dto.PayoutBlockHeight = formatHeight(p.PayoutBlockHeight)
	}
	return dto
}

func toProposalDTOs(proposals []models.Proposal) []proposalDTO {
	out := make([]proposalDTO, 0, len(proposals))
	for i := range proposals {
		out = append(out, toProposalDTO(&proposals[i]))
	}
	return out
}

type transactionDTO struct {
	ID           string         `json:"id"`
	State        models.TxState `json:"state"`
	FromAddress  string         `json:"fromAddress"`
	ToAddress    string         `json:"toAddress"`
	Amount       string         `json:"amount"`
	TxIdentifier *string        `json:"txIdentifier"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func toTransactionDTOs(records []models.TransactionRecord) []transactionDTO {
	out := make([]transactionDTO, 0, len(records))
	for _, t := range records {
		out = append(out, transactionDTO{
			ID:           t.ID,
			State:        t.State,
			FromAddress:  t.FromAddress,
			ToAddress:    t.ToAddress,
			Amount:       models.FormatAmount(t.Amount),
			TxIdentifier: t.TxIdentifier,
			ErrorMessage: t.ErrorMessage,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	return out
}

type analyticsDTO struct {
	Balance             string `json:"balance"`
	TotalFunded         string `json:"totalFunded"`
	TotalPaidOut        string `json:"totalPaidOut"`
	PendingProposals    int64  `json:"pendingProposals"`
	VotingProposals     int64  `json:"votingProposals"`
	ApprovedProposals   int64  `json:"approvedProposals"`
	RejectedProposals   int64  `json:"rejectedProposals"`
	ExecutedProposals   int64  `json:"executedProposals"`
	FailedProposals     int64  `json:"failedProposals"`
	PendingTransactions int64  `json:"pendingTransactions"`
	OpenElectionID      string `json:"openElectionId,omitempty"`
	Configured          bool   `json:"configured"`
}

func toAnalyticsDTO(s *models.TreasuryState) analyticsDTO {
	return analyticsDTO{
		Balance:             models.FormatAmount(s.Balance),
		TotalFunded:         models.FormatAmount(s.TotalFunded),
		TotalPaidOut:        models.FormatAmount(s.TotalPaidOut),
		PendingProposals:    s.PendingProposals,
		VotingProposals:     s.VotingProposals,
		ApprovedProposals:   s.ApprovedProposals,
		RejectedProposals:   s.RejectedProposals,
		ExecutedProposals:   s.ExecutedProposals,
		FailedProposals:     s.FailedProposals,
		PendingTransactions: s.PendingTransactions,
		OpenElectionID:      s.OpenElectionID,
		Configured:          s.Configured,
	}
}

type electionStatusDTO struct {
	Open         bool       `json:"open"`
	ElectionID   string     `json:"electionId,omitempty"`
	VotingEndsAt *time.Time `json:"votingEndsAt,omitempty"`
	VotesFor     int64      `json:"votesFor"`
	VotesAgainst int64      `json:"votesAgainst"`
}

type balanceDTO struct {
	Balance        string            `json:"balance"`
	Configured     bool              `json:"configured"`
	ElectionStatus electionStatusDTO `json:"electionStatus"`
}

func toBalanceDTO(v *models.BalanceView) balanceDTO {
	return balanceDTO{
		Balance:    models.FormatAmount(v.Balance),
		Configured: v.Configured,
		ElectionStatus: electionStatusDTO{
			Open:         v.ElectionStatus.Open,
			ElectionID:   v.ElectionStatus.ElectionID,
			VotingEndsAt: v.ElectionStatus.VotingEndsAt,
			VotesFor:     v.ElectionStatus.VotesFor,
			VotesAgainst: v.ElectionStatus.VotesAgainst,
		},
	}
}

func formatHeight(h uint64) string {
	return strconv.FormatUint(h, 10)
}
