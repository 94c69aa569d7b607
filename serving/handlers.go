package serving

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
)

// decode reads a JSON body into dst, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body", Details: err.Error()})
		return false
	}
	return true
}

func (h *Handler) createProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Recipient) == "" || len(req.Amount) == 0 {
		writeBadRequest(w, "description, amount and recipient are required")
		return
	}
	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "amount must be a non-negative integer", Details: err.Error()})
		return
	}

	p, err := h.manager.CreateProposal(r.Context(), req.Description, amount, strings.TrimSpace(req.Recipient))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"proposal": toProposalDTO(p)})
}

func (h *Handler) listProposals(w http.ResponseWriter, r *http.Request) {
	status := models.ProposalStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	proposals, err := h.manager.ListProposals(r.Context(), status)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(proposals),
		"proposals": toProposalDTOs(proposals),
	})
}

func (h *Handler) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.GetProposal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposal": toProposalDTO(p)})
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	state, err := h.manager.GetTreasuryAnalytics(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analytics": toAnalyticsDTO(state)})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.GetBalance(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(view))
}

func (h *Handler) openVoting(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		writeBadRequest(w, "proposalId is required")
		return
	}

	receipt, err := h.manager.OpenVoting(r.Context(), req.ProposalID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"proposalId":    req.ProposalID,
		"transactionId": receipt.TxID,
		"blockHeight":   formatHeight(receipt.BlockHeight),
	})
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProposalID) == "" || strings.TrimSpace(req.VoterID) == "" || req.Choice == "" {
		writeBadRequest(w, "proposalId, voterId and choice are required")
		return
	}

	p, err := h.manager.CastVote(r.Context(), req.ProposalID, req.VoterID, req.Choice)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposal": toProposalDTO(p)})
}

func (h *Handler) tally(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		writeBadRequest(w, "proposalId is required")
		return
	}

	status, err := h.manager.TallyAndClose(r.Context(), req.ProposalID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"proposalId": req.ProposalID,
		"status":     status,
	})
}

func (h *Handler) payout(w http.ResponseWriter, r *http.Request) {
	res, err := h.manager.PayoutApprovedProposal(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.Log.Infof("%s | Payout for %s recorded as %s", tracking.From(r.Context()), res.ProposalID, res.TransactionID)
	writeJSON(w, http.StatusOK, map[string]string{
		"proposalId":    res.ProposalID,
		"transactionId": res.Receipt.TxID,
		"recordId":      res.TransactionID,
		"blockHeight":   formatHeight(res.Receipt.BlockHeight),
	})
}

func (h *Handler) releaseClaim(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		writeBadRequest(w, "proposalId is required")
		return
	}

	p, err := h.manager.ReleasePayoutClaim(r.Context(), req.ProposalID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"proposal": toProposalDTO(p)})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	state := models.TxState(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state"))))
	records, err := h.txs.List(r.Context(), state)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(records),
		"transactions": toTransactionDTOs(records),
	})
}

func (h *Handler) syncVoters(w http.ResponseWriter, r *http.Request) {
	var req votersRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Voters) == 0 && len(req.Unseat) == 0 {
		writeBadRequest(w, "voters or unseat is required")
		return
	}

	voters := make([]models.Voter, 0, len(req.Voters))
	for _, v := range req.Voters {
		voters = append(voters, models.Voter{VoterID: v.VoterID, Weight: v.Weight})
	}
	if err := h.manager.SyncVoters(r.Context(), voters, req.Unseat); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	seated, err := h.manager.ListVoters(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(seated)})
}
