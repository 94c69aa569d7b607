package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/dal/daltest"
	"github.com/midnightos/treasury/ledger"
	"github.com/midnightos/treasury/ledger/ledgertest"
	"github.com/midnightos/treasury/metrics"
	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/tracking"
	"github.com/midnightos/treasury/treasury"
	"github.com/midnightos/treasury/txstore"
	logger "github.com/ndau/go-logger"
)

type fixture struct {
	router  http.Handler
	ledger  *ledgertest.Fake
	manager *treasury.Manager
	clock   *time.Time
	voters  []string
}

func newFixture(t *testing.T, provider ledger.Provider) *fixture {
	t.Helper()

	db := daltest.Open(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}
	clock := func() time.Time { return *f.clock }

	fake, _ := provider.(*ledgertest.Fake)
	f.ledger = fake

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	txs := txstore.New(db, nil, txstore.WithClock(clock))
	f.manager = treasury.NewManager(db, txs, ledger.Guard(provider, time.Second, m.ObserveProviderCall), treasury.Rules{
		VotingPeriod:      72 * time.Hour,
		QuorumPercentage:  0.3,
		ApprovalThreshold: 0.5,
	}, nil, treasury.WithClock(clock), treasury.WithMetrics(m))
	f.voters = daltest.SeatVoters(t, db, 3)

	f.router = NewRouter(NewHandler(f.manager, txs), nil, registry)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (f *fixture) approved(t *testing.T, amount string) string {
	t.Helper()
	rec, body := f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]string{
		"description": "Fund marketing", "amount": amount, "recipient": "addr1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["proposal"].(map[string]interface{})["id"].(string)

	rec, _ = f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{"proposalId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	for _, v := range f.voters[:2] {
		rec, _ = f.do(t, http.MethodPost, "/treasury/vote", map[string]string{"proposalId": id, "voterId": v, "choice": "for"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	*f.clock = f.clock.Add(72 * time.Hour)
	rec, body = f.do(t, http.MethodPost, "/treasury/tally", map[string]string{"proposalId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "approved", body["status"])
	return id
}

func TestCreateProposalEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, body := f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]interface{}{
		"description": "Fund marketing", "amount": "1000", "recipient": "addr1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := body["proposal"].(map[string]interface{})
	assert.Equal(t, "1000", p["amount"])
	assert.Equal(t, "pending", p["status"])
	assert.Nil(t, p["votingEndsAt"])
	assert.Nil(t, p["txHash"])

	rec, body = f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]interface{}{
		"description": "Numeric amount", "amount": 25, "recipient": "addr1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "25", body["proposal"].(map[string]interface{})["amount"])
}

func TestCreateProposalEndpointRejects(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "invalid json", body: "{"},
		{name: "missing amount", body: map[string]string{"description": "x", "recipient": "addr1"}},
		{name: "missing recipient", body: map[string]string{"description": "x", "amount": "1"}},
		{name: "fractional amount", body: map[string]interface{}{"description": "x", "amount": 1.5, "recipient": "addr1"}},
		{name: "zero amount", body: map[string]string{"description": "x", "amount": "0", "recipient": "addr1"}},
		{name: "malformed recipient", body: map[string]string{"description": "x", "amount": "1", "recipient": "not an address"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/treasury/create-proposal", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestListProposalsEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})
	f.approved(t, "10")
	rec, _ := f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]string{
		"description": "Later", "amount": "5", "recipient": "addr2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/treasury/proposals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = f.do(t, http.MethodGet, "/treasury/proposals?status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.do(t, http.MethodGet, "/treasury/proposals?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestGetProposalEndpointNotFound(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, body := f.do(t, http.MethodGet, "/treasury/proposals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "missing")
}

func TestOpenVotingEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, _ := f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{"proposalId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]string{
		"description": "Fund marketing", "amount": "1000", "recipient": "addr1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["proposal"].(map[string]interface{})["id"].(string)

	rec, body = f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{"proposalId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["proposalId"])
	assert.NotEmpty(t, body["transactionId"])
	assert.IsType(t, "", body["blockHeight"])

	rec, _ = f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{"proposalId": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already voting")
}

func TestVoteEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, body := f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]string{
		"description": "Fund marketing", "amount": "1000", "recipient": "addr1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["proposal"].(map[string]interface{})["id"].(string)

	vote := map[string]string{"proposalId": id, "voterId": f.voters[0], "choice": "for"}
	rec, _ = f.do(t, http.MethodPost, "/treasury/vote", vote)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "not open yet")

	rec, _ = f.do(t, http.MethodPost, "/treasury/open-voting", map[string]string{"proposalId": id})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/treasury/vote", vote)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["proposal"].(map[string]interface{})["votesFor"])

	rec, _ = f.do(t, http.MethodPost, "/treasury/vote", vote)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/treasury/vote", map[string]string{"proposalId": id, "voterId": f.voters[1]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayoutEndpoint(t *testing.T) {
	fake := &ledgertest.Fake{}
	f := newFixture(t, fake)

	rec, body := f.do(t, http.MethodPost, "/treasury/payout", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])

	id := f.approved(t, "1000")

	fake.SetBalance(500)
	rec, body = f.do(t, http.MethodPost, "/treasury/payout", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "proposalId="+id, body["details"])

	fake.SetBalance(5000)
	fake.SetTransferErr(errors.New("node unreachable"))
	rec, body = f.do(t, http.MethodPost, "/treasury/payout", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["details"], "node unreachable")

	fake.SetTransferErr(nil)
	rec, body = f.do(t, http.MethodPost, "/treasury/payout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["proposalId"])
	assert.NotEmpty(t, body["transactionId"])
	assert.IsType(t, "", body["blockHeight"])

	rec, body = f.do(t, http.MethodGet, "/treasury/proposals/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := body["proposal"].(map[string]interface{})
	assert.Equal(t, "executed", p["status"])
	assert.NotEmpty(t, p["txHash"])

	rec, body = f.do(t, http.MethodGet, "/treasury/transactions?state=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.do(t, http.MethodGet, "/treasury/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestReleaseClaimEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, body := f.do(t, http.MethodPost, "/treasury/release-claim", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "proposalId is required", body["error"])

	rec, _ = f.do(t, http.MethodPost, "/treasury/release-claim", map[string]string{"proposalId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := f.approved(t, "1000")
	rec, body = f.do(t, http.MethodPost, "/treasury/release-claim", map[string]string{"proposalId": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "holds no payout claim")
}

func TestAnalyticsEndpoint(t *testing.T) {
	fake := &ledgertest.Fake{Bal: 1234}
	f := newFixture(t, fake)
	f.approved(t, "34")
	_, err := f.manager.PayoutApprovedProposal(context.Background())
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/treasury/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := body["analytics"].(map[string]interface{})
	assert.Equal(t, "1200", a["balance"])
	assert.Equal(t, "34", a["totalPaidOut"])
	assert.Equal(t, "1234", a["totalFunded"])
	assert.Equal(t, float64(1), a["executedProposals"])
}

func TestBalanceEndpointUnconfigured(t *testing.T) {
	f := newFixture(t, ledger.Unconfigured{})

	rec, body := f.do(t, http.MethodGet, "/treasury/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", body["balance"])
	assert.Equal(t, false, body["configured"])
	assert.Equal(t, false, body["electionStatus"].(map[string]interface{})["open"])
}

func TestSyncVotersEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	rec, body := f.do(t, http.MethodPost, "/treasury/voters", map[string]interface{}{
		"voters": []map[string]interface{}{{"voterId": "alice", "weight": 2}},
		"unseat": []string{f.voters[0]},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["count"])

	rec, _ = f.do(t, http.MethodPost, "/treasury/voters", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingNumberIsEchoed(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(tracking.Header, "abc-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(tracking.Header))

	rec, _ = f.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get(tracking.Header))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, &ledgertest.Fake{})
	f.do(t, http.MethodPost, "/treasury/create-proposal", map[string]string{
		"description": "Fund marketing", "amount": "1", "recipient": "addr1",
	})

	rec, _ := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "treasury_proposals_created_total 1")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 1, nil)
	h := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/treasury/proposals", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:5001"), "same client, new port")
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:5000"))
}

func TestStatusForCoversEveryKind(t *testing.T) {
	expected := map[models.ErrorKind]int{
		models.KindInternal:            http.StatusInternalServerError,
		models.KindValidation:          http.StatusBadRequest,
		models.KindNotFound:            http.StatusNotFound,
		models.KindInvalidState:        http.StatusBadRequest,
		models.KindDuplicateVote:       http.StatusConflict,
		models.KindConflict:            http.StatusInternalServerError,
		models.KindInsufficientBalance: http.StatusConflict,
		models.KindProvider:            http.StatusInternalServerError,
	}
	for kind, status := range expected {
		assert.Equal(t, status, statusFor(kind), kind.String())
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/treasury/analytics", nil)
	rec := httptest.NewRecorder()

	writeError(rec, req, &logger.NoopLogger{}, errors.New("pq: relation \"proposals\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)
	assert.Empty(t, body.Details)
}
