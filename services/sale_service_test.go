package services

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/sale"
	"github.com/Legion-Team/legion-go/testutil"
	"github.com/Legion-Team/legion-go/token"
	"github.com/Legion-Team/legion-go/vesting"
	"github.com/Legion-Team/legion-go/wire"
)

type serviceHarness struct {
	t       *testing.T
	parties *testutil.TestParties
	cfg     sale.Config
	clock   *testutil.ManualClock

	capital *token.Ledger
	saleTok *token.Ledger
	engine  *sale.Sale
	store   *InMemoryStore
	srv     *httptest.Server

	investor    crypto.PublicKey
	investorKey crypto.PrivateKey
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	parties := testutil.GenerateTestParties()
	cfg := testutil.NewTestConfig(parties)
	clock := testutil.NewManualClock(time.Now())

	investor, investorKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	self, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	capital := testutil.NewFundedLedger("USDC", 1_000_000, investor, parties.ProjectAdmin)
	saleTok := testutil.NewFundedLedger("PRJ", 10_000_000, parties.ProjectAdmin)

	engine, err := sale.New(cfg, sale.FixedPrice{}, sale.Deps{
		Clock:          clock,
		Capital:        capital,
		VestingFactory: &vesting.LocalFactory{Token: saleTok},
		Self:           self,
	})
	require.NoError(t, err)

	store := NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSaleService(log, engine, store, capital, saleTok, nil)

	router := chi.NewRouter()
	svc.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &serviceHarness{
		t:           t,
		parties:     parties,
		cfg:         cfg,
		clock:       clock,
		capital:     capital,
		saleTok:     saleTok,
		engine:      engine,
		store:       store,
		srv:         srv,
		investor:    investor,
		investorKey: investorKey,
	}
}

func postSigned[T any](t *testing.T, url string, key crypto.PrivateKey, req *T) *http.Response {
	t.Helper()

	signed, err := wire.NewSigned(key, req)
	require.NoError(t, err)
	body, err := json.Marshal(signed)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *serviceHarness) invest(amount uint64) *http.Response {
	att := testutil.SignTestAttestation(h.parties.PlatformSignerKey, h.cfg, h.investor, sale.ActionInvest)
	return postSigned(h.t, h.srv.URL+"/invest", h.investorKey, &InvestRequest{
		Amount:      uint256.NewInt(amount),
		Attestation: att,
	})
}

func TestInvestOverHTTP(t *testing.T) {
	h := newServiceHarness(t)

	resp := h.invest(10_000)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OperationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)

	posResp, err := http.Get(h.srv.URL + "/positions/" + h.investor.String())
	require.NoError(t, err)
	defer posResp.Body.Close()
	require.Equal(t, http.StatusOK, posResp.StatusCode)

	var pos sale.Position
	require.NoError(t, json.NewDecoder(posResp.Body).Decode(&pos))
	assert.True(t, pos.InvestedCapital.Eq(uint256.NewInt(10_000)))
}

func TestRejectsTamperedEnvelope(t *testing.T) {
	h := newServiceHarness(t)

	att := testutil.SignTestAttestation(h.parties.PlatformSignerKey, h.cfg, h.investor, sale.ActionInvest)
	req := &InvestRequest{Amount: uint256.NewInt(10_000), Attestation: att}
	signed, err := wire.NewSigned(h.investorKey, req)
	require.NoError(t, err)

	signed.Object.Amount = uint256.NewInt(500_000)
	body, err := json.Marshal(signed)
	require.NoError(t, err)

	resp, err := http.Post(h.srv.URL+"/invest", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.True(t, h.engine.SumPositions().IsZero())
}

func TestErrorStatusMapping(t *testing.T) {
	h := newServiceHarness(t)

	// Attestation from an unknown signer.
	_, rogueKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	rogueAtt := testutil.SignTestAttestation(rogueKey, h.cfg, h.investor, sale.ActionInvest)
	resp := postSigned(t, h.srv.URL+"/invest", h.investorKey, &InvestRequest{
		Amount:      uint256.NewInt(10_000),
		Attestation: rogueAtt,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Amount violating the investment unit.
	att := testutil.SignTestAttestation(h.parties.PlatformSignerKey, h.cfg, h.investor, sale.ActionInvest)
	resp = postSigned(t, h.srv.URL+"/invest", h.investorKey, &InvestRequest{
		Amount:      uint256.NewInt(10_050),
		Attestation: att,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Settlement operation before the sale ended.
	resp = postSigned(t, h.srv.URL+"/admin/publish-raised", h.parties.PlatformBouncerKey, &PublishRaisedRequest{
		Raised: uint256.NewInt(10_000),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Privileged operation from a stranger.
	resp = postSigned(t, h.srv.URL+"/admin/end", h.investorKey, &EndSaleRequest{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	h := newServiceHarness(t)

	resp := h.invest(10_000)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Past the open period and refund window.
	h.clock.Advance(h.cfg.OpenPeriod + h.cfg.RefundPeriod + time.Minute)

	resp = postSigned(t, h.srv.URL+"/admin/publish-raised", h.parties.PlatformBouncerKey, &PublishRaisedRequest{
		Raised: uint256.NewInt(10_000),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Rate 5000 bps converts 10k capital into 5k tokens.
	root, proofs := testutil.BuildTestDistribution([]testutil.Allocation{
		{Investor: h.investor, Amount: uint256.NewInt(5_000)},
	})
	resp = postSigned(t, h.srv.URL+"/admin/publish-results", h.parties.PlatformBouncerKey, &PublishResultsRequest{
		ClaimRoot:       root,
		TokensAllocated: uint256.NewInt(5_000),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Allocation plus 2.5% + 1% token fees.
	resp = postSigned(t, h.srv.URL+"/admin/supply-tokens", h.parties.ProjectAdminKey, &SupplyTokensRequest{
		Amount: uint256.NewInt(5_000 + 125 + 50),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postSigned(t, h.srv.URL+"/admin/withdraw-raised", h.parties.ProjectAdminKey, &WithdrawRaisedRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.capital.BalanceOf(h.parties.PlatformFeeReceiver).Eq(uint256.NewInt(250)))
	assert.True(t, h.capital.BalanceOf(h.parties.ReferrerFeeReceiver).Eq(uint256.NewInt(100)))

	// Past the lockup, the investor claims with their proof.
	h.clock.Advance(h.cfg.LockupPeriod)
	proof := proofs[h.investor.String()]
	resp = postSigned(t, h.srv.URL+"/claim", h.investorKey, &ClaimRequest{
		Amount: uint256.NewInt(5_000),
		Proof:  &proof,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Full vesting duration releases the whole allocation.
	h.clock.Advance(h.cfg.Vesting.Duration)
	resp = postSigned(t, h.srv.URL+"/release", h.investorKey, &ReleaseRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var released ReleaseResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&released))
	assert.True(t, released.Released.Eq(uint256.NewInt(5_000)))
	assert.True(t, h.saleTok.BalanceOf(h.investor).Eq(uint256.NewInt(5_000)))
}

func TestEventsEndpointAndJournal(t *testing.T) {
	h := newServiceHarness(t)

	require.Equal(t, http.StatusOK, h.invest(10_000).StatusCode)

	resp := postSigned(t, h.srv.URL+"/admin/pause", h.parties.PlatformBouncerKey, &PauseRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evResp, err := http.Get(h.srv.URL + "/events")
	require.NoError(t, err)
	defer evResp.Body.Close()

	var events []sale.Event
	require.NoError(t, json.NewDecoder(evResp.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, sale.EventCapitalInvested, events[0].Type)
	assert.Equal(t, sale.EventSalePaused, events[1].Type)

	// The after cursor skips already-seen events.
	evResp, err = http.Get(h.srv.URL + "/events?after=1")
	require.NoError(t, err)
	defer evResp.Body.Close()
	var tail []sale.Event
	require.NoError(t, json.NewDecoder(evResp.Body).Decode(&tail))
	require.Len(t, tail, 1)
	assert.Equal(t, sale.EventSalePaused, tail[0].Type)

	// Both operations landed in the journal.
	stored, err := h.store.LoadEvents(h.cfg.SaleID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, events[0].ID, stored[0].ID)
}

func TestPhaseAndStatusEndpoints(t *testing.T) {
	h := newServiceHarness(t)

	resp, err := http.Get(h.srv.URL + "/phase")
	require.NoError(t, err)
	defer resp.Body.Close()

	var phase map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&phase))
	assert.Equal(t, "fixed_price", phase["variant"])

	statusResp, err := http.Get(h.srv.URL + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()

	var status sale.Status
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.False(t, status.Ended)
	assert.True(t, status.TotalCapitalInvested.IsZero())
}

func TestEmergencyWithdrawTokenSelection(t *testing.T) {
	h := newServiceHarness(t)

	require.Equal(t, http.StatusOK, h.invest(10_000).StatusCode)

	recovery, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	resp := postSigned(t, h.srv.URL+"/admin/emergency-withdraw", h.parties.PlatformBouncerKey, &EmergencyWithdrawRequest{
		Token:    "gold",
		Receiver: recovery,
		Amount:   uint256.NewInt(10_000),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postSigned(t, h.srv.URL+"/admin/emergency-withdraw", h.parties.PlatformBouncerKey, &EmergencyWithdrawRequest{
		Token:    "capital",
		Receiver: recovery,
		Amount:   uint256.NewInt(10_000),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.capital.BalanceOf(recovery).Eq(uint256.NewInt(10_000)))
}
