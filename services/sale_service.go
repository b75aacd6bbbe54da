package services

import (
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/sale"
	"github.com/Legion-Team/legion-go/token"
	"github.com/Legion-Team/legion-go/wire"
)

// SaleService exposes one sale engine over HTTP. Every state-changing
// request arrives as a wire.Signed envelope; the recovered signer is the
// caller identity handed to the engine, which enforces roles itself. The
// service owns persistence of the engine's event stream.
type SaleService struct {
	log       *slog.Logger
	sale      *sale.Sale
	store     Store
	capital   token.Token
	saleToken token.Token
	lookup    sale.AddressLookup

	// persistMu orders journal writes; lastPersisted is the highest
	// sequence number already handed to the store.
	persistMu     sync.Mutex
	lastPersisted uint64
}

// NewSaleService wires a sale engine to its HTTP surface and event
// journal. lookup may be nil when no registry is configured; the
// sync-addresses endpoint then rejects requests.
func NewSaleService(log *slog.Logger, s *sale.Sale, store Store, capital, saleToken token.Token, lookup sale.AddressLookup) *SaleService {
	return &SaleService{
		log:       log,
		sale:      s,
		store:     store,
		capital:   capital,
		saleToken: saleToken,
		lookup:    lookup,
	}
}

// RegisterRoutes registers the sale endpoints on the given router.
func (s *SaleService) RegisterRoutes(r chi.Router) {
	r.Get("/config", s.handleGetConfig)
	r.Get("/status", s.handleGetStatus)
	r.Get("/phase", s.handleGetPhase)
	r.Get("/positions/{investor}", s.handleGetPosition)
	r.Get("/events", s.handleGetEvents)
	r.Get("/bids", s.handleGetBids)
	r.Get("/bids/{idx}", s.handleAuditBid)

	r.Post("/invest", handleSigned(s, "invest", s.applyInvest))
	r.Post("/bids", handleSigned(s, "place_bid", s.applyPlaceBid))
	r.Post("/refund", handleSigned(s, "refund", s.applyRefund))
	r.Post("/claim", handleSigned(s, "claim", s.applyClaim))
	r.Post("/claim-excess", handleSigned(s, "claim_excess", s.applyExcess))
	r.Post("/release", handleSigned(s, "release", s.applyRelease))
	r.Post("/transfer", handleSigned(s, "transfer", s.applyTransfer))
	r.Post("/withdraw-canceled", handleSigned(s, "withdraw_canceled", s.applyWithdrawCanceled))

	r.Post("/admin/end", handleSigned(s, "end_sale", s.applyEndSale))
	r.Post("/admin/publish-raised", handleSigned(s, "publish_raised", s.applyPublishRaised))
	r.Post("/admin/publish-results", handleSigned(s, "publish_results", s.applyPublishResults))
	r.Post("/admin/set-accepted", handleSigned(s, "set_accepted", s.applySetAccepted))
	r.Post("/admin/supply-tokens", handleSigned(s, "supply_tokens", s.applySupplyTokens))
	r.Post("/admin/withdraw-raised", handleSigned(s, "withdraw_raised", s.applyWithdrawRaised))
	r.Post("/admin/cancel", handleSigned(s, "cancel_sale", s.applyCancel))
	r.Post("/admin/cancel-expired", handleSigned(s, "cancel_expired", s.applyCancelExpired))
	r.Post("/admin/pause", handleSigned(s, "pause", s.applyPause))
	r.Post("/admin/unpause", handleSigned(s, "unpause", s.applyUnpause))
	r.Post("/admin/emergency-withdraw", handleSigned(s, "emergency_withdraw", s.applyEmergencyWithdraw))
	r.Post("/admin/publish-bid-key", handleSigned(s, "publish_bid_key", s.applyPublishBidKey))
	r.Post("/admin/sync-addresses", handleSigned(s, "sync_addresses", s.applySyncAddresses))
}

// statusForError maps the engine's error taxonomy onto HTTP statuses.
// Unclassified errors are internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, sale.ErrAccess), errors.Is(err, sale.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, sale.ErrPhase):
		return http.StatusConflict
	case errors.Is(err, sale.ErrAmount), errors.Is(err, sale.ErrConfig):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handleSigned decodes a signed envelope, recovers the caller and applies
// the operation. Journal persistence runs after every successful apply.
func handleSigned[T any](s *SaleService, op string, apply func(signer crypto.PublicKey, req *T) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signed, err := wire.Decode[wire.Signed[T]](r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		req, signer, err := signed.Recover()
		if err != nil {
			http.Error(w, fmt.Errorf("invalid request signature: %w", err).Error(), http.StatusForbidden)
			return
		}

		out, err := apply(signer, req)
		if err != nil {
			s.log.Info("operation rejected", "op", op, "signer", signer.String(), "err", err)
			http.Error(w, err.Error(), statusForError(err))
			return
		}

		s.persistEvents()
		s.log.Info("operation applied", "op", op, "signer", signer.String())

		if out == nil {
			out = &OperationResponse{Success: true}
		}
		json.NewEncoder(w).Encode(out)
	}
}

// persistEvents hands any not-yet-stored events to the journal. A store
// failure is logged and retried implicitly on the next mutation; the
// in-memory stream remains the source of truth for reads.
func (s *SaleService) persistEvents() {
	if s.store == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	pending := s.sale.Events(s.lastPersisted)
	if len(pending) == 0 {
		return
	}
	if err := s.store.AppendEvents(pending); err != nil {
		s.log.Error("persisting events failed", "count", len(pending), "err", err)
		return
	}
	s.lastPersisted = pending[len(pending)-1].Seq
}

func (s *SaleService) applyInvest(signer crypto.PublicKey, req *InvestRequest) (any, error) {
	return nil, s.sale.Invest(signer, req.Amount, req.Attestation)
}

func (s *SaleService) applyPlaceBid(signer crypto.PublicKey, req *InvestRequest) (any, error) {
	bid, err := crypto.ParseSealedBid(req.SealedBid)
	if err != nil {
		return nil, fmt.Errorf("%w: sealed bid: %v", sale.ErrAmount, err)
	}
	return nil, s.sale.PlaceSealedBid(signer, req.Amount, bid, req.Attestation)
}

func (s *SaleService) applyRefund(signer crypto.PublicKey, _ *RefundRequest) (any, error) {
	return nil, s.sale.Refund(signer)
}

func (s *SaleService) applyClaim(signer crypto.PublicKey, req *ClaimRequest) (any, error) {
	if req.Attestation != nil {
		return nil, s.sale.ClaimTokenAllocationWithSaft(signer, req.Attestation)
	}
	if req.Proof == nil || req.Amount == nil {
		return nil, fmt.Errorf("%w: claim needs an amount and proof, or an attestation", sale.ErrAuthorization)
	}
	return nil, s.sale.ClaimTokenAllocation(signer, req.Amount, *req.Proof)
}

func (s *SaleService) applyExcess(signer crypto.PublicKey, req *ExcessRequest) (any, error) {
	if req.Attestation != nil {
		return nil, s.sale.WithdrawExcessInvestedCapitalWithSaft(signer, req.Attestation)
	}
	if req.Proof == nil || req.Accepted == nil {
		return nil, fmt.Errorf("%w: excess withdrawal needs an accepted amount and proof, or an attestation", sale.ErrAuthorization)
	}
	return nil, s.sale.WithdrawExcessInvestedCapital(signer, req.Accepted, *req.Proof)
}

func (s *SaleService) applyRelease(signer crypto.PublicKey, _ *ReleaseRequest) (any, error) {
	released, err := s.sale.ReleaseVestedTokens(signer)
	if err != nil {
		return nil, err
	}
	return &ReleaseResponse{Released: released}, nil
}

func (s *SaleService) applyTransfer(signer crypto.PublicKey, req *TransferRequest) (any, error) {
	return nil, s.sale.TransferPosition(signer, req.From, req.To, req.Attestation)
}

func (s *SaleService) applyWithdrawCanceled(signer crypto.PublicKey, _ *RefundRequest) (any, error) {
	return nil, s.sale.WithdrawInvestedCapitalIfCanceled(signer)
}

func (s *SaleService) applyEndSale(signer crypto.PublicKey, _ *EndSaleRequest) (any, error) {
	return nil, s.sale.EndSale(signer)
}

func (s *SaleService) applyPublishRaised(signer crypto.PublicKey, req *PublishRaisedRequest) (any, error) {
	return nil, s.sale.PublishCapitalRaised(signer, req.Raised)
}

func (s *SaleService) applyPublishResults(signer crypto.PublicKey, req *PublishResultsRequest) (any, error) {
	return nil, s.sale.PublishSaleResults(signer, req.ClaimRoot, req.TokensAllocated)
}

func (s *SaleService) applySetAccepted(signer crypto.PublicKey, req *SetAcceptedCapitalRequest) (any, error) {
	return nil, s.sale.SetAcceptedCapital(signer, req.Root)
}

func (s *SaleService) applySupplyTokens(signer crypto.PublicKey, req *SupplyTokensRequest) (any, error) {
	return nil, s.sale.SupplyTokens(signer, s.saleToken, req.Amount)
}

func (s *SaleService) applyWithdrawRaised(signer crypto.PublicKey, _ *WithdrawRaisedRequest) (any, error) {
	return nil, s.sale.WithdrawRaisedCapital(signer)
}

func (s *SaleService) applyCancel(signer crypto.PublicKey, _ *CancelRequest) (any, error) {
	return nil, s.sale.CancelSale(signer)
}

func (s *SaleService) applyCancelExpired(signer crypto.PublicKey, _ *CancelRequest) (any, error) {
	return nil, s.sale.CancelExpiredSale(signer)
}

func (s *SaleService) applyPause(signer crypto.PublicKey, _ *PauseRequest) (any, error) {
	return nil, s.sale.Pause(signer)
}

func (s *SaleService) applyUnpause(signer crypto.PublicKey, _ *PauseRequest) (any, error) {
	return nil, s.sale.Unpause(signer)
}

func (s *SaleService) applyEmergencyWithdraw(signer crypto.PublicKey, req *EmergencyWithdrawRequest) (any, error) {
	var tok token.Token
	switch req.Token {
	case "capital":
		tok = s.capital
	case "sale":
		tok = s.saleToken
	default:
		return nil, fmt.Errorf("%w: unknown token %q", sale.ErrConfig, req.Token)
	}
	return nil, s.sale.EmergencyWithdraw(signer, tok, req.Receiver, req.Amount)
}

func (s *SaleService) applyPublishBidKey(signer crypto.PublicKey, req *PublishBidKeyRequest) (any, error) {
	key, err := ecdh.P256().NewPrivateKey(req.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption key: %v", sale.ErrAuthorization, err)
	}
	return nil, s.sale.PublishBidDecryptionKey(signer, key)
}

func (s *SaleService) applySyncAddresses(signer crypto.PublicKey, _ *SyncAddressesRequest) (any, error) {
	if s.lookup == nil {
		return nil, fmt.Errorf("%w: no address registry configured", sale.ErrConfig)
	}
	return nil, s.sale.SyncLegionAddresses(signer, s.lookup)
}

func (s *SaleService) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.sale.Config()
	json.NewEncoder(w).Encode(&cfg)
}

func (s *SaleService) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.sale.Status()
	json.NewEncoder(w).Encode(&status)
}

func (s *SaleService) handleGetPhase(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"variant": s.sale.Variant(),
		"phase":   string(s.sale.Phase()),
	})
}

func (s *SaleService) handleGetPosition(w http.ResponseWriter, req *http.Request) {
	investor, err := crypto.NewPublicKeyFromString(chi.URLParam(req, "investor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pos, err := s.sale.InvestorPositionDetails(investor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(pos)
}

func (s *SaleService) handleGetEvents(w http.ResponseWriter, req *http.Request) {
	var after uint64
	if raw := req.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		after = parsed
	}
	json.NewEncoder(w).Encode(s.sale.Events(after))
}

func (s *SaleService) handleGetBids(w http.ResponseWriter, _ *http.Request) {
	json.NewEncoder(w).Encode(s.sale.SealedBids())
}

// handleAuditBid opens one sealed bid against the published decryption
// key. Available only after the key reveal.
func (s *SaleService) handleAuditBid(w http.ResponseWriter, req *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(req, "idx"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	quantity, err := s.sale.VerifySealedBid(idx)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	bids := s.sale.SealedBids()
	json.NewEncoder(w).Encode(&BidAuditResponse{
		Investor: bids[idx].Investor,
		Quantity: quantity,
	})
}
