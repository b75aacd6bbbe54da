package services

import (
	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/merkle"
	"github.com/Legion-Team/legion-go/sale"
)

// InvestRequest invests capital under a platform attestation. For
// sealed-bid sales SealedBid carries the serialized ciphertext.
type InvestRequest struct {
	Amount      *uint256.Int          `json:"amount"`
	Attestation *sale.SaftAttestation `json:"attestation"`
	SealedBid   []byte                `json:"sealed_bid,omitempty"`
}

// RefundRequest returns the caller's position during the refund window.
// The investor identity comes from the signed envelope.
type RefundRequest struct {
	SaleID string `json:"sale_id"`
}

// ClaimRequest settles the caller's token allocation, either proven
// against the published distribution root or authorized by a claim
// attestation.
type ClaimRequest struct {
	Amount      *uint256.Int          `json:"amount,omitempty"`
	Proof       *merkle.Proof         `json:"proof,omitempty"`
	Attestation *sale.SaftAttestation `json:"attestation,omitempty"`
}

// ExcessRequest withdraws the caller's non-accepted capital, proven
// against the accepted-capital root or authorized by attestation.
type ExcessRequest struct {
	Accepted    *uint256.Int          `json:"accepted,omitempty"`
	Proof       *merkle.Proof         `json:"proof,omitempty"`
	Attestation *sale.SaftAttestation `json:"attestation,omitempty"`
}

// ReleaseRequest releases the caller's currently vested tokens.
type ReleaseRequest struct {
	SaleID string `json:"sale_id"`
}

// TransferRequest moves a position between investors. The signer is
// either the platform bouncer or the source holder carrying a transfer
// attestation.
type TransferRequest struct {
	From        crypto.PublicKey      `json:"from"`
	To          crypto.PublicKey      `json:"to"`
	Attestation *sale.SaftAttestation `json:"attestation,omitempty"`
}

// EndSaleRequest closes the open period early.
type EndSaleRequest struct {
	SaleID string `json:"sale_id"`
}

// PublishRaisedRequest records the total capital raised.
type PublishRaisedRequest struct {
	Raised *uint256.Int `json:"raised"`
}

// PublishResultsRequest records the distribution root and total token
// allocation.
type PublishResultsRequest struct {
	ClaimRoot       crypto.Hash  `json:"claim_root"`
	TokensAllocated *uint256.Int `json:"tokens_allocated"`
}

// SetAcceptedCapitalRequest records the accepted-capital root.
type SetAcceptedCapitalRequest struct {
	Root crypto.Hash `json:"root"`
}

// SupplyTokensRequest pulls the allocation plus token fees from the
// project.
type SupplyTokensRequest struct {
	Amount *uint256.Int `json:"amount"`
}

// WithdrawRaisedRequest pays the published raise out to the project.
type WithdrawRaisedRequest struct {
	SaleID string `json:"sale_id"`
}

// CancelRequest cancels the sale (project) or tips an expired sale over
// (anyone, via the expired variant).
type CancelRequest struct {
	SaleID string `json:"sale_id"`
}

// PauseRequest toggles the circuit breaker.
type PauseRequest struct {
	SaleID string `json:"sale_id"`
}

// EmergencyWithdrawRequest moves custodied funds to a recovery address.
// Token selects the custodied ledger, "capital" or "sale".
type EmergencyWithdrawRequest struct {
	Token    string           `json:"token"`
	Receiver crypto.PublicKey `json:"receiver"`
	Amount   *uint256.Int     `json:"amount"`
}

// PublishBidKeyRequest reveals the auction decryption key.
type PublishBidKeyRequest struct {
	Key []byte `json:"key"`
}

// SyncAddressesRequest refreshes the platform addresses from the
// registry.
type SyncAddressesRequest struct {
	SaleID string `json:"sale_id"`
}

// OperationResponse reports the outcome of a state-changing call.
type OperationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ReleaseResponse reports the amount released to the beneficiary.
type ReleaseResponse struct {
	Released *uint256.Int `json:"released"`
}

// BidAuditResponse carries one opened bid quantity.
type BidAuditResponse struct {
	Investor crypto.PublicKey `json:"investor"`
	Quantity *uint256.Int     `json:"quantity"`
}
