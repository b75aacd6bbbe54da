package sale

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
)

// Phase is the externally observable position in the sale lifecycle.
// It is derived from recorded boundaries and flags on every read; no
// scheduler advances it.
type Phase string

const (
	PhaseOpen             Phase = "open"
	PhaseRefundWindow     Phase = "refund_window"
	PhaseAwaitingResults  Phase = "awaiting_results"
	PhaseResultsPublished Phase = "results_published"
	PhaseSettled          Phase = "settled"
	PhaseCanceled         Phase = "canceled"
	PhaseExpiredCanceled  Phase = "expired_canceled"
)

// Status is the mutable aggregate state of a sale instance. It advances
// monotonically; Canceled and fully-settled are absorbing.
type Status struct {
	TotalCapitalInvested  *uint256.Int `json:"total_capital_invested"`
	TotalTokensAllocated  *uint256.Int `json:"total_tokens_allocated"`
	TotalCapitalRaised    *uint256.Int `json:"total_capital_raised"`
	TotalCapitalWithdrawn *uint256.Int `json:"total_capital_withdrawn"`

	Canceled         bool `json:"canceled"`
	ExpiredCanceled  bool `json:"expired_canceled"`
	TokensSupplied   bool `json:"tokens_supplied"`
	CapitalWithdrawn bool `json:"capital_withdrawn"`
	ResultsPublished bool `json:"results_published"`
	RaisedPublished  bool `json:"raised_published"`
	Ended            bool `json:"ended"`

	ClaimRoot           crypto.Hash `json:"claim_root"`
	AcceptedCapitalRoot crypto.Hash `json:"accepted_capital_root"`
	HasAcceptedRoot     bool        `json:"has_accepted_root"`

	EndTime       time.Time `json:"end_time"`
	RefundEndTime time.Time `json:"refund_end_time"`
	LockupEndTime time.Time `json:"lockup_end_time"`
}

func newStatus(now time.Time, cfg *Config) Status {
	end := now.Add(cfg.OpenPeriod)
	refundEnd := end.Add(cfg.RefundPeriod)
	return Status{
		TotalCapitalInvested:  uint256.NewInt(0),
		TotalTokensAllocated:  uint256.NewInt(0),
		TotalCapitalRaised:    uint256.NewInt(0),
		TotalCapitalWithdrawn: uint256.NewInt(0),
		EndTime:               end,
		RefundEndTime:         refundEnd,
		LockupEndTime:         refundEnd.Add(cfg.LockupPeriod),
	}
}

// clone returns a deep copy for external readers.
func (s Status) clone() Status {
	out := s
	out.TotalCapitalInvested = s.TotalCapitalInvested.Clone()
	out.TotalTokensAllocated = s.TotalTokensAllocated.Clone()
	out.TotalCapitalRaised = s.TotalCapitalRaised.Clone()
	out.TotalCapitalWithdrawn = s.TotalCapitalWithdrawn.Clone()
	return out
}

// endedAt reports whether the sale has ended at the given instant, either
// by boundary or by an explicit endSale.
func (s *Status) endedAt(now time.Time) bool {
	return s.Ended || !now.Before(s.EndTime)
}

// refundWindowClosedAt reports whether the refund window is over.
func (s *Status) refundWindowClosedAt(now time.Time) bool {
	return !now.Before(s.RefundEndTime)
}

// phaseAt derives the lifecycle phase at the given instant.
func (s *Status) phaseAt(now time.Time) Phase {
	switch {
	case s.ExpiredCanceled:
		return PhaseExpiredCanceled
	case s.Canceled:
		return PhaseCanceled
	case !s.endedAt(now):
		return PhaseOpen
	case !s.refundWindowClosedAt(now):
		return PhaseRefundWindow
	case !s.ResultsPublished:
		return PhaseAwaitingResults
	case !s.TokensSupplied:
		return PhaseResultsPublished
	default:
		return PhaseSettled
	}
}
