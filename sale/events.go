package sale

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the state change an event records.
type EventType string

const (
	EventCapitalInvested        EventType = "capital_invested"
	EventCapitalRefunded        EventType = "capital_refunded"
	EventSaleEnded              EventType = "sale_ended"
	EventCapitalRaisedPublished EventType = "capital_raised_published"
	EventRaisedCapitalWithdrawn EventType = "raised_capital_withdrawn"
	EventSaleResultsPublished   EventType = "sale_results_published"
	EventAcceptedCapitalSet     EventType = "accepted_capital_set"
	EventTokensSupplied         EventType = "tokens_supplied"
	EventAllocationClaimed      EventType = "allocation_claimed"
	EventExcessWithdrawn        EventType = "excess_withdrawn"
	EventSaleCanceled           EventType = "sale_canceled"
	EventExpiredSaleCanceled    EventType = "expired_sale_canceled"
	EventCanceledCapitalClaimed EventType = "canceled_capital_claimed"
	EventEmergencyWithdrawal    EventType = "emergency_withdrawal"
	EventPositionTransferred    EventType = "position_transferred"
	EventSealedBidPlaced        EventType = "sealed_bid_placed"
	EventBidKeyPublished        EventType = "bid_decryption_key_published"
	EventVestedTokensReleased   EventType = "vested_tokens_released"
	EventSalePaused             EventType = "sale_paused"
	EventSaleUnpaused           EventType = "sale_unpaused"
	EventAddressesSynced        EventType = "addresses_synced"
)

// Event is one immutable entry in the sale's ordered notification stream.
// The off-chain indexer consumes this stream to compute allocation and
// accepted-capital sets that later re-enter the engine as attestations
// and distribution roots.
type Event struct {
	ID     string            `json:"id"`
	Seq    uint64            `json:"seq"`
	SaleID string            `json:"sale_id"`
	Type   EventType         `json:"type"`
	Time   time.Time         `json:"time"`
	Fields map[string]string `json:"fields,omitempty"`
}

// emit appends an event to the log. Caller holds the engine lock; emit is
// called only after all guards and effects of an operation succeed.
func (s *Sale) emit(now time.Time, typ EventType, fields map[string]string) {
	s.seq++
	s.events = append(s.events, Event{
		ID:     uuid.NewString(),
		Seq:    s.seq,
		SaleID: s.cfg.SaleID,
		Type:   typ,
		Time:   now,
		Fields: fields,
	})
}

// Events returns the ordered notification stream after the given
// sequence number. Pass zero for the full history.
func (s *Sale) Events(afterSeq uint64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out
}
