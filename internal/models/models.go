package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentRejected  IntentStatus = "rejected"
	IntentExpired   IntentStatus = "expired"
)

// PaymentIntent is an internally created purchase awaiting confirmation by an
// externally observed ledger operation. Label carries the correlation token
// through the payment provider.
type PaymentIntent struct {
	IntentID        string
	UserID          int64
	PackageKey      string
	RequestedAmount decimal.Decimal
	CreditedUnits   int64
	Label           string
	Status          IntentStatus
	OperationID     *string
	AmountReceived  *decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LedgerOperation is the read-only view of one provider transaction.
// Datetime is zero when the provider omitted or mangled the timestamp; such
// operations are kept rather than dropped so a payment is never lost to a
// formatting bug on the provider side.
type LedgerOperation struct {
	OperationID string
	Direction   string
	Status      string
	Type        string
	Amount      decimal.Decimal
	Datetime    time.Time
	Label       string
	Sender      string
}

const (
	DirectionIn      = "in"
	StatusSuccess    = "success"
	TypeDeposition   = "deposition"
	TypeIncomingXfer = "incoming-transfer"
)

// Incoming reports whether the operation is a settled inbound payment, the
// only kind reconciliation ever considers.
func (o LedgerOperation) Incoming() bool {
	if o.Direction != DirectionIn || o.Status != StatusSuccess {
		return false
	}
	return o.Type == TypeDeposition || o.Type == TypeIncomingXfer
}

type MatchConfidence string

const (
	ConfidenceExactToken     MatchConfidence = "exact_token"
	ConfidenceAmountFallback MatchConfidence = "amount_fallback"
)

// MatchDecision pairs one pending intent with one ledger operation.
// ResolvedLabel is set when the label had to be recovered through a
// per-operation detail lookup instead of the history row itself.
type MatchDecision struct {
	IntentID      string
	OperationID   string
	Confidence    MatchConfidence
	Amount        decimal.Decimal
	ResolvedLabel string
}

type ConfirmOutcome string

const (
	ConfirmApplied            ConfirmOutcome = "confirmed"
	ConfirmAlreadyConfirmed   ConfirmOutcome = "already_confirmed"
	ConfirmDuplicateOperation ConfirmOutcome = "duplicate_operation"
	ConfirmNotFound           ConfirmOutcome = "not_found"
	ConfirmNotPending         ConfirmOutcome = "not_pending"
	ConfirmDryRun             ConfirmOutcome = "dry_run"
)
