package matcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/ledger"
	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/token"
)

// Matcher pairs pending payment intents with observed ledger operations.
// It prefers leaving an intent pending over guessing: a wrong match credits
// the wrong account, a missed one is caught by the next sweep.
type Matcher struct {
	codec     token.Codec
	tolerance decimal.Decimal
	cardFee   decimal.Decimal
	walletFee decimal.Decimal
	grace     time.Duration
}

// Diagnostic explains why an intent was left pending or skipped this sweep.
type Diagnostic struct {
	IntentID string
	Reason   string
}

func New(codec token.Codec, tolerance, cardFeeRate, walletFeeRate float64, grace time.Duration) *Matcher {
	return &Matcher{
		codec:     codec,
		tolerance: decimal.NewFromFloat(tolerance),
		cardFee:   decimal.NewFromFloat(cardFeeRate),
		walletFee: decimal.NewFromFloat(walletFeeRate),
		grace:     grace,
	}
}

// Match runs the exact-token pass and then the amount-fallback pass over the
// given snapshot. Each operation is claimed by at most one intent and each
// intent by at most one operation. The resolver is consulted only in the
// fallback pass, for operations whose history row carried no label.
func (m *Matcher) Match(ctx context.Context, intents []models.PaymentIntent, ops []models.LedgerOperation, resolver ledger.LabelResolver) ([]models.MatchDecision, []Diagnostic) {
	var decisions []models.MatchDecision
	var diags []Diagnostic

	claimedOps := make(map[string]bool)
	matchedIntents := make(map[string]bool)

	// Pass 1: labels straight off the history rows. A full label identifies
	// its intent outright; a truncated echo settles only when exactly one
	// pending intent could own it, otherwise every contender stays pending.
	for _, op := range ops {
		if op.Label == "" || claimedOps[op.OperationID] {
			continue
		}
		exact := -1
		var hits []int
		for i := range intents {
			intent := intents[i]
			if matchedIntents[intent.IntentID] || !m.inWindow(intent, op) {
				continue
			}
			if !m.codec.Matches(op.Label, intent.Label) {
				continue
			}
			hits = append(hits, i)
			if op.Label == intent.Label {
				exact = i
			}
		}

		pick := -1
		switch {
		case exact >= 0:
			pick = exact
		case len(hits) == 1:
			pick = hits[0]
		case len(hits) > 1:
			for _, i := range hits {
				diags = append(diags, Diagnostic{
					IntentID: intents[i].IntentID,
					Reason:   fmt.Sprintf("truncated label on operation %s could belong to several pending intents", op.OperationID),
				})
			}
			continue
		default:
			continue
		}

		intent := intents[pick]
		decisions = append(decisions, models.MatchDecision{
			IntentID:      intent.IntentID,
			OperationID:   op.OperationID,
			Confidence:    models.ConfidenceExactToken,
			Amount:        op.Amount,
			ResolvedLabel: op.Label,
		})
		claimedOps[op.OperationID] = true
		matchedIntents[intent.IntentID] = true
	}

	// Pass 2: amount-based inference over everything the exact pass left
	// unconsumed. Labeled operations stay in the candidate set so they still
	// count toward ambiguity, even though a label the exact pass could not
	// attribute never settles a match here.
	for _, intent := range intents {
		if matchedIntents[intent.IntentID] {
			continue
		}
		var candidates []models.LedgerOperation
		for _, op := range ops {
			if claimedOps[op.OperationID] {
				continue
			}
			if !m.inWindow(intent, op) {
				continue
			}
			if m.amountMatches(intent.RequestedAmount, op.Amount) {
				candidates = append(candidates, op)
			}
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
			// fine
		default:
			diags = append(diags, Diagnostic{
				IntentID: intent.IntentID,
				Reason:   fmt.Sprintf("%d operations match amount %s, refusing to guess", len(candidates), intent.RequestedAmount),
			})
			continue
		}

		op := candidates[0]
		contested := m.contenders(intents, matchedIntents, op) > 1
		decision, diag := m.confirmCandidate(ctx, intent, op, resolver, contested)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		decisions = append(decisions, decision)
		claimedOps[op.OperationID] = true
		matchedIntents[intent.IntentID] = true
	}

	return decisions, diags
}

// confirmCandidate checks a sole amount candidate against the detail record.
// A detail label that agrees upgrades the match to exact confidence; one that
// disagrees vetoes it outright. A contested operation, one that several
// pending intents could claim by amount, settles only on label evidence.
func (m *Matcher) confirmCandidate(ctx context.Context, intent models.PaymentIntent, op models.LedgerOperation, resolver ledger.LabelResolver, contested bool) (models.MatchDecision, *Diagnostic) {
	decision := models.MatchDecision{
		IntentID:    intent.IntentID,
		OperationID: op.OperationID,
		Confidence:  models.ConfidenceAmountFallback,
		Amount:      op.Amount,
	}
	ambiguous := &Diagnostic{
		IntentID: intent.IntentID,
		Reason:   fmt.Sprintf("operation %s also matches other pending intents by amount", op.OperationID),
	}
	if op.Label != "" {
		// The label was already adjudicated by the exact pass; one that
		// could not settle there cannot settle an amount match either.
		return models.MatchDecision{}, &Diagnostic{
			IntentID: intent.IntentID,
			Reason:   fmt.Sprintf("operation %s carries a label that could not be attributed", op.OperationID),
		}
	}
	if resolver == nil {
		if contested {
			return models.MatchDecision{}, ambiguous
		}
		return decision, nil
	}

	label, err := resolver.ResolveLabel(ctx, op.OperationID)
	switch {
	case errors.Is(err, ledger.ErrBudgetExhausted):
		if contested {
			return models.MatchDecision{}, ambiguous
		}
		// Out of lookups; the amount evidence alone still stands.
		return decision, nil
	case err != nil:
		return models.MatchDecision{}, &Diagnostic{
			IntentID: intent.IntentID,
			Reason:   fmt.Sprintf("detail lookup for %s failed: %v", op.OperationID, err),
		}
	}

	if label == "" {
		if contested {
			return models.MatchDecision{}, ambiguous
		}
		return decision, nil
	}
	if m.codec.Matches(label, intent.Label) {
		decision.Confidence = models.ConfidenceExactToken
		decision.ResolvedLabel = label
		return decision, nil
	}
	return models.MatchDecision{}, &Diagnostic{
		IntentID: intent.IntentID,
		Reason:   fmt.Sprintf("operation %s carries label for a different intent", op.OperationID),
	}
}

// contenders counts still-unmatched intents that could claim the operation
// on amount alone.
func (m *Matcher) contenders(intents []models.PaymentIntent, matched map[string]bool, op models.LedgerOperation) int {
	n := 0
	for _, intent := range intents {
		if matched[intent.IntentID] {
			continue
		}
		if m.inWindow(intent, op) && m.amountMatches(intent.RequestedAmount, op.Amount) {
			n++
		}
	}
	return n
}

// inWindow rejects operations that predate the intent, allowing grace for
// clock skew between us and the provider. Operations with an unknown
// timestamp pass; losing a payment to a malformed datetime is worse than one
// extra candidate.
func (m *Matcher) inWindow(intent models.PaymentIntent, op models.LedgerOperation) bool {
	if op.Datetime.IsZero() {
		return true
	}
	return !op.Datetime.Before(intent.CreatedAt.Add(-m.grace))
}

// amountMatches checks an observed ledger amount against the amounts we
// could plausibly receive for the requested price: the full price, the price
// after the card fee is deducted, or the price when the payer's wallet
// commission was folded into what they sent. All comparisons use the
// configured tolerance.
func (m *Matcher) amountMatches(requested, received decimal.Decimal) bool {
	one := decimal.NewFromInt(1)
	expected := []decimal.Decimal{
		requested,
		requested.Mul(one.Sub(m.cardFee)),
		requested.Div(one.Add(m.walletFee)),
	}
	for _, e := range expected {
		if e.Sub(received).Abs().LessThanOrEqual(m.tolerance) {
			return true
		}
	}
	return false
}
