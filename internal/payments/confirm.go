package payments

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/models"
)

// IntentStore is the persistence surface confirmation needs.
type IntentStore interface {
	GetIntent(ctx context.Context, intentID string) (models.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, intentID, operationID string, amount decimal.Decimal) (models.ConfirmOutcome, error)
}

// Notifier tells the user their purchase went through. Delivery failures are
// logged, never propagated; the credit was already applied.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Confirmer applies match decisions to the store. Both the sweep worker and
// the webhook handler funnel through here so dry-run, notification and
// logging behave identically regardless of which path saw the payment first.
type Confirmer struct {
	store    IntentStore
	notifier Notifier
	dryRun   bool
	log      zerolog.Logger
}

func NewConfirmer(store IntentStore, notifier Notifier, dryRun bool, log zerolog.Logger) *Confirmer {
	return &Confirmer{store: store, notifier: notifier, dryRun: dryRun, log: log}
}

func (c *Confirmer) Confirm(ctx context.Context, d models.MatchDecision) (models.ConfirmOutcome, error) {
	if c.dryRun {
		c.log.Info().
			Str("intent_id", d.IntentID).
			Str("operation_id", d.OperationID).
			Str("confidence", string(d.Confidence)).
			Str("amount", d.Amount.String()).
			Msg("dry run, skipping confirmation")
		return models.ConfirmDryRun, nil
	}

	outcome, err := c.store.ConfirmIntent(ctx, d.IntentID, d.OperationID, d.Amount)
	if err != nil {
		return "", fmt.Errorf("confirm %s: %w", d.IntentID, err)
	}

	log := c.log.With().
		Str("intent_id", d.IntentID).
		Str("operation_id", d.OperationID).
		Str("confidence", string(d.Confidence)).
		Logger()

	switch outcome {
	case models.ConfirmApplied:
		log.Info().Str("amount", d.Amount.String()).Msg("payment confirmed")
		c.notify(ctx, d)
	case models.ConfirmAlreadyConfirmed:
		log.Debug().Msg("confirmation replayed, already settled")
	case models.ConfirmDuplicateOperation:
		log.Warn().Msg("operation already claimed by another intent")
	case models.ConfirmNotFound, models.ConfirmNotPending:
		log.Warn().Str("outcome", string(outcome)).Msg("intent not confirmable")
	}
	return outcome, nil
}

func (c *Confirmer) notify(ctx context.Context, d models.MatchDecision) {
	if c.notifier == nil {
		return
	}
	intent, err := c.store.GetIntent(ctx, d.IntentID)
	if err != nil {
		c.log.Warn().Err(err).Str("intent_id", d.IntentID).Msg("cannot load intent for notification")
		return
	}
	text := fmt.Sprintf("Payment received! %d credits added to your balance.", intent.CreditedUnits)
	if err := c.notifier.SendMessage(ctx, intent.UserID, text); err != nil {
		c.log.Warn().Err(err).Int64("user_id", intent.UserID).Msg("notification failed")
	}
}
