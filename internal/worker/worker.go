package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"LunaPayCredit/internal/ledger"
	"LunaPayCredit/internal/matcher"
	"LunaPayCredit/internal/metrics"
	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/payments"
	"LunaPayCredit/internal/token"
)

// SweepStore is the persistence surface the worker needs.
type SweepStore interface {
	ListPendingIntents(ctx context.Context, since time.Time) ([]models.PaymentIntent, error)
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// OperationSource is the provider surface the worker needs.
type OperationSource interface {
	RecentOperations(ctx context.Context, since time.Time) ([]models.LedgerOperation, error)
	OperationDetails(ctx context.Context, operationID string) (ledger.OperationDetail, error)
}

// Worker periodically reconciles pending intents against the provider ledger
// and ages out stale intents. One sweep at a time: if a sweep overruns its
// interval the next tick is skipped rather than queued.
type Worker struct {
	Store     SweepStore
	Source    OperationSource
	Matcher   *matcher.Matcher
	Confirmer *payments.Confirmer
	Metrics   *metrics.Metrics
	Codec     token.Codec
	Log       zerolog.Logger

	SweepInterval   time.Duration
	CleanupInterval time.Duration
	Lookback        time.Duration
	Retention       time.Duration
	DetailBudget    int

	mu sync.Mutex
}

func (w *Worker) Run(ctx context.Context) {
	w.Log.Info().
		Dur("sweep_interval", w.SweepInterval).
		Dur("lookback", w.Lookback).
		Msg("reconciliation worker started")

	sweep := time.NewTicker(w.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(w.CleanupInterval)
	defer cleanup.Stop()

	// First passes immediately so a restart does not wait out a full
	// interval, which for cleanup would be a day.
	w.sweepGuarded(ctx)
	if err := w.CleanupOnce(ctx); err != nil {
		w.Log.Error().Err(err).Msg("cleanup failed")
	}

	for {
		select {
		case <-ctx.Done():
			w.Log.Info().Msg("reconciliation worker stopped")
			return
		case <-sweep.C:
			w.sweepGuarded(ctx)
		case <-cleanup.C:
			if err := w.CleanupOnce(ctx); err != nil {
				w.Log.Error().Err(err).Msg("cleanup failed")
			}
		}
	}
}

func (w *Worker) sweepGuarded(ctx context.Context) {
	if !w.mu.TryLock() {
		w.Log.Warn().Msg("previous sweep still running, skipping tick")
		return
	}
	defer w.mu.Unlock()

	start := time.Now()
	err := w.SweepOnce(ctx)
	switch {
	case err == nil:
		w.Metrics.SweepCompleted("ok", time.Since(start))
	case errors.Is(err, ledger.ErrAuth):
		w.Metrics.SweepCompleted("auth_error", time.Since(start))
		w.Log.Error().Err(err).Msg("provider rejected credentials, sweep aborted")
	default:
		w.Metrics.SweepCompleted("error", time.Since(start))
		w.Log.Error().Err(err).Msg("sweep failed")
	}
}

// SweepOnce runs one full reconciliation pass: load pending intents, fetch
// recent operations, match, confirm. Per-intent confirmation errors are
// isolated so one bad row cannot block the rest of the batch.
func (w *Worker) SweepOnce(ctx context.Context) error {
	since := time.Now().Add(-w.Lookback)

	intents, err := w.Store.ListPendingIntents(ctx, since)
	if err != nil {
		return err
	}
	w.Metrics.SetPendingIntents(len(intents))
	if len(intents) == 0 {
		return nil
	}

	ops, err := w.Source.RecentOperations(ctx, since)
	if err != nil {
		return err
	}

	resolver := ledger.NewBudgetedResolver(w.Source, w.Codec, w.DetailBudget)
	decisions, diags := w.Matcher.Match(ctx, intents, ops, resolver)
	w.Metrics.DetailLookups(resolver.Spent())

	for _, d := range diags {
		w.Metrics.AmbiguousMatch()
		w.Log.Warn().Str("intent_id", d.IntentID).Str("reason", d.Reason).Msg("intent left pending")
	}

	for _, d := range decisions {
		w.Metrics.MatchFound(string(d.Confidence))
		outcome, err := w.Confirmer.Confirm(ctx, d)
		if err != nil {
			w.Log.Error().Err(err).Str("intent_id", d.IntentID).Msg("confirmation failed")
			continue
		}
		w.Metrics.ConfirmationOutcome(string(outcome))
	}

	w.Log.Debug().
		Int("pending", len(intents)).
		Int("operations", len(ops)).
		Int("matched", len(decisions)).
		Msg("sweep complete")
	return nil
}

// CleanupOnce expires pending intents older than the retention window and
// purges rows that have been expired for another full retention period.
// Retention exceeds the matching lookback, so an intent is never aged out
// while a late operation could still claim it.
func (w *Worker) CleanupOnce(ctx context.Context) error {
	expired, err := w.Store.ExpireStale(ctx, time.Now().Add(-w.Retention))
	if err != nil {
		return err
	}
	deleted, err := w.Store.DeleteExpired(ctx, time.Now().Add(-w.Retention))
	if err != nil {
		return err
	}
	if expired > 0 || deleted > 0 {
		w.Log.Info().Int64("expired", expired).Int64("deleted", deleted).Msg("cleanup complete")
	}
	return nil
}
