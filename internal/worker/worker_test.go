package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LunaPayCredit/internal/ledger"
	"LunaPayCredit/internal/matcher"
	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/payments"
	"LunaPayCredit/internal/token"
)

var testCodec = token.Codec{Prefix: "lunapay"}

type fakeSweepStore struct {
	pending   []models.PaymentIntent
	listErr   error
	confirms  []string
	confirmed map[string]bool

	expireCutoff time.Time
	deleteCutoff time.Time
}

func (f *fakeSweepStore) ListPendingIntents(_ context.Context, _ time.Time) ([]models.PaymentIntent, error) {
	return f.pending, f.listErr
}

func (f *fakeSweepStore) ExpireStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.expireCutoff = cutoff
	return 1, nil
}

func (f *fakeSweepStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleteCutoff = cutoff
	return 2, nil
}

func (f *fakeSweepStore) GetIntent(_ context.Context, intentID string) (models.PaymentIntent, error) {
	for _, in := range f.pending {
		if in.IntentID == intentID {
			return in, nil
		}
	}
	return models.PaymentIntent{}, errors.New("not found")
}

func (f *fakeSweepStore) ConfirmIntent(_ context.Context, intentID, operationID string, _ decimal.Decimal) (models.ConfirmOutcome, error) {
	if f.confirmed == nil {
		f.confirmed = map[string]bool{}
	}
	if f.confirmed[intentID] {
		return models.ConfirmAlreadyConfirmed, nil
	}
	f.confirmed[intentID] = true
	f.confirms = append(f.confirms, intentID+"/"+operationID)
	return models.ConfirmApplied, nil
}

type fakeSource struct {
	ops     []models.LedgerOperation
	opsErr  error
	details map[string]ledger.OperationDetail
}

func (f *fakeSource) RecentOperations(_ context.Context, _ time.Time) ([]models.LedgerOperation, error) {
	return f.ops, f.opsErr
}

func (f *fakeSource) OperationDetails(_ context.Context, operationID string) (ledger.OperationDetail, error) {
	return f.details[operationID], nil
}

func newTestWorker(st *fakeSweepStore, src *fakeSource) *Worker {
	return &Worker{
		Store:           st,
		Source:          src,
		Matcher:         matcher.New(testCodec, 0.02, 0.03, 0.01, 5*time.Minute),
		Confirmer:       payments.NewConfirmer(st, nil, false, zerolog.Nop()),
		Codec:           testCodec,
		Log:             zerolog.Nop(),
		SweepInterval:   45 * time.Second,
		CleanupInterval: 24 * time.Hour,
		Lookback:        72 * time.Hour,
		Retention:       7 * 24 * time.Hour,
		DetailBudget:    20,
	}
}

func TestSweepOnceConfirmsMatches(t *testing.T) {
	label := testCodec.Encode(42, "buy_10")
	st := &fakeSweepStore{pending: []models.PaymentIntent{{
		IntentID:        "i1",
		UserID:          42,
		RequestedAmount: decimal.RequireFromString("99.00"),
		Label:           label,
		Status:          models.IntentPending,
		CreatedAt:       time.Now().Add(-time.Hour),
	}}}
	src := &fakeSource{ops: []models.LedgerOperation{{
		OperationID: "op1",
		Direction:   models.DirectionIn,
		Status:      models.StatusSuccess,
		Type:        models.TypeDeposition,
		Amount:      decimal.RequireFromString("99.00"),
		Label:       label,
		Datetime:    time.Now(),
	}}}

	w := newTestWorker(st, src)
	require.NoError(t, w.SweepOnce(context.Background()))
	require.Len(t, st.confirms, 1)
	assert.Equal(t, "i1/op1", st.confirms[0])
}

func TestSweepOnceNoPendingSkipsProvider(t *testing.T) {
	st := &fakeSweepStore{}
	src := &fakeSource{opsErr: errors.New("should not be called")}

	w := newTestWorker(st, src)
	require.NoError(t, w.SweepOnce(context.Background()))
}

func TestSweepOnceAuthErrorPropagates(t *testing.T) {
	st := &fakeSweepStore{pending: []models.PaymentIntent{{
		IntentID:        "i1",
		RequestedAmount: decimal.RequireFromString("99.00"),
		Label:           testCodec.Encode(42, "buy_10"),
		CreatedAt:       time.Now(),
	}}}
	src := &fakeSource{opsErr: ledger.ErrAuth}

	w := newTestWorker(st, src)
	err := w.SweepOnce(context.Background())
	require.ErrorIs(t, err, ledger.ErrAuth)
}

func TestSweepOnceIdempotentAcrossRuns(t *testing.T) {
	label := testCodec.Encode(42, "buy_10")
	st := &fakeSweepStore{pending: []models.PaymentIntent{{
		IntentID:        "i1",
		UserID:          42,
		RequestedAmount: decimal.RequireFromString("99.00"),
		Label:           label,
		Status:          models.IntentPending,
		CreatedAt:       time.Now().Add(-time.Hour),
	}}}
	src := &fakeSource{ops: []models.LedgerOperation{{
		OperationID: "op1",
		Direction:   models.DirectionIn,
		Status:      models.StatusSuccess,
		Type:        models.TypeDeposition,
		Amount:      decimal.RequireFromString("99.00"),
		Label:       label,
		Datetime:    time.Now(),
	}}}

	w := newTestWorker(st, src)
	require.NoError(t, w.SweepOnce(context.Background()))
	// The intent is still reported pending by the stale snapshot; the store
	// must absorb the replay.
	require.NoError(t, w.SweepOnce(context.Background()))
	assert.Len(t, st.confirms, 1)
}

func TestCleanupOnceCutoffs(t *testing.T) {
	st := &fakeSweepStore{}
	w := newTestWorker(st, &fakeSource{})

	before := time.Now()
	require.NoError(t, w.CleanupOnce(context.Background()))

	assert.WithinDuration(t, before.Add(-w.Retention), st.expireCutoff, time.Minute)
	assert.WithinDuration(t, before.Add(-w.Retention), st.deleteCutoff, time.Minute)
}

func TestRunPrimesCleanupOnStart(t *testing.T) {
	st := &fakeSweepStore{}
	w := newTestWorker(st, &fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	assert.False(t, st.expireCutoff.IsZero(),
		"cleanup must run once at startup, not a full interval later")
	assert.False(t, st.deleteCutoff.IsZero())
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	st := &fakeSweepStore{}
	w := newTestWorker(st, &fakeSource{})

	w.mu.Lock()
	done := make(chan struct{})
	go func() {
		w.sweepGuarded(context.Background())
		close(done)
	}()
	select {
	case <-done:
		// Returned immediately without waiting for the lock.
	case <-time.After(time.Second):
		t.Fatal("sweepGuarded blocked on a held lock")
	}
	w.mu.Unlock()
}
