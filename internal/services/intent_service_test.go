package services

import (
	"context"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LunaPayCredit/internal/config"
	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/pricing"
	"LunaPayCredit/internal/store"
	"LunaPayCredit/internal/token"
)

type fakeIntentStore struct {
	created  []models.PaymentIntent
	rejected []string
	missing  bool
}

func (f *fakeIntentStore) CreateIntent(_ context.Context, in models.PaymentIntent) error {
	f.created = append(f.created, in)
	return nil
}

func (f *fakeIntentStore) GetIntent(_ context.Context, intentID string) (models.PaymentIntent, error) {
	if f.missing {
		return models.PaymentIntent{}, store.ErrNotFound
	}
	for _, in := range f.created {
		if in.IntentID == intentID {
			return in, nil
		}
	}
	return models.PaymentIntent{}, store.ErrNotFound
}

func (f *fakeIntentStore) RejectIntent(_ context.Context, intentID string) error {
	if f.missing {
		return store.ErrNotFound
	}
	f.rejected = append(f.rejected, intentID)
	return nil
}

func testCatalog() *pricing.Catalog {
	return pricing.NewCatalog([]config.PackageConfig{
		{Key: "buy_10", Title: "10 credits", Price: 99.00, Credits: 10},
	})
}

func newTestService(st *fakeIntentStore) *IntentService {
	return NewIntentService(st, testCatalog(), token.Codec{Prefix: "lunapay"},
		"https://yoomoney.ru", "410011111111111", zerolog.Nop())
}

func TestCreateIntent(t *testing.T) {
	st := &fakeIntentStore{}
	svc := newTestService(st)

	created, err := svc.CreateIntent(context.Background(), 42, "buy_10")
	require.NoError(t, err)

	require.Len(t, st.created, 1)
	assert.Equal(t, models.IntentPending, created.Intent.Status)
	assert.Equal(t, int64(42), created.Intent.UserID)
	assert.Equal(t, int64(10), created.Intent.CreditedUnits)
	assert.Equal(t, "99", created.Intent.RequestedAmount.String())
	assert.NotEmpty(t, created.Intent.IntentID)

	u, err := url.Parse(created.PaymentURL)
	require.NoError(t, err)
	assert.Equal(t, "/quickpay/confirm.xml", u.Path)
	assert.Equal(t, created.Intent.Label, u.Query().Get("label"))
	assert.Equal(t, "99.00", u.Query().Get("sum"))
	assert.Equal(t, "410011111111111", u.Query().Get("receiver"))
}

func TestCreateIntentValidation(t *testing.T) {
	svc := newTestService(&fakeIntentStore{})

	_, err := svc.CreateIntent(context.Background(), 0, "buy_10")
	assert.ErrorIs(t, err, ErrMissingUserID)

	_, err = svc.CreateIntent(context.Background(), 42, "buy_9000")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestCreateIntentLabelsUnique(t *testing.T) {
	st := &fakeIntentStore{}
	svc := newTestService(st)

	_, err := svc.CreateIntent(context.Background(), 42, "buy_10")
	require.NoError(t, err)
	_, err = svc.CreateIntent(context.Background(), 42, "buy_10")
	require.NoError(t, err)

	require.Len(t, st.created, 2)
	assert.NotEqual(t, st.created[0].Label, st.created[1].Label)
	assert.NotEqual(t, st.created[0].IntentID, st.created[1].IntentID)
}

func TestGetIntentNotFound(t *testing.T) {
	svc := newTestService(&fakeIntentStore{missing: true})

	_, err := svc.GetIntent(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectIntent(t *testing.T) {
	st := &fakeIntentStore{}
	svc := newTestService(st)

	require.NoError(t, svc.RejectIntent(context.Background(), "i1"))
	assert.Equal(t, []string{"i1"}, st.rejected)

	st.missing = true
	assert.ErrorIs(t, svc.RejectIntent(context.Background(), "i2"), ErrNotFound)
}
