package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LunaPayCredit/internal/models"
	"LunaPayCredit/internal/pricing"
	"LunaPayCredit/internal/store"
	"LunaPayCredit/internal/token"
)

var (
	ErrMissingUserID  = errors.New("user id is required")
	ErrUnknownPackage = errors.New("unknown package")
	ErrNotFound       = errors.New("intent not found")
)

// IntentStore is the persistence surface intent management needs.
type IntentStore interface {
	CreateIntent(ctx context.Context, in models.PaymentIntent) error
	GetIntent(ctx context.Context, intentID string) (models.PaymentIntent, error)
	RejectIntent(ctx context.Context, intentID string) error
}

// IntentService creates and inspects payment intents. Creation hands back a
// provider checkout URL carrying the correlation label, which is how the
// label round-trips through the external payment flow.
type IntentService struct {
	store    IntentStore
	catalog  *pricing.Catalog
	codec    token.Codec
	baseURL  string
	receiver string
	log      zerolog.Logger
}

func NewIntentService(st IntentStore, catalog *pricing.Catalog, codec token.Codec, baseURL, receiver string, log zerolog.Logger) *IntentService {
	return &IntentService{
		store:    st,
		catalog:  catalog,
		codec:    codec,
		baseURL:  baseURL,
		receiver: receiver,
		log:      log,
	}
}

// CreatedIntent is the API view of a fresh intent.
type CreatedIntent struct {
	Intent     models.PaymentIntent
	PaymentURL string
}

func (s *IntentService) CreateIntent(ctx context.Context, userID int64, packageKey string) (CreatedIntent, error) {
	if userID <= 0 {
		return CreatedIntent{}, ErrMissingUserID
	}
	pkg, ok := s.catalog.Get(packageKey)
	if !ok {
		return CreatedIntent{}, fmt.Errorf("%w: %s", ErrUnknownPackage, packageKey)
	}

	intent := models.PaymentIntent{
		IntentID:        uuid.NewString(),
		UserID:          userID,
		PackageKey:      pkg.Key,
		RequestedAmount: pkg.Price,
		CreditedUnits:   pkg.Credits,
		Label:           s.codec.Encode(userID, pkg.Key),
		Status:          models.IntentPending,
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return CreatedIntent{}, err
	}

	s.log.Info().
		Str("intent_id", intent.IntentID).
		Int64("user_id", userID).
		Str("package", pkg.Key).
		Msg("payment intent created")

	return CreatedIntent{
		Intent:     intent,
		PaymentURL: s.paymentURL(pkg, intent.Label),
	}, nil
}

func (s *IntentService) GetIntent(ctx context.Context, intentID string) (models.PaymentIntent, error) {
	intent, err := s.store.GetIntent(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return models.PaymentIntent{}, ErrNotFound
	}
	return intent, err
}

// RejectIntent is the operator escape hatch for an intent that should never
// settle. Only pending intents can be rejected.
func (s *IntentService) RejectIntent(ctx context.Context, intentID string) error {
	err := s.store.RejectIntent(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err == nil {
		s.log.Info().Str("intent_id", intentID).Msg("intent rejected by operator")
	}
	return err
}

// paymentURL builds the provider's hosted checkout link. The label parameter
// is echoed back on the resulting ledger operation.
func (s *IntentService) paymentURL(pkg pricing.Package, label string) string {
	q := url.Values{
		"receiver":      {s.receiver},
		"quickpay-form": {"shop"},
		"targets":       {pkg.Title},
		"paymentType":   {"AC"},
		"sum":           {pkg.Price.StringFixed(2)},
		"label":         {label},
	}
	return s.baseURL + "/quickpay/confirm.xml?" + q.Encode()
}
