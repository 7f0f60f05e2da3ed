package ledger

import (
	"context"

	"LunaPayCredit/internal/token"
)

// LabelResolver answers "what correlation label does this operation carry",
// hitting the detail endpoint only when the history row had no label.
type LabelResolver interface {
	ResolveLabel(ctx context.Context, operationID string) (string, error)
}

// DetailAPI is the slice of Client the resolver needs.
type DetailAPI interface {
	OperationDetails(ctx context.Context, operationID string) (OperationDetail, error)
}

// BudgetedResolver caps detail lookups per sweep so one noisy account cannot
// starve the provider API, and caches answers so the same operation is never
// fetched twice within a sweep.
type BudgetedResolver struct {
	api    DetailAPI
	codec  token.Codec
	budget int
	spent  int
	cache  map[string]string
}

func NewBudgetedResolver(api DetailAPI, codec token.Codec, budget int) *BudgetedResolver {
	return &BudgetedResolver{
		api:    api,
		codec:  codec,
		budget: budget,
		cache:  make(map[string]string),
	}
}

func (r *BudgetedResolver) ResolveLabel(ctx context.Context, operationID string) (string, error) {
	if label, ok := r.cache[operationID]; ok {
		return label, nil
	}
	if r.spent >= r.budget {
		return "", ErrBudgetExhausted
	}
	r.spent++

	// A failed lookup is not cached: the next sweep may succeed.
	detail, err := r.api.OperationDetails(ctx, operationID)
	if err != nil {
		return "", err
	}

	label := detail.Label
	if label == "" {
		label = r.codec.Find(detail.FreeText)
	}
	r.cache[operationID] = label
	return label, nil
}

// Spent reports how many detail lookups this resolver has performed.
func (r *BudgetedResolver) Spent() int { return r.spent }
