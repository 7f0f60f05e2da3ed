package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/models"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const intentColumns = `intent_id, user_id, package_key, requested_amount, credited_units,
	label, status, external_operation_id, amount_received, created_at, updated_at`

func (s *Store) CreateIntent(ctx context.Context, in models.PaymentIntent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_intents
			(intent_id, user_id, package_key, requested_amount, credited_units, label, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.IntentID, in.UserID, in.PackageKey, in.RequestedAmount, in.CreditedUnits,
		in.Label, models.IntentPending)
	if err != nil {
		return fmt.Errorf("create intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, intentID string) (models.PaymentIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE intent_id = $1`, intentID)
	return scanIntent(row)
}

func (s *Store) GetIntentByLabel(ctx context.Context, label string) (models.PaymentIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE label = $1`, label)
	return scanIntent(row)
}

// ListPendingIntents returns pending intents created within the lookback
// window, oldest first so long-waiting intents get matched before fresh ones.
func (s *Store) ListPendingIntents(ctx context.Context, since time.Time) ([]models.PaymentIntent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = $1 AND created_at >= $2
		ORDER BY created_at ASC`,
		models.IntentPending, since)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// ConfirmIntent settles one intent against one external operation and credits
// the user, all in a single transaction. The WHERE clause carries the whole
// exactly-once guarantee: only a pending row flips, and only if no confirmed
// row already claims the operation. Concurrent confirmations of the same pair
// race on the row update; the loser sees zero rows and gets told what
// happened instead of an error.
func (s *Store) ConfirmIntent(ctx context.Context, intentID, operationID string, amount decimal.Decimal) (models.ConfirmOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("confirm intent: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, external_operation_id = $2, amount_received = $3, updated_at = now()
		WHERE intent_id = $4
		  AND status = $5
		  AND NOT EXISTS (
			SELECT 1 FROM payment_intents
			WHERE external_operation_id = $2 AND status = $1
		  )`,
		models.IntentConfirmed, operationID, amount, intentID, models.IntentPending)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ConfirmDuplicateOperation, nil
		}
		return "", fmt.Errorf("confirm intent: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return s.classifyConfirmMiss(ctx, intentID, operationID)
	}

	var userID, units int64
	err = tx.QueryRow(ctx,
		`SELECT user_id, credited_units FROM payment_intents WHERE intent_id = $1`,
		intentID).Scan(&userID, &units)
	if err != nil {
		return "", fmt.Errorf("confirm intent: read back: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO users (user_id, premium_credits)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET premium_credits = users.premium_credits + EXCLUDED.premium_credits`,
		userID, units)
	if err != nil {
		return "", fmt.Errorf("confirm intent: credit user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_activity (user_id, kind, detail)
		VALUES ($1, 'payment_confirmed', $2)`,
		userID, fmt.Sprintf("intent %s operation %s amount %s", intentID, operationID, amount))
	if err != nil {
		return "", fmt.Errorf("confirm intent: record activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return models.ConfirmDuplicateOperation, nil
		}
		return "", fmt.Errorf("confirm intent: commit: %w", err)
	}
	return models.ConfirmApplied, nil
}

// classifyConfirmMiss turns a zero-row conditional update into a precise
// outcome so callers can distinguish a replayed confirmation from a conflict.
func (s *Store) classifyConfirmMiss(ctx context.Context, intentID, operationID string) (models.ConfirmOutcome, error) {
	var status models.IntentStatus
	var opID *string
	err := s.pool.QueryRow(ctx,
		`SELECT status, external_operation_id FROM payment_intents WHERE intent_id = $1`,
		intentID).Scan(&status, &opID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ConfirmNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("confirm intent: classify: %w", err)
	}

	if status == models.IntentConfirmed && opID != nil && *opID == operationID {
		return models.ConfirmAlreadyConfirmed, nil
	}

	var taken bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_intents
			WHERE external_operation_id = $1 AND status = $2 AND intent_id <> $3
		)`,
		operationID, models.IntentConfirmed, intentID).Scan(&taken)
	if err != nil {
		return "", fmt.Errorf("confirm intent: classify: %w", err)
	}
	if taken {
		return models.ConfirmDuplicateOperation, nil
	}
	return models.ConfirmNotPending, nil
}

func (s *Store) RejectIntent(ctx context.Context, intentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, updated_at = now()
		WHERE intent_id = $2 AND status = $3`,
		models.IntentRejected, intentID, models.IntentPending)
	if err != nil {
		return fmt.Errorf("reject intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireStale flips pending intents older than the cutoff to expired.
func (s *Store) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, updated_at = now()
		WHERE status = $2 AND created_at < $3`,
		models.IntentExpired, models.IntentPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired purges expired rows once they have sat in that state past the
// cutoff. Confirmed rows are never deleted, they back the duplicate-operation
// check; rejected rows are kept as an audit trail of operator action.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM payment_intents
		WHERE status = $1 AND updated_at < $2`,
		models.IntentExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UserCredits(ctx context.Context, userID int64) (int64, error) {
	var credits int64
	err := s.pool.QueryRow(ctx,
		`SELECT premium_credits FROM users WHERE user_id = $1`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("user credits: %w", err)
	}
	return credits, nil
}

func scanIntent(row pgx.Row) (models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := row.Scan(&in.IntentID, &in.UserID, &in.PackageKey, &in.RequestedAmount,
		&in.CreditedUnits, &in.Label, &in.Status, &in.OperationID, &in.AmountReceived,
		&in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return models.PaymentIntent{}, fmt.Errorf("scan intent: %w", err)
	}
	return in, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
