package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"LunaPayCredit/internal/models"
)

// ErrAuth means the provider rejected our token. Retrying is pointless and
// the caller should abort the current sweep rather than hammer the API.
var ErrAuth = errors.New("ledger: authorization refused")

// ErrBudgetExhausted is returned by a budgeted resolver once the per-sweep
// allowance of detail lookups is spent.
var ErrBudgetExhausted = errors.New("ledger: detail lookup budget exhausted")

const (
	operationHistoryPath = "/api/operation-history"
	operationDetailsPath = "/api/operation-details"
)

// Client talks to the payment provider's account API. All endpoints are
// form-encoded POSTs authorized with a bearer token.
type Client struct {
	baseURL string
	token   string
	records int
	http    *http.Client
}

func NewClient(baseURL, token string, records int) *Client {
	if records <= 0 {
		records = 100
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		records: records,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type historyResponse struct {
	Error      string            `json:"error"`
	NextRecord string            `json:"next_record"`
	Operations []json.RawMessage `json:"operations"`
}

type rawOperation struct {
	OperationID string          `json:"operation_id"`
	Status      string          `json:"status"`
	Direction   string          `json:"direction"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Datetime    string          `json:"datetime"`
	Label       string          `json:"label"`
	Title       string          `json:"title"`
	// Populated when the history was requested with details=true; the label
	// sometimes only surfaces here.
	Details struct {
		Label string `json:"label"`
	} `json:"details"`
}

func (r rawOperation) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Details.Label
}

type detailsResponse struct {
	Error       string `json:"error"`
	OperationID string `json:"operation_id"`
	Label       string `json:"label"`
	Message     string `json:"message"`
	Comment     string `json:"comment"`
	Details     string `json:"details"`
	Sender      string `json:"sender"`
}

// RecentOperations fetches the newest page of account operations and filters
// it down to successful incoming money inside the [since, now] window.
// Operations with unparseable timestamps are kept; dropping them could
// silently lose a real payment.
func (c *Client) RecentOperations(ctx context.Context, since time.Time) ([]models.LedgerOperation, error) {
	form := url.Values{
		"records": {strconv.Itoa(c.records)},
		"details": {"true"},
	}
	var resp historyResponse
	if err := c.postForm(ctx, operationHistoryPath, form, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ledger: operation-history: %s", resp.Error)
	}

	ops := make([]models.LedgerOperation, 0, len(resp.Operations))
	for _, rawMsg := range resp.Operations {
		// One malformed record must not sink the whole page.
		var raw rawOperation
		if err := json.Unmarshal(rawMsg, &raw); err != nil {
			continue
		}
		op := models.LedgerOperation{
			OperationID: raw.OperationID,
			Status:      raw.Status,
			Direction:   raw.Direction,
			Type:        raw.Type,
			Amount:      raw.Amount,
			Label:       raw.label(),
		}
		if !op.Incoming() {
			continue
		}
		if ts, err := parseProviderTime(raw.Datetime); err == nil {
			if ts.Before(since) {
				continue
			}
			op.Datetime = ts
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// OperationDetails fetches the detail record for one operation and returns
// the label found there, if any. The label may live in the dedicated field
// or be buried in free-text message/comment/details, so the caller gets the
// raw fields and decides.
func (c *Client) OperationDetails(ctx context.Context, operationID string) (OperationDetail, error) {
	form := url.Values{"operation_id": {operationID}}
	var resp detailsResponse
	if err := c.postForm(ctx, operationDetailsPath, form, &resp); err != nil {
		return OperationDetail{}, err
	}
	if resp.Error != "" {
		return OperationDetail{}, fmt.Errorf("ledger: operation-details %s: %s", operationID, resp.Error)
	}
	return OperationDetail{
		OperationID: resp.OperationID,
		Label:       resp.Label,
		FreeText:    strings.Join([]string{resp.Message, resp.Comment, resp.Details}, "\n"),
		Sender:      resp.Sender,
	}, nil
}

// OperationDetail is the subset of a detail record the matcher cares about.
type OperationDetail struct {
	OperationID string
	Label       string
	FreeText    string
	Sender      string
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrAuth)
		case resp.StatusCode >= 500:
			return fmt.Errorf("ledger: %s: status %d", path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("ledger: %s: status %d: %s", path, resp.StatusCode, body))
		}
		if err := decodeJSON(resp.Body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("ledger: %s: decode: %w", path, err))
		}
		return nil
	}

	bo := backoff.WithContext(newBackoff(), ctx)
	return backoff.Retry(op, bo)
}

func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

func decodeJSON(r io.Reader, out interface{}) error {
	return json.NewDecoder(r).Decode(out)
}

// parseProviderTime accepts the timestamp layouts the provider has been seen
// emitting.
func parseProviderTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty datetime")
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
