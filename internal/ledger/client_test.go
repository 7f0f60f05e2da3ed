package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LunaPayCredit/internal/token"
)

func historyPayload(ops ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"operations": ops}
}

func serveJSON(t *testing.T, handler func(r *http.Request) (int, interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, body := handler(r)
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}))
}

func TestRecentOperationsFilters(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	since := now.Add(-time.Hour)

	srv := serveJSON(t, func(r *http.Request) (int, interface{}) {
		require.Equal(t, "/api/operation-history", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "100", r.PostForm.Get("records"))
		assert.Equal(t, "true", r.PostForm.Get("details"))

		return http.StatusOK, historyPayload(
			map[string]interface{}{
				"operation_id": "keep-labeled", "status": "success", "direction": "in",
				"type": "deposition", "amount": 99.0, "label": "lunapay1_user_42_pkg_buy_10_deadbeef",
				"datetime": now.Format(time.RFC3339),
			},
			map[string]interface{}{
				"operation_id": "drop-outgoing", "status": "success", "direction": "out",
				"type": "payment-shop", "amount": 10.0,
				"datetime": now.Format(time.RFC3339),
			},
			map[string]interface{}{
				"operation_id": "drop-refused", "status": "refused", "direction": "in",
				"type": "deposition", "amount": 99.0,
				"datetime": now.Format(time.RFC3339),
			},
			map[string]interface{}{
				"operation_id": "drop-old", "status": "success", "direction": "in",
				"type": "incoming-transfer", "amount": 99.0,
				"datetime": now.Add(-2 * time.Hour).Format(time.RFC3339),
			},
			map[string]interface{}{
				"operation_id": "keep-bad-datetime", "status": "success", "direction": "in",
				"type": "incoming-transfer", "amount": 50.0,
				"datetime": "not a timestamp",
			},
			map[string]interface{}{
				"operation_id": "drop-bad-amount", "status": "success", "direction": "in",
				"type": "deposition", "amount": "not a number",
				"datetime": now.Format(time.RFC3339),
			},
			map[string]interface{}{
				"operation_id": "keep-nested-label", "status": "success", "direction": "in",
				"type": "incoming-transfer", "amount": 50.0,
				"datetime": now.Format(time.RFC3339),
				"details":  map[string]interface{}{"label": "lunapay1_user_7_pkg_buy_10_deadbeef"},
			},
		)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", 100)
	ops, err := c.RecentOperations(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "keep-labeled", ops[0].OperationID)
	assert.Equal(t, now, ops[0].Datetime.UTC())
	assert.Equal(t, "keep-bad-datetime", ops[1].OperationID)
	assert.True(t, ops[1].Datetime.IsZero())
	assert.Equal(t, "keep-nested-label", ops[2].OperationID)
	assert.Equal(t, "lunapay1_user_7_pkg_buy_10_deadbeef", ops[2].Label,
		"label nested under details must surface on the operation")
}

func TestRecentOperationsAuthError(t *testing.T) {
	var calls int32
	srv := serveJSON(t, func(r *http.Request) (int, interface{}) {
		atomic.AddInt32(&calls, 1)
		return http.StatusUnauthorized, nil
	})
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", 100)
	_, err := c.RecentOperations(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "auth errors must not be retried")
}

func TestRecentOperationsRetriesServerError(t *testing.T) {
	var calls int32
	srv := serveJSON(t, func(r *http.Request) (int, interface{}) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return http.StatusInternalServerError, nil
		}
		return http.StatusOK, historyPayload()
	})
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", 100)
	ops, err := c.RecentOperations(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestRecentOperationsAPIError(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) (int, interface{}) {
		return http.StatusOK, map[string]string{"error": "illegal_param_records"}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", 100)
	_, err := c.RecentOperations(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal_param_records")
}

func TestOperationDetails(t *testing.T) {
	srv := serveJSON(t, func(r *http.Request) (int, interface{}) {
		require.Equal(t, "/api/operation-details", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "op1", r.PostForm.Get("operation_id"))
		return http.StatusOK, map[string]string{
			"operation_id": "op1",
			"label":        "lunapay1_user_42_pkg_buy_10_deadbeef",
			"message":      "thanks",
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", 100)
	detail, err := c.OperationDetails(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, "lunapay1_user_42_pkg_buy_10_deadbeef", detail.Label)
	assert.Contains(t, detail.FreeText, "thanks")
}

type scriptedAPI struct {
	details map[string]OperationDetail
	err     error
	calls   int
}

func (s *scriptedAPI) OperationDetails(_ context.Context, operationID string) (OperationDetail, error) {
	s.calls++
	if s.err != nil {
		return OperationDetail{}, s.err
	}
	return s.details[operationID], nil
}

func TestBudgetedResolverBudget(t *testing.T) {
	api := &scriptedAPI{details: map[string]OperationDetail{
		"op1": {Label: "lunapay1_user_1_pkg_buy_10_deadbeef"},
		"op2": {Label: "lunapay1_user_2_pkg_buy_10_deadbeef"},
		"op3": {Label: "lunapay1_user_3_pkg_buy_10_deadbeef"},
	}}
	r := NewBudgetedResolver(api, token.Codec{Prefix: "lunapay"}, 2)

	_, err := r.ResolveLabel(context.Background(), "op1")
	require.NoError(t, err)
	_, err = r.ResolveLabel(context.Background(), "op2")
	require.NoError(t, err)

	_, err = r.ResolveLabel(context.Background(), "op3")
	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 2, r.Spent())
}

func TestBudgetedResolverCaches(t *testing.T) {
	api := &scriptedAPI{details: map[string]OperationDetail{
		"op1": {Label: "lunapay1_user_1_pkg_buy_10_deadbeef"},
	}}
	r := NewBudgetedResolver(api, token.Codec{Prefix: "lunapay"}, 5)

	for i := 0; i < 3; i++ {
		label, err := r.ResolveLabel(context.Background(), "op1")
		require.NoError(t, err)
		assert.Equal(t, "lunapay1_user_1_pkg_buy_10_deadbeef", label)
	}
	assert.Equal(t, 1, api.calls)
}

func TestBudgetedResolverFreeTextFallback(t *testing.T) {
	api := &scriptedAPI{details: map[string]OperationDetail{
		"op1": {FreeText: "перевод, назначение lunapay1_user_7_pkg_buy_10_deadbeef ok"},
	}}
	r := NewBudgetedResolver(api, token.Codec{Prefix: "lunapay"}, 5)

	label, err := r.ResolveLabel(context.Background(), "op1")
	require.NoError(t, err)
	assert.Equal(t, "lunapay1_user_7_pkg_buy_10_deadbeef", label)
}
