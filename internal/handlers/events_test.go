package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlers(t *testing.T) {
	h, _ := setupTestHandler(t, testConfig())
	r := setupTestRouter(h)
	code, linkID := issueCodeWithLink(t, r, "owner-1")

	t.Run("Click", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/v1/events/click", map[string]interface{}{
			"code": code, "visitor_id": "V1", "link_id": linkID, "timestamp": "2026-03-01T09:00:00Z",
		})
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = doJSON(t, r, "POST", "/api/v1/events/click", map[string]interface{}{"code": "NOPE00", "visitor_id": "V1"})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/click", map[string]interface{}{"code": code})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/click", map[string]interface{}{"code": code, "visitor_id": "V1", "timestamp": "yesterday"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Signup", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/v1/events/signup", map[string]string{
			"user_id": "U1", "visitor_id": "V1", "timestamp": "2026-03-01T09:00:10Z",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp struct {
			Attributed bool `json:"attributed"`
		}
		decode(t, w, &resp)
		assert.True(t, resp.Attributed)

		w = doJSON(t, r, "POST", "/api/v1/events/signup", map[string]string{"user_id": "U1", "visitor_id": "V1"})
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/signup", map[string]string{"user_id": "U2", "visitor_id": "stranger"})
		require.Equal(t, http.StatusCreated, w.Code)
		decode(t, w, &resp)
		assert.False(t, resp.Attributed)
	})

	t.Run("Conversion", func(t *testing.T) {
		body := map[string]interface{}{
			"order_id": "O1", "user_id": "U1", "amount": "100.00", "currency": "USD", "timestamp": "2026-03-01T09:00:20Z",
		}
		w := doJSON(t, r, "POST", "/api/v1/events/conversion", body)
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", body)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"created":false`)

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O2", "user_id": "ghost", "amount": 5, "currency": "USD",
		})
		assert.Equal(t, http.StatusAccepted, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O3", "user_id": "U1", "amount": "-5", "currency": "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O4", "user_id": "U1", "amount": "abc", "currency": "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O5", "user_id": "U1", "currency": "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "amount is required")

		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O6", "user_id": "U1", "amount": nil, "currency": "USD",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		// An explicit zero is a real order.
		w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
			"order_id": "O7", "user_id": "U1", "amount": "0", "currency": "USD",
		})
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}
