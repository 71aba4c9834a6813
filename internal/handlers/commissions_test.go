package handlers

import (
	"net/http"
	"strconv"
	"testing"

	"reftrack/internal/models"
	"reftrack/internal/services"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evaluateResponse struct {
	Created     int                 `json:"created"`
	Commissions []models.Commission `json:"commissions"`
}

// referralFlow drives one visitor from redirect through conversion.
func referralFlow(t *testing.T, r http.Handler, code string, linkID uint, user, order string) {
	w := doJSON(t, r, "POST", "/api/v1/events/click", map[string]interface{}{
		"code": code, "visitor_id": "V-" + user, "link_id": linkID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doJSON(t, r, "POST", "/api/v1/events/signup", map[string]string{"user_id": user, "visitor_id": "V-" + user})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doJSON(t, r, "POST", "/api/v1/events/conversion", map[string]interface{}{
		"order_id": order, "user_id": user, "amount": "100", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCommissionFlow(t *testing.T) {
	h, db := setupTestHandler(t, testConfig())
	r := setupTestRouter(h)
	code, linkID := issueCodeWithLink(t, r, "owner-1")
	referralFlow(t, r, code, linkID, "U1", "O1")
	referralFlow(t, r, code, linkID, "U2", "O2")

	w := doJSON(t, r, "POST", "/api/v1/commissions/evaluate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp evaluateResponse
	decode(t, w, &resp)
	require.Equal(t, 2, resp.Created)
	assert.Equal(t, code, resp.Commissions[0].Code)
	assert.True(t, decimal.NewFromInt(10).Equal(resp.Commissions[0].Amount))

	// Re-running creates nothing.
	w = doJSON(t, r, "POST", "/api/v1/commissions/evaluate", map[string]string{"since": "2000-01-01T00:00:00Z"})
	require.Equal(t, http.StatusOK, w.Code)
	var again evaluateResponse
	decode(t, w, &again)
	assert.Equal(t, 0, again.Created)

	w = doJSON(t, r, "GET", "/api/v1/commissions/accrued", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var accrued evaluateResponse
	decode(t, w, &accrued)
	assert.Len(t, accrued.Commissions, 2)

	first := strconv.Itoa(int(resp.Commissions[0].ID))
	w = doJSON(t, r, "POST", "/api/v1/commissions/"+first+"/paid", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, "POST", "/api/v1/commissions/"+first+"/paid", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, "POST", "/api/v1/orders/O2/void", nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := strconv.Itoa(int(resp.Commissions[1].ID))
	w = doJSON(t, r, "POST", "/api/v1/commissions/"+second+"/paid", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	conv := strconv.Itoa(int(resp.Commissions[0].ConversionID))
	w = doJSON(t, r, "POST", "/api/v1/conversions/"+conv+"/void", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var reversed int64
	db.Model(&models.Commission{}).Where("status = ?", models.CommissionReversed).Count(&reversed)
	assert.Equal(t, int64(2), reversed)

	w = doJSON(t, r, "POST", "/api/v1/orders/missing/void", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, r, "POST", "/api/v1/conversions/0/void", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, r, "POST", "/api/v1/commissions/999/paid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluateBatchHandler(t *testing.T) {
	h, _ := setupTestHandler(t, testConfig())
	r := setupTestRouter(h)
	code, linkID := issueCodeWithLink(t, r, "owner-1")
	for i := 0; i < 3; i++ {
		referralFlow(t, r, code, linkID, "U"+strconv.Itoa(i), "O"+strconv.Itoa(i))
	}

	w := doJSON(t, r, "POST", "/api/v1/commissions/evaluate", map[string]interface{}{"limit": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var batch services.EvaluateBatch
	decode(t, w, &batch)
	assert.Len(t, batch.Commissions, 2)
	assert.False(t, batch.Done)

	w = doJSON(t, r, "POST", "/api/v1/commissions/evaluate", map[string]interface{}{
		"since":    batch.Next.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		"after_id": batch.Next.ID,
		"limit":    2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &batch)
	assert.Len(t, batch.Commissions, 1)
	assert.True(t, batch.Done)

	w = doJSON(t, r, "POST", "/api/v1/commissions/evaluate", map[string]interface{}{"since": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
