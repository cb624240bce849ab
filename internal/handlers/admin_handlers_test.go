package handlers

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toyforge/storefront/internal/ai"
	"github.com/toyforge/storefront/internal/models"
)

func toDriverValues(args []interface{}) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func TestUpdateUserStatus(t *testing.T) {
	const adminID = int64(1)
	suspend := map[string]string{"status": "suspended"}

	t.Run("suspends another account", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectExec(q("UPDATE users SET status = ?, updated_at = ? WHERE id = ?")).
			WithArgs("suspended", testNow, int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

		w := serve(env.h.UpdateUserStatus, http.MethodPatch, "/users/:id/status", "/users/7/status", suspend, adminID)

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"message":"User status updated","status":"suspended"}`, w.Body.String())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("own account", func(t *testing.T) {
		env := newTestEnv(t)

		w := serve(env.h.UpdateUserStatus, http.MethodPatch, "/users/:id/status", "/users/1/status", suspend, adminID)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"You cannot change your own account status"}`, w.Body.String())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(t)

		w := serve(env.h.UpdateUserStatus, http.MethodPatch, "/users/:id/status", "/users/7/status",
			map[string]string{"status": "deleted"}, adminID)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectExec(q("UPDATE users SET status")).WillReturnResult(sqlmock.NewResult(0, 0))

		w := serve(env.h.UpdateUserStatus, http.MethodPatch, "/users/:id/status", "/users/99/status", suspend, adminID)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetTopProducts(t *testing.T) {
	cols := []string{"product_id", "name", "units", "revenue"}

	t.Run("ranks by units sold", func(t *testing.T) {
		env := newTestEnv(t)
		args := append(toDriverValues(revenueStatuses), 5)
		env.mock.ExpectQuery(q("FROM order_items oi")).WithArgs(args...).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(int64(5), "Wooden Train", 12, "6000.00").
				AddRow(int64(8), "Stacking Rings", 4, "1196.00"))

		w := serve(env.h.GetTopProducts, http.MethodGet, "/top", "/top", nil, 1)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Products []TopProduct `json:"products"`
		}
		decode(t, w, &resp)
		require.Len(t, resp.Products, 2)
		assert.Equal(t, "Wooden Train", resp.Products[0].ProductName)
		assert.Equal(t, 12, resp.Products[0].UnitsSold)
		assert.Equal(t, "6000", resp.Products[0].Revenue.String())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("limit is capped", func(t *testing.T) {
		env := newTestEnv(t)
		args := append(toDriverValues(revenueStatuses), 50)
		env.mock.ExpectQuery(q("FROM order_items oi")).WithArgs(args...).WillReturnRows(sqlmock.NewRows(cols))

		w := serve(env.h.GetTopProducts, http.MethodGet, "/top", "/top?limit=500", nil, 1)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"products":[]}`, w.Body.String())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})
}

func TestGetLowStock(t *testing.T) {
	cols := []string{"id", "product_id", "name", "sku", "attributes", "stock"}

	t.Run("configured threshold", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectQuery(q("FROM product_variants v JOIN products p")).
			WithArgs(models.ProductStatusActive, 5).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(11), int64(5), "Wooden Train", "TRAIN-RED", `{"color":"red"}`, 0))

		w := serve(env.h.GetLowStock, http.MethodGet, "/low", "/low", nil, 1)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp struct {
			Threshold int            `json:"threshold"`
			Items     []LowStockItem `json:"items"`
		}
		decode(t, w, &resp)
		assert.Equal(t, 5, resp.Threshold)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "red", resp.Items[0].Attributes["color"])
		assert.Equal(t, 0, resp.Items[0].Stock)
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("threshold from query", func(t *testing.T) {
		env := newTestEnv(t)
		env.mock.ExpectQuery(q("FROM product_variants v JOIN products p")).
			WithArgs(models.ProductStatusActive, 2).WillReturnRows(sqlmock.NewRows(cols))

		w := serve(env.h.GetLowStock, http.MethodGet, "/low", "/low?threshold=2", nil, 1)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"threshold":2,"items":[]}`, w.Body.String())
	})

	for _, bad := range []string{"abc", "-1"} {
		t.Run("bad threshold "+bad, func(t *testing.T) {
			env := newTestEnv(t)

			w := serve(env.h.GetLowStock, http.MethodGet, "/low", "/low?threshold="+bad, nil, 1)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

type fakeAssistant struct {
	answer *ai.Answer
	err    error
}

func (f *fakeAssistant) Ask(_ context.Context, _ string) (*ai.Answer, error) {
	return f.answer, f.err
}

func TestAskAssistant(t *testing.T) {
	question := map[string]string{"question": "What sold best last week?"}

	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t)

		w := serve(env.h.AskAssistant, http.MethodPost, "/ask", "/ask", question, 1)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"error":"The assistant is not configured"}`, w.Body.String())
	})

	t.Run("answers", func(t *testing.T) {
		env := newTestEnv(t)
		env.h.Assistant = &fakeAssistant{answer: &ai.Answer{Text: "The wooden train.", TotalTokens: 42}}

		w := serve(env.h.AskAssistant, http.MethodPost, "/ask", "/ask", question, 1)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"response":"The wooden train.","totalTokens":42}`, w.Body.String())
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.h.Assistant = &fakeAssistant{err: errors.New("quota exceeded")}

		w := serve(env.h.AskAssistant, http.MethodPost, "/ask", "/ask", question, 1)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "quota")
	})

	t.Run("empty question", func(t *testing.T) {
		env := newTestEnv(t)
		env.h.Assistant = &fakeAssistant{}

		w := serve(env.h.AskAssistant, http.MethodPost, "/ask", "/ask", map[string]string{}, 1)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
