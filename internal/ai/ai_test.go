package ai

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT COUNT(*) FROM orders",
		"  select status, count(*) from orders group by status;",
		"WITH paid AS (SELECT * FROM orders WHERE payment_status = 'paid') SELECT SUM(total) FROM paid",
		"SHOW TABLES",
		"SELECT updated_at FROM orders",
	}
	for _, q := range allowed {
		assert.NoError(t, ValidateReadOnly(q), q)
	}

	rejected := []string{
		"",
		"DELETE FROM orders",
		"SELECT 1; DROP TABLE users",
		"UPDATE orders SET status = 'placed'",
		"SELECT * FROM users INTO OUTFILE '/tmp/x'",
		"SELECT SLEEP(10)",
		"WITH x AS (SELECT 1) DELETE FROM orders",
	}
	for _, q := range rejected {
		assert.ErrorIs(t, ValidateReadOnly(q), ErrNotReadOnly, q)
	}
}

func TestQueryRunner_Run(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).
			AddRow([]byte("placed"), int64(4)).
			AddRow([]byte("shipped"), int64(2)))

	out, err := NewQueryRunner(db).Run(context.Background(), "SELECT status, COUNT(*) AS n FROM orders GROUP BY status")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"status":"placed","n":4},{"status":"shipped","n":2}]`, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRunner_RejectsWritesWithoutTouchingDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewQueryRunner(db).Run(context.Background(), "DROP TABLE orders")
	assert.ErrorIs(t, err, ErrNotReadOnly)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt()
	assert.Contains(t, p, "run_readonly_sql")
	assert.Contains(t, p, "coupon_redemptions")
	assert.NotContains(t, p, "wallet")
}
