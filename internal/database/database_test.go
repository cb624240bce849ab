package database

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	out, err := NormalizeDSN("shop:pw@tcp(127.0.0.1:3306)/toyforge")
	require.NoError(t, err)
	assert.Contains(t, out, "parseTime=true")
	assert.Contains(t, out, "time_zone=")

	c, err := mysql.ParseDSN(out)
	require.NoError(t, err)
	assert.Equal(t, "toyforge", c.DBName)
	assert.True(t, c.ParseTime)

	_, err = NormalizeDSN("::not a dsn")
	assert.Error(t, err)
}

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
	}

	joined := strings.Join(stmts, "\n")
	for _, table := range []string{"orders", "order_items", "payments", "coupon_redemptions", "showcase_sections", "password_resets"} {
		assert.Contains(t, joined, "EXISTS "+table+" (")
	}
}

func TestDeletingCategoryDetaches(t *testing.T) {
	var categories, products string
	for _, s := range Statements() {
		switch {
		case strings.Contains(s, "EXISTS categories ("):
			categories = s
		case strings.Contains(s, "EXISTS products ("):
			products = s
		}
	}
	assert.Contains(t, categories, "REFERENCES categories(id) ON DELETE SET NULL", "children move to the top level")
	assert.Contains(t, products, "REFERENCES categories(id) ON DELETE SET NULL", "products become uncategorised")
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmts := Statements()
	for _, s := range stmts[:len(stmts)-1] {
		mock.ExpectExec(regexp.QuoteMeta(s)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta(stmts[len(stmts)-1])).WillReturnError(errors.New("disk full"))

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateEntry(t *testing.T) {
	assert.True(t, IsDuplicateEntry(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, IsDuplicateEntry(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsDuplicateEntry(errors.New("other")))
}
