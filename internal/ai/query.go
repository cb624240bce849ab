package ai

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxResultRows caps how many rows one tool call hands back to the model.
const MaxResultRows = 200

var ErrNotReadOnly = errors.New("security violation: only single SELECT statements are allowed")

var forbiddenWords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|REPLACE|GRANT|REVOKE|RENAME|CALL|LOCK|HANDLER|LOAD|INTO\s+OUTFILE|INTO\s+DUMPFILE|SLEEP|BENCHMARK)\b`)

// ValidateReadOnly rejects anything but one SELECT / WITH / SHOW / DESCRIBE statement.
func ValidateReadOnly(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") {
		return ErrNotReadOnly
	}
	fields := strings.Fields(q)
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN":
	default:
		return ErrNotReadOnly
	}
	if forbiddenWords.MatchString(q) {
		return ErrNotReadOnly
	}
	return nil
}

// QueryRunner executes validated queries and returns rows as JSON.
type QueryRunner struct {
	db *sql.DB
}

func NewQueryRunner(db *sql.DB) *QueryRunner {
	return &QueryRunner{db: db}
}

// Run executes query and encodes at most MaxResultRows rows.
func (r *QueryRunner) Run(ctx context.Context, query string) (string, error) {
	if err := ValidateReadOnly(query); err != nil {
		return "", err
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	tableData := []map[string]interface{}{}
	for len(tableData) < MaxResultRows && rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return "", fmt.Errorf("scan row: %w", err)
		}

		entry := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				entry[col] = string(b)
			} else {
				entry[col] = values[i]
			}
		}
		tableData = append(tableData, entry)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	jsonData, err := json.Marshal(tableData)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}
