package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/ai"
	"github.com/toyforge/storefront/internal/auth"
	"github.com/toyforge/storefront/internal/config"
	"github.com/toyforge/storefront/internal/email"
	"github.com/toyforge/storefront/internal/middleware"
	"github.com/toyforge/storefront/internal/payment"
	"github.com/toyforge/storefront/internal/pricing"
	"go.uber.org/zap"
)

// Assistant answers analytics questions for admins.
type Assistant interface {
	Ask(ctx context.Context, question string) (*ai.Answer, error)
}

// Handlers struct holds all dependencies for our handlers.
type Handlers struct {
	DB         *sql.DB // Primary Read/Write connection
	DBReadOnly *sql.DB // Read-Only connection (dashboard, assistant)
	Config     *config.Config
	Logger     *zap.Logger
	Tokens     *auth.TokenManager
	Gateway    payment.Gateway
	Mailer     email.Mailer
	Assistant  Assistant // nil when no Gemini key is configured
	Now        func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// readDB is the pool for reporting queries.
func (h *Handlers) readDB() *sql.DB {
	if h.DBReadOnly != nil {
		return h.DBReadOnly
	}
	return h.DB
}

func (h *Handlers) pricingRules() pricing.Rules {
	s := h.Config.Store
	return pricing.Rules{
		Currency:              s.Currency,
		TaxRate:               s.TaxRate,
		StoreState:            s.StoreState,
		ShippingFlatFee:       s.ShippingFlatFee,
		FreeShippingThreshold: s.FreeShippingThreshold,
	}
}

// serverError logs err and sends a generic 500.
func (h *Handlers) serverError(c *gin.Context, msg string, err error) {
	h.Logger.Error(msg,
		zap.Error(err),
		zap.String("path", c.FullPath()),
		zap.Int64("userId", currentUserID(c)),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// apiError is a failure with a client-facing status and message.
type apiError struct {
	Status  int
	Message string
	Details gin.H
}

func (e *apiError) Error() string { return e.Message }

func newAPIError(status int, msg string) *apiError {
	return &apiError{Status: status, Message: msg}
}

// respondError writes an apiError as is; anything else is a logged 500.
func (h *Handlers) respondError(c *gin.Context, msg string, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		h.serverError(c, msg, err)
		return
	}
	body := gin.H{"error": apiErr.Message}
	for k, v := range apiErr.Details {
		body[k] = v
	}
	c.JSON(apiErr.Status, body)
}

// currentUserID returns the ID set by AuthMiddleware (0 when absent).
func currentUserID(c *gin.Context) int64 {
	id, _ := middleware.UserID(c)
	return id
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s", name)})
		return 0, false
	}
	return id, true
}

// pageParams reads ?page= and ?limit= with sane bounds.
func pageParams(c *gin.Context, defLimit, maxLimit int) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defLimit)))
	if limit < 1 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s *string) sql.NullString {
	if s == nil || strings.TrimSpace(*s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*s), Valid: true}
}
