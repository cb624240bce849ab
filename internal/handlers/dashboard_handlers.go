package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/toyforge/storefront/internal/models"
	"golang.org/x/sync/errgroup"
)

//
// --- Admin Dashboard ---
//
// Every query runs on the read-only pool.

// revenueStatuses are the order statuses that count as sales.
var revenueStatuses = []interface{}{
	models.OrderStatusPlaced,
	models.OrderStatusProcessing,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
}

var revenueFilter = "status IN (" + placeholders(len(revenueStatuses)) + ")"

type DashboardSummary struct {
	Revenue           decimal.Decimal `json:"revenue"`
	RevenueToday      decimal.Decimal `json:"revenueToday"`
	Orders            int             `json:"orders"`
	OrdersToday       int             `json:"ordersToday"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
	AwaitingPayment   int             `json:"awaitingPayment"`
	ToFulfil          int             `json:"toFulfil"`
	Customers         int             `json:"customers"`
	LowStockVariants  int             `json:"lowStockVariants"`
}

// GetDashboardSummary handles GET /v1/admin/dashboard/summary
func (h *Handlers) GetDashboardSummary(c *gin.Context) {
	db := h.readDB()
	today := h.now().Truncate(24 * time.Hour)
	var s DashboardSummary

	g, ctx := errgroup.WithContext(c.Request.Context())

	// 1. Revenue & order count
	g.Go(func() error {
		return db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(total), 0), COUNT(*) FROM orders WHERE "+revenueFilter, revenueStatuses...,
		).Scan(&s.Revenue, &s.Orders)
	})
	// 2. Today
	g.Go(func() error {
		return db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(total), 0), COUNT(*) FROM orders WHERE "+revenueFilter+" AND created_at >= ?",
			append(append([]interface{}{}, revenueStatuses...), today)...,
		).Scan(&s.RevenueToday, &s.OrdersToday)
	})
	// 3. Pipeline
	g.Go(func() error {
		return db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(status = ?), 0), COALESCE(SUM(status IN (?, ?)), 0) FROM orders`,
			models.OrderStatusPendingPayment, models.OrderStatusPlaced, models.OrderStatusProcessing,
		).Scan(&s.AwaitingPayment, &s.ToFulfil)
	})
	// 4. Customers
	g.Go(func() error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role = ?", models.RoleCustomer).Scan(&s.Customers)
	})
	// 5. Low stock
	g.Go(func() error {
		return db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.is_active = TRUE AND p.status = ? AND v.stock <= ?`,
			models.ProductStatusActive, h.Config.Store.LowStockThreshold,
		).Scan(&s.LowStockVariants)
	})

	if err := g.Wait(); err != nil {
		h.serverError(c, "Failed to load dashboard summary", err)
		return
	}
	if s.Orders > 0 {
		s.AverageOrderValue = s.Revenue.Div(decimal.NewFromInt(int64(s.Orders))).Round(2)
	}
	c.JSON(http.StatusOK, s)
}

// SalesPoint is one bucket of the sales chart.
type SalesPoint struct {
	Period  string          `json:"period"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int             `json:"orders"`
}

// salesRange describes the buckets of a sales chart.
type salesRange struct {
	Start     time.Time
	Periods   []string
	SQLFormat string
}

// parseSalesRange turns 7d, 30d or 12m into zero-filled buckets ending at now.
func parseSalesRange(r string, now time.Time) (*salesRange, error) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch r {
	case "", "7d", "30d":
		days := 7
		if r == "30d" {
			days = 30
		}
		sr := &salesRange{Start: day.AddDate(0, 0, -(days - 1)), SQLFormat: "%Y-%m-%d"}
		for i := 0; i < days; i++ {
			sr.Periods = append(sr.Periods, sr.Start.AddDate(0, 0, i).Format("2006-01-02"))
		}
		return sr, nil
	case "12m":
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		sr := &salesRange{Start: month.AddDate(0, -11, 0), SQLFormat: "%Y-%m"}
		for i := 0; i < 12; i++ {
			sr.Periods = append(sr.Periods, sr.Start.AddDate(0, i, 0).Format("2006-01"))
		}
		return sr, nil
	}
	return nil, fmt.Errorf("unknown range %q (use 7d, 30d or 12m)", r)
}

// GetSalesChart handles GET /v1/admin/dashboard/sales?range=7d|30d|12m
func (h *Handlers) GetSalesChart(c *gin.Context) {
	sr, err := parseSalesRange(c.Query("range"), h.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// SQLFormat comes from parseSalesRange, never from the request.
	args := append(append([]interface{}{}, revenueStatuses...), sr.Start)
	rows, err := h.readDB().QueryContext(c.Request.Context(), `
		SELECT DATE_FORMAT(created_at, '`+sr.SQLFormat+`') AS period, COALESCE(SUM(total), 0), COUNT(*)
		FROM orders
		WHERE `+revenueFilter+` AND created_at >= ?
		GROUP BY period`, args...)
	if err != nil {
		h.serverError(c, "Failed to load sales", err)
		return
	}
	defer rows.Close()

	byPeriod := make(map[string]SalesPoint)
	for rows.Next() {
		var p SalesPoint
		if err := rows.Scan(&p.Period, &p.Revenue, &p.Orders); err != nil {
			h.serverError(c, "Failed to scan sales", err)
			return
		}
		byPeriod[p.Period] = p
	}
	if err := rows.Err(); err != nil {
		h.serverError(c, "Failed to read sales", err)
		return
	}

	points := make([]SalesPoint, 0, len(sr.Periods))
	for _, period := range sr.Periods {
		p, ok := byPeriod[period]
		if !ok {
			p = SalesPoint{Period: period, Revenue: decimal.Zero}
		}
		points = append(points, p)
	}
	c.JSON(http.StatusOK, gin.H{"range": c.DefaultQuery("range", "7d"), "points": points})
}

type TopProduct struct {
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	UnitsSold   int             `json:"unitsSold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// GetTopProducts handles GET /v1/admin/dashboard/top-products?limit=
func (h *Handlers) GetTopProducts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 1 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}

	rows, err := h.readDB().QueryContext(c.Request.Context(), `
		SELECT oi.product_id, MAX(oi.product_name), SUM(oi.quantity) AS units, SUM(oi.line_total)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.`+revenueFilter+`
		GROUP BY oi.product_id
		ORDER BY units DESC, oi.product_id ASC
		LIMIT ?`, append(append([]interface{}{}, revenueStatuses...), limit)...)
	if err != nil {
		h.serverError(c, "Failed to load top products", err)
		return
	}
	defer rows.Close()

	products := []TopProduct{}
	for rows.Next() {
		var p TopProduct
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.UnitsSold, &p.Revenue); err != nil {
			h.serverError(c, "Failed to scan top product", err)
			return
		}
		products = append(products, p)
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// GetOrderStatusBreakdown handles GET /v1/admin/dashboard/order-status
// Every status is present, zero when no order has it.
func (h *Handlers) GetOrderStatusBreakdown(c *gin.Context) {
	rows, err := h.readDB().QueryContext(c.Request.Context(), "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		h.serverError(c, "Failed to load order statuses", err)
		return
	}
	defer rows.Close()

	counts := map[string]int{
		models.OrderStatusPendingPayment: 0,
		models.OrderStatusPlaced:         0,
		models.OrderStatusProcessing:     0,
		models.OrderStatusShipped:        0,
		models.OrderStatusDelivered:      0,
		models.OrderStatusCancelled:      0,
		models.OrderStatusExpired:        0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			h.serverError(c, "Failed to scan order status", err)
			return
		}
		counts[status] = n
	}
	c.JSON(http.StatusOK, gin.H{"statuses": counts})
}

type LowStockItem struct {
	VariantID   int64             `json:"variantId"`
	ProductID   int64             `json:"productId"`
	ProductName string            `json:"productName"`
	SKU         string            `json:"sku"`
	Attributes  models.Attributes `json:"attributes"`
	Stock       int               `json:"stock"`
}

// GetLowStock handles GET /v1/admin/dashboard/low-stock?threshold=
func (h *Handlers) GetLowStock(c *gin.Context) {
	threshold := h.Config.Store.LowStockThreshold
	if t := c.Query("threshold"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a non-negative integer"})
			return
		}
		threshold = n
	}

	rows, err := h.readDB().QueryContext(c.Request.Context(), `
		SELECT v.id, v.product_id, p.name, v.sku, v.attributes, v.stock
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.is_active = TRUE AND p.status = ? AND v.stock <= ?
		ORDER BY v.stock ASC, v.id ASC
		LIMIT 100`, models.ProductStatusActive, threshold)
	if err != nil {
		h.serverError(c, "Failed to load low stock", err)
		return
	}
	defer rows.Close()

	items := []LowStockItem{}
	for rows.Next() {
		var it LowStockItem
		if err := rows.Scan(&it.VariantID, &it.ProductID, &it.ProductName, &it.SKU, &it.Attributes, &it.Stock); err != nil {
			h.serverError(c, "Failed to scan low stock item", err)
			return
		}
		items = append(items, it)
	}
	c.JSON(http.StatusOK, gin.H{"threshold": threshold, "items": items})
}
