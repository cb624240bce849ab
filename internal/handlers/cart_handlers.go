package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/toyforge/storefront/internal/models"
	"github.com/toyforge/storefront/internal/pricing"
)

//
// --- Cart Handlers (Customer) ---
//

// cartLine is one cart row joined with its variant and product.
type cartLine struct {
	Variant       models.Variant
	ProductName   string
	ProductSlug   string
	ProductStatus string
	Image         string
	Quantity      int
}

// Problem returns why the line cannot be bought right now, or "".
func (l *cartLine) Problem() string {
	switch {
	case l.ProductStatus != models.ProductStatusActive || !l.Variant.IsActive:
		return "no longer available"
	case l.Variant.Stock <= 0:
		return "out of stock"
	case !l.Variant.IsInStock(l.Quantity):
		return fmt.Sprintf("only %d left in stock", l.Variant.Stock)
	}
	return ""
}

// loadCartLines reads the user's cart. With lock the cart, variant and
// product rows stay locked until the transaction ends.
func loadCartLines(ctx context.Context, q querier, userID int64, lock bool) ([]cartLine, error) {
	query := `
		SELECT ci.quantity,
			v.id, v.product_id, v.sku, v.attributes, v.price, v.sale_price, v.stock, v.weight_grams, v.is_active, v.created_at, v.updated_at,
			p.name, p.slug, p.status, p.images
		FROM carts c
		JOIN cart_items ci ON ci.cart_id = c.id
		JOIN product_variants v ON v.id = ci.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE c.user_id = ?
		ORDER BY ci.id`
	if lock {
		query += " FOR UPDATE"
	}

	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []cartLine
	for rows.Next() {
		var l cartLine
		var images models.StringList
		v := &l.Variant
		if err := rows.Scan(&l.Quantity,
			&v.ID, &v.ProductID, &v.SKU, &v.Attributes, &v.Price, &v.SalePrice, &v.Stock, &v.WeightGrams, &v.IsActive, &v.CreatedAt, &v.UpdatedAt,
			&l.ProductName, &l.ProductSlug, &l.ProductStatus, &images,
		); err != nil {
			return nil, err
		}
		if len(images) > 0 {
			l.Image = images[0]
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// getOrCreateCartID finds a user's cart or creates one.
func getOrCreateCartID(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var cartID int64

	// 1. Try to find an existing cart
	err := tx.QueryRowContext(ctx, "SELECT id FROM carts WHERE user_id = ? FOR UPDATE", userID).Scan(&cartID)
	if err == nil {
		return cartID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// 2. No cart yet, create one
	res, err := tx.ExecContext(ctx, "INSERT INTO carts (user_id) VALUES (?)", userID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CartItemResponse is one line of GET /v1/cart.
type CartItemResponse struct {
	VariantID   int64             `json:"variantId"`
	ProductID   int64             `json:"productId"`
	ProductName string            `json:"productName"`
	ProductSlug string            `json:"productSlug"`
	Image       string            `json:"image,omitempty"`
	SKU         string            `json:"sku"`
	Attributes  models.Attributes `json:"attributes"`
	Price       decimal.Decimal   `json:"price"`
	UnitPrice   decimal.Decimal   `json:"unitPrice"`
	OnSale      bool              `json:"onSale"`
	Quantity    int               `json:"quantity"`
	LineTotal   decimal.Decimal   `json:"lineTotal"`
	Stock       int               `json:"stock"`
	Problem     string            `json:"problem,omitempty"`
}

// GetCart handles GET /v1/cart
func (h *Handlers) GetCart(c *gin.Context) {
	lines, err := loadCartLines(c.Request.Context(), h.DB, currentUserID(c), false)
	if err != nil {
		h.serverError(c, "Failed to fetch cart", err)
		return
	}

	items := make([]CartItemResponse, 0, len(lines))
	subtotal := decimal.Zero
	totalItems := 0
	purchasable := true
	for _, l := range lines {
		unit := l.Variant.EffectivePrice()
		item := CartItemResponse{
			VariantID:   l.Variant.ID,
			ProductID:   l.Variant.ProductID,
			ProductName: l.ProductName,
			ProductSlug: l.ProductSlug,
			Image:       l.Image,
			SKU:         l.Variant.SKU,
			Attributes:  l.Variant.Attributes,
			Price:       l.Variant.Price,
			UnitPrice:   unit,
			OnSale:      l.Variant.OnSale(),
			Quantity:    l.Quantity,
			LineTotal:   unit.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2),
			Stock:       l.Variant.Stock,
			Problem:     l.Problem(),
		}
		if item.Problem != "" {
			purchasable = false
		}
		subtotal = subtotal.Add(item.LineTotal)
		totalItems += l.Quantity
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"subtotal":    subtotal,
		"totalItems":  totalItems,
		"currency":    h.Config.Store.Currency,
		"canCheckout": purchasable && len(items) > 0,
	})
}

// AddToCartInput selects a variant either directly or by product + attributes.
type AddToCartInput struct {
	VariantID  int64             `json:"variantId" binding:"omitempty,gt=0"`
	ProductID  int64             `json:"productId" binding:"omitempty,gt=0"`
	Attributes map[string]string `json:"attributes"`
	Quantity   int               `json:"quantity" binding:"required,gt=0"`
}

// AddToCart handles POST /v1/cart/items
func (h *Handlers) AddToCart(c *gin.Context) {
	userID := currentUserID(c)
	var input AddToCartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if input.VariantID == 0 && input.ProductID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variantId or productId is required"})
		return
	}
	ctx := c.Request.Context()

	// 1. --- Resolve Variant ---
	variant, err := h.resolveVariant(ctx, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found or not available"})
			return
		}
		if errors.Is(err, errNoMatchingVariant) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No variant matches the selected options"})
			return
		}
		h.serverError(c, "Failed to look up product", err)
		return
	}

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Transaction failed", err)
		return
	}
	defer tx.Rollback()

	cartID, err := getOrCreateCartID(ctx, tx, userID)
	if err != nil {
		h.serverError(c, "Cart initialization failed", err)
		return
	}

	// 2. --- Check Quantity Against Stock & Line Cap ---
	var existing int
	err = tx.QueryRowContext(ctx, "SELECT quantity FROM cart_items WHERE cart_id = ? AND variant_id = ?", cartID, variant.ID).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.serverError(c, "Failed to read cart", err)
		return
	}
	want := existing + input.Quantity
	if want > models.MaxCartLineQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("You can buy at most %d of an item", models.MaxCartLineQuantity)})
		return
	}
	if !variant.IsInStock(want) {
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock", "available": variant.Stock})
		return
	}

	// 3. --- Upsert ---
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, variant_id, quantity)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), updated_at = NOW()`,
		cartID, variant.ID, want)
	if err != nil {
		h.serverError(c, "Failed to update cart", err)
		return
	}

	if err := tx.Commit(); err != nil {
		h.serverError(c, "Commit failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Item added to cart", "variantId": variant.ID, "quantity": want})
}

var errNoMatchingVariant = errors.New("no matching variant")

// resolveVariant finds the active variant of an active product named by input.
func (h *Handlers) resolveVariant(ctx context.Context, input AddToCartInput) (*models.Variant, error) {
	if input.VariantID != 0 {
		row := h.DB.QueryRowContext(ctx, `
			SELECT v.id, v.product_id, v.sku, v.attributes, v.price, v.sale_price, v.stock, v.weight_grams, v.is_active, v.created_at, v.updated_at
			FROM product_variants v JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.is_active = TRUE AND p.status = ?`,
			input.VariantID, models.ProductStatusActive)
		return scanVariant(row)
	}

	var product models.Product
	err := h.DB.QueryRowContext(ctx, "SELECT id FROM products WHERE id = ? AND status = ?", input.ProductID, models.ProductStatusActive).Scan(&product.ID)
	if err != nil {
		return nil, err
	}
	products := []models.Product{product}
	if err := h.attachVariants(ctx, h.DB, products, true); err != nil {
		return nil, err
	}
	v, ok := products[0].FindVariant(input.Attributes)
	if !ok {
		return nil, errNoMatchingVariant
	}
	return v, nil
}

// UpdateCartItemInput sets a line's quantity; 0 removes it.
type UpdateCartItemInput struct {
	Quantity *int `json:"quantity" binding:"required,gte=0"`
}

// UpdateCartItem handles PUT /v1/cart/items/:variant_id
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	variantID, ok := idParam(c, "variant_id")
	if !ok {
		return
	}
	var input UpdateCartItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qty := *input.Quantity

	// --- Handle Quantity ---
	if qty == 0 {
		h.deleteCartItem(c, variantID)
		return
	}
	if qty > models.MaxCartLineQuantity {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("You can buy at most %d of an item", models.MaxCartLineQuantity)})
		return
	}
	ctx := c.Request.Context()

	// 1. --- Check Stock ---
	var stock int
	err := h.DB.QueryRowContext(ctx, "SELECT stock FROM product_variants WHERE id = ? AND is_active = TRUE", variantID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not available"})
			return
		}
		h.serverError(c, "Failed to check stock", err)
		return
	}
	if stock < qty {
		c.JSON(http.StatusConflict, gin.H{"error": "Not enough stock available for this quantity", "available": stock})
		return
	}

	// 2. --- Execute Update ---
	result, err := h.DB.ExecContext(ctx, `
		UPDATE cart_items ci JOIN carts c ON c.id = ci.cart_id
		SET ci.quantity = ?, ci.updated_at = ?
		WHERE c.user_id = ? AND ci.variant_id = ?`,
		qty, h.now(), currentUserID(c), variantID)
	if err != nil {
		h.serverError(c, "Failed to update item", err)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found in cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart item quantity updated"})
}

// DeleteCartItem handles DELETE /v1/cart/items/:variant_id
func (h *Handlers) DeleteCartItem(c *gin.Context) {
	variantID, ok := idParam(c, "variant_id")
	if !ok {
		return
	}
	h.deleteCartItem(c, variantID)
}

func (h *Handlers) deleteCartItem(c *gin.Context, variantID int64) {
	result, err := h.DB.ExecContext(c.Request.Context(), `
		DELETE ci FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = ? AND ci.variant_id = ?`,
		currentUserID(c), variantID)
	if err != nil {
		h.serverError(c, "Failed to delete item", err)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found in cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart item removed"})
}

// ClearCart handles DELETE /v1/cart
func (h *Handlers) ClearCart(c *gin.Context) {
	if err := clearCart(c.Request.Context(), h.DB, currentUserID(c)); err != nil {
		h.serverError(c, "Failed to clear cart", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

func clearCart(ctx context.Context, q querier, userID int64) error {
	_, err := q.ExecContext(ctx, "DELETE ci FROM cart_items ci JOIN carts c ON c.id = ci.cart_id WHERE c.user_id = ?", userID)
	return err
}

// pricingLines converts cart lines for the pricing engine.
func pricingLines(lines []cartLine) []pricing.Line {
	out := make([]pricing.Line, 0, len(lines))
	for i := range lines {
		out = append(out, pricing.NewLine(lines[i].ProductName, &lines[i].Variant, lines[i].Quantity))
	}
	return out
}
