package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/toyforge/storefront/internal/database"
	"github.com/toyforge/storefront/internal/models"
)

const variantColumns = "id, product_id, sku, attributes, price, sale_price, stock, weight_grams, is_active, created_at, updated_at"

func scanVariant(row interface{ Scan(...interface{}) error }) (*models.Variant, error) {
	var v models.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Attributes, &v.Price, &v.SalePrice, &v.Stock, &v.WeightGrams, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const productColumns = "p.id, p.slug, p.name, p.description, p.brand, p.category_id, p.images, p.status, p.created_at, p.updated_at, COALESCE(c.name, '')"

func scanProduct(row interface{ Scan(...interface{}) error }) (*models.Product, error) {
	var p models.Product
	var categoryID sql.NullInt64
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Brand, &categoryID, &p.Images, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.CategoryName)
	if err != nil {
		return nil, err
	}
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if p.Images == nil {
		p.Images = models.StringList{}
	}
	return &p, nil
}

// attachVariants loads the variants of every product in one query.
func (h *Handlers) attachVariants(ctx context.Context, q querier, products []models.Product, activeOnly bool) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]int64, len(products))
	index := make(map[int64]int, len(products))
	for i := range products {
		ids[i] = products[i].ID
		index[products[i].ID] = i
		products[i].Variants = []models.Variant{}
	}

	query := "SELECT " + variantColumns + " FROM product_variants WHERE product_id IN (" + placeholders(len(ids)) + ")"
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY product_id, id"

	rows, err := q.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return err
		}
		i := index[v.ProductID]
		products[i].Variants = append(products[i].Variants, *v)
	}
	return rows.Err()
}

// uniqueSlug appends -2, -3 ... until the slug is free in table.
func uniqueSlug(ctx context.Context, q querier, table, text string, excludeID int64) (string, error) {
	base := slug.Make(text)
	if base == "" {
		base = "item"
	}
	candidate := base
	for i := 2; ; i++ {
		var n int
		err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE slug = ? AND id <> ?", candidate, excludeID).Scan(&n)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

//
// --- Public Catalogue ---
//

// effectivePriceSQL mirrors Variant.EffectivePrice.
const effectivePriceSQL = "CASE WHEN v.sale_price IS NOT NULL AND v.sale_price > 0 AND v.sale_price < v.price THEN v.sale_price ELSE v.price END"

// ListProducts handles GET /v1/products?q=&category=&brand=&sort=&page=&limit=
func (h *Handlers) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()
	page, limit, offset := pageParams(c, 20, 100)

	// 1. --- Build Filters ---
	where := []string{"p.status = ?"}
	args := []interface{}{models.ProductStatusActive}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		where = append(where, "(p.name LIKE ? OR p.brand LIKE ? OR p.description LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	if cat := strings.TrimSpace(c.Query("category")); cat != "" {
		// A category matches itself and its direct children.
		where = append(where, "(c.slug = ? OR c.parent_id = (SELECT id FROM categories WHERE slug = ?))")
		args = append(args, cat, cat)
	}
	if brand := strings.TrimSpace(c.Query("brand")); brand != "" {
		where = append(where, "p.brand = ?")
		args = append(args, brand)
	}

	orderBy := "p.created_at DESC, p.id DESC"
	switch c.DefaultQuery("sort", "newest") {
	case "newest":
	case "price_asc":
		orderBy = "min_price ASC, p.id"
	case "price_desc":
		orderBy = "min_price DESC, p.id"
	case "name":
		orderBy = "p.name ASC, p.id"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be one of newest, price_asc, price_desc, name"})
		return
	}

	from := " FROM products p LEFT JOIN categories c ON c.id = p.category_id WHERE " + strings.Join(where, " AND ")

	// 2. --- Count ---
	var total int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		h.serverError(c, "Failed to count products", err)
		return
	}

	// 3. --- Page ---
	query := "SELECT " + productColumns +
		", (SELECT MIN(" + effectivePriceSQL + ") FROM product_variants v WHERE v.product_id = p.id AND v.is_active = TRUE) AS min_price" +
		from + " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	rows, err := h.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		h.serverError(c, "Failed to fetch products", err)
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		var categoryID sql.NullInt64
		var minPrice decimal.NullDecimal
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Brand, &categoryID, &p.Images, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.CategoryName, &minPrice); err != nil {
			h.serverError(c, "Failed to scan product", err)
			return
		}
		if categoryID.Valid {
			p.CategoryID = &categoryID.Int64
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		h.serverError(c, "Failed to read products", err)
		return
	}

	if err := h.attachVariants(ctx, h.DB, products, true); err != nil {
		h.serverError(c, "Failed to fetch variants", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"page":     page,
		"limit":    limit,
		"total":    total,
	})
}

// GetProductBySlug handles GET /v1/products/:slug
func (h *Handlers) GetProductBySlug(c *gin.Context) {
	ctx := c.Request.Context()
	row := h.DB.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products p LEFT JOIN categories c ON c.id = p.category_id WHERE p.slug = ? AND p.status = ?",
		c.Param("slug"), models.ProductStatusActive,
	)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		h.serverError(c, "Failed to fetch product", err)
		return
	}

	products := []models.Product{*p}
	if err := h.attachVariants(ctx, h.DB, products, true); err != nil {
		h.serverError(c, "Failed to fetch variants", err)
		return
	}
	lo, hi := products[0].PriceRange()

	c.JSON(http.StatusOK, gin.H{
		"product":  products[0],
		"minPrice": lo,
		"maxPrice": hi,
	})
}

//
// --- Admin: Product CRUD ---
//

type VariantInput struct {
	SKU         string              `json:"sku" binding:"required,max=64"`
	Attributes  map[string]string   `json:"attributes"`
	Price       decimal.Decimal     `json:"price"`
	SalePrice   decimal.NullDecimal `json:"salePrice"`
	Stock       int                 `json:"stock" binding:"gte=0"`
	WeightGrams int                 `json:"weightGrams" binding:"gte=0"`
	IsActive    *bool               `json:"isActive"`
}

func (in *VariantInput) validate() error {
	if !in.Price.IsPositive() {
		return fmt.Errorf("variant %s: price must be positive", in.SKU)
	}
	if in.SalePrice.Valid && in.SalePrice.Decimal.IsNegative() {
		return fmt.Errorf("variant %s: sale price cannot be negative", in.SKU)
	}
	if in.Price.Exponent() < -2 || (in.SalePrice.Valid && in.SalePrice.Decimal.Exponent() < -2) {
		return fmt.Errorf("variant %s: prices have at most two decimal places", in.SKU)
	}
	return nil
}

func (in *VariantInput) active() bool {
	return in.IsActive == nil || *in.IsActive
}

func insertVariant(ctx context.Context, q querier, productID int64, in VariantInput) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO product_variants (product_id, sku, attributes, price, sale_price, stock, weight_grams, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		productID, strings.TrimSpace(in.SKU), models.Attributes(in.Attributes), in.Price, in.SalePrice, in.Stock, in.WeightGrams, in.active(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type CreateProductInput struct {
	Name        string         `json:"name" binding:"required,max=255"`
	Description string         `json:"description"`
	Brand       string         `json:"brand" binding:"max=120"`
	CategoryID  *int64         `json:"categoryId"`
	Images      []string       `json:"images" binding:"dive,url"`
	Status      string         `json:"status" binding:"omitempty,oneof=draft active archived"`
	Variants    []VariantInput `json:"variants" binding:"dive"`
}

// CreateProduct handles POST /v1/admin/products
func (h *Handlers) CreateProduct(c *gin.Context) {
	var input CreateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Status == "" {
		input.Status = models.ProductStatusDraft
	}

	// 1. --- Validation Logic ---
	for i := range input.Variants {
		if err := input.Variants[i].validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if input.Status == models.ProductStatusActive && len(input.Variants) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "An active product needs at least one variant"})
		return
	}

	ctx := c.Request.Context()
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	// 2. --- Slug ---
	productSlug, err := uniqueSlug(ctx, tx, "products", input.Name, 0)
	if err != nil {
		h.serverError(c, "Failed to generate slug", err)
		return
	}

	// 3. --- Insert Product & Variants ---
	res, err := tx.ExecContext(ctx, `
		INSERT INTO products (slug, name, description, brand, category_id, images, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		productSlug, strings.TrimSpace(input.Name), input.Description, strings.TrimSpace(input.Brand),
		input.CategoryID, models.StringList(input.Images), input.Status,
	)
	if err != nil {
		h.serverError(c, "Failed to create product", err)
		return
	}
	productID, err := res.LastInsertId()
	if err != nil {
		h.serverError(c, "Failed to get new product ID", err)
		return
	}

	for _, v := range input.Variants {
		if _, err := insertVariant(ctx, tx, productID, v); err != nil {
			if database.IsDuplicateEntry(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "SKU already exists: " + v.SKU})
				return
			}
			h.serverError(c, "Failed to create variant", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Product created",
		"productId": productID,
		"slug":      productSlug,
	})
}

type UpdateProductInput struct {
	Name        *string   `json:"name" binding:"omitempty,max=255"`
	Description *string   `json:"description"`
	Brand       *string   `json:"brand" binding:"omitempty,max=120"`
	CategoryID  *int64    `json:"categoryId"`
	Images      *[]string `json:"images" binding:"omitempty,dive,url"`
	Status      *string   `json:"status" binding:"omitempty,oneof=draft active archived"`
}

// UpdateProduct handles PUT /v1/admin/products/:id
func (h *Handlers) UpdateProduct(c *gin.Context) {
	productID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input UpdateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	// 1. --- Build SET clause from the fields that were sent ---
	sets := []string{}
	args := []interface{}{}
	if input.Name != nil {
		newSlug, err := uniqueSlug(ctx, h.DB, "products", *input.Name, productID)
		if err != nil {
			h.serverError(c, "Failed to generate slug", err)
			return
		}
		sets = append(sets, "name = ?", "slug = ?")
		args = append(args, strings.TrimSpace(*input.Name), newSlug)
	}
	if input.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *input.Description)
	}
	if input.Brand != nil {
		sets = append(sets, "brand = ?")
		args = append(args, strings.TrimSpace(*input.Brand))
	}
	if input.CategoryID != nil {
		sets = append(sets, "category_id = ?")
		args = append(args, *input.CategoryID)
	}
	if input.Images != nil {
		sets = append(sets, "images = ?")
		args = append(args, models.StringList(*input.Images))
	}
	if input.Status != nil {
		if *input.Status == models.ProductStatusActive {
			var n int
			if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM product_variants WHERE product_id = ? AND is_active = TRUE", productID).Scan(&n); err != nil {
				h.serverError(c, "Failed to count variants", err)
				return
			}
			if n == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "An active product needs at least one active variant"})
				return
			}
		}
		sets = append(sets, "status = ?")
		args = append(args, *input.Status)
	}
	if len(sets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	// 2. --- Execute ---
	sets = append(sets, "updated_at = ?")
	args = append(args, h.now(), productID)
	res, err := h.DB.ExecContext(ctx, "UPDATE products SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		h.serverError(c, "Failed to update product", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product updated"})
}

// DeleteProduct handles DELETE /v1/admin/products/:id
// Products are archived, not removed, so past orders keep their references.
func (h *Handlers) DeleteProduct(c *gin.Context) {
	productID, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.DB.ExecContext(c.Request.Context(),
		"UPDATE products SET status = ?, updated_at = ? WHERE id = ?",
		models.ProductStatusArchived, h.now(), productID,
	)
	if err != nil {
		h.serverError(c, "Failed to archive product", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product archived"})
}

// AddVariant handles POST /v1/admin/products/:id/variants
func (h *Handlers) AddVariant(c *gin.Context) {
	productID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input VariantInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var exists int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM products WHERE id = ?", productID).Scan(&exists); err != nil {
		h.serverError(c, "Failed to look up product", err)
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	variantID, err := insertVariant(ctx, h.DB, productID, input)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "SKU already exists: " + input.SKU})
			return
		}
		h.serverError(c, "Failed to create variant", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Variant created", "variantId": variantID})
}

type UpdateVariantInput struct {
	Attributes     map[string]string   `json:"attributes"`
	Price          decimal.NullDecimal `json:"price"`
	SalePrice      decimal.NullDecimal `json:"salePrice"`
	ClearSalePrice bool                `json:"clearSalePrice"`
	Stock          *int                `json:"stock" binding:"omitempty,gte=0"`
	WeightGrams    *int                `json:"weightGrams" binding:"omitempty,gte=0"`
	IsActive       *bool               `json:"isActive"`
}

// UpdateVariant handles PUT /v1/admin/variants/:id
func (h *Handlers) UpdateVariant(c *gin.Context) {
	variantID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input UpdateVariantInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sets := []string{}
	args := []interface{}{}
	if input.Attributes != nil {
		sets = append(sets, "attributes = ?")
		args = append(args, models.Attributes(input.Attributes))
	}
	if input.Price.Valid {
		if !input.Price.Decimal.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
			return
		}
		sets = append(sets, "price = ?")
		args = append(args, input.Price.Decimal)
	}
	switch {
	case input.ClearSalePrice:
		sets = append(sets, "sale_price = NULL")
	case input.SalePrice.Valid:
		if input.SalePrice.Decimal.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sale price cannot be negative"})
			return
		}
		sets = append(sets, "sale_price = ?")
		args = append(args, input.SalePrice.Decimal)
	}
	if input.Stock != nil {
		sets = append(sets, "stock = ?")
		args = append(args, *input.Stock)
	}
	if input.WeightGrams != nil {
		sets = append(sets, "weight_grams = ?")
		args = append(args, *input.WeightGrams)
	}
	if input.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *input.IsActive)
	}
	if len(sets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, h.now(), variantID)
	res, err := h.DB.ExecContext(c.Request.Context(), "UPDATE product_variants SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		h.serverError(c, "Failed to update variant", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Variant not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Variant updated", "variantId": variantID})
}
