package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
)

// --- Category Handlers ---

type CreateCategoryInput struct {
	Name     string `json:"name" binding:"required,max=120"`
	ParentID *int64 `json:"parentId" binding:"omitempty,gt=0"`
}

// CreateCategory handles POST /v1/admin/categories
func (h *Handlers) CreateCategory(c *gin.Context) {
	var input CreateCategoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if input.ParentID != nil {
		var parent int64
		err := h.DB.QueryRowContext(ctx, "SELECT id FROM categories WHERE id = ?", *input.ParentID).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Parent category not found"})
			return
		}
		if err != nil {
			h.serverError(c, "Failed to look up parent category", err)
			return
		}
	}

	categorySlug, err := uniqueSlug(ctx, h.DB, "categories", input.Name, 0)
	if err != nil {
		h.serverError(c, "Failed to generate slug", err)
		return
	}

	now := h.now()
	name := strings.TrimSpace(input.Name)
	res, err := h.DB.ExecContext(ctx,
		"INSERT INTO categories (name, slug, parent_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		name, categorySlug, input.ParentID, now, now,
	)
	if err != nil {
		h.serverError(c, "Failed to create category", err)
		return
	}
	id, _ := res.LastInsertId()

	// Return the full object so the UI can update the tree immediately
	c.JSON(http.StatusCreated, gin.H{"message": "Category created", "category": models.Category{
		ID:        id,
		Name:      name,
		Slug:      categorySlug,
		ParentID:  input.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}})
}

// GetAllCategories handles GET /v1/categories (tree)
func (h *Handlers) GetAllCategories(c *gin.Context) {
	rows, err := h.DB.QueryContext(c.Request.Context(),
		"SELECT id, name, slug, parent_id, created_at, updated_at FROM categories ORDER BY name ASC")
	if err != nil {
		h.serverError(c, "Failed to fetch categories", err)
		return
	}
	defer rows.Close()

	var flat []models.Category
	for rows.Next() {
		var cat models.Category
		var parentID sql.NullInt64
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Slug, &parentID, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
			h.serverError(c, "Failed to scan category", err)
			return
		}
		if parentID.Valid {
			cat.ParentID = &parentID.Int64
		}
		flat = append(flat, cat)
	}
	if err := rows.Err(); err != nil {
		h.serverError(c, "Failed to read categories", err)
		return
	}

	tree := models.BuildCategoryTree(flat)
	if tree == nil {
		tree = []models.Category{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": tree})
}

// DeleteCategory handles DELETE /v1/admin/categories/:id
// Products and child categories are detached by the foreign keys.
func (h *Handlers) DeleteCategory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.DB.ExecContext(c.Request.Context(), "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		h.serverError(c, "Failed to delete category", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted"})
}

// --- Brand Handlers ---

// BrandCount is a brand name with its number of live products.
type BrandCount struct {
	Name     string `json:"name"`
	Products int    `json:"products"`
}

// GetAllBrands handles GET /v1/brands
func (h *Handlers) GetAllBrands(c *gin.Context) {
	rows, err := h.DB.QueryContext(c.Request.Context(), `
		SELECT brand, COUNT(*)
		FROM products
		WHERE status = ? AND brand <> ''
		GROUP BY brand
		ORDER BY brand ASC`, models.ProductStatusActive)
	if err != nil {
		h.serverError(c, "Failed to fetch brands", err)
		return
	}
	defer rows.Close()

	brands := []BrandCount{}
	for rows.Next() {
		var b BrandCount
		if err := rows.Scan(&b.Name, &b.Products); err != nil {
			h.serverError(c, "Failed to scan brand", err)
			return
		}
		brands = append(brands, b)
	}
	c.JSON(http.StatusOK, gin.H{"brands": brands})
}
