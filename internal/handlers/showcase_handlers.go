package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
)

const showcaseColumns = "id, title, slug, subtitle, layout, position, starts_at, ends_at, is_active, created_at, updated_at"

const maxShowcaseProducts = 50

func scanShowcase(row interface{ Scan(...interface{}) error }) (*models.ShowcaseSection, error) {
	var s models.ShowcaseSection
	var startsAt, endsAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Title, &s.Slug, &s.Subtitle, &s.Layout, &s.Position, &startsAt, &endsAt,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if startsAt.Valid {
		s.StartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		s.EndsAt = &endsAt.Time
	}
	s.ProductIDs = []int64{}
	return &s, nil
}

func listShowcases(ctx context.Context, q querier, activeOnly bool) ([]models.ShowcaseSection, error) {
	query := "SELECT " + showcaseColumns + " FROM showcase_sections"
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY position ASC, id ASC"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sections := []models.ShowcaseSection{}
	for rows.Next() {
		s, err := scanShowcase(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, *s)
	}
	return sections, rows.Err()
}

// attachShowcaseProductIDs fills ProductIDs in display order.
func attachShowcaseProductIDs(ctx context.Context, q querier, sections []models.ShowcaseSection) error {
	if len(sections) == 0 {
		return nil
	}
	ids := make([]int64, len(sections))
	index := make(map[int64]int, len(sections))
	for i := range sections {
		ids[i] = sections[i].ID
		index[sections[i].ID] = i
	}
	rows, err := q.QueryContext(ctx,
		"SELECT section_id, product_id FROM showcase_products WHERE section_id IN ("+placeholders(len(ids))+") ORDER BY section_id, position",
		int64Args(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sectionID, productID int64
		if err := rows.Scan(&sectionID, &productID); err != nil {
			return err
		}
		i := index[sectionID]
		sections[i].ProductIDs = append(sections[i].ProductIDs, productID)
	}
	return rows.Err()
}

// GetShowcases handles GET /v1/showcases
// Live sections with their active products, in display order.
func (h *Handlers) GetShowcases(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.now()

	all, err := listShowcases(ctx, h.DB, true)
	if err != nil {
		h.serverError(c, "Failed to fetch showcases", err)
		return
	}
	live := make([]models.ShowcaseSection, 0, len(all))
	for _, s := range all {
		if s.IsLive(now) {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		c.JSON(http.StatusOK, gin.H{"sections": live})
		return
	}

	// 1. --- Products Per Section ---
	ids := make([]int64, len(live))
	index := make(map[int64]int, len(live))
	for i := range live {
		ids[i] = live[i].ID
		index[live[i].ID] = i
		live[i].Products = []models.Product{}
	}
	rows, err := h.DB.QueryContext(ctx, `
		SELECT sp.section_id, `+productColumns+`
		FROM showcase_products sp
		JOIN products p ON p.id = sp.product_id
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE sp.section_id IN (`+placeholders(len(ids))+`) AND p.status = ?
		ORDER BY sp.section_id, sp.position`,
		append(int64Args(ids), models.ProductStatusActive)...)
	if err != nil {
		h.serverError(c, "Failed to fetch showcase products", err)
		return
	}
	defer rows.Close()

	var products []models.Product
	var owners []int64
	for rows.Next() {
		var sectionID int64
		var p models.Product
		var categoryID sql.NullInt64
		if err := rows.Scan(&sectionID, &p.ID, &p.Slug, &p.Name, &p.Description, &p.Brand, &categoryID,
			&p.Images, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.CategoryName); err != nil {
			h.serverError(c, "Failed to scan showcase product", err)
			return
		}
		if categoryID.Valid {
			p.CategoryID = &categoryID.Int64
		}
		products = append(products, p)
		owners = append(owners, sectionID)
	}
	if err := rows.Err(); err != nil {
		h.serverError(c, "Failed to read showcase products", err)
		return
	}

	// 2. --- Variants ---
	if err := h.attachVariants(ctx, h.DB, products, true); err != nil {
		h.serverError(c, "Failed to fetch variants", err)
		return
	}
	for i, p := range products {
		s := &live[index[owners[i]]]
		s.Products = append(s.Products, p)
		s.ProductIDs = append(s.ProductIDs, p.ID)
	}

	// Sections whose products are all unavailable are hidden.
	sections := live[:0]
	for _, s := range live {
		if len(s.Products) > 0 {
			sections = append(sections, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"sections": sections})
}

//
// --- Admin ---
//

type ShowcaseInput struct {
	Title      string     `json:"title" binding:"required,max=255"`
	Subtitle   string     `json:"subtitle" binding:"max=255"`
	Layout     string     `json:"layout" binding:"omitempty,oneof=carousel grid"`
	Position   int        `json:"position" binding:"gte=0"`
	StartsAt   *time.Time `json:"startsAt"`
	EndsAt     *time.Time `json:"endsAt"`
	IsActive   *bool      `json:"isActive"`
	ProductIDs []int64    `json:"productIds" binding:"max=50,dive,gt=0"`
}

func (in *ShowcaseInput) layout() string {
	if in.Layout == "" {
		return models.ShowcaseLayoutCarousel
	}
	return in.Layout
}

// productIDs drops duplicates and keeps the first position.
func (in *ShowcaseInput) productIDs() []int64 {
	seen := make(map[int64]bool, len(in.ProductIDs))
	out := make([]int64, 0, len(in.ProductIDs))
	for _, id := range in.ProductIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (in *ShowcaseInput) validate() error {
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return errors.New("endsAt must be after startsAt")
	}
	if len(in.ProductIDs) > maxShowcaseProducts {
		return errors.New("a showcase holds at most 50 products")
	}
	return nil
}

// replaceShowcaseProducts rewrites the section's product list.
func replaceShowcaseProducts(ctx context.Context, tx *sql.Tx, sectionID int64, productIDs []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM showcase_products WHERE section_id = ?", sectionID); err != nil {
		return err
	}
	if len(productIDs) == 0 {
		return nil
	}

	var found int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE id IN ("+placeholders(len(productIDs))+")",
		int64Args(productIDs)...).Scan(&found); err != nil {
		return err
	}
	if found != len(productIDs) {
		return newAPIError(http.StatusBadRequest, "One or more products do not exist")
	}

	values := make([]string, len(productIDs))
	args := make([]interface{}, 0, 3*len(productIDs))
	for i, id := range productIDs {
		values[i] = "(?, ?, ?)"
		args = append(args, sectionID, id, i)
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO showcase_products (section_id, product_id, position) VALUES "+strings.Join(values, ", "), args...)
	return err
}

// ListShowcasesAdmin handles GET /v1/admin/showcases
func (h *Handlers) ListShowcasesAdmin(c *gin.Context) {
	ctx := c.Request.Context()
	sections, err := listShowcases(ctx, h.DB, false)
	if err != nil {
		h.serverError(c, "Failed to fetch showcases", err)
		return
	}
	if err := attachShowcaseProductIDs(ctx, h.DB, sections); err != nil {
		h.serverError(c, "Failed to fetch showcase products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sections": sections})
}

// CreateShowcase handles POST /v1/admin/showcases
func (h *Handlers) CreateShowcase(c *gin.Context) {
	var input ShowcaseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	sectionSlug, err := uniqueSlug(ctx, tx, "showcase_sections", input.Title, 0)
	if err != nil {
		h.serverError(c, "Failed to generate slug", err)
		return
	}

	now := h.now()
	active := input.IsActive == nil || *input.IsActive
	res, err := tx.ExecContext(ctx, `
		INSERT INTO showcase_sections (title, slug, subtitle, layout, position, starts_at, ends_at, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(input.Title), sectionSlug, strings.TrimSpace(input.Subtitle), input.layout(), input.Position,
		utcPtr(input.StartsAt), utcPtr(input.EndsAt), active, now, now,
	)
	if err != nil {
		h.serverError(c, "Failed to create showcase", err)
		return
	}
	id, _ := res.LastInsertId()

	if err := replaceShowcaseProducts(ctx, tx, id, input.productIDs()); err != nil {
		h.respondError(c, "Failed to save showcase products", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}

	section := models.ShowcaseSection{
		ID:         id,
		Title:      strings.TrimSpace(input.Title),
		Slug:       sectionSlug,
		Subtitle:   strings.TrimSpace(input.Subtitle),
		Layout:     input.layout(),
		Position:   input.Position,
		StartsAt:   input.StartsAt,
		EndsAt:     input.EndsAt,
		IsActive:   active,
		CreatedAt:  now,
		UpdatedAt:  now,
		ProductIDs: input.productIDs(),
	}
	c.JSON(http.StatusCreated, gin.H{"section": section})
}

// UpdateShowcase handles PUT /v1/admin/showcases/:id
func (h *Handlers) UpdateShowcase(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input ShowcaseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := input.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	existing, err := scanShowcase(tx.QueryRowContext(ctx, "SELECT "+showcaseColumns+" FROM showcase_sections WHERE id = ? FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Showcase not found"})
			return
		}
		h.serverError(c, "Failed to fetch showcase", err)
		return
	}

	title := strings.TrimSpace(input.Title)
	sectionSlug := existing.Slug
	if title != existing.Title {
		if sectionSlug, err = uniqueSlug(ctx, tx, "showcase_sections", title, id); err != nil {
			h.serverError(c, "Failed to generate slug", err)
			return
		}
	}

	now := h.now()
	active := input.IsActive == nil || *input.IsActive
	_, err = tx.ExecContext(ctx, `
		UPDATE showcase_sections
		SET title = ?, slug = ?, subtitle = ?, layout = ?, position = ?, starts_at = ?, ends_at = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		title, sectionSlug, strings.TrimSpace(input.Subtitle), input.layout(), input.Position,
		utcPtr(input.StartsAt), utcPtr(input.EndsAt), active, now, id,
	)
	if err != nil {
		h.serverError(c, "Failed to update showcase", err)
		return
	}
	if err := replaceShowcaseProducts(ctx, tx, id, input.productIDs()); err != nil {
		h.respondError(c, "Failed to save showcase products", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}

	existing.Title = title
	existing.Slug = sectionSlug
	existing.Subtitle = strings.TrimSpace(input.Subtitle)
	existing.Layout = input.layout()
	existing.Position = input.Position
	existing.StartsAt = input.StartsAt
	existing.EndsAt = input.EndsAt
	existing.IsActive = active
	existing.UpdatedAt = now
	existing.ProductIDs = input.productIDs()
	c.JSON(http.StatusOK, gin.H{"section": existing})
}

// DeleteShowcase handles DELETE /v1/admin/showcases/:id
func (h *Handlers) DeleteShowcase(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.DB.ExecContext(c.Request.Context(), "DELETE FROM showcase_sections WHERE id = ?", id)
	if err != nil {
		h.serverError(c, "Failed to delete showcase", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Showcase not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Showcase deleted"})
}
