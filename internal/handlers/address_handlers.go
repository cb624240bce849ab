package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
)

const maxAddressesPerUser = 10

const addressColumns = "id, user_id, full_name, phone, address_line1, address_line2, city, state, pincode, country, is_default, created_at, updated_at"

func scanAddress(row interface{ Scan(...interface{}) error }) (*models.Address, error) {
	var a models.Address
	var line2 sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &a.FullName, &a.Phone, &a.AddressLine1, &line2,
		&a.City, &a.State, &a.Pincode, &a.Country, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if line2.Valid {
		a.AddressLine2 = &line2.String
	}
	return &a, nil
}

// getOwnedAddress loads an address only if it belongs to userID.
func getOwnedAddress(ctx context.Context, q querier, userID, addressID int64) (*models.Address, error) {
	return scanAddress(q.QueryRowContext(ctx,
		"SELECT "+addressColumns+" FROM addresses WHERE id = ? AND user_id = ?", addressID, userID))
}

type AddressInput struct {
	FullName     string  `json:"fullName" binding:"required,max=255"`
	Phone        string  `json:"phone" binding:"required,min=10,max=15"`
	AddressLine1 string  `json:"addressLine1" binding:"required,max=255"`
	AddressLine2 *string `json:"addressLine2" binding:"omitempty,max=255"`
	City         string  `json:"city" binding:"required,max=120"`
	State        string  `json:"state" binding:"required,max=120"`
	Pincode      string  `json:"pincode" binding:"required,pincode"`
	Country      string  `json:"country" binding:"omitempty,len=2"`
	IsDefault    bool    `json:"isDefault"`
}

func (in *AddressInput) country() string {
	if in.Country == "" {
		return "IN"
	}
	return strings.ToUpper(in.Country)
}

// ListAddresses handles GET /v1/addresses
func (h *Handlers) ListAddresses(c *gin.Context) {
	rows, err := h.DB.QueryContext(c.Request.Context(),
		"SELECT "+addressColumns+" FROM addresses WHERE user_id = ? ORDER BY is_default DESC, id ASC", currentUserID(c))
	if err != nil {
		h.serverError(c, "Failed to fetch addresses", err)
		return
	}
	defer rows.Close()

	addresses := []models.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			h.serverError(c, "Failed to scan address", err)
			return
		}
		addresses = append(addresses, *a)
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

// CreateAddress handles POST /v1/addresses
// The first address a customer saves becomes the default.
func (h *Handlers) CreateAddress(c *gin.Context) {
	userID := currentUserID(c)
	var input AddressInput
	if err := c.ShouldBindJSON(&input); err != nil {
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

	// 1. --- Enforce Address Book Size ---
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM addresses WHERE user_id = ? FOR UPDATE", userID).Scan(&count); err != nil {
		h.serverError(c, "Failed to count addresses", err)
		return
	}
	if count >= maxAddressesPerUser {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Address book is full"})
		return
	}
	isDefault := input.IsDefault || count == 0

	// 2. --- Only One Default ---
	if isDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = FALSE WHERE user_id = ?", userID); err != nil {
			h.serverError(c, "Failed to update default address", err)
			return
		}
	}

	// 3. --- Insert ---
	now := h.now()
	addr := models.Address{
		UserID:       userID,
		FullName:     strings.TrimSpace(input.FullName),
		Phone:        strings.TrimSpace(input.Phone),
		AddressLine1: strings.TrimSpace(input.AddressLine1),
		AddressLine2: input.AddressLine2,
		City:         strings.TrimSpace(input.City),
		State:        strings.TrimSpace(input.State),
		Pincode:      strings.TrimSpace(input.Pincode),
		Country:      input.country(),
		IsDefault:    isDefault,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO addresses (user_id, full_name, phone, address_line1, address_line2, city, state, pincode, country, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		addr.UserID, addr.FullName, addr.Phone, addr.AddressLine1, nullString(addr.AddressLine2),
		addr.City, addr.State, addr.Pincode, addr.Country, addr.IsDefault, now, now,
	)
	if err != nil {
		h.serverError(c, "Failed to save address", err)
		return
	}
	addr.ID, _ = res.LastInsertId()

	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr})
}

// UpdateAddress handles PUT /v1/addresses/:id
func (h *Handlers) UpdateAddress(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input AddressInput
	if err := c.ShouldBindJSON(&input); err != nil {
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

	existing, err := getOwnedAddress(ctx, tx, userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
			return
		}
		h.serverError(c, "Failed to fetch address", err)
		return
	}

	// A default address stays default until another one is chosen.
	isDefault := existing.IsDefault || input.IsDefault
	if isDefault && !existing.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = FALSE WHERE user_id = ?", userID); err != nil {
			h.serverError(c, "Failed to update default address", err)
			return
		}
	}

	now := h.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE addresses
		SET full_name = ?, phone = ?, address_line1 = ?, address_line2 = ?, city = ?, state = ?, pincode = ?, country = ?, is_default = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		strings.TrimSpace(input.FullName), strings.TrimSpace(input.Phone), strings.TrimSpace(input.AddressLine1),
		nullString(input.AddressLine2), strings.TrimSpace(input.City), strings.TrimSpace(input.State),
		strings.TrimSpace(input.Pincode), input.country(), isDefault, now, id, userID,
	)
	if err != nil {
		h.serverError(c, "Failed to update address", err)
		return
	}

	updated, err := getOwnedAddress(ctx, tx, userID, id)
	if err != nil {
		h.serverError(c, "Failed to reload address", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": updated})
}

// DeleteAddress handles DELETE /v1/addresses/:id
// Orders keep their own snapshot, so deleting never touches order history.
func (h *Handlers) DeleteAddress(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	existing, err := getOwnedAddress(ctx, tx, userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
			return
		}
		h.serverError(c, "Failed to fetch address", err)
		return
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM addresses WHERE id = ? AND user_id = ?", id, userID); err != nil {
		h.serverError(c, "Failed to delete address", err)
		return
	}

	// Promote the oldest remaining address.
	if existing.IsDefault {
		_, err := tx.ExecContext(ctx,
			"UPDATE addresses SET is_default = TRUE WHERE user_id = ? ORDER BY id ASC LIMIT 1", userID)
		if err != nil {
			h.serverError(c, "Failed to promote default address", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Address deleted"})
}

// SetDefaultAddress handles PATCH /v1/addresses/:id/default
func (h *Handlers) SetDefaultAddress(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	if _, err := getOwnedAddress(ctx, tx, userID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
			return
		}
		h.serverError(c, "Failed to fetch address", err)
		return
	}
	if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = (id = ?) WHERE user_id = ?", id, userID); err != nil {
		h.serverError(c, "Failed to update default address", err)
		return
	}
	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Default address updated"})
}
