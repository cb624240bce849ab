package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
	"go.uber.org/zap"
)

//
// --- Admin: Customer Accounts ---
//

// ListUsers handles GET /v1/admin/users?role=&status=&q=
func (h *Handlers) ListUsers(c *gin.Context) {
	page, limit, offset := pageParams(c, 20, 100)
	ctx := c.Request.Context()

	// 1. --- Build Query ---
	where := []string{"1 = 1"}
	var args []interface{}
	if role := c.Query("role"); role != "" {
		where = append(where, "role = ?")
		args = append(args, role)
	}
	if status := c.Query("status"); status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		where = append(where, "(email LIKE ? OR full_name LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	filter := " FROM users WHERE " + strings.Join(where, " AND ")

	var total int
	if err := h.DB.QueryRowContext(ctx, "SELECT COUNT(*)"+filter, args...).Scan(&total); err != nil {
		h.serverError(c, "Failed to count users", err)
		return
	}

	// 2. --- Execute Query ---
	rows, err := h.DB.QueryContext(ctx,
		"SELECT "+userColumns+filter+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		h.serverError(c, "Failed to fetch users", err)
		return
	}
	defer rows.Close()

	// 3. --- Scan Rows into Slice ---
	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			h.serverError(c, "Failed to scan user row", err)
			return
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		h.serverError(c, "Error iterating user rows", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// UpdateUserStatusInput suspends or reactivates an account.
type UpdateUserStatusInput struct {
	Status string `json:"status" binding:"required,oneof=active suspended"`
}

// UpdateUserStatus handles PATCH /v1/admin/users/:id/status
// Suspended users cannot log in; AdminMiddleware also rejects suspended admins.
func (h *Handlers) UpdateUserStatus(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input UpdateUserStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if userID == currentUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot change your own account status"})
		return
	}

	result, err := h.DB.ExecContext(c.Request.Context(),
		"UPDATE users SET status = ?, updated_at = ? WHERE id = ?", input.Status, h.now(), userID)
	if err != nil {
		h.serverError(c, "Failed to update user status", err)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	h.Logger.Info("user status changed",
		zap.Int64("userId", userID),
		zap.String("status", input.Status),
		zap.Int64("adminId", currentUserID(c)),
	)
	c.JSON(http.StatusOK, gin.H{"message": "User status updated", "status": input.Status})
}
