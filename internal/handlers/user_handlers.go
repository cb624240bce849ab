package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/auth"
	"github.com/toyforge/storefront/internal/database"
	"github.com/toyforge/storefront/internal/email"
	"github.com/toyforge/storefront/internal/models"
	"go.uber.org/zap"
)

const userColumns = "id, role, status, email, password_hash, full_name, phone_number, created_at, updated_at"

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	var phone sql.NullString
	if err := row.Scan(&u.ID, &u.Role, &u.Status, &u.Email, &u.PasswordHash, &u.FullName, &phone, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if phone.Valid {
		u.PhoneNumber = &phone.String
	}
	return &u, nil
}

func (h *Handlers) getUserByID(ctx context.Context, q querier, id int64) (*models.User, error) {
	return scanUser(q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func (h *Handlers) getUserByEmail(ctx context.Context, q querier, addr string) (*models.User, error) {
	return scanUser(q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", addr))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// --- User Registration ---

type RegisterUserInput struct {
	FullName    string  `json:"fullName" binding:"required,max=255"`
	Email       string  `json:"email" binding:"required,email"`
	Password    string  `json:"password" binding:"required,min=8,max=72"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,min=10,max=15"`
}

// Register handles POST /v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input RegisterUserInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Hash the Password ---
	var password models.Password
	if err := password.Set(input.Password); err != nil {
		h.serverError(c, "Failed to hash password", err)
		return
	}

	// 3. --- Save to Database ---
	now := h.now()
	user := &models.User{
		Role:         models.RoleCustomer,
		Status:       models.UserStatusActive,
		Email:        normalizeEmail(input.Email),
		PasswordHash: password.Hash,
		FullName:     strings.TrimSpace(input.FullName),
		PhoneNumber:  input.PhoneNumber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	res, err := h.DB.ExecContext(c.Request.Context(), `
		INSERT INTO users (role, status, email, password_hash, full_name, phone_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Role, user.Status, user.Email, user.PasswordHash, user.FullName, nullString(user.PhoneNumber), now, now,
	)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
			return
		}
		h.serverError(c, "Failed to create user", err)
		return
	}
	user.ID, _ = res.LastInsertId()

	// 4. --- Issue Token ---
	token, err := h.Tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		h.serverError(c, "Failed to generate token", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Account created",
		"token":   token,
		"user":    user,
	})
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 1. --- Find User ---
	user, err := h.getUserByEmail(c.Request.Context(), h.DB, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		h.serverError(c, "Failed to look up user", err)
		return
	}

	// 2. --- Check Password ---
	pw := models.Password{Hash: user.PasswordHash}
	ok, err := pw.Matches(input.Password)
	if err != nil {
		h.serverError(c, "Failed to check password", err)
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if user.Status != models.UserStatusActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "This account is suspended"})
		return
	}

	// 3. --- Issue Token ---
	token, err := h.Tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		h.serverError(c, "Failed to generate token", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(h.Tokens.TTL().Seconds()),
		"user":      user,
	})
}

// GetMe handles GET /v1/me
func (h *Handlers) GetMe(c *gin.Context) {
	user, err := h.getUserByID(c.Request.Context(), h.DB, currentUserID(c))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.serverError(c, "Failed to fetch user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

//
// --- Password Reset ---
//

type ForgotPasswordInput struct {
	Email string `json:"email" binding:"required,email"`
}

const forgotPasswordReply = "If an account exists for that email, a reset link has been sent"

// ForgotPassword handles POST /v1/auth/forgot-password
// The reply is the same whether or not the account exists.
func (h *Handlers) ForgotPassword(c *gin.Context) {
	var input ForgotPasswordInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := h.getUserByEmail(ctx, h.DB, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply})
			return
		}
		h.serverError(c, "Failed to look up user", err)
		return
	}
	if user.Status != models.UserStatusActive {
		c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply})
		return
	}

	token, hash := auth.NewResetToken()
	ttl := h.Config.Auth.ResetTokenTTL
	now := h.now()
	_, err = h.DB.ExecContext(ctx,
		"INSERT INTO password_resets (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)",
		user.ID, hash, now.Add(ttl), now,
	)
	if err != nil {
		h.serverError(c, "Failed to create reset token", err)
		return
	}

	msg := email.PasswordReset(user.Email, h.Config.Auth.ResetURL, token, int(ttl.Minutes()))
	if err := h.Mailer.Send(ctx, msg); err != nil {
		h.Logger.Error("failed to send reset email", zap.Int64("userId", user.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply})
}

type ResetPasswordInput struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// ResetPassword handles POST /v1/auth/reset-password
func (h *Handlers) ResetPassword(c *gin.Context) {
	var input ResetPasswordInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var password models.Password
	if err := password.Set(input.Password); err != nil {
		h.serverError(c, "Failed to hash password", err)
		return
	}

	// 1. --- Begin Transaction ---
	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		h.serverError(c, "Failed to start transaction", err)
		return
	}
	defer tx.Rollback()

	// 2. --- Find & Lock Token ---
	var reset models.PasswordReset
	var usedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		"SELECT id, user_id, expires_at, used_at FROM password_resets WHERE token_hash = ? FOR UPDATE",
		auth.HashResetToken(input.Token),
	).Scan(&reset.ID, &reset.UserID, &reset.ExpiresAt, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset link"})
			return
		}
		h.serverError(c, "Failed to look up reset token", err)
		return
	}
	now := h.now()
	if usedAt.Valid || !now.Before(reset.ExpiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset link"})
		return
	}

	// 3. --- Update Password & Burn Tokens ---
	if _, err := tx.ExecContext(ctx, "UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", password.Hash, now, reset.UserID); err != nil {
		h.serverError(c, "Failed to update password", err)
		return
	}
	if _, err := tx.ExecContext(ctx, "UPDATE password_resets SET used_at = ? WHERE user_id = ? AND used_at IS NULL", now, reset.UserID); err != nil {
		h.serverError(c, "Failed to invalidate reset tokens", err)
		return
	}

	if err := tx.Commit(); err != nil {
		h.serverError(c, "Failed to commit transaction", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password updated. You can now log in."})
}
