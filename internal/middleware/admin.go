package middleware

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/models"
	"go.uber.org/zap"
)

//
// --- Role-Based Middleware ---
//
// Runs after AuthMiddleware. The role in the token is only a hint: the
// database is asked again so a demoted or suspended admin loses access at once.
//

// queryUserRole is a helper to get the user's role and status from the DB.
func queryUserRole(c *gin.Context, db *sql.DB, userID int64) (string, string, error) {
	var role, status string
	query := "SELECT role, status FROM users WHERE id = ?"
	err := db.QueryRowContext(c.Request.Context(), query, userID).Scan(&role, &status)
	return role, status, err
}

// AdminMiddleware allows only active administrators through.
func AdminMiddleware(db *sql.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Get userID from AuthMiddleware
		userID, ok := UserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		// 2. Query DB for user's role
		role, status, err := queryUserRole(c, db, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid user"})
				return
			}
			logger.Error("role lookup failed", zap.Int64("userId", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Database error checking role"})
			return
		}

		// 3. Check permission
		if role != models.RoleAdmin || status != models.UserStatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: Admin role required"})
			return
		}

		c.Set(ContextUserRole, role)
		c.Next()
	}
}
