package auth

import (
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	"github.com/metroplan/metroplan-backend/internal/users"
)

// TokenMiddleware validates Firebase ID tokens and stores the verified UID
// plus the raw bearer token (reused on upstream calls) in the Gin context.
func TokenMiddleware(authClient *auth.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing authorization token"})
			c.Abort()
			return
		}

		decodedToken, err := authClient.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(CtxFirebaseUID, decodedToken.UID)
		c.Set(CtxBearerToken, token)

		if email, ok := decodedToken.Claims["email"].(string); ok {
			c.Set("email", email)
		}

		c.Next()
	}
}

// WithUser upserts the verified user into Postgres and stores its database
// id and role in the context. Must run after TokenMiddleware.
func WithUser(userRepo *users.Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "not authenticated"})
			c.Abort()
			return
		}

		dbID, err := userRepo.EnsureUser(c.Request.Context(), users.UpsertUser{
			FirebaseUID: uid,
			Email:       c.GetString("email"),
			DisplayName: c.GetHeader("X-User-Name"),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ensure user: " + err.Error()})
			c.Abort()
			return
		}
		c.Set(CtxUserDBID, dbID)

		role, err := userRepo.Role(c.Request.Context(), uid)
		if err == nil {
			c.Set(CtxUserRole, role)
		}

		c.Next()
	}
}

// RequireRole aborts with 403 unless the stored role matches one of the
// allowed ones. Admins pass every check.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		if role == users.RoleAdmin {
			c.Next()
			return
		}
		for _, a := range allowed {
			if role == a {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "insufficient role"})
		c.Abort()
	}
}

// extractToken extracts the Bearer token from the Authorization header
func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if len(bearerToken) > 7 && strings.HasPrefix(bearerToken, "Bearer ") {
		return bearerToken[7:]
	}
	return ""
}
