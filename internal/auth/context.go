package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxFirebaseUID = "firebase_uid"
	CtxBearerToken = "bearer_token"
	CtxUserDBID    = "user_db_id"
	CtxUserRole    = "user_role"
)

// UserID extracts the verified Firebase UID from the Gin context.
// Set by TokenMiddleware.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxFirebaseUID))
}

// BearerToken extracts the raw bearer token so upstream calls can reuse the
// caller's credentials.
func BearerToken(c *gin.Context) string {
	return c.GetString(CtxBearerToken)
}

// Role extracts the user's stored role. Empty until WithUser has run.
func Role(c *gin.Context) string {
	return c.GetString(CtxUserRole)
}
