package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

// Cookie names carrying the tokens.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

const (
	userKey   = "auth.user"
	userIDKey = "auth.user_id"
	roleKey   = "auth.role"
)

// UserLookup loads the account behind a token
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// RequireAuth rejects requests without a valid access token, read from the
// access_token cookie or an Authorization bearer header. The token's user
// must still exist.
func RequireAuth(tokens *TokenManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized - No access token provided"})
			return
		}

		claims, err := tokens.ParseAccess(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized - Invalid access token"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set(userKey, user)
		c.Set(userIDKey, user.ID)
		c.Set(roleKey, user.Role)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid access token is present
// and lets the request through either way.
func OptionalAuth(tokens *TokenManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.Next()
			return
		}
		claims, err := tokens.ParseAccess(raw)
		if err != nil {
			c.Next()
			return
		}
		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.Next()
			return
		}
		c.Set(userKey, user)
		c.Set(userIDKey, user.ID)
		c.Set(roleKey, user.Role)
		c.Next()
	}
}

// RequireRole allows only users whose role is listed. It must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(roleKey)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied - insufficient role"})
	}
}

// UserID returns the authenticated user's id
func UserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// CurrentUser returns the authenticated user, or nil outside RequireAuth
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// SetTokenCookies writes both tokens as httpOnly strict cookies
func SetTokenCookies(c *gin.Context, pair *TokenPair, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessCookie, pair.AccessToken, maxAge(pair.AccessExp), "/", "", secure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, maxAge(pair.RefreshExp), "/", "", secure, true)
}

// SetAccessCookie writes a refreshed access token
func SetAccessCookie(c *gin.Context, token string, exp time.Time, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessCookie, token, maxAge(exp), "/", "", secure, true)
}

// ClearTokenCookies expires both token cookies
func ClearTokenCookies(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessCookie, "", -1, "/", "", secure, true)
	c.SetCookie(RefreshCookie, "", -1, "/", "", secure, true)
}

func bearerToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func maxAge(exp time.Time) int {
	secs := int(time.Until(exp).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
