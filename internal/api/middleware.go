package api

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
)

const authContextKey = "auth"

// AuthContext is the resolved caller identity attached to each request
type AuthContext struct {
	Store *models.Store
	Role  string
}

// KeyResolver resolves a raw API key to its store and role
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, rawKey string) (*models.Store, string, error)
}

// authMiddleware resolves the Bearer credential to a (store, role) pair
// before any operation runs.
func authMiddleware(resolver KeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortWithError(c, apperr.Unauthorized("Missing or invalid Authorization header"))
			return
		}

		st, role, err := resolver.ResolveAPIKey(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				abortWithError(c, apperr.Unauthorized("Invalid API key"))
				return
			}
			abortWithError(c, err)
			return
		}

		if st.Status == models.StoreStatusDisabled {
			abortWithError(c, apperr.Forbidden("Store is disabled"))
			return
		}

		c.Set(authContextKey, &AuthContext{Store: st, Role: role})
		c.Next()
	}
}

// adminOnly requires the admin role for store-operator endpoints
func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := getAuth(c)
		if auth == nil || auth.Role != models.RoleAdmin {
			abortWithError(c, apperr.Forbidden("Admin access required"))
			return
		}
		c.Next()
	}
}

func getAuth(c *gin.Context) *AuthContext {
	v, ok := c.Get(authContextKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*AuthContext)
	return auth
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
