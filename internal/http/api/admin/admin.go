package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apikeys"
	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/config"
	handlers "github.com/router-for-me/ChatBilling/internal/http/api/admin/handlers"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
	"github.com/router-for-me/ChatBilling/internal/users"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps are the stores behind the admin API.
type Deps struct {
	DB      *gorm.DB
	JWT     config.JWTConfig
	Users   *users.Store
	Ledger  *ledger.Store
	APIKeys *apikeys.Store
	Catalog *catalog.Store
	// Syncer is nil when no remote catalog is configured.
	Syncer *catalog.Syncer
}

// RegisterAdminRoutes registers the health check and the admin API.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(deps.Users, deps.JWT))

	userHandler := handlers.NewUserHandler(deps.Users, deps.Ledger)
	authed.GET("/users", userHandler.List)
	authed.GET("/users/:id", userHandler.Get)
	authed.PUT("/users/:id", userHandler.Update)
	authed.POST("/users/:id/recharge", userHandler.Recharge)
	authed.GET("/users/:id/transactions", userHandler.Transactions)
	authed.GET("/users/:id/reconcile", userHandler.Reconcile)

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.APIKeys)
	authed.POST("/users/:id/api-keys", apiKeyHandler.CreateForUser)
	authed.GET("/users/:id/api-keys", apiKeyHandler.ListByUser)
	authed.POST("/users/:id/api-keys/:key_id/enable", apiKeyHandler.Enable)
	authed.POST("/users/:id/api-keys/:key_id/disable", apiKeyHandler.Disable)

	transactionHandler := handlers.NewTransactionHandler(deps.Ledger)
	authed.POST("/transactions/:id/refund", transactionHandler.Refund)

	settingHandler := handlers.NewSettingHandler(deps.DB)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	modelHandler := handlers.NewModelHandler(deps.Catalog, deps.Syncer)
	authed.GET("/models", modelHandler.List)
	authed.POST("/models", modelHandler.Upsert)
	authed.POST("/models/sync", modelHandler.Sync)
}

// adminAuthMiddleware validates identity tokens and requires the admin role.
func adminAuthMiddleware(userStore *users.Store, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header", "kind": "unauthorized"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format", "kind": "unauthorized"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token", "kind": "unauthorized"})
			return
		}

		id, errJWT := security.ParseIdentityToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": "unauthorized"})
			return
		}

		user, errFind := userStore.GetByOpenID(c.Request.Context(), id.OpenID)
		if errFind != nil {
			if errors.Is(errFind, apperr.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required", "kind": "unauthorized"})
				return
			}
			respond.Error(c, errFind)
			return
		}
		if user.Role != models.UserRoleAdmin {
			log.WithFields(log.Fields{"user_id": user.ID, "path": c.FullPath()}).Warn("admin access denied")
			respond.Error(c, apperr.New(apperr.KindForbidden, "admin role required"))
			return
		}

		c.Set("adminID", user.ID)
		c.Set("adminOpenID", user.OpenID)
		c.Next()
	}
}
