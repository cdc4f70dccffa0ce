package front

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apikeys"
	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/chat"
	"github.com/router-for-me/ChatBilling/internal/config"
	"github.com/router-for-me/ChatBilling/internal/conversation"
	handlers "github.com/router-for-me/ChatBilling/internal/http/api/front/handlers"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/ratelimit"
	"github.com/router-for-me/ChatBilling/internal/security"
	"github.com/router-for-me/ChatBilling/internal/stats"
	"github.com/router-for-me/ChatBilling/internal/users"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// APIKeyHeader carries an API key as an alternative to the bearer token.
const APIKeyHeader = "X-API-Key"

// Deps are the stores and services behind the front API.
type Deps struct {
	DB            *gorm.DB
	JWT           config.JWTConfig
	Users         *users.Store
	Ledger        *ledger.Store
	APIKeys       *apikeys.Store
	Catalog       *catalog.Store
	Conversations *conversation.Store
	Coordinator   *chat.Coordinator
	Stats         *stats.Aggregator
	RateLimiter   *ratelimit.Manager
}

// RegisterFrontRoutes registers the end-user API under /v0/front.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	frontGroup := r.Group("/v0/front")

	accountHandler := handlers.NewAccountHandler(deps.Users, deps.Ledger)
	frontGroup.POST("/login", identityMiddleware(deps.JWT), accountHandler.Login)

	authed := frontGroup.Group("")
	authed.Use(frontAuthMiddleware(deps))

	authed.GET("/profile", accountHandler.Profile)
	authed.GET("/balance", accountHandler.Balance)
	authed.GET("/transactions", accountHandler.Transactions)

	apiKeyHandler := handlers.NewAPIKeyHandler(deps.APIKeys)
	keyGroup := authed.Group("/api-keys")
	keyGroup.Use(requireIdentity())
	keyGroup.GET("", apiKeyHandler.List)
	keyGroup.POST("", apiKeyHandler.Create)
	keyGroup.GET("/:id", apiKeyHandler.Get)
	keyGroup.DELETE("/:id", apiKeyHandler.Delete)

	modelHandler := handlers.NewModelHandler(deps.Catalog)
	authed.GET("/models", modelHandler.List)

	conversationHandler := handlers.NewConversationHandler(deps.Conversations, deps.Catalog, deps.Coordinator)
	authed.POST("/conversations", conversationHandler.Create)
	authed.GET("/conversations", conversationHandler.List)
	authed.DELETE("/conversations/:id", conversationHandler.Delete)
	authed.PATCH("/conversations/:id", conversationHandler.Update)
	authed.GET("/conversations/:id/messages", conversationHandler.History)
	authed.POST("/conversations/:id/messages", rateLimitMiddleware(deps.RateLimiter), conversationHandler.Send)

	statsHandler := handlers.NewStatsHandler(deps.Stats)
	authed.GET("/stats/usage", statsHandler.Usage)
	authed.GET("/stats/trend", statsHandler.Trend)
	authed.GET("/stats/breakdown", statsHandler.Breakdown)
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message, "kind": "unauthorized"})
}

// bearerToken returns the Authorization bearer credential, if any.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// identityMiddleware verifies an identity token and stores the identity.
func identityMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok || token == "" {
			unauthorized(c, "missing authorization header")
			return
		}
		id, errParse := security.ParseIdentityToken(jwtCfg.Secret, token)
		if errParse != nil {
			unauthorized(c, "invalid token")
			return
		}
		c.Set(handlers.ContextIdentityKey, id)
		c.Next()
	}
}

// frontAuthMiddleware accepts an API key (X-API-Key or Bearer sk-...) or an
// identity token of a user who has logged in.
func frontAuthMiddleware(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		apiKey := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		token, hasBearer := bearerToken(c)
		if apiKey == "" && hasBearer && security.LooksLikeAPIKey(token) {
			apiKey = token
		}

		if apiKey != "" {
			key, errAuth := deps.APIKeys.Authenticate(ctx, apiKey)
			if errAuth != nil {
				if apperr.KindOf(errAuth) == apperr.KindInternal {
					respond.Error(c, errAuth)
					return
				}
				unauthorized(c, apperr.MessageOf(errAuth))
				return
			}
			user, errUser := deps.Users.Get(ctx, key.UserID)
			if errUser != nil {
				respond.Error(c, errUser)
				return
			}
			c.Set(handlers.ContextUserKey, user)
			c.Set(handlers.ContextAPIKeyIDKey, key.ID)
			c.Next()
			return
		}

		if !hasBearer || token == "" {
			unauthorized(c, "missing authorization header")
			return
		}
		id, errParse := security.ParseIdentityToken(deps.JWT.Secret, token)
		if errParse != nil {
			unauthorized(c, "invalid token")
			return
		}
		user, errUser := deps.Users.GetByOpenID(ctx, id.OpenID)
		if errUser != nil {
			if errors.Is(errUser, apperr.ErrNotFound) {
				unauthorized(c, "login required")
				return
			}
			respond.Error(c, errUser)
			return
		}
		c.Set(handlers.ContextUserKey, user)
		c.Next()
	}
}

// requireIdentity rejects callers that authenticated with an API key.
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, viaKey := c.Get(handlers.ContextAPIKeyIDKey); viaKey {
			respond.Error(c, apperr.New(apperr.KindForbidden, "api keys cannot manage api keys"))
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware throttles messages per user. Limiter errors let the
// request through.
func rateLimitMiddleware(manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, _ := c.Get(handlers.ContextUserKey)
		user, ok := value.(*models.User)
		if !ok || user == nil {
			c.Next()
			return
		}
		policy, verdict, errCheck := manager.Check(c.Request.Context(), user)
		if errCheck != nil {
			log.WithError(errCheck).WithField("user_id", user.ID).Warn("rate limit check failed")
			c.Next()
			return
		}
		if policy.Limited() {
			c.Header("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
			c.Header("X-RateLimit-Type", string(policy.Origin))
			if !verdict.ResetAt.IsZero() {
				c.Header("X-RateLimit-Reset", strconv.FormatInt(verdict.ResetAt.Unix(), 10))
			}
		}
		if !verdict.Allowed {
			retryAfter := time.Until(verdict.ResetAt)
			if retryAfter < time.Second {
				retryAfter = time.Second
			}
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "kind": "rate_limited"})
			return
		}
		c.Next()
	}
}
