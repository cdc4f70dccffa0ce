package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apikeys"
	"github.com/router-for-me/ChatBilling/internal/catalog"
	"github.com/router-for-me/ChatBilling/internal/chat"
	"github.com/router-for-me/ChatBilling/internal/config"
	"github.com/router-for-me/ChatBilling/internal/conversation"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/http/api/admin"
	"github.com/router-for-me/ChatBilling/internal/http/api/front"
	"github.com/router-for-me/ChatBilling/internal/ledger"
	"github.com/router-for-me/ChatBilling/internal/llm"
	"github.com/router-for-me/ChatBilling/internal/logging"
	"github.com/router-for-me/ChatBilling/internal/metering"
	"github.com/router-for-me/ChatBilling/internal/ratelimit"
	"github.com/router-for-me/ChatBilling/internal/security"
	internalsettings "github.com/router-for-me/ChatBilling/internal/settings"
	"github.com/router-for-me/ChatBilling/internal/stats"
	"github.com/router-for-me/ChatBilling/internal/users"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrMissingJWTSecret is returned when no identity token secret is configured.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` or JWT_SECRET)")

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	return db.Migrate(conn.WithContext(ctx))
}

// IssueToken signs an identity token with the configured secret and expiry.
func IssueToken(cfg config.AppConfig, id security.Identity) (string, error) {
	jwtCfg, err := config.LoadJWTConfig(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		return "", ErrMissingJWTSecret
	}
	return security.IssueIdentityToken(jwtCfg.Secret, id, jwtCfg.Expiry, time.Now())
}

// services holds the wired stores and background workers of one server.
type services struct {
	conn          *gorm.DB
	jwt           config.JWTConfig
	users         *users.Store
	ledger        *ledger.Store
	apiKeys       *apikeys.Store
	catalog       *catalog.Store
	syncer        *catalog.Syncer
	conversations *conversation.Store
	coordinator   *chat.Coordinator
	stats         *stats.Aggregator
	rateLimiter   *ratelimit.Manager
}

func newServices(conn *gorm.DB, jwtCfg config.JWTConfig, serverCfg config.ServerConfig, catalogCfg config.CatalogConfig, gateway llm.Gateway) (*services, error) {
	s := &services{
		conn:          conn,
		jwt:           jwtCfg,
		users:         users.NewStore(conn, serverCfg.OwnerOpenID),
		ledger:        ledger.NewStore(conn),
		apiKeys:       apikeys.NewStore(conn, serverCfg.APIKeyPepper),
		catalog:       catalog.NewStore(conn),
		conversations: conversation.NewStore(conn),
		stats:         stats.NewAggregator(conn),
		rateLimiter:   ratelimit.NewManager(nil, nil, nil),
	}
	s.syncer = catalog.NewSyncer(s.catalog, catalogCfg.URL, catalogCfg.SyncInterval)

	coordinator, err := chat.NewCoordinator(chat.Deps{
		Conversations: s.conversations,
		Ledger:        s.ledger,
		Gateway:       gateway,
		Catalog:       s.catalog,
		Usage:         s.apiKeys,
		Policy:        metering.LoadPolicy,
	})
	if err != nil {
		return nil, err
	}
	s.coordinator = coordinator
	return s, nil
}

// newEngine builds the gin engine with every route registered.
func newEngine(s *services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.RequestLogger())
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:      s.conn,
		JWT:     s.jwt,
		Users:   s.users,
		Ledger:  s.ledger,
		APIKeys: s.apiKeys,
		Catalog: s.catalog,
		Syncer:  s.syncer,
	})
	front.RegisterFrontRoutes(engine, front.Deps{
		DB:            s.conn,
		JWT:           s.jwt,
		Users:         s.users,
		Ledger:        s.ledger,
		APIKeys:       s.apiKeys,
		Catalog:       s.catalog,
		Conversations: s.conversations,
		Coordinator:   s.coordinator,
		Stats:         s.stats,
		RateLimiter:   s.rateLimiter,
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "kind": "not_found"})
	})
	return engine
}

// RunServer boots the chat billing API and blocks until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	loggingCfg, err := config.LoadLoggingConfig(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(loggingCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		return ErrMissingJWTSecret
	}
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	catalogCfg, err := config.LoadCatalogConfig(configPath)
	if err != nil {
		return err
	}
	llmCfg, err := config.LoadLLMConfig(configPath)
	if err != nil {
		return err
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errLoad := internalsettings.Load(ctx, conn); errLoad != nil {
		return errLoad
	}
	internalsettings.NewWatcher(conn, serverCfg.SettingsRefreshInterval).Start(ctx)

	gateway, err := BuildGateway(llmCfg)
	if err != nil {
		return err
	}
	svc, err := newServices(conn, jwtCfg, serverCfg, catalogCfg, gateway)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := svc.rateLimiter.Close(); errClose != nil {
			log.WithError(errClose).Debug("close rate limiter failed")
		}
	}()

	if catalogCfg.SeedFile != "" {
		count, errSeed := catalog.LoadFile(ctx, svc.catalog, catalogCfg.SeedFile, time.Now())
		if errSeed != nil {
			return fmt.Errorf("seed model catalog: %w", errSeed)
		}
		log.Infof("model catalog seeded with %d models from %s", count, catalogCfg.SeedFile)
	}
	svc.syncer.Start(ctx)

	if hasAdmin, errAdmin := HasAdmin(conn); errAdmin != nil {
		log.WithError(errAdmin).Warn("check admin users failed")
	} else if !hasAdmin && serverCfg.OwnerOpenID == "" {
		log.Warn("no admin user exists; set server.owner-open-id (or OWNER_OPEN_ID) and log in to create one")
	}

	if !log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := newEngine(svc)

	port := serverCfg.Port
	if port <= 0 {
		port = defaultPort
	}
	if port <= 0 {
		port = config.DefaultPort
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		entry := log.WithField("config", configPath)
		if info, errDescribe := db.DescribeDSN(dsn); errDescribe == nil {
			entry = entry.WithFields(log.Fields{"db_type": info.Type, "db_host": info.Host, "db_name": info.Name, "db_path": info.Path})
		}
		entry.Infof("starting chat billing server on %s", server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverCfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down server")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown server: %w", errShutdown)
	}
	return nil
}
