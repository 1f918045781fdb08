package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/cache"
	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/confluence"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/gitlab"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/hubspot"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/jira"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/projektron"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/restclient"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/sap"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/sharefile"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/sharepoint"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/trello"
	"github.com/ekaya-inc/ekaya-connect/pkg/connectors/wrike"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/handlers"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/mcp"
	"github.com/ekaya-inc/ekaya-connect/pkg/middleware"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	shutdownTimeout        = 30 * time.Second
	sharedFileSweepPeriod  = 15 * time.Minute
	rateLimitSweepPeriod   = 5 * time.Minute
	rateLimitBucketMaxIdle = 10 * time.Minute
)

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.Bool("kafka", cfg.Kafka.Enabled()))

	if cfg.CredentialsKey == "" {
		logger.Fatal("CREDENTIALS_KEY is required")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Invalid CREDENTIALS_KEY", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupRetry := retry.StartupConfig()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
		Retry:          startupRetry,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db.SQLDB(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	principalCache := cache.NewRedisPrincipalCache(redisClient, cfg.Redis.TokenTTL, logger)

	var auditSink audit.Sink
	if cfg.Kafka.Enabled() {
		sink := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger)
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("Failed to close audit stream", zap.Error(err))
			}
		}()
		auditSink = sink
	}

	scopes := database.NewTenantScopeProvider(db)

	// Repositories
	configRepo := repositories.NewIntegrationConfigRepository()
	orgRepo := repositories.NewOrganisationRepository()
	memberRepo := repositories.NewMemberRepository()
	auditRepo := repositories.NewAuditRepository()
	sharedFileRepo := repositories.NewSharedFileRepository()

	registry, err := newRegistry(cfg, sharedFileRepo)
	if err != nil {
		logger.Fatal("Failed to build connector registry", zap.Error(err))
	}

	// Services
	securityAuditor := audit.NewSecurityAuditor(logger)
	auditService := services.NewAuditService(auditRepo, scopes, auditSink, logger)
	broker := services.NewCredentialBroker(encryptor, logger)
	statusService := services.NewConnectionStatusService(configRepo, auditService, logger)
	integrationService := services.NewIntegrationConfigService(registry, configRepo, broker, auditService, logger)
	orgService := services.NewOrganisationService(orgRepo, memberRepo, scopes, logger)
	accessTokenService := services.NewAccessTokenService(memberRepo, scopes, encryptor, principalCache, auditService, logger)
	toolProvider := services.NewToolProvider(registry, configRepo, logger)
	dispatcher := services.NewToolDispatcher(registry, configRepo, broker, statusService, auditService, securityAuditor,
		services.ToolDispatcherConfig{AuditMaxResponseChars: cfg.Dispatch.AuditMaxResponseChars}, logger)

	// Authentication
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		logger.Fatal("Failed to initialise JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT verification is disabled; do not run this configuration outside local development")
	}

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
	accessMiddleware := auth.NewAccessTokenMiddleware(accessTokenService, securityAuditor, logger)
	memberTenant := database.WithTenantContext(db, handlers.MemberOrganisationResolver(orgService), logger)
	principalTenant := database.WithTenantContext(db, handlers.PrincipalOrganisationResolver, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Dispatch.RateLimitPerSecond,
		Burst:             cfg.Dispatch.RateLimitBurst,
	}, securityAuditor)

	// Routes
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.RegisterMetricsRoute(mux)
	handlers.NewFilesHandler(sharedFileRepo, scopes, logger).RegisterRoutes(mux)

	handlers.NewToolsHandler(toolProvider, dispatcher, logger).
		RegisterRoutes(mux, accessMiddleware, limiter, principalTenant)
	mcpServer := mcp.NewServer("ekaya-connect", cfg.Version, toolProvider, dispatcher, logger)
	handlers.NewMCPHandler(mcpServer, logger).
		RegisterRoutes(mux, accessMiddleware, limiter, principalTenant)

	handlers.NewIntegrationsHandler(integrationService, logger).RegisterRoutes(mux, authMiddleware, memberTenant)
	handlers.NewAccessTokenHandler(accessTokenService, logger).RegisterRoutes(mux, authMiddleware, memberTenant)
	handlers.NewAuditHandler(auditService, logger).RegisterRoutes(mux, authMiddleware, memberTenant)

	go sweepSharedFiles(ctx, scopes, sharedFileRepo, logger)
	go sweepRateLimits(ctx, limiter, logger)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-connect",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""),
			zap.Int("connectors", len(registry.All())))
		if cfg.TLSCertPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := auditService.Wait(shutdownCtx); err != nil {
		logger.Warn("Audit writes still pending at shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newRegistry registers every connector this server ships with.
func newRegistry(cfg *config.Config, files sharefile.Store) (*connectors.Registry, error) {
	timeout := cfg.Connectors.HTTPTimeout
	client := func(connectorType string) *restclient.Client {
		return restclient.New(connectorType, timeout)
	}
	oauth := cfg.Connectors

	return connectors.NewRegistry(
		jira.New(client(jira.Type)),
		confluence.New(client(confluence.Type)),
		gitlab.New(client(gitlab.Type)),
		trello.New(client(trello.Type)),
		projektron.New(client(projektron.Type)),
		sap.NewS4HANA(client(sap.Type)),
		hubspot.New(client(hubspot.Type), oauth.HubSpot.ClientID, oauth.HubSpot.ClientSecret),
		sharepoint.New(client(sharepoint.Type), oauth.SharePoint.ClientID, oauth.SharePoint.ClientSecret),
		wrike.New(client(wrike.Type), oauth.Wrike.ClientID, oauth.Wrike.ClientSecret),
		sharefile.New(files, cfg.BaseURL, cfg.Dispatch.SharedFileTTL),
	)
}

// sweepSharedFiles deletes expired share_file downloads until ctx is done.
func sweepSharedFiles(ctx context.Context, scopes database.TenantScopeProvider, repo repositories.SharedFileRepository, logger *zap.Logger) {
	ticker := time.NewTicker(sharedFileSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		scoped, cleanup, err := scopes.WithoutTenantScope(ctx)
		if err != nil {
			logger.Warn("Shared file sweep skipped", zap.Error(err))
			continue
		}
		n, err := repo.DeleteExpired(scoped, time.Now())
		cleanup()
		if err != nil {
			logger.Warn("Shared file sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("Deleted expired shared files", zap.Int64("count", n))
		}
	}
}

func sweepRateLimits(ctx context.Context, limiter *middleware.RateLimiter, logger *zap.Logger) {
	ticker := time.NewTicker(rateLimitSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(rateLimitBucketMaxIdle); n > 0 {
				logger.Debug("Dropped idle rate limit buckets", zap.Int("count", n))
			}
		}
	}
}

