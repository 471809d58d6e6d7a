package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/api"
	"github.com/TinkerUnicorn/authz/internal/controller"
	"github.com/TinkerUnicorn/authz/internal/migrations"
	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/service"
	"github.com/TinkerUnicorn/authz/internal/storage/memory"
	"github.com/TinkerUnicorn/authz/internal/storage/openapi"
	"github.com/TinkerUnicorn/authz/internal/storage/postgres"
	storageredis "github.com/TinkerUnicorn/authz/internal/storage/redis"
	"github.com/TinkerUnicorn/authz/internal/util"

	_ "github.com/lib/pq"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger()

	var cleanupFuncs []func()

	var permSource service.PermissionSource
	if dsn := util.GetDatabaseURL(); dsn != "" {
		db, dbCleanup, err := util.NewDBConnection(logger, dsn)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		if err := migrations.RunMigrations(db, logger); err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, dbCleanup)
		permSource = postgres.NewPermissionSource(db, logger)
	} else {
		logger.Info("DATABASE_URL not set, using in-memory permission store")
		permSource = memory.NewPermissionStore(false)
	}

	var telemetry service.TelemetrySink
	if addr := util.GetRedisAddr(); addr != "" {
		redisClient, redisCleanup, err := util.NewRedisClient(logger, addr)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, redisCleanup)
		telemetry = storageredis.NewTelemetryPublisher(redisClient)
	} else {
		logger.Info("REDIS_ADDR not set, telemetry publishing disabled")
	}

	var policies service.PolicySource
	if specPath := util.GetPolicySpecPath(); specPath != "" {
		source, err := openapi.NewPolicySource(specPath)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		policies = source
	} else {
		logger.Info("AUTHZ_POLICY_SPEC not set, protecting /auth/devices only")
		store := memory.NewPolicyStore()
		store.Register("GET", "/auth/devices/:user_id", &models.EndpointPolicy{
			RequireRoles: []string{"admin"},
		})
		policies = store
	}

	tokenService := service.NewTokenService(util.NewTokenConfig())
	registry := service.NewDeviceRegistry(util.NewRegistryConfig(), logger)
	limiter := service.NewRateLimiter(util.NewRateLimiterConfig(), logger)
	evaluator := service.NewPermissionEvaluator(permSource, logger)
	authService := service.NewAuthService(tokenService, registry, limiter, evaluator, policies, telemetry, logger)

	ctrl := controller.NewController(logger, authService, registry)

	apiServer := api.NewAPI(ctrl, authService, util.NewServerConfig(), logger, cleanupFuncs)
	apiServer.Run(ctx)
}
