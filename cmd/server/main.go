// server runs the account lifecycle HTTP API, the live event stream and the gRPC health listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	accounthandler "account-lifecycle/internal/account/handler"
	accountservice "account-lifecycle/internal/account/service"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/broadcast"
	"account-lifecycle/internal/config"
	"account-lifecycle/internal/db"
	"account-lifecycle/internal/devotp"
	devotphandler "account-lifecycle/internal/devotp/handler"
	"account-lifecycle/internal/health"
	healthhandler "account-lifecycle/internal/health/handler"
	identityhandler "account-lifecycle/internal/identity/handler"
	identityservice "account-lifecycle/internal/identity/service"
	"account-lifecycle/internal/lockout"
	moderationhandler "account-lifecycle/internal/moderation/handler"
	moderationservice "account-lifecycle/internal/moderation/service"
	notificationhandler "account-lifecycle/internal/notification/handler"
	notificationservice "account-lifecycle/internal/notification/service"
	"account-lifecycle/internal/otc/delivery"
	"account-lifecycle/internal/platform/logging"
	"account-lifecycle/internal/policy/engine"
	"account-lifecycle/internal/security"
	"account-lifecycle/internal/server"
	sessionhandler "account-lifecycle/internal/session/handler"
	sessionservice "account-lifecycle/internal/session/service"
	"account-lifecycle/internal/stepup"
	stepuphandler "account-lifecycle/internal/stepup/handler"
	"account-lifecycle/internal/store"
	"account-lifecycle/internal/store/memstore"
	"account-lifecycle/internal/telemetry"
	telemetryotel "account-lifecycle/internal/telemetry/otel"
	"account-lifecycle/internal/telemetry/producer"
)

const hubBuffer = 64

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stdout)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instance, _ := os.Hostname()
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    telemetry.Source,
		ServiceVersion: version,
		Environment:    cfg.Env,
		InstanceID:     instance,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("otel providers")
	}
	providers.SetGlobal()

	var (
		backend *store.Backend
		sqlDB   *sql.DB
	)
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database")
		}
		defer sqlDB.Close()
		backend = store.NewPostgres(sqlDB)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; using the in-memory store (state is lost on restart)")
		backend = memstore.New().Backend()
	}

	policyModule := ""
	if cfg.AuthzPolicyFile != "" {
		raw, err := os.ReadFile(cfg.AuthzPolicyFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.AuthzPolicyFile).Msg("read authorization policy")
		}
		policyModule = string(raw)
	}
	authz, err := engine.NewOPAEvaluator(ctx, policyModule)
	if err != nil {
		logger.Fatal().Err(err).Msg("authorization policy")
	}

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey, !cfg.IsProduction())
	if err != nil {
		logger.Fatal().Err(err).Msg("jwt keys")
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)

	// Live push hub, relayed across instances through Kafka when brokers are configured.
	hub := broadcast.NewHub(hubBuffer, logger)
	brokers := cfg.KafkaBrokersList()
	sessionEvents := producer.NewKafkaProducer(brokers, cfg.SessionEventsTopic)
	ledgerEvents := producer.NewKafkaProducer(brokers, cfg.LedgerEventsTopic)
	if sessionEvents != nil {
		bridge := broadcast.NewKafkaBridge(hub, sessionEvents, brokers, cfg.SessionEventsTopic, cfg.KafkaGroupID, logger)
		hub.SetRelay(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("session event bridge stopped")
			}
		}()
		defer sessionEvents.Close()
	}

	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if ledgerEvents != nil {
		emitters = append(emitters, ledgerEvents)
		defer ledgerEvents.Close()
	}
	events := telemetry.Multi(emitters...)

	auditLogger := audit.NewLogger(backend.Audit, logger)

	var (
		sender   delivery.Sender
		devCodes *devotp.MemoryStore
	)
	switch {
	case cfg.OTCReturnToClient:
		devCodes = devotp.NewMemoryStore()
		sender = delivery.NewDevSender(devCodes, logger)
		logger.Warn().Msg("one-time codes are readable at GET /dev/otc")
	case cfg.OTCRelayURL != "":
		sender = delivery.NewRelayClient(cfg.OTCRelayURL, cfg.OTCRelayToken)
	default:
		logger.Fatal().Msg("set OTC_RELAY_URL, or OTC_RETURN_TO_CLIENT outside production")
	}

	tracker := lockout.NewTracker(backend.Accounts, auditLogger, logger, cfg.LockoutThreshold, cfg.LockoutWindow())
	terminator := sessionservice.NewTerminator(backend.Sessions, hub, auditLogger, logger)
	validator := sessionservice.NewValidator(backend.Sessions, backend.Accounts, logger)
	stepUp := stepup.NewService(backend.Accounts, backend.Sessions, backend.OTC, sender, hasher, terminator, tracker, auditLogger, logger, stepup.Options{
		OTCTTL:         cfg.OTCTTL(),
		ResendCooldown: cfg.OTCResendCooldown(),
		MaxAttempts:    cfg.OTCMaxAttempts,
		GrantTTL:       cfg.GrantTTL(),
		GateIdle:       cfg.ManagementGateIdle(),
		GateWarning:    cfg.ManagementGateWarning(),
		MarkerTTL:      cfg.StepUpMarkerTTL(),
	})
	auth := identityservice.NewAuthService(backend.Accounts, backend.Sessions, tracker, hasher, tokens, auditLogger, logger, cfg.SessionTTL())
	notifications := notificationservice.NewService(backend.Notifications, backend.Accounts, hub, logger)
	accounts := accountservice.NewService(backend.Tx, authz, stepUp, hub, terminator, notifications, events, logger)
	ledger := moderationservice.NewService(backend.Moderation, authz, logger)

	var pinger health.Pinger
	if sqlDB != nil {
		pinger = sqlDB
	}
	checker := health.NewChecker(pinger, authz)

	deps := server.Deps{
		Tokens:        tokens,
		Sessions:      validator,
		Gate:          stepUp,
		Audit:         auditLogger,
		Health:        checker,
		Identity:      identityhandler.NewHandler(auth),
		StepUp:        stepuphandler.NewHandler(stepUp, tracker),
		Accounts:      accounthandler.NewHandler(accounts),
		Moderation:    moderationhandler.NewHandler(ledger),
		Notifications: notificationhandler.NewHandler(notifications),
		Events:        sessionhandler.NewHandler(hub, validator, stepUp, logger, cfg.SessionPollInterval()),
		Log:           logger,
	}
	if devCodes != nil {
		deps.DevOTC = devotphandler.NewHandler(devCodes)
	}
	app := server.NewApp(deps)

	healthServer := healthhandler.NewServer(checker, logger)
	var grpcServer interface{ GracefulStop() }
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("grpc health listen")
		}
		gs := server.NewGRPCServer(healthServer)
		grpcServer = gs
		go healthServer.Run(ctx, 0)
		go func() {
			logger.Info().Str("addr", cfg.GRPCHealthAddr).Msg("gRPC health listening")
			if err := gs.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("grpc health serve")
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Fatal().Err(err).Msg("http serve")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telemetry.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry emits still in flight")
	}
	if err := providers.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("stopped")
}
