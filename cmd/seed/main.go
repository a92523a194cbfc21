// seed creates the default admin account and, outside production, a sample user sharing its
// password. Idempotent: it does nothing when a default admin already exists.
// Set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"account-lifecycle/internal/account/domain"
	accountrepo "account-lifecycle/internal/account/repository"
	"account-lifecycle/internal/config"
	"account-lifecycle/internal/db"
	"account-lifecycle/internal/platform/logging"
	"account-lifecycle/internal/security"
)

const (
	minPasswordLength = 8
	sampleUserEmail   = "user@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stderr)
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	email := domain.NormalizeEmail(os.Getenv("SEED_ADMIN_EMAIL"))
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || len(password) < minPasswordLength {
		logger.Fatal().Msg("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD (8+ characters) are required")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	accounts := accountrepo.NewPostgresRepository(conn)

	n, err := accounts.CountDefaultAdmins(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed check")
	}
	if n > 0 {
		logger.Info().Msg("default admin already exists; skipping")
		return
	}
	existing, err := accounts.GetByEmail(ctx, email)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed check")
	}
	if existing != nil {
		logger.Fatal().Str("email", email).Msg("email is taken by a non-default account; promote it through the API instead")
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(password))
	if err != nil {
		logger.Fatal().Err(err).Msg("hash password")
	}
	now := time.Now().UTC()
	admin := newAccount(email, "Default Admin", hash, domain.RoleRootAdmin, now)
	admin.IsDefaultAdmin = true
	admin.AdminApprovalStatus = domain.ApprovalApproved
	if err := accounts.Create(ctx, admin); err != nil {
		logger.Fatal().Err(err).Msg("create default admin")
	}
	logger.Info().Str("account_id", admin.ID).Str("email", email).Msg("default admin created")

	if cfg.IsProduction() {
		return
	}
	if u, err := accounts.GetByEmail(ctx, sampleUserEmail); err != nil || u != nil {
		return
	}
	user := newAccount(sampleUserEmail, "Sample User", hash, domain.RoleUser, now)
	if err := accounts.Create(ctx, user); err != nil {
		logger.Fatal().Err(err).Msg("create sample user")
	}
	logger.Info().Str("account_id", user.ID).Str("email", sampleUserEmail).Msg("sample user created")
}

func newAccount(email, name, hash string, role domain.Role, now time.Time) *domain.Account {
	return &domain.Account{
		ID:                  uuid.NewString(),
		Email:               email,
		Name:                name,
		PasswordHash:        hash,
		Role:                role,
		AdminApprovalStatus: domain.ApprovalNone,
		Status:              domain.StatusActive,
		BanState:            domain.BanNone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
