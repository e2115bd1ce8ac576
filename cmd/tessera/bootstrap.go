package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/config"
	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

const adminTeamName = "admin"

// bootstrapAdmin upserts the configured admin account on startup. It is
// idempotent: re-running with the same configuration changes nothing, and a
// changed ADMIN_PASSWORD rotates the stored hash.
func bootstrapAdmin(ctx context.Context, st store.Store, svc *service.Services, cfg *config.Config, log *slog.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	team, err := st.GetTeamByName(ctx, adminTeamName)
	if errors.Is(err, store.ErrNotFound) {
		team, err = svc.CreateTeam(ctx, service.AdminActor(), service.CreateTeamRequest{Name: adminTeamName})
	}
	if err != nil {
		return fmt.Errorf("admin team: %w", err)
	}

	user, err := st.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, err = svc.CreateUser(ctx, service.AdminActor(), service.CreateUserRequest{
			Email:        email,
			Name:         cfg.AdminName,
			Role:         contracts.RoleAdmin,
			TeamID:       &team.ID,
			PasswordHash: hash,
		})
		if err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		log.Info("bootstrap: admin user created", "email", email)
	case err != nil:
		return fmt.Errorf("lookup admin user: %w", err)
	default:
		user.Role = contracts.RoleAdmin
		user.PasswordHash = hash
		user.DeactivatedAt = nil
		if err := st.UpdateUser(ctx, user); err != nil {
			return fmt.Errorf("update admin user: %w", err)
		}
		log.Info("bootstrap: admin user refreshed", "email", email)
	}
	return nil
}

// runBootstrapCmd runs the admin upsert once and exits; useful for init
// containers that must not race the server.
func runBootstrapCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	if cfg.AdminEmail == "" {
		fmt.Fprintln(stderr, "ADMIN_EMAIL and ADMIN_PASSWORD must be set")
		return 2
	}
	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "store error: %v\n", err)
		return 1
	}
	defer st.Close()

	if err := bootstrapAdmin(ctx, st, service.New(st), cfg, log); err != nil {
		fmt.Fprintf(stderr, "bootstrap error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "bootstrap complete: admin %s\n", strings.ToLower(cfg.AdminEmail))
	return 0
}
