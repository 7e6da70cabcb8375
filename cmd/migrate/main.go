package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/common/config"
	commoncrypto "github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/db"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/db/migrate"
	userdomain "github.com/AlibekovAA/carai-auth/internal/user/domain"
	userrepo "github.com/AlibekovAA/carai-auth/internal/user/repository"
)

const usage = `usage: migrate <command> [flags]

commands:
  up          apply all pending migrations
  down        roll back all migrations
  seed-user   create a user (-username, -email, -password, -admin)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadMigrateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogDir, "migrate", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case migrate.DirectionUp, migrate.DirectionDown:
		if err := migrate.Run(cfg.DatabaseURL, cmd); err != nil {
			log.Fatalf("migrate %s failed: %v", cmd, err)
		}
		log.Infof("migrate %s complete", cmd)
	case "seed-user":
		if err := seedUser(log, cfg.DatabaseURL, os.Args[2:]); err != nil {
			log.Fatalf("seed-user failed: %v", err)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func seedUser(log *logger.Logger, databaseURL string, args []string) error {
	fs := flag.NewFlagSet("seed-user", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "plaintext password")
	admin := fs.Bool("admin", false, "grant the admin role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validateSeed(*username, *email, *password); err != nil {
		return err
	}

	hash, err := commoncrypto.NewArgon2Hasher(commoncrypto.DefaultArgon2Params()).Hash(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	id, err := commoncrypto.NewUUIDGenerator().NewID()
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, log, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	now := time.Now().UTC()
	err = userrepo.NewPgRepository(pool).Create(ctx, userdomain.User{
		ID:           userdomain.ID(id),
		Username:     strings.TrimSpace(*username),
		Email:        strings.TrimSpace(*email),
		PasswordHash: hash,
		IsAdmin:      *admin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}

	log.WithFields(ctx, logger.Fields{
		"user_id":  id,
		"is_admin": *admin,
		"action":   "seed_user",
	}).Infof("user %s created", *username)
	return nil
}

// validateSeed applies the same account policy as registration.
func validateSeed(username, email, password string) error {
	if err := userdomain.ValidateNew(username, email, password); err != nil {
		return fmt.Errorf("invalid seed user: %w", err)
	}
	return nil
}
