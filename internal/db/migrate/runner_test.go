package migrate

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
	"github.com/AlibekovAA/carai-auth/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", DirectionUp)
	if !errors.Is(err, commonerrors.ErrMissingRequiredEnv) {
		t.Fatalf("expected missing env error, got %v", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if !errors.Is(err, commonerrors.ErrInvalidConfig) {
				t.Errorf("expected invalid config for %q, got %v", direction, err)
			}
		})
	}
}

func TestMigrationFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}

func TestMigrationFS_SessionsOneRowPerUser(t *testing.T) {
	body, err := fs.ReadFile(db.MigrationFS, "migrations/000002_create_sessions.up.sql")
	if err != nil {
		t.Fatalf("read sessions migration: %v", err)
	}
	if !strings.Contains(string(body), "UNIQUE (user_id)") {
		t.Error("expected a unique constraint on sessions.user_id")
	}
}
