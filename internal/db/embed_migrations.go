package db

import "embed"

// MigrationFS holds the schema for users and sessions.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
