// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
// Every file must run unchanged on both SQLite and PostgreSQL.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains all .sql files in this directory (e.g. 001_council_archive.sql).
//
//go:embed *.sql
var FS embed.FS
