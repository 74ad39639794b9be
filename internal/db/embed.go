package db

import "embed"

// MigrationsFS embeds the MySQL schema migrations for the chat_history
// and workflow_log tables.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
