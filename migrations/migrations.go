// Package migrations embeds the rule-set registry schema, one dialect
// directory per supported driver, so the binary can migrate a fresh
// database without external files.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
