// Package migrations embeds the schema migrations of the relational backend.
package migrations

import "embed"

// FS holds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS
