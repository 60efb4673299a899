// Package migrations embeds the enrichment schema for golang-migrate.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
