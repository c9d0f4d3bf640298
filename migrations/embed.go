// Package migrations embeds the schema migration files for use with goose.
package migrations

import "embed"

// FS holds every goose migration SQL file in this directory.
//
//go:embed *.sql
var FS embed.FS
