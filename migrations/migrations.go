// Package migrations embeds the schema migration files so binaries can apply
// them without shipping the .sql files alongside.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
