package migrations

import "embed"

// FS contains embedded Postgres migrations for room storage.
//
//go:embed *.sql
var FS embed.FS
