// Package migrations contains the embedded goose migrations shared by the
// PostgreSQL and SQLite link stores.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
