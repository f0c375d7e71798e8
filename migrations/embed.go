// Package migrations holds the SQL files for the postgres realtime backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
