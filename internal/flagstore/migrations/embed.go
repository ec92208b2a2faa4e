// Package migrations embeds the SQL migration files for the flag side-store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
