// Package migrations embeds the SQL schema for the local state database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
