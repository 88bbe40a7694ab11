// Package migrations embeds the clinic schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
