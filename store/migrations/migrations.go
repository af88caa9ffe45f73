// Package migrations embeds the SQL migration set applied by store.Open via
// golang-migrate's iofs source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
