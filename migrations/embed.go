// Package migrations ships the numbered schema files applied to every
// hospital schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
