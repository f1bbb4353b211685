// Package migrations registers the schema migrations with goose.
package migrations

import "embed"

// FS holds the migration sources so goose can match them to the
// registered functions regardless of the working directory.
//
//go:embed *.go
var FS embed.FS
