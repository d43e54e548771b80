// Package migrations embeds the SQL migration trees and pins the schema
// version this binary targets.
package migrations

import (
	"embed"
	"io/fs"
)

// Version is the schema version this binary requires. Bumped whenever a
// new incremental script lands.
const Version = "1.2.0"

//go:embed incremental/*.sql
var incrementalFiles embed.FS

//go:embed idempotent/*.sql
var idempotentFiles embed.FS

// Incremental returns the one-shot script tree.
func Incremental() fs.FS {
	sub, err := fs.Sub(incrementalFiles, "incremental")
	if err != nil {
		panic(err)
	}
	return sub
}

// Idempotent returns the reapplicable script tree.
func Idempotent() fs.FS {
	sub, err := fs.Sub(idempotentFiles, "idempotent")
	if err != nil {
		panic(err)
	}
	return sub
}
