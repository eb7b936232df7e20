// Package migrations embeds the SQL migration sets into the binaries.
//
// Server holds the central audit, access and consent store; Station holds
// the badge station's local outbox.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed server/*.sql station/*.sql
var files embed.FS

var (
	// Server is the schema of the central reconcile store.
	Server = mustSub("server")
	// Station is the schema of a badge station outbox.
	Station = mustSub("station")
)

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
