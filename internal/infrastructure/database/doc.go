// Package database provides SQLite connectivity for Gray Logic Access.
//
// This package manages:
//   - Connections through either mattn/go-sqlite3 (server) or
//     modernc.org/sqlite (cgo-free station builds)
//   - WAL mode, busy timeout and single-writer pooling
//   - Embedded, versioned schema migrations
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    true,
//	    Migrations: migrations.Server,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Audit tables are append-only, so migrations only add.
package database
