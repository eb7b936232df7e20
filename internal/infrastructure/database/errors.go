package database

import "errors"

var (
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown sqlite driver")

	// ErrMigrationNotFound is returned by MigrateDown when the latest applied
	// version has no file in the migration set.
	ErrMigrationNotFound = errors.New("migration not found")
)
