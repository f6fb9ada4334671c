// Package database provides the SQLite store behind the bridge's entity cache.
//
// The cache is what lets previously discovered feeders and fountains come
// back, with the same identity, before the vendor API has been reached.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Transaction helpers for batch writes
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered by the top-level
// migrations package through MigrationsFS.
package database
