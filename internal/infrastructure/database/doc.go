// Package database provides SQLite connectivity for the run database.
//
// The run database holds what the recorder persists: one row per simulation
// run, per-tick entity state snapshots and the applied command log.
//
// This package manages:
//   - Connection setup with WAL mode and busy timeout
//   - Versioned schema migrations registered from an fs.FS
//   - Transaction helper and health check
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns are NULLABLE or carry a DEFAULT, and
// every .up.sql ships with a .down.sql.
package database
