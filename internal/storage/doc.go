// Package storage provides the inventory persistence backends.
//
// Drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "sqlite": embedded SQLite file (modernc.org/sqlite, no cgo)
//   - "libsql": remote libSQL/Turso database
//   - "postgres": PostgreSQL through a pgx pool
//
// Every driver creates its tables on open.
package storage
