package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// openLibSQL connects to a libSQL server, e.g. "libsql://db-org.turso.io?authToken=...".
func openLibSQL(ctx context.Context, cfg Config, log logx.Logger) (inventory.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for libsql driver")
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLStore(ctx, db, log)
}
