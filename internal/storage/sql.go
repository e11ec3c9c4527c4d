package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

// sqlStore backs the sqlite and libsql drivers. Both speak SQLite's dialect
// through database/sql; timestamps are stored as RFC 3339 text in UTC.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, log logx.Logger) (*sqlStore, error) {
	st := &sqlStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	// libsql's remote protocol runs one statement per call.
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return inventory.WrapStoreError("migrate", "", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) GetProduct(ctx context.Context, name string) (inventory.ProductRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, image_url, status, last_updated, notified FROM products WHERE name = ?`, name)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.ProductRecord{}, false, nil
	}
	if err != nil {
		return inventory.ProductRecord{}, false, inventory.WrapStoreError("get product", name, err)
	}
	return p, true, nil
}

func (s *sqlStore) UpsertProduct(ctx context.Context, p inventory.ProductRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products(name, image_url, status, last_updated, notified) VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   image_url=excluded.image_url, status=excluded.status,
		   last_updated=excluded.last_updated, notified=excluded.notified`,
		p.Name, nullStr(p.ImageURL), string(p.Status), formatTime(p.LastUpdated), boolInt(p.Notified),
	)
	return inventory.WrapStoreError("upsert product", p.Name, err)
}

func (s *sqlStore) ListProducts(ctx context.Context) ([]inventory.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, image_url, status, last_updated, notified FROM products ORDER BY name`)
	if err != nil {
		return nil, inventory.WrapStoreError("list products", "", err)
	}
	out, err := collectProducts(rows)
	return out, inventory.WrapStoreError("list products", "", err)
}

func (s *sqlStore) ListUnnotified(ctx context.Context, statuses ...inventory.Status) ([]inventory.ProductRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	q := `SELECT name, image_url, status, last_updated, notified FROM products
	      WHERE notified = 0 AND status IN (` + placeholders(len(statuses)) + `)
	      ORDER BY last_updated, name`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, inventory.WrapStoreError("list unnotified", "", err)
	}
	out, err := collectProducts(rows)
	return out, inventory.WrapStoreError("list unnotified", "", err)
}

func (s *sqlStore) MarkNotified(ctx context.Context, name string, status inventory.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET notified = 1 WHERE name = ? AND status = ? AND notified = 0`, name, string(status))
	if err != nil {
		return false, inventory.WrapStoreError("mark notified", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, inventory.WrapStoreError("mark notified", name, err)
	}
	return n > 0, nil
}

func (s *sqlStore) DeleteProduct(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE name = ?`, name)
	return inventory.WrapStoreError("delete product", name, err)
}

func (s *sqlStore) ListChannels(ctx context.Context) ([]inventory.ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, channel_id, channel_name, group_name, updated_at FROM channels ORDER BY group_id`)
	if err != nil {
		return nil, inventory.WrapStoreError("list channels", "", err)
	}
	defer rows.Close()

	var out []inventory.ChannelRecord
	for rows.Next() {
		var (
			c  inventory.ChannelRecord
			at string
		)
		if err := rows.Scan(&c.GroupID, &c.ChannelID, &c.ChannelName, &c.GroupName, &at); err != nil {
			return nil, inventory.WrapStoreError("list channels", "", err)
		}
		c.UpdatedAt = parseTime(at)
		out = append(out, c)
	}
	return out, inventory.WrapStoreError("list channels", "", rows.Err())
}

func (s *sqlStore) UpsertChannel(ctx context.Context, c inventory.ChannelRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(group_id, channel_id, channel_name, group_name, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(group_id) DO UPDATE SET
		   channel_id=excluded.channel_id, channel_name=excluded.channel_name,
		   group_name=excluded.group_name, updated_at=excluded.updated_at`,
		c.GroupID, c.ChannelID, c.ChannelName, c.GroupName, formatTime(c.UpdatedAt),
	)
	return inventory.WrapStoreError("upsert channel", c.GroupID, err)
}

func (s *sqlStore) DeleteChannel(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE group_id = ?`, groupID)
	return inventory.WrapStoreError("delete channel", groupID, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(r rowScanner) (inventory.ProductRecord, error) {
	var (
		p        inventory.ProductRecord
		image    sql.NullString
		status   string
		updated  string
		notified int64
	)
	if err := r.Scan(&p.Name, &image, &status, &updated, &notified); err != nil {
		return inventory.ProductRecord{}, err
	}
	st, err := inventory.ParseStatus(status)
	if err != nil {
		return inventory.ProductRecord{}, err
	}
	p.ImageURL = image.String
	p.Status = st
	p.LastUpdated = parseTime(updated)
	p.Notified = notified != 0
	return p, nil
}

func collectProducts(rows *sql.Rows) ([]inventory.ProductRecord, error) {
	defer rows.Close()
	var out []inventory.ProductRecord
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
