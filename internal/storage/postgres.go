package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (inventory.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = cfg.MaxConns
	if pcfg.MaxConns <= 0 {
		pcfg.MaxConns = 4
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	st := &pgStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return inventory.WrapStoreError("migrate", "", err)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

const pgProductCols = `name, COALESCE(image_url, ''), status, last_updated, notified`

func (s *pgStore) GetProduct(ctx context.Context, name string) (inventory.ProductRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgProductCols+` FROM products WHERE name = $1`, name)
	p, err := scanPGProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ProductRecord{}, false, nil
	}
	if err != nil {
		return inventory.ProductRecord{}, false, inventory.WrapStoreError("get product", name, err)
	}
	return p, true, nil
}

func (s *pgStore) UpsertProduct(ctx context.Context, p inventory.ProductRecord) error {
	updated := p.LastUpdated
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products(name, image_url, status, last_updated, notified) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(name) DO UPDATE SET
		   image_url=EXCLUDED.image_url, status=EXCLUDED.status,
		   last_updated=EXCLUDED.last_updated, notified=EXCLUDED.notified`,
		p.Name, nullStr(p.ImageURL), string(p.Status), updated.UTC(), p.Notified,
	)
	return inventory.WrapStoreError("upsert product", p.Name, err)
}

func (s *pgStore) ListProducts(ctx context.Context) ([]inventory.ProductRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgProductCols+` FROM products ORDER BY name`)
	if err != nil {
		return nil, inventory.WrapStoreError("list products", "", err)
	}
	out, err := collectPGProducts(rows)
	return out, inventory.WrapStoreError("list products", "", err)
}

func (s *pgStore) ListUnnotified(ctx context.Context, statuses ...inventory.Status) ([]inventory.ProductRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgProductCols+` FROM products
		  WHERE NOT notified AND status = ANY($1)
		  ORDER BY last_updated, name`, names)
	if err != nil {
		return nil, inventory.WrapStoreError("list unnotified", "", err)
	}
	out, err := collectPGProducts(rows)
	return out, inventory.WrapStoreError("list unnotified", "", err)
}

func (s *pgStore) MarkNotified(ctx context.Context, name string, status inventory.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET notified = TRUE WHERE name = $1 AND status = $2 AND NOT notified`, name, string(status))
	if err != nil {
		return false, inventory.WrapStoreError("mark notified", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *pgStore) DeleteProduct(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM products WHERE name = $1`, name)
	return inventory.WrapStoreError("delete product", name, err)
}

func (s *pgStore) ListChannels(ctx context.Context) ([]inventory.ChannelRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_id, channel_id, channel_name, group_name, updated_at FROM channels ORDER BY group_id`)
	if err != nil {
		return nil, inventory.WrapStoreError("list channels", "", err)
	}
	defer rows.Close()

	var out []inventory.ChannelRecord
	for rows.Next() {
		var c inventory.ChannelRecord
		if err := rows.Scan(&c.GroupID, &c.ChannelID, &c.ChannelName, &c.GroupName, &c.UpdatedAt); err != nil {
			return nil, inventory.WrapStoreError("list channels", "", err)
		}
		out = append(out, c)
	}
	return out, inventory.WrapStoreError("list channels", "", rows.Err())
}

func (s *pgStore) UpsertChannel(ctx context.Context, c inventory.ChannelRecord) error {
	at := c.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels(group_id, channel_id, channel_name, group_name, updated_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(group_id) DO UPDATE SET
		   channel_id=EXCLUDED.channel_id, channel_name=EXCLUDED.channel_name,
		   group_name=EXCLUDED.group_name, updated_at=EXCLUDED.updated_at`,
		c.GroupID, c.ChannelID, c.ChannelName, c.GroupName, at.UTC(),
	)
	return inventory.WrapStoreError("upsert channel", c.GroupID, err)
}

func (s *pgStore) DeleteChannel(ctx context.Context, groupID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE group_id = $1`, groupID)
	return inventory.WrapStoreError("delete channel", groupID, err)
}

func scanPGProduct(r pgx.Row) (inventory.ProductRecord, error) {
	var (
		p      inventory.ProductRecord
		status string
	)
	if err := r.Scan(&p.Name, &p.ImageURL, &status, &p.LastUpdated, &p.Notified); err != nil {
		return inventory.ProductRecord{}, err
	}
	st, err := inventory.ParseStatus(status)
	if err != nil {
		return inventory.ProductRecord{}, err
	}
	p.Status = st
	p.LastUpdated = p.LastUpdated.UTC()
	return p, nil
}

func collectPGProducts(rows pgx.Rows) ([]inventory.ProductRecord, error) {
	defer rows.Close()
	var out []inventory.ProductRecord
	for rows.Next() {
		p, err := scanPGProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
