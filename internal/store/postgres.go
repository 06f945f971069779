package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/starterkit-studio/engine/pkg/models"
)

// PostgresCatalog implements CatalogReader over a PostgreSQL database.
// Connection URL and pool sizing are supplied by the caller (config.Load);
// this type only owns the migrate-and-query lifecycle, the same shape as
// the pgvector-backed store it is grounded on.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog connects, verifies reachability, and ensures the
// catalog tables exist. maxConns caps the pool; zero or negative leaves
// pgxpool's own default in place.
func NewPostgresCatalog(ctx context.Context, connURL string, maxConns int) (*PostgresCatalog, error) {
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("catalog parse config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("catalog connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog ping: %w", err)
	}

	s := &PostgresCatalog{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog migrate: %w", err)
	}

	log.Info().Msg("postgres catalog reader initialized")
	return s, nil
}

func (s *PostgresCatalog) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS sk_features (
			slug            TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			category        TEXT NOT NULL DEFAULT '',
			price           BIGINT NOT NULL DEFAULT 0,
			requires        JSONB NOT NULL DEFAULT '[]',
			file_mappings   JSONB NOT NULL DEFAULT '[]',
			schema_mappings JSONB NOT NULL DEFAULT '[]',
			env_vars        JSONB NOT NULL DEFAULT '[]',
			npm_packages    JSONB NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS sk_tiers (
			slug              TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			price             BIGINT NOT NULL DEFAULT 0,
			included_features JSONB NOT NULL DEFAULT '[]',
			display_order     INT NOT NULL DEFAULT 0,
			is_active         BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS sk_templates (
			slug              TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			included_features JSONB NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS sk_bundles (
			id                  BIGINT PRIMARY KEY,
			name                TEXT NOT NULL,
			type                TEXT NOT NULL,
			value               BIGINT NOT NULL,
			min_items           INT NOT NULL DEFAULT 0,
			applicable_tiers    JSONB NOT NULL DEFAULT '[]',
			applicable_features JSONB NOT NULL DEFAULT '[]',
			active_window       JSONB,
			is_active           BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS sk_coupons (
			code         TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			value        BIGINT NOT NULL,
			max_uses     INT,
			used_count   INT NOT NULL DEFAULT 0,
			min_purchase BIGINT,
			expires_at   TIMESTAMPTZ,
			is_active    BOOLEAN NOT NULL DEFAULT TRUE
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresCatalog) Features(ctx context.Context, slugs []string) ([]models.Feature, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT slug, name, description, category, price, requires,
		       file_mappings, schema_mappings, env_vars, npm_packages
		FROM sk_features WHERE slug = ANY($1)`, slugs)
	if err != nil {
		return nil, fmt.Errorf("catalog features query: %w", err)
	}
	defer rows.Close()

	var out []models.Feature
	for rows.Next() {
		var f models.Feature
		var requires, fileMappings, schemaMappings, envVars, npmPackages []byte
		if err := rows.Scan(&f.Slug, &f.Name, &f.Description, &f.Category, &f.Price,
			&requires, &fileMappings, &schemaMappings, &envVars, &npmPackages); err != nil {
			return nil, fmt.Errorf("catalog features scan: %w", err)
		}
		if err := decodeStrict(requires, &f.Requires); err != nil {
			return nil, fmt.Errorf("feature %s requires: %w", f.Slug, err)
		}
		if err := decodeStrict(fileMappings, &f.FileMappings); err != nil {
			return nil, fmt.Errorf("feature %s file_mappings: %w", f.Slug, err)
		}
		if err := decodeStrict(schemaMappings, &f.SchemaMappings); err != nil {
			return nil, fmt.Errorf("feature %s schema_mappings: %w", f.Slug, err)
		}
		if err := decodeStrict(envVars, &f.EnvVars); err != nil {
			return nil, fmt.Errorf("feature %s env_vars: %w", f.Slug, err)
		}
		if err := decodeStrict(npmPackages, &f.NpmPackages); err != nil {
			return nil, fmt.Errorf("feature %s npm_packages: %w", f.Slug, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresCatalog) Tier(ctx context.Context, slug string) (*models.PricingTier, error) {
	var t models.PricingTier
	var included []byte
	err := s.pool.QueryRow(ctx, `
		SELECT slug, name, price, included_features, display_order, is_active
		FROM sk_tiers WHERE slug = $1`, slug).
		Scan(&t.Slug, &t.Name, &t.Price, &included, &t.DisplayOrder, &t.IsActive)
	if err != nil {
		return nil, &ErrNotFound{Entity: "tier", Key: slug}
	}
	if err := decodeStrict(included, &t.IncludedFeatures); err != nil {
		return nil, fmt.Errorf("tier %s included_features: %w", slug, err)
	}
	return &t, nil
}

func (s *PostgresCatalog) Template(ctx context.Context, slug string) (*models.Template, error) {
	if slug == "" {
		return nil, nil
	}
	var t models.Template
	var included []byte
	err := s.pool.QueryRow(ctx, `
		SELECT slug, name, included_features FROM sk_templates WHERE slug = $1`, slug).
		Scan(&t.Slug, &t.Name, &included)
	if err != nil {
		return nil, &ErrNotFound{Entity: "template", Key: slug}
	}
	if err := decodeStrict(included, &t.IncludedFeatures); err != nil {
		return nil, fmt.Errorf("template %s included_features: %w", slug, err)
	}
	return &t, nil
}

func (s *PostgresCatalog) ActiveBundles(ctx context.Context) ([]models.BundleDiscount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, value, min_items, applicable_tiers,
		       applicable_features, active_window, is_active
		FROM sk_bundles WHERE is_active = TRUE ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog bundles query: %w", err)
	}
	defer rows.Close()

	var out []models.BundleDiscount
	for rows.Next() {
		var b models.BundleDiscount
		var tiers, features, window []byte
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.Value, &b.MinItems,
			&tiers, &features, &window, &b.IsActive); err != nil {
			return nil, fmt.Errorf("catalog bundles scan: %w", err)
		}
		if err := decodeStrict(tiers, &b.ApplicableTiers); err != nil {
			return nil, fmt.Errorf("bundle %d applicable_tiers: %w", b.ID, err)
		}
		if err := decodeStrict(features, &b.ApplicableFeatures); err != nil {
			return nil, fmt.Errorf("bundle %d applicable_features: %w", b.ID, err)
		}
		if len(window) > 0 {
			var w models.ActiveWindow
			if err := decodeStrict(window, &w); err != nil {
				return nil, fmt.Errorf("bundle %d active_window: %w", b.ID, err)
			}
			b.ActiveWindow = &w
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, rows.Err()
}

func (s *PostgresCatalog) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.pool.QueryRow(ctx, `
		SELECT code, type, value, max_uses, used_count, min_purchase, expires_at, is_active
		FROM sk_coupons WHERE code = $1`, code).
		Scan(&c.Code, &c.Type, &c.Value, &c.MaxUses, &c.UsedCount, &c.MinPurchase, &c.ExpiresAt, &c.IsActive)
	if err != nil {
		return nil, nil
	}
	return &c, nil
}

func (s *PostgresCatalog) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresCatalog) Close() error {
	s.pool.Close()
	return nil
}

// decodeStrict rejects unknown JSON keys, pushing catalog schema drift to
// write time rather than generation time.
func decodeStrict(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
