package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/Tamillat/wget/internal/config"
)

// Manifest persists the URL-to-file mapping into a relational database.
type Manifest struct {
	db          *sql.DB
	autoMigrate bool
}

// OpenManifest connects to the configured database and, when auto-migration
// is on, ensures the downloads table exists.
func OpenManifest(cfg config.SQLConfig) (*Manifest, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	m := &Manifest{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := m.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return m, nil
}

// Record upserts one download into the manifest.
func (m *Manifest) Record(ctx context.Context, finalURL, localPath string, isHTML bool) error {
	if m == nil || m.db == nil {
		return nil
	}
	if err := m.upsert(ctx, finalURL, localPath, isHTML); err != nil {
		if m.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := m.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := m.upsert(ctx, finalURL, localPath, isHTML); retryErr != nil {
				return fmt.Errorf("record download: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

func (m *Manifest) upsert(ctx context.Context, finalURL, localPath string, isHTML bool) error {
	query := `
        INSERT INTO downloads (url, local_path, is_html, retrieved_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (url) DO UPDATE SET
            local_path = EXCLUDED.local_path,
            is_html = downloads.is_html OR EXCLUDED.is_html,
            retrieved_at = EXCLUDED.retrieved_at
    `
	_, err := m.db.ExecContext(ctx, query, finalURL, localPath, isHTML, time.Now().UTC())
	return err
}

func (m *Manifest) ensureSchema(ctx context.Context) error {
	if m == nil || m.db == nil || !m.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmt := `CREATE TABLE IF NOT EXISTS downloads (
	    url TEXT PRIMARY KEY,
	    local_path TEXT NOT NULL,
	    is_html BOOLEAN NOT NULL DEFAULT FALSE,
	    retrieved_at TIMESTAMPTZ
	)`
	if _, err := m.db.ExecContext(schemaCtx, stmt); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (m *Manifest) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
