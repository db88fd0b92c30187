// Package secrets stores per-shop provider API keys in SQLite.
//
// Secret values never appear in logs or errors; the rest of the system
// only ever derives a boolean "configured" or a header value from this
// store.
package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/radar/dbopen"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS provider_secrets (
	shop_id    TEXT NOT NULL,
	provider   TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (shop_id, provider)
);
`

// ErrNotFound is returned when no secret exists for the shop and provider.
var ErrNotFound = errors.New("secrets: not found")

// Store is the SQLite-backed secret store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store and applies its schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("secrets: apply schema: %w", err)
	}
	return s, nil
}

// Set stores or replaces the secret for one provider of one shop.
func (s *Store) Set(ctx context.Context, shopID, provider, value string) error {
	if shopID == "" || provider == "" {
		return fmt.Errorf("secrets: shop id and provider are required")
	}
	if value == "" {
		return fmt.Errorf("secrets: empty value for %s", provider)
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO provider_secrets (shop_id, provider, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (shop_id, provider) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		shopID, provider, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("secrets: set %s: %w", provider, err)
	}
	s.logger.InfoContext(ctx, "secrets: key stored", "shop_id", shopID, "provider", provider)
	return nil
}

// Delete removes the secret for one provider of one shop.
func (s *Store) Delete(ctx context.Context, shopID, provider string) error {
	if _, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM provider_secrets WHERE shop_id = ? AND provider = ?`,
		shopID, provider); err != nil {
		return fmt.Errorf("secrets: delete %s: %w", provider, err)
	}
	return nil
}

// IsProviderConfigured reports whether a secret exists for the shop and
// provider.
func (s *Store) IsProviderConfigured(ctx context.Context, shopID, provider string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM provider_secrets WHERE shop_id = ? AND provider = ?`,
		shopID, provider).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("secrets: lookup %s: %w", provider, err)
	}
	return true, nil
}

// GetProviderSecret returns the secret value. Callers must not log it.
func (s *Store) GetProviderSecret(ctx context.Context, shopID, provider string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM provider_secrets WHERE shop_id = ? AND provider = ?`,
		shopID, provider).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s for shop %s", ErrNotFound, provider, shopID)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", provider, err)
	}
	return value, nil
}

// ConfiguredProviders lists the provider names that have a secret for the
// shop, sorted by name.
func (s *Store) ConfiguredProviders(ctx context.Context, shopID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider FROM provider_secrets WHERE shop_id = ? ORDER BY provider`,
		shopID)
	if err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("secrets: scan: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
