package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// HashAPIKey returns the hex SHA-256 digest stored for a raw API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a raw credential for the given role (sk_ for admin,
// pk_ for public) and returns it with its stored hash. The raw key is shown
// once; only the hash persists.
func GenerateAPIKey(role string) (string, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}

	prefix := "pk_"
	if role == models.RoleAdmin {
		prefix = "sk_"
	}
	raw := prefix + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), nil
}

// CreateAPIKey persists a hashed credential for a store.
func (s *Store) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, store_id, key_hash, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		key.ID, key.StoreID, key.KeyHash, key.Role)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// ResolveAPIKey resolves a raw credential to its store and role.
// Returns sql.ErrNoRows via the wrapped error if the key is unknown.
func (s *Store) ResolveAPIKey(ctx context.Context, rawKey string) (*models.Store, string, error) {
	var row struct {
		models.Store
		Role string `db:"role"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT s.id, s.name, s.status, s.currency, s.stripe_secret_key, s.stripe_webhook_secret, k.role
		FROM api_keys k
		JOIN stores s ON k.store_id = s.id
		WHERE k.key_hash = $1
		LIMIT 1`, HashAPIKey(rawKey))
	if err != nil {
		return nil, "", err
	}
	return &row.Store, row.Role, nil
}

// GetStoreByID retrieves a store by ID
func (s *Store) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	var store models.Store
	err := s.db.GetContext(ctx, &store,
		"SELECT id, name, status, currency, stripe_secret_key, stripe_webhook_secret FROM stores WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// GetVariantBySKU retrieves a variant by store and SKU
func (s *Store) GetVariantBySKU(ctx context.Context, storeID, sku string) (*models.Variant, error) {
	var variant models.Variant
	err := s.db.GetContext(ctx, &variant,
		"SELECT * FROM variants WHERE store_id = $1 AND sku = $2", storeID, sku)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}
