package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/wire"
)

// Store persists signed address updates.
type Store interface {
	SaveAddress(signed *wire.Signed[AddressUpdate]) error
	DeleteAddress(name string) error
	LoadAddresses() (map[string]*wire.Signed[AddressUpdate], error)
}

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS legion_addresses (
		name VARCHAR(128) PRIMARY KEY,
		address VARCHAR(128) NOT NULL,
		nonce BIGINT NOT NULL,
		signature BYTEA NOT NULL,
		signer_public_key VARCHAR(128) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveAddress persists a signed address update.
func (s *PostgresStore) SaveAddress(signed *wire.Signed[AddressUpdate]) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	update := signed.Object

	query := `
	INSERT INTO legion_addresses
		(name, address, nonce, signature, signer_public_key, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (name) DO UPDATE SET
		address = EXCLUDED.address,
		nonce = EXCLUDED.nonce,
		signature = EXCLUDED.signature,
		signer_public_key = EXCLUDED.signer_public_key,
		updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		update.Name,
		update.Address.String(),
		int64(update.Nonce),
		signed.Signature.Bytes(),
		signed.PublicKey.String(),
	)
	return err
}

// DeleteAddress removes a named address.
func (s *PostgresStore) DeleteAddress(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, "DELETE FROM legion_addresses WHERE name = $1", name)
	return err
}

// LoadAddresses retrieves all persisted address updates.
func (s *PostgresStore) LoadAddresses() (map[string]*wire.Signed[AddressUpdate], error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, address, nonce, signature, signer_public_key
		FROM legion_addresses
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*wire.Signed[AddressUpdate])

	for rows.Next() {
		var (
			name         string
			address      string
			nonce        int64
			signature    []byte
			signerPubKey string
		)

		if err := rows.Scan(&name, &address, &nonce, &signature, &signerPubKey); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		addr, err := crypto.NewPublicKeyFromString(address)
		if err != nil {
			continue
		}
		signerKey, err := crypto.NewPublicKeyFromString(signerPubKey)
		if err != nil {
			continue
		}

		result[name] = &wire.Signed[AddressUpdate]{
			PublicKey: signerKey,
			Signature: crypto.NewSignature(signature),
			Object: &AddressUpdate{
				Name:    name,
				Address: addr,
				Nonce:   uint64(nonce),
			},
		}
	}

	return result, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements Store for testing without a database.
type InMemoryStore struct {
	mu        sync.Mutex
	addresses map[string]*wire.Signed[AddressUpdate]
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		addresses: make(map[string]*wire.Signed[AddressUpdate]),
	}
}

// SaveAddress stores an update in memory.
func (s *InMemoryStore) SaveAddress(signed *wire.Signed[AddressUpdate]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[signed.Object.Name] = signed
	return nil
}

// DeleteAddress removes a named address from memory.
func (s *InMemoryStore) DeleteAddress(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addresses, name)
	return nil
}

// LoadAddresses returns all stored updates.
func (s *InMemoryStore) LoadAddresses() (map[string]*wire.Signed[AddressUpdate], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]*wire.Signed[AddressUpdate], len(s.addresses))
	for name, signed := range s.addresses {
		result[name] = signed
	}
	return result, nil
}
