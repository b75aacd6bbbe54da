package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/Legion-Team/legion-go/sale"
)

// Store persists the sale's event journal. The engine's in-memory stream
// is authoritative; the journal feeds the off-chain indexer and survives
// restarts.
type Store interface {
	AppendEvents(events []sale.Event) error
	LoadEvents(saleID string, afterSeq uint64) ([]sale.Event, error)
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
	CREATE TABLE IF NOT EXISTS sale_events (
		id VARCHAR(64) PRIMARY KEY,
		sale_id VARCHAR(128) NOT NULL,
		seq BIGINT NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		event_time TIMESTAMP WITH TIME ZONE NOT NULL,
		fields JSONB,
		UNIQUE (sale_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_sale_events_sale_seq ON sale_events(sale_id, seq);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendEvents persists a batch of journal entries. Re-appending an
// already persisted sequence number is a no-op.
func (s *PostgresStore) AppendEvents(events []sale.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO sale_events (id, sale_id, seq, event_type, event_time, fields)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (sale_id, seq) DO NOTHING
	`

	for _, ev := range events {
		fields, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("encoding fields: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query,
			ev.ID, ev.SaleID, int64(ev.Seq), string(ev.Type), ev.Time, fields,
		); err != nil {
			return err
		}
	}
	return nil
}

// LoadEvents retrieves a sale's journal after the given sequence number,
// in order.
func (s *PostgresStore) LoadEvents(saleID string, afterSeq uint64) ([]sale.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, event_type, event_time, fields
		FROM sale_events
		WHERE sale_id = $1 AND seq > $2
		ORDER BY seq
	`, saleID, int64(afterSeq))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sale.Event
	for rows.Next() {
		var (
			ev     sale.Event
			seq    int64
			typ    string
			fields []byte
		)
		if err := rows.Scan(&ev.ID, &seq, &typ, &ev.Time, &fields); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		ev.SaleID = saleID
		ev.Seq = uint64(seq)
		ev.Type = sale.EventType(typ)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &ev.Fields); err != nil {
				return nil, fmt.Errorf("decoding fields: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements Store for testing without a database.
type InMemoryStore struct {
	mu     sync.Mutex
	events map[string][]sale.Event
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]sale.Event)}
}

// AppendEvents stores a batch in memory, skipping already seen sequence
// numbers.
func (s *InMemoryStore) AppendEvents(events []sale.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		journal := s.events[ev.SaleID]
		if n := len(journal); n > 0 && ev.Seq <= journal[n-1].Seq {
			continue
		}
		s.events[ev.SaleID] = append(journal, ev)
	}
	return nil
}

// LoadEvents returns a sale's stored journal after the given sequence
// number.
func (s *InMemoryStore) LoadEvents(saleID string, afterSeq uint64) ([]sale.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sale.Event
	for _, ev := range s.events[saleID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}
