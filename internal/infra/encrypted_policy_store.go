package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// EncryptedPolicyStore implements domain.PolicyStore on a SQLCipher
// database. Toggles are stored as key/value rows under their persisted
// key names; rows that are absent take the policy default.
type EncryptedPolicyStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedPolicyStore opens (or creates) the encrypted policy database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedPolicyStore(dbPath string, key []byte) (*EncryptedPolicyStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedPolicyStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedPolicyStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads every stored toggle.
func (s *EncryptedPolicyStore) Load() (domain.Policy, error) {
	rows, err := s.db.Query(`SELECT key, value FROM policy`)
	if err != nil {
		return policy.DefaultPolicy(), fmt.Errorf("failed to read policy: %w", err)
	}
	defer rows.Close()

	values := make(map[string]bool)
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return policy.DefaultPolicy(), err
		}
		values[k] = v != 0
	}
	if err := rows.Err(); err != nil {
		return policy.DefaultPolicy(), err
	}
	return policy.FromKeyValues(values), nil
}

// Save writes every toggle in one transaction.
func (s *EncryptedPolicyStore) Save(p domain.Policy) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	now := time.Now().Unix()
	for k, v := range policy.ToKeyValues(p) {
		value := 0
		if v {
			value = 1
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO policy (key, value, updated_at) VALUES (?, ?, ?)`,
			k, value, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('fingerprint', ?)`,
		policy.Fingerprint(p)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Set updates a single toggle by persisted key.
func (s *EncryptedPolicyStore) Set(key string, enabled bool) error {
	p, err := s.Load()
	if err != nil {
		return err
	}
	if err := policy.Set(&p, key, enabled); err != nil {
		return err
	}
	return s.Save(p)
}

// Path returns the database file path.
func (s *EncryptedPolicyStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedPolicyStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// OpenPolicyStore ensures the key file exists and opens the policy database
// described by p.
func OpenPolicyStore(p *Paths) (*EncryptedPolicyStore, error) {
	key, err := EnsureKey(NewFileKeyProvider(p.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load policy key: %w", err)
	}
	return NewEncryptedPolicyStore(p.PolicyDB, key)
}

// Ensure EncryptedPolicyStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*EncryptedPolicyStore)(nil)
