// Package storage persists the address book: contacts keyed by public
// key and channels keyed by channel id.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Contact is an address-book entry for a peer, uniqueness enforced on
// the public key
type Contact struct {
	PubKey   string
	Name     string
	About    string
	Picture  string
	AddedAt  int64
	LastSeen int64
}

// Channel is a known channel, uniqueness enforced on the channel id
type Channel struct {
	ID        string
	Name      string
	About     string
	Creator   string
	CreatedAt int64
}

// AddressBook manages the local contact and channel database
type AddressBook struct {
	db *sql.DB
}

// NewAddressBook opens (or creates) the address book in dataDir
func NewAddressBook(dataDir string) (*AddressBook, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return openAddressBook(filepath.Join(dataDir, "addressbook.db"))
}

// NewMemoryAddressBook opens an in-memory address book, used by tests
func NewMemoryAddressBook() (*AddressBook, error) {
	return openAddressBook(":memory:")
}

func openAddressBook(path string) (*AddressBook, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS contacts (
			pubkey    TEXT PRIMARY KEY,
			name      TEXT NOT NULL DEFAULT '',
			about     TEXT NOT NULL DEFAULT '',
			picture   TEXT NOT NULL DEFAULT '',
			added_at  INTEGER NOT NULL,
			last_seen INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			about      TEXT NOT NULL DEFAULT '',
			creator    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &AddressBook{db: db}, nil
}

// Close closes the underlying database
func (b *AddressBook) Close() error {
	return b.db.Close()
}
