// Package transfer implements chunked attachment transfers: the durable
// chunk accumulator and the paced outbound chunker.
package transfer

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrTransferIncomplete = errors.New("transfer incomplete")
)

// Transfer is the receive-side bookkeeping record for one chunked
// attachment in flight
type Transfer struct {
	TransferID  string
	FileName    string
	MimeType    string
	Size        int64
	TotalChunks int
	Received    int
	Sender      string
	CreatedAt   int64
}

// Complete reports whether every chunk index has been stored.
// Completeness is always derived from the chunk rows, never cached.
func (tr *Transfer) Complete() bool {
	return tr.TotalChunks > 0 && tr.Received >= tr.TotalChunks
}

// Store is the durable chunk accumulator. Chunks and transfer metadata
// survive restarts, so an interrupted transfer resumes from the chunks
// already on disk.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the transfer database in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return openStore(filepath.Join(dataDir, "transfers.db"))
}

// NewMemoryStore opens an in-memory store, used by tests
func NewMemoryStore() (*Store, error) {
	return openStore(":memory:")
}

func openStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS transfers (
			transfer_id  TEXT PRIMARY KEY,
			file_name    TEXT NOT NULL DEFAULT '',
			mime_type    TEXT NOT NULL DEFAULT '',
			file_size    INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL,
			sender       TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chunks (
			transfer_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			data        BLOB NOT NULL,
			PRIMARY KEY (transfer_id, chunk_index)
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// UpsertMeta records transfer metadata. The transfer row may already
// exist as a shell created by a chunk that arrived first; metadata wins.
func (s *Store) UpsertMeta(meta *protocol.TransferMeta, sender string) error {
	query := `
		INSERT INTO transfers (transfer_id, file_name, mime_type, file_size, total_chunks, sender, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			file_name    = excluded.file_name,
			mime_type    = excluded.mime_type,
			file_size    = excluded.file_size,
			total_chunks = excluded.total_chunks,
			sender       = excluded.sender
	`
	_, err := s.db.Exec(query,
		meta.TransferID, meta.FileName, meta.MimeType, meta.Size,
		meta.TotalChunks, sender, time.Now().Unix())
	return err
}

// StoreChunk records one chunk exactly once. Redelivery of a stored
// index is a no-op. The returned flags report whether this call stored a
// new chunk and whether it completed the transfer.
func (s *Store) StoreChunk(chunk *protocol.TransferChunk, sender string) (stored, completed bool, err error) {
	// Shell row in case the chunk beat the metadata event
	shell := `
		INSERT OR IGNORE INTO transfers (transfer_id, total_chunks, sender, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err = s.db.Exec(shell, chunk.TransferID, chunk.TotalChunks, sender, time.Now().Unix()); err != nil {
		return false, false, err
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO chunks (transfer_id, chunk_index, data) VALUES (?, ?, ?)`,
		chunk.TransferID, chunk.Index, chunk.Data)
	if err != nil {
		return false, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, false, err
	}
	stored = n > 0
	if !stored {
		return false, false, nil
	}

	tr, err := s.Transfer(chunk.TransferID)
	if err != nil {
		return true, false, err
	}
	// A freshly stored chunk that makes the count reach the total is, by
	// construction, the first transition to complete
	return true, tr.Complete(), nil
}

// Transfer loads one transfer record with its derived received count
func (s *Store) Transfer(transferID string) (*Transfer, error) {
	query := `
		SELECT t.transfer_id, t.file_name, t.mime_type, t.file_size, t.total_chunks, t.sender, t.created_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.transfer_id = t.transfer_id)
		FROM transfers t WHERE t.transfer_id = ?
	`
	var tr Transfer
	err := s.db.QueryRow(query, transferID).Scan(
		&tr.TransferID, &tr.FileName, &tr.MimeType, &tr.Size,
		&tr.TotalChunks, &tr.Sender, &tr.CreatedAt, &tr.Received)
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// Assemble reconstructs the full byte stream in chunk-index order. Only
// valid once the transfer is complete; gaps are impossible by then.
func (s *Store) Assemble(transferID string) ([]byte, error) {
	tr, err := s.Transfer(transferID)
	if err != nil {
		return nil, err
	}
	if !tr.Complete() {
		return nil, ErrTransferIncomplete
	}

	rows, err := s.db.Query(
		`SELECT data FROM chunks WHERE transfer_id = ? ORDER BY chunk_index`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]byte, 0, tr.Size)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, rows.Err()
}

// Delete removes a transfer and its chunks
func (s *Store) Delete(transferID string) error {
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE transfer_id = ?`, transferID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM transfers WHERE transfer_id = ?`, transferID)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
