// Package backup writes encrypted snapshots of the SQLite database to the
// blob store and restores them.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dukerupert/debrief/internal/blob"
)

// KeyPrefix is where snapshots live in the blob store.
const KeyPrefix = "backups"

const sqliteHeader = "SQLite format 3\x00"

var (
	ErrNoPassphrase = errors.New("backup passphrase is required")
	ErrNotSQLite    = errors.New("restored data is not a SQLite database")
)

// Result describes a stored snapshot.
type Result struct {
	Key  string
	Size int64
}

// Run snapshots db, encrypts it with passphrase and stores it in blobs
// under a timestamped key.
func Run(ctx context.Context, db *sql.DB, blobs blob.Store, passphrase string) (*Result, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	tmpDir, err := os.MkdirTemp("", "debrief-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	// VACUUM INTO gives a consistent copy without stopping writers.
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Encrypt(plaintext, passphrase)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/debrief-%s.db.enc", KeyPrefix, time.Now().UTC().Format("2006-01-02T150405.000Z"))
	if err := blobs.Put(ctx, key, "application/octet-stream", bytes.NewReader(sealed), int64(len(sealed))); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	return &Result{Key: key, Size: int64(len(sealed))}, nil
}

// Restore fetches the snapshot at key, decrypts it and writes the database
// to dst. dst must not exist; restoring over a live database is left to the
// operator.
func Restore(ctx context.Context, blobs blob.Store, key, passphrase, dst string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}

	sealed, err := blob.ReadAll(ctx, blobs, key)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	plaintext, err := Decrypt(sealed, passphrase)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(plaintext, []byte(sqliteHeader)) {
		return ErrNotSQLite
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := f.Write(plaintext); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}
