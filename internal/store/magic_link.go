package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/debrief/internal/model"
)

// MagicLinkTTL is how long a sign-in code stays valid.
const MagicLinkTTL = 15 * time.Minute

type MagicLinkStore struct {
	db *sql.DB
}

func NewMagicLinkStore(db *sql.DB) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

func scanMagicLink(sc scanner) (*model.MagicLink, error) {
	var ml model.MagicLink
	err := sc.Scan(&ml.ID, &ml.IdentityID, &ml.CodeHash, &ml.Purpose, &ml.ExpiresAt, &ml.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ml, nil
}

const magicLinkCols = `id, identity_id, code_hash, purpose, expires_at, created_at`

// generateCode returns a 6-digit numeric code, zero padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Create issues a new sign-in code for the identity. Earlier codes for the
// same identity are discarded. The returned link carries the plaintext code;
// only its hash is stored.
func (s *MagicLinkStore) Create(identityID int64) (*model.MagicLink, error) {
	if _, err := s.db.Exec(`DELETE FROM magic_links WHERE identity_id = ?`, identityID); err != nil {
		return nil, fmt.Errorf("discard previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO magic_links (identity_id, code_hash, purpose, expires_at, created_at) VALUES (?, ?, 'sign_in', ?, ?)`,
		identityID, string(hash), now().Add(MagicLinkTTL), now(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic link: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_links WHERE id = ?`, id)
	ml, err := scanMagicLink(row)
	if err != nil {
		return nil, fmt.Errorf("read magic link: %w", err)
	}
	ml.Code = code
	return ml, nil
}

// Consume finds an unexpired link for the identity matching code and deletes
// it. It returns nil when no valid link matches.
func (s *MagicLinkStore) Consume(identityID int64, code string) (*model.MagicLink, error) {
	rows, err := s.db.Query(
		`SELECT `+magicLinkCols+` FROM magic_links WHERE identity_id = ? AND expires_at > ? ORDER BY created_at DESC`,
		identityID, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("list magic links: %w", err)
	}

	var match *model.MagicLink
	for rows.Next() {
		ml, err := scanMagicLink(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan magic link: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(ml.CodeHash), []byte(code)) == nil {
			match = ml
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate magic links: %w", err)
	}
	if match == nil {
		return nil, nil
	}

	result, err := s.db.Exec(`DELETE FROM magic_links WHERE id = ?`, match.ID)
	if err != nil {
		return nil, fmt.Errorf("consume magic link: %w", err)
	}
	// A concurrent request consumed it first.
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	return match, nil
}

func (s *MagicLinkStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_links WHERE expires_at <= ?`, now())
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
