package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/debrief/internal/model"
)

type IdentityStore struct {
	db *sql.DB
}

func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const identityCols = `id, email_address, created_at, updated_at`

func scanIdentity(sc scanner) (*model.Identity, error) {
	var i model.Identity
	if err := sc.Scan(&i.ID, &i.EmailAddress, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *IdentityStore) Create(email string) (*model.Identity, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address %q", email)
	}
	result, err := s.db.Exec(`INSERT INTO identities (email_address) VALUES (?)`, email)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *IdentityStore) GetByID(id int64) (*model.Identity, error) {
	row := s.db.QueryRow(`SELECT `+identityCols+` FROM identities WHERE id = ?`, id)
	i, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, nil
}

func (s *IdentityStore) GetByEmail(email string) (*model.Identity, error) {
	row := s.db.QueryRow(`SELECT `+identityCols+` FROM identities WHERE email_address = ?`, NormalizeEmail(email))
	i, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by email: %w", err)
	}
	return i, nil
}
