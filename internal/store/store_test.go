package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/debrief/internal/database"
	"github.com/dukerupert/debrief/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedUser creates an identity with one user and returns both.
func seedUser(t *testing.T, db *sql.DB, email, name string) (*model.Identity, *model.User) {
	t.Helper()
	identity, err := NewIdentityStore(db).Create(email)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	user, err := NewUserStore(db).Create(identity.ID, name)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return identity, user
}
