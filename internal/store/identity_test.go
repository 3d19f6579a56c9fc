package store

import "testing"

func TestIdentityCreateNormalizesEmail(t *testing.T) {
	s := NewIdentityStore(setupTestDB(t))

	identity, err := s.Create("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if identity.EmailAddress != "alice@example.com" {
		t.Errorf("email = %q, want %q", identity.EmailAddress, "alice@example.com")
	}

	got, err := s.GetByEmail("ALICE@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != identity.ID {
		t.Fatalf("get by email = %+v, want id %d", got, identity.ID)
	}
}

func TestIdentityCreateDuplicate(t *testing.T) {
	s := NewIdentityStore(setupTestDB(t))

	if _, err := s.Create("alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create("Alice@example.com"); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestIdentityCreateInvalid(t *testing.T) {
	s := NewIdentityStore(setupTestDB(t))

	if _, err := s.Create("   "); err == nil {
		t.Error("expected error for blank email")
	}
	if _, err := s.Create("not-an-email"); err == nil {
		t.Error("expected error for email without @")
	}
}

func TestIdentityGetByEmailNotFound(t *testing.T) {
	s := NewIdentityStore(setupTestDB(t))

	got, err := s.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestUserFirstForIdentity(t *testing.T) {
	db := setupTestDB(t)
	identity, first := seedUser(t, db, "alice@example.com", "Alice")
	users := NewUserStore(db)

	if _, err := users.Create(identity.ID, "Alice (work)"); err != nil {
		t.Fatalf("create second user: %v", err)
	}

	got, err := users.FirstForIdentity(identity.ID)
	if err != nil {
		t.Fatalf("first for identity: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Errorf("first user = %+v, want id %d", got, first.ID)
	}
}

func TestUserCreateRequiresName(t *testing.T) {
	db := setupTestDB(t)
	identity, err := NewIdentityStore(db).Create("alice@example.com")
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if _, err := NewUserStore(db).Create(identity.ID, " "); err == nil {
		t.Error("expected error for blank name")
	}
}
