package store

import "testing"

func TestPushUpsert(t *testing.T) {
	db := setupTestDB(t)
	_, user := seedUser(t, db, "alice@example.com", "Alice")
	ps := NewPushStore(db)

	sub, err := ps.Upsert(&user.ID, "https://push.example.com/abc", "p256", "auth", "Firefox")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.UserID == nil || *sub.UserID != user.ID {
		t.Errorf("user_id = %v, want %d", sub.UserID, user.ID)
	}

	updated, err := ps.Upsert(&user.ID, "https://push.example.com/abc", "p256-new", "auth-new", "Firefox")
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if updated.ID != sub.ID {
		t.Errorf("id = %d, want %d (same endpoint)", updated.ID, sub.ID)
	}
	if updated.P256dhKey != "p256-new" || updated.AuthKey != "auth-new" {
		t.Errorf("keys not refreshed: %+v", updated)
	}

	subs, err := ps.ListByUser(user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("len = %d, want 1", len(subs))
	}
}

func TestPushUpsertWithoutUser(t *testing.T) {
	ps := NewPushStore(setupTestDB(t))

	sub, err := ps.Upsert(nil, "https://push.example.com/anon", "p", "a", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.UserID != nil {
		t.Errorf("user_id = %v, want nil", *sub.UserID)
	}
}

func TestPushListByUserScoped(t *testing.T) {
	db := setupTestDB(t)
	_, alice := seedUser(t, db, "alice@example.com", "Alice")
	_, bob := seedUser(t, db, "bob@example.com", "Bob")
	ps := NewPushStore(db)

	ps.Upsert(&alice.ID, "https://push.example.com/1", "p", "a", "")
	ps.Upsert(&alice.ID, "https://push.example.com/2", "p", "a", "")
	ps.Upsert(&bob.ID, "https://push.example.com/3", "p", "a", "")

	subs, err := ps.ListByUser(alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("len = %d, want 2", len(subs))
	}
}

func TestPushDelete(t *testing.T) {
	db := setupTestDB(t)
	_, user := seedUser(t, db, "alice@example.com", "Alice")
	ps := NewPushStore(db)

	sub, _ := ps.Upsert(&user.ID, "https://push.example.com/1", "p", "a", "")
	ps.Upsert(&user.ID, "https://push.example.com/2", "p", "a", "")

	if err := ps.Delete(sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err := ps.DeleteByEndpoint("https://push.example.com/2")
	if err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	n, _ = ps.DeleteByEndpoint("https://push.example.com/missing")
	if n != 0 {
		t.Errorf("deleted = %d, want 0 for unknown endpoint", n)
	}

	subs, _ := ps.ListByUser(user.ID)
	if len(subs) != 0 {
		t.Errorf("len = %d, want 0", len(subs))
	}
}
