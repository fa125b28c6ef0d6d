package store

import (
	"context"
	"testing"

	"github.com/mathomhouse/mathom/internal/database"
)

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db)
}

func TestUserCreateAndGet(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.Create("alice@example.com", "Alice", "hash123")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.UID == "" {
		t.Error("expected generated uid")
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
	if u.HouseholdID != nil {
		t.Errorf("householdId = %v, want nil", *u.HouseholdID)
	}
	if u.Created.IsZero() {
		t.Error("expected created timestamp")
	}

	got, err := us.GetByUID(u.UID)
	if err != nil {
		t.Fatalf("get by uid: %v", err)
	}
	if got == nil || got.Email != u.Email {
		t.Fatalf("got = %+v, want %+v", got, u)
	}
}

func TestUserGetByEmailMissing(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil, got %+v", u)
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	us := setupUserTestDB(t)

	if _, err := us.Create("alice@example.com", "Alice", "h"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := us.Create("alice@example.com", "Alice Again", "h"); err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestUserCredentials(t *testing.T) {
	us := setupUserTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash123")

	c, err := us.GetCredentials("alice@example.com")
	if err != nil {
		t.Fatalf("get credentials: %v", err)
	}
	if c == nil || c.UID != u.UID || c.PasswordHash != "hash123" {
		t.Fatalf("credentials = %+v", c)
	}

	c, err = us.GetCredentials("nobody@example.com")
	if err != nil {
		t.Fatalf("get missing credentials: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil credentials, got %+v", c)
	}
}

func TestUserUpdateHouseholdID(t *testing.T) {
	us := setupUserTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "h")

	hid := "h1"
	updated, err := us.Update(u.UID, "Alice B", &hid)
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.DisplayName != "Alice B" {
		t.Errorf("displayName = %q, want %q", updated.DisplayName, "Alice B")
	}
	if updated.HouseholdID == nil || *updated.HouseholdID != "h1" {
		t.Errorf("householdId = %v, want h1", updated.HouseholdID)
	}

	updated, err = us.Update(u.UID, "Alice B", nil)
	if err != nil {
		t.Fatalf("clear household: %v", err)
	}
	if updated.HouseholdID != nil {
		t.Errorf("householdId = %v, want nil", *updated.HouseholdID)
	}
}

func TestUserProfileDoc(t *testing.T) {
	us := setupUserTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "h")

	doc, err := us.Profile(context.Background(), u.UID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if doc == nil {
		t.Fatal("expected profile doc")
	}
	if email, _ := doc.String("email"); email != "alice@example.com" {
		t.Errorf("doc email = %q", email)
	}
	if !doc.IsNull("householdId") {
		t.Error("expected null householdId")
	}
	if doc.Has("password_hash") || doc.Has("passwordHash") {
		t.Error("password hash leaked into profile doc")
	}

	doc, err = us.Profile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("missing profile: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil doc, got %v", doc)
	}
}
