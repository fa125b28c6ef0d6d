package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mathomhouse/mathom/internal/model"
	"github.com/mathomhouse/mathom/internal/policy"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Credentials is the server-side secret material for an identity. It is
// never part of the profile document the policy engine sees.
type Credentials struct {
	UID          string
	PasswordHash string
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var householdID sql.NullString
	err := scanner.Scan(&u.UID, &u.Email, &u.DisplayName, &householdID, &u.Created, &u.LastLogin)
	if err != nil {
		return nil, err
	}
	if householdID.Valid {
		u.HouseholdID = &householdID.String
	}
	return &u, nil
}

const userCols = `uid, email, display_name, household_id, created, last_login`

func (s *UserStore) Create(email, displayName, passwordHash string) (*model.User, error) {
	uid := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO users (uid, email, display_name, password_hash) VALUES (?, ?, ?, ?)`,
		uid, email, displayName, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByUID(uid)
}

func (s *UserStore) GetByUID(uid string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE uid = ?`, uid)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetCredentials returns the identity and password hash for an email, or
// nil if no such identity exists.
func (s *UserStore) GetCredentials(email string) (*Credentials, error) {
	var c Credentials
	row := s.db.QueryRow(`SELECT uid, password_hash FROM users WHERE email = ?`, email)
	err := row.Scan(&c.UID, &c.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}

// Update writes the mutable profile fields. Email and created are
// deliberately not updatable here; the policy engine rejects attempts
// before this is ever reached.
func (s *UserStore) Update(uid, displayName string, householdID *string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET display_name = ?, household_id = ? WHERE uid = ?`,
		displayName, householdID, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByUID(uid)
}

func (s *UserStore) TouchLastLogin(uid string) error {
	_, err := s.db.Exec(`UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// Profile implements policy.ProfileLookup: the caller's own user document
// as the rules see it. A missing user yields a nil doc, not an error.
func (s *UserStore) Profile(_ context.Context, uid string) (policy.Doc, error) {
	u, err := s.GetByUID(uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	return UserDoc(u), nil
}

// UserDoc converts a user row into the document shape the policy engine
// evaluates.
func UserDoc(u *model.User) policy.Doc {
	doc := policy.Doc{
		"email":       u.Email,
		"displayName": u.DisplayName,
		"created":     u.Created,
		"lastLogin":   u.LastLogin,
	}
	if u.HouseholdID != nil {
		doc["householdId"] = *u.HouseholdID
	} else {
		doc["householdId"] = nil
	}
	return doc
}
