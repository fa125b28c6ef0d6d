package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mathomhouse/mathom/internal/model"
	"github.com/mathomhouse/mathom/internal/policy"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

// Create inserts a household with the owner as its sole member. The
// caller is responsible for having authorized the write. The owner's own
// householdId is NOT set here: that is a second, independently authorized
// document write. A crash between the two leaves a household without a
// linked owner profile, which the owner recovers by re-running setup.
func (s *HouseholdStore) Create(name, ownerUID string) (*model.Household, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO households (id, name, owner_user_id) VALUES (?, ?, ?)`,
		id, name, ownerUID,
	); err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO household_members (household_id, user_id) VALUES (?, ?)`,
		id, ownerUID,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseholdStore) GetByID(id string) (*model.Household, error) {
	var h model.Household
	row := s.db.QueryRow(`SELECT id, name, owner_user_id, created FROM households WHERE id = ?`, id)
	err := row.Scan(&h.ID, &h.Name, &h.OwnerUserID, &h.Created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}

	members, err := s.ListMemberIDs(id)
	if err != nil {
		return nil, err
	}
	h.MemberUserIDs = members
	return &h, nil
}

func (s *HouseholdStore) UpdateName(id, name string) (*model.Household, error) {
	_, err := s.db.Exec(`UPDATE households SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update household: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseholdStore) ListMemberIDs(id string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM household_members WHERE household_id = ? ORDER BY created ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

// AddMember is the trusted membership-growth path. It bypasses the policy
// engine on purpose: membership changes are reserved for the server-side
// path, no client-facing rule grants them. The membership row and the
// member's own householdId move together.
func (s *HouseholdStore) AddMember(householdID, uid string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO household_members (household_id, user_id) VALUES (?, ?)`,
		householdID, uid,
	); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE users SET household_id = ? WHERE uid = ?`,
		householdID, uid,
	); err != nil {
		return fmt.Errorf("set member household: %w", err)
	}

	return tx.Commit()
}

// HouseholdDoc converts a household row into the document shape the
// policy engine evaluates.
func HouseholdDoc(h *model.Household) policy.Doc {
	return policy.Doc{
		"name":          h.Name,
		"ownerUserId":   h.OwnerUserID,
		"memberUserIds": h.MemberUserIDs,
		"created":       h.Created,
	}
}
