package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mathomhouse/mathom/internal/model"
	"github.com/mathomhouse/mathom/internal/policy"
)

type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	err := scanner.Scan(
		&it.ID, &it.Name, &it.Location, &it.Status,
		&it.CreatorUserID, &it.HouseholdID, &it.IsPrivate, &it.LastUpdated,
		&it.Metadata.Category, &it.Metadata.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

const itemCols = `id, name, location, status, creator_user_id, household_id, is_private, last_updated, category, notes`

func (s *ItemStore) Create(name, location, status, creatorUID, householdID string, isPrivate bool, meta model.ItemMetadata) (*model.Item, error) {
	id := uuid.NewString()
	if status == "" {
		status = model.StatusStored
	}
	_, err := s.db.Exec(
		`INSERT INTO items (id, name, location, status, creator_user_id, household_id, is_private, category, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, location, status, creatorUID, householdID, isPrivate, meta.Category, meta.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) GetByID(id string) (*model.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *ItemStore) ListByHousehold(householdID string) ([]model.Item, error) {
	return s.list(`SELECT `+itemCols+` FROM items WHERE household_id = ? ORDER BY last_updated DESC`, householdID)
}

func (s *ItemStore) ListByCreator(uid string) ([]model.Item, error) {
	return s.list(`SELECT `+itemCols+` FROM items WHERE creator_user_id = ? ORDER BY last_updated DESC`, uid)
}

func (s *ItemStore) list(query string, arg any) ([]model.Item, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Update writes the mutable item fields and bumps last_updated. Creator
// and household are immutable; the policy engine enforces that before
// this runs.
func (s *ItemStore) Update(id, name, location, status string, isPrivate bool, meta model.ItemMetadata) (*model.Item, error) {
	_, err := s.db.Exec(
		`UPDATE items SET name = ?, location = ?, status = ?, is_private = ?, category = ?, notes = ?,
		 last_updated = CURRENT_TIMESTAMP WHERE id = ?`,
		name, location, status, isPrivate, meta.Category, meta.Notes, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.GetByID(id)
}

func (s *ItemStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// ItemDoc converts an item row into the document shape the policy engine
// evaluates.
func ItemDoc(it *model.Item) policy.Doc {
	return policy.Doc{
		"name":          it.Name,
		"location":      it.Location,
		"status":        it.Status,
		"creatorUserId": it.CreatorUserID,
		"householdId":   it.HouseholdID,
		"isPrivate":     it.IsPrivate,
		"lastUpdated":   it.LastUpdated,
	}
}
