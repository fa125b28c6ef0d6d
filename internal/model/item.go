package model

import "time"

// Item status values.
const (
	StatusStored = "STORED"
	StatusOut    = "OUT"
)

// ItemMetadata holds free-form item annotations.
type ItemMetadata struct {
	Category string `json:"category,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Item is a stored possession. Location is either a room+bin code like
// "A1" or a legacy free-form string.
type Item struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Location      string       `json:"location"`
	Status        string       `json:"status"`
	CreatorUserID string       `json:"creatorUserId"`
	HouseholdID   string       `json:"householdId"`
	IsPrivate     bool         `json:"isPrivate"`
	LastUpdated   time.Time    `json:"lastUpdated"`
	Metadata      ItemMetadata `json:"metadata"`
}
