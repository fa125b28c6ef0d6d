package model

import "time"

// User is the durable per-identity profile document, distinct from the
// transient token the client holds.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	HouseholdID *string   `json:"householdId"`
	Created     time.Time `json:"created"`
	LastLogin   time.Time `json:"lastLogin"`
}
