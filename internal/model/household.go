package model

import "time"

// Household is the tenancy boundary: a set of users sharing an inventory.
type Household struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OwnerUserID   string    `json:"ownerUserId"`
	MemberUserIDs []string  `json:"memberUserIds"`
	Created       time.Time `json:"created"`
}

// HasMember reports whether uid is in the household's member set.
func (h *Household) HasMember(uid string) bool {
	for _, m := range h.MemberUserIDs {
		if m == uid {
			return true
		}
	}
	return false
}
