package models

import "time"

// Patient is the person a referral is issued for. Identified loosely by name
// or an external id plus a contact number.
type Patient struct {
	ID             int64     `json:"id" db:"id"`
	FullNameOrID   string    `json:"full_name_or_id" db:"full_name_or_id"`
	ContactNumber  string    `json:"contact_number,omitempty" db:"contact_number"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
