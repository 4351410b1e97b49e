package models

import "time"

// Facility is a laboratory organization that offers test types through its
// branches.
type Facility struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	ContactNumber string    `json:"contact_number,omitempty" db:"contact_number"`
	AdminUserID   *string   `json:"admin_user_id,omitempty" db:"admin_user_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// FacilityBranch is a physical location of a facility that receives
// referrals.
type FacilityBranch struct {
	ID         int64     `json:"id" db:"id"`
	FacilityID int64     `json:"facility_id" db:"facility_id"`
	Name       string    `json:"name" db:"name"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// BranchTechnician assigns a lab technician to a facility branch. The pair
// (user, branch) is unique.
type BranchTechnician struct {
	ID         int64     `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	BranchID   int64     `json:"branch_id" db:"branch_id"`
	IsAdmin    bool      `json:"is_admin" db:"is_admin"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// CreateBranchRequest is the request body for creating a facility branch
type CreateBranchRequest struct {
	Name string `json:"name" validate:"required"`
}

// AssignTechnicianRequest is the request body for assigning a technician to a branch
type AssignTechnicianRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	IsAdmin bool   `json:"is_admin"`
}

// FacilityListResponse is the API response for facility listings
type FacilityListResponse struct {
	Items []Facility `json:"items"`
}

// BranchListResponse is the API response for branch listings
type BranchListResponse struct {
	Items []FacilityBranch `json:"items"`
}
