package models

import "time"

// TestStatus is the lifecycle state of a referral or an individual referral
// test.
type TestStatus string

const (
	StatusPending   TestStatus = "Pending"
	StatusReceived  TestStatus = "Received"
	StatusCompleted TestStatus = "Completed"
)

// Valid reports whether the status is one of the declared states.
func (s TestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReceived, StatusCompleted:
		return true
	}
	return false
}

// Referral sends a patient to a facility branch for a set of tests. The id
// is a random 10-character uppercase code so it can be read over the phone.
type Referral struct {
	ID             string     `json:"id" db:"id"`
	BranchID       int64      `json:"branch_id" db:"branch_id"`
	PatientID      int64      `json:"patient_id" db:"patient_id"`
	ClinicalNotes  string     `json:"clinical_notes,omitempty" db:"clinical_notes"`
	ReferredByID   string     `json:"referred_by_id" db:"referred_by_id"`
	Status         TestStatus `json:"status" db:"status"`
	ReferredAt     time.Time  `json:"referred_at" db:"referred_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TurnaroundHours returns the referral's turnaround time in hours, or nil
// while it is not yet completed.
func (r Referral) TurnaroundHours() *float64 {
	if r.CompletedAt == nil {
		return nil
	}
	hours := r.CompletedAt.Sub(r.ReferredAt).Hours()
	return &hours
}

// ReferralTest is one ordered test on a referral. The pair (referral, test)
// is unique and each test tracks its own status.
type ReferralTest struct {
	ID          int64      `json:"id" db:"id"`
	ReferralID  string     `json:"referral_id" db:"referral_id"`
	TestID      int64      `json:"test_id" db:"test_id"`
	Status      TestStatus `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TurnaroundHours returns the test's turnaround time in hours, or nil while
// it is not yet completed.
func (t ReferralTest) TurnaroundHours() *float64 {
	if t.CompletedAt == nil {
		return nil
	}
	hours := t.CompletedAt.Sub(t.CreatedAt).Hours()
	return &hours
}

// CreateReferralRequest is the request body for creating a referral
type CreateReferralRequest struct {
	BranchID      int64   `json:"branch_id" validate:"required"`
	PatientName   string  `json:"patient_name" validate:"required"`
	PatientNumber string  `json:"patient_number,omitempty"`
	ClinicalNotes string  `json:"clinical_notes,omitempty"`
	TestIDs       []int64 `json:"test_ids" validate:"required,min=1"`
}

// UpdateReferralStatusRequest is the request body for updating a referral's status
type UpdateReferralStatusRequest struct {
	Status TestStatus `json:"status" validate:"required"`
}

// UpdateReferralTestStatusRequest is the request body for updating one test's status
type UpdateReferralTestStatusRequest struct {
	Status TestStatus `json:"status" validate:"required"`
}

// ReferralResponse is the API response for a referral with its relations
// populated in a constant number of queries.
type ReferralResponse struct {
	Referral
	Patient         *Patient        `json:"patient,omitempty"`
	Branch          *FacilityBranch `json:"branch,omitempty"`
	Tests           []ReferralTest  `json:"tests"`
	TurnaroundHours *float64        `json:"turnaround_hours,omitempty"`
}

// ReferralListResponse is the API response for paginated referral listings
type ReferralListResponse struct {
	Items      []ReferralResponse `json:"items"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}
