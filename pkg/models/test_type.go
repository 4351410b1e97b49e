package models

import "time"

// TestType is a category of laboratory tests offered by a facility
// (e.g. Hematology).
type TestType struct {
	ID          int64     `json:"id" db:"id"`
	FacilityID  int64     `json:"facility_id" db:"facility_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Test is a concrete orderable laboratory test belonging to a test type.
type Test struct {
	ID          int64     `json:"id" db:"id"`
	TestTypeID  int64     `json:"test_type_id" db:"test_type_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Price       float64   `json:"price" db:"price"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TestTypeListResponse is the API response for test type listings
type TestTypeListResponse struct {
	Items []TestType `json:"items"`
}

// TestListResponse is the API response for test listings
type TestListResponse struct {
	Items []Test `json:"items"`
}
