package model

import "time"

// ServeType is the kind of legal service to perform at an address.
type ServeType string

const (
	ServeTypeServe       ServeType = "serve"
	ServeTypeGarnishment ServeType = "garnishment"
	ServeTypePosting     ServeType = "posting"
)

// AddressStatus tracks an address through its service lifecycle. Only the
// pending -> attempted flip is driven by this module.
type AddressStatus string

const (
	AddressPending   AddressStatus = "pending"
	AddressAttempted AddressStatus = "attempted"
	AddressServed    AddressStatus = "served"
	AddressReturned  AddressStatus = "returned"
)

// Address is a service target on a route.
type Address struct {
	ID            string        `json:"id" db:"id"`
	CompanyID     string        `json:"company_id" db:"company_id"`
	RouteID       string        `json:"route_id,omitempty" db:"route_id"`
	Street        string        `json:"street" db:"street"`
	City          string        `json:"city,omitempty" db:"city"`
	State         string        `json:"state,omitempty" db:"state"`
	Zip           string        `json:"zip,omitempty" db:"zip"`
	Latitude      *float64      `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64      `json:"longitude,omitempty" db:"longitude"`
	NormalizedKey string        `json:"normalized_key" db:"normalized_key"`
	HasDCN        bool          `json:"has_dcn" db:"has_dcn"`
	DCNID         *string       `json:"dcn_id,omitempty" db:"dcn_id"`
	AttemptsCount int           `json:"attempts_count" db:"attempts_count"`
	ServeType     ServeType     `json:"serve_type" db:"serve_type"`
	Status        AddressStatus `json:"status" db:"status"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// LinkedTo reports whether the address currently carries the given DCN record.
func (a *Address) LinkedTo(recordID string) bool {
	return a.HasDCN && a.DCNID != nil && *a.DCNID == recordID
}

// LinkedElsewhere reports whether the address carries a DCN other than
// recordID.
func (a *Address) LinkedElsewhere(recordID string) bool {
	return a.HasDCN && (a.DCNID == nil || *a.DCNID != recordID)
}

// DisplayAddress renders the address on one line.
func (a *Address) DisplayAddress() string {
	s := a.Street
	if a.City != "" {
		s += ", " + a.City
	}
	if a.State != "" {
		s += ", " + a.State
	}
	if a.Zip != "" {
		s += " " + a.Zip
	}
	return s
}
