package model

import "time"

// PermitCategory is the fixed classification taxonomy for permit filings.
type PermitCategory string

const (
	PermitRoofReplacement   PermitCategory = "roof_replacement"
	PermitElectricalUpgrade PermitCategory = "electrical_upgrade"
	PermitGeneralRenovation PermitCategory = "general_renovation"
	PermitOther             PermitCategory = "other"
)

// HighIntent reports whether the category signals near-term solar intent
// and earns a scorer boost.
func (c PermitCategory) HighIntent() bool {
	return c == PermitRoofReplacement || c == PermitElectricalUpgrade
}

// PermitRecord is one government permit filing linked to a property by
// address match. Immutable after classification; the category may be
// recomputed when the classifier version changes.
type PermitRecord struct {
	ID                string         `json:"id" db:"id"`
	PropertyID        string         `json:"property_id,omitempty" db:"property_id"`
	PermitNumber      string         `json:"permit_number" db:"permit_number"`
	Jurisdiction      string         `json:"jurisdiction,omitempty" db:"jurisdiction"`
	Category          PermitCategory `json:"category" db:"category"`
	ClassifierVersion string         `json:"classifier_version" db:"classifier_version"`
	RawDescription    string         `json:"raw_description" db:"raw_description"`
	IssueDate         *time.Time     `json:"issue_date,omitempty" db:"issue_date"`
	FinalDate         *time.Time     `json:"final_date,omitempty" db:"final_date"`
	Status            string         `json:"status,omitempty" db:"status"`
	ContractorName    string         `json:"contractor_name,omitempty" db:"contractor_name"`
	EstimatedCost     *float64       `json:"estimated_cost,omitempty" db:"estimated_cost"`
	NormalizedAddress string         `json:"-" db:"normalized_address"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}
