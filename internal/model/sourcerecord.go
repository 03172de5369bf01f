package model

import "time"

// SourceType identifies the class of upstream data source.
type SourceType string

const (
	SourceTaxAssessor      SourceType = "tax_assessor"
	SourcePermitOffice     SourceType = "permit_office"
	SourceUtilityTerritory SourceType = "utility_territory"
	SourceSolarSuitability SourceType = "solar_suitability"
	SourceDemographic      SourceType = "demographic"
	SourceMLS              SourceType = "mls"
	SourceBYOD             SourceType = "byod"
	SourceVendorFeed       SourceType = "vendor_feed"
)

// TaxAssessorEvidence is the raw snapshot captured from an assessor roll.
type TaxAssessorEvidence struct {
	AccountID     string   `json:"account_id,omitempty"`
	LandUseCode   string   `json:"land_use_code,omitempty"`
	AssessedValue *float64 `json:"assessed_value,omitempty"`
	YearBuilt     *int     `json:"year_built,omitempty"`
	StructureSqft *float64 `json:"structure_sqft,omitempty"`
	OwnerOccCode  string   `json:"owner_occ_code,omitempty"`
}

// PermitEvidence is the raw snapshot captured from a permit filing.
type PermitEvidence struct {
	PermitNumber   string   `json:"permit_number"`
	Jurisdiction   string   `json:"jurisdiction,omitempty"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status,omitempty"`
	ContractorName string   `json:"contractor_name,omitempty"`
	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
}

// TerritoryEvidence is the raw snapshot from a utility territory lookup.
type TerritoryEvidence struct {
	UtilityName string   `json:"utility_name"`
	RateZone    string   `json:"rate_zone,omitempty"`
	AvgRateKWh  *float64 `json:"avg_rate_kwh,omitempty"`
	MatchMethod string   `json:"match_method,omitempty"` // "polygon" or "zip_fallback"
}

// DemographicEvidence is the raw snapshot from a demographic source.
type DemographicEvidence struct {
	MedianHouseholdIncome *float64 `json:"median_household_income,omitempty"`
	TreeCoverPct          *float64 `json:"tree_cover_pct,omitempty"`
	SolarAdoptionPct      *float64 `json:"solar_adoption_pct,omitempty"`
	GeoLevel              string   `json:"geo_level,omitempty"` // tract, zip, county
}

// FeedEvidence is the raw snapshot from a vendor feed, MLS, or BYOD upload.
type FeedEvidence struct {
	RecordID string            `json:"record_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Evidence is a tagged union of per-source-type snapshots. Exactly one
// variant is non-nil, matching the SourceRecord's SourceType.
type Evidence struct {
	TaxAssessor *TaxAssessorEvidence `json:"tax_assessor,omitempty"`
	Permit      *PermitEvidence      `json:"permit,omitempty"`
	Territory   *TerritoryEvidence   `json:"territory,omitempty"`
	Demographic *DemographicEvidence `json:"demographic,omitempty"`
	Feed        *FeedEvidence        `json:"feed,omitempty"`
}

// SourceRecord is one provenance entry per (property, source) ingestion.
// Immutable once written; merges append new records, never overwrite.
type SourceRecord struct {
	ID              string     `json:"id" db:"id"`
	PropertyID      string     `json:"property_id" db:"property_id"`
	SourceID        string     `json:"source_id" db:"source_id"`
	SourceType      SourceType `json:"source_type" db:"source_type"`
	License         string     `json:"license,omitempty" db:"license"`
	DatasetName     string     `json:"dataset_name,omitempty" db:"dataset_name"`
	RetrievalMethod string     `json:"retrieval_method,omitempty" db:"retrieval_method"`
	RetrievedAt     time.Time  `json:"retrieved_at" db:"retrieved_at"`
	Evidence        Evidence   `json:"evidence" db:"evidence"`
	Confidence      float64    `json:"confidence" db:"confidence"`
	QualityScore    float64    `json:"quality_score" db:"quality_score"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}
