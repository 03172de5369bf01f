// Package model defines the core entities of the discovery pipeline:
// properties, source records, permits, score breakdowns, contact candidates,
// compliance status, and the discovered-lead aggregate.
package model

import (
	"time"
)

// PropertyType classifies the structure on a parcel.
type PropertyType string

const (
	PropertySFH         PropertyType = "SFH"
	PropertyTownhome    PropertyType = "TOWNHOME"
	PropertyCondo       PropertyType = "CONDO"
	PropertyMultiFamily PropertyType = "MULTI_FAMILY"
	PropertyOther       PropertyType = "OTHER"
)

// FieldOrigin records which source last set a merged property field and the
// quality score that write carried. Merge precedence compares against it.
type FieldOrigin struct {
	SourceID     string    `json:"source_id"`
	QualityScore float64   `json:"quality_score"`
	SetAt        time.Time `json:"set_at"`
}

// DiscoveredProperty is the canonical merged property record. One physical
// address maps to exactly one DiscoveredProperty; multiple SourceRecords
// attach to it as provenance.
type DiscoveredProperty struct {
	ID                string     `json:"id" db:"id"`
	AddressLine1      string     `json:"address_line1" db:"address_line1"`
	AddressLine2      string     `json:"address_line2,omitempty" db:"address_line2"`
	City              string     `json:"city" db:"city"`
	State             string     `json:"state" db:"state"`
	ZipCode           string     `json:"zip_code" db:"zip_code"`
	County            string     `json:"county,omitempty" db:"county"`
	NormalizedAddress string     `json:"-" db:"normalized_address"`
	Latitude          *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64   `json:"longitude,omitempty" db:"longitude"`
	ParcelID          string     `json:"parcel_id,omitempty" db:"parcel_id"`

	PropertyType PropertyType `json:"property_type,omitempty" db:"property_type"`
	YearBuilt    *int         `json:"year_built,omitempty" db:"year_built"`
	BuildingSqft *float64     `json:"building_sqft,omitempty" db:"building_sqft"`
	LotSizeSqft  *float64     `json:"lot_size_sqft,omitempty" db:"lot_size_sqft"`
	RoofAreaSqft *float64     `json:"roof_area_sqft,omitempty" db:"roof_area_sqft"`

	AssessedValue *float64   `json:"assessed_value,omitempty" db:"assessed_value"`
	LastSaleDate  *time.Time `json:"last_sale_date,omitempty" db:"last_sale_date"`
	LastSalePrice *float64   `json:"last_sale_price,omitempty" db:"last_sale_price"`

	OwnerName     string `json:"owner_name,omitempty" db:"owner_name"`
	OwnerOccupied *bool  `json:"owner_occupied,omitempty" db:"owner_occupied"`

	UtilityName     string   `json:"utility_name,omitempty" db:"utility_name"`
	UtilityRateZone string   `json:"utility_rate_zone,omitempty" db:"utility_rate_zone"`
	AvgRateKWh      *float64 `json:"avg_rate_kwh,omitempty" db:"avg_rate_kwh"`

	TreeCoverPct          *float64 `json:"tree_cover_pct,omitempty" db:"tree_cover_pct"`
	NeighborhoodSolarPct  *float64 `json:"neighborhood_solar_pct,omitempty" db:"neighborhood_solar_pct"`
	MedianHouseholdIncome *float64 `json:"median_household_income,omitempty" db:"median_household_income"`
	HasExistingSolar      bool     `json:"has_existing_solar" db:"has_existing_solar"`

	// Origins maps a canonical field key (e.g. "year_built") to the source
	// that last set it. Stored as JSONB; drives merge precedence.
	Origins map[string]FieldOrigin `json:"origins,omitempty" db:"origins"`

	// Version is the optimistic-lock counter for concurrent merges.
	Version int64 `json:"version" db:"version"`

	ArchivedAt *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Archived reports whether the property has been administratively archived.
// Properties are never deleted.
func (p *DiscoveredProperty) Archived() bool {
	return p.ArchivedAt != nil
}
