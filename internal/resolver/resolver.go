// Package resolver deduplicates and merges incoming property records from
// multiple sources into canonical DiscoveredProperty rows, attaching a
// SourceRecord provenance entry per ingestion.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// RawProperty is one incoming record from a source connector, before
// matching and merge. Pointer fields distinguish "absent" from zero.
type RawProperty struct {
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	ZipCode      string
	County       string
	ParcelID     string

	Latitude  *float64
	Longitude *float64

	PropertyType model.PropertyType
	YearBuilt    *int
	BuildingSqft *float64
	LotSizeSqft  *float64
	RoofAreaSqft *float64

	AssessedValue *float64
	LastSaleDate  *time.Time
	LastSalePrice *float64

	OwnerName     string
	OwnerOccupied *bool

	UtilityName     string
	UtilityRateZone string
	AvgRateKWh      *float64

	TreeCoverPct          *float64
	NeighborhoodSolarPct  *float64
	MedianHouseholdIncome *float64
	HasExistingSolar      *bool

	Evidence    model.Evidence
	RetrievedAt time.Time
}

// SourceMeta carries the registry attributes of the source a raw record
// came from. QualityScore arbitrates field-merge precedence.
type SourceMeta struct {
	ID              string
	Type            model.SourceType
	License         string
	DatasetName     string
	RetrievalMethod string
	Confidence      float64
	QualityScore    float64
}

// Resolver matches raw records to properties and applies the field-merge
// precedence rule.
type Resolver struct {
	store store.Store
	now   func() time.Time
}

// New creates a Resolver.
func New(st store.Store) *Resolver {
	return &Resolver{store: st, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Ingest matches raw against existing properties by parcel id first, then
// normalized address. On match it merges fields under quality precedence;
// on no match it creates a new property. Either way it appends a
// SourceRecord. Safe under concurrent writers to the same property via
// bounded optimistic-lock retry.
func (r *Resolver) Ingest(ctx context.Context, raw *RawProperty, src SourceMeta) (*model.DiscoveredProperty, bool, error) {
	if err := validate(raw); err != nil {
		return nil, false, err
	}
	normalized := NormalizeAddress(raw.AddressLine1, raw.City, raw.State, raw.ZipCode)
	retrievedAt := raw.RetrievedAt
	if retrievedAt.IsZero() {
		retrievedAt = r.now().UTC()
	}

	var (
		prop  *model.DiscoveredProperty
		isNew bool
	)
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		existing, err := r.match(ctx, raw.ParcelID, normalized)
		if err != nil {
			return nil, false, err
		}

		if existing == nil {
			prop = newProperty(raw, normalized, src, retrievedAt)
			err = r.store.InsertProperty(ctx, prop)
			if err == nil {
				isNew = true
				break
			}
			if !errors.Is(err, store.ErrConflict) {
				return nil, false, eris.Wrapf(err, "resolver: insert %s", normalized)
			}
			// Lost a create race; re-match and merge instead.
			zap.L().Debug("property insert collided, retrying as merge",
				zap.String("normalized_address", normalized))
			continue
		}

		changed := mergeFields(existing, raw, src, retrievedAt)
		if !changed {
			prop = existing
			break
		}
		err = r.store.UpdatePropertyCAS(ctx, existing, existing.Version)
		if err == nil {
			prop = existing
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, eris.Wrapf(err, "resolver: merge %s", normalized)
		}
		zap.L().Debug("property merge lost optimistic lock, retrying",
			zap.String("property_id", existing.ID),
			zap.Int("attempt", attempt+1))
	}
	if prop == nil {
		return nil, false, eris.Errorf("resolver: merge for %s exhausted %d attempts", normalized, maxMergeAttempts)
	}

	rec := &model.SourceRecord{
		PropertyID:      prop.ID,
		SourceID:        src.ID,
		SourceType:      src.Type,
		License:         src.License,
		DatasetName:     src.DatasetName,
		RetrievalMethod: src.RetrievalMethod,
		RetrievedAt:     retrievedAt,
		Evidence:        raw.Evidence,
		Confidence:      src.Confidence,
		QualityScore:    src.QualityScore,
	}
	if err := r.store.AppendSourceRecord(ctx, rec); err != nil {
		return nil, false, err
	}
	return prop, isNew, nil
}

func validate(raw *RawProperty) error {
	var missing []string
	if raw.AddressLine1 == "" {
		missing = append(missing, "address_line1")
	}
	if raw.City == "" {
		missing = append(missing, "city")
	}
	if raw.State == "" {
		missing = append(missing, "state")
	}
	if raw.ZipCode == "" {
		missing = append(missing, "zip_code")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// match prefers parcel id as the stronger key, falling back to the
// normalized address.
func (r *Resolver) match(ctx context.Context, parcelID, normalized string) (*model.DiscoveredProperty, error) {
	if parcelID != "" {
		p, err := r.store.GetPropertyByParcel(ctx, parcelID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	p, err := r.store.GetPropertyByAddress(ctx, normalized)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func newProperty(raw *RawProperty, normalized string, src SourceMeta, at time.Time) *model.DiscoveredProperty {
	p := &model.DiscoveredProperty{
		AddressLine1:      raw.AddressLine1,
		AddressLine2:      raw.AddressLine2,
		City:              raw.City,
		State:             raw.State,
		ZipCode:           raw.ZipCode,
		County:            raw.County,
		NormalizedAddress: normalized,
		Origins:           map[string]model.FieldOrigin{},
	}
	mergeFields(p, raw, src, at)
	return p
}

// fieldPatch is one mergeable field of a raw record: whether the source
// provided it, whether the property already has it, and how to apply it.
type fieldPatch struct {
	key     string
	present bool
	isSet   bool
	apply   func()
}

// mergeFields applies the precedence rule: a field is overwritten only when
// it is unset, or the incoming source's quality score is strictly higher
// than the score recorded by the source that last set it. Returns whether
// anything changed.
func mergeFields(p *model.DiscoveredProperty, raw *RawProperty, src SourceMeta, at time.Time) bool {
	if p.Origins == nil {
		p.Origins = map[string]model.FieldOrigin{}
	}
	patches := []fieldPatch{
		{"parcel_id", raw.ParcelID != "", p.ParcelID != "", func() { p.ParcelID = raw.ParcelID }},
		{"county", raw.County != "", p.County != "", func() { p.County = raw.County }},
		{"latitude", raw.Latitude != nil, p.Latitude != nil, func() { p.Latitude = raw.Latitude }},
		{"longitude", raw.Longitude != nil, p.Longitude != nil, func() { p.Longitude = raw.Longitude }},
		{"property_type", raw.PropertyType != "", p.PropertyType != "", func() { p.PropertyType = raw.PropertyType }},
		{"year_built", raw.YearBuilt != nil, p.YearBuilt != nil, func() { p.YearBuilt = raw.YearBuilt }},
		{"building_sqft", raw.BuildingSqft != nil, p.BuildingSqft != nil, func() { p.BuildingSqft = raw.BuildingSqft }},
		{"lot_size_sqft", raw.LotSizeSqft != nil, p.LotSizeSqft != nil, func() { p.LotSizeSqft = raw.LotSizeSqft }},
		{"roof_area_sqft", raw.RoofAreaSqft != nil, p.RoofAreaSqft != nil, func() { p.RoofAreaSqft = raw.RoofAreaSqft }},
		{"assessed_value", raw.AssessedValue != nil, p.AssessedValue != nil, func() { p.AssessedValue = raw.AssessedValue }},
		{"last_sale_date", raw.LastSaleDate != nil, p.LastSaleDate != nil, func() { p.LastSaleDate = raw.LastSaleDate }},
		{"last_sale_price", raw.LastSalePrice != nil, p.LastSalePrice != nil, func() { p.LastSalePrice = raw.LastSalePrice }},
		{"owner_name", raw.OwnerName != "", p.OwnerName != "", func() { p.OwnerName = raw.OwnerName }},
		{"owner_occupied", raw.OwnerOccupied != nil, p.OwnerOccupied != nil, func() { p.OwnerOccupied = raw.OwnerOccupied }},
		{"utility_name", raw.UtilityName != "", p.UtilityName != "", func() { p.UtilityName = raw.UtilityName }},
		{"utility_rate_zone", raw.UtilityRateZone != "", p.UtilityRateZone != "", func() { p.UtilityRateZone = raw.UtilityRateZone }},
		{"avg_rate_kwh", raw.AvgRateKWh != nil, p.AvgRateKWh != nil, func() { p.AvgRateKWh = raw.AvgRateKWh }},
		{"tree_cover_pct", raw.TreeCoverPct != nil, p.TreeCoverPct != nil, func() { p.TreeCoverPct = raw.TreeCoverPct }},
		{"neighborhood_solar_pct", raw.NeighborhoodSolarPct != nil, p.NeighborhoodSolarPct != nil, func() { p.NeighborhoodSolarPct = raw.NeighborhoodSolarPct }},
		{"median_household_income", raw.MedianHouseholdIncome != nil, p.MedianHouseholdIncome != nil, func() { p.MedianHouseholdIncome = raw.MedianHouseholdIncome }},
		// has_existing_solar is a plain bool; its origin entry is what
		// says whether anyone has reported it yet.
		{"has_existing_solar", raw.HasExistingSolar != nil, hasOrigin(p, "has_existing_solar"), func() { p.HasExistingSolar = *raw.HasExistingSolar }},
	}

	changed := false
	for _, patch := range patches {
		if !patch.present {
			continue
		}
		if patch.isSet {
			// A set field with no recorded origin has unknown provenance
			// and yields to any registered source.
			originQuality := -1.0
			if origin, tracked := p.Origins[patch.key]; tracked {
				originQuality = origin.QualityScore
			}
			if src.QualityScore <= originQuality {
				continue
			}
		}
		patch.apply()
		p.Origins[patch.key] = model.FieldOrigin{
			SourceID:     src.ID,
			QualityScore: src.QualityScore,
			SetAt:        at,
		}
		changed = true
	}
	return changed
}

func hasOrigin(p *model.DiscoveredProperty, key string) bool {
	_, ok := p.Origins[key]
	return ok
}
