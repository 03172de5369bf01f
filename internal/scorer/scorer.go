// Package scorer computes deterministic discovery scores from property,
// permit, and demographic signals, producing an auditable per-factor
// breakdown.
package scorer

import (
	"fmt"
	"sort"
	"time"

	"github.com/solarcommand/discovery-cli/internal/model"
)

// ModelVersion identifies the scoring model. Stored on every breakdown so
// historical scores remain interpretable after a model change.
const ModelVersion = "v2.0"

// Factor maxima. The seven factors sum to exactly 100.
const (
	maxRoofSuitability      = 20
	maxOwnershipSignal      = 15
	maxFinancialCapacity    = 15
	maxUtilityEconomics     = 15
	maxSolarPotential       = 15
	maxPermitTriggers       = 10
	maxNeighborhoodAdoption = 10
)

// recentPermitWindow is how far back a high-intent permit still counts as a
// near-term signal.
const recentPermitWindow = 24 * 30 * 24 * time.Hour

// Scorer computes breakdowns. The clock is injectable so age-based bands
// are reproducible in tests and in re-scoring audits.
type Scorer struct {
	now time.Time
}

// New creates a Scorer reading the wall clock.
func New() *Scorer {
	return &Scorer{now: time.Now().UTC()}
}

// WithNow sets a fixed evaluation time.
func (s *Scorer) WithNow(t time.Time) *Scorer {
	s.now = t.UTC()
	return s
}

// Score produces the breakdown for one property snapshot. Pure given the
// snapshot, permits, and the scorer's clock; missing inputs degrade the
// affected factor toward zero instead of failing.
func (s *Scorer) Score(prop *model.DiscoveredProperty, permits []model.PermitRecord) *model.ScoreBreakdown {
	factors := []model.FactorScore{
		s.roofSuitability(prop),
		s.ownershipSignal(prop),
		s.financialCapacity(prop),
		s.utilityEconomics(prop),
		s.solarPotential(prop),
		s.permitTriggers(permits),
		s.neighborhoodAdoption(prop),
	}
	total := 0
	for _, f := range factors {
		total += f.Points
	}
	if total > 100 {
		total = 100
	}
	return &model.ScoreBreakdown{
		PropertyID:   prop.ID,
		ModelVersion: ModelVersion,
		Factors:      factors,
		Total:        total,
		ScoredAt:     s.now,
	}
}

// roofSuitability bands roof area (up to 12) and roof age inferred from
// year built (up to 8).
func (s *Scorer) roofSuitability(prop *model.DiscoveredProperty) model.FactorScore {
	points := 0
	reasoning := ""

	if prop.RoofAreaSqft != nil {
		area := *prop.RoofAreaSqft
		switch {
		case area > 1500:
			points += 12
			reasoning = fmt.Sprintf("roof area %.0f sqft supports a full-size array", area)
		case area > 1000:
			points += 9
			reasoning = fmt.Sprintf("roof area %.0f sqft supports a standard array", area)
		case area > 500:
			points += 6
			reasoning = fmt.Sprintf("roof area %.0f sqft limits array size", area)
		default:
			points += 2
			reasoning = fmt.Sprintf("roof area %.0f sqft is marginal", area)
		}
	} else {
		reasoning = "roof area unknown"
	}

	if prop.YearBuilt != nil {
		age := s.now.Year() - *prop.YearBuilt
		switch {
		case age < 5:
			points += 8
			reasoning += fmt.Sprintf("; roof ~%d years old, no replacement needed", age)
		case age < 15:
			points += 6
			reasoning += fmt.Sprintf("; roof ~%d years old, good condition window", age)
		case age < 25:
			points += 4
			reasoning += fmt.Sprintf("; roof ~%d years old, may need work first", age)
		default:
			points += 1
			reasoning += fmt.Sprintf("; roof ~%d years old, likely needs replacement", age)
		}
	} else {
		reasoning += "; year built unknown"
	}

	return model.FactorScore{
		Name:      model.FactorRoofSuitability,
		Points:    points,
		Max:       maxRoofSuitability,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "roof_area_sqft", "year_built"),
	}
}

func (s *Scorer) ownershipSignal(prop *model.DiscoveredProperty) model.FactorScore {
	points := 0
	reasoning := "occupancy unknown"
	if prop.OwnerOccupied != nil {
		if *prop.OwnerOccupied {
			points += 12
			reasoning = "owner occupied"
		} else {
			reasoning = "not owner occupied"
		}
	}
	if prop.OwnerName != "" {
		points += 3
		reasoning += "; owner of record on file"
	}
	return model.FactorScore{
		Name:      model.FactorOwnershipSignal,
		Points:    points,
		Max:       maxOwnershipSignal,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "owner_occupied", "owner_name"),
	}
}

// financialCapacity bands assessed value (up to 10) and median household
// income (up to 5).
func (s *Scorer) financialCapacity(prop *model.DiscoveredProperty) model.FactorScore {
	points := 0
	reasoning := ""

	if prop.AssessedValue != nil {
		value := *prop.AssessedValue
		switch {
		case value >= 250_000 && value <= 750_000:
			points += 10
			reasoning = fmt.Sprintf("assessed value $%.0f in prime financing band", value)
		case value >= 150_000 && value < 250_000:
			points += 7
			reasoning = fmt.Sprintf("assessed value $%.0f in moderate band", value)
		case value > 750_000:
			points += 5
			reasoning = fmt.Sprintf("assessed value $%.0f above typical band", value)
		default:
			points += 2
			reasoning = fmt.Sprintf("assessed value $%.0f below financing band", value)
		}
	} else {
		reasoning = "assessed value unknown"
	}

	if prop.MedianHouseholdIncome != nil {
		income := *prop.MedianHouseholdIncome
		switch {
		case income >= 75_000 && income <= 200_000:
			points += 5
			reasoning += "; area income in target band"
		case income >= 50_000 && income < 75_000:
			points += 3
			reasoning += "; area income moderate"
		case income > 200_000:
			points += 2
			reasoning += "; area income above target band"
		default:
			points += 1
			reasoning += "; area income low"
		}
	} else {
		reasoning += "; area income unknown"
	}

	return model.FactorScore{
		Name:      model.FactorFinancialCapacity,
		Points:    points,
		Max:       maxFinancialCapacity,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "assessed_value", "median_household_income"),
	}
}

// utilityEconomics bands the rate zone (up to 10) and the average retail
// rate (up to 5). BGE territory has the strongest payback in the serviced
// region.
func (s *Scorer) utilityEconomics(prop *model.DiscoveredProperty) model.FactorScore {
	points := 0
	reasoning := ""

	switch {
	case prop.UtilityName == "" && prop.UtilityRateZone == "":
		reasoning = "utility unknown"
	case prop.UtilityRateZone == "BGE" || prop.UtilityName == "BGE":
		points += 10
		reasoning = "BGE territory, strongest rate offset"
	default:
		points += 7
		reasoning = fmt.Sprintf("served by %s", firstNonEmpty(prop.UtilityName, prop.UtilityRateZone))
	}

	if prop.AvgRateKWh != nil {
		rate := *prop.AvgRateKWh
		switch {
		case rate > 0.16:
			points += 5
			reasoning += fmt.Sprintf("; avg rate $%.3f/kWh, high offset value", rate)
		case rate > 0.12:
			points += 3
			reasoning += fmt.Sprintf("; avg rate $%.3f/kWh, moderate offset", rate)
		default:
			points += 1
			reasoning += fmt.Sprintf("; avg rate $%.3f/kWh, low offset", rate)
		}
	}
	if points > maxUtilityEconomics {
		points = maxUtilityEconomics
	}

	return model.FactorScore{
		Name:      model.FactorUtilityEconomics,
		Points:    points,
		Max:       maxUtilityEconomics,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "utility_name", "utility_rate_zone", "avg_rate_kwh"),
	}
}

// solarPotential bands tree cover (up to 12) and structure type (up to 3).
// Existing solar zeroes the factor: the roof is already generating.
func (s *Scorer) solarPotential(prop *model.DiscoveredProperty) model.FactorScore {
	if prop.HasExistingSolar {
		return model.FactorScore{
			Name:      model.FactorSolarPotential,
			Points:    0,
			Max:       maxSolarPotential,
			Reasoning: "existing solar installation on record",
			SourceIDs: originSources(prop, "has_existing_solar"),
		}
	}

	points := 0
	reasoning := ""
	if prop.TreeCoverPct != nil {
		shade := *prop.TreeCoverPct
		switch {
		case shade < 10:
			points += 12
			reasoning = fmt.Sprintf("tree cover %.0f%%, minimal shading", shade)
		case shade < 25:
			points += 9
			reasoning = fmt.Sprintf("tree cover %.0f%%, light shading", shade)
		case shade < 50:
			points += 5
			reasoning = fmt.Sprintf("tree cover %.0f%%, partial shading", shade)
		default:
			points += 1
			reasoning = fmt.Sprintf("tree cover %.0f%%, heavy shading", shade)
		}
	} else {
		reasoning = "tree cover unknown"
	}

	switch prop.PropertyType {
	case model.PropertySFH:
		points += 3
		reasoning += "; single family roof"
	case model.PropertyTownhome:
		points += 2
		reasoning += "; townhome roof"
	case "":
		reasoning += "; structure type unknown"
	default:
		reasoning += fmt.Sprintf("; %s structure", prop.PropertyType)
	}

	return model.FactorScore{
		Name:      model.FactorSolarPotential,
		Points:    points,
		Max:       maxSolarPotential,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "tree_cover_pct", "property_type", "has_existing_solar"),
	}
}

// permitTriggers rewards recent high-intent filings: a fresh roof or a
// service upgrade is the strongest near-term buying signal in the model.
func (s *Scorer) permitTriggers(permits []model.PermitRecord) model.FactorScore {
	var (
		points    int
		reasoning = "no permit activity on file"
	)
	cutoff := s.now.Add(-recentPermitWindow)

	bestRecent := false
	bestHighIntent := false
	any := false
	for _, p := range permits {
		any = true
		if !p.Category.HighIntent() {
			continue
		}
		bestHighIntent = true
		if p.IssueDate != nil && p.IssueDate.After(cutoff) {
			bestRecent = true
		}
	}
	switch {
	case bestRecent:
		points = 10
		reasoning = "high-intent permit within the last 24 months"
	case bestHighIntent:
		points = 6
		reasoning = "older high-intent permit on file"
	case any:
		points = 3
		reasoning = "permit activity on file"
	}

	ids := make([]string, 0, len(permits))
	for _, p := range permits {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)

	return model.FactorScore{
		Name:      model.FactorPermitTriggers,
		Points:    points,
		Max:       maxPermitTriggers,
		Reasoning: reasoning,
		SourceIDs: ids,
	}
}

func (s *Scorer) neighborhoodAdoption(prop *model.DiscoveredProperty) model.FactorScore {
	points := 0
	reasoning := "neighborhood adoption unknown"
	if prop.NeighborhoodSolarPct != nil {
		adoption := *prop.NeighborhoodSolarPct
		switch {
		case adoption > 10:
			points = 10
			reasoning = fmt.Sprintf("%.1f%% of neighbors have solar, strong social proof", adoption)
		case adoption > 5:
			points = 7
			reasoning = fmt.Sprintf("%.1f%% of neighbors have solar", adoption)
		case adoption > 1:
			points = 4
			reasoning = fmt.Sprintf("%.1f%% of neighbors have solar, early market", adoption)
		default:
			points = 1
			reasoning = fmt.Sprintf("%.1f%% adoption, untapped market", adoption)
		}
	}
	return model.FactorScore{
		Name:      model.FactorNeighborhoodAdoption,
		Points:    points,
		Max:       maxNeighborhoodAdoption,
		Reasoning: reasoning,
		SourceIDs: originSources(prop, "neighborhood_solar_pct"),
	}
}

// originSources collects the distinct, sorted source ids that set any of
// the given fields, keeping the breakdown auditable back to provenance.
func originSources(prop *model.DiscoveredProperty, fields ...string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, f := range fields {
		if origin, ok := prop.Origins[f]; ok && !seen[origin.SourceID] {
			seen[origin.SourceID] = true
			ids = append(ids, origin.SourceID)
		}
	}
	sort.Strings(ids)
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
