package scorer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/store"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// idealProperty scores at or near the ceiling of every factor.
func idealProperty() *model.DiscoveredProperty {
	return &model.DiscoveredProperty{
		ID:                    "prop-1",
		PropertyType:          model.PropertySFH,
		YearBuilt:             intPtr(2023),
		RoofAreaSqft:          floatPtr(1800),
		AssessedValue:         floatPtr(450_000),
		OwnerName:             "Jordan Example",
		OwnerOccupied:         boolPtr(true),
		UtilityRateZone:       "BGE",
		AvgRateKWh:            floatPtr(0.17),
		TreeCoverPct:          floatPtr(5),
		NeighborhoodSolarPct:  floatPtr(12),
		MedianHouseholdIncome: floatPtr(110_000),
	}
}

func TestScore_FactorMaximaSumTo100(t *testing.T) {
	b := New().WithNow(asOf).Score(idealProperty(), nil)

	require.Len(t, b.Factors, 7)
	maxSum := 0
	for _, f := range b.Factors {
		maxSum += f.Max
		assert.LessOrEqual(t, f.Points, f.Max, f.Name)
		assert.GreaterOrEqual(t, f.Points, 0, f.Name)
	}
	assert.Equal(t, 100, maxSum)
	assert.Equal(t, ModelVersion, b.ModelVersion)
}

func TestScore_IdealPropertyNearCeiling(t *testing.T) {
	permits := []model.PermitRecord{{
		ID:        "permit-1",
		Category:  model.PermitRoofReplacement,
		IssueDate: timePtr(asOf.Add(-60 * 24 * time.Hour)),
	}}
	b := New().WithNow(asOf).Score(idealProperty(), permits)

	assert.Equal(t, 20, b.Factor(model.FactorRoofSuitability).Points)
	assert.Equal(t, 15, b.Factor(model.FactorOwnershipSignal).Points)
	assert.Equal(t, 15, b.Factor(model.FactorFinancialCapacity).Points)
	assert.Equal(t, 15, b.Factor(model.FactorUtilityEconomics).Points)
	assert.Equal(t, 15, b.Factor(model.FactorSolarPotential).Points)
	assert.Equal(t, 10, b.Factor(model.FactorPermitTriggers).Points)
	assert.Equal(t, 10, b.Factor(model.FactorNeighborhoodAdoption).Points)
	assert.Equal(t, 100, b.Total)
}

func TestScore_MissingDataDegradesToZero(t *testing.T) {
	b := New().WithNow(asOf).Score(&model.DiscoveredProperty{ID: "empty"}, nil)

	assert.Zero(t, b.Factor(model.FactorRoofSuitability).Points)
	assert.Zero(t, b.Factor(model.FactorOwnershipSignal).Points)
	assert.Zero(t, b.Factor(model.FactorFinancialCapacity).Points)
	assert.Zero(t, b.Factor(model.FactorUtilityEconomics).Points)
	assert.Zero(t, b.Factor(model.FactorSolarPotential).Points)
	assert.Zero(t, b.Factor(model.FactorPermitTriggers).Points)
	assert.Zero(t, b.Factor(model.FactorNeighborhoodAdoption).Points)
	assert.Zero(t, b.Total)
}

func TestScore_RescoringIsByteIdentical(t *testing.T) {
	prop := idealProperty()
	permits := []model.PermitRecord{{ID: "permit-1", Category: model.PermitElectricalUpgrade}}

	first := New().WithNow(asOf).Score(prop, permits)
	second := New().WithNow(asOf).Score(prop, permits)

	a, err := first.Canonical()
	require.NoError(t, err)
	b, err := second.Canonical()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScore_ExistingSolarZeroesPotential(t *testing.T) {
	prop := idealProperty()
	prop.HasExistingSolar = true

	b := New().WithNow(asOf).Score(prop, nil)
	f := b.Factor(model.FactorSolarPotential)
	assert.Zero(t, f.Points)
	assert.Contains(t, f.Reasoning, "existing solar")
}

func TestScore_RoofAgeBands(t *testing.T) {
	tests := []struct {
		yearBuilt int
		want      int // age component only; roof area left unknown
	}{
		{2023, 8},
		{2015, 6},
		{2005, 4},
		{1980, 1},
	}
	for _, tt := range tests {
		prop := &model.DiscoveredProperty{YearBuilt: intPtr(tt.yearBuilt)}
		b := New().WithNow(asOf).Score(prop, nil)
		assert.Equal(t, tt.want, b.Factor(model.FactorRoofSuitability).Points, "year %d", tt.yearBuilt)
	}
}

func TestScore_PermitTriggerBands(t *testing.T) {
	recent := []model.PermitRecord{{ID: "p1", Category: model.PermitRoofReplacement, IssueDate: timePtr(asOf.Add(-30 * 24 * time.Hour))}}
	stale := []model.PermitRecord{{ID: "p2", Category: model.PermitRoofReplacement, IssueDate: timePtr(asOf.Add(-3 * 365 * 24 * time.Hour))}}
	lowIntent := []model.PermitRecord{{ID: "p3", Category: model.PermitGeneralRenovation}}

	sc := New().WithNow(asOf)
	prop := &model.DiscoveredProperty{}
	assert.Equal(t, 10, sc.Score(prop, recent).Factor(model.FactorPermitTriggers).Points)
	assert.Equal(t, 6, sc.Score(prop, stale).Factor(model.FactorPermitTriggers).Points)
	assert.Equal(t, 3, sc.Score(prop, lowIntent).Factor(model.FactorPermitTriggers).Points)
	assert.Equal(t, 0, sc.Score(prop, nil).Factor(model.FactorPermitTriggers).Points)
}

func TestScore_SourceIDsFromOrigins(t *testing.T) {
	prop := idealProperty()
	prop.Origins = map[string]model.FieldOrigin{
		"roof_area_sqft": {SourceID: "solar-suitability"},
		"year_built":     {SourceID: "md-sdat"},
	}
	b := New().WithNow(asOf).Score(prop, nil)
	assert.Equal(t, []string{"md-sdat", "solar-suitability"},
		b.Factor(model.FactorRoofSuitability).SourceIDs)
}

func timePtr(t time.Time) *time.Time { return &t }

// --- Service ---

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scorer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestService_ScoreLeadPersistsAndAdvances(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prop := idealProperty()
	prop.ID = ""
	prop.AddressLine1 = "123 Main St"
	prop.City = "Columbia"
	prop.State = "MD"
	prop.ZipCode = "21044"
	prop.NormalizedAddress = "123 MAIN ST|COLUMBIA|MD|21044"
	require.NoError(t, st.InsertProperty(ctx, prop))

	lead := &model.DiscoveredLead{PropertyID: prop.ID, Status: model.StatusDiscovered}
	require.NoError(t, st.CreateLead(ctx, lead))

	svc := NewService(st).WithNow(func() time.Time { return asOf })
	b, err := svc.ScoreLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, b.LeadID)

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScored, got.Status)
	require.NotNil(t, got.ActivationScore)
	assert.Equal(t, b.Total, *got.ActivationScore)

	stored, err := st.LatestBreakdown(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Total, stored.Total)
}

func TestService_RescoreKeepsHistoryAndStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prop := idealProperty()
	prop.ID = ""
	prop.NormalizedAddress = "9 ELM DR|COLUMBIA|MD|21044"
	prop.AddressLine1, prop.City, prop.State, prop.ZipCode = "9 Elm Dr", "Columbia", "MD", "21044"
	require.NoError(t, st.InsertProperty(ctx, prop))

	lead := &model.DiscoveredLead{PropertyID: prop.ID}
	require.NoError(t, st.CreateLead(ctx, lead))

	svc := NewService(st).WithNow(func() time.Time { return asOf })
	_, err := svc.ScoreLead(ctx, lead.ID)
	require.NoError(t, err)

	// Second pass on an already-scored lead succeeds and leaves the
	// status alone.
	_, err = svc.ScoreLead(ctx, lead.ID)
	require.NoError(t, err)

	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScored, got.Status)
}
