package model

import (
	"encoding/json"
	"time"
)

// Factor names, in canonical breakdown order.
const (
	FactorRoofSuitability      = "roof_suitability"
	FactorOwnershipSignal      = "ownership_signal"
	FactorFinancialCapacity    = "financial_capacity"
	FactorUtilityEconomics     = "utility_economics"
	FactorSolarPotential       = "solar_potential"
	FactorPermitTriggers       = "permit_triggers"
	FactorNeighborhoodAdoption = "neighborhood_adoption"
)

// FactorScore is one weighted component of a discovery score, with the
// reasoning and contributing source ids that make the score auditable.
type FactorScore struct {
	Name      string   `json:"name"`
	Points    int      `json:"points"`
	Max       int      `json:"max"`
	Reasoning string   `json:"reasoning"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// ScoreBreakdown is one scoring result per (property, model_version).
// Immutable snapshot: re-scoring inserts a new breakdown and preserves the
// old one for audit.
type ScoreBreakdown struct {
	ID           string        `json:"id" db:"id"`
	LeadID       string        `json:"lead_id" db:"lead_id"`
	PropertyID   string        `json:"property_id" db:"property_id"`
	ModelVersion string        `json:"model_version" db:"model_version"`
	Factors      []FactorScore `json:"factors" db:"factors"`
	Total        int           `json:"total" db:"total"`
	ScoredAt     time.Time     `json:"scored_at" db:"scored_at"`
}

// Factor returns the named factor, or a zero FactorScore if absent.
func (b *ScoreBreakdown) Factor(name string) FactorScore {
	for _, f := range b.Factors {
		if f.Name == name {
			return f
		}
	}
	return FactorScore{Name: name}
}

// canonicalBreakdown is the reproducible subset of a breakdown: everything
// except storage ids and timestamps.
type canonicalBreakdown struct {
	ModelVersion string        `json:"model_version"`
	Factors      []FactorScore `json:"factors"`
	Total        int           `json:"total"`
}

// Canonical returns a deterministic byte encoding of the breakdown. Two
// scoring passes over identical inputs and model version produce identical
// bytes; the re-scoring idempotence tests compare these directly.
func (b *ScoreBreakdown) Canonical() ([]byte, error) {
	return json.Marshal(canonicalBreakdown{
		ModelVersion: b.ModelVersion,
		Factors:      b.Factors,
		Total:        b.Total,
	})
}
