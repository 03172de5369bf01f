package model

import "time"

// LeadStatus is the discovered-lead lifecycle state.
type LeadStatus string

const (
	StatusDiscovered      LeadStatus = "discovered"
	StatusScoring         LeadStatus = "scoring"
	StatusScored          LeadStatus = "scored"
	StatusEnriching       LeadStatus = "enriching"
	StatusEnriched        LeadStatus = "enriched"
	StatusActivationReady LeadStatus = "activation_ready"
	StatusActivated       LeadStatus = "activated"
	StatusRejected        LeadStatus = "rejected"
	StatusArchived        LeadStatus = "archived"
)

// Terminal reports whether the status admits no further transitions.
func (s LeadStatus) Terminal() bool {
	return s == StatusActivated || s == StatusRejected || s == StatusArchived
}

// transitions is the forward edge set of the activation state machine.
// Rejection and archival are handled separately: rejected is reachable from
// any non-terminal state, archived from any non-terminal state.
var transitions = map[LeadStatus][]LeadStatus{
	StatusDiscovered:      {StatusScoring, StatusScored},
	StatusScoring:         {StatusScored},
	StatusScored:          {StatusEnriching, StatusActivationReady},
	StatusEnriching:       {StatusEnriched},
	StatusEnriched:        {StatusActivationReady},
	StatusActivationReady: {StatusActivated},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case StatusRejected, StatusArchived:
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DiscoveredLead is the aggregate entity driving the pipeline. It owns its
// property, current score breakdown, permits, source records, contact
// candidates, and a computed compliance status by reference.
type DiscoveredLead struct {
	ID              string     `json:"id" db:"id"`
	PropertyID      string     `json:"property_id" db:"property_id"`
	Status          LeadStatus `json:"status" db:"status"`
	DiscoveryReason string     `json:"discovery_reason,omitempty" db:"discovery_reason"`
	DiscoveryBatch  string     `json:"discovery_batch,omitempty" db:"discovery_batch"`
	DiscoveryScore  *int       `json:"discovery_score,omitempty" db:"discovery_score"`
	ActivationScore *int       `json:"activation_score,omitempty" db:"activation_score"`

	EnrichmentAttempted bool       `json:"enrichment_attempted" db:"enrichment_attempted"`
	EnrichmentAt        *time.Time `json:"enrichment_at,omitempty" db:"enrichment_at"`

	// Best contact snapshot, maintained by the enrichment orchestrator.
	BestPhone             string   `json:"best_phone,omitempty" db:"best_phone"`
	BestPhoneType         string   `json:"best_phone_type,omitempty" db:"best_phone_type"`
	BestEmail             string   `json:"best_email,omitempty" db:"best_email"`
	BestContactConfidence *float64 `json:"best_contact_confidence,omitempty" db:"best_contact_confidence"`

	ActivatedAt     *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	RejectionReason string     `json:"rejection_reason,omitempty" db:"rejection_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActivationRecord is the downstream handoff created exactly once per
// activated lead. Re-activation returns the existing record.
type ActivationRecord struct {
	ID          string    `json:"id" db:"id"`
	LeadID      string    `json:"lead_id" db:"lead_id"`
	Actor       string    `json:"actor" db:"actor"`
	Override    bool      `json:"override" db:"override"`
	ActivatedAt time.Time `json:"activated_at" db:"activated_at"`
}

// LeadDetail is the full aggregate served by GET /discovered/{id}.
type LeadDetail struct {
	Lead           DiscoveredLead     `json:"lead"`
	Property       DiscoveredProperty `json:"property"`
	ScoreBreakdown *ScoreBreakdown    `json:"score_breakdown,omitempty"`
	Permits        []PermitRecord     `json:"permits"`
	SourceRecords  []SourceRecord     `json:"source_records"`
	Contacts       []ContactCandidate `json:"contact_candidates"`
	Compliance     ComplianceStatus   `json:"compliance"`
}
