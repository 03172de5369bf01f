package model

import "time"

// ContactMethod distinguishes phone and email candidates.
type ContactMethod string

const (
	MethodPhone ContactMethod = "phone"
	MethodEmail ContactMethod = "email"
)

// ContactCandidate is one phone or email guess for a lead. Multiple
// candidates per lead; at most one per method is primary, and the primary
// flag is assigned only by the enrichment orchestrator.
type ContactCandidate struct {
	ID              string        `json:"id" db:"id"`
	LeadID          string        `json:"lead_id" db:"lead_id"`
	Method          ContactMethod `json:"method" db:"method"`
	Value           string        `json:"value" db:"value"`
	NormalizedValue string        `json:"-" db:"normalized_value"`
	Provider        string        `json:"provider,omitempty" db:"provider"`
	Confidence      float64       `json:"confidence" db:"confidence"`

	// Phone validation metadata.
	PhoneType   string `json:"phone_type,omitempty" db:"phone_type"`
	CarrierName string `json:"carrier_name,omitempty" db:"carrier_name"`
	LineStatus  string `json:"line_status,omitempty" db:"line_status"`

	// Email validation metadata.
	EmailDeliverable *bool `json:"email_deliverable,omitempty" db:"email_deliverable"`
	EmailDisposable  *bool `json:"email_disposable,omitempty" db:"email_disposable"`

	Validated   bool       `json:"validated" db:"validated"`
	ValidatedAt *time.Time `json:"validated_at,omitempty" db:"validated_at"`
	IsPrimary   bool       `json:"is_primary" db:"is_primary"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
