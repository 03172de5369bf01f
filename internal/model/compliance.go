package model

import "time"

// Flag is the outcome of a single compliance list check.
type Flag string

const (
	FlagClear   Flag = "clear"
	FlagFlagged Flag = "flagged"
)

// ConsentState summarizes the latest consent evidence for a lead.
type ConsentState string

const (
	ConsentExplicitOptIn ConsentState = "explicit_opt_in"
	ConsentInferred      ConsentState = "inferred"
	ConsentUnknown       ConsentState = "unknown"
	ConsentOptedOut      ConsentState = "opted_out"
)

// ComplianceStatus is derived, never stored standalone. It is recomputed on
// every activation attempt because DNC lists and consent change
// asynchronously to the lead's own lifecycle.
type ComplianceStatus struct {
	FederalDNC    Flag         `json:"federal_dnc"`
	StateDNC      Flag         `json:"state_dnc"`
	InternalDNC   Flag         `json:"internal_dnc"`
	ConsentStatus ConsentState `json:"consent_status"`
	LitigatorFlag Flag         `json:"litigator_flag"`
	FraudFlag     Flag         `json:"fraud_flag"`
	CheckedAt     time.Time    `json:"checked_at"`
}

// Blocking reports whether any flag prevents activation: list membership on
// any DNC or watchlist, or an explicit opt-out.
func (s ComplianceStatus) Blocking() bool {
	return s.FederalDNC == FlagFlagged ||
		s.StateDNC == FlagFlagged ||
		s.InternalDNC == FlagFlagged ||
		s.LitigatorFlag == FlagFlagged ||
		s.FraudFlag == FlagFlagged ||
		s.ConsentStatus == ConsentOptedOut
}

// ConsentEntry is one row of the append-only consent log. The latest entry
// per consent type wins.
type ConsentEntry struct {
	ID           string       `json:"id" db:"id"`
	LeadID       string       `json:"lead_id" db:"lead_id"`
	ConsentType  string       `json:"consent_type" db:"consent_type"` // sms, voice, email, all_channels
	Status       ConsentState `json:"status" db:"status"`
	Channel      string       `json:"channel,omitempty" db:"channel"`
	EvidenceType string       `json:"evidence_type,omitempty" db:"evidence_type"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
