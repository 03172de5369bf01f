// Package permit classifies government permit filings into intent
// categories and links them to discovered properties by address match.
package permit

import (
	"strings"
	"time"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resolver"
)

// ClassifierVersion is bumped whenever the keyword taxonomy changes, so
// stored categories can be recomputed against the new version.
const ClassifierVersion = "kw-2"

// Keyword taxonomy, checked in priority order. A description matching a
// roof term is roof_replacement even when it also mentions electrical work.
var (
	roofTerms = []string{
		"roof", "re-roof", "reroof", "shingle", "shingles",
		"tear off", "tear-off", "decking", "underlayment",
	}
	electricalTerms = []string{
		"electrical", "electric service", "panel upgrade", "panel replacement",
		"service upgrade", "amp service", "amp panel", "rewire", "ev charger",
		"subpanel", "sub-panel", "heavy up", "heavy-up",
	}
	renovationTerms = []string{
		"renovation", "remodel", "addition", "alteration",
		"basement finish", "kitchen", "bathroom", "deck", "interior demo",
	}
)

// Categorize maps a raw permit description to the fixed taxonomy.
// Deterministic: same description, same category, for a given
// ClassifierVersion.
func Categorize(description string) model.PermitCategory {
	desc := strings.ToLower(description)
	for _, term := range roofTerms {
		if strings.Contains(desc, term) {
			return model.PermitRoofReplacement
		}
	}
	for _, term := range electricalTerms {
		if strings.Contains(desc, term) {
			return model.PermitElectricalUpgrade
		}
	}
	for _, term := range renovationTerms {
		if strings.Contains(desc, term) {
			return model.PermitGeneralRenovation
		}
	}
	return model.PermitOther
}

// RawPermit is one permit filing as delivered by a permit-office connector.
type RawPermit struct {
	PermitNumber   string
	Jurisdiction   string
	Description    string
	Status         string
	ContractorName string
	EstimatedCost  *float64
	IssueDate      string
	FinalDate      string

	AddressLine1 string
	City         string
	State        string
	ZipCode      string
}

// dateLayouts are the formats permit offices have been observed to emit.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02 15:04:05",
}

// parseDate returns nil for empty or malformed dates. Permits are
// supplementary signal; partial data never rejects the filing.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Classify converts a raw filing into a PermitRecord with its category,
// classifier version, and normalized address for later property linking.
func Classify(raw *RawPermit) *model.PermitRecord {
	rec := &model.PermitRecord{
		PermitNumber:      raw.PermitNumber,
		Jurisdiction:      raw.Jurisdiction,
		Category:          Categorize(raw.Description),
		ClassifierVersion: ClassifierVersion,
		RawDescription:    raw.Description,
		IssueDate:         parseDate(raw.IssueDate),
		FinalDate:         parseDate(raw.FinalDate),
		Status:            raw.Status,
		ContractorName:    raw.ContractorName,
		EstimatedCost:     raw.EstimatedCost,
	}
	if raw.AddressLine1 != "" {
		rec.NormalizedAddress = resolver.NormalizeAddress(raw.AddressLine1, raw.City, raw.State, raw.ZipCode)
	}
	return rec
}
