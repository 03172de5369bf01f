package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// streetSuffixes maps spelled-out street suffixes to their USPS
// abbreviations so "123 Main Street" and "123 MAIN ST" resolve to the same
// property.
var streetSuffixes = map[string]string{
	"STREET":    "ST",
	"AVENUE":    "AVE",
	"BOULEVARD": "BLVD",
	"DRIVE":     "DR",
	"LANE":      "LN",
	"ROAD":      "RD",
	"COURT":     "CT",
	"CIRCLE":    "CIR",
	"PLACE":     "PL",
	"TERRACE":   "TER",
	"PARKWAY":   "PKWY",
	"HIGHWAY":   "HWY",
	"TRAIL":     "TRL",
	"SQUARE":    "SQ",
	"POINT":     "PT",
	"CROSSING":  "XING",
}

var directions = map[string]string{
	"NORTH":     "N",
	"SOUTH":     "S",
	"EAST":      "E",
	"WEST":      "W",
	"NORTHEAST": "NE",
	"NORTHWEST": "NW",
	"SOUTHEAST": "SE",
	"SOUTHWEST": "SW",
}

// stripDiacritics removes combining marks after NFD decomposition, so
// "Señora Ct" and "Senora Ct" match.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeStreet canonicalizes one street line: uppercase, collapsed
// whitespace, punctuation stripped, suffixes and directions abbreviated.
func NormalizeStreet(line string) string {
	clean, _, err := transform.String(stripDiacritics, line)
	if err != nil {
		clean = line
	}
	clean = strings.ToUpper(clean)
	clean = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, clean)

	words := strings.Fields(clean)
	for i, w := range words {
		if abbr, ok := streetSuffixes[w]; ok {
			words[i] = abbr
		} else if abbr, ok := directions[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// NormalizeAddress produces the canonical match key for a property:
// "LINE1|CITY|STATE|ZIP5". Case and whitespace insensitive, street suffixes
// abbreviated.
func NormalizeAddress(line1, city, state, zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) > 5 {
		zip = zip[:5]
	}
	return strings.Join([]string{
		NormalizeStreet(line1),
		strings.ToUpper(strings.Join(strings.Fields(city), " ")),
		strings.ToUpper(strings.TrimSpace(state)),
		zip,
	}, "|")
}
