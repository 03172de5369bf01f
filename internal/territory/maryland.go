package territory

import "strconv"

// MarylandZipUtilities returns the zip → utility fallback table for
// Maryland service areas: BGE in central Maryland, Pepco in the DC suburbs,
// SMECO in southern Maryland. Earlier assignments win when ranges overlap.
func MarylandZipUtilities() map[string]string {
	zips := make(map[string]string)

	set := func(utility string, codes ...int) {
		for _, z := range codes {
			key := strconv.Itoa(z)
			if _, taken := zips[key]; !taken {
				zips[key] = utility
			}
		}
	}
	setRange := func(utility string, lo, hi int) {
		for z := lo; z < hi; z++ {
			key := strconv.Itoa(z)
			if _, taken := zips[key]; !taken {
				zips[key] = utility
			}
		}
	}

	// BGE: Baltimore City and County, Anne Arundel, Howard, Harford.
	setRange("BGE", 21001, 21058)
	setRange("BGE", 21060, 21095)
	setRange("BGE", 21102, 21163)
	setRange("BGE", 21201, 21298)
	setRange("BGE", 21401, 21412)
	setRange("BGE", 21220, 21238)
	setRange("BGE", 21784, 21798)
	set("BGE", 21701, 21702,
		21042, 21043, 21044, 21045, 21046, 21075, 21076, 21090, 21093, 21094,
		21108, 21113, 21114, 21122, 21144, 21146, 21225, 21226, 21227, 21228,
		21229, 21230, 21244, 21250, 21286)

	// Pepco: Montgomery and Prince George's counties.
	setRange("Pepco", 20601, 20623)
	setRange("Pepco", 20700, 20800)
	setRange("Pepco", 20810, 20920)
	set("Pepco",
		20901, 20902, 20903, 20904, 20905, 20906, 20910, 20912,
		20850, 20851, 20852, 20853, 20854, 20855, 20860, 20861, 20862,
		20871, 20872, 20874, 20876, 20877, 20878, 20879, 20880, 20882, 20886,
		20770, 20771, 20772, 20774, 20781, 20782, 20783, 20784, 20785)

	// SMECO: Charles, St. Mary's, Calvert.
	set("SMECO",
		20601, 20602, 20603, 20607, 20608, 20611, 20613, 20616, 20617,
		20618, 20619, 20620, 20621, 20622, 20623, 20624, 20625, 20628,
		20630, 20632, 20634, 20636, 20637, 20639, 20640, 20643, 20645,
		20646, 20650, 20653, 20657, 20658, 20659, 20661, 20662, 20667,
		20670, 20674, 20675, 20676, 20677, 20678, 20680, 20684, 20685,
		20686, 20687, 20688, 20689, 20690, 20692, 20693, 20695)

	return zips
}
