// Package territory resolves which electric utility serves a property,
// using service-area polygons when coordinates are available and a
// zip-prefix table as fallback.
package territory

import (
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// Match methods recorded as evidence on resolved utility fields.
const (
	MatchPolygon     = "polygon"
	MatchZipFallback = "zip_fallback"
)

// Evidence is one territory resolution.
type Evidence struct {
	UtilityName string `json:"utility_name"`
	MatchMethod string `json:"match_method"`
}

type serviceArea struct {
	utility  string
	polygons []*geom.Polygon
}

// Index answers utility-territory lookups.
type Index struct {
	areas []serviceArea
	zips  map[string]string
}

// NewIndex creates an index over a zip → utility table only.
func NewIndex(zips map[string]string) *Index {
	return &Index{zips: zips}
}

// LoadShapefile reads utility service-area polygons. The named attribute
// column carries the utility name. The zip table remains as fallback for
// points outside every polygon.
func LoadShapefile(path, utilityField string, zips map[string]string) (*Index, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "territory: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, utilityField) {
			fieldIdx = i
			break
		}
	}
	if fieldIdx < 0 {
		return nil, eris.Errorf("territory: attribute %q not found in %s", utilityField, path)
	}

	idx := &Index{zips: zips}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 {
			skipped++
			continue
		}
		utility := strings.TrimSpace(strings.TrimRight(reader.Attribute(fieldIdx), "\x00"))
		if utility == "" {
			skipped++
			continue
		}

		area := serviceArea{utility: utility}
		for i := int32(0); i < poly.NumParts; i++ {
			start := poly.Parts[i]
			end := int32(len(poly.Points))
			if i+1 < poly.NumParts {
				end = poly.Parts[i+1]
			}
			flat := make([]float64, 0, (end-start)*2)
			for j := start; j < end; j++ {
				flat = append(flat, poly.Points[j].X, poly.Points[j].Y)
			}
			if len(flat) < 8 { // a closed ring needs at least 4 points
				continue
			}
			p := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)}).SetSRID(4326)
			area.polygons = append(area.polygons, p)
		}
		if len(area.polygons) > 0 {
			idx.areas = append(idx.areas, area)
		}
	}
	if skipped > 0 {
		zap.L().Debug("territory: skipped shapefile records", zap.Int("skipped", skipped))
	}
	return idx, nil
}

// Lookup resolves a utility for the given location. Polygon containment
// wins; the zip table covers properties without coordinates or outside all
// loaded polygons. Returns nil when nothing matches.
func (i *Index) Lookup(lat, lon *float64, zipCode string) *Evidence {
	if i == nil {
		return nil
	}
	if lat != nil && lon != nil {
		point := geom.Coord{*lon, *lat}
		for _, area := range i.areas {
			for _, poly := range area.polygons {
				if xy.IsPointInRing(geom.XY, point, poly.LinearRing(0).FlatCoords()) {
					return &Evidence{UtilityName: area.utility, MatchMethod: MatchPolygon}
				}
			}
		}
	}

	zip5 := strings.TrimSpace(zipCode)
	if len(zip5) > 5 {
		zip5 = zip5[:5]
	}
	if utility, ok := i.zips[zip5]; ok {
		return &Evidence{UtilityName: utility, MatchMethod: MatchZipFallback}
	}
	return nil
}
