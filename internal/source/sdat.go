package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resilience"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/store"
	"github.com/solarcommand/discovery-cli/internal/territory"
)

// SDAT field names on the Maryland Open Data Portal. The portal exposes the
// state assessment extract with these verbose column ids.
const (
	fAddress   = "mdp_street_address_mdp_field_address"
	fCity      = "mdp_street_address_city_mdp_field_city"
	fZip       = "mdp_street_address_zip_code_mdp_field_zipcode"
	fCounty    = "county_name_mdp_field_cntyname"
	fYearBuilt = "c_a_m_a_system_data_year_built_yyyy_mdp_field_yearblt_sdat_field_235"
	fSqft      = "c_a_m_a_system_data_structure_area_sq_ft_mdp_field_sqftstrc_sdat_field_241"
	fAssessed  = "current_assessment_year_total_assessment_sdat_field_172"
	fLandUse   = "land_use_code_mdp_field_lu_desclu_sdat_field_50"
	fLat       = "mdp_latitude_mdp_field_digycord_converted_to_wgs84"
	fLon       = "mdp_longitude_mdp_field_digxcord_converted_to_wgs84"
	fAccount   = "account_id_mdp_field_acctid"
	fOwnerOcc  = "record_key_owner_occupancy_code_mdp_field_ooi_sdat_field_6"

	fPremNum  = "premise_address_number_mdp_field_premsnum_sdat_field_20"
	fPremDir  = "premise_address_direction_mdp_field_premsdir_sdat_field_22"
	fPremName = "premise_address_name_mdp_field_premsnam_sdat_field_23"
	fPremType = "premise_address_type_mdp_field_premstyp_sdat_field_24"
	fPremCity = "premise_address_city_mdp_field_premcity_sdat_field_25"
	fPremZip  = "premise_address_zip_code_mdp_field_premzip_sdat_field_26"
)

// DefaultCountyDatasets maps county names to their SODA dataset ids.
var DefaultCountyDatasets = map[string]string{
	"Baltimore County":       "jpfc-qkxp",
	"Howard County":          "9t52-zebk",
	"Anne Arundel County":    "3w75-7rie",
	"Montgomery County":      "kb22-is2w",
	"Prince George's County": "w3eb-4mzd",
}

var landUseCode = regexp.MustCompile(`\(([^)]+)\)`)

var landUseTypes = map[string]model.PropertyType{
	"R":  model.PropertySFH,
	"TH": model.PropertyTownhome,
	"MF": model.PropertyMultiFamily,
	"CO": model.PropertyCondo,
}

// SDATConnector ingests residential properties from the Maryland SDAT
// assessment extract via the Socrata Open Data API. New properties get a
// discovered lead.
type SDATConnector struct {
	def         Definition
	store       store.Store
	resolver    *resolver.Resolver
	territories *territory.Index
	client      *http.Client
	limiter     *rate.Limiter
	pageSize    int
}

// NewSDATConnector creates the tax-assessor connector. territories may be
// nil; utility fields are then left for other sources.
func NewSDATConnector(def Definition, st store.Store, res *resolver.Resolver, territories *territory.Index) *SDATConnector {
	pageSize := def.Connector.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	perSec := def.Connector.RatePerSec
	if perSec <= 0 {
		perSec = 2
	}
	return &SDATConnector{
		def:         def,
		store:       st,
		resolver:    res,
		territories: territories,
		client:      &http.Client{Timeout: 60 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(perSec), 1),
		pageSize:    pageSize,
	}
}

func (c *SDATConnector) Definition() Definition { return c.def }

func (c *SDATConnector) datasetFor(county string) (string, error) {
	datasets := c.def.Connector.Datasets
	if len(datasets) == 0 {
		datasets = DefaultCountyDatasets
	}
	id, ok := datasets[county]
	if !ok {
		known := make([]string, 0, len(datasets))
		for k := range datasets {
			known = append(known, k)
		}
		return "", eris.Errorf("sdat: unknown county %q, available: %s", county, strings.Join(known, ", "))
	}
	return id, nil
}

func (c *SDATConnector) baseURL() string {
	if c.def.Connector.BaseURL != "" {
		return c.def.Connector.BaseURL
	}
	return "https://opendata.maryland.gov"
}

// TestConnection fetches a single record from the first configured dataset.
func (c *SDATConnector) TestConnection(ctx context.Context) error {
	datasets := c.def.Connector.Datasets
	if len(datasets) == 0 {
		datasets = DefaultCountyDatasets
	}
	for county := range datasets {
		_, err := c.fetchPage(ctx, county, 1, 0)
		return err
	}
	return eris.New("sdat: no datasets configured")
}

// fetchPage pulls one page of residential records. starts_with keeps the
// filter short; long URLs get blocked upstream.
func (c *SDATConnector) fetchPage(ctx context.Context, county string, limit, offset int) ([]map[string]any, error) {
	dataset, err := c.datasetFor(county)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sdat: rate limiter wait")
	}

	params := url.Values{}
	params.Set("$where", fmt.Sprintf("starts_with(%s, 'Residential')", fLandUse))
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))
	params.Set("$order", fAssessed+" DESC")
	endpoint := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL(), dataset, params.Encode())

	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "sdat: build request")
		}
		req.Header.Set("User-Agent", "discovery-cli/1.0")
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, resilience.NewProviderError(c.def.ID, "fetch_page", 0, time.Since(start), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, resilience.NewProviderError(c.def.ID, "fetch_page", resp.StatusCode, time.Since(start),
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		var records []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return nil, eris.Wrap(err, "sdat: decode page")
		}
		return records, nil
	})
}

// Sync paginates through the county dataset up to limit records, resolving
// each into the property store and creating leads for new properties.
func (c *SDATConnector) Sync(ctx context.Context, county string, limit int) (*SyncResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	result := &SyncResult{SourceID: c.def.ID, Batch: uuid.NewString()}
	meta := c.def.Meta()

	offset := 0
	fetched := 0
	for fetched < limit {
		pageLimit := min(c.pageSize, limit-fetched)
		records, err := c.fetchPage(ctx, county, pageLimit, offset)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		fetched += len(records)
		offset += len(records)

		for _, rec := range records {
			raw := c.mapRecord(rec)
			if raw == nil {
				result.Skipped++
				continue
			}
			created, err := c.ingest(ctx, raw, meta, result.Batch)
			if err != nil {
				zap.L().Warn("sdat: record ingest failed",
					zap.String("county", county),
					zap.Error(err),
				)
				result.Errors++
				continue
			}
			if created {
				result.Added++
			} else {
				result.Updated++
			}
		}

		if len(records) < pageLimit {
			break
		}
	}

	return result, nil
}

func (c *SDATConnector) ingest(ctx context.Context, raw *resolver.RawProperty, meta resolver.SourceMeta, batch string) (bool, error) {
	prop, created, err := c.resolver.Ingest(ctx, raw, meta)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	lead := &model.DiscoveredLead{
		PropertyID:      prop.ID,
		Status:          model.StatusDiscovered,
		DiscoveryReason: "tax assessor sync",
		DiscoveryBatch:  batch,
	}
	if err := c.store.CreateLead(ctx, lead); err != nil {
		return true, eris.Wrap(err, "sdat: create lead")
	}
	return true, nil
}

// mapRecord converts one SODA row to a raw property. Rows without an
// address, zip, or coordinates are dropped; the extract carries enough
// junk parcels that partial rows are not worth resolving.
func (c *SDATConnector) mapRecord(rec map[string]any) *resolver.RawProperty {
	address := recString(rec, fAddress)
	if address == "" {
		address = premiseAddress(rec)
	}
	city := recString(rec, fCity)
	if city == "" {
		city = recString(rec, fPremCity)
	}
	zip := recString(rec, fZip)
	if zip == "" {
		zip = recString(rec, fPremZip)
	}
	lat := recFloat(rec, fLat)
	lon := recFloat(rec, fLon)
	if address == "" || zip == "" || lat == nil || lon == nil {
		return nil
	}

	raw := &resolver.RawProperty{
		AddressLine1:  address,
		City:          titleCase(city),
		State:         "MD",
		ZipCode:       zip,
		County:        recString(rec, fCounty),
		ParcelID:      recString(rec, fAccount),
		Latitude:      lat,
		Longitude:     lon,
		PropertyType:  propertyType(recString(rec, fLandUse)),
		YearBuilt:     recInt(rec, fYearBuilt),
		RoofAreaSqft:  recFloat(rec, fSqft),
		AssessedValue: recFloat(rec, fAssessed),
	}

	// Owner occupancy: Y, 1, or blank mean occupied; only N is a no.
	occupied := !strings.EqualFold(recString(rec, fOwnerOcc), "N")
	raw.OwnerOccupied = &occupied

	if c.territories != nil {
		if ev := c.territories.Lookup(lat, lon, zip); ev != nil {
			raw.UtilityName = ev.UtilityName
		}
	}
	return raw
}

func premiseAddress(rec map[string]any) string {
	num := strings.TrimLeft(recString(rec, fPremNum), "0")
	parts := []string{num, recString(rec, fPremDir), recString(rec, fPremName), recString(rec, fPremType)}
	fields := parts[:0]
	for _, p := range parts {
		if p != "" {
			fields = append(fields, p)
		}
	}
	return strings.Join(fields, " ")
}

func propertyType(landUse string) model.PropertyType {
	code := strings.TrimSpace(landUse)
	if m := landUseCode.FindStringSubmatch(landUse); m != nil {
		code = strings.TrimSpace(m[1])
	}
	if t, ok := landUseTypes[code]; ok {
		return t
	}
	return model.PropertyOther
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func recString(rec map[string]any, key string) string {
	if v, ok := rec[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func recFloat(rec map[string]any, key string) *float64 {
	s := recString(rec, key)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func recInt(rec map[string]any, key string) *int {
	f := recFloat(rec, key)
	if f == nil {
		return nil
	}
	n := int(*f)
	if n <= 0 {
		return nil
	}
	return &n
}
