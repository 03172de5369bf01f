package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resilience"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/store"
)

// vendorRecord is the wire shape of one property in a vendor feed.
type vendorRecord struct {
	AddressLine1          string   `json:"address_line1"`
	City                  string   `json:"city"`
	State                 string   `json:"state"`
	ZipCode               string   `json:"zip_code"`
	County                string   `json:"county,omitempty"`
	ParcelID              string   `json:"parcel_id,omitempty"`
	Latitude              *float64 `json:"latitude,omitempty"`
	Longitude             *float64 `json:"longitude,omitempty"`
	PropertyType          string   `json:"property_type,omitempty"`
	YearBuilt             *int     `json:"year_built,omitempty"`
	BuildingSqft          *float64 `json:"building_sqft,omitempty"`
	LotSizeSqft           *float64 `json:"lot_size_sqft,omitempty"`
	RoofAreaSqft          *float64 `json:"roof_area_sqft,omitempty"`
	AssessedValue         *float64 `json:"assessed_value,omitempty"`
	OwnerName             string   `json:"owner_name,omitempty"`
	OwnerOccupied         *bool    `json:"owner_occupied,omitempty"`
	UtilityName           string   `json:"utility_name,omitempty"`
	AvgRateKWh            *float64 `json:"avg_rate_kwh,omitempty"`
	TreeCoverPct          *float64 `json:"tree_cover_pct,omitempty"`
	NeighborhoodSolarPct  *float64 `json:"neighborhood_solar_pct,omitempty"`
	MedianHouseholdIncome *float64 `json:"median_household_income,omitempty"`
	HasExistingSolar      *bool    `json:"has_existing_solar,omitempty"`
}

// VendorFeedConnector ingests a paginated JSON property feed from a data
// vendor. Vendor rows merge into existing properties under the registry's
// quality precedence; they rarely create new ones, but a lead is still
// opened when they do.
type VendorFeedConnector struct {
	def      Definition
	store    store.Store
	resolver *resolver.Resolver
	client   *http.Client
	limiter  *rate.Limiter
}

// NewVendorFeedConnector creates a vendor feed connector.
func NewVendorFeedConnector(def Definition, st store.Store, res *resolver.Resolver) *VendorFeedConnector {
	perSec := def.Connector.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &VendorFeedConnector{
		def:      def,
		store:    st,
		resolver: res,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

func (c *VendorFeedConnector) Definition() Definition { return c.def }

func (c *VendorFeedConnector) feedURL(county string, limit, offset int) string {
	path := c.def.Connector.FeedPath
	if path == "" {
		path = "/v1/properties"
	}
	return fmt.Sprintf("%s%s?county=%s&limit=%d&offset=%d",
		c.def.Connector.BaseURL, path, county, limit, offset)
}

// TestConnection fetches a single feed record.
func (c *VendorFeedConnector) TestConnection(ctx context.Context) error {
	_, err := c.fetchPage(ctx, "", 1, 0)
	return err
}

func (c *VendorFeedConnector) fetchPage(ctx context.Context, county string, limit, offset int) ([]vendorRecord, error) {
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]vendorRecord, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "vendor: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL(county, limit, offset), nil)
		if err != nil {
			return nil, eris.Wrap(err, "vendor: build request")
		}
		req.Header.Set("Accept", "application/json")
		if key := c.def.APIKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, resilience.NewProviderError(c.def.ID, "fetch_feed", 0, time.Since(start), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, resilience.NewProviderError(c.def.ID, "fetch_feed", resp.StatusCode, time.Since(start),
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		var body struct {
			Properties []vendorRecord `json:"properties"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, eris.Wrap(err, "vendor: decode feed")
		}
		return body.Properties, nil
	})
}

// Sync walks the feed up to limit records.
func (c *VendorFeedConnector) Sync(ctx context.Context, county string, limit int) (*SyncResult, error) {
	if limit <= 0 {
		limit = 500
	}
	result := &SyncResult{SourceID: c.def.ID, Batch: uuid.NewString()}
	meta := c.def.Meta()

	const pageSize = 100
	offset := 0
	for result.Added+result.Updated+result.Skipped+result.Errors < limit {
		page := min(pageSize, limit-offset)
		records, err := c.fetchPage(ctx, county, page, offset)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		offset += len(records)

		for _, rec := range records {
			raw := &resolver.RawProperty{
				AddressLine1:          rec.AddressLine1,
				City:                  rec.City,
				State:                 rec.State,
				ZipCode:               rec.ZipCode,
				County:                rec.County,
				ParcelID:              rec.ParcelID,
				Latitude:              rec.Latitude,
				Longitude:             rec.Longitude,
				PropertyType:          model.PropertyType(rec.PropertyType),
				YearBuilt:             rec.YearBuilt,
				BuildingSqft:          rec.BuildingSqft,
				LotSizeSqft:           rec.LotSizeSqft,
				RoofAreaSqft:          rec.RoofAreaSqft,
				AssessedValue:         rec.AssessedValue,
				OwnerName:             rec.OwnerName,
				OwnerOccupied:         rec.OwnerOccupied,
				UtilityName:           rec.UtilityName,
				AvgRateKWh:            rec.AvgRateKWh,
				TreeCoverPct:          rec.TreeCoverPct,
				NeighborhoodSolarPct:  rec.NeighborhoodSolarPct,
				MedianHouseholdIncome: rec.MedianHouseholdIncome,
				HasExistingSolar:      rec.HasExistingSolar,
			}

			prop, created, err := c.resolver.Ingest(ctx, raw, meta)
			if err != nil {
				var vErr *resolver.ValidationError
				if errors.As(err, &vErr) {
					result.Skipped++
					continue
				}
				zap.L().Warn("vendor: record ingest failed", zap.Error(err))
				result.Errors++
				continue
			}
			if created {
				result.Added++
				lead := &model.DiscoveredLead{
					PropertyID:      prop.ID,
					Status:          model.StatusDiscovered,
					DiscoveryReason: "vendor feed sync",
					DiscoveryBatch:  result.Batch,
				}
				if err := c.store.CreateLead(ctx, lead); err != nil {
					return nil, eris.Wrap(err, "vendor: create lead")
				}
			} else {
				result.Updated++
			}
		}

		if len(records) < page {
			break
		}
	}
	return result, nil
}
