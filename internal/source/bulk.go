package source

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/fetcher"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/store"
	"github.com/solarcommand/discovery-cli/internal/territory"
	"github.com/solarcommand/discovery-cli/pkg/geocode"
)

// Column keys accepted in a byod connector's columns map. address_line1 and
// zip_code are required; everything else is optional.
const (
	colAddress1      = "address_line1"
	colAddress2      = "address_line2"
	colCity          = "city"
	colState         = "state"
	colZip           = "zip_code"
	colCounty        = "county"
	colParcel        = "parcel_id"
	colLat           = "latitude"
	colLon           = "longitude"
	colPropertyType  = "property_type"
	colYearBuilt     = "year_built"
	colBuildingSqft  = "building_sqft"
	colLotSqft       = "lot_size_sqft"
	colRoofSqft      = "roof_area_sqft"
	colAssessed      = "assessed_value"
	colOwnerName     = "owner_name"
	colOwnerOccupied = "owner_occupied"
	colUtility       = "utility_name"
	colExistingSolar = "has_existing_solar"
)

type downloader interface {
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// BulkConnector ingests county assessor extracts and broker lists delivered
// as flat files: CSV or XLSX, optionally zipped, from a local path or an
// http(s)/ftp URL. Rows map to properties through the connector's columns
// config; new properties get a discovered lead.
type BulkConnector struct {
	def         Definition
	store       store.Store
	resolver    *resolver.Resolver
	territories *territory.Index
	geocoder    geocode.Client
	http        *fetcher.HTTPFetcher
	ftp         *fetcher.FTPFetcher
}

// NewBulkConnector creates the byod bulk-file connector. territories and
// geocoder may be nil; rows without coordinates then rely on zip fallback
// for territory matching.
func NewBulkConnector(def Definition, st store.Store, res *resolver.Resolver, territories *territory.Index, geocoder geocode.Client) *BulkConnector {
	return &BulkConnector{
		def:         def,
		store:       st,
		resolver:    res,
		territories: territories,
		geocoder:    geocoder,
		http:        fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		ftp:         fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	}
}

func (c *BulkConnector) Definition() Definition { return c.def }

// TestConnection verifies the configured file or URL is reachable without
// ingesting anything.
func (c *BulkConnector) TestConnection(ctx context.Context) error {
	cfg := c.def.Connector
	if cfg.FeedPath != "" {
		if _, err := os.Stat(cfg.FeedPath); err != nil {
			return eris.Wrapf(err, "bulk: feed path %s", cfg.FeedPath)
		}
		return nil
	}
	if cfg.BaseURL == "" {
		return eris.New("bulk: neither feed_path nor base_url configured")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return eris.Wrap(err, "bulk: parse base_url")
	}
	if u.Scheme == "ftp" {
		// No cheap probe over FTP; validating the URL shape is the best we
		// can do without pulling the file.
		return nil
	}
	if _, err := c.http.HeadETag(ctx, cfg.BaseURL); err != nil {
		return eris.Wrap(err, "bulk: head request")
	}
	return nil
}

// Sync downloads the extract if remote, unpacks it if zipped, and streams
// rows through the resolver up to limit.
func (c *BulkConnector) Sync(ctx context.Context, county string, limit int) (*SyncResult, error) {
	if limit <= 0 {
		limit = 100000
	}
	if err := c.validateColumns(); err != nil {
		return nil, err
	}

	path, err := c.localize(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{SourceID: c.def.ID, Batch: uuid.NewString()}
	meta := c.def.Meta()

	var reader io.ReadCloser
	if c.format(path) != "xlsx" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "bulk: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		reader = f
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errCh, header, err := c.openRows(streamCtx, path, reader)
	if err != nil {
		return nil, err
	}

	idx, err := c.columnIndex(header)
	if err != nil {
		return nil, err
	}

	ingested := 0
	for row := range rows {
		if ingested >= limit {
			cancel()
			break
		}
		raw := c.mapRow(ctx, row, idx)
		if raw == nil {
			result.Skipped++
			continue
		}
		if county != "" && raw.County != "" && !strings.EqualFold(raw.County, county) {
			result.Skipped++
			continue
		}
		ingested++
		created, err := c.ingest(ctx, raw, meta, result.Batch)
		if err != nil {
			var vErr *resolver.ValidationError
			if errors.As(err, &vErr) {
				result.Skipped++
				continue
			}
			zap.L().Warn("bulk: row ingest failed",
				zap.String("source_id", c.def.ID),
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
	if ingested < limit {
		if err := <-errCh; err != nil {
			return nil, eris.Wrapf(err, "bulk: stream %s", filepath.Base(path))
		}
	}

	return result, nil
}

func (c *BulkConnector) validateColumns() error {
	cols := c.def.Connector.Columns
	if cols[colAddress1] == "" || cols[colZip] == "" {
		return eris.Errorf("bulk: source %s must map address_line1 and zip_code columns", c.def.ID)
	}
	return nil
}

// localize returns a local path to the extract, downloading and unzipping
// as needed.
func (c *BulkConnector) localize(ctx context.Context) (string, error) {
	cfg := c.def.Connector
	path := cfg.FeedPath
	if path == "" {
		if cfg.BaseURL == "" {
			return "", eris.New("bulk: neither feed_path nor base_url configured")
		}
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return "", eris.Wrap(err, "bulk: parse base_url")
		}
		dir, err := os.MkdirTemp("", "bulk-"+c.def.ID+"-*")
		if err != nil {
			return "", eris.Wrap(err, "bulk: temp dir")
		}
		path = filepath.Join(dir, filepath.Base(u.Path))

		var dl downloader = c.http
		if u.Scheme == "ftp" {
			dl = c.ftp
		}
		if _, err := dl.DownloadToFile(ctx, cfg.BaseURL, path); err != nil {
			return "", eris.Wrapf(err, "bulk: download %s", cfg.BaseURL)
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "bulk-unzip-*")
		if err != nil {
			return "", eris.Wrap(err, "bulk: temp dir")
		}
		inner, err := fetcher.ExtractZIPSingle(path, dir)
		if err != nil {
			return "", eris.Wrap(err, "bulk: unzip extract")
		}
		path = inner
	}
	return path, nil
}

func (c *BulkConnector) format(path string) string {
	if f := c.def.Connector.Format; f != "" {
		return strings.ToLower(f)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return "xlsx"
	}
	return "csv"
}

// openRows starts the row stream for the file and returns the header row.
// reader is the already-opened file for CSV sources; XLSX reads by path.
func (c *BulkConnector) openRows(ctx context.Context, path string, reader io.Reader) (<-chan []string, <-chan error, []string, error) {
	headerCh := make(chan []string, 1)

	var rows <-chan []string
	var errCh <-chan error
	if c.format(path) == "xlsx" {
		rows, errCh = fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{
			SheetName: c.def.Connector.Sheet,
			SkipRows:  1,
			HeaderCh:  headerCh,
		})
	} else {
		delim := ','
		if d := c.def.Connector.Delimiter; d != "" {
			delim = rune(d[0])
		}
		rows, errCh = fetcher.StreamCSV(ctx, reader, fetcher.CSVOptions{
			Delimiter: delim,
			HasHeader: true,
			HeaderCh:  headerCh,
			TrimSpace: true,
		})
	}

	header, err := c.waitHeader(ctx, headerCh, errCh)
	if err != nil {
		return nil, nil, nil, err
	}
	return rows, errCh, header, nil
}

func (c *BulkConnector) waitHeader(ctx context.Context, headerCh <-chan []string, errCh <-chan error) ([]string, error) {
	select {
	case header := <-headerCh:
		return header, nil
	case err := <-errCh:
		if err == nil {
			err = eris.New("bulk: extract is empty")
		}
		return nil, err
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "bulk: wait for header")
	}
}

// columnIndex maps each configured attribute to its position in the header.
func (c *BulkConnector) columnIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(c.def.Connector.Columns))
	for attr, col := range c.def.Connector.Columns {
		i, ok := pos[strings.ToLower(col)]
		if !ok {
			return nil, eris.Errorf("bulk: column %q for %s not in extract header", col, attr)
		}
		idx[attr] = i
	}
	return idx, nil
}

// mapRow converts one extract row to a raw property. Rows missing the
// required address or zip are dropped.
func (c *BulkConnector) mapRow(ctx context.Context, row []string, idx map[string]int) *resolver.RawProperty {
	cell := func(attr string) string {
		i, ok := idx[attr]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	if cell(colAddress1) == "" || cell(colZip) == "" {
		return nil
	}

	state := cell(colState)
	if state == "" {
		state = "MD"
	}
	raw := &resolver.RawProperty{
		AddressLine1:  cell(colAddress1),
		AddressLine2:  cell(colAddress2),
		City:          titleCase(cell(colCity)),
		State:         state,
		ZipCode:       cell(colZip),
		County:        cell(colCounty),
		ParcelID:      cell(colParcel),
		Latitude:      floatCell(cell(colLat)),
		Longitude:     floatCell(cell(colLon)),
		PropertyType:  bulkPropertyType(cell(colPropertyType)),
		YearBuilt:     intCell(cell(colYearBuilt)),
		BuildingSqft:  floatCell(cell(colBuildingSqft)),
		LotSizeSqft:   floatCell(cell(colLotSqft)),
		RoofAreaSqft:  floatCell(cell(colRoofSqft)),
		AssessedValue: floatCell(cell(colAssessed)),
		OwnerName:     cell(colOwnerName),
		UtilityName:   cell(colUtility),
	}
	if v := cell(colOwnerOccupied); v != "" {
		occupied := boolCell(v)
		raw.OwnerOccupied = &occupied
	}
	if v := cell(colExistingSolar); v != "" {
		solar := boolCell(v)
		raw.HasExistingSolar = &solar
	}
	if raw.Latitude == nil && c.geocoder != nil {
		if res, err := c.geocoder.Geocode(ctx, geocode.AddressInput{
			Street:  raw.AddressLine1,
			City:    raw.City,
			State:   raw.State,
			ZipCode: raw.ZipCode,
		}); err == nil && res.Matched {
			raw.Latitude = &res.Latitude
			raw.Longitude = &res.Longitude
		}
	}
	if raw.UtilityName == "" && c.territories != nil {
		if ev := c.territories.Lookup(raw.Latitude, raw.Longitude, raw.ZipCode); ev != nil {
			raw.UtilityName = ev.UtilityName
		}
	}
	return raw
}

func (c *BulkConnector) ingest(ctx context.Context, raw *resolver.RawProperty, meta resolver.SourceMeta, batch string) (bool, error) {
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
		DiscoveryReason: "bulk import sync",
		DiscoveryBatch:  batch,
	}
	if err := c.store.CreateLead(ctx, lead); err != nil {
		return true, eris.Wrap(err, "bulk: create lead")
	}
	return true, nil
}

var bulkPropertyTypes = map[string]model.PropertyType{
	"sfh":           model.PropertySFH,
	"single family": model.PropertySFH,
	"single-family": model.PropertySFH,
	"detached":      model.PropertySFH,
	"th":            model.PropertyTownhome,
	"townhome":      model.PropertyTownhome,
	"townhouse":     model.PropertyTownhome,
	"condo":         model.PropertyCondo,
	"condominium":   model.PropertyCondo,
	"mf":            model.PropertyMultiFamily,
	"multi-family":  model.PropertyMultiFamily,
	"multifamily":   model.PropertyMultiFamily,
}

func bulkPropertyType(s string) model.PropertyType {
	if t, ok := bulkPropertyTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return model.PropertyOther
}

func floatCell(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func intCell(s string) *int {
	f := floatCell(s)
	if f == nil {
		return nil
	}
	n := int(*f)
	if n <= 0 {
		return nil
	}
	return &n
}

func boolCell(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1", "t":
		return true
	}
	return false
}
