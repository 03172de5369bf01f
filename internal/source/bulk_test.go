package source

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/territory"
	"github.com/solarcommand/discovery-cli/pkg/geocode"
)

func bulkDefinition(feedPath string) Definition {
	return Definition{
		ID:           "county-extract",
		Name:         "County Assessor Extract",
		Type:         model.SourceBYOD,
		QualityScore: 70,
		Confidence:   0.8,
		Connector: ConnectorConfig{
			FeedPath: feedPath,
			Columns: map[string]string{
				"address_line1":  "Street Address",
				"city":           "City",
				"zip_code":       "Zip",
				"county":         "County",
				"parcel_id":      "Parcel",
				"latitude":       "Lat",
				"longitude":      "Lon",
				"property_type":  "Dwelling Type",
				"year_built":     "Year Built",
				"assessed_value": "Assessment",
				"owner_occupied": "Owner Occ",
			},
		},
	}
}

const bulkCSV = `Street Address,City,Zip,County,Parcel,Lat,Lon,Dwelling Type,Year Built,Assessment,Owner Occ
12 Mill Run Rd,Ellicott City,21043,Howard County,14-222333,39.2674,-76.7983,Single Family,1998,"$412,000",Y
48 Tollgate Ln,Ellicott City,21043,Howard County,14-222444,39.2691,-76.8011,Townhouse,2004,355000,N
9 No Zip St,Columbia,,Howard County,14-222555,39.21,-76.86,Single Family,2001,300000,Y
`

func writeBulkFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBulkConnector_SyncCSV(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	territories := territory.NewIndex(map[string]string{"21043": "BGE"})

	def := bulkDefinition(writeBulkFile(t, "extract.csv", bulkCSV))
	conn := NewBulkConnector(def, st, resolver.New(st), territories, nil)

	result, err := conn.Sync(ctx, "Howard County", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Errors)

	prop, err := st.GetPropertyByParcel(ctx, "14-222333")
	require.NoError(t, err)
	assert.Equal(t, "12 Mill Run Rd", prop.AddressLine1)
	assert.Equal(t, "Ellicott City", prop.City)
	assert.Equal(t, "MD", prop.State)
	assert.Equal(t, model.PropertySFH, prop.PropertyType)
	require.NotNil(t, prop.YearBuilt)
	assert.Equal(t, 1998, *prop.YearBuilt)
	require.NotNil(t, prop.AssessedValue)
	assert.InDelta(t, 412000, *prop.AssessedValue, 0.1)
	require.NotNil(t, prop.OwnerOccupied)
	assert.True(t, *prop.OwnerOccupied)
	assert.Equal(t, "BGE", prop.UtilityName)

	town, err := st.GetPropertyByParcel(ctx, "14-222444")
	require.NoError(t, err)
	assert.Equal(t, model.PropertyTownhome, town.PropertyType)
	require.NotNil(t, town.OwnerOccupied)
	assert.False(t, *town.OwnerOccupied)

	lead, err := st.GetLeadByProperty(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, "bulk import sync", lead.DiscoveryReason)
	assert.Equal(t, result.Batch, lead.DiscoveryBatch)
}

func TestBulkConnector_SyncZippedExtract(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	zipPath := filepath.Join(t.TempDir(), "extract.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("residential.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(bulkCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	def := bulkDefinition(zipPath)
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)

	result, err := conn.Sync(ctx, "", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
}

func TestBulkConnector_CountyFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	def := bulkDefinition(writeBulkFile(t, "extract.csv", bulkCSV))
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)

	result, err := conn.Sync(ctx, "Baltimore County", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 3, result.Skipped)
}

func TestBulkConnector_LimitStopsStream(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	def := bulkDefinition(writeBulkFile(t, "extract.csv", bulkCSV))
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)

	result, err := conn.Sync(ctx, "Howard County", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
}

func TestBulkConnector_UnmappedHeaderColumn(t *testing.T) {
	def := bulkDefinition(writeBulkFile(t, "extract.csv", "Addr,Zip\n1 Elm,21043\n"))
	st := newTestStore(t)
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)

	_, err := conn.Sync(context.Background(), "", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in extract header")
}

func TestBulkConnector_RequiresAddressAndZipMapping(t *testing.T) {
	def := bulkDefinition(writeBulkFile(t, "extract.csv", bulkCSV))
	def.Connector.Columns = map[string]string{"city": "City"}
	st := newTestStore(t)
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)

	_, err := conn.Sync(context.Background(), "", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must map address_line1 and zip_code")
}

type stubGeocoder struct {
	lat, lon float64
	calls    int
}

func (s *stubGeocoder) Geocode(context.Context, geocode.AddressInput) (*geocode.Result, error) {
	s.calls++
	return &geocode.Result{Latitude: s.lat, Longitude: s.lon, Matched: true, Source: "census"}, nil
}

func (s *stubGeocoder) BatchGeocode(ctx context.Context, addrs []geocode.AddressInput) ([]geocode.Result, error) {
	out := make([]geocode.Result, len(addrs))
	for i := range addrs {
		r, _ := s.Geocode(ctx, addrs[i])
		out[i] = *r
	}
	return out, nil
}

func TestBulkConnector_GeocodesRowsWithoutCoordinates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Extract without coordinate columns; territory match needs the geocoder.
	csv := "Street Address,City,Zip,Parcel\n3 Glen Oak Ct,Ellicott City,21043,14-333444\n"
	def := bulkDefinition(writeBulkFile(t, "extract.csv", csv))
	def.Connector.Columns = map[string]string{
		"address_line1": "Street Address",
		"city":          "City",
		"zip_code":      "Zip",
		"parcel_id":     "Parcel",
	}

	geo := &stubGeocoder{lat: 39.2673, lon: -76.7984}
	territories := territory.NewIndex(map[string]string{"21043": "BGE"})
	conn := NewBulkConnector(def, st, resolver.New(st), territories, geo)

	result, err := conn.Sync(ctx, "", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, geo.calls)

	prop, err := st.GetPropertyByParcel(ctx, "14-333444")
	require.NoError(t, err)
	require.NotNil(t, prop.Latitude)
	assert.InDelta(t, 39.2673, *prop.Latitude, 0.0001)
	assert.Equal(t, "BGE", prop.UtilityName)
}

func TestBulkConnector_TestConnection(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	def := bulkDefinition(writeBulkFile(t, "extract.csv", bulkCSV))
	conn := NewBulkConnector(def, st, resolver.New(st), nil, nil)
	require.NoError(t, conn.TestConnection(ctx))

	def.Connector.FeedPath = filepath.Join(t.TempDir(), "missing.csv")
	conn = NewBulkConnector(def, st, resolver.New(st), nil, nil)
	require.Error(t, conn.TestConnection(ctx))
}
