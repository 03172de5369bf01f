package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/store"
)

func vendorDefinition(baseURL string) Definition {
	return Definition{
		ID:           "vendor-feed",
		Name:         "Property Data Vendor",
		Type:         model.SourceVendorFeed,
		QualityScore: 60,
		Confidence:   0.75,
		Connector: ConnectorConfig{
			BaseURL:    baseURL,
			APIKeyEnv:  "TEST_VENDOR_KEY",
			RatePerSec: 1000,
		},
	}
}

func TestVendorFeedConnector_Sync(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	t.Setenv("TEST_VENDOR_KEY", "vk-secret")

	lat, lon := 39.29, -76.61
	solar := true
	records := []vendorRecord{
		{
			AddressLine1:     "77 HARBOR WAY",
			City:             "Baltimore",
			State:            "MD",
			ZipCode:          "21230",
			County:           "Baltimore County",
			Latitude:         &lat,
			Longitude:        &lon,
			PropertyType:     "SFH",
			UtilityName:      "BGE",
			HasExistingSolar: &solar,
		},
		{
			// Missing zip; resolver rejects, connector skips.
			AddressLine1: "1 BAD ROW",
			City:         "Baltimore",
			State:        "MD",
		},
	}

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/properties", r.URL.Path)
		if r.URL.Query().Get("offset") != "0" {
			_ = json.NewEncoder(w).Encode(map[string]any{"properties": []vendorRecord{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"properties": records})
	}))
	defer srv.Close()

	conn := NewVendorFeedConnector(vendorDefinition(srv.URL), st, resolver.New(st))

	result, err := conn.Sync(ctx, "Baltimore County", 50)
	require.NoError(t, err)
	assert.Equal(t, "Bearer vk-secret", gotAuth)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Errors)

	leads, total, err := st.ListLeads(ctx, store.LeadFilter{Batch: result.Batch})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "vendor feed sync", leads[0].DiscoveryReason)

	prop, err := st.GetProperty(ctx, leads[0].PropertyID)
	require.NoError(t, err)
	assert.Equal(t, "BGE", prop.UtilityName)
	assert.True(t, prop.HasExistingSolar)
}

func TestVendorFeedConnector_MergesIntoExisting(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	res := resolver.New(st)
	lat, lon := 39.29, -76.61
	_, created, err := res.Ingest(ctx, &resolver.RawProperty{
		AddressLine1: "77 HARBOR WAY",
		City:         "Baltimore",
		State:        "MD",
		ZipCode:      "21230",
		Latitude:     &lat,
		Longitude:    &lon,
	}, resolver.SourceMeta{ID: "md-sdat", Type: model.SourceTaxAssessor, QualityScore: 80, Confidence: 0.9})
	require.NoError(t, err)
	require.True(t, created)

	rate := 0.16
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			_ = json.NewEncoder(w).Encode(map[string]any{"properties": []vendorRecord{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"properties": []vendorRecord{{
			AddressLine1: "77 Harbor Way",
			City:         "Baltimore",
			State:        "MD",
			ZipCode:      "21230",
			AvgRateKWh:   &rate,
		}}})
	}))
	defer srv.Close()

	conn := NewVendorFeedConnector(vendorDefinition(srv.URL), st, res)
	result, err := conn.Sync(ctx, "", 10)
	require.NoError(t, err)
	assert.Zero(t, result.Added)
	assert.Equal(t, 1, result.Updated)

	_, total, err := st.ListLeads(ctx, store.LeadFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
