package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcommand/discovery-cli/internal/model"
)

const testRegistryYAML = `
sources:
  - id: md-sdat
    name: Maryland SDAT Real Property
    type: tax_assessor
    license: public_domain
    dataset_name: assessment extract
    retrieval_method: api_query
    cadence: weekly
    quality_score: 80
    confidence: 0.9
    connector:
      base_url: https://opendata.maryland.gov
      page_size: 1000
      datasets:
        Howard County: 9t52-zebk
  - id: vendor-feed
    name: Property Data Vendor
    type: vendor_feed
    license: commercial
    retrieval_method: api_query
    quality_score: 60
    confidence: 0.75
    connector:
      base_url: https://feed.example.com
      api_key_env: VENDOR_FEED_API_KEY
`

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry([]byte(testRegistryYAML))
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)

	def, ok := reg.Get("md-sdat")
	require.True(t, ok)
	assert.Equal(t, model.SourceTaxAssessor, def.Type)
	assert.Equal(t, 80.0, def.QualityScore)
	assert.Equal(t, "9t52-zebk", def.Connector.Datasets["Howard County"])

	meta := def.Meta()
	assert.Equal(t, "md-sdat", meta.ID)
	assert.Equal(t, 0.9, meta.Confidence)

	_, ok = reg.Get("nope")
	assert.False(t, ok)
}

func TestParseRegistry_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", `
sources:
  - name: No ID
    type: tax_assessor
`},
		{"bad type", `
sources:
  - id: x
    name: X
    type: carrier_pigeon
`},
		{"quality out of range", `
sources:
  - id: x
    name: X
    type: vendor_feed
    quality_score: 180
`},
		{"duplicate ids", `
sources:
  - id: x
    name: X
    type: vendor_feed
  - id: x
    name: X again
    type: vendor_feed
`},
		{"empty", `sources: []`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
