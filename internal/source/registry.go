// Package source manages the upstream data source registry and its
// connectors: the SODA tax-assessor feed, vendor property feeds, and county
// permit offices. Every sync records an ingest event for health reporting.
package source

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resolver"
)

// ConnectorConfig holds per-source connector wiring.
type ConnectorConfig struct {
	BaseURL    string            `yaml:"base_url"`
	APIKeyEnv  string            `yaml:"api_key_env,omitempty"`
	PageSize   int               `yaml:"page_size,omitempty"`
	RatePerSec float64           `yaml:"rate_per_sec,omitempty"`
	Datasets   map[string]string `yaml:"datasets,omitempty"` // county → dataset id
	FeedPath   string            `yaml:"feed_path,omitempty"`

	// Bulk file sources (byod). Columns maps property attributes to the
	// column headers of the extract.
	Format    string            `yaml:"format,omitempty"`    // csv or xlsx, inferred from the file name when empty
	Delimiter string            `yaml:"delimiter,omitempty"` // csv only, default comma
	Sheet     string            `yaml:"sheet,omitempty"`     // xlsx only, default first sheet
	Columns   map[string]string `yaml:"columns,omitempty"`
}

// Definition is one registry entry from sources.yaml.
type Definition struct {
	ID              string           `yaml:"id" validate:"required"`
	Name            string           `yaml:"name" validate:"required"`
	Type            model.SourceType `yaml:"type" validate:"required,oneof=tax_assessor permit_office utility_territory solar_suitability demographic mls byod vendor_feed"`
	License         string           `yaml:"license"`
	DatasetName     string           `yaml:"dataset_name"`
	RetrievalMethod string           `yaml:"retrieval_method" validate:"omitempty,oneof=api_query bulk_download scrape manual"`
	Cadence         string           `yaml:"cadence"`
	QualityScore    float64          `yaml:"quality_score" validate:"gte=0,lte=100"`
	Confidence      float64          `yaml:"confidence" validate:"gte=0,lte=1"`
	Connector       ConnectorConfig  `yaml:"connector"`
}

// Meta converts the definition to the resolver's source metadata.
func (d Definition) Meta() resolver.SourceMeta {
	return resolver.SourceMeta{
		ID:              d.ID,
		Type:            d.Type,
		License:         d.License,
		DatasetName:     d.DatasetName,
		RetrievalMethod: d.RetrievalMethod,
		Confidence:      d.Confidence,
		QualityScore:    d.QualityScore,
	}
}

// APIKey resolves the connector's API key from the environment, if declared.
func (d Definition) APIKey() string {
	if d.Connector.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(d.Connector.APIKeyEnv)
}

// Registry is the loaded source catalog.
type Registry struct {
	defs []Definition
	byID map[string]Definition
}

// LoadRegistry reads and validates sources.yaml.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read registry %s", path)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML from memory.
func ParseRegistry(data []byte) (*Registry, error) {
	var wrapper struct {
		Sources []Definition `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "source: parse registry")
	}
	if len(wrapper.Sources) == 0 {
		return nil, eris.New("source: registry defines no sources")
	}

	v := validator.New()
	byID := make(map[string]Definition, len(wrapper.Sources))
	for _, def := range wrapper.Sources {
		if err := v.Struct(def); err != nil {
			return nil, eris.Wrapf(err, "source: invalid definition %q", def.ID)
		}
		if _, dup := byID[def.ID]; dup {
			return nil, eris.Errorf("source: duplicate source id %q", def.ID)
		}
		byID[def.ID] = def
	}
	return &Registry{defs: wrapper.Sources, byID: byID}, nil
}

// Get returns a definition by id.
func (r *Registry) Get(id string) (Definition, bool) {
	def, ok := r.byID[id]
	return def, ok
}

// List returns all definitions in file order.
func (r *Registry) List() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}
