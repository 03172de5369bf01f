package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solarcommand/discovery-cli/internal/permit"
	"github.com/solarcommand/discovery-cli/internal/resilience"
)

// permitFiling is the wire shape of one permit in a county feed.
type permitFiling struct {
	PermitNumber   string   `json:"permit_number"`
	Jurisdiction   string   `json:"jurisdiction"`
	Description    string   `json:"description"`
	Status         string   `json:"status,omitempty"`
	ContractorName string   `json:"contractor_name,omitempty"`
	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
	IssueDate      string   `json:"issue_date,omitempty"`
	FinalDate      string   `json:"final_date,omitempty"`
	AddressLine1   string   `json:"address_line1,omitempty"`
	City           string   `json:"city,omitempty"`
	State          string   `json:"state,omitempty"`
	ZipCode        string   `json:"zip_code,omitempty"`
}

// PermitOfficeConnector ingests building permit filings from a county
// permit office feed and classifies them through the permit extractor.
type PermitOfficeConnector struct {
	def       Definition
	extractor *permit.Extractor
	client    *http.Client
	limiter   *rate.Limiter
}

// NewPermitOfficeConnector creates a permit feed connector.
func NewPermitOfficeConnector(def Definition, extractor *permit.Extractor) *PermitOfficeConnector {
	perSec := def.Connector.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &PermitOfficeConnector{
		def:       def,
		extractor: extractor,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

func (c *PermitOfficeConnector) Definition() Definition { return c.def }

func (c *PermitOfficeConnector) feedURL(county string, limit, offset int) string {
	path := c.def.Connector.FeedPath
	if path == "" {
		path = "/v1/permits"
	}
	return fmt.Sprintf("%s%s?county=%s&limit=%d&offset=%d",
		c.def.Connector.BaseURL, path, county, limit, offset)
}

// TestConnection fetches a single filing.
func (c *PermitOfficeConnector) TestConnection(ctx context.Context) error {
	_, err := c.fetchPage(ctx, "", 1, 0)
	return err
}

func (c *PermitOfficeConnector) fetchPage(ctx context.Context, county string, limit, offset int) ([]permitFiling, error) {
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) ([]permitFiling, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "permits: rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL(county, limit, offset), nil)
		if err != nil {
			return nil, eris.Wrap(err, "permits: build request")
		}
		req.Header.Set("Accept", "application/json")
		if key := c.def.APIKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, resilience.NewProviderError(c.def.ID, "fetch_permits", 0, time.Since(start), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, resilience.NewProviderError(c.def.ID, "fetch_permits", resp.StatusCode, time.Since(start),
				fmt.Errorf("unexpected status %d", resp.StatusCode))
		}

		var body struct {
			Permits []permitFiling `json:"permits"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, eris.Wrap(err, "permits: decode feed")
		}
		return body.Permits, nil
	})
}

// Sync ingests up to limit filings, then sweeps unlinked permits against
// properties discovered since the last pass.
func (c *PermitOfficeConnector) Sync(ctx context.Context, county string, limit int) (*SyncResult, error) {
	if limit <= 0 {
		limit = 500
	}
	result := &SyncResult{SourceID: c.def.ID, Batch: uuid.NewString()}

	const pageSize = 100
	offset := 0
	for offset < limit {
		page := min(pageSize, limit-offset)
		filings, err := c.fetchPage(ctx, county, page, offset)
		if err != nil {
			return nil, err
		}
		if len(filings) == 0 {
			break
		}
		offset += len(filings)

		for _, f := range filings {
			if f.PermitNumber == "" || f.Jurisdiction == "" {
				result.Skipped++
				continue
			}
			raw := &permit.RawPermit{
				PermitNumber:   f.PermitNumber,
				Jurisdiction:   f.Jurisdiction,
				Description:    f.Description,
				Status:         f.Status,
				ContractorName: f.ContractorName,
				EstimatedCost:  f.EstimatedCost,
				IssueDate:      f.IssueDate,
				FinalDate:      f.FinalDate,
				AddressLine1:   f.AddressLine1,
				City:           f.City,
				State:          f.State,
				ZipCode:        f.ZipCode,
			}
			if err := c.extractor.Ingest(ctx, raw); err != nil {
				zap.L().Warn("permits: filing ingest failed",
					zap.String("permit_number", f.PermitNumber),
					zap.Error(err),
				)
				result.Errors++
				continue
			}
			result.Added++
		}

		if len(filings) < page {
			break
		}
	}

	linked, err := c.extractor.LinkPending(ctx, limit)
	if err != nil {
		zap.L().Warn("permits: link sweep failed", zap.Error(err))
	} else {
		result.Updated = linked
	}
	return result, nil
}
