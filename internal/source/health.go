package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// healthLookback is the window health metrics are computed over.
const healthLookback = 7 * 24 * time.Hour

// Health summarizes a source's recent sync history. The JSON keys are part
// of the admin API response shape and must stay stable for its consumers.
type Health struct {
	SourceID       string     `json:"source_id"`
	Healthy        bool       `json:"healthy"`
	Ingests        int        `json:"last_7d_ingests"`
	UptimePct      float64    `json:"uptime_pct"`
	RecordsAdded   int        `json:"records_added"`
	RecordsUpdated int        `json:"records_updated"`
	AvgLatencyMS   int64      `json:"avg_latency_ms"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// Health computes seven-day sync metrics for one source from its recorded
// ingest events. A source with no syncs in the window is unhealthy.
func (m *Manager) Health(ctx context.Context, sourceID string) (*Health, error) {
	since := time.Now().UTC().Add(-healthLookback)
	events, err := m.store.ListIngestEvents(ctx, sourceID, since)
	if err != nil {
		return nil, eris.Wrapf(err, "source: list ingest events for %s", sourceID)
	}

	h := &Health{SourceID: sourceID}
	if len(events) == 0 {
		return h, nil
	}

	var succeeded int
	var totalDuration int64
	for _, ev := range events {
		totalDuration += ev.DurationMS
		if ev.Error == "" {
			succeeded++
			h.RecordsAdded += ev.RecordsAdded
			h.RecordsUpdated += ev.RecordsUpdated
		}
	}

	h.Ingests = len(events)
	h.UptimePct = 100 * float64(succeeded) / float64(len(events))
	h.AvgLatencyMS = totalDuration / int64(len(events))

	last := events[len(events)-1]
	for _, ev := range events {
		if ev.StartedAt.After(last.StartedAt) {
			last = ev
		}
	}
	t := last.StartedAt
	h.LastSync = &t
	h.LastError = last.Error
	h.Healthy = last.Error == "" && h.UptimePct >= 50
	return h, nil
}

// HealthAll computes health for every registered connector.
func (m *Manager) HealthAll(ctx context.Context) ([]Health, error) {
	out := make([]Health, 0, len(m.connectors))
	for _, id := range m.SourceIDs() {
		h, err := m.Health(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}
