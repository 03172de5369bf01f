package permit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/store"
)

// Extractor persists classified permits and links them to properties.
type Extractor struct {
	store store.Store
}

// NewExtractor creates an Extractor.
func NewExtractor(st store.Store) *Extractor {
	return &Extractor{store: st}
}

// Ingest classifies and upserts one raw filing, linking it immediately when
// the address already resolves to a known property.
func (e *Extractor) Ingest(ctx context.Context, raw *RawPermit) error {
	rec := Classify(raw)
	if rec.NormalizedAddress != "" {
		prop, err := e.store.GetPropertyByAddress(ctx, rec.NormalizedAddress)
		if err == nil {
			rec.PropertyID = prop.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return e.store.UpsertPermit(ctx, rec)
}

// LinkPending retries address linking for permits that arrived before their
// property was discovered. Returns how many were linked.
func (e *Extractor) LinkPending(ctx context.Context, limit int) (int, error) {
	pending, err := e.store.ListUnlinkedPermits(ctx, limit)
	if err != nil {
		return 0, err
	}
	linked := 0
	for _, rec := range pending {
		if rec.NormalizedAddress == "" {
			continue
		}
		prop, err := e.store.GetPropertyByAddress(ctx, rec.NormalizedAddress)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return linked, err
		}
		if err := e.store.LinkPermit(ctx, rec.ID, prop.ID); err != nil {
			return linked, err
		}
		zap.L().Debug("linked permit to property",
			zap.String("permit_number", rec.PermitNumber),
			zap.String("property_id", prop.ID))
		linked++
	}
	return linked, nil
}
