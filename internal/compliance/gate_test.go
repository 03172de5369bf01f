package compliance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/resilience"
	"github.com/solarcommand/discovery-cli/internal/store"
)

type failingLookup struct{ name string }

func (f *failingLookup) Name() string { return f.name }

func (f *failingLookup) Contains(context.Context, string) (bool, error) {
	return false, errors.New("registry unavailable")
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedLeadWithPhone(t *testing.T, st *store.SQLiteStore, phone string) *model.DiscoveredLead {
	t.Helper()
	ctx := context.Background()
	prop := &model.DiscoveredProperty{
		AddressLine1:      "12 Oak St",
		City:              "Annapolis",
		State:             "MD",
		ZipCode:           "21401",
		NormalizedAddress: "12 OAK ST|ANNAPOLIS|MD|21401",
	}
	require.NoError(t, st.InsertProperty(ctx, prop))
	lead := &model.DiscoveredLead{PropertyID: prop.ID, Status: model.StatusDiscovered}
	require.NoError(t, st.CreateLead(ctx, lead))
	if phone != "" {
		confidence := 0.9
		require.NoError(t, st.SetBestContact(ctx, lead.ID, phone, "mobile", "", &confidence))
	}
	got, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	return got
}

func TestGate_AllClear(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st, NewStaticLookup("federal-dnc"), NewStaticLookup("state-dnc"))
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, model.FlagClear, status.FederalDNC)
	assert.Equal(t, model.FlagClear, status.StateDNC)
	assert.Equal(t, model.FlagClear, status.InternalDNC)
	assert.Equal(t, model.FlagClear, status.LitigatorFlag)
	assert.Equal(t, model.FlagClear, status.FraudFlag)
	assert.Equal(t, model.ConsentUnknown, status.ConsentStatus)
	assert.False(t, status.Blocking())
}

func TestGate_FederalDNCHit(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st,
		NewStaticLookup("federal-dnc", "+14105550101"),
		NewStaticLookup("state-dnc"))
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, model.FlagFlagged, status.FederalDNC)
	assert.True(t, status.Blocking())
}

func TestGate_LookupFailureFailsClosed(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st, &failingLookup{name: "federal-dnc"}, NewStaticLookup("state-dnc"))
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)

	assert.Equal(t, model.FlagFlagged, status.FederalDNC)
	assert.Equal(t, model.FlagClear, status.StateDNC)
	assert.True(t, status.Blocking())
}

func TestGate_MissingRequiredListFailsClosed(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st, nil, NewStaticLookup("state-dnc"))
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, status.FederalDNC)
}

func TestGate_NoPhoneSkipsRegistryChecks(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "")

	gate := NewGate(st, nil, nil)
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.FlagClear, status.FederalDNC)
	assert.Equal(t, model.FlagClear, status.StateDNC)
}

func TestGate_InternalSuppression(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lead := seedLeadWithPhone(t, st, "+14105550101")
	require.NoError(t, st.AddSuppression(ctx, "+14105550101", "opt_out"))

	gate := NewGate(st, NewStaticLookup("federal-dnc"), NewStaticLookup("state-dnc"))
	status, err := gate.Check(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, status.InternalDNC)
}

func TestGate_ConsentLatestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lead := seedLeadWithPhone(t, st, "+14105550101")
	gate := NewGate(st, NewStaticLookup("federal-dnc"), NewStaticLookup("state-dnc"))

	require.NoError(t, st.AppendConsent(ctx, &model.ConsentEntry{
		LeadID: lead.ID, ConsentType: "voice", Status: model.ConsentExplicitOptIn,
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}))
	status, err := gate.Check(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentExplicitOptIn, status.ConsentStatus)
	assert.False(t, status.Blocking())

	require.NoError(t, st.AppendConsent(ctx, &model.ConsentEntry{
		LeadID: lead.ID, ConsentType: "voice", Status: model.ConsentOptedOut,
		CreatedAt: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	}))
	status, err = gate.Check(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentOptedOut, status.ConsentStatus)
	assert.True(t, status.Blocking())
}

func TestGate_WatchlistHit(t *testing.T) {
	st := newTestStore(t)
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st,
		NewStaticLookup("federal-dnc"),
		NewStaticLookup("state-dnc"),
		WithLitigatorList(NewStaticLookup("litigators", "+14105550101")))
	status, err := gate.Check(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.FlagFlagged, status.LitigatorFlag)
	assert.True(t, status.Blocking())
}

func TestGate_RecordOptOut(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lead := seedLeadWithPhone(t, st, "+14105550101")

	gate := NewGate(st, NewStaticLookup("federal-dnc"), NewStaticLookup("state-dnc"))
	require.NoError(t, gate.RecordOptOut(ctx, lead, "sms", "sms_reply"))

	status, err := gate.Check(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentOptedOut, status.ConsentStatus)
	assert.Equal(t, model.FlagFlagged, status.InternalDNC)
}

func TestHTTPLookup_Contains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/lookup", r.URL.Path)
		if r.URL.Query().Get("value") == "+14105550101" {
			_, _ = w.Write([]byte(`{"listed": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"listed": false}`))
	}))
	defer srv.Close()

	lookup := NewHTTPLookup("federal-dnc", HTTPLookupOptions{
		BaseURL: srv.URL,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})

	listed, err := lookup.Contains(context.Background(), "+14105550101")
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = lookup.Contains(context.Background(), "+14105550999")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestHTTPLookup_FractionalRateStillServes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"listed": false}`))
	}))
	defer srv.Close()

	lookup := NewHTTPLookup("state-dnc", HTTPLookupOptions{
		BaseURL:    srv.URL,
		RatePerSec: 0.25,
		Retry:      resilience.RetryConfig{MaxAttempts: 1},
	})

	listed, err := lookup.Contains(context.Background(), "+14105550101")
	require.NoError(t, err)
	assert.False(t, listed)
}
