package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/solarcommand/discovery-cli/internal/activation"
	"github.com/solarcommand/discovery-cli/internal/compliance"
	"github.com/solarcommand/discovery-cli/internal/config"
	"github.com/solarcommand/discovery-cli/internal/enrich"
	"github.com/solarcommand/discovery-cli/internal/enrich/provider"
	"github.com/solarcommand/discovery-cli/internal/model"
	"github.com/solarcommand/discovery-cli/internal/permit"
	"github.com/solarcommand/discovery-cli/internal/pipeline"
	"github.com/solarcommand/discovery-cli/internal/resilience"
	"github.com/solarcommand/discovery-cli/internal/resolver"
	"github.com/solarcommand/discovery-cli/internal/scorer"
	"github.com/solarcommand/discovery-cli/internal/source"
	"github.com/solarcommand/discovery-cli/internal/store"
	"github.com/solarcommand/discovery-cli/internal/territory"
	"github.com/solarcommand/discovery-cli/pkg/geocode"
)

// pipelineEnv holds the initialized store and stage services shared by the
// discover/skip-trace/activate/pipeline/serve commands.
type pipelineEnv struct {
	Store     store.Store
	Sources   *source.Manager
	Scorer    *scorer.Service
	Enricher  *enrich.Orchestrator
	Gate      *compliance.Gate
	Activator *activation.Pipeline
	Runner    *pipeline.Runner
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// providerRetry and providerCircuit translate the shared resilience config
// for outbound provider clients.
func providerRetry() resilience.RetryConfig {
	r := cfg.Resilience.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func providerCircuit() resilience.CircuitBreakerConfig {
	c := cfg.Resilience.Circuit
	return resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return store.NewSQLite(cfg.Store.Path)
	}
}

// initEnv validates config for the mode, opens and migrates the store, and
// wires every stage service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	territories, err := initTerritories()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sources, err := initSources(st, territories)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	var enrichOpts []enrich.Option
	if cfg.Enrich.SkipTracer.BaseURL != "" {
		registry.Register(provider.NewHTTPSkipTracer("skip-tracer", provider.HTTPOptions{
			BaseURL:    cfg.Enrich.SkipTracer.BaseURL,
			APIKey:     cfg.Enrich.SkipTracer.Key,
			RatePerSec: cfg.Enrich.SkipTracer.RatePerSec,
			Retry:      providerRetry(),
			Circuit:    providerCircuit(),
		}))
	}
	if cfg.Enrich.PhoneValidator.BaseURL != "" {
		enrichOpts = append(enrichOpts, enrich.WithPhoneValidator(
			provider.NewHTTPPhoneValidator("phone-validator", provider.HTTPOptions{
				BaseURL:    cfg.Enrich.PhoneValidator.BaseURL,
				APIKey:     cfg.Enrich.PhoneValidator.Key,
				RatePerSec: cfg.Enrich.PhoneValidator.RatePerSec,
				Retry:      providerRetry(),
				Circuit:    providerCircuit(),
			})))
	}
	if cfg.Enrich.EmailValidator.BaseURL != "" {
		enrichOpts = append(enrichOpts, enrich.WithEmailValidator(
			provider.NewHTTPEmailValidator("email-validator", provider.HTTPOptions{
				BaseURL:    cfg.Enrich.EmailValidator.BaseURL,
				APIKey:     cfg.Enrich.EmailValidator.Key,
				RatePerSec: cfg.Enrich.EmailValidator.RatePerSec,
				Retry:      providerRetry(),
				Circuit:    providerCircuit(),
			})))
	}
	enrichOpts = append(enrichOpts, enrich.WithCooldown(cfg.Enrich.Cooldown()))
	enricher := enrich.NewOrchestrator(st, registry, enrichOpts...)

	gate, err := initGate(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	activator := activation.NewPipeline(st, gate,
		activation.WithMinScore(cfg.Activation.MinScore),
		activation.WithBatchConcurrency(cfg.Activation.BatchConcurrency),
	)

	sc := scorer.NewService(st)

	return &pipelineEnv{
		Store:     st,
		Sources:   sources,
		Scorer:    sc,
		Enricher:  enricher,
		Gate:      gate,
		Activator: activator,
		Runner:    pipeline.NewRunner(st, sources, sc, enricher, activator),
	}, nil
}

// initTerritories builds the utility territory index. A configured
// shapefile adds polygon matching on top of the zip fallback table.
func initTerritories() (*territory.Index, error) {
	zips := territory.MarylandZipUtilities()
	if cfg.Territory.ShapefilePath == "" {
		return territory.NewIndex(zips), nil
	}
	idx, err := territory.LoadShapefile(cfg.Territory.ShapefilePath, cfg.Territory.UtilityField, zips)
	if err != nil {
		return nil, eris.Wrap(err, "load territory shapefile")
	}
	return idx, nil
}

// initGeocoder builds the Census geocoding client used to backfill
// coordinates on bulk imports. Returns nil when disabled.
func initGeocoder() geocode.Client {
	if !cfg.Territory.GeocoderEnabled {
		return nil
	}
	opts := []geocode.Option{geocode.WithRateLimit(cfg.Territory.GeocoderRPS)}
	if env := cfg.Territory.GoogleAPIKeyEnv; env != "" {
		if key := os.Getenv(env); key != "" {
			opts = append(opts, geocode.WithGoogleAPIKey(key))
		}
	}
	return geocode.NewClient(opts...)
}

// initSources loads sources.yaml and registers a connector per definition
// with a known connector type.
func initSources(st store.Store, territories *territory.Index) (*source.Manager, error) {
	reg, err := source.LoadRegistry(cfg.Sources.RegistryPath)
	if err != nil {
		return nil, err
	}

	res := resolver.New(st)
	mgr := source.NewManager(st, reg)
	for _, def := range reg.List() {
		switch def.Type {
		case model.SourceTaxAssessor:
			mgr.Register(source.NewSDATConnector(def, st, res, territories))
		case model.SourceVendorFeed:
			mgr.Register(source.NewVendorFeedConnector(def, st, res))
		case model.SourcePermitOffice:
			mgr.Register(source.NewPermitOfficeConnector(def, permit.NewExtractor(st)))
		case model.SourceBYOD:
			mgr.Register(source.NewBulkConnector(def, st, res, territories, initGeocoder()))
		default:
			zap.L().Debug("no connector for source type",
				zap.String("source_id", def.ID),
				zap.String("type", string(def.Type)),
			)
		}
	}
	return mgr, nil
}

// initGate wires the compliance gate. Registries without a configured base
// URL stay nil, which the gate treats as flagged (fail closed).
func initGate(st store.Store) (*compliance.Gate, error) {
	lookupFor := func(name string, pc config.ProviderConfig) compliance.Lookup {
		if pc.BaseURL == "" {
			zap.L().Warn("dnc registry not configured, leads with phones will be flagged",
				zap.String("registry", name))
			return nil
		}
		return compliance.NewHTTPLookup(name, compliance.HTTPLookupOptions{
			BaseURL:    pc.BaseURL,
			APIKey:     pc.Key,
			RatePerSec: pc.RatePerSec,
			Retry:      providerRetry(),
			Circuit:    providerCircuit(),
		})
	}

	var opts []compliance.Option
	if cfg.Compliance.LitigatorPath != "" {
		list, err := loadWatchlist("litigators", cfg.Compliance.LitigatorPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compliance.WithLitigatorList(list))
	}
	if cfg.Compliance.FraudlistPath != "" {
		list, err := loadWatchlist("fraud", cfg.Compliance.FraudlistPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compliance.WithFraudList(list))
	}

	return compliance.NewGate(st,
		lookupFor("federal-dnc", cfg.Compliance.FederalDNC),
		lookupFor("state-dnc", cfg.Compliance.StateDNC),
		opts...,
	), nil
}

// loadWatchlist reads one normalized value per line, skipping blanks and
// '#' comments.
func loadWatchlist(name, path string) (*compliance.StaticLookup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open watchlist %s", path)
	}
	defer func() { _ = f.Close() }()

	var values []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read watchlist %s", path)
	}
	return compliance.NewStaticLookup(name, values...), nil
}
