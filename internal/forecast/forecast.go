// Package forecast implements C4: fetching hourly carbon intensity for
// every zone referenced by functions needing (re)planning, merging the
// results into one CarbonForecast document and persisting it to the
// bucket. It supports "forecast" and "historical" fallback modes, and
// fans requests out across zones with a bounded worker pool via
// golang.org/x/sync/errgroup.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/resilience"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Provider is the external carbon-intensity data provider contract.
type Provider interface {
	// FetchHourly returns up to 24 hourly samples for zone, starting at
	// hour-aligned now (forecast mode) or starting 24h in the past
	// (historical mode, reinterpreted by the caller).
	FetchHourly(ctx context.Context, zone string) ([]model.HourPoint, error)
}

// HTTPProvider is the default Provider: one HTTP GET per zone against the
// configured forecast endpoint, bearer-token authenticated.
type HTTPProvider struct {
	client   *http.Client
	endpoint string
	token    string
	limiter  *rate.Limiter
}

// NewHTTPProvider builds an HTTPProvider rate limited to 5 req/s, matching
// the conservative outbound ceiling llm-router applies to its own
// provider calls.
func NewHTTPProvider(endpoint, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		token:    token,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
}

type hourlyResponse struct {
	Zone  string `json:"zone"`
	Hours []struct {
		HourStartUTC time.Time `json:"hour_start_utc"`
		GCO2PerKWh   float64   `json:"g_co2_per_kwh"`
	} `json:"hours"`
}

// FetchHourly implements Provider.
func (p *HTTPProvider) FetchHourly(ctx context.Context, zone string) ([]model.HourPoint, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("forecast: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/forecast?zone=%s", p.endpoint, zone), nil)
	if err != nil {
		return nil, fmt.Errorf("forecast: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast: request zone %s: %w", zone, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("forecast: read body for zone %s: %w", zone, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("forecast: provider 5xx for zone %s: %s", zone, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast: provider status %d for zone %s: %s", resp.StatusCode, zone, string(body))
	}

	var parsed hourlyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("forecast: decode response for zone %s: %w", zone, err)
	}

	points := make([]model.HourPoint, 0, len(parsed.Hours))
	for _, h := range parsed.Hours {
		points = append(points, model.HourPoint{HourStartUTC: h.HourStartUTC, GCO2PerKWh: h.GCO2PerKWh})
	}
	return points, nil
}

// Fetcher orchestrates a multi-zone fetch for one planning cycle.
type Fetcher struct {
	provider       Provider
	store          *bucket.Store
	mode           model.ForecastMode
	concurrencyCap int
	logger         *zap.Logger
}

// New constructs a Fetcher. provider is expected to already be wrapped
// with retry/circuit-breaker protection by the caller (see
// internal/resilience and cmd/planner-worker's wiring).
func New(provider Provider, store *bucket.Store, mode model.ForecastMode, concurrencyCap int, logger *zap.Logger) *Fetcher {
	if concurrencyCap <= 0 {
		concurrencyCap = 8
	}
	return &Fetcher{provider: provider, store: store, mode: mode, concurrencyCap: concurrencyCap, logger: logger}
}

// FetchAndPersist fetches the union of zones, merges them into one
// CarbonForecast, persists it atomically, and returns it. Per-zone
// fetches run concurrently up to the configured cap: at most one
// ongoing fetch per zone per cycle, with concurrent zones fetched in
// parallel up to a bounded pool.
func (f *Fetcher) FetchAndPersist(ctx context.Context, zones []string, now time.Time) (*model.CarbonForecast, error) {
	result := &model.CarbonForecast{
		FetchedAtUTC: now,
		Mode:         f.mode,
		Zones:        make(map[string]model.ZoneForecast, len(zones)),
	}

	type fetched struct {
		zone   string
		points []model.HourPoint
	}
	results := make(chan fetched, len(zones))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrencyCap)

	for _, zone := range zones {
		zone := zone
		g.Go(func() error {
			points, err := f.fetchOneZone(gctx, zone, now)
			if err != nil {
				return fmt.Errorf("forecast: zone %s: %w", zone, err)
			}
			results <- fetched{zone: zone, points: points}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	for r := range results {
		result.Zones[r.zone] = model.ZoneForecast{ZoneKey: r.zone, Hours: r.points}
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("forecast: marshal merged document: %w", err)
	}
	key := fmt.Sprintf("carbon_forecasts_%s.json", now.Format("2006-01-02"))
	if err := f.store.PutAtomic(ctx, key, body); err != nil {
		return nil, fmt.Errorf("forecast: persist: %w", err)
	}
	if err := f.store.PutAtomic(ctx, bucket.CarbonForecastsKey, body); err != nil {
		return nil, fmt.Errorf("forecast: publish latest: %w", err)
	}

	return result, nil
}

func (f *Fetcher) fetchOneZone(ctx context.Context, zone string, now time.Time) ([]model.HourPoint, error) {
	points, err := f.provider.FetchHourly(ctx, zone)
	if err != nil {
		if f.mode == model.ModeForecast {
			if f.logger != nil {
				f.logger.Warn("forecast: zone fetch failed in forecast mode", zap.String("zone", zone), zap.Error(err))
			}
		}
		return nil, err
	}

	if f.mode == model.ModeHistorical {
		points = reinterpretAsNext24Hours(points, now)
	}
	return points, nil
}

// reinterpretAsNext24Hours shifts a historical 24h window so its samples
// are relabeled onto the next 24 hours starting at the current
// hour-aligned UTC time, per the historical-mode fallback.
func reinterpretAsNext24Hours(points []model.HourPoint, now time.Time) []model.HourPoint {
	horizonStart := now.Truncate(time.Hour)
	out := make([]model.HourPoint, len(points))
	for i, p := range points {
		out[i] = model.HourPoint{
			HourStartUTC: horizonStart.Add(time.Duration(i) * time.Hour),
			GCO2PerKWh:   p.GCO2PerKWh,
		}
	}
	return out
}

// WrapResilient wraps a Provider with the default retry/backoff policy
// and a per-provider circuit breaker.
func WrapResilient(p Provider, logger *zap.Logger) Provider {
	return &resilientProvider{
		inner:   p,
		breaker: resilience.New(resilience.Config{Name: "forecast-provider"}, logger),
		logger:  logger,
	}
}

type resilientProvider struct {
	inner   Provider
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

func (r *resilientProvider) FetchHourly(ctx context.Context, zone string) ([]model.HourPoint, error) {
	return resilience.WithBackoff(ctx, resilience.DefaultRetryConfig(), "forecast.fetch", r.logger, nil,
		func(ctx context.Context) ([]model.HourPoint, error) {
			var out []model.HourPoint
			err := r.breaker.Execute(ctx, func(ctx context.Context) error {
				var innerErr error
				out, innerErr = r.inner.FetchHourly(ctx, zone)
				return innerErr
			})
			return out, err
		})
}
