package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/i474232898/weather-ingest/internal/transport"
	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	DefaultOpenWeatherURL = "http://api.openweathermap.org/data/2.5/weather"
	DefaultUnits          = "imperial"
)

// OpenWeatherOptions configures an OpenWeatherProvider.
type OpenWeatherOptions struct {
	BaseURL    string
	APIKey     string
	Units      string
	MaxRetries int
}

// OpenWeatherProvider implements weather.Source for OpenWeatherMap current weather.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	units   string
	doer    *transport.Doer
	tracer  trace.Tracer
}

func NewOpenWeatherProvider(client *http.Client, opts OpenWeatherOptions) *OpenWeatherProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenWeatherURL
	}
	units := opts.Units
	if units == "" {
		units = DefaultUnits
	}

	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		units:   units,
		doer: transport.New(transport.Config{
			Name:   "openweathermap",
			Client: client,
			Backoff: transport.BackoffConfig{
				MaxRetries:      opts.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			// Every entity of a pass gets its own request.
			NoBreaker: true,
		}),
		tracer: otel.GetTracerProvider().Tracer("weather-ingest/providers"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Fetch issues a single GET for the entity and decodes the payload.
// Required-field checks are left to weather.Normalize.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, entity string) (weather.UpstreamRecord, error) {
	ctx, span := p.tracer.Start(ctx, "openweather.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("site_name", entity))

	if p.apiKey == "" {
		return weather.UpstreamRecord{}, fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", entity)
		values.Set("appid", p.apiKey)
		values.Set("units", p.units)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := p.doer.Do(ctx, buildRequest)
	if err != nil {
		span.RecordError(err)
		return weather.UpstreamRecord{}, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var payload weather.UpstreamRecord
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		return weather.UpstreamRecord{}, fmt.Errorf("%w: %v", weather.ErrMalformedPayload, err)
	}

	return payload, nil
}
