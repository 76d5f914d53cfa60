package tinybird

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/i474232898/weather-ingest/internal/transport"
	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	DefaultEventsURL = "https://api.tinybird.co/v0/events?name=incoming_weather_data"
	DefaultPipeURL   = "https://api.tinybird.co/v0/pipes/reports.json"
)

// EventsClient posts normalized records to the Tinybird Events API.
type EventsClient struct {
	url    string
	token  string
	doer   *transport.Doer
	tracer trace.Tracer
}

// NewEventsClient creates an EventsClient. Failed sends are never retried:
// delivery is at-most-once.
func NewEventsClient(client *http.Client, url, token string) *EventsClient {
	if url == "" {
		url = DefaultEventsURL
	}
	return &EventsClient{
		url:   url,
		token: token,
		doer: transport.New(transport.Config{
			Name:   "tinybird-events",
			Client: client,
			Backoff: transport.BackoffConfig{
				InitialInterval: 500 * time.Millisecond,
			},
		}),
		tracer: otel.GetTracerProvider().Tracer("weather-ingest/tinybird"),
	}
}

// Emit serializes rec and POSTs it as a single event.
func (c *EventsClient) Emit(ctx context.Context, rec weather.NormalizedRecord) error {
	ctx, span := c.tracer.Start(ctx, "tinybird.emit")
	defer span.End()
	span.SetAttributes(attribute.String("site_name", rec.SiteName))

	body, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error marshaling record: %w", err)
	}

	resp, err := c.doer.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return nil
}
