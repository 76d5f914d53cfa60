package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/i474232898/weather-ingest/internal/transport"
	"github.com/i474232898/weather-ingest/internal/weather"
)

func TestOpenWeatherFetchQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Columbus, OH, US" {
			t.Errorf("expected q=Columbus, OH, US, got %s", q.Get("q"))
		}
		if q.Get("appid") != "secret" {
			t.Errorf("expected appid=secret, got %s", q.Get("appid"))
		}
		if q.Get("units") != "imperial" {
			t.Errorf("expected units=imperial, got %s", q.Get("units"))
		}
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dt": 1700000000, "main": {"temp": 55.2, "humidity": 60, "pressure": 1012}, "wind": {"speed": 5.0, "deg": 180}, "clouds": {"all": 20}, "weather": [{"description": "clear sky"}]}`))
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherOptions{BaseURL: srv.URL, APIKey: "secret"})

	rec, err := p.Fetch(context.Background(), "Columbus, OH, US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Dt == nil || *rec.Dt != 1700000000 {
		t.Fatalf("unexpected dt: %v", rec.Dt)
	}
	if rec.Main.Temp == nil || *rec.Main.Temp != 55.2 {
		t.Fatalf("unexpected temp: %v", rec.Main.Temp)
	}
	if rec.Rain != nil {
		t.Fatalf("expected no rain block")
	}
}

func TestOpenWeatherFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherOptions{BaseURL: srv.URL, APIKey: "secret"})

	_, err := p.Fetch(context.Background(), "Austin, TX, US")
	if !errors.Is(err, weather.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestOpenWeatherFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(srv.Client(), OpenWeatherOptions{BaseURL: srv.URL, APIKey: "secret"})

	_, err := p.Fetch(context.Background(), "Austin, TX, US")
	if !errors.Is(err, transport.ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
}

func TestOpenWeatherFetchRequiresKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, OpenWeatherOptions{})
	if _, err := p.Fetch(context.Background(), "Austin, TX, US"); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
