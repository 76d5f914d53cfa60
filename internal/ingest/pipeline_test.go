package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-ingest/internal/tinybird"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

// collector records every body POSTed to the stub events endpoint.
type collector struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
}

func (c *collector) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tb-token" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (c *collector) Bodies() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]interface{}(nil), c.bodies...)
}

func newPipeline(t *testing.T, upstream http.HandlerFunc, entities []string) (*Loop, *collector) {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	sink := &collector{}
	down := httptest.NewServer(sink.handler(t))
	t.Cleanup(down.Close)

	client := &http.Client{Timeout: 5 * time.Second}
	source := providers.NewOpenWeatherProvider(client, providers.OpenWeatherOptions{BaseURL: up.URL, APIKey: "owm-token"})
	events := tinybird.NewEventsClient(client, down.URL, "tb-token")

	l, err := New(source, events, nil, Options{Entities: entities, Location: time.UTC}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l, sink
}

func TestPipelineClearSky(t *testing.T) {
	entities := []string{"Columbus, OH, US", "Austin, TX, US"}

	l, sink := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(clearSky))
	}, entities)

	l.RunPass(context.Background())

	bodies := sink.Bodies()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 downstream POSTs, got %d", len(bodies))
	}
	for i, b := range bodies {
		if b["site_name"] != entities[i] {
			t.Fatalf("post %d: expected site_name %q, got %v", i, entities[i], b["site_name"])
		}
		if p, ok := b["precip"]; !ok || p.(float64) != 0 {
			t.Fatalf("post %d: expected precip 0.0, got %v", i, p)
		}
		if b["timestamp"] != "2023-11-14 22:13:20" {
			t.Fatalf("post %d: unexpected timestamp %v", i, b["timestamp"])
		}
		if b["description"] != "clear sky" || b["temp_f"].(float64) != 55.2 {
			t.Fatalf("post %d: unexpected body %v", i, b)
		}
	}
}

func TestPipelineRain(t *testing.T) {
	l, sink := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dt": 1700000000, "main": {"temp": 55.2, "humidity": 60, "pressure": 1012}, "wind": {"speed": 5.0, "deg": 180}, "clouds": {"all": 20}, "weather": [{"description": "light rain"}], "rain": {"1h": 2.5}}`))
	}, []string{"Columbus, OH, US"})

	l.RunPass(context.Background())

	bodies := sink.Bodies()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 downstream POST, got %d", len(bodies))
	}
	if bodies[0]["precip"].(float64) != 2.5 {
		t.Fatalf("expected precip 2.5, got %v", bodies[0]["precip"])
	}
}

func TestPipelineMissingHumidity(t *testing.T) {
	l, sink := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Columbus, OH, US" {
			w.Write([]byte(noHumidity))
			return
		}
		w.Write([]byte(clearSky))
	}, []string{"Columbus, OH, US", "Austin, TX, US"})

	res := l.RunPass(context.Background())

	bodies := sink.Bodies()
	if len(bodies) != 1 || bodies[0]["site_name"] != "Austin, TX, US" {
		t.Fatalf("expected only Austin to be posted, got %v", bodies)
	}
	if res.Skipped != 1 {
		t.Fatalf("expected 1 skipped entity, got %d", res.Skipped)
	}
}

func TestPipelineUpstreamDown(t *testing.T) {
	l, sink := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, []string{"Columbus, OH, US", "Austin, TX, US"})

	res := l.RunPass(context.Background())

	if len(sink.Bodies()) != 0 {
		t.Fatalf("expected no downstream POSTs")
	}
	if res.Skipped != 2 {
		t.Fatalf("expected 2 skipped entities, got %d", res.Skipped)
	}
}

func TestPipelineUnknownCitiesEachFetchedOnce(t *testing.T) {
	var hits int32
	entities := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	l, sink := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"cod":"404","message":"city not found"}`))
	}, entities)

	res := l.RunPass(context.Background())

	if n := atomic.LoadInt32(&hits); n != int32(len(entities)) {
		t.Fatalf("expected %d upstream requests, got %d", len(entities), n)
	}
	if res.Fetched != int64(len(entities)) || res.Skipped != int64(len(entities)) {
		t.Fatalf("unexpected pass result %+v", res)
	}
	if len(sink.Bodies()) != 0 {
		t.Fatalf("expected no downstream POSTs")
	}
}
