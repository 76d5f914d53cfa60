package tinybird

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/weather-ingest/internal/transport"
)

// PipeClient queries a fixed Tinybird pipe endpoint.
type PipeClient struct {
	url    string
	token  string
	params url.Values
	doer   *transport.Doer
}

// NewPipeClient creates a PipeClient that always sends params as the query string.
func NewPipeClient(client *http.Client, pipeURL, token string, params url.Values) *PipeClient {
	if pipeURL == "" {
		pipeURL = DefaultPipeURL
	}
	return &PipeClient{
		url:    pipeURL,
		token:  token,
		params: params,
		doer: transport.New(transport.Config{
			Name:   "tinybird-pipes",
			Client: client,
			Backoff: transport.BackoffConfig{
				InitialInterval: 500 * time.Millisecond,
			},
		}),
	}
}

// Query performs one GET against the pipe and returns the response status code.
func (c *PipeClient) Query(ctx context.Context) (int, error) {
	resp, err := c.doer.Do(ctx, func() (*http.Request, error) {
		u := c.url
		if len(c.params) > 0 {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u = fmt.Sprintf("%s%s%s", u, sep, c.params.Encode())
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		return req, nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
