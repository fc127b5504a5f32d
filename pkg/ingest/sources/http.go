package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource fetches data from HTTP/HTTPS URLs.
type HTTPSource struct {
	url     *url.URL
	client  *http.Client
	headers map[string]string
}

// HTTPSourceOptions configures HTTP source behavior.
type HTTPSourceOptions struct {
	// Custom HTTP client
	Client *http.Client

	// Custom headers
	Headers map[string]string

	Timeout     time.Duration
	BearerToken string
}

// IsHTTPURL reports whether s is an http or https URL.
func IsHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewHTTPSource creates an HTTP source from a URL.
func NewHTTPSource(rawURL string, opts *HTTPSourceOptions) (*HTTPSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}

	if opts == nil {
		opts = &HTTPSourceOptions{}
	}

	s := &HTTPSource{
		url:     parsed,
		client:  opts.Client,
		headers: make(map[string]string),
	}
	if s.client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		s.client = &http.Client{Timeout: timeout}
	}

	for k, v := range opts.Headers {
		s.headers[k] = v
	}
	if opts.BearerToken != "" {
		s.headers["Authorization"] = "Bearer " + opts.BearerToken
	}

	return s, nil
}

func (s *HTTPSource) ID() string       { return s.url.String() }
func (s *HTTPSource) Location() string { return s.url.String() }
func (s *HTTPSource) Size() int64      { return -1 }

// Open fetches the URL and returns the response body.
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", s.url, resp.Status)
	}

	return resp.Body, nil
}
