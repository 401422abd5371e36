// Package restclient provides the outbound HTTP connector: a pooled client
// with default headers, TLS controls, JSON-first response parsing, and a
// circuit breaker guarding the remote service.
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/config"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/edgeerr"
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/observability"
)

// Settings describes one REST client tag
type Settings struct {
	BaseURL      string            `mapstructure:"url"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Headers      map[string]string `mapstructure:"headers"`
	VerifyTLS    *bool             `mapstructure:"verify_tls"`
	CABundle     string            `mapstructure:"ca_bundle"`
	RaiseOnError *bool             `mapstructure:"raise_on_error"`
}

// Validate checks the required fields and fills defaults
func (s *Settings) Validate(tag string) error {
	if s.BaseURL == "" {
		return edgeerr.NewConfigError(tag, "url is required")
	}
	if _, err := url.Parse(s.BaseURL); err != nil {
		return edgeerr.NewConfigError(tag, "bad url: %v", err)
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	return nil
}

// Response is the parsed reply of one call. JSON bodies land in JSON,
// everything else in Text.
type Response struct {
	Status  int
	Headers http.Header
	JSON    interface{}
	Text    string
	IsJSON  bool
}

// Decode re-decodes the raw body into target; only valid for JSON replies
func (r *Response) Decode(target interface{}) error {
	if !r.IsJSON {
		return fmt.Errorf("response is not JSON")
	}
	return json.Unmarshal([]byte(r.Text), target)
}

// HTTPError is returned for 4xx/5xx replies when RaiseOnError is in effect
type HTTPError struct {
	Status   int
	Response *Response
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// RequestOptions customizes one call
type RequestOptions struct {
	Headers map[string]string
	Query   map[string]string
	// Body is JSON-encoded unless it is a []byte, which is sent raw
	Body interface{}
	// RaiseOnError overrides the client-level setting for this call
	RaiseOnError *bool
}

// Client is the outbound HTTP connector for one configuration tag
type Client struct {
	tag      string
	settings Settings
	logger   observability.Logger
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// New builds a client from the options view anchored at the tag. TLS
// material problems are a construction failure.
func New(tag string, opts *config.Options, logger observability.Logger) (*Client, error) {
	if opts == nil || opts.IsEmpty() {
		return nil, edgeerr.NewConfigError(tag, "tag not configured")
	}
	var settings Settings
	if err := opts.Unmarshal(&settings); err != nil {
		return nil, edgeerr.NewConfigError(tag, "%v", err)
	}
	if err := settings.Validate(tag); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewLogger("restclient")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsCfg := &tls.Config{}
	if settings.VerifyTLS != nil && !*settings.VerifyTLS {
		tlsCfg.InsecureSkipVerify = true
	}
	if settings.CABundle != "" {
		pem, err := os.ReadFile(settings.CABundle)
		if err != nil {
			return nil, edgeerr.NewConfigError(tag, "ca bundle unreadable: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, edgeerr.NewConfigError(tag, "ca bundle has no certificates")
		}
		tlsCfg.RootCAs = pool
	}
	transport.TLSClientConfig = tlsCfg

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "restclient:" + tag,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		tag:      tag,
		settings: settings,
		logger:   logger.With(map[string]interface{}{"tag": tag}),
		http:     &http.Client{Timeout: settings.Timeout, Transport: transport},
		breaker:  breaker,
	}, nil
}

// Tag returns the configuration tag this client was built from
func (c *Client) Tag() string { return c.tag }

// Get issues a GET request
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, opts)
}

// Post issues a POST request
func (c *Client) Post(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, opts)
}

// Put issues a PUT request
func (c *Client) Put(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, opts)
}

// Patch issues a PATCH request
func (c *Client) Patch(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, opts)
}

// Delete issues a DELETE request
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, opts)
}

func (c *Client) do(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	target, err := c.buildURL(path, opts.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	if opts.Body != nil {
		switch b := opts.Body.(type) {
		case []byte:
			body = bytes.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json; charset=utf-8"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.settings.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return c.parse(resp)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}

	response := result.(*Response)
	if c.raise(opts) && response.Status >= http.StatusBadRequest {
		return response, &HTTPError{Status: response.Status, Response: response}
	}
	return response, nil
}

func (c *Client) raise(opts *RequestOptions) bool {
	if opts.RaiseOnError != nil {
		return *opts.RaiseOnError
	}
	if c.settings.RaiseOnError != nil {
		return *c.settings.RaiseOnError
	}
	return true
}

func (c *Client) buildURL(path string, query map[string]string) (string, error) {
	joined, err := url.JoinPath(c.settings.BaseURL, path)
	if err != nil {
		return "", fmt.Errorf("join url %q: %w", path, err)
	}
	if len(query) == 0 {
		return joined, nil
	}
	u, err := url.Parse(joined)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parse reads the body and decodes JSON replies, falling back to text
func (c *Client) parse(resp *http.Response) (*Response, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Text:    string(raw),
	}
	// Decode is attempted on every body; servers routinely mislabel JSON
	// replies, so the content type is not consulted.
	if len(raw) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err == nil {
			out.JSON = decoded
			out.IsJSON = true
		}
	}
	return out, nil
}
