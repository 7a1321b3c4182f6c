package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultClientTimeout = 5 * time.Second

// Client talks to a remote registry service over HTTP/JSON.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a registry client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("registry client: invalid base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	c := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FindToken calls GET /agency-tokens?domain=&token=&organisation=.
func (c *Client) FindToken(ctx context.Context, sel TokenSelection) (*AgencyToken, error) {
	sel = sel.Normalize()
	if sel.Token == "" {
		return nil, ErrTokenNotFound
	}

	query := url.Values{}
	query.Set("domain", sel.Domain)
	query.Set("token", sel.Token)
	query.Set("organisation", sel.Organisation)

	var token AgencyToken
	if err := c.get(ctx, "/agency-tokens", query, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetToken calls GET /agency-tokens/{uid}.
func (c *Client) GetToken(ctx context.Context, uid string) (*AgencyToken, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrTokenNotFound
	}

	var token AgencyToken
	if err := c.get(ctx, "/agency-tokens/"+url.PathEscape(uid), nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

type agencyDomainResponse struct {
	Agency bool `json:"agency"`
}

// IsAgencyDomain calls GET /agency-domains/{domain}. A 404 means the domain is not agency-bound.
func (c *Client) IsAgencyDomain(ctx context.Context, domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false, nil
	}

	var resp agencyDomainResponse
	err := c.get(ctx, "/agency-domains/"+url.PathEscape(domain), nil, &resp)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Agency, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = c.baseURL.Path + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrTokenNotFound
	case resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
