package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RawDataset is one package as returned by CKAN package_search.
type RawDataset struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Maintainer   string          `json:"maintainer"`
	Organization RawOrganization `json:"organization"`
	Groups       []RawGroup      `json:"groups"`
	Resources    []RawResource   `json:"resources"`
}

// RawOrganization is the owning organization of a package.
type RawOrganization struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// RawGroup is a CKAN group, used by the catalog as a theme.
type RawGroup struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// RawResource is a CKAN resource, i.e. a distribution.
type RawResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Page is one decoded package_search listing.
type Page struct {
	Start   int          `json:"start"`
	Count   int          `json:"count"`
	Results []RawDataset `json:"results"`
}

// ClientConfig configures the CKAN listing client.
type ClientConfig struct {
	// BaseURL is the catalog root, e.g. https://datos.gob.ar.
	BaseURL string `yaml:"base_url"`
	// Rows is the page size requested from package_search. Default: 1000.
	Rows int `yaml:"rows"`
	// Pages caps the number of pages fetched per run. Paging stops earlier
	// once the reported count is covered. Default: 2.
	Pages int `yaml:"pages"`
	// Timeout bounds each listing request. Default: 2m.
	Timeout time.Duration `yaml:"timeout"`
	// MaxBytes caps a listing body. Default: 256MB.
	MaxBytes int64 `yaml:"max_bytes"`
}

func (c *ClientConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://datos.gob.ar"
	}
	if c.Rows <= 0 {
		c.Rows = 1000
	}
	if c.Pages <= 0 {
		c.Pages = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 << 20
	}
}

// Client fetches the full catalog listing. Listing failures have no
// partial-success mode: any page error fails the whole fetch.
type Client struct {
	http   *http.Client
	config ClientConfig
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, opts ...ClientOption) *Client {
	cfg.defaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{http: httpClient, config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchPages requests consecutive package_search pages of Rows rows until
// the reported count is covered or Pages pages were fetched. A catalog
// larger than Rows*Pages is truncated with a warning.
func (c *Client) FetchPages(ctx context.Context) ([]Page, error) {
	pages := make([]Page, 0, c.config.Pages)
	for i := 0; i < c.config.Pages; i++ {
		start := i * c.config.Rows
		p, err := c.fetchPage(ctx, start)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
		if start+c.config.Rows >= p.Count {
			return pages, nil
		}
	}
	if last := pages[len(pages)-1]; last.Count > c.config.Rows*c.config.Pages {
		c.logger.Warn("catalog: listing truncated",
			"count", last.Count, "rows", c.config.Rows, "pages", c.config.Pages)
	}
	return pages, nil
}

func (c *Client) searchURL(start int) (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("catalog: base url: %w", err)
	}
	u = u.JoinPath("api", "3", "action", "package_search")
	q := u.Query()
	q.Set("rows", strconv.Itoa(c.config.Rows))
	if start > 0 {
		q.Set("start", strconv.Itoa(start))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchPage(ctx context.Context, start int) (Page, error) {
	target, err := c.searchURL(start)
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, fmt.Errorf("catalog: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("catalog: package_search start=%d: %w", start, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("catalog: package_search start=%d: http %d", start, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("catalog: read body: %w", err)
	}

	var envelope struct {
		Success bool `json:"success"`
		Result  struct {
			Count   int          `json:"count"`
			Results []RawDataset `json:"results"`
		} `json:"result"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, fmt.Errorf("catalog: json decode: %w", err)
	}
	if !envelope.Success {
		return Page{}, fmt.Errorf("catalog: package_search start=%d: unsuccessful response: %s", start, string(envelope.Error))
	}
	return Page{Start: start, Count: envelope.Result.Count, Results: envelope.Result.Results}, nil
}
