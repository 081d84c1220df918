package perfctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/medrank/internal/domain/types"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client talks to the medrank HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// RecommendParams mirrors the /recommendations query.
type RecommendParams struct {
	TreatmentID   int64
	Country       string
	Language      string
	Limit         int
	MinScore      *float64
	MinSampleSize int
}

func (p RecommendParams) values() url.Values {
	v := url.Values{}
	if p.TreatmentID > 0 {
		v.Set("treatment_id", strconv.FormatInt(p.TreatmentID, 10))
	}
	if p.Country != "" {
		v.Set("country", p.Country)
	}
	if p.Language != "" {
		v.Set("language", p.Language)
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.MinScore != nil {
		v.Set("min_score", strconv.FormatFloat(*p.MinScore, 'f', -1, 64))
	}
	if p.MinSampleSize > 0 {
		v.Set("min_sample_size", strconv.Itoa(p.MinSampleSize))
	}
	return v
}

// Refresh triggers a refresh of period, or of every period when empty.
func (c *Client) Refresh(ctx context.Context, period string, async bool) (types.RefreshResponse, error) {
	v := url.Values{}
	if period != "" {
		v.Set("period", period)
	}
	if async {
		v.Set("async", "true")
		v.Set("reason", "perfctl")
	}
	var out types.RefreshResponse
	return out, c.do(ctx, http.MethodPost, "/refresh", v, &out)
}

// RecomputePrior recomputes the global prior.
func (c *Client) RecomputePrior(ctx context.Context) (types.Prior, error) {
	var out types.Prior
	return out, c.do(ctx, http.MethodPost, "/prior/recompute", nil, &out)
}

// Prior fetches the stored global prior.
func (c *Client) Prior(ctx context.Context) (types.Prior, error) {
	var out types.Prior
	return out, c.do(ctx, http.MethodGet, "/prior", nil, &out)
}

// Hospital fetches a hospital card.
func (c *Client) Hospital(ctx context.Context, id int64) (types.HospitalCard, error) {
	var out types.HospitalCard
	return out, c.do(ctx, http.MethodGet, "/hospitals/"+strconv.FormatInt(id, 10), nil, &out)
}

// Recommend ranks hospitals for a filter.
func (c *Client) Recommend(ctx context.Context, p RecommendParams) (types.Recommendation, error) {
	var out types.Recommendation
	return out, c.do(ctx, http.MethodGet, "/recommendations", p.values(), &out)
}

// Dashboard ranks every hospital for period.
func (c *Client) Dashboard(ctx context.Context, period string) (types.Dashboard, error) {
	v := url.Values{}
	if period != "" {
		v.Set("period", period)
	}
	var out types.Dashboard
	return out, c.do(ctx, http.MethodGet, "/dashboard", v, &out)
}

// Simulate scores the shrinkage scenarios. Nil values use the service defaults.
func (c *Client) Simulate(ctx context.Context, globalRate, m *float64) (types.Simulation, error) {
	v := url.Values{}
	if globalRate != nil {
		v.Set("global_rate", strconv.FormatFloat(*globalRate, 'f', -1, 64))
	}
	if m != nil {
		v.Set("m", strconv.FormatFloat(*m, 'f', -1, 64))
	}
	var out types.Simulation
	return out, c.do(ctx, http.MethodGet, "/simulate", v, &out)
}

// Stats fetches service statistics.
func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	var out types.Stats
	return out, c.do(ctx, http.MethodGet, "/stats", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		ae := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, ae)
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
