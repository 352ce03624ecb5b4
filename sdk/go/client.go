package missionlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"missionline/internal/domain"
	"missionline/internal/wizard"
)

// Client is a minimal missionline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

var _ wizard.Submitter = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Pricing is the wire form of a price breakdown.
type Pricing struct {
	Model               string   `json:"model,omitempty"`
	TotalCostUSD        float64  `json:"total_cost_usd"`
	TotalCostHonors     int64    `json:"total_cost_honors"`
	PerUserHonors       int64    `json:"per_user_honors,omitempty"`
	UserPoolHonors      int64    `json:"user_pool_honors,omitempty"`
	PerWinnerHonors     int64    `json:"per_winner_honors,omitempty"`
	PoolRemainderHonors int64    `json:"pool_remainder_honors,omitempty"`
	UnpricedTasks       []string `json:"unpriced_tasks,omitempty"`
}

// Domain converts the wire price, rounding USD to cents.
func (p Pricing) Domain() domain.PricingResult {
	return domain.PricingResult{
		Model:               domain.Model(p.Model),
		TotalCostUSD:        decimal.NewFromFloat(p.TotalCostUSD).Round(2),
		TotalCostHonors:     p.TotalCostHonors,
		PerUserHonors:       p.PerUserHonors,
		UserPoolHonors:      p.UserPoolHonors,
		PerWinnerHonors:     p.PerWinnerHonors,
		PoolRemainderHonors: p.PoolRemainderHonors,
		UnpricedTasks:       p.UnpricedTasks,
	}
}

func pricingFromDomain(p domain.PricingResult) Pricing {
	return Pricing{
		Model:               string(p.Model),
		TotalCostUSD:        p.TotalCostUSD.InexactFloat64(),
		TotalCostHonors:     p.TotalCostHonors,
		PerUserHonors:       p.PerUserHonors,
		UserPoolHonors:      p.UserPoolHonors,
		PerWinnerHonors:     p.PerWinnerHonors,
		PoolRemainderHonors: p.PoolRemainderHonors,
		UnpricedTasks:       p.UnpricedTasks,
	}
}

// Mission is the API mission model.
type Mission struct {
	ID        string                `json:"id"`
	CreatorID string                `json:"creator_id"`
	Status    string                `json:"status"`
	Request   domain.MissionRequest `json:"request"`
	Pricing   Pricing               `json:"pricing"`
	CreatedAt string                `json:"created_at"`
}

func (m Mission) Domain() domain.Mission {
	return domain.Mission{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		Status:    m.Status,
		Request:   m.Request,
		Pricing:   m.Pricing.Domain(),
		CreatedAt: m.CreatedAt,
	}
}

// TaskPrice is one catalog task.
type TaskPrice struct {
	ID          string `json:"id"`
	PriceHonors int64  `json:"price_honors"`
}

// Catalog mirrors GET /catalog.
type Catalog struct {
	Platforms []struct {
		Platform string `json:"platform"`
		Types    []struct {
			Type  string      `json:"type"`
			Tasks []TaskPrice `json:"tasks"`
		} `json:"types"`
	} `json:"platforms"`
	HonorsPerUSD      float64 `json:"honors_per_usd"`
	PremiumMultiplier float64 `json:"premium_multiplier"`
	MinFixedCap       int     `json:"min_fixed_cap"`
	MaxFixedCap       int     `json:"max_fixed_cap"`
	FixedCapTiers     []int   `json:"fixed_cap_tiers"`
}

// Tasks returns the tasks offered for a platform and type.
func (c Catalog) Tasks(platform, missionType string) []TaskPrice {
	for _, p := range c.Platforms {
		if p.Platform != platform {
			continue
		}
		for _, t := range p.Types {
			if t.Type == missionType {
				return t.Tasks
			}
		}
	}
	return nil
}

// DegenCheck is the result of POST /degen/validate.
type DegenCheck struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code, Message and Details come from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string, roles ...string) (string, error) {
	body := map[string]any{"actor_id": actorID}
	if len(roles) > 0 {
		body["roles"] = roles
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// Catalog fetches the task catalog and pricing constants.
func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var resp Catalog
	err := c.do(ctx, http.MethodGet, "catalog", nil, &resp)
	return resp, err
}

// Presets fetches the degen preset table.
func (c *Client) Presets(ctx context.Context) ([]domain.DegenPreset, error) {
	var resp struct {
		Items []domain.DegenPreset `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "degen/presets", nil, &resp)
	return resp.Items, err
}

// ValidateDegen checks a duration and winners cap on the server.
func (c *Client) ValidateDegen(ctx context.Context, durationHours, winnersCap int) (DegenCheck, error) {
	var resp DegenCheck
	err := c.do(ctx, http.MethodPost, "degen/validate", map[string]int{
		"duration_hours": durationHours,
		"winners_cap":    winnersCap,
	}, &resp)
	return resp, err
}

// Quote prices a request without creating a mission.
func (c *Client) Quote(ctx context.Context, req domain.MissionRequest) (Pricing, error) {
	var resp Pricing
	err := c.do(ctx, http.MethodPost, "pricing/quote", req, &resp)
	return resp, err
}

// CreateMission creates a mission. It satisfies wizard.Submitter.
func (c *Client) CreateMission(ctx context.Context, req domain.MissionRequest) (domain.Mission, error) {
	m, err := c.CreateMissionWithQuote(ctx, req, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	return m.Domain(), nil
}

// CreateMissionWithQuote sends the price the user saw along with the
// request. The server logs disagreements and returns its own price.
func (c *Client) CreateMissionWithQuote(ctx context.Context, req domain.MissionRequest, quote *domain.PricingResult) (Mission, error) {
	body := struct {
		domain.MissionRequest
		ClientQuote *Pricing `json:"client_quote,omitempty"`
	}{MissionRequest: req}
	if quote != nil {
		p := pricingFromDomain(*quote)
		body.ClientQuote = &p
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", body, &resp)
	return resp, err
}

// GetMission fetches one of the caller's missions.
func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListMissions lists the caller's missions, newest first.
func (c *Client) ListMissions(ctx context.Context, limit int) ([]Mission, error) {
	endpoint := "missions"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Mission `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EventsPage returns a paginated event listing. Requires the admin role.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
