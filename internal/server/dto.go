package server

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"missionline/internal/domain"
	"missionline/internal/pricing"
	"missionline/internal/wizard"
)

// Request payloads

// MissionRequestBody leaves every field optional in the schema so that
// missing values are reported per field by mission validation.
type MissionRequestBody struct {
	Model         string   `json:"model,omitempty" doc:"fixed or degen"`
	Platform      string   `json:"platform,omitempty"`
	Type          string   `json:"type,omitempty" doc:"engage, content or ambassador"`
	Audience      string   `json:"audience,omitempty" doc:"all or premium"`
	IsPremium     *bool    `json:"is_premium,omitempty" doc:"Shorthand for audience=premium; audience wins when both are set"`
	Tasks         []string `json:"tasks,omitempty"`
	Cap           int      `json:"cap,omitempty"`
	DurationHours int      `json:"duration_hours,omitempty"`
	WinnersCap    int      `json:"winners_cap,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	ContentLink   string   `json:"content_link,omitempty"`
}

type CreateMissionRequest struct {
	MissionRequestBody
	ClientQuote *PricingResponse `json:"client_quote,omitempty" doc:"Price shown to the user; informational only"`
}

type DegenValidateRequest struct {
	DurationHours int `json:"duration_hours"`
	WinnersCap    int `json:"winners_cap"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type PricingResponse struct {
	Model               string   `json:"model,omitempty" enum:"fixed,degen"`
	TotalCostUSD        float64  `json:"total_cost_usd"`
	TotalCostHonors     int64    `json:"total_cost_honors"`
	PerUserHonors       int64    `json:"per_user_honors,omitempty"`
	UserPoolHonors      int64    `json:"user_pool_honors,omitempty"`
	PerWinnerHonors     int64    `json:"per_winner_honors,omitempty"`
	PoolRemainderHonors int64    `json:"pool_remainder_honors,omitempty"`
	UnpricedTasks       []string `json:"unpriced_tasks,omitempty"`
}

type MissionResponse struct {
	ID        string                `json:"id"`
	CreatorID string                `json:"creator_id"`
	Status    string                `json:"status" enum:"active,paused,completed"`
	Request   domain.MissionRequest `json:"request"`
	Pricing   PricingResponse       `json:"pricing"`
	CreatedAt string                `json:"created_at" format:"date-time"`
}

type TaskPrice struct {
	ID          string `json:"id"`
	PriceHonors int64  `json:"price_honors"`
}

type CatalogType struct {
	Type  string      `json:"type"`
	Tasks []TaskPrice `json:"tasks"`
}

type CatalogPlatform struct {
	Platform string        `json:"platform"`
	Types    []CatalogType `json:"types"`
}

type CatalogResponse struct {
	Platforms         []CatalogPlatform `json:"platforms"`
	HonorsPerUSD      float64           `json:"honors_per_usd"`
	PremiumMultiplier float64           `json:"premium_multiplier"`
	MinFixedCap       int               `json:"min_fixed_cap"`
	MaxFixedCap       int               `json:"max_fixed_cap"`
	FixedCapTiers     []int             `json:"fixed_cap_tiers"`
}

type PresetsResponse struct {
	Items []domain.DegenPreset `json:"items"`
}

type DegenValidateResponse struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

type WizardStateResponse struct {
	ID             string           `json:"id"`
	Fields         wizard.Fields    `json:"fields"`
	CurrentStep    int              `json:"current_step" minimum:"1" maximum:"7"`
	StepName       string           `json:"step_name"`
	StepValidation map[string]bool  `json:"step_validation"`
	Pricing        *PricingResponse `json:"pricing,omitempty"`
	PricingError   string           `json:"pricing_error,omitempty"`
	Submitting     bool             `json:"submitting"`
	AvailableTasks []TaskPrice      `json:"available_tasks"`
}

type WizardSubmitResponse struct {
	Mission MissionResponse     `json:"mission"`
	State   WizardStateResponse `json:"state"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Shown once"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedMissions struct {
	Items []MissionResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func (b MissionRequestBody) toDomain() domain.MissionRequest {
	audience := domain.Audience(b.Audience)
	if audience == "" && b.IsPremium != nil {
		audience = domain.AudienceAll
		if *b.IsPremium {
			audience = domain.AudiencePremium
		}
	}
	return domain.MissionRequest{
		Model:         domain.Model(b.Model),
		Platform:      domain.Platform(b.Platform),
		Type:          domain.MissionType(b.Type),
		Audience:      audience,
		Tasks:         b.Tasks,
		Cap:           b.Cap,
		DurationHours: b.DurationHours,
		WinnersCap:    b.WinnersCap,
		Instructions:  b.Instructions,
		ContentLink:   b.ContentLink,
	}
}

func pricingResponse(p domain.PricingResult) PricingResponse {
	return PricingResponse{
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

func (p PricingResponse) toDomain() domain.PricingResult {
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

func missionResponse(m domain.Mission) MissionResponse {
	return MissionResponse{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		Status:    m.Status,
		Request:   m.Request,
		Pricing:   pricingResponse(m.Pricing),
		CreatedAt: m.CreatedAt,
	}
}

func mapMissions(items []domain.Mission) []MissionResponse {
	out := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		out = append(out, missionResponse(m))
	}
	return out
}

func taskPrices(c pricing.Catalog, platform domain.Platform, missionType domain.MissionType) []TaskPrice {
	out := []TaskPrice{}
	for _, id := range c.TaskIDs(platform, missionType) {
		price, _ := c.Price(platform, missionType, id)
		out = append(out, TaskPrice{ID: id, PriceHonors: price})
	}
	return out
}

func catalogResponse(e *pricing.Engine) CatalogResponse {
	settings := e.Settings()
	c := e.Catalog()
	resp := CatalogResponse{
		Platforms:         []CatalogPlatform{},
		HonorsPerUSD:      settings.HonorsPerUSD,
		PremiumMultiplier: settings.PremiumMultiplier,
		MinFixedCap:       settings.MinFixedCap,
		MaxFixedCap:       settings.MaxFixedCap,
		FixedCapTiers:     nonNilSlice(settings.FixedCapTiers),
	}
	for _, p := range c.Platforms() {
		entry := CatalogPlatform{Platform: string(p), Types: []CatalogType{}}
		for _, t := range c.Types(p) {
			entry.Types = append(entry.Types, CatalogType{Type: string(t), Tasks: taskPrices(c, p, t)})
		}
		resp.Platforms = append(resp.Platforms, entry)
	}
	return resp
}

func wizardStateResponse(id string, st wizard.State, tasks map[string]int64) WizardStateResponse {
	resp := WizardStateResponse{
		ID:             id,
		Fields:         st.Fields,
		CurrentStep:    int(st.CurrentStep),
		StepName:       st.CurrentStep.String(),
		StepValidation: make(map[string]bool, len(st.StepValidation)),
		PricingError:   st.PricingError,
		Submitting:     st.Submitting,
		AvailableTasks: []TaskPrice{},
	}
	for step, ok := range st.StepValidation {
		resp.StepValidation[step.String()] = ok
	}
	if st.Pricing != nil {
		p := pricingResponse(*st.Pricing)
		resp.Pricing = &p
	}
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		resp.AvailableTasks = append(resp.AvailableTasks, TaskPrice{ID: id, PriceHonors: tasks[id]})
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = map[string]any{"raw": e.Payload}
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
