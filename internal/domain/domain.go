package domain

import (
	"github.com/shopspring/decimal"
)

type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformFacebook  Platform = "facebook"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformSnapchat  Platform = "snapchat"
	PlatformTelegram  Platform = "telegram"
	PlatformCustom    Platform = "custom"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformTwitter,
	PlatformInstagram,
	PlatformTikTok,
	PlatformFacebook,
	PlatformWhatsApp,
	PlatformSnapchat,
	PlatformTelegram,
	PlatformCustom,
}

func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

type MissionType string

const (
	TypeEngage     MissionType = "engage"
	TypeContent    MissionType = "content"
	TypeAmbassador MissionType = "ambassador"
)

var MissionTypes = []MissionType{TypeEngage, TypeContent, TypeAmbassador}

func (t MissionType) Valid() bool {
	for _, known := range MissionTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Model string

const (
	ModelFixed Model = "fixed"
	ModelDegen Model = "degen"
)

func (m Model) Valid() bool { return m == ModelFixed || m == ModelDegen }

type Audience string

const (
	AudienceAll     Audience = "all"
	AudiencePremium Audience = "premium"
)

func (a Audience) Valid() bool { return a == AudienceAll || a == AudiencePremium }

// MissionRequest is the normalized mission definition submitted for
// pricing and creation. Cap applies to fixed missions; DurationHours and
// WinnersCap apply to degen missions.
type MissionRequest struct {
	Model         Model       `json:"model"`
	Platform      Platform    `json:"platform"`
	Type          MissionType `json:"type"`
	Audience      Audience    `json:"audience,omitempty"`
	Tasks         []string    `json:"tasks"`
	Cap           int         `json:"cap,omitempty"`
	DurationHours int         `json:"duration_hours,omitempty"`
	WinnersCap    int         `json:"winners_cap,omitempty"`
	Instructions  string      `json:"instructions"`
	ContentLink   string      `json:"content_link,omitempty"`
}

// Premium reports whether the request targets premium users.
func (r MissionRequest) Premium() bool { return r.Audience == AudiencePremium }

// PricingResult is the cost breakdown of a mission. Honors amounts are whole
// units; TotalCostUSD is rounded to cents.
type PricingResult struct {
	Model               Model           `json:"model"`
	TotalCostUSD        decimal.Decimal `json:"total_cost_usd"`
	TotalCostHonors     int64           `json:"total_cost_honors"`
	PerUserHonors       int64           `json:"per_user_honors,omitempty"`
	UserPoolHonors      int64           `json:"user_pool_honors,omitempty"`
	PerWinnerHonors     int64           `json:"per_winner_honors,omitempty"`
	PoolRemainderHonors int64           `json:"pool_remainder_honors,omitempty"`
	UnpricedTasks       []string        `json:"unpriced_tasks,omitempty"`
}

// DegenPreset is one row of the fixed duration/cost/winners table.
type DegenPreset struct {
	Hours      int     `json:"hours" yaml:"hours"`
	CostUSD    float64 `json:"cost_usd" yaml:"cost_usd"`
	MaxWinners int     `json:"max_winners" yaml:"max_winners"`
	Label      string  `json:"label" yaml:"label"`
}

type Mission struct {
	ID        string         `json:"id"`
	CreatorID string         `json:"creator_id"`
	Status    string         `json:"status" enum:"active,paused,completed"`
	Request   MissionRequest `json:"request"`
	Pricing   PricingResult  `json:"pricing"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
