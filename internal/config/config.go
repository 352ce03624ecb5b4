package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"missionline/internal/domain"
)

const (
	UnknownTasksReject = "reject"
	UnknownTasksZero   = "zero"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	// DefaultMaxFixedCap applies when max_fixed_cap is unset.
	DefaultMaxFixedCap = 1000000
)

// Config models missionline.yml.
type Config struct {
	Pricing  Pricing                                `yaml:"pricing"`
	Catalog  map[string]map[string]map[string]int64 `yaml:"catalog"`
	Degen    Degen                                  `yaml:"degen"`
	Wizard   Wizard                                 `yaml:"wizard"`
	Server   Server                                 `yaml:"server"`
	Log      Log                                    `yaml:"log"`
	Webhooks []WebhookConfig                        `yaml:"webhooks"`
}

type Degen struct {
	Presets []domain.DegenPreset `yaml:"presets"`
}

// Pricing holds the tunable pricing constants.
type Pricing struct {
	HonorsPerUSD      float64 `yaml:"honors_per_usd"`
	PremiumMultiplier float64 `yaml:"premium_multiplier"`
	DegenPoolFactor   float64 `yaml:"degen_pool_factor"`
	MinFixedCap       int     `yaml:"min_fixed_cap"`
	MaxFixedCap       int     `yaml:"max_fixed_cap"`
	FixedCapTiers     []int   `yaml:"fixed_cap_tiers"`
	UnknownTasks      string  `yaml:"unknown_tasks"`
}

type Wizard struct {
	MinInstructions int    `yaml:"min_instructions"`
	AutoAdvance     bool   `yaml:"auto_advance"`
	Store           string `yaml:"store"`
	Redis           struct {
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"redis"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ml config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Presets are sorted by
// hours as a side effect.
func (c *Config) Validate() error {
	p := c.Pricing
	if p.HonorsPerUSD <= 0 {
		return fmt.Errorf("pricing.honors_per_usd must be positive")
	}
	if p.PremiumMultiplier < 1 {
		return fmt.Errorf("pricing.premium_multiplier must be at least 1")
	}
	if p.DegenPoolFactor <= 0 || p.DegenPoolFactor > 1 {
		return fmt.Errorf("pricing.degen_pool_factor must be in (0,1]")
	}
	if p.MinFixedCap < 1 {
		return fmt.Errorf("pricing.min_fixed_cap must be at least 1")
	}
	if p.MaxFixedCap < p.MinFixedCap {
		return fmt.Errorf("pricing.max_fixed_cap %d is below min_fixed_cap %d", p.MaxFixedCap, p.MinFixedCap)
	}
	for _, tier := range p.FixedCapTiers {
		if tier < p.MinFixedCap || tier > p.MaxFixedCap {
			return fmt.Errorf("pricing.fixed_cap_tiers entry %d is outside [%d, %d]", tier, p.MinFixedCap, p.MaxFixedCap)
		}
	}
	switch p.UnknownTasks {
	case "", UnknownTasksReject, UnknownTasksZero:
	default:
		return fmt.Errorf("pricing.unknown_tasks must be %q or %q", UnknownTasksReject, UnknownTasksZero)
	}
	if len(c.Catalog) == 0 {
		return fmt.Errorf("catalog is required")
	}
	for platform, types := range c.Catalog {
		if !domain.Platform(platform).Valid() {
			return fmt.Errorf("catalog has unknown platform %s", platform)
		}
		for typ, tasks := range types {
			if !domain.MissionType(typ).Valid() {
				return fmt.Errorf("catalog.%s has unknown mission type %s", platform, typ)
			}
			if len(tasks) == 0 {
				return fmt.Errorf("catalog.%s.%s has no tasks", platform, typ)
			}
			for task, price := range tasks {
				if task == "" {
					return fmt.Errorf("catalog.%s.%s has empty task id", platform, typ)
				}
				if price <= 0 {
					return fmt.Errorf("catalog.%s.%s.%s must have a positive price", platform, typ, task)
				}
			}
		}
	}
	if len(c.Degen.Presets) == 0 {
		return fmt.Errorf("degen.presets is required")
	}
	sort.SliceStable(c.Degen.Presets, func(i, j int) bool { return c.Degen.Presets[i].Hours < c.Degen.Presets[j].Hours })
	for i, preset := range c.Degen.Presets {
		if preset.Hours <= 0 {
			return fmt.Errorf("degen preset %d has non-positive hours", i)
		}
		if i > 0 && c.Degen.Presets[i-1].Hours == preset.Hours {
			return fmt.Errorf("degen preset hours %d is duplicated", preset.Hours)
		}
		if preset.CostUSD <= 0 {
			return fmt.Errorf("degen preset %dh must have a positive cost", preset.Hours)
		}
		if preset.MaxWinners < 1 {
			return fmt.Errorf("degen preset %dh must allow at least one winner", preset.Hours)
		}
	}
	if c.Wizard.MinInstructions < 1 {
		return fmt.Errorf("wizard.min_instructions must be at least 1")
	}
	switch c.Wizard.Store {
	case "", StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Wizard.Redis.Addr == "" {
			return fmt.Errorf("wizard.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("wizard.store must be one of memory, sqlite, redis")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "missionline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Pricing.UnknownTasks == "" {
		cfg.Pricing.UnknownTasks = UnknownTasksReject
	}
	if cfg.Pricing.MaxFixedCap == 0 {
		cfg.Pricing.MaxFixedCap = DefaultMaxFixedCap
	}
	if cfg.Wizard.Store == "" {
		cfg.Wizard.Store = StoreSQLite
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `pricing:
  honors_per_usd: 450
  premium_multiplier: 5
  # half of a degen mission's cost funds the winner pool
  degen_pool_factor: 0.5
  min_fixed_cap: 60
  max_fixed_cap: 1000000
  fixed_cap_tiers: [100, 200, 500]
  unknown_tasks: reject

catalog:
  twitter:
    engage:
      like: 50
      retweet: 100
      comment: 150
      quote: 200
      follow: 250
    content:
      meme: 300
      thread: 500
      article: 400
      video_reel: 600
      quote_blog: 300
    ambassador:
      pfp: 250
      name_bio_keywords: 200
      pinned_tweet: 300
      poll: 150
      spaces: 800
      community_raid: 400
  instagram:
    engage:
      like: 50
      comment: 150
      follow: 250
      story_repost: 200
    content:
      feed_post: 300
      reel: 500
      carousel: 400
      meme: 250
    ambassador:
      pfp: 250
      hashtag_in_bio: 200
      story_highlight: 300
  tiktok:
    engage:
      like: 50
      comment: 150
      repost_duet: 300
      follow: 250
    content:
      skit: 500
      challenge: 400
      product_review: 600
      status_style: 300
    ambassador:
      pfp: 250
      hashtag_in_bio: 200
      pinned_branded_video: 300
  facebook:
    engage:
      like: 50
      comment: 150
      follow: 250
      share_post: 200
    content:
      group_post: 300
      video: 500
      meme_flyer: 250
    ambassador:
      pfp: 250
      bio_keyword: 200
      pinned_post: 300
  whatsapp:
    engage:
      status_repost: 200
      group_share: 250
    content:
      status_post: 300
      broadcast_message: 400
    ambassador:
      pfp: 250
      about_keyword: 200
  snapchat:
    engage:
      story_repost: 200
      follow: 250
    content:
      story_post: 300
      spotlight_video: 500
    ambassador:
      pfp: 250
      bio_keyword: 200
  telegram:
    engage:
      join_channel: 200
      react_post: 50
      share_post: 150
    content:
      channel_post: 300
      group_pin: 250
    ambassador:
      pfp: 250
      bio_keyword: 200
  custom:
    engage:
      custom_action: 100
    content:
      custom_content: 300
    ambassador:
      custom_ambassador: 250

degen:
  presets:
    - {hours: 1, cost_usd: 15, max_winners: 1, label: "1 Hour"}
    - {hours: 3, cost_usd: 30, max_winners: 2, label: "3 Hours"}
    - {hours: 6, cost_usd: 80, max_winners: 3, label: "6 Hours"}
    - {hours: 8, cost_usd: 150, max_winners: 3, label: "8 Hours"}
    - {hours: 12, cost_usd: 180, max_winners: 5, label: "12 Hours"}
    - {hours: 18, cost_usd: 300, max_winners: 5, label: "18 Hours"}
    - {hours: 24, cost_usd: 400, max_winners: 5, label: "1 Day"}
    - {hours: 36, cost_usd: 500, max_winners: 10, label: "36 Hours"}
    - {hours: 48, cost_usd: 600, max_winners: 10, label: "2 Days"}
    - {hours: 72, cost_usd: 800, max_winners: 10, label: "3 Days"}
    - {hours: 96, cost_usd: 1000, max_winners: 10, label: "4 Days"}
    - {hours: 168, cost_usd: 1500, max_winners: 15, label: "1 Week"}
    - {hours: 240, cost_usd: 2000, max_winners: 20, label: "10 Days"}
    - {hours: 336, cost_usd: 3000, max_winners: 25, label: "2 Weeks"}
    - {hours: 504, cost_usd: 4000, max_winners: 25, label: "3 Weeks"}
    - {hours: 720, cost_usd: 5000, max_winners: 25, label: "1 Month"}

wizard:
  min_instructions: 10
  auto_advance: true
  store: sqlite
  redis:
    addr: ""
    db: 0
    ttl_seconds: 604800

server:
  addr: 127.0.0.1:8080
  base_path: /v1

log:
  level: info
  format: json
`
