// Package engine is the authoritative side of mission creation: it
// re-validates and re-prices requests, persists missions and writes the
// event log.
package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"missionline/internal/config"
	"missionline/internal/degen"
	"missionline/internal/domain"
	"missionline/internal/events"
	"missionline/internal/metrics"
	"missionline/internal/pricing"
	"missionline/internal/repo"
	"missionline/internal/validate"
	"missionline/internal/wizard"
)

const StatusActive = "active"

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Pricing *pricing.Engine
	Rules   validate.Rules
	Logger  *zap.Logger
	Now     func() time.Time
}

// New wires an engine over an open, migrated database.
func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pe, err := pricing.FromConfig(cfg, pricing.WithLogger(logger.Named("pricing")))
	if err != nil {
		return Engine{}, err
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Config:  cfg,
		Pricing: pe,
		Rules:   validate.RulesFromConfig(cfg),
		Logger:  logger,
		Now:     time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) Presets() degen.Table { return e.Pricing.Presets() }

// ValidateDegen checks a duration and winners cap against the preset table.
func (e Engine) ValidateDegen(durationHours, winnersCap int) degen.Result {
	return e.Presets().Validate(durationHours, winnersCap)
}

// normalize defaults the audience and drops repeated task ids.
func normalize(req domain.MissionRequest) domain.MissionRequest {
	if req.Audience == "" {
		req.Audience = domain.AudienceAll
	}
	seen := make(map[string]bool, len(req.Tasks))
	var tasks []string
	for _, id := range req.Tasks {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		tasks = append(tasks, id)
	}
	req.Tasks = tasks
	switch req.Model {
	case domain.ModelFixed:
		req.DurationHours, req.WinnersCap = 0, 0
	case domain.ModelDegen:
		req.Cap = 0
	}
	return req
}

// Quote prices a request for display. Degen settings are checked first.
func (e Engine) Quote(req domain.MissionRequest) (domain.PricingResult, error) {
	req = normalize(req)
	if req.Model == domain.ModelDegen {
		if err := e.ValidateDegen(req.DurationHours, req.WinnersCap).Err(); err != nil {
			return domain.PricingResult{}, err
		}
	}
	return e.Pricing.Calculate(req)
}

// CreateMissionOptions are parameters for creating a mission.
type CreateMissionOptions struct {
	Request   domain.MissionRequest
	CreatorID string
	// ClientQuote is the price the client showed the user, if any. It is
	// compared with the server price and never used for the charge.
	ClientQuote *domain.PricingResult
	// SessionID names the wizard session that submitted the request.
	SessionID string
}

// CreateMission validates, prices and stores a mission in one transaction.
func (e Engine) CreateMission(ctx context.Context, opts CreateMissionOptions) (domain.Mission, error) {
	if strings.TrimSpace(opts.CreatorID) == "" {
		return domain.Mission{}, errors.New("creator is required")
	}
	req := normalize(opts.Request)
	if req.Model == domain.ModelDegen {
		if err := e.ValidateDegen(req.DurationHours, req.WinnersCap).Err(); err != nil {
			return domain.Mission{}, err
		}
	}
	if err := validate.Request(req, e.Rules, e.Presets()); err != nil {
		return domain.Mission{}, err
	}
	price, err := e.Pricing.Calculate(req)
	if err != nil {
		return domain.Mission{}, err
	}

	m := domain.Mission{
		ID:        uuid.NewString(),
		CreatorID: opts.CreatorID,
		Status:    StatusActive,
		Request:   req,
		Pricing:   price,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.MissionCreated, events.EntityMission, m.ID, m.CreatorID, events.Payload{
		"model":             req.Model,
		"platform":          req.Platform,
		"type":              req.Type,
		"audience":          req.Audience,
		"total_cost_honors": price.TotalCostHonors,
		"total_cost_usd":    price.TotalCostUSD.StringFixed(2),
	}); err != nil {
		return domain.Mission{}, err
	}
	if len(price.UnpricedTasks) > 0 {
		if err := e.eventWriter().Append(ctx, tx, events.CatalogGap, events.EntityMission, m.ID, m.CreatorID, events.Payload{
			"platform": req.Platform,
			"type":     req.Type,
			"tasks":    price.UnpricedTasks,
		}); err != nil {
			return domain.Mission{}, err
		}
	}
	if opts.ClientQuote != nil && diverges(*opts.ClientQuote, price) {
		metrics.PriceDivergence.WithLabelValues(string(req.Model)).Inc()
		e.logger().Warn("client quote differs from server price",
			zap.String("mission_id", m.ID),
			zap.Int64("client_honors", opts.ClientQuote.TotalCostHonors),
			zap.Int64("server_honors", price.TotalCostHonors),
		)
		if err := e.eventWriter().Append(ctx, tx, events.PriceDivergence, events.EntityMission, m.ID, m.CreatorID, events.Payload{
			"client_total_cost_honors": opts.ClientQuote.TotalCostHonors,
			"client_total_cost_usd":    opts.ClientQuote.TotalCostUSD.StringFixed(2),
			"server_total_cost_honors": price.TotalCostHonors,
			"server_total_cost_usd":    price.TotalCostUSD.StringFixed(2),
		}); err != nil {
			return domain.Mission{}, err
		}
	}
	if opts.SessionID != "" {
		if err := e.eventWriter().Append(ctx, tx, events.WizardSubmitted, events.EntityWizard, opts.SessionID, m.CreatorID, events.Payload{
			"mission_id": m.ID,
		}); err != nil {
			return domain.Mission{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}

	metrics.MissionsCreated.WithLabelValues(string(req.Model), string(req.Platform)).Inc()
	metrics.MissionHonors.WithLabelValues(string(req.Model)).Observe(float64(price.TotalCostHonors))
	e.logger().Info("mission created",
		zap.String("mission_id", m.ID),
		zap.String("creator_id", m.CreatorID),
		zap.String("model", string(req.Model)),
		zap.Int64("total_cost_honors", price.TotalCostHonors),
	)
	return m, nil
}

func diverges(client, server domain.PricingResult) bool {
	return client.TotalCostHonors != server.TotalCostHonors ||
		!client.TotalCostUSD.Equal(server.TotalCostUSD) ||
		client.PerUserHonors != server.PerUserHonors ||
		client.PerWinnerHonors != server.PerWinnerHonors
}

// Submitter returns a wizard.Submitter that creates missions for creatorID.
func (e Engine) Submitter(creatorID, sessionID string) wizard.Submitter {
	return wizard.SubmitterFunc(func(ctx context.Context, req domain.MissionRequest) (domain.Mission, error) {
		return e.CreateMission(ctx, CreateMissionOptions{Request: req, CreatorID: creatorID, SessionID: sessionID})
	})
}

func (e Engine) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return e.Repo.GetMission(ctx, id)
}

func (e Engine) ListMissions(ctx context.Context, f repo.MissionFilters) ([]domain.Mission, error) {
	return e.Repo.ListMissions(ctx, f)
}

// WizardSettings returns the machine settings derived from config.
func (e Engine) WizardSettings() wizard.Settings {
	return wizard.Settings{
		Rules:       e.Rules,
		Presets:     e.Presets(),
		AutoAdvance: e.Config.Wizard.AutoAdvance,
	}
}

// NewWizard returns a machine backed by the engine's pricing.
func (e Engine) NewWizard() *wizard.Machine {
	return wizard.New(e.Pricing, e.WizardSettings(), wizard.WithLogger(e.logger().Named("wizard")))
}

// CreateAPIKey mints a key for actorID and returns it with the raw secret,
// which is not stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", errors.New("actor_id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "ml_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.APIKeyCreated, events.EntityAPIKey, key.ID, actorID, events.Payload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// LatestEvents returns the newest events older than cursor.
func (e Engine) LatestEvents(ctx context.Context, limit int, cursor int64, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, cursor, f)
}
