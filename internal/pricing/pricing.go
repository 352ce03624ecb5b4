// Package pricing computes mission costs in Honors and USD for both mission
// models. An Engine is immutable once built and safe for concurrent use.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"missionline/internal/config"
	"missionline/internal/degen"
	"missionline/internal/domain"
	"missionline/internal/metrics"
)

// maxHonors is the largest amount an int64 Honors field can carry.
var maxHonors = decimal.NewFromInt(math.MaxInt64)

type Engine struct {
	settings     config.Pricing
	honorsPerUSD decimal.Decimal
	premium      decimal.Decimal
	poolFactor   decimal.Decimal
	catalog      Catalog
	presets      degen.Table
	logger       *zap.Logger
}

type Option func(*Engine)

// WithLogger sets the logger used to report catalog gaps.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an engine from explicit settings.
func New(settings config.Pricing, catalog Catalog, presets degen.Table, opts ...Option) (*Engine, error) {
	if settings.HonorsPerUSD <= 0 {
		return nil, fmt.Errorf("pricing: honors_per_usd must be positive")
	}
	if settings.PremiumMultiplier < 1 {
		return nil, fmt.Errorf("pricing: premium_multiplier must be >= 1")
	}
	if settings.DegenPoolFactor <= 0 || settings.DegenPoolFactor > 1 {
		return nil, fmt.Errorf("pricing: degen_pool_factor must be in (0, 1]")
	}
	if settings.UnknownTasks == "" {
		settings.UnknownTasks = config.UnknownTasksReject
	}
	e := &Engine{
		settings:     settings,
		honorsPerUSD: decimal.NewFromFloat(settings.HonorsPerUSD),
		premium:      decimal.NewFromFloat(settings.PremiumMultiplier),
		poolFactor:   decimal.NewFromFloat(settings.DegenPoolFactor),
		catalog:      catalog,
		presets:      presets,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FromConfig builds an engine, catalog and preset table from a loaded config.
func FromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	catalog, err := NewCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	return New(cfg.Pricing, catalog, degen.NewTable(cfg.Degen.Presets), opts...)
}

func (e *Engine) Settings() config.Pricing { return e.settings }

func (e *Engine) Catalog() Catalog { return e.catalog }

func (e *Engine) Presets() degen.Table { return e.presets }

// Tasks returns the priced tasks for a platform and type.
func (e *Engine) Tasks(platform domain.Platform, missionType domain.MissionType) map[string]int64 {
	return e.catalog.Tasks(platform, missionType)
}

// HonorsToUSD converts Honors to USD rounded to cents.
func (e *Engine) HonorsToUSD(honors int64) decimal.Decimal {
	return decimal.NewFromInt(honors).Div(e.honorsPerUSD).Round(2)
}

// USDToHonors converts USD to whole Honors, rounding half away from zero.
func (e *Engine) USDToHonors(usd decimal.Decimal) int64 {
	return usd.Mul(e.honorsPerUSD).Round(0).IntPart()
}

func (e *Engine) multiplier(req domain.MissionRequest) decimal.Decimal {
	if req.Premium() {
		return e.premium
	}
	return decimal.NewFromInt(1)
}

// Calculate prices a mission request. Fixed missions need a positive cap and
// at least one task; degen missions need a duration that matches a preset
// exactly and a positive winners cap.
func (e *Engine) Calculate(req domain.MissionRequest) (domain.PricingResult, error) {
	var (
		res domain.PricingResult
		err error
	)
	switch req.Model {
	case domain.ModelFixed:
		res, err = e.fixed(req)
	case domain.ModelDegen:
		res, err = e.degen(req)
	default:
		err = domain.NewValidationError("model", fmt.Sprintf("unknown model %q", req.Model))
	}
	if err != nil {
		metrics.QuoteErrors.WithLabelValues(errorReason(err)).Inc()
		return domain.PricingResult{}, err
	}
	audience := req.Audience
	if audience == "" {
		audience = domain.AudienceAll
	}
	metrics.Quotes.WithLabelValues(string(req.Model), string(audience)).Inc()
	return res, nil
}

func (e *Engine) fixed(req domain.MissionRequest) (domain.PricingResult, error) {
	if !req.Platform.Valid() {
		return domain.PricingResult{}, domain.NewValidationError("platform", fmt.Sprintf("unknown platform %q", req.Platform))
	}
	if !req.Type.Valid() {
		return domain.PricingResult{}, domain.NewValidationError("type", fmt.Sprintf("unknown mission type %q", req.Type))
	}
	if len(req.Tasks) == 0 {
		return domain.PricingResult{}, domain.NewValidationError("tasks", "at least one task is required")
	}
	if req.Cap < 1 {
		return domain.PricingResult{}, domain.NewValidationError("cap", "cap must be at least 1")
	}
	if limit := e.settings.MaxFixedCap; limit > 0 && req.Cap > limit {
		return domain.PricingResult{}, domain.NewValidationError("cap", fmt.Sprintf("cap must be at most %d", limit))
	}

	base, unpriced, err := e.sumTasks(req)
	if err != nil {
		return domain.PricingResult{}, err
	}
	perUser := decimal.NewFromInt(base).Mul(e.multiplier(req)).Round(0)
	total := perUser.Mul(decimal.NewFromInt(int64(req.Cap)))
	if total.GreaterThan(maxHonors) {
		return domain.PricingResult{}, domain.NewValidationError("cap", "cap is too large to price")
	}
	return domain.PricingResult{
		Model:           domain.ModelFixed,
		TotalCostUSD:    e.HonorsToUSD(total.IntPart()),
		TotalCostHonors: total.IntPart(),
		PerUserHonors:   perUser.IntPart(),
		UnpricedTasks:   unpriced,
	}, nil
}

// sumTasks adds catalog prices of distinct task ids. Missing ids follow the
// configured unknown_tasks policy.
func (e *Engine) sumTasks(req domain.MissionRequest) (int64, []string, error) {
	var (
		sum     int64
		missing []string
	)
	seen := make(map[string]bool, len(req.Tasks))
	for _, id := range req.Tasks {
		if seen[id] {
			continue
		}
		seen[id] = true
		price, ok := e.catalog.Price(req.Platform, req.Type, id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		sum += price
	}
	if len(missing) == 0 {
		return sum, nil, nil
	}
	if e.settings.UnknownTasks != config.UnknownTasksZero {
		return 0, nil, domain.UnknownTaskError{Platform: req.Platform, Type: req.Type, TaskIDs: missing}
	}
	metrics.CatalogGaps.WithLabelValues(string(req.Platform), string(req.Type)).Add(float64(len(missing)))
	e.logger.Warn("catalog gap: pricing unknown tasks at zero",
		zap.String("platform", string(req.Platform)),
		zap.String("type", string(req.Type)),
		zap.Strings("tasks", missing),
	)
	return sum, missing, nil
}

func (e *Engine) degen(req domain.MissionRequest) (domain.PricingResult, error) {
	preset, ok := e.presets.Find(req.DurationHours)
	if !ok {
		return domain.PricingResult{}, fmt.Errorf("%w: %d hours", domain.ErrUnknownDuration, req.DurationHours)
	}
	if req.WinnersCap < 1 {
		return domain.PricingResult{}, domain.NewValidationError("winners_cap", "winners cap must be at least 1")
	}

	usd := decimal.NewFromFloat(preset.CostUSD).Mul(e.multiplier(req)).Round(2)
	total := e.USDToHonors(usd)
	pool := decimal.NewFromInt(total).Mul(e.poolFactor).Floor().IntPart()
	winners := int64(req.WinnersCap)
	return domain.PricingResult{
		Model:               domain.ModelDegen,
		TotalCostUSD:        usd,
		TotalCostHonors:     total,
		UserPoolHonors:      pool,
		PerWinnerHonors:     pool / winners,
		PoolRemainderHonors: pool % winners,
	}, nil
}

func errorReason(err error) string {
	var (
		unknown domain.UnknownTaskError
		invalid *domain.ValidationError
	)
	switch {
	case errors.Is(err, domain.ErrUnknownDuration):
		return "unknown_duration"
	case errors.As(err, &unknown):
		return "unknown_task"
	case errors.As(err, &invalid):
		return "validation"
	}
	return "other"
}
