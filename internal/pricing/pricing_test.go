package pricing_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"missionline/internal/config"
	"missionline/internal/domain"
	"missionline/internal/pricing"
)

func newEngine(t *testing.T, opts ...pricing.Option) *pricing.Engine {
	t.Helper()
	engine, err := pricing.FromConfig(config.Default(), opts...)
	require.NoError(t, err)
	return engine
}

func fixedRequest(audience domain.Audience) domain.MissionRequest {
	return domain.MissionRequest{
		Model:    domain.ModelFixed,
		Platform: domain.PlatformTwitter,
		Type:     domain.TypeEngage,
		Audience: audience,
		Tasks:    []string{"like", "retweet"},
		Cap:      100,
	}
}

func degenRequest(audience domain.Audience, hours, winners int) domain.MissionRequest {
	return domain.MissionRequest{
		Model:         domain.ModelDegen,
		Platform:      domain.PlatformTwitter,
		Type:          domain.TypeEngage,
		Audience:      audience,
		Tasks:         []string{"like"},
		DurationHours: hours,
		WinnersCap:    winners,
	}
}

func requireUSD(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "usd = %s, want %s", got, want)
}

func TestFixedStandardAudience(t *testing.T) {
	res, err := newEngine(t).Calculate(fixedRequest(domain.AudienceAll))
	require.NoError(t, err)

	assert.Equal(t, domain.ModelFixed, res.Model)
	assert.Equal(t, int64(150), res.PerUserHonors)
	assert.Equal(t, int64(15000), res.TotalCostHonors)
	requireUSD(t, "33.33", res.TotalCostUSD)
	assert.Zero(t, res.UserPoolHonors)
	assert.Zero(t, res.PerWinnerHonors)
}

func TestFixedPremiumAudience(t *testing.T) {
	res, err := newEngine(t).Calculate(fixedRequest(domain.AudiencePremium))
	require.NoError(t, err)

	assert.Equal(t, int64(750), res.PerUserHonors)
	assert.Equal(t, int64(75000), res.TotalCostHonors)
	requireUSD(t, "166.67", res.TotalCostUSD)
}

func TestFixedEmptyAudienceIsStandard(t *testing.T) {
	res, err := newEngine(t).Calculate(fixedRequest(""))
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.PerUserHonors)
}

func TestFixedDuplicateTasksCountOnce(t *testing.T) {
	req := fixedRequest(domain.AudienceAll)
	req.Tasks = []string{"like", "like", "retweet"}
	res, err := newEngine(t).Calculate(req)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.PerUserHonors)
}

func TestFixedTotalsInvariant(t *testing.T) {
	engine := newEngine(t)
	catalog := engine.Catalog()
	for _, platform := range catalog.Platforms() {
		for _, mt := range catalog.Types(platform) {
			tasks := catalog.TaskIDs(platform, mt)
			var sum int64
			for _, id := range tasks {
				price, _ := catalog.Price(platform, mt, id)
				sum += price
			}
			for _, premium := range []bool{false, true} {
				req := domain.MissionRequest{
					Model:    domain.ModelFixed,
					Platform: platform,
					Type:     mt,
					Audience: domain.AudienceAll,
					Tasks:    tasks,
					Cap:      137,
				}
				want := sum
				if premium {
					req.Audience = domain.AudiencePremium
					want = sum * 5
				}
				res, err := engine.Calculate(req)
				require.NoError(t, err, "%s/%s", platform, mt)
				assert.Equal(t, want, res.PerUserHonors, "%s/%s", platform, mt)
				assert.Equal(t, res.PerUserHonors*137, res.TotalCostHonors, "%s/%s", platform, mt)
				assert.True(t, engine.HonorsToUSD(res.TotalCostHonors).Equal(res.TotalCostUSD))
			}
		}
	}
}

func TestFixedCapUpperBound(t *testing.T) {
	engine := newEngine(t)
	req := fixedRequest(domain.AudiencePremium)
	req.Cap = 1000000
	res, err := engine.Calculate(req)
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.PerUserHonors)
	assert.Equal(t, int64(750000000), res.TotalCostHonors)
	requireUSD(t, "1666666.67", res.TotalCostUSD)

	req.Cap = 1000001
	_, err = engine.Calculate(req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cap must be at most 1000000", verr.Fields["cap"])
}

func TestFixedTotalNeverWraps(t *testing.T) {
	base := newEngine(t)
	settings := base.Settings()
	settings.MaxFixedCap = 0
	engine, err := pricing.New(settings, base.Catalog(), base.Presets())
	require.NoError(t, err)

	req := fixedRequest(domain.AudiencePremium)
	req.Cap = math.MaxInt / 100
	_, err = engine.Calculate(req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cap is too large to price", verr.Fields["cap"])

	req.Cap = math.MaxInt / 750
	res, err := engine.Calculate(req)
	require.NoError(t, err)
	assert.Positive(t, res.TotalCostHonors)
	assert.Equal(t, res.PerUserHonors*int64(req.Cap), res.TotalCostHonors)
	assert.True(t, res.TotalCostUSD.IsPositive())
}

func TestFixedInputErrors(t *testing.T) {
	engine := newEngine(t)
	cases := []struct {
		name  string
		edit  func(*domain.MissionRequest)
		field string
	}{
		{"no tasks", func(r *domain.MissionRequest) { r.Tasks = nil }, "tasks"},
		{"zero cap", func(r *domain.MissionRequest) { r.Cap = 0 }, "cap"},
		{"bad platform", func(r *domain.MissionRequest) { r.Platform = "myspace" }, "platform"},
		{"bad type", func(r *domain.MissionRequest) { r.Type = "raid" }, "type"},
		{"bad model", func(r *domain.MissionRequest) { r.Model = "auction" }, "model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := fixedRequest(domain.AudienceAll)
			tc.edit(&req)
			_, err := engine.Calculate(req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestUnknownTaskRejectedByDefault(t *testing.T) {
	req := fixedRequest(domain.AudienceAll)
	req.Tasks = []string{"like", "dance"}
	_, err := newEngine(t).Calculate(req)

	var unknown domain.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"dance"}, unknown.TaskIDs)
	assert.Equal(t, domain.PlatformTwitter, unknown.Platform)
}

func TestUnknownTaskZeroPolicyWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := config.Default()
	cfg.Pricing.UnknownTasks = config.UnknownTasksZero
	engine, err := pricing.FromConfig(cfg, pricing.WithLogger(zap.New(core)))
	require.NoError(t, err)

	req := fixedRequest(domain.AudienceAll)
	req.Tasks = []string{"like", "dance"}
	res, err := engine.Calculate(req)
	require.NoError(t, err)

	assert.Equal(t, int64(50), res.PerUserHonors)
	assert.Equal(t, []string{"dance"}, res.UnpricedTasks)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "catalog gap: pricing unknown tasks at zero", logs.All()[0].Message)
}

func TestDegenStandardAudience(t *testing.T) {
	res, err := newEngine(t).Calculate(degenRequest(domain.AudienceAll, 8, 3))
	require.NoError(t, err)

	assert.Equal(t, domain.ModelDegen, res.Model)
	requireUSD(t, "150", res.TotalCostUSD)
	assert.Equal(t, int64(67500), res.TotalCostHonors)
	assert.Equal(t, int64(33750), res.UserPoolHonors)
	assert.Equal(t, int64(11250), res.PerWinnerHonors)
	assert.Zero(t, res.PoolRemainderHonors)
	assert.Zero(t, res.PerUserHonors)
}

func TestDegenPremiumAudience(t *testing.T) {
	res, err := newEngine(t).Calculate(degenRequest(domain.AudiencePremium, 8, 3))
	require.NoError(t, err)

	requireUSD(t, "750", res.TotalCostUSD)
	assert.Equal(t, int64(168750), res.UserPoolHonors)
	assert.Equal(t, int64(56250), res.PerWinnerHonors)
}

func TestDegenRemainderIsReported(t *testing.T) {
	// 36h costs $500: 225000 Honors, pool 112500, split over 7 winners.
	res, err := newEngine(t).Calculate(degenRequest(domain.AudienceAll, 36, 7))
	require.NoError(t, err)

	assert.Equal(t, int64(112500), res.UserPoolHonors)
	assert.Equal(t, int64(16071), res.PerWinnerHonors)
	assert.Equal(t, int64(3), res.PoolRemainderHonors)
	assert.Equal(t, res.UserPoolHonors, res.PerWinnerHonors*7+res.PoolRemainderHonors)
}

func TestDegenEveryPresetMatchesCost(t *testing.T) {
	engine := newEngine(t)
	for _, p := range engine.Presets().Presets() {
		res, err := engine.Calculate(degenRequest(domain.AudienceAll, p.Hours, 1))
		require.NoError(t, err, p.Label)
		assert.True(t, decimal.NewFromFloat(p.CostUSD).Equal(res.TotalCostUSD), p.Label)
		assert.Equal(t, engine.USDToHonors(res.TotalCostUSD), res.TotalCostHonors, p.Label)
		assert.Equal(t, res.TotalCostHonors/2, res.UserPoolHonors, p.Label)
	}
}

func TestDegenUnknownDurationNeverSubstitutes(t *testing.T) {
	engine := newEngine(t)
	for _, hours := range []int{0, 2, 7, 9, 999} {
		_, err := engine.Calculate(degenRequest(domain.AudienceAll, hours, 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrUnknownDuration), "hours=%d", hours)
		assert.Contains(t, err.Error(), fmt.Sprintf("%d hours", hours))
	}
}

func TestDegenZeroWinners(t *testing.T) {
	_, err := newEngine(t).Calculate(degenRequest(domain.AudienceAll, 8, 0))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "winners_cap")
}

func TestConversions(t *testing.T) {
	engine := newEngine(t)
	requireUSD(t, "1", engine.HonorsToUSD(450))
	requireUSD(t, "0.01", engine.HonorsToUSD(4))
	requireUSD(t, "33.33", engine.HonorsToUSD(15000))
	assert.Equal(t, int64(450), engine.USDToHonors(decimal.NewFromInt(1)))
	assert.Equal(t, int64(5), engine.USDToHonors(decimal.RequireFromString("0.01")))
}

func TestNewRejectsBadSettings(t *testing.T) {
	base := config.Default().Pricing
	cases := map[string]func(*config.Pricing){
		"honors":     func(p *config.Pricing) { p.HonorsPerUSD = 0 },
		"multiplier": func(p *config.Pricing) { p.PremiumMultiplier = 0.5 },
		"pool":       func(p *config.Pricing) { p.DegenPoolFactor = 1.5 },
	}
	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			settings := base
			edit(&settings)
			_, err := pricing.New(settings, pricing.Catalog{}, newEngine(t).Presets())
			require.Error(t, err)
		})
	}
}

func TestCalculateConcurrent(t *testing.T) {
	engine := newEngine(t)
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		premium := i%2 == 0
		g.Go(func() error {
			audience := domain.AudienceAll
			want := int64(11250)
			if premium {
				audience = domain.AudiencePremium
				want = 56250
			}
			res, err := engine.Calculate(degenRequest(audience, 8, 3))
			if err != nil {
				return err
			}
			if res.PerWinnerHonors != want {
				return fmt.Errorf("per winner = %d, want %d", res.PerWinnerHonors, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
