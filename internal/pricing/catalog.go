package pricing

import (
	"fmt"
	"sort"

	"missionline/internal/domain"
)

// Catalog is the typed task price table: platform, then mission type, then
// task id to price in Honors. It is read-only after construction.
type Catalog struct {
	entries map[domain.Platform]map[domain.MissionType]map[string]int64
}

// NewCatalog converts the raw config catalog into a typed table. Unknown
// platforms or types, empty task sets and non-positive prices are errors.
func NewCatalog(raw map[string]map[string]map[string]int64) (Catalog, error) {
	c := Catalog{entries: make(map[domain.Platform]map[domain.MissionType]map[string]int64, len(raw))}
	for p, types := range raw {
		platform := domain.Platform(p)
		if !platform.Valid() {
			return Catalog{}, fmt.Errorf("catalog: unknown platform %q", p)
		}
		byType := make(map[domain.MissionType]map[string]int64, len(types))
		for t, tasks := range types {
			mt := domain.MissionType(t)
			if !mt.Valid() {
				return Catalog{}, fmt.Errorf("catalog: %s: unknown mission type %q", p, t)
			}
			if len(tasks) == 0 {
				return Catalog{}, fmt.Errorf("catalog: %s/%s has no tasks", p, t)
			}
			prices := make(map[string]int64, len(tasks))
			for id, price := range tasks {
				if price <= 0 {
					return Catalog{}, fmt.Errorf("catalog: %s/%s/%s price must be positive", p, t, id)
				}
				prices[id] = price
			}
			byType[mt] = prices
		}
		c.entries[platform] = byType
	}
	return c, nil
}

// Offered reports whether the platform and type pair has a task set.
func (c Catalog) Offered(platform domain.Platform, missionType domain.MissionType) bool {
	_, ok := c.entries[platform][missionType]
	return ok
}

// Price returns the Honors price of a task.
func (c Catalog) Price(platform domain.Platform, missionType domain.MissionType, taskID string) (int64, bool) {
	price, ok := c.entries[platform][missionType][taskID]
	return price, ok
}

// Tasks returns a copy of the task prices for a pair, or nil if not offered.
func (c Catalog) Tasks(platform domain.Platform, missionType domain.MissionType) map[string]int64 {
	tasks, ok := c.entries[platform][missionType]
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(tasks))
	for id, price := range tasks {
		out[id] = price
	}
	return out
}

// TaskIDs returns the task ids of a pair in lexical order.
func (c Catalog) TaskIDs(platform domain.Platform, missionType domain.MissionType) []string {
	tasks := c.entries[platform][missionType]
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Types returns the mission types offered on a platform in canonical order.
func (c Catalog) Types(platform domain.Platform) []domain.MissionType {
	var out []domain.MissionType
	for _, t := range domain.MissionTypes {
		if c.Offered(platform, t) {
			out = append(out, t)
		}
	}
	return out
}

// Platforms returns the platforms with at least one offered type.
func (c Catalog) Platforms() []domain.Platform {
	var out []domain.Platform
	for _, p := range domain.Platforms {
		if len(c.entries[p]) > 0 {
			out = append(out, p)
		}
	}
	return out
}
