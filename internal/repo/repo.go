package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"missionline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// exec runs a statement in tx when given, otherwise on the pool.
func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.DB.ExecContext(ctx, query, args...)
}

// InsertMission stores a mission with its request and authoritative pricing.
func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	reqJSON, err := json.Marshal(m.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	pricingJSON, err := json.Marshal(m.Pricing)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	_, err = r.exec(ctx, tx, `INSERT INTO missions(id,creator_id,status,model,platform,type,total_cost_honors,request_json,pricing_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CreatorID, m.Status, string(m.Request.Model), string(m.Request.Platform), string(m.Request.Type),
		m.Pricing.TotalCostHonors, string(reqJSON), string(pricingJSON), m.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (domain.Mission, error) {
	var m domain.Mission
	var reqJSON, pricingJSON string
	if err := row.Scan(&m.ID, &m.CreatorID, &m.Status, &reqJSON, &pricingJSON, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, ErrNotFound
		}
		return m, err
	}
	if err := json.Unmarshal([]byte(reqJSON), &m.Request); err != nil {
		return m, fmt.Errorf("decode mission %s request: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(pricingJSON), &m.Pricing); err != nil {
		return m, fmt.Errorf("decode mission %s pricing: %w", m.ID, err)
	}
	return m, nil
}

const missionColumns = `id,creator_id,status,request_json,pricing_json,created_at`

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	return scanMission(r.DB.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id=?`, id))
}

// MissionFilters narrow ListMissions. Zero values match everything.
type MissionFilters struct {
	CreatorID string
	Model     domain.Model
	Platform  domain.Platform
	Limit     int
}

// ListMissions returns missions newest first.
func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.Model != "" {
		clauses = append(clauses, "model=?")
		args = append(args, string(f.Model))
	}
	if f.Platform != "" {
		clauses = append(clauses, "platform=?")
		args = append(args, string(f.Platform))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM missions WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		missionColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// EventFilters narrow event queries. Zero values match everything.
type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilters) where(cursorClause string, cursor int64) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if cursor > 0 {
		clauses = append(clauses, cursorClause)
		args = append(args, cursor)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

const eventColumns = `id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first. A positive cursor returns events
// older than it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := f.where("id<?", cursor)
	args = append(args, limit)
	return r.queryEvents(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id DESC LIMIT ?`, eventColumns, where), args...)
}

// EventsAfter returns events with ids greater than cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := EventFilters{}.where("id>?", cursor)
	args = append(args, limit)
	return r.queryEvents(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id ASC LIMIT ?`, eventColumns, where), args...)
}

// LatestEventID returns the most recent event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
