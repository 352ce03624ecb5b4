// Package events appends rows to the event log inside caller transactions.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by missionline.
const (
	MissionCreated  = "mission.created"
	CatalogGap      = "pricing.catalog_gap"
	PriceDivergence = "pricing.divergence"
	WizardSubmitted = "wizard.submitted"
	APIKeyCreated   = "apikey.created"
)

// Entity kinds.
const (
	EntityMission = "mission"
	EntityWizard  = "wizard_session"
	EntityAPIKey  = "api_key"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one event. EntityID may be empty.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
