package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"missionline/internal/wizard"
)

// WizardSlots is the sqlite wizard.Store.
type WizardSlots struct {
	DB  *sql.DB
	Now func() time.Time
}

var _ wizard.Store = WizardSlots{}

func (s WizardSlots) Save(ctx context.Context, key string, snap wizard.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO wizard_slots(key,snapshot_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET snapshot_json=excluded.snapshot_json, updated_at=excluded.updated_at`,
		key, string(data), now().UTC().Format(time.RFC3339))
	return err
}

func (s WizardSlots) Load(ctx context.Context, key string) (wizard.Snapshot, error) {
	var data string
	err := s.DB.QueryRowContext(ctx, `SELECT snapshot_json FROM wizard_slots WHERE key=?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return wizard.Snapshot{}, wizard.ErrNoState
	}
	if err != nil {
		return wizard.Snapshot{}, err
	}
	var snap wizard.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return wizard.Snapshot{}, err
	}
	return snap, nil
}

func (s WizardSlots) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM wizard_slots WHERE key=?`, key)
	return err
}
