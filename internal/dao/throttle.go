package dao

import (
	"database/sql"
	"errors"
)

func (s *sqlite) GetThrottleSettings(tenantID string) (*ThrottleSettings, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var ts ThrottleSettings
	err = db.Get(&ts, `SELECT * FROM throttle_settings WHERE tenant_id = ?`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *sqlite) SetThrottleSettings(ts ThrottleSettings) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO throttle_settings (tenant_id, max_per_hour, max_per_day, enabled)
	    VALUES (:tenant_id, :max_per_hour, :max_per_day, :enabled)
	    ON CONFLICT (tenant_id)
	    DO UPDATE SET max_per_hour = excluded.max_per_hour,
	                  max_per_day = excluded.max_per_day,
	                  enabled = excluded.enabled
	`, ts)
	return err
}
