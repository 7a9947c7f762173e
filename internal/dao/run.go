package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

func (s *sqlite) CreateRun(run CampaignRun) error {
	if run.Status == "" {
		run.Status = RunIdle
	}
	if !run.Status.Valid() {
		return fmt.Errorf("invalid run status %q", string(run.Status))
	}
	now := time.Now().In(time.UTC)
	run.CreatedAt = now
	run.UpdatedAt = now

	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO campaign_run (id, campaign_id, tenant_id, status,
	                              leads_total, leads_processed, run_at,
	                              created_at, updated_at)
	    VALUES (:id, :campaign_id, :tenant_id, :status,
	            :leads_total, :leads_processed, :run_at,
	            :created_at, :updated_at)
	`, run)
	return err
}

func (s *sqlite) GetRun(id string) (*CampaignRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var run CampaignRun
	err = db.Get(&run, `SELECT * FROM campaign_run WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *sqlite) RunningRuns() ([]CampaignRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var runs []CampaignRun
	err = db.Select(&runs, `SELECT * FROM campaign_run WHERE status = 'running' ORDER BY id`)
	return runs, err
}

// IncrementRunProgress adds n to leads_processed in a single update so
// concurrent dispatch workers can never lose a count, and returns the row as
// it stands after the increment.
func (s *sqlite) IncrementRunProgress(id string, n int, now time.Time) (run *CampaignRun, err error) {

	var tx *sqlx.Tx
	tx, err = s.getTX()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(`
	    UPDATE campaign_run
	    SET leads_processed = leads_processed + ?,
	        updated_at = ?
	    WHERE id = ?
	`, n, now.In(time.UTC), id)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != 1 {
		return nil, fmt.Errorf("campaign run %s, %w", id, ErrNotFound)
	}

	run = &CampaignRun{}
	err = tx.Get(run, `SELECT * FROM campaign_run WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun transitions a running run to completed. Conditional so that
// the sweep and the increment path cannot disagree about who completed it.
func (s *sqlite) CompleteRun(id string, now time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(`
	    UPDATE campaign_run
	    SET status = 'completed',
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'running'
	`, now.In(time.UTC), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("run %s is not running, %w", id, ErrConflict)
	}
	return nil
}

// MarkRunRunning flips an idle or completed run back to running, used when a
// run starts executing and on bulk retry of failed items.
func (s *sqlite) MarkRunRunning(id string, now time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(`
	    UPDATE campaign_run
	    SET status = 'running',
	        run_at = COALESCE(run_at, ?),
	        updated_at = ?
	    WHERE id = ?
	      AND status != 'running'
	`, now.In(time.UTC), now.In(time.UTC), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("run %s is already running, %w", id, ErrConflict)
	}
	return nil
}
