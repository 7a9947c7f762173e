package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alinaqi/reachgenie/pkg/zid"
)

func (s *sqlite) Enqueue(item QueueItem) (id zid.ID, err error) {

	if !item.Channel.Valid() {
		return zid.ID{}, fmt.Errorf("invalid channel %q", string(item.Channel))
	}
	if item.ID.IsZero() {
		item.ID = zid.New()
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	if item.Status != StatusPending {
		return zid.ID{}, fmt.Errorf("new queue items must be pending, got %q", string(item.Status))
	}
	now := time.Now().In(time.UTC)
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = 3
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	q := fmt.Sprintf(`
	INSERT INTO %s (id, tenant_id, campaign_id, campaign_run_id, lead_id,
	                status, priority, retry_count, max_retries,
	                subject, body, error_message, provider_ref,
	                scheduled_for, created_at, updated_at)
	VALUES (:id, :tenant_id, :campaign_id, :campaign_run_id, :lead_id,
	        :status, :priority, :retry_count, :max_retries,
	        :subject, :body, :error_message, :provider_ref,
	        :scheduled_for, :created_at, :updated_at)
`, item.Channel.table())

	tx, err := s.getTX()
	if err != nil {
		return zid.ID{}, fmt.Errorf("failed to get transaction, %w", err)
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	_, err = tx.NamedExec(q, item)
	if err != nil {
		return zid.ID{}, fmt.Errorf("failed to insert into %s, %w", item.Channel.table(), err)
	}

	err = s.addItemLogTx(tx, item.ID, fmt.Sprintf("enqueued on %s for lead %s, scheduled for %s",
		item.Channel, item.LeadID, item.ScheduledFor.Format(time.RFC3339)))
	if err != nil {
		return zid.ID{}, err
	}

	return item.ID, nil
}

func (s *sqlite) GetItem(c Channel, id zid.ID) (*QueueItem, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var item QueueItem
	err = db.Get(&item, fmt.Sprintf(`SELECT * FROM %s WHERE id = ?`, c.table()), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Channel = c
	return &item, nil
}

func (s *sqlite) DueTenants(c Channel, now time.Time) ([]string, error) {
	q := fmt.Sprintf(`
	    SELECT DISTINCT tenant_id
	    FROM %s
	    WHERE status = 'pending'
	      AND scheduled_for <= ?
	    ORDER BY tenant_id
	`, c.table())

	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var tenants []string
	err = db.Select(&tenants, q, now.In(time.UTC))
	return tenants, err
}

// DueItems returns up to limit pending items for one tenant, control-plane
// overrides first, then oldest first.
func (s *sqlite) DueItems(c Channel, tenantID string, limit int, now time.Time) ([]QueueItem, error) {
	q := fmt.Sprintf(`
	    SELECT *
	    FROM %s
	    WHERE tenant_id = ?
	      AND status = 'pending'
	      AND scheduled_for <= ?
	    ORDER BY priority DESC, created_at ASC
	    LIMIT ?
	`, c.table())

	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var items []QueueItem
	err = db.Select(&items, q, tenantID, now.In(time.UTC), limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Channel = c
	}
	return items, nil
}

// Claim atomically moves one item from pending to processing. Exactly one of
// any number of concurrent claim attempts can win; the rest get ErrConflict.
func (s *sqlite) Claim(c Channel, id zid.ID) (err error) {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'processing',
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'pending'
	`, c.table())

	var tx *sqlx.Tx
	tx, err = s.getTX()
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(q, time.Now().In(time.UTC), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not claim item %s, %w", id, ErrConflict)
	}

	return s.addItemLogTx(tx, id, "claimed by dispatcher")
}

func (s *sqlite) MarkSent(c Channel, id zid.ID, providerRef string, at time.Time) error {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'sent',
	        provider_ref = ?,
	        error_message = '',
	        processed_at = ?,
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'processing'
	`, c.table())

	return s.transition(q, id, "marked sent, provider ref "+providerRef,
		providerRef, at.In(time.UTC), at.In(time.UTC), id)
}

func (s *sqlite) MarkSkipped(c Channel, id zid.ID, reason string, at time.Time) error {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'skipped',
	        error_message = ?,
	        processed_at = ?,
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'processing'
	`, c.table())

	return s.transition(q, id, "skipped, "+reason,
		reason, at.In(time.UTC), at.In(time.UTC), id)
}

// MarkFailed terminates the item. The retry count is bumped so that the final
// attempt is accounted for like every other one.
func (s *sqlite) MarkFailed(c Channel, id zid.ID, errMsg string, at time.Time) error {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'failed',
	        retry_count = retry_count + 1,
	        error_message = ?,
	        processed_at = ?,
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'processing'
	`, c.table())

	return s.transition(q, id, "failed terminally, "+errMsg,
		errMsg, at.In(time.UTC), at.In(time.UTC), id)
}

// Reschedule returns a transiently failed item to pending with a bumped
// retry count. The caller decides the backoff; the retry bound is enforced
// here as a guard.
func (s *sqlite) Reschedule(c Channel, id zid.ID, at time.Time, errMsg string) error {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'pending',
	        retry_count = retry_count + 1,
	        scheduled_for = ?,
	        error_message = ?,
	        updated_at = ?
	    WHERE id = ?
	      AND status = 'processing'
	      AND retry_count + 1 < max_retries
	`, c.table())

	return s.transition(q, id, fmt.Sprintf("retry scheduled for %s, %s", at.In(time.UTC).Format(time.RFC3339), errMsg),
		at.In(time.UTC), errMsg, time.Now().In(time.UTC), id)
}

func (s *sqlite) transition(q string, id zid.ID, logLine string, args ...any) (err error) {
	var tx *sqlx.Tx
	tx, err = s.getTX()
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	res, err := tx.Exec(q, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("transition of item %s touched %d rows, %w", id, affected, ErrConflict)
	}
	return s.addItemLogTx(tx, id, logLine)
}

// ReclaimStuck returns processing items last touched before the given cutoff
// back to pending. Covers workers that crashed after claiming.
func (s *sqlite) ReclaimStuck(c Channel, before time.Time, now time.Time) (int64, error) {
	q := fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'pending',
	        updated_at = ?
	    WHERE status = 'processing'
	      AND processed_at IS NULL
	      AND updated_at < ?
	`, c.table())

	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(q, now.In(time.UTC), before.In(time.UTC))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetFailed flips one page of terminally failed items of a run back to
// pending. Pages are keyed on the sortable item id so large runs never get
// loaded into memory at once.
func (s *sqlite) ResetFailed(c Channel, runID string, after zid.ID, limit int, now time.Time) (last zid.ID, n int64, err error) {

	var tx *sqlx.Tx
	tx, err = s.getTX()
	if err != nil {
		return zid.ID{}, 0, err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	var ids []zid.ID
	err = tx.Select(&ids, fmt.Sprintf(`
	    SELECT id FROM %s
	    WHERE campaign_run_id = ?
	      AND status = 'failed'
	      AND id > ?
	    ORDER BY id
	    LIMIT ?
	`, c.table()), runID, after.String(), limit)
	if err != nil {
		return zid.ID{}, 0, err
	}
	if len(ids) == 0 {
		return after, 0, nil
	}

	query, args, err := sqlx.In(fmt.Sprintf(`
	    UPDATE %s
	    SET status = 'pending',
	        retry_count = 0,
	        error_message = '',
	        scheduled_for = ?,
	        processed_at = NULL,
	        updated_at = ?
	    WHERE id IN (?)
	      AND status = 'failed'
	`, c.table()), now.In(time.UTC), now.In(time.UTC), ids)
	if err != nil {
		return zid.ID{}, 0, err
	}

	res, err := tx.Exec(query, args...)
	if err != nil {
		return zid.ID{}, 0, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return zid.ID{}, 0, err
	}

	for _, id := range ids {
		err = s.addItemLogTx(tx, id, "reset to pending by bulk retry")
		if err != nil {
			return zid.ID{}, 0, err
		}
	}

	return ids[len(ids)-1], n, nil
}

// OpenCount counts items of a run that have not reached a terminal state,
// across both channels.
func (s *sqlite) OpenCount(runID string) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	var total int
	for _, c := range Channels {
		var n int
		err = db.Get(&n, fmt.Sprintf(`
		    SELECT COUNT(*) FROM %s
		    WHERE campaign_run_id = ?
		      AND status IN ('pending', 'processing')
		`, c.table()), runID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *sqlite) SentCountSince(c Channel, tenantID string, since time.Time) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.Get(&n, fmt.Sprintf(`
	    SELECT COUNT(*) FROM %s
	    WHERE tenant_id = ?
	      AND status = 'sent'
	      AND processed_at >= ?
	`, c.table()), tenantID, since.In(time.UTC))
	return n, err
}
