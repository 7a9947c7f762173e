package dao

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alinaqi/reachgenie/tools"
)

// IsSuppressed checks global entries (empty tenant id) before tenant-scoped
// ones. Callers must treat an error as "suppressed"; the gate in
// internal/suppress enforces that.
func (s *sqlite) IsSuppressed(address, tenantID string) (bool, error) {
	address = tools.NormalizeAddress(address)
	if address == "" {
		return false, nil
	}

	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	var n int
	err = db.Get(&n, `
	    SELECT COUNT(*) FROM suppression
	    WHERE address = ?
	      AND tenant_id IN ('', ?)
	`, address, tenantID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddSuppression records the entry and flips do_not_contact on every
// matching lead, tenant-scoped or across all tenants for a global entry, so
// campaign population excludes the address upstream as well.
func (s *sqlite) AddSuppression(address, tenantID, reason string, now time.Time) (err error) {
	address = tools.NormalizeAddress(address)
	if address == "" {
		return fmt.Errorf("cannot suppress an empty address")
	}

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

	_, err = tx.Exec(`
	    INSERT INTO suppression (address, tenant_id, reason, created_at)
	    VALUES (?, ?, ?, ?)
	    ON CONFLICT (address, tenant_id) DO NOTHING
	`, address, tenantID, reason, now.In(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to insert suppression entry, %w", err)
	}

	q := `
	    UPDATE lead
	    SET do_not_contact = 1
	    WHERE (email = ? OR phone = ?)
	`
	args := []any{address, address}
	if tenantID != "" {
		q += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	_, err = tx.Exec(q, args...)
	if err != nil {
		return fmt.Errorf("failed to flag leads do-not-contact, %w", err)
	}
	return nil
}
