package dao

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alinaqi/reachgenie/pkg/zid"
)

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional state transition touched no
// row, i.e. another worker got there first or the row is in an illegal state
// for the transition.
var ErrConflict = errors.New("conflicting state transition")

type DAO interface {
	// queue
	Enqueue(item QueueItem) (zid.ID, error)
	GetItem(c Channel, id zid.ID) (*QueueItem, error)
	DueTenants(c Channel, now time.Time) ([]string, error)
	DueItems(c Channel, tenantID string, limit int, now time.Time) ([]QueueItem, error)
	Claim(c Channel, id zid.ID) error
	MarkSent(c Channel, id zid.ID, providerRef string, at time.Time) error
	MarkSkipped(c Channel, id zid.ID, reason string, at time.Time) error
	MarkFailed(c Channel, id zid.ID, errMsg string, at time.Time) error
	Reschedule(c Channel, id zid.ID, at time.Time, errMsg string) error
	ReclaimStuck(c Channel, before time.Time, now time.Time) (int64, error)
	ResetFailed(c Channel, runID string, after zid.ID, limit int, now time.Time) (last zid.ID, n int64, err error)
	OpenCount(runID string) (int, error)
	SentCountSince(c Channel, tenantID string, since time.Time) (int, error)
	ItemLog(id zid.ID) ([]LogEntry, error)

	// campaign runs
	CreateRun(run CampaignRun) error
	GetRun(id string) (*CampaignRun, error)
	RunningRuns() ([]CampaignRun, error)
	IncrementRunProgress(id string, n int, now time.Time) (*CampaignRun, error)
	CompleteRun(id string, now time.Time) error
	MarkRunRunning(id string, now time.Time) error

	// throttle
	GetThrottleSettings(tenantID string) (*ThrottleSettings, error)
	SetThrottleSettings(ts ThrottleSettings) error

	// suppression
	IsSuppressed(address, tenantID string) (bool, error)
	AddSuppression(address, tenantID, reason string, now time.Time) error

	// engagement
	UpsertEngagementLog(log EngagementLog) error
	GetEngagementLog(id zid.ID) (*EngagementLog, error)
	EngagementByRef(c Channel, providerRef string) (*EngagementLog, error)
	MarkOpened(id zid.ID) error
	MarkMeetingBooked(id zid.ID) error
	MarkReplied(campaignRunID, leadID string, now time.Time) (int64, error)
	DueReminders(limit int, now time.Time) ([]ReminderCandidate, error)
	AdvanceReminder(id zid.ID, from Stage, at time.Time) error

	// directory
	GetLead(id string) (*Lead, error)
	CreateLead(lead Lead) error
	GetCampaign(id string) (*Campaign, error)
	CreateCampaign(c Campaign) error
	GetApiKey(key string) (*APIKey, error)
	AddApiKey(key APIKey) error
}

func NewSQLite(path string) (DAO, error) {
	lite := &sqlite{path: path}
	err := lite.ensureSchema()
	return lite, err
}

type sqlite struct {
	db   *sqlx.DB
	path string
}

func (s *sqlite) tuneDatabase() error {
	q := `pragma journal_mode = WAL;
			pragma synchronous = normal;
			pragma temp_store = memory;
			pragma busy_timeout = 5000;
			pragma foreign_keys = on;`

	if s.db == nil {
		return errors.New("db must be instantiated")
	}
	_, err := s.db.Exec(q)
	return err
}

func (s *sqlite) getDB() (*sqlx.DB, error) {

	var err error
	for s.db == nil || s.db.Ping() != nil {

		if s.db != nil {
			_ = s.db.Close()
			s.db = nil
		}

		s.db, err = sqlx.Connect("sqlite3", s.path)
		if err != nil {
			return nil, fmt.Errorf("error while connecting, %w", err)
		}
		err = s.tuneDatabase()
		if err != nil {
			return nil, fmt.Errorf("error while tuning db instance, %w", err)
		}
	}

	return s.db, nil
}

func (s *sqlite) getTX() (*sqlx.Tx, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	return db.Beginx()
}

func (s *sqlite) addItemLogTx(tx *sqlx.Tx, id zid.ID, log string) error {
	q := `
	INSERT INTO queue_log (item_id, created_at, log)
	VALUES (?, ?, ?)
	`
	_, err := tx.Exec(q, id, time.Now().In(time.UTC), log)
	if err != nil {
		return fmt.Errorf("failed to insert log entry, %v", err)
	}
	return nil
}

func (s *sqlite) addItemLog(id zid.ID, format string, args ...any) error {
	tx, err := s.getTX()
	if err != nil {
		return err
	}
	err = s.addItemLogTx(tx, id, fmt.Sprintf(format, args...))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlite) ItemLog(id zid.ID) ([]LogEntry, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	err = db.Select(&entries, `SELECT * FROM queue_log WHERE item_id = ? ORDER BY created_at`, id)
	return entries, err
}

const queueColumns = `
	    id TEXT PRIMARY KEY,
	    tenant_id TEXT NOT NULL,
	    campaign_id TEXT NOT NULL,
	    campaign_run_id TEXT NOT NULL,
	    lead_id TEXT NOT NULL,

	    status TEXT NOT NULL DEFAULT 'pending',
	    priority INT NOT NULL DEFAULT 0,
	    retry_count INT NOT NULL DEFAULT 0,
	    max_retries INT NOT NULL DEFAULT 3,

	    subject TEXT NOT NULL DEFAULT '',
	    body TEXT NOT NULL DEFAULT '',

	    error_message TEXT NOT NULL DEFAULT '',
	    provider_ref TEXT NOT NULL DEFAULT '',

	    scheduled_for DATETIME NOT NULL,
	    processed_at DATETIME,
	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
`

func (s *sqlite) ensureSchema() error {

	db, err := s.getDB()
	if err != nil {
		return fmt.Errorf("could not get db, %w", err)
	}

	_, err = db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS api_key (
	    api_key TEXT PRIMARY KEY,
	    tenant_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS email_queue (%s);
	CREATE TABLE IF NOT EXISTS call_queue (%s);

	CREATE INDEX IF NOT EXISTS idx_email_queue_due
	    ON email_queue(tenant_id, scheduled_for) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_call_queue_due
	    ON call_queue(tenant_id, scheduled_for) WHERE status = 'pending';
	CREATE INDEX IF NOT EXISTS idx_email_queue_run ON email_queue(campaign_run_id);
	CREATE INDEX IF NOT EXISTS idx_call_queue_run ON call_queue(campaign_run_id);

	CREATE TABLE IF NOT EXISTS queue_log (
	    item_id TEXT NOT NULL,
	    created_at DATETIME NOT NULL DEFAULT (strftime('%%Y-%%m-%%d %%H:%%M:%%f', 'now')),
	    log TEXT NOT NULL,
	    PRIMARY KEY (item_id, created_at)
	);

	CREATE TABLE IF NOT EXISTS campaign_run (
	    id TEXT PRIMARY KEY,
	    campaign_id TEXT NOT NULL,
	    tenant_id TEXT NOT NULL,
	    status TEXT NOT NULL DEFAULT 'idle',
	    leads_total INT NOT NULL DEFAULT 0,
	    leads_processed INT NOT NULL DEFAULT 0,
	    run_at DATETIME,
	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS engagement_log (
	    id TEXT PRIMARY KEY,
	    channel TEXT NOT NULL,
	    tenant_id TEXT NOT NULL,
	    campaign_id TEXT NOT NULL,
	    campaign_run_id TEXT NOT NULL,
	    lead_id TEXT NOT NULL,

	    sent_at DATETIME NOT NULL,
	    has_opened INTEGER NOT NULL DEFAULT 0,
	    has_replied INTEGER NOT NULL DEFAULT 0,
	    has_meeting_booked INTEGER NOT NULL DEFAULT 0,

	    last_reminder_sent INTEGER NOT NULL DEFAULT 0,
	    last_reminder_sent_at DATETIME,

	    provider_ref TEXT NOT NULL DEFAULT '',

	    UNIQUE (campaign_run_id, lead_id, channel)
	);
	CREATE INDEX IF NOT EXISTS idx_engagement_ref ON engagement_log(provider_ref);

	CREATE TABLE IF NOT EXISTS throttle_settings (
	    tenant_id TEXT PRIMARY KEY,
	    max_per_hour INT NOT NULL DEFAULT 500,
	    max_per_day INT NOT NULL DEFAULT 500,
	    enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS suppression (
	    address TEXT NOT NULL,
	    tenant_id TEXT NOT NULL DEFAULT '', -- '' blocks every tenant
	    reason TEXT NOT NULL,
	    created_at DATETIME NOT NULL,
	    PRIMARY KEY (address, tenant_id)
	);

	CREATE TABLE IF NOT EXISTS lead (
	    id TEXT PRIMARY KEY,
	    tenant_id TEXT NOT NULL,
	    email TEXT NOT NULL DEFAULT '',
	    phone TEXT NOT NULL DEFAULT '',
	    first_name TEXT NOT NULL DEFAULT '',
	    last_name TEXT NOT NULL DEFAULT '',
	    company TEXT NOT NULL DEFAULT '',
	    title TEXT NOT NULL DEFAULT '',
	    do_not_contact INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_lead_email ON lead(tenant_id, email);
	CREATE INDEX IF NOT EXISTS idx_lead_phone ON lead(tenant_id, phone);

	CREATE TABLE IF NOT EXISTS campaign (
	    id TEXT PRIMARY KEY,
	    tenant_id TEXT NOT NULL,
	    name TEXT NOT NULL,
	    number_of_reminders INT NOT NULL DEFAULT 3,
	    days_between_reminders INT NOT NULL DEFAULT 3,
	    product_name TEXT NOT NULL DEFAULT '',
	    product_description TEXT NOT NULL DEFAULT '',
	    company_name TEXT NOT NULL DEFAULT ''
	);
`, queueColumns, queueColumns))
	if err != nil {
		return fmt.Errorf("could not upsert schema, %w", err)
	}

	return nil
}
