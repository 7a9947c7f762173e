package dao

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alinaqi/reachgenie/pkg/zid"
)

// UpsertEngagementLog creates the engagement log for a (run, lead, channel)
// triple on the first send. Reminder sends for the same triple only refresh
// the provider reference so later webhooks correlate to the newest message;
// sent_at keeps pointing at the initial touch, which anchors the first
// reminder's cooldown.
func (s *sqlite) UpsertEngagementLog(log EngagementLog) error {
	if !log.Channel.Valid() {
		return fmt.Errorf("invalid channel %q", string(log.Channel))
	}
	if log.ID.IsZero() {
		log.ID = zid.New()
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().In(time.UTC)
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO engagement_log (id, channel, tenant_id, campaign_id, campaign_run_id, lead_id,
	                                sent_at, has_opened, has_replied, has_meeting_booked,
	                                last_reminder_sent, last_reminder_sent_at, provider_ref)
	    VALUES (:id, :channel, :tenant_id, :campaign_id, :campaign_run_id, :lead_id,
	            :sent_at, :has_opened, :has_replied, :has_meeting_booked,
	            :last_reminder_sent, :last_reminder_sent_at, :provider_ref)
	    ON CONFLICT (campaign_run_id, lead_id, channel)
	    DO UPDATE SET provider_ref = excluded.provider_ref
	`, log)
	return err
}

func (s *sqlite) GetEngagementLog(id zid.ID) (*EngagementLog, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var log EngagementLog
	err = db.Get(&log, `SELECT * FROM engagement_log WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// EngagementByRef resolves a provider reference to its engagement log. The
// log keeps the newest reference; events for older messages are resolved
// through the queue table of the channel.
func (s *sqlite) EngagementByRef(c Channel, providerRef string) (*EngagementLog, error) {
	if providerRef == "" {
		return nil, ErrNotFound
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var log EngagementLog
	err = db.Get(&log, `SELECT * FROM engagement_log WHERE provider_ref = ? AND channel = ?`, providerRef, c)
	if err == nil {
		return &log, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var item QueueItem
	err = db.Get(&item, fmt.Sprintf(`SELECT * FROM %s WHERE provider_ref = ?`, c.table()), providerRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	err = db.Get(&log, `
	    SELECT * FROM engagement_log
	    WHERE campaign_run_id = ? AND lead_id = ? AND channel = ?
	`, item.CampaignRunID, item.LeadID, c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *sqlite) MarkOpened(id zid.ID) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE engagement_log SET has_opened = 1 WHERE id = ?`, id)
	return err
}

func (s *sqlite) MarkMeetingBooked(id zid.ID) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(`UPDATE engagement_log SET has_meeting_booked = 1 WHERE id = ?`, id)
	return err
}

// MarkReplied flags every channel's log for the lead within the run. One
// human response ends the escalation regardless of which medium it came
// through.
func (s *sqlite) MarkReplied(campaignRunID, leadID string, now time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(`
	    UPDATE engagement_log
	    SET has_replied = 1
	    WHERE campaign_run_id = ?
	      AND lead_id = ?
	`, campaignRunID, leadID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DueReminders returns engagement logs whose next reminder stage is due:
// no reply yet, stages left under the campaign's configured count, and the
// cooldown elapsed since the initial send (first reminder) or the previous
// reminder (later ones). Leads flagged do-not-contact are filtered here as
// well; the dispatcher still re-checks suppression at send time.
func (s *sqlite) DueReminders(limit int, now time.Time) ([]ReminderCandidate, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	q := `
	    SELECT
	        el.id                  AS log_id,
	        el.channel             AS log_channel,
	        el.tenant_id           AS log_tenant_id,
	        el.campaign_id         AS log_campaign_id,
	        el.campaign_run_id     AS log_campaign_run_id,
	        el.lead_id             AS log_lead_id,
	        el.sent_at             AS log_sent_at,
	        el.has_opened          AS log_has_opened,
	        el.has_replied         AS log_has_replied,
	        el.has_meeting_booked  AS log_has_meeting_booked,
	        el.last_reminder_sent  AS log_last_reminder_sent,
	        el.last_reminder_sent_at AS log_last_reminder_sent_at,
	        el.provider_ref        AS log_provider_ref,

	        ld.id             AS lead_id,
	        ld.tenant_id      AS lead_tenant_id,
	        ld.email          AS lead_email,
	        ld.phone          AS lead_phone,
	        ld.first_name     AS lead_first_name,
	        ld.last_name      AS lead_last_name,
	        ld.company        AS lead_company,
	        ld.title          AS lead_title,
	        ld.do_not_contact AS lead_do_not_contact,

	        c.id                     AS campaign_id,
	        c.tenant_id              AS campaign_tenant_id,
	        c.name                   AS campaign_name,
	        c.number_of_reminders    AS campaign_number_of_reminders,
	        c.days_between_reminders AS campaign_days_between_reminders,
	        c.product_name           AS campaign_product_name,
	        c.product_description    AS campaign_product_description,
	        c.company_name           AS campaign_company_name
	    FROM engagement_log el
	    JOIN lead ld ON ld.id = el.lead_id
	    JOIN campaign c ON c.id = el.campaign_id
	    WHERE el.has_replied = 0
	      AND ld.do_not_contact = 0
	      AND el.last_reminder_sent < MIN(c.number_of_reminders, ?)
	      AND julianday(?) - julianday(
	            CASE WHEN el.last_reminder_sent = 0
	                 THEN el.sent_at
	                 ELSE el.last_reminder_sent_at
	            END
	          ) >= c.days_between_reminders
	    ORDER BY el.id
	    LIMIT ?
	`

	rows, err := db.Queryx(q, MaxReminders, now.In(time.UTC), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReminderCandidate
	for rows.Next() {
		var r struct {
			LogID                 zid.ID     `db:"log_id"`
			LogChannel            Channel    `db:"log_channel"`
			LogTenantID           string     `db:"log_tenant_id"`
			LogCampaignID         string     `db:"log_campaign_id"`
			LogCampaignRunID      string     `db:"log_campaign_run_id"`
			LogLeadID             string     `db:"log_lead_id"`
			LogSentAt             time.Time  `db:"log_sent_at"`
			LogHasOpened          bool       `db:"log_has_opened"`
			LogHasReplied         bool       `db:"log_has_replied"`
			LogHasMeetingBooked   bool       `db:"log_has_meeting_booked"`
			LogLastReminderSent   Stage      `db:"log_last_reminder_sent"`
			LogLastReminderSentAt *time.Time `db:"log_last_reminder_sent_at"`
			LogProviderRef        string     `db:"log_provider_ref"`

			LeadID           string `db:"lead_id"`
			LeadTenantID     string `db:"lead_tenant_id"`
			LeadEmail        string `db:"lead_email"`
			LeadPhone        string `db:"lead_phone"`
			LeadFirstName    string `db:"lead_first_name"`
			LeadLastName     string `db:"lead_last_name"`
			LeadCompany      string `db:"lead_company"`
			LeadTitle        string `db:"lead_title"`
			LeadDoNotContact bool   `db:"lead_do_not_contact"`

			CampaignID                   string `db:"campaign_id"`
			CampaignTenantID             string `db:"campaign_tenant_id"`
			CampaignName                 string `db:"campaign_name"`
			CampaignNumberOfReminders    int    `db:"campaign_number_of_reminders"`
			CampaignDaysBetweenReminders int    `db:"campaign_days_between_reminders"`
			CampaignProductName          string `db:"campaign_product_name"`
			CampaignProductDescription   string `db:"campaign_product_description"`
			CampaignCompanyName          string `db:"campaign_company_name"`
		}
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		out = append(out, ReminderCandidate{
			Log: EngagementLog{
				ID:                 r.LogID,
				Channel:            r.LogChannel,
				TenantID:           r.LogTenantID,
				CampaignID:         r.LogCampaignID,
				CampaignRunID:      r.LogCampaignRunID,
				LeadID:             r.LogLeadID,
				SentAt:             r.LogSentAt,
				HasOpened:          r.LogHasOpened,
				HasReplied:         r.LogHasReplied,
				HasMeetingBooked:   r.LogHasMeetingBooked,
				LastReminderSent:   r.LogLastReminderSent,
				LastReminderSentAt: r.LogLastReminderSentAt,
				ProviderRef:        r.LogProviderRef,
			},
			Lead: Lead{
				ID:           r.LeadID,
				TenantID:     r.LeadTenantID,
				Email:        r.LeadEmail,
				Phone:        r.LeadPhone,
				FirstName:    r.LeadFirstName,
				LastName:     r.LeadLastName,
				Company:      r.LeadCompany,
				Title:        r.LeadTitle,
				DoNotContact: r.LeadDoNotContact,
			},
			Campaign: Campaign{
				ID:                   r.CampaignID,
				TenantID:             r.CampaignTenantID,
				Name:                 r.CampaignName,
				NumberOfReminders:    r.CampaignNumberOfReminders,
				DaysBetweenReminders: r.CampaignDaysBetweenReminders,
				ProductName:          r.CampaignProductName,
				ProductDescription:   r.CampaignProductDescription,
				CompanyName:          r.CampaignCompanyName,
			},
		})
	}
	return out, rows.Err()
}

// AdvanceReminder moves the log one stage forward, conditional on the stage
// it was selected at. A concurrent scheduler pass or an incoming reply makes
// the update touch nothing, which surfaces as ErrConflict.
func (s *sqlite) AdvanceReminder(id zid.ID, from Stage, at time.Time) error {
	next, ok := from.Next()
	if !ok {
		return fmt.Errorf("stage %s has no successor", from)
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.Exec(`
	    UPDATE engagement_log
	    SET last_reminder_sent = ?,
	        last_reminder_sent_at = ?
	    WHERE id = ?
	      AND last_reminder_sent = ?
	      AND has_replied = 0
	`, int(next), at.In(time.UTC), id, int(from))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("could not advance log %s from %s, %w", id, from, ErrConflict)
	}
	return nil
}
