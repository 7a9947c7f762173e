package dao

import (
	"fmt"
	"time"

	"github.com/alinaqi/reachgenie/pkg/zid"
)

// Status is the lifecycle state of one queue item. Transitions are enforced
// by conditional updates in the store; a terminal item is never mutated again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the item has reached an outcome that counts
// toward campaign run progress.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Channel selects which outbound queue table an operation targets.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelCall  Channel = "call"
)

var Channels = []Channel{ChannelEmail, ChannelCall}

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelCall
}

func (c Channel) String() string {
	return string(c)
}

func (c Channel) table() string {
	switch c {
	case ChannelEmail:
		return "email_queue"
	case ChannelCall:
		return "call_queue"
	}
	panic(fmt.Sprintf("unknown channel %q", string(c)))
}

// RunStatus is the state of one campaign execution.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunIdle, RunRunning, RunCompleted:
		return true
	}
	return false
}

// Stage is a reminder escalation step. Zero means only the initial touch has
// gone out. Stored as an integer so eligibility can be computed in SQL
// against the campaign's configured reminder count.
type Stage int

const (
	StageNone Stage = iota
	StageR1
	StageR2
	StageR3
	StageR4
	StageR5
	StageR6
)

// MaxReminders is the highest number of reminder stages a campaign can be
// configured with.
const MaxReminders = int(StageR6)

func (s Stage) Valid() bool {
	return s >= StageNone && s <= StageR6
}

// Next returns the following stage. ok is false when the progression is
// exhausted.
func (s Stage) Next() (next Stage, ok bool) {
	if s < StageNone || s >= StageR6 {
		return s, false
	}
	return s + 1, true
}

func (s Stage) String() string {
	if s == StageNone {
		return "none"
	}
	return fmt.Sprintf("r%d", int(s))
}

// QueueItem is one unit of outbound work. Subject is empty for call items;
// Body holds the email HTML or the call script.
type QueueItem struct {
	ID            zid.ID  `db:"id"`
	Channel       Channel `db:"-"`
	TenantID      string  `db:"tenant_id"`
	CampaignID    string  `db:"campaign_id"`
	CampaignRunID string  `db:"campaign_run_id"`
	LeadID        string  `db:"lead_id"`

	Status     Status `db:"status"`
	Priority   int    `db:"priority"`
	RetryCount int    `db:"retry_count"`
	MaxRetries int    `db:"max_retries"`

	Subject string `db:"subject"`
	Body    string `db:"body"`

	ErrorMessage string `db:"error_message"`
	ProviderRef  string `db:"provider_ref"`

	ScheduledFor time.Time  `db:"scheduled_for"`
	ProcessedAt  *time.Time `db:"processed_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

type CampaignRun struct {
	ID         string    `db:"id"`
	CampaignID string    `db:"campaign_id"`
	TenantID   string    `db:"tenant_id"`
	Status     RunStatus `db:"status"`

	LeadsTotal     int `db:"leads_total"`
	LeadsProcessed int `db:"leads_processed"`

	RunAt     *time.Time `db:"run_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// EngagementLog tracks recipient response for one lead within one campaign
// run and channel. It is created when the first message is sent and advanced
// by the reminder scheduler; sent_at always refers to the initial touch.
type EngagementLog struct {
	ID            zid.ID  `db:"id"`
	Channel       Channel `db:"channel"`
	TenantID      string  `db:"tenant_id"`
	CampaignID    string  `db:"campaign_id"`
	CampaignRunID string  `db:"campaign_run_id"`
	LeadID        string  `db:"lead_id"`

	SentAt           time.Time `db:"sent_at"`
	HasOpened        bool      `db:"has_opened"`
	HasReplied       bool      `db:"has_replied"`
	HasMeetingBooked bool      `db:"has_meeting_booked"`

	LastReminderSent   Stage      `db:"last_reminder_sent"`
	LastReminderSentAt *time.Time `db:"last_reminder_sent_at"`

	ProviderRef string `db:"provider_ref"`
}

// ThrottleSettings is per tenant send-cap configuration. An absent row means
// DefaultThrottle.
type ThrottleSettings struct {
	TenantID   string `db:"tenant_id"`
	MaxPerHour int    `db:"max_per_hour"`
	MaxPerDay  int    `db:"max_per_day"`
	Enabled    bool   `db:"enabled"`
}

func DefaultThrottle(tenantID string) ThrottleSettings {
	return ThrottleSettings{
		TenantID:   tenantID,
		MaxPerHour: 500,
		MaxPerDay:  500,
		Enabled:    true,
	}
}

// SuppressionEntry excludes an address from outreach. An empty tenant id
// makes the entry global, blocking every tenant.
type SuppressionEntry struct {
	Address   string    `db:"address"`
	TenantID  string    `db:"tenant_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

type Lead struct {
	ID       string `db:"id"`
	TenantID string `db:"tenant_id"`

	Email string `db:"email"`
	Phone string `db:"phone"`

	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Company   string `db:"company"`
	Title     string `db:"title"`

	DoNotContact bool `db:"do_not_contact"`
}

// Address returns the contact address for the given channel, or an empty
// string if the lead cannot be reached on it.
func (l Lead) Address(c Channel) string {
	switch c {
	case ChannelEmail:
		return l.Email
	case ChannelCall:
		return l.Phone
	}
	return ""
}

type Campaign struct {
	ID       string `db:"id"`
	TenantID string `db:"tenant_id"`
	Name     string `db:"name"`

	NumberOfReminders    int `db:"number_of_reminders"`
	DaysBetweenReminders int `db:"days_between_reminders"`

	ProductName        string `db:"product_name"`
	ProductDescription string `db:"product_description"`
	CompanyName        string `db:"company_name"`
}

type APIKey struct {
	Key      string `db:"api_key"`
	TenantID string `db:"tenant_id"`
}

// ReminderCandidate is one engagement log due for its next reminder stage,
// joined with the lead and campaign context the scheduler needs.
type ReminderCandidate struct {
	Log      EngagementLog
	Lead     Lead
	Campaign Campaign
}

type LogEntry struct {
	ItemID    zid.ID    `db:"item_id"`
	CreatedAt time.Time `db:"created_at"`
	Log       string    `db:"log"`
}
