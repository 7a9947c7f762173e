// Package reachgenie contains the wire types and the API client for the
// outbound engagement engine. The engine itself lives under internal/ and is
// run through cmd/reachgenied; this package is what integrators import.
package reachgenie

import "time"

// Channel selects which outbound queue a request is aimed at.
const (
	ChannelEmail = "email"
	ChannelCall  = "call"
)

// EmailContent is the rendered payload for one outbound email. Content is
// generated upstream (or by the reminder scheduler) and stored verbatim on
// the queue item, so a send never depends on the generator being available.
type EmailContent struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// CallContent is the script for one outbound voice call.
type CallContent struct {
	Script string `json:"script"`
}

// EnqueueRequest adds one unit of outbound work for a lead. Exactly one of
// Email or Call must be set, matching the channel of the target queue.
type EnqueueRequest struct {
	CampaignID    string `json:"campaign_id"`
	CampaignRunID string `json:"campaign_run_id"`
	LeadID        string `json:"lead_id"`

	// Priority above zero puts the item ahead of routine volume within its
	// tenant. ScheduledFor defaults to now.
	Priority     int        `json:"priority,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	MaxRetries   *int       `json:"max_retries,omitempty"`

	Email *EmailContent `json:"email,omitempty"`
	Call  *CallContent  `json:"call,omitempty"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

// StartRunRequest registers one campaign execution. The engine tracks its
// progress as queued items reach terminal outcomes; LeadsTotal is how many
// leads the caller intends to queue. The id is generated when omitted.
type StartRunRequest struct {
	RunID      string `json:"run_id,omitempty"`
	CampaignID string `json:"campaign_id"`
	LeadsTotal int    `json:"leads_total"`
}

// RunProgress is the operator view of one campaign execution.
type RunProgress struct {
	ID             string `json:"id"`
	CampaignID     string `json:"campaign_id"`
	Status         string `json:"status"`
	LeadsProcessed int    `json:"leads_processed"`
	LeadsTotal     int    `json:"leads_total"`
}

// SuppressionRequest permanently excludes an address or phone number from
// outreach. Global entries apply across every tenant and can only be created
// by operators.
type SuppressionRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
	Global  bool   `json:"global,omitempty"`
}
