// Package sender is the boundary to the delivery providers. The engine only
// depends on the two interfaces; the HTTP implementations here talk to
// whatever provider the deployment is configured with.
package sender

import "context"

// Metadata travels with every send and comes back on provider webhooks.
type Metadata struct {
	TenantID      string `json:"tenant_id"`
	CampaignID    string `json:"campaign_id"`
	CampaignRunID string `json:"campaign_run_id"`
	LeadID        string `json:"lead_id"`
	ItemID        string `json:"item_id"`
}

// EmailSender delivers one email and returns the provider's message id,
// persisted for later webhook correlation.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string, meta Metadata) (messageID string, err error)
}

// CallDialer places one outbound voice call and returns the provider's call
// id.
type CallDialer interface {
	InitiateCall(ctx context.Context, to, script string, meta Metadata) (callID string, err error)
}
