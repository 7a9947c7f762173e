package reachgenie

import "time"

type EngagementEvent string

func (e EngagementEvent) String() string {
	return string(e)
}

// EventDelivered the provider accepted and delivered the message.
const EventDelivered EngagementEvent = "delivered"

// EventOpened the recipient opened the email or answered the call.
const EventOpened EngagementEvent = "opened"

// EventReplied the recipient responded. A reply on any channel ends the
// reminder escalation for the lead on every channel.
const EventReplied EngagementEvent = "replied"

// EventBounced the receiving server rejected the message permanently. The
// address is added to the tenant's suppression list.
const EventBounced EngagementEvent = "bounced"

// EventUnsubscribed the recipient opted out. The address is suppressed.
const EventUnsubscribed EngagementEvent = "unsubscribed"

// EventMeetingBooked the recipient booked a meeting through the outreach.
const EventMeetingBooked EngagementEvent = "meeting_booked"

// Event is the webhook payload posted by delivery providers. ProviderRef is
// the message or call id returned at send time and is how the event is
// correlated back to an engagement log.
type Event struct {
	ProviderRef string          `json:"provider_ref"`
	Channel     string          `json:"channel"`
	Event       EngagementEvent `json:"event"`
	Address     string          `json:"address,omitempty"`
	Info        string          `json:"info,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
