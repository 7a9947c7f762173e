// Package content is the boundary to the AI collaborator that writes
// subject lines, bodies and call scripts. Generation is a retryable
// dependency: a failure leaves no trace and the caller simply tries again on
// its next pass.
package content

import (
	"context"

	"github.com/alinaqi/reachgenie"
	"github.com/alinaqi/reachgenie/internal/dao"
)

// Strategy tells the generator how to write, not what to write. The
// reminder scheduler selects it per stage and engagement level.
type Strategy struct {
	Stage    string `json:"stage"`
	Tone     string `json:"tone"`
	Approach string `json:"approach"`
	CTA      string `json:"cta"`
	Urgency  string `json:"urgency"`
}

type Generator interface {
	GenerateEmail(ctx context.Context, s Strategy, lead dao.Lead, campaign dao.Campaign) (reachgenie.EmailContent, error)
	GenerateCallScript(ctx context.Context, s Strategy, lead dao.Lead, campaign dao.Campaign) (string, error)
}
