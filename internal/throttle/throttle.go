// Package throttle computes how many sends a tenant has left on a channel.
package throttle

import (
	"time"

	"github.com/modfin/henry/compare"
	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

// DefaultSafetyCap bounds any single dispatch cycle regardless of how high a
// tenant's limits are configured, keeping one cycle's blast radius small.
const DefaultSafetyCap = 10

type Config struct {
	SafetyCap int
}

type Policy struct {
	db  dao.DAO
	cfg Config
	log *logrus.Logger
}

func New(cfg Config, db dao.DAO, lc *tools.Logger) *Policy {
	cfg.SafetyCap = compare.Coalesce(cfg.SafetyCap, DefaultSafetyCap)
	return &Policy{
		db:  db,
		cfg: cfg,
		log: lc.New("throttle"),
	}
}

// Capacity returns how many items may be dispatched for the tenant right
// now: the tightest of the remaining hourly budget, the remaining daily
// budget and the safety cap. A tenant with throttling disabled is bounded by
// the safety cap alone. Unreadable settings fall back to defaults rather
// than halting dispatch.
func (p *Policy) Capacity(c dao.Channel, tenantID string, now time.Time) (int, error) {
	settings, err := p.db.GetThrottleSettings(tenantID)
	if err != nil {
		if err != dao.ErrNotFound {
			p.log.WithError(err).WithField("tenant", tenantID).
				Warn("could not read throttle settings, using defaults")
		}
		def := dao.DefaultThrottle(tenantID)
		settings = &def
	}

	if !settings.Enabled {
		return p.cfg.SafetyCap, nil
	}

	sentHour, err := p.db.SentCountSince(c, tenantID, now.Add(-time.Hour))
	if err != nil {
		return 0, err
	}
	sentDay, err := p.db.SentCountSince(c, tenantID, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}

	capacity := min3(settings.MaxPerHour-sentHour, settings.MaxPerDay-sentDay, p.cfg.SafetyCap)
	if capacity < 0 {
		capacity = 0
	}
	return capacity, nil
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
