// Package suppress is the gate every outbound send passes through. It fails
// closed: when the store cannot be asked, the address is treated as
// suppressed. Losing a send is recoverable, contacting an opted-out address
// is not.
package suppress

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

var timeNow = func() time.Time { return time.Now().In(time.UTC) }

type Gate struct {
	db  dao.DAO
	log *logrus.Logger
}

func New(db dao.DAO, lc *tools.Logger) *Gate {
	return &Gate{
		db:  db,
		log: lc.New("suppress"),
	}
}

// Suppressed reports whether the address may not be contacted on behalf of
// the tenant. Empty addresses are suppressed; there is nothing to send to.
func (g *Gate) Suppressed(address, tenantID string) bool {
	if tools.NormalizeAddress(address) == "" {
		return true
	}
	suppressed, err := g.db.IsSuppressed(address, tenantID)
	if err != nil {
		g.log.WithError(err).WithField("tenant", tenantID).
			Warn("suppression lookup failed, treating address as suppressed")
		return true
	}
	return suppressed
}

// Add persists the entry and flags matching leads do-not-contact so future
// campaign population excludes the address upstream as well.
func (g *Gate) Add(address, tenantID, reason string) error {
	err := g.db.AddSuppression(address, tenantID, reason, timeNow())
	if err != nil {
		return err
	}
	g.log.WithField("tenant", tenantID).WithField("reason", reason).Info("address suppressed")
	return nil
}
