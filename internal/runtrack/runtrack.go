// Package runtrack owns campaign run progress and completion. Progress is
// incremented by dispatchers as items reach terminal outcomes; the sweep is
// the authoritative completion check and also recovers items stranded in
// processing by a crashed worker.
package runtrack

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/pkg/zid"
	"github.com/alinaqi/reachgenie/tools"
)

// retryPageSize bounds how many failed items a single bulk-retry page loads.
const retryPageSize = 500

type Tracker struct {
	db  dao.DAO
	log *logrus.Logger
}

func NewTracker(db dao.DAO, lc *tools.Logger) *Tracker {
	return &Tracker{
		db:  db,
		log: lc.New("runtrack"),
	}
}

// ItemFinished counts one terminal queue item toward the run. Dispatchers
// call it exactly once per item; the conditional terminal transition in the
// store guarantees no double counting across retries or concurrent workers.
// The completion check here is an optimization, the sweep remains the
// authority.
func (t *Tracker) ItemFinished(runID string) {
	now := time.Now().In(time.UTC)

	run, err := t.db.IncrementRunProgress(runID, 1, now)
	if errors.Is(err, dao.ErrNotFound) {
		t.log.WithField("run", runID).Warn("item finished for unknown campaign run")
		return
	}
	if err != nil {
		t.log.WithError(err).WithField("run", runID).Error("could not increment run progress")
		return
	}

	if run.Status == dao.RunRunning && run.LeadsProcessed >= run.LeadsTotal {
		err = t.db.CompleteRun(runID, now)
		if err != nil && !errors.Is(err, dao.ErrConflict) {
			t.log.WithError(err).WithField("run", runID).Error("could not complete run")
			return
		}
		if err == nil {
			t.log.WithField("run", runID).Info("campaign run completed")
		}
	}
}

func (t *Tracker) Progress(runID string) (*dao.CampaignRun, error) {
	return t.db.GetRun(runID)
}

// RetryFailed resets every terminally failed item of the run back to
// pending, in pages keyed on the sortable item id, and flips the run back to
// running. The operator path for "try those again".
func (t *Tracker) RetryFailed(runID string) (int64, error) {

	run, err := t.db.GetRun(runID)
	if err != nil {
		return 0, err
	}

	now := time.Now().In(time.UTC)
	var total int64
	for _, c := range dao.Channels {
		var cursor zid.ID
		for {
			last, n, err := t.db.ResetFailed(c, run.ID, cursor, retryPageSize, now)
			if err != nil {
				return total, err
			}
			total += n
			if n == 0 {
				break
			}
			cursor = last
		}
	}

	if total > 0 {
		err = t.db.MarkRunRunning(run.ID, now)
		if err != nil && !errors.Is(err, dao.ErrConflict) {
			return total, err
		}
		t.log.WithField("run", run.ID).Infof("reset %d failed items to pending", total)
	}
	return total, nil
}
