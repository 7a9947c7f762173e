package runtrack

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

func setup(t *testing.T) (dao.DAO, *Tracker) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "engine.sqlite"))
	require.NoError(t, err)
	return db, NewTracker(db, tools.LoggerCloner(logrus.New()))
}

func seedRunningRun(t *testing.T, db dao.DAO, id string, total int) {
	t.Helper()
	require.NoError(t, db.CreateRun(dao.CampaignRun{
		ID:         id,
		CampaignID: "camp-1",
		TenantID:   "t1",
		LeadsTotal: total,
	}))
	require.NoError(t, db.MarkRunRunning(id, time.Now().In(time.UTC)))
}

func failedItem(t *testing.T, db dao.DAO, c dao.Channel, runID string) dao.QueueItem {
	t.Helper()
	now := time.Now().In(time.UTC)
	id, err := db.Enqueue(dao.QueueItem{
		Channel:       c,
		TenantID:      "t1",
		CampaignID:    "camp-1",
		CampaignRunID: runID,
		LeadID:        "lead-1",
		Body:          "hello",
	})
	require.NoError(t, err)
	require.NoError(t, db.Claim(c, id))
	require.NoError(t, db.MarkFailed(c, id, "provider down", now))
	item, err := db.GetItem(c, id)
	require.NoError(t, err)
	return *item
}

func TestItemFinishedCompletesRun(t *testing.T) {
	db, tracker := setup(t)
	seedRunningRun(t, db, "run-1", 2)

	tracker.ItemFinished("run-1")
	run, err := tracker.Progress("run-1")
	require.NoError(t, err)
	require.Equal(t, 1, run.LeadsProcessed)
	require.Equal(t, dao.RunRunning, run.Status)

	tracker.ItemFinished("run-1")
	run, err = tracker.Progress("run-1")
	require.NoError(t, err)
	require.Equal(t, 2, run.LeadsProcessed)
	require.Equal(t, dao.RunCompleted, run.Status)
}

func TestItemFinishedUnknownRun(t *testing.T) {
	_, tracker := setup(t)
	// must not panic, only log
	tracker.ItemFinished("nope")
}

func TestRetryFailedResetsBothChannels(t *testing.T) {
	db, tracker := setup(t)
	seedRunningRun(t, db, "run-1", 3)
	require.NoError(t, db.CompleteRun("run-1", time.Now().In(time.UTC)))

	require.NoError(t, db.CreateRun(dao.CampaignRun{ID: "run-2", CampaignID: "camp-1", TenantID: "t1"}))

	email := failedItem(t, db, dao.ChannelEmail, "run-1")
	call := failedItem(t, db, dao.ChannelCall, "run-1")
	failedItem(t, db, dao.ChannelEmail, "run-2")

	n, err := tracker.RetryFailed("run-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := db.GetItem(dao.ChannelEmail, email.ID)
	require.NoError(t, err)
	require.Equal(t, dao.StatusPending, got.Status)
	got, err = db.GetItem(dao.ChannelCall, call.ID)
	require.NoError(t, err)
	require.Equal(t, dao.StatusPending, got.Status)

	// the run is running again
	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, dao.RunRunning, run.Status)
}

func TestRetryFailedNothingToDo(t *testing.T) {
	db, tracker := setup(t)
	seedRunningRun(t, db, "run-1", 1)

	n, err := tracker.RetryFailed("run-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	_, err = tracker.RetryFailed("nope")
	require.ErrorIs(t, err, dao.ErrNotFound)
}
