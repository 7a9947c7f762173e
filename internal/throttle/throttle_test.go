package throttle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

func setup(t *testing.T) (dao.DAO, *Policy) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "engine.sqlite"))
	require.NoError(t, err)
	return db, New(Config{SafetyCap: 10}, db, tools.LoggerCloner(logrus.New()))
}

func sendAt(t *testing.T, db dao.DAO, c dao.Channel, tenantID string, at time.Time) {
	t.Helper()
	id, err := db.Enqueue(dao.QueueItem{
		Channel:       c,
		TenantID:      tenantID,
		CampaignID:    "camp-1",
		CampaignRunID: "run-1",
		LeadID:        "lead-1",
		Body:          "hello",
	})
	require.NoError(t, err)
	require.NoError(t, db.Claim(c, id))
	require.NoError(t, db.MarkSent(c, id, "msg", at))
}

func TestCapacityHonorsHourlyBudget(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   "t1",
		MaxPerHour: 5,
		MaxPerDay:  100,
		Enabled:    true,
	}))

	for i := 0; i < 3; i++ {
		sendAt(t, db, dao.ChannelEmail, "t1", now.Add(-10*time.Minute))
	}

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 2, capacity)
}

func TestCapacityHonorsDailyBudget(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   "t1",
		MaxPerHour: 100,
		MaxPerDay:  4,
		Enabled:    true,
	}))

	// old enough to be outside the hourly window, inside the daily one
	for i := 0; i < 3; i++ {
		sendAt(t, db, dao.ChannelEmail, "t1", now.Add(-5*time.Hour))
	}

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 1, capacity)
}

func TestCapacityNeverExceedsSafetyCap(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   "t1",
		MaxPerHour: 10000,
		MaxPerDay:  10000,
		Enabled:    true,
	}))

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 10, capacity)
}

func TestCapacityDisabledThrottling(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID: "t1",
		Enabled:  false,
	}))

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 10, capacity)
}

func TestCapacityDefaultsWithoutSettings(t *testing.T) {
	_, policy := setup(t)

	capacity, err := policy.Capacity(dao.ChannelEmail, "unknown-tenant", time.Now().In(time.UTC))
	require.NoError(t, err)
	require.Equal(t, 10, capacity)
}

func TestCapacityClampsAtZero(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   "t1",
		MaxPerHour: 2,
		MaxPerDay:  100,
		Enabled:    true,
	}))

	for i := 0; i < 3; i++ {
		sendAt(t, db, dao.ChannelEmail, "t1", now.Add(-time.Minute))
	}

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 0, capacity)
}

func TestCapacityIsPerChannel(t *testing.T) {
	db, policy := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   "t1",
		MaxPerHour: 3,
		MaxPerDay:  100,
		Enabled:    true,
	}))

	for i := 0; i < 3; i++ {
		sendAt(t, db, dao.ChannelEmail, "t1", now.Add(-time.Minute))
	}

	capacity, err := policy.Capacity(dao.ChannelEmail, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 0, capacity)

	// the call queue has its own budget
	capacity, err = policy.Capacity(dao.ChannelCall, "t1", now)
	require.NoError(t, err)
	require.Equal(t, 3, capacity)
}
