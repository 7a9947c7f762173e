package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alinaqi/reachgenie"
	"github.com/alinaqi/reachgenie/internal/content"
	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

type fakeGen struct {
	mu         sync.Mutex
	err        error
	strategies []content.Strategy
}

func (g *fakeGen) GenerateEmail(ctx context.Context, s content.Strategy, lead dao.Lead, campaign dao.Campaign) (reachgenie.EmailContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return reachgenie.EmailContent{}, g.err
	}
	g.strategies = append(g.strategies, s)
	return reachgenie.EmailContent{Subject: "following up", HTML: "<p>still interested?</p>"}, nil
}

func (g *fakeGen) GenerateCallScript(ctx context.Context, s content.Strategy, lead dao.Lead, campaign dao.Campaign) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.strategies = append(g.strategies, s)
	return "hi, just checking in", nil
}

func setup(t *testing.T, gen *fakeGen) (dao.DAO, *Scheduler) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "engine.sqlite"))
	require.NoError(t, err)

	s, err := New(Config{
		Interval:  time.Minute,
		BatchSize: 10,
	}, db, gen, NewCounters(promauto.With(prometheus.NewRegistry())), tools.LoggerCloner(logrus.New()))
	require.NoError(t, err)
	return db, s
}

func seedCandidate(t *testing.T, db dao.DAO, c dao.Channel, sentAt time.Time) {
	t.Helper()
	require.NoError(t, db.CreateLead(dao.Lead{
		ID:       "lead-1",
		TenantID: "t1",
		Email:    "jane@example.com",
		Phone:    "+15550100",
	}))
	require.NoError(t, db.CreateCampaign(dao.Campaign{
		ID:                   "camp-1",
		TenantID:             "t1",
		Name:                 "spring outreach",
		NumberOfReminders:    2,
		DaysBetweenReminders: 3,
	}))
	require.NoError(t, db.UpsertEngagementLog(dao.EngagementLog{
		Channel:       c,
		TenantID:      "t1",
		CampaignID:    "camp-1",
		CampaignRunID: "run-1",
		LeadID:        "lead-1",
		SentAt:        sentAt,
		ProviderRef:   "msg-1",
	}))
}

func TestPassSchedulesEmailReminder(t *testing.T) {
	gen := &fakeGen{}
	db, s := setup(t, gen)
	now := time.Now().In(time.UTC)
	seedCandidate(t, db, dao.ChannelEmail, now.AddDate(0, 0, -4))

	n := s.Pass(now)
	require.Equal(t, 1, n)

	items, err := db.DueItems(dao.ChannelEmail, "t1", 10, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "following up", items[0].Subject)
	require.Equal(t, "<p>still interested?</p>", items[0].Body)
	require.Equal(t, "run-1", items[0].CampaignRunID)

	log, err := db.EngagementByRef(dao.ChannelEmail, "msg-1")
	require.NoError(t, err)
	require.Equal(t, dao.StageR1, log.LastReminderSent)
	require.NotNil(t, log.LastReminderSentAt)

	require.Len(t, gen.strategies, 1)
	require.Equal(t, "r1", gen.strategies[0].Stage)

	// the cooldown keeps the next stage out of reach
	n = s.Pass(now)
	require.Equal(t, 0, n)
}

func TestPassSchedulesCallReminder(t *testing.T) {
	gen := &fakeGen{}
	db, s := setup(t, gen)
	now := time.Now().In(time.UTC)
	seedCandidate(t, db, dao.ChannelCall, now.AddDate(0, 0, -4))

	n := s.Pass(now)
	require.Equal(t, 1, n)

	items, err := db.DueItems(dao.ChannelCall, "t1", 10, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, items[0].Subject)
	require.Equal(t, "hi, just checking in", items[0].Body)
}

// A generator outage must leave the stage untouched so the candidate comes
// back on the next pass.
func TestGenerationFailureLeavesStage(t *testing.T) {
	gen := &fakeGen{err: errors.New("generator down")}
	db, s := setup(t, gen)
	now := time.Now().In(time.UTC)
	seedCandidate(t, db, dao.ChannelEmail, now.AddDate(0, 0, -4))

	n := s.Pass(now)
	require.Equal(t, 0, n)

	items, err := db.DueItems(dao.ChannelEmail, "t1", 10, now)
	require.NoError(t, err)
	require.Empty(t, items)

	log, err := db.EngagementByRef(dao.ChannelEmail, "msg-1")
	require.NoError(t, err)
	require.Equal(t, dao.StageNone, log.LastReminderSent)

	// the generator recovers, the same candidate goes through
	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()

	n = s.Pass(now)
	require.Equal(t, 1, n)
}

func TestStagesAreMonotonic(t *testing.T) {
	gen := &fakeGen{}
	db, s := setup(t, gen)
	now := time.Now().In(time.UTC)
	seedCandidate(t, db, dao.ChannelEmail, now.AddDate(0, 0, -10))

	require.Equal(t, 1, s.Pass(now.AddDate(0, 0, -4)))
	require.Equal(t, 1, s.Pass(now))
	// the campaign allows two reminders, no third stage ever
	require.Equal(t, 0, s.Pass(now.AddDate(0, 0, 30)))

	log, err := db.EngagementByRef(dao.ChannelEmail, "msg-1")
	require.NoError(t, err)
	require.Equal(t, dao.StageR2, log.LastReminderSent)

	require.Len(t, gen.strategies, 2)
	require.Equal(t, "r1", gen.strategies[0].Stage)
	require.Equal(t, "r2", gen.strategies[1].Stage)
}
