package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/alinaqi/reachgenie"
	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/internal/runtrack"
	"github.com/alinaqi/reachgenie/internal/suppress"
	"github.com/alinaqi/reachgenie/tools"
)

func setup(t *testing.T) (dao.DAO, *Server, *echo.Echo) {
	t.Helper()
	db, err := dao.NewSQLite(filepath.Join(t.TempDir(), "engine.sqlite"))
	require.NoError(t, err)

	lc := tools.LoggerCloner(logrus.New())
	gate := suppress.New(db, lc)
	tracker := runtrack.NewTracker(db, lc)

	require.NoError(t, db.AddApiKey(dao.APIKey{Key: "tenant-key", TenantID: "t1"}))
	require.NoError(t, db.AddApiKey(dao.APIKey{Key: "operator-key", TenantID: ""}))

	return db, New(Config{}, db, gate, tracker, lc), echo.New()
}

func request(e *echo.Echo, method, target string, body any) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body == nil {
		reader = strings.NewReader("")
	} else {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestEnqueueRequiresApiKey(t *testing.T) {
	_, srv, e := setup(t)

	c, _ := request(e, http.MethodPost, "/queue/email", nil)
	c.SetParamNames("channel")
	c.SetParamValues("email")

	err := srv.enqueue(c)
	require.Equal(t, http.StatusUnauthorized, httpCode(t, err))

	c, _ = request(e, http.MethodPost, "/queue/email?key=bogus", nil)
	c.SetParamNames("channel")
	c.SetParamValues("email")

	err = srv.enqueue(c)
	require.Equal(t, http.StatusUnauthorized, httpCode(t, err))
}

func TestEnqueueValidation(t *testing.T) {
	_, srv, e := setup(t)

	// call content on the email channel
	c, _ := request(e, http.MethodPost, "/queue/email?key=tenant-key", reachgenie.EnqueueRequest{
		CampaignID:    "camp-1",
		CampaignRunID: "run-1",
		LeadID:        "lead-1",
		Call:          &reachgenie.CallContent{Script: "hi"},
	})
	c.SetParamNames("channel")
	c.SetParamValues("email")
	require.Equal(t, http.StatusBadRequest, httpCode(t, srv.enqueue(c)))

	c, _ = request(e, http.MethodPost, "/queue/sms?key=tenant-key", nil)
	c.SetParamNames("channel")
	c.SetParamValues("sms")
	require.Equal(t, http.StatusBadRequest, httpCode(t, srv.enqueue(c)))
}

func TestEnqueueScopesToKeyTenant(t *testing.T) {
	db, srv, e := setup(t)

	c, rec := request(e, http.MethodPost, "/queue/email?key=tenant-key", reachgenie.EnqueueRequest{
		CampaignID:    "camp-1",
		CampaignRunID: "run-1",
		LeadID:        "lead-1",
		Email:         &reachgenie.EmailContent{Subject: "hello", HTML: "<p>hello</p>"},
	})
	c.SetParamNames("channel")
	c.SetParamValues("email")
	require.NoError(t, srv.enqueue(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp reachgenie.EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)

	items, err := db.DueItems(dao.ChannelEmail, "t1", 10, time.Now().In(time.UTC))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "t1", items[0].TenantID)
}

func TestStartRunGeneratesID(t *testing.T) {
	db, srv, e := setup(t)

	c, rec := request(e, http.MethodPost, "/runs?key=tenant-key", reachgenie.StartRunRequest{
		CampaignID: "camp-1",
		LeadsTotal: 25,
	})
	require.NoError(t, srv.startRun(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var progress reachgenie.RunProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.NotEmpty(t, progress.ID)
	require.Equal(t, string(dao.RunRunning), progress.Status)
	require.Equal(t, 25, progress.LeadsTotal)

	run, err := db.GetRun(progress.ID)
	require.NoError(t, err)
	require.Equal(t, "t1", run.TenantID)

	c, _ = request(e, http.MethodPost, "/runs?key=tenant-key", reachgenie.StartRunRequest{})
	require.Equal(t, http.StatusBadRequest, httpCode(t, srv.startRun(c)))
}

func TestRunProgressAndTenantIsolation(t *testing.T) {
	db, srv, e := setup(t)

	require.NoError(t, db.CreateRun(dao.CampaignRun{
		ID:         "run-1",
		CampaignID: "camp-1",
		TenantID:   "t1",
		LeadsTotal: 10,
	}))
	require.NoError(t, db.AddApiKey(dao.APIKey{Key: "other-key", TenantID: "t2"}))

	c, rec := request(e, http.MethodGet, "/runs/run-1?key=tenant-key", nil)
	c.SetParamNames("id")
	c.SetParamValues("run-1")
	require.NoError(t, srv.runProgress(c))

	var progress reachgenie.RunProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	require.Equal(t, "run-1", progress.ID)
	require.Equal(t, 10, progress.LeadsTotal)

	// another tenant cannot see the run
	c, _ = request(e, http.MethodGet, "/runs/run-1?key=other-key", nil)
	c.SetParamNames("id")
	c.SetParamValues("run-1")
	require.Equal(t, http.StatusNotFound, httpCode(t, srv.runProgress(c)))

	// operator keys see everything
	c, _ = request(e, http.MethodGet, "/runs/run-1?key=operator-key", nil)
	c.SetParamNames("id")
	c.SetParamValues("run-1")
	require.NoError(t, srv.runProgress(c))
}

func TestRunRetry(t *testing.T) {
	db, srv, e := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.CreateRun(dao.CampaignRun{
		ID: "run-1", CampaignID: "camp-1", TenantID: "t1", LeadsTotal: 1,
	}))
	require.NoError(t, db.MarkRunRunning("run-1", now))

	id, err := db.Enqueue(dao.QueueItem{
		Channel: dao.ChannelEmail, TenantID: "t1",
		CampaignID: "camp-1", CampaignRunID: "run-1", LeadID: "lead-1", Body: "x",
	})
	require.NoError(t, err)
	require.NoError(t, db.Claim(dao.ChannelEmail, id))
	require.NoError(t, db.MarkFailed(dao.ChannelEmail, id, "provider down", now))

	c, rec := request(e, http.MethodPost, "/runs/run-1/retry?key=tenant-key", nil)
	c.SetParamNames("id")
	c.SetParamValues("run-1")
	require.NoError(t, srv.runRetry(c))

	var out map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.EqualValues(t, 1, out["reset"])

	item, err := db.GetItem(dao.ChannelEmail, id)
	require.NoError(t, err)
	require.Equal(t, dao.StatusPending, item.Status)
}

func TestGlobalSuppressionRequiresOperator(t *testing.T) {
	db, srv, e := setup(t)

	c, _ := request(e, http.MethodPost, "/suppressions?key=tenant-key", reachgenie.SuppressionRequest{
		Address: "jane@example.com",
		Global:  true,
	})
	require.Equal(t, http.StatusForbidden, httpCode(t, srv.suppressions(c)))

	c, rec := request(e, http.MethodPost, "/suppressions?key=operator-key", reachgenie.SuppressionRequest{
		Address: "jane@example.com",
		Global:  true,
	})
	require.NoError(t, srv.suppressions(c))
	require.Equal(t, http.StatusNoContent, rec.Code)

	suppressed, err := db.IsSuppressed("jane@example.com", "any-tenant")
	require.NoError(t, err)
	require.True(t, suppressed)
}

func TestTenantSuppression(t *testing.T) {
	db, srv, e := setup(t)

	c, rec := request(e, http.MethodPost, "/suppressions?key=tenant-key", reachgenie.SuppressionRequest{
		Address: "jane@example.com",
		Reason:  "asked us to stop",
	})
	require.NoError(t, srv.suppressions(c))
	require.Equal(t, http.StatusNoContent, rec.Code)

	suppressed, err := db.IsSuppressed("jane@example.com", "t1")
	require.NoError(t, err)
	require.True(t, suppressed)
	suppressed, err = db.IsSuppressed("jane@example.com", "t2")
	require.NoError(t, err)
	require.False(t, suppressed)
}

func seedEngagement(t *testing.T, db dao.DAO) {
	t.Helper()
	now := time.Now().In(time.UTC)
	require.NoError(t, db.CreateLead(dao.Lead{
		ID: "lead-1", TenantID: "t1", Email: "jane@example.com",
	}))
	for _, c := range dao.Channels {
		require.NoError(t, db.UpsertEngagementLog(dao.EngagementLog{
			Channel:       c,
			TenantID:      "t1",
			CampaignID:    "camp-1",
			CampaignRunID: "run-1",
			LeadID:        "lead-1",
			SentAt:        now,
			ProviderRef:   "ref-" + c.String(),
		}))
	}
}

func postEvent(t *testing.T, srv *Server, e *echo.Echo, event reachgenie.Event) *httptest.ResponseRecorder {
	t.Helper()
	c, rec := request(e, http.MethodPost, "/events?key=tenant-key", event)
	require.NoError(t, srv.events(c))
	return rec
}

func TestEventsUpdateEngagement(t *testing.T) {
	db, srv, e := setup(t)
	seedEngagement(t, db)

	postEvent(t, srv, e, reachgenie.Event{
		ProviderRef: "ref-email",
		Channel:     "email",
		Event:       reachgenie.EventOpened,
	})
	log, err := db.EngagementByRef(dao.ChannelEmail, "ref-email")
	require.NoError(t, err)
	require.True(t, log.HasOpened)

	postEvent(t, srv, e, reachgenie.Event{
		ProviderRef: "ref-email",
		Channel:     "email",
		Event:       reachgenie.EventMeetingBooked,
	})
	log, err = db.EngagementByRef(dao.ChannelEmail, "ref-email")
	require.NoError(t, err)
	require.True(t, log.HasMeetingBooked)
}

// A reply on one channel ends the escalation on every channel.
func TestReplyEventCrossesChannels(t *testing.T) {
	db, srv, e := setup(t)
	seedEngagement(t, db)

	postEvent(t, srv, e, reachgenie.Event{
		ProviderRef: "ref-call",
		Channel:     "call",
		Event:       reachgenie.EventReplied,
	})

	for _, ch := range dao.Channels {
		log, err := db.EngagementByRef(ch, "ref-"+ch.String())
		require.NoError(t, err)
		require.True(t, log.HasReplied)
	}
}

func TestBounceEventSuppresses(t *testing.T) {
	db, srv, e := setup(t)
	seedEngagement(t, db)

	// no address in the payload, resolved through the lead
	postEvent(t, srv, e, reachgenie.Event{
		ProviderRef: "ref-email",
		Channel:     "email",
		Event:       reachgenie.EventBounced,
	})

	suppressed, err := db.IsSuppressed("jane@example.com", "t1")
	require.NoError(t, err)
	require.True(t, suppressed)

	lead, err := db.GetLead("lead-1")
	require.NoError(t, err)
	require.True(t, lead.DoNotContact)
}

// A key bound to one tenant cannot move another tenant's engagement state.
func TestEventsAreTenantScoped(t *testing.T) {
	db, srv, e := setup(t)
	seedEngagement(t, db)
	require.NoError(t, db.AddApiKey(dao.APIKey{Key: "other-key", TenantID: "t2"}))

	c, rec := request(e, http.MethodPost, "/events?key=other-key", reachgenie.Event{
		ProviderRef: "ref-email",
		Channel:     "email",
		Event:       reachgenie.EventOpened,
	})
	require.NoError(t, srv.events(c))
	require.Equal(t, http.StatusOK, rec.Code)

	log, err := db.EngagementByRef(dao.ChannelEmail, "ref-email")
	require.NoError(t, err)
	require.False(t, log.HasOpened)

	// operator keys post events for any tenant
	c, _ = request(e, http.MethodPost, "/events?key=operator-key", reachgenie.Event{
		ProviderRef: "ref-email",
		Channel:     "email",
		Event:       reachgenie.EventOpened,
	})
	require.NoError(t, srv.events(c))
	log, err = db.EngagementByRef(dao.ChannelEmail, "ref-email")
	require.NoError(t, err)
	require.True(t, log.HasOpened)
}

func TestUnknownProviderRefIsDropped(t *testing.T) {
	_, srv, e := setup(t)

	rec := postEvent(t, srv, e, reachgenie.Event{
		ProviderRef: "never-seen",
		Channel:     "email",
		Event:       reachgenie.EventOpened,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}
