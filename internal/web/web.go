// Package web is the HTTP surface: enqueueing, run progress and retry,
// suppressions and provider webhooks. Authentication is an api key bound to
// a tenant; every handler scopes its reads and writes to that tenant.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"

	"github.com/alinaqi/reachgenie"
	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/internal/runtrack"
	"github.com/alinaqi/reachgenie/internal/signals"
	"github.com/alinaqi/reachgenie/internal/suppress"
	"github.com/alinaqi/reachgenie/tools"
)

type Config struct {
	Port int

	Hostname     string
	AutoTLS      bool
	AutoTLSEmail string

	// Metrics, when set, is mounted on /metrics for polling.
	Metrics http.HandlerFunc
}

type Server struct {
	cfg     Config
	db      dao.DAO
	gate    *suppress.Gate
	tracker *runtrack.Tracker
	log     *logrus.Logger

	e *echo.Echo

	ostart sync.Once
	ostop  sync.Once
}

func New(cfg Config, db dao.DAO, gate *suppress.Gate, tracker *runtrack.Tracker, lc *tools.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Server{
		cfg:     cfg,
		db:      db,
		gate:    gate,
		tracker: tracker,
		log:     lc.New("web"),
	}
}

func (s *Server) Start() {
	s.ostart.Do(func() {

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true

		prom := prometheus.NewPrometheus("reachgenie_api", nil)
		e.Use(middleware.Recover(), prom.HandlerFunc)

		e.GET("/ping", func(c echo.Context) error {
			return c.String(http.StatusOK, "pong")
		})

		if s.cfg.Metrics != nil {
			e.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
		}

		e.POST("/queue/:channel", s.enqueue)
		e.POST("/runs", s.startRun)
		e.GET("/runs/:id", s.runProgress)
		e.POST("/runs/:id/retry", s.runRetry)
		e.POST("/suppressions", s.suppressions)
		e.POST("/events", s.events)

		s.e = e

		go func() {
			var err error
			if s.cfg.AutoTLS {
				e.AutoTLSManager.Prompt = autocert.AcceptTOS
				e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(s.cfg.Hostname)
				e.AutoTLSManager.Cache = autocert.DirCache(".autocert")
				e.AutoTLSManager.Email = s.cfg.AutoTLSEmail
				s.log.Infof("starting api server with auto tls for %s", s.cfg.Hostname)
				err = e.StartAutoTLS(fmt.Sprintf(":%d", s.cfg.Port))
			} else {
				s.log.Infof("starting api server on :%d", s.cfg.Port)
				err = e.Start(fmt.Sprintf(":%d", s.cfg.Port))
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("api server terminated")
			}
		}()
	})
}

func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.ostop.Do(func() {
		if s.e != nil {
			err = s.e.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) auth(c echo.Context) (*dao.APIKey, error) {
	key := c.QueryParam("key")
	if key == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "an api key must be provided")
	}
	ak, err := s.db.GetApiKey(key)
	if errors.Is(err, dao.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
	}
	if err != nil {
		return nil, fmt.Errorf("could not look up api key, %w", err)
	}
	return ak, nil
}

func validateEnqueue(channel dao.Channel, req reachgenie.EnqueueRequest) error {
	if req.CampaignID == "" || req.CampaignRunID == "" || req.LeadID == "" {
		return errors.New("campaign_id, campaign_run_id and lead_id must be provided")
	}
	switch channel {
	case dao.ChannelEmail:
		if req.Email == nil || req.Call != nil {
			return errors.New("an email queue item must carry email content and nothing else")
		}
		if req.Email.Subject == "" {
			return errors.New("a subject must be provided")
		}
		if req.Email.HTML == "" && req.Email.Text == "" {
			return errors.New("content of the email must be provided")
		}
	case dao.ChannelCall:
		if req.Call == nil || req.Email != nil {
			return errors.New("a call queue item must carry a call script and nothing else")
		}
		if req.Call.Script == "" {
			return errors.New("a call script must be provided")
		}
	}
	return nil
}

func (s *Server) enqueue(c echo.Context) error {

	key, err := s.auth(c)
	if err != nil {
		return err
	}

	channel := dao.Channel(c.Param("channel"))
	if !channel.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "channel must be email or call")
	}

	var req reachgenie.EnqueueRequest
	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body")
	}
	err = validateEnqueue(channel, req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	now := time.Now().In(time.UTC)
	item := dao.QueueItem{
		Channel:       channel,
		TenantID:      key.TenantID,
		CampaignID:    req.CampaignID,
		CampaignRunID: req.CampaignRunID,
		LeadID:        req.LeadID,
		Priority:      req.Priority,
		ScheduledFor:  now,
	}
	if req.ScheduledFor != nil {
		item.ScheduledFor = req.ScheduledFor.In(time.UTC)
	}
	if req.MaxRetries != nil {
		item.MaxRetries = *req.MaxRetries
	}
	switch channel {
	case dao.ChannelEmail:
		item.Subject = req.Email.Subject
		item.Body = req.Email.HTML
		if item.Body == "" {
			item.Body = req.Email.Text
		}
	case dao.ChannelCall:
		item.Body = req.Call.Script
	}

	id, err := s.db.Enqueue(item)
	if err != nil {
		return fmt.Errorf("could not enqueue item, %w", err)
	}

	// wake the dispatcher ahead of its ticker
	if channel == dao.ChannelCall {
		signals.Notify(signals.CallItemQueued)
	} else {
		signals.Notify(signals.EmailItemQueued)
	}

	return c.JSON(http.StatusOK, reachgenie.EnqueueResponse{ID: id.String()})
}

func (s *Server) startRun(c echo.Context) error {

	key, err := s.auth(c)
	if err != nil {
		return err
	}

	var req reachgenie.StartRunRequest
	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body")
	}
	if req.CampaignID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a campaign_id must be provided")
	}
	if req.LeadsTotal < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "leads_total cannot be negative")
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	now := time.Now().In(time.UTC)
	err = s.db.CreateRun(dao.CampaignRun{
		ID:         req.RunID,
		CampaignID: req.CampaignID,
		TenantID:   key.TenantID,
		LeadsTotal: req.LeadsTotal,
	})
	if err != nil {
		return fmt.Errorf("could not create campaign run, %w", err)
	}
	err = s.db.MarkRunRunning(req.RunID, now)
	if err != nil {
		return fmt.Errorf("could not start campaign run, %w", err)
	}

	run, err := s.db.GetRun(req.RunID)
	if err != nil {
		return fmt.Errorf("could not load campaign run, %w", err)
	}
	return c.JSON(http.StatusOK, reachgenie.RunProgress{
		ID:             run.ID,
		CampaignID:     run.CampaignID,
		Status:         string(run.Status),
		LeadsProcessed: run.LeadsProcessed,
		LeadsTotal:     run.LeadsTotal,
	})
}

func (s *Server) getRun(c echo.Context) (*dao.CampaignRun, error) {
	key, err := s.auth(c)
	if err != nil {
		return nil, err
	}
	run, err := s.db.GetRun(c.Param("id"))
	if errors.Is(err, dao.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no such campaign run")
	}
	if err != nil {
		return nil, fmt.Errorf("could not load campaign run, %w", err)
	}
	if key.TenantID != "" && run.TenantID != key.TenantID {
		// the run exists, but not for this tenant
		return nil, echo.NewHTTPError(http.StatusNotFound, "no such campaign run")
	}
	return run, nil
}

func (s *Server) runProgress(c echo.Context) error {
	run, err := s.getRun(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reachgenie.RunProgress{
		ID:             run.ID,
		CampaignID:     run.CampaignID,
		Status:         string(run.Status),
		LeadsProcessed: run.LeadsProcessed,
		LeadsTotal:     run.LeadsTotal,
	})
}

func (s *Server) runRetry(c echo.Context) error {
	run, err := s.getRun(c)
	if err != nil {
		return err
	}
	n, err := s.tracker.RetryFailed(run.ID)
	if err != nil {
		return fmt.Errorf("could not retry failed items, %w", err)
	}
	if n > 0 {
		// a bulk reset can put work on both queues at once, wake every
		// dispatcher instead of one
		signals.Broadcast(signals.EmailItemQueued)
		signals.Broadcast(signals.CallItemQueued)
	}
	return c.JSON(http.StatusOK, map[string]int64{"reset": n})
}

func (s *Server) suppressions(c echo.Context) error {

	key, err := s.auth(c)
	if err != nil {
		return err
	}

	var req reachgenie.SuppressionRequest
	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body")
	}
	if tools.NormalizeAddress(req.Address) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "an address must be provided")
	}

	tenant := key.TenantID
	if req.Global {
		// only operator keys, which are bound to no tenant, suppress globally
		if key.TenantID != "" {
			return echo.NewHTTPError(http.StatusForbidden, "global suppressions require an operator key")
		}
		tenant = ""
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	err = s.gate.Add(req.Address, tenant, reason)
	if err != nil {
		return fmt.Errorf("could not add suppression, %w", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// events receives delivery provider webhooks. Events for unknown provider
// references are acknowledged and dropped; providers retry on errors and
// there is nothing a retry would fix.
func (s *Server) events(c echo.Context) error {

	key, err := s.auth(c)
	if err != nil {
		return err
	}

	var event reachgenie.Event
	err = c.Bind(&event)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not parse request body")
	}

	channel := dao.Channel(event.Channel)
	if !channel.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "channel must be email or call")
	}
	if event.ProviderRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "a provider_ref must be provided")
	}

	log, err := s.db.EngagementByRef(channel, event.ProviderRef)
	if errors.Is(err, dao.ErrNotFound) {
		s.log.WithField("ref", event.ProviderRef).WithField("event", event.Event).
			Debug("event for unknown provider ref, dropping")
		return c.NoContent(http.StatusOK)
	}
	if err != nil {
		return fmt.Errorf("could not resolve engagement log, %w", err)
	}
	// a ref belonging to another tenant is indistinguishable from an
	// unknown one for the posting key
	if key.TenantID != "" && key.TenantID != log.TenantID {
		s.log.WithField("ref", event.ProviderRef).WithField("tenant", key.TenantID).
			Debug("event for another tenant's provider ref, dropping")
		return c.NoContent(http.StatusOK)
	}

	now := time.Now().In(time.UTC)

	switch event.Event {
	case reachgenie.EventDelivered:
		// delivery is already implied by the sent transition

	case reachgenie.EventOpened:
		err = s.db.MarkOpened(log.ID)

	case reachgenie.EventReplied:
		// a reply on any channel ends escalation on every channel
		_, err = s.db.MarkReplied(log.CampaignRunID, log.LeadID, now)

	case reachgenie.EventMeetingBooked:
		err = s.db.MarkMeetingBooked(log.ID)

	case reachgenie.EventBounced, reachgenie.EventUnsubscribed:
		address := event.Address
		if address == "" {
			lead, lerr := s.db.GetLead(log.LeadID)
			if lerr != nil {
				return fmt.Errorf("could not resolve address for suppression, %w", lerr)
			}
			address = lead.Address(channel)
		}
		err = s.gate.Add(address, log.TenantID, event.Event.String())

	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown event %q", event.Event.String()))
	}
	if err != nil {
		return fmt.Errorf("could not apply %s event, %w", event.Event.String(), err)
	}

	return c.NoContent(http.StatusOK)
}
