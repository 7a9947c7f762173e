// Package dispatch drains the outbound queues. One Dispatcher owns one
// channel's dispatch loop: it polls for tenants with due work, asks the
// throttle policy for capacity, claims items one by one and hands them to a
// bounded worker pool for sending.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/internal/runtrack"
	"github.com/alinaqi/reachgenie/internal/sender"
	"github.com/alinaqi/reachgenie/internal/signals"
	"github.com/alinaqi/reachgenie/internal/suppress"
	"github.com/alinaqi/reachgenie/internal/throttle"
	"github.com/alinaqi/reachgenie/tools"
)

type Config struct {
	Channel     dao.Channel
	Interval    time.Duration
	Workers     int
	SendTimeout time.Duration
}

// SendFunc performs the actual delivery for one claimed item and returns the
// provider reference. Adapters below bind the two provider interfaces.
type SendFunc func(ctx context.Context, item dao.QueueItem, address string) (providerRef string, err error)

func EmailSendFunc(s sender.EmailSender) SendFunc {
	return func(ctx context.Context, item dao.QueueItem, address string) (string, error) {
		return s.SendEmail(ctx, address, item.Subject, item.Body, metadataOf(item))
	}
}

func CallSendFunc(d sender.CallDialer) SendFunc {
	return func(ctx context.Context, item dao.QueueItem, address string) (string, error) {
		return d.InitiateCall(ctx, address, item.Body, metadataOf(item))
	}
}

func metadataOf(item dao.QueueItem) sender.Metadata {
	return sender.Metadata{
		TenantID:      item.TenantID,
		CampaignID:    item.CampaignID,
		CampaignRunID: item.CampaignRunID,
		LeadID:        item.LeadID,
		ItemID:        item.ID.String(),
	}
}

type Dispatcher struct {
	cfg      Config
	db       dao.DAO
	gate     *suppress.Gate
	policy   *throttle.Policy
	tracker  *runtrack.Tracker
	send     SendFunc
	counters *Counters
	log      *logrus.Logger

	ctx    context.Context
	cancel func()

	pool *pond.WorkerPool

	ostart sync.Once
	ostop  sync.Once
}

func New(cfg Config, db dao.DAO, gate *suppress.Gate, policy *throttle.Policy,
	tracker *runtrack.Tracker, send SendFunc, counters *Counters, lc *tools.Logger) (*Dispatcher, error) {

	if !cfg.Channel.Valid() {
		return nil, fmt.Errorf("invalid channel %q", string(cfg.Channel))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		db:       db,
		gate:     gate,
		policy:   policy,
		tracker:  tracker,
		send:     send,
		counters: counters,
		log:      lc.New("dispatch-" + cfg.Channel.String()),
		ctx:      ctx,
		cancel:   cancel,
		pool:     pond.New(cfg.Workers, 0, pond.MinWorkers(cfg.Workers)),
	}, nil
}

func (d *Dispatcher) Start() {
	d.ostart.Do(func() {
		go d.loop()
	})
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.ostop.Do(func() {
		d.cancel()
		select {
		case <-d.pool.Stop().Done():
			d.log.Info("dispatcher has been shut down")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

func (d *Dispatcher) wakeup() signals.Signal {
	if d.cfg.Channel == dao.ChannelCall {
		return signals.CallItemQueued
	}
	return signals.EmailItemQueued
}

func (d *Dispatcher) loop() {
	d.log.Infof("starting dispatch loop, interval %s, %d workers", d.cfg.Interval, d.cfg.Workers)

	queued, cancelListen := signals.Listen(d.wakeup())
	defer cancelListen()

	for {
		select {
		case <-d.ctx.Done():
			d.log.Info("dispatch loop stopping")
			return
		case <-queued:
		case <-time.After(d.cfg.Interval):
		}

		n := d.Cycle(time.Now().In(time.UTC))
		// keep draining while there is a backlog
		for n > 0 && d.ctx.Err() == nil {
			n = d.Cycle(time.Now().In(time.UTC))
		}
	}
}

// Cycle runs one dispatch pass over every tenant with due work and blocks
// until all selected items reached an outcome. Returns the number of items
// it processed.
func (d *Dispatcher) Cycle(now time.Time) int {

	tenants, err := d.db.DueTenants(d.cfg.Channel, now)
	if err != nil {
		d.log.WithError(err).Error("could not enumerate tenants with due items")
		return 0
	}

	group := d.pool.Group()
	var processed int

	for _, tenant := range tenants {
		capacity, err := d.policy.Capacity(d.cfg.Channel, tenant, now)
		if err != nil {
			d.log.WithError(err).WithField("tenant", tenant).Error("could not compute capacity, skipping tenant")
			continue
		}
		if capacity <= 0 {
			d.log.WithField("tenant", tenant).Debug("tenant is out of capacity, deferring")
			continue
		}

		items, err := d.db.DueItems(d.cfg.Channel, tenant, capacity, now)
		if err != nil {
			d.log.WithError(err).WithField("tenant", tenant).Error("could not fetch due items")
			continue
		}

		for _, item := range items {
			item := item
			processed++
			group.Submit(func() {
				d.process(item)
			})
		}
	}

	group.Wait()
	return processed
}

// process takes one item from claim to an outcome. Failures here never
// propagate; every path ends in a state transition or leaves the item for
// the stuck-processing sweep.
func (d *Dispatcher) process(item dao.QueueItem) {

	err := d.db.Claim(d.cfg.Channel, item.ID)
	if errors.Is(err, dao.ErrConflict) {
		// a concurrent cycle got there first
		return
	}
	if err != nil {
		d.log.WithError(err).WithField("item", item.ID).Error("could not claim item")
		return
	}

	now := time.Now().In(time.UTC)

	lead, err := d.db.GetLead(item.LeadID)
	if errors.Is(err, dao.ErrNotFound) {
		d.finalize(item, dao.StatusFailed, "lead does not exist", now)
		return
	}
	if err != nil {
		d.retry(item, fmt.Errorf("could not load lead, %w", err), now)
		return
	}

	address := lead.Address(d.cfg.Channel)
	if address == "" {
		d.finalize(item, dao.StatusSkipped, "lead has no contact info for channel", now)
		return
	}

	// addresses can become suppressed between enqueue and dispatch
	if d.gate.Suppressed(address, item.TenantID) {
		d.finalize(item, dao.StatusSkipped, "address is suppressed", now)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	ref, err := d.send(ctx, item, address)
	now = time.Now().In(time.UTC)
	if err != nil {
		d.retry(item, err, now)
		return
	}

	err = d.db.MarkSent(d.cfg.Channel, item.ID, ref, now)
	if err != nil {
		d.log.WithError(err).WithField("item", item.ID).Error("could not mark item sent")
		return
	}
	d.counters.Sent.WithLabelValues(d.cfg.Channel.String()).Inc()

	err = d.db.UpsertEngagementLog(dao.EngagementLog{
		Channel:       d.cfg.Channel,
		TenantID:      item.TenantID,
		CampaignID:    item.CampaignID,
		CampaignRunID: item.CampaignRunID,
		LeadID:        item.LeadID,
		SentAt:        now,
		ProviderRef:   ref,
	})
	if err != nil {
		d.log.WithError(err).WithField("item", item.ID).Error("could not record engagement log")
	}

	d.tracker.ItemFinished(item.CampaignRunID)
}

// retry reschedules with exponential backoff, or terminates the item when
// its attempts are used up.
func (d *Dispatcher) retry(item dao.QueueItem, sendErr error, now time.Time) {
	attempt := item.RetryCount + 1

	if attempt >= item.MaxRetries {
		d.finalize(item, dao.StatusFailed, sendErr.Error(), now)
		return
	}

	at := now.Add(Backoff(attempt))
	err := d.db.Reschedule(d.cfg.Channel, item.ID, at, sendErr.Error())
	if errors.Is(err, dao.ErrConflict) {
		// the retry budget was already spent by an earlier cycle, the item
		// is still processing and can only terminate
		d.finalize(item, dao.StatusFailed, sendErr.Error(), now)
		return
	}
	if err != nil {
		d.log.WithError(err).WithField("item", item.ID).Error("could not reschedule item")
		return
	}
	d.counters.Retried.WithLabelValues(d.cfg.Channel.String()).Inc()
	d.log.WithField("item", item.ID).WithField("attempt", attempt).
		Debugf("send failed, retrying at %s: %v", at.Format(time.RFC3339), sendErr)
}

// finalize moves the item to a terminal state and counts it toward campaign
// run progress, exactly once: the conditional transition can only succeed on
// the first terminal attempt.
func (d *Dispatcher) finalize(item dao.QueueItem, status dao.Status, reason string, now time.Time) {
	var err error
	switch status {
	case dao.StatusFailed:
		err = d.db.MarkFailed(d.cfg.Channel, item.ID, reason, now)
	case dao.StatusSkipped:
		err = d.db.MarkSkipped(d.cfg.Channel, item.ID, reason, now)
	default:
		err = fmt.Errorf("finalize does not handle status %q", string(status))
	}
	if err != nil {
		d.log.WithError(err).WithField("item", item.ID).Error("could not finalize item")
		return
	}

	switch status {
	case dao.StatusFailed:
		d.counters.Failed.WithLabelValues(d.cfg.Channel.String()).Inc()
	case dao.StatusSkipped:
		d.counters.Skipped.WithLabelValues(d.cfg.Channel.String()).Inc()
	}

	d.tracker.ItemFinished(item.CampaignRunID)
}

// Backoff doubles per attempt: 2, 4, 8... minutes, capped at attempt 10.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(1<<uint(attempt)) * time.Minute
}
