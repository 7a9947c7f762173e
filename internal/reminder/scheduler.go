// Package reminder escalates engaged-but-silent leads through follow-up
// stages. Each pass picks engagement logs whose cooldown has elapsed, writes
// a stage-appropriate message through the content generator and enqueues it
// as a fresh queue item, then advances the stage with a conditional update so
// two schedulers can never double-send the same stage.
package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/content"
	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/internal/signals"
	"github.com/alinaqi/reachgenie/tools"
)

type Config struct {
	Interval   time.Duration
	BatchSize  int
	GenTimeout time.Duration
	MaxRetries int
}

type Counters struct {
	Scheduled *prometheus.CounterVec
	GenErrors prometheus.Counter
}

func NewCounters(factory promauto.Factory) *Counters {
	return &Counters{
		Scheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_scheduled_total",
			Help: "Reminder items enqueued, by channel and stage.",
		}, []string{"channel", "stage"}),
		GenErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "reminder_generation_errors_total",
			Help: "Content generation failures; the stage stays put and is retried next pass.",
		}),
	}
}

type Scheduler struct {
	cfg      Config
	db       dao.DAO
	gen      content.Generator
	counters *Counters
	log      *logrus.Logger

	ctx    context.Context
	cancel func()
	done   chan struct{}

	ostart sync.Once
	ostop  sync.Once
}

func New(cfg Config, db dao.DAO, gen content.Generator, counters *Counters, lc *tools.Logger) (*Scheduler, error) {
	err := ValidateProfiles()
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		gen:      gen,
		counters: counters,
		log:      lc.New("reminder"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() {
	s.ostart.Do(func() {
		go s.loop()
	})
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.ostop.Do(func() {
		s.cancel()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	s.log.Infof("starting reminder scheduler, interval %s, batch size %d", s.cfg.Interval, s.cfg.BatchSize)
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("reminder scheduler stopping")
			return
		case <-time.After(s.cfg.Interval):
		}
		s.Pass(time.Now().In(time.UTC))
	}
}

// Pass runs one scheduling iteration and returns how many reminders it
// enqueued. Candidates that fail are logged and left for the next pass.
func (s *Scheduler) Pass(now time.Time) int {

	cands, err := s.db.DueReminders(s.cfg.BatchSize, now)
	if err != nil {
		s.log.WithError(err).Error("could not list due reminders")
		return 0
	}

	var scheduled int
	for _, cand := range cands {
		if s.ctx.Err() != nil {
			break
		}
		err := s.schedule(cand, now)
		if errors.Is(err, dao.ErrConflict) {
			// another scheduler advanced this log under us
			continue
		}
		if err != nil {
			s.log.WithError(err).
				WithField("log", cand.Log.ID).
				WithField("lead", cand.Lead.ID).
				Warn("could not schedule reminder")
			continue
		}
		scheduled++
	}
	return scheduled
}

// schedule moves one engagement log a single stage forward. Generation
// failures return before anything is written, so the stage is untouched and
// the candidate comes back next pass.
func (s *Scheduler) schedule(cand dao.ReminderCandidate, now time.Time) error {

	target, ok := cand.Log.LastReminderSent.Next()
	if !ok {
		return errors.New("reminder progression is exhausted")
	}

	level := Classify(cand.Log)
	strategy, err := StrategyFor(target, level)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.GenTimeout)
	defer cancel()

	item := dao.QueueItem{
		Channel:       cand.Log.Channel,
		TenantID:      cand.Log.TenantID,
		CampaignID:    cand.Log.CampaignID,
		CampaignRunID: cand.Log.CampaignRunID,
		LeadID:        cand.Log.LeadID,
		MaxRetries:    s.cfg.MaxRetries,
		ScheduledFor:  now,
	}

	switch cand.Log.Channel {
	case dao.ChannelEmail:
		ec, err := s.gen.GenerateEmail(ctx, strategy, cand.Lead, cand.Campaign)
		if err != nil {
			s.counters.GenErrors.Inc()
			return err
		}
		item.Subject = ec.Subject
		item.Body = ec.HTML
	case dao.ChannelCall:
		script, err := s.gen.GenerateCallScript(ctx, strategy, cand.Lead, cand.Campaign)
		if err != nil {
			s.counters.GenErrors.Inc()
			return err
		}
		item.Body = script
	default:
		return errors.New("unknown engagement channel " + cand.Log.Channel.String())
	}

	id, err := s.db.Enqueue(item)
	if err != nil {
		return err
	}

	err = s.db.AdvanceReminder(cand.Log.ID, cand.Log.LastReminderSent, now)
	if err != nil {
		return err
	}

	s.counters.Scheduled.WithLabelValues(cand.Log.Channel.String(), target.String()).Inc()
	s.log.WithField("item", id).
		WithField("lead", cand.Lead.ID).
		WithField("stage", target.String()).
		WithField("engagement", level.String()).
		Debug("reminder scheduled")

	if cand.Log.Channel == dao.ChannelCall {
		signals.Notify(signals.CallItemQueued)
	} else {
		signals.Notify(signals.EmailItemQueued)
	}
	return nil
}
