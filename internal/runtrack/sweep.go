package runtrack

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/tools"
)

type SweepConfig struct {
	Interval      time.Duration
	ProcessingTTL time.Duration
}

// Sweep periodically closes out campaign runs and reclaims stuck items. It
// is the authoritative completion path: a run whose queues are drained is
// completed even when leads_processed never reached leads_total, which
// happens when leads could not be queued at all (no contact info).
type Sweep struct {
	cfg SweepConfig
	db  dao.DAO
	log *logrus.Logger

	ctx    context.Context
	cancel func()
	done   chan struct{}

	ostart sync.Once
	ostop  sync.Once
}

func NewSweep(cfg SweepConfig, db dao.DAO, lc *tools.Logger) *Sweep {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweep{
		cfg:    cfg,
		db:     db,
		log:    lc.New("run-sweep"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Sweep) Start() {
	s.ostart.Do(func() {
		go s.loop()
	})
}

func (s *Sweep) Stop(ctx context.Context) error {
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

func (s *Sweep) loop() {
	defer close(s.done)
	s.log.Infof("starting completion sweep, interval %s, processing ttl %s", s.cfg.Interval, s.cfg.ProcessingTTL)
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("completion sweep stopping")
			return
		case <-time.After(s.cfg.Interval):
		}
		s.Pass(time.Now().In(time.UTC))
	}
}

// Pass runs one sweep iteration: reclaim first, so an item stranded in
// processing cannot hold a finished run open past its TTL.
func (s *Sweep) Pass(now time.Time) {

	for _, c := range dao.Channels {
		n, err := s.db.ReclaimStuck(c, now.Add(-s.cfg.ProcessingTTL), now)
		if err != nil {
			s.log.WithError(err).Errorf("could not reclaim stuck %s items", c)
			continue
		}
		if n > 0 {
			s.log.Warnf("reclaimed %d stuck %s items back to pending", n, c)
		}
	}

	runs, err := s.db.RunningRuns()
	if err != nil {
		s.log.WithError(err).Error("could not list running campaign runs")
		return
	}

	for _, run := range runs {
		open, err := s.db.OpenCount(run.ID)
		if err != nil {
			s.log.WithError(err).WithField("run", run.ID).Error("could not count open items")
			continue
		}
		if open > 0 {
			continue
		}
		err = s.db.CompleteRun(run.ID, now)
		if err != nil && !errors.Is(err, dao.ErrConflict) {
			s.log.WithError(err).WithField("run", run.ID).Error("could not complete run")
			continue
		}
		if err == nil {
			s.log.WithField("run", run.ID).
				WithField("processed", run.LeadsProcessed).
				WithField("total", run.LeadsTotal).
				Info("campaign run completed by sweep")
		}
	}
}
