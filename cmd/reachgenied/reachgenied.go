package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/alinaqi/reachgenie/internal/config"
	"github.com/alinaqi/reachgenie/internal/content"
	"github.com/alinaqi/reachgenie/internal/dao"
	"github.com/alinaqi/reachgenie/internal/dispatch"
	"github.com/alinaqi/reachgenie/internal/metrics"
	"github.com/alinaqi/reachgenie/internal/reminder"
	"github.com/alinaqi/reachgenie/internal/runtrack"
	"github.com/alinaqi/reachgenie/internal/sender"
	"github.com/alinaqi/reachgenie/internal/suppress"
	"github.com/alinaqi/reachgenie/internal/throttle"
	"github.com/alinaqi/reachgenie/internal/web"
	"github.com/alinaqi/reachgenie/tools"
)

func main() {

	app := &cli.App{
		Name:   "reachgenied",
		Usage:  "a service for queueing and throttling outbound campaign email and calls",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Action: serve,
			},
			{
				Name:  "add-api-key",
				Usage: "register an api key for a tenant, an empty tenant makes an operator key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant"},
					&cli.StringFlag{Name: "key", Usage: "generated when omitted"},
				},
				Action: addApiKey,
			},
			{
				Name:  "set-throttle",
				Usage: "set per tenant send caps",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true},
					&cli.IntFlag{Name: "per-hour", Value: 500},
					&cli.IntFlag{Name: "per-day", Value: 500},
					&cli.BoolFlag{Name: "disabled"},
				},
				Action: setThrottle,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

func serve(c *cli.Context) error {

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config, %w", err)
	}

	base := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	base.SetLevel(level)

	lc := tools.LoggerCloner(base)
	l := lc.New("reachgenied")

	l.Infof("starting engine, db at %s", cfg.DbURI)

	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return fmt.Errorf("could not open database, %w", err)
	}

	prom := metrics.New(metrics.Config{
		ServiceName:  "reachgenied",
		Push:         cfg.MetricsPush,
		PushInterval: cfg.MetricsPushInterval,
		Poll:         cfg.MetricsPoll,
		PollUser:     cfg.MetricsPollUser,
		PollPassword: cfg.MetricsPollPassword,
	}, lc)

	gate := suppress.New(db, lc)
	policy := throttle.New(throttle.Config{SafetyCap: cfg.SafetyCap}, db, lc)
	tracker := runtrack.NewTracker(db, lc)

	counters := dispatch.NewCounters(prom.Register())

	emailSend := dispatch.EmailSendFunc(sender.NewHTTPEmailSender(sender.Config{
		URL: cfg.EmailProviderURL,
		Key: cfg.EmailProviderKey,
	}))
	callSend := dispatch.CallSendFunc(sender.NewHTTPCallDialer(sender.Config{
		URL: cfg.CallProviderURL,
		Key: cfg.CallProviderKey,
	}))

	emailDispatch, err := dispatch.New(dispatch.Config{
		Channel:     dao.ChannelEmail,
		Interval:    cfg.DispatchInterval,
		Workers:     cfg.DispatchWorkers,
		SendTimeout: cfg.SendTimeout,
	}, db, gate, policy, tracker, emailSend, counters, lc)
	if err != nil {
		return err
	}

	callDispatch, err := dispatch.New(dispatch.Config{
		Channel:     dao.ChannelCall,
		Interval:    cfg.DispatchInterval,
		Workers:     cfg.DispatchWorkers,
		SendTimeout: cfg.SendTimeout,
	}, db, gate, policy, tracker, callSend, counters, lc)
	if err != nil {
		return err
	}

	sweep := runtrack.NewSweep(runtrack.SweepConfig{
		Interval:      cfg.SweepInterval,
		ProcessingTTL: cfg.ProcessingTTL,
	}, db, lc)

	gen := content.NewHTTPGenerator(content.Config{URL: cfg.ContentURL, Key: cfg.ContentKey})
	reminders, err := reminder.New(reminder.Config{
		Interval:  cfg.ReminderInterval,
		BatchSize: cfg.ReminderBatchSize,
	}, db, gen, reminder.NewCounters(prom.Register()), lc)
	if err != nil {
		return err
	}

	api := web.New(web.Config{
		Port:         cfg.APIPort,
		Hostname:     cfg.Hostname,
		AutoTLS:      cfg.APIAutoTLS,
		AutoTLSEmail: cfg.APIAutoTLSEmail,
		Metrics:      prom.HttpMetrics(),
	}, db, gate, tracker, lc)

	services := []Stoppable{emailDispatch, callDispatch, sweep, reminders, api, prom}

	prom.Start()
	emailDispatch.Start()
	callDispatch.Start()
	sweep.Start()
	reminders.Start()
	api.Start()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	l.Infof("got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		service := service
		go func(service Stoppable) {
			defer wg.Done()
			err := service.Stop(shutdownCtx)
			if err != nil {
				l.WithError(err).Error("failed to stop service")
			}
		}(service)
	}

	go func() {
		<-shutdownCtx.Done()
		l.WithError(shutdownCtx.Err()).Warn("shutdown was forced, terminating now")
		os.Exit(1)
	}()

	wg.Wait()
	l.Infof("shutdown complete")
	return nil
}

func addApiKey(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return err
	}

	key := c.String("key")
	if key == "" {
		key = tools.RandStringRunes(32)
	}

	err = db.AddApiKey(dao.APIKey{Key: key, TenantID: c.String("tenant")})
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func setThrottle(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return err
	}

	return db.SetThrottleSettings(dao.ThrottleSettings{
		TenantID:   c.String("tenant"),
		MaxPerHour: c.Int("per-hour"),
		MaxPerDay:  c.Int("per-day"),
		Enabled:    !c.Bool("disabled"),
	})
}
