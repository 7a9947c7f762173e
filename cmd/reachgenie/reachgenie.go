package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alinaqi/reachgenie"
)

func main() {
	app := &cli.App{
		Name:  "reachgenie",
		Usage: "a cli for talking to a reachgenie engine",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				EnvVars: []string{"REACHGENIE_HOST"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "key",
				EnvVars: []string{"REACHGENIE_API_KEY"},
			},
		},

		Commands: []*cli.Command{
			{
				Name:  "enqueue",
				Usage: "add one outbound item to a channel queue",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "channel", Value: "email", Usage: "email or call"},
					&cli.StringFlag{Name: "campaign", Required: true},
					&cli.StringFlag{Name: "run", Required: true},
					&cli.StringFlag{Name: "lead", Required: true},
					&cli.StringFlag{Name: "subject"},
					&cli.StringFlag{Name: "html"},
					&cli.StringFlag{Name: "text"},
					&cli.StringFlag{Name: "script"},
					&cli.IntFlag{Name: "priority"},
					&cli.TimestampFlag{Name: "at", Layout: time.RFC3339},
				},
				Action: enqueue,
			},
			{
				Name:  "run",
				Usage: "campaign run operations",
				Subcommands: []*cli.Command{
					{
						Name:  "start",
						Usage: "register a campaign execution",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "campaign", Required: true},
							&cli.StringFlag{Name: "id", Usage: "generated when omitted"},
							&cli.IntFlag{Name: "leads"},
						},
						Action: runStart,
					},
					{
						Name:      "status",
						ArgsUsage: "<run-id>",
						Action:    runStatus,
					},
					{
						Name:      "retry",
						Usage:     "reset the run's failed items back to pending",
						ArgsUsage: "<run-id>",
						Action:    runRetry,
					},
				},
			},
			{
				Name:  "suppress",
				Usage: "exclude an address or phone number from outreach",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Required: true},
					&cli.StringFlag{Name: "reason", Value: "manual"},
					&cli.BoolFlag{Name: "global", Usage: "suppress for every tenant, requires an operator key"},
				},
				Action: suppress,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "got err", err)
		os.Exit(1)
	}
}

func client(c *cli.Context) *reachgenie.Client {
	return reachgenie.NewClient(c.String("key"), c.String("host"))
}

func enqueue(c *cli.Context) error {

	req := reachgenie.EnqueueRequest{
		CampaignID:    c.String("campaign"),
		CampaignRunID: c.String("run"),
		LeadID:        c.String("lead"),
		Priority:      c.Int("priority"),
		ScheduledFor:  c.Timestamp("at"),
	}

	channel := c.String("channel")
	switch channel {
	case reachgenie.ChannelEmail:
		req.Email = &reachgenie.EmailContent{
			Subject: c.String("subject"),
			HTML:    c.String("html"),
			Text:    c.String("text"),
		}
	case reachgenie.ChannelCall:
		req.Call = &reachgenie.CallContent{
			Script: c.String("script"),
		}
	default:
		return fmt.Errorf("channel must be email or call, got %q", channel)
	}

	resp, err := client(c).Enqueue(c.Context, channel, req)
	if err != nil {
		return err
	}
	fmt.Println(resp.ID)
	return nil
}

func runStart(c *cli.Context) error {
	progress, err := client(c).StartRun(c.Context, reachgenie.StartRunRequest{
		RunID:      c.String("id"),
		CampaignID: c.String("campaign"),
		LeadsTotal: c.Int("leads"),
	})
	if err != nil {
		return err
	}
	fmt.Println(progress.ID)
	return nil
}

func runStatus(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return fmt.Errorf("a run id must be provided")
	}
	progress, err := client(c).RunProgress(c.Context, runID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runRetry(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return fmt.Errorf("a run id must be provided")
	}
	return client(c).RetryRun(c.Context, runID)
}

func suppress(c *cli.Context) error {
	return client(c).Suppress(c.Context, reachgenie.SuppressionRequest{
		Address: c.String("address"),
		Reason:  c.String("reason"),
		Global:  c.Bool("global"),
	})
}
