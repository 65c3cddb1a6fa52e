package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/bskygeo/listkeeper/classifier"
	"github.com/bskygeo/listkeeper/crawl"
	"github.com/bskygeo/listkeeper/inbox"
	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/review"
)

func EvaluateCommand() *cli.Command {
	return &cli.Command{
		Name:      "evaluate",
		Usage:     "judge one account's relevance to the list",
		ArgsUsage: "<handle or DID>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			actor, err := firstArg(cmd, "handle or DID")
			if err != nil {
				return err
			}
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			c, err := a.classifier()
			if err != nil {
				return err
			}
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			eval := crawl.NewEvaluator(client, c, classifier.MaxPosts, a.logger)
			profile, posts, v, err := eval.Assess(ctx, models.NormalizeActor(actor))
			if err != nil {
				return err
			}

			a.printf("%s (%d posts sampled)\n", profile.Handle, len(posts))
			if v.IsRelevant {
				a.println(styles.good.Bold(true).Render(fmt.Sprintf("RELEVANT (confidence %.0f%%)", v.Confidence*100)))
			} else {
				a.println(styles.bad.Bold(true).Render(fmt.Sprintf("NOT RELEVANT (confidence %.0f%%)", v.Confidence*100)))
			}
			a.printf("  Entity type:  %s\n", v.EntityType)
			a.printf("  Categories:   %s\n", joinOr(v.Categories, "-"))
			a.printf("  Institution:  %s\n", v.InstitutionAffiliation)
			a.printf("  Activity:     %s\n", v.ActivityAssessment)
			a.printf("  Reasoning:    %s\n", v.Reasoning)
			return nil
		},
	}
}

func CrawlCommand() *cli.Command {
	return &cli.Command{
		Name:  "crawl",
		Usage: "discover candidates from the accounts members follow",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "threshold", Aliases: []string{"t"}, Usage: "minimum support (seed weight) for an account"},
			&cli.IntFlag{Name: "max-evaluate", Aliases: []string{"n"}, Usage: "most accounts to evaluate"},
			&cli.StringFlag{Name: "strategy", Usage: "seed strategy: all, institutions or weighted"},
		},
		Action: runCrawl,
	}
}

func runCrawl(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.requireInit(); err != nil {
		return err
	}

	p := crawl.Params{
		Threshold: a.cfg.Crawl.Threshold,
		Budget:    a.cfg.Crawl.MaxFetch,
		Strategy:  models.Strategy(a.cfg.Crawl.Strategy),
	}
	if cmd.IsSet("threshold") {
		p.Threshold = cmd.Int("threshold")
	}
	if cmd.IsSet("max-evaluate") {
		p.Budget = cmd.Int("max-evaluate")
	}
	if cmd.IsSet("strategy") {
		p.Strategy = models.Strategy(cmd.String("strategy"))
	}
	if _, err := models.ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	eval := crawl.NewEvaluator(client, a.optionalClassifier(), a.cfg.Crawl.PostSample, log.SubLogger(a.logger, "evaluate"))
	crawler := crawl.New(client, a.store.FollowCache(), eval,
		crawl.WithErrorPause(a.cfg.Crawl.ErrorPause),
		crawl.WithLogger(a.logger),
	)

	a.printf("Crawling with strategy %s, threshold %d, budget %d\n", p.Strategy, p.Threshold, p.Budget)
	added, report, err := crawler.Run(ctx, a.store, p)
	if errors.Is(err, crawl.ErrNoSeeds) {
		a.println(styles.warn.Render("No members match the strategy; classify members first so institutions can be found."))
		return nil
	}
	if err != nil {
		return err
	}

	a.println(styles.title.Render("Crawl complete"))
	a.printf("  seeds:        %d (%d cached, %d fetched, %d failed)\n", report.Seeds, report.CacheHits, report.Fetched, report.SeedErrors)
	a.printf("  unknown seen: %s, %d at threshold\n", humanize.Comma(int64(report.Tallied)), report.Qualified)
	a.printf("  evaluated:    %d, %d failed\n", report.Evaluated, report.ProfileErrors)
	a.println(styles.good.Render(fmt.Sprintf("  %d new candidates", len(added))))
	for _, c := range added {
		a.printf("    %-32s support %d, confidence %.0f%%\n", c.Handle, c.MemberFollowCount, c.Confidence*100)
	}
	if len(added) > 0 {
		a.println("\nNext: run `listkeeper review`.")
	}
	return nil
}

func CheckDMsCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-dms",
		Usage: "look for requests to join the list in direct messages",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			c, err := a.classifier()
			if err != nil {
				return err
			}
			client, err := a.client(ctx)
			if err != nil {
				return err
			}

			eval := crawl.NewEvaluator(client, c, classifier.MaxPosts, log.SubLogger(a.logger, "evaluate"))
			report, err := inbox.New(client, c, eval, client.DID(), a.logger).CheckDMs(ctx, a.store)
			if err != nil {
				return err
			}

			a.printf("Scanned %d conversations, %d requests\n", report.Conversations, report.Requests)
			for _, h := range report.Known {
				a.println(styles.dim.Render("  already known: " + h))
			}
			if len(report.Added) == 0 {
				a.println(styles.warn.Render("No new addition requests."))
				return nil
			}
			a.println(styles.good.Render(fmt.Sprintf("%d new requests added to the review queue:", len(report.Added))))
			for _, r := range report.Added {
				a.printf("  %s (%.0f%%): %s\n", r.Handle, r.Candidate.Confidence*100, r.Summary)
			}
			return nil
		},
	}
}

func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "walk the pending candidates and approve or reject them",
		Flags: []cli.Flag{
			&cli.FloatFlag{Name: "auto-approve", Usage: "approve at or above this confidence without asking"},
			&cli.FloatFlag{Name: "auto-reject", Usage: "reject below this confidence without asking"},
		},
		Action: runReview,
	}
}

func runReview(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.requireInit(); err != nil {
		return err
	}

	var decider review.Decider
	if cmd.IsSet("auto-approve") || cmd.IsSet("auto-reject") {
		hi := 2.0
		if cmd.IsSet("auto-approve") {
			hi = cmd.Float("auto-approve")
		}
		decider = review.ThresholdDecider{ApproveAt: hi, RejectBelow: cmd.Float("auto-reject")}
	} else {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return errors.New("review needs an interactive terminal; use --auto-approve/--auto-reject for unattended runs")
		}
		decider = review.NewPromptDecider(a.in, a.out)
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	m := review.NewMachine(a.store, client, decider, a.settings.ListURI,
		review.WithSaveEvery(a.cfg.Store.SaveInterval),
		review.WithLogger(a.logger),
	)
	summary, err := m.Run(ctx)
	if err != nil {
		return err
	}

	if summary.Approved+summary.Rejected+summary.Skipped+summary.Failed+summary.Reconciled == 0 && !summary.Quit {
		a.println(styles.warn.Render("No pending candidates to review."))
		return nil
	}
	a.println(styles.title.Render("Review session"))
	a.println(styles.good.Render(fmt.Sprintf("  %d approved", summary.Approved)))
	a.println(styles.bad.Render(fmt.Sprintf("  %d rejected", summary.Rejected)))
	a.printf("  %d skipped\n", summary.Skipped)
	if summary.Failed > 0 {
		a.println(styles.bad.Render(fmt.Sprintf("  %d could not be added to the list", summary.Failed)))
	}
	if summary.Reconciled > 0 {
		a.printf("  %d already on the list\n", summary.Reconciled)
	}
	if summary.Remaining > 0 {
		a.printf("  %d left for next time\n", summary.Remaining)
	}
	return nil
}

func PromoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "promote",
		Usage: "move approved candidates onto the list and out of the queue",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Usage: "also follow each promoted account"},
			&cli.BoolFlag{Name: "dry-run", Usage: "show who would be promoted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if err := a.requireInit(); err != nil {
				return err
			}

			p := review.PromoteParams{
				ListURI:   a.settings.ListURI,
				Follow:    cmd.Bool("follow"),
				DryRun:    cmd.Bool("dry-run"),
				SaveEvery: a.cfg.Store.SaveInterval,
			}

			var client review.Promoter
			if !p.DryRun {
				c, err := a.client(ctx)
				if err != nil {
					return err
				}
				client = c
			}

			report, err := review.Promote(ctx, a.store, client, p, a.logger)
			if err != nil {
				return err
			}

			if len(report.Planned) == 0 {
				a.println(styles.warn.Render("No approved candidates to promote."))
				return nil
			}
			if p.DryRun {
				a.println(styles.warn.Render(fmt.Sprintf("Dry run, would promote %d candidates:", len(report.Planned))))
				for _, did := range report.Planned {
					a.printf("  %s\n", did)
				}
				return nil
			}

			a.println(styles.title.Render("Promotion complete"))
			a.println(styles.good.Render(fmt.Sprintf("  %d promoted (%d newly added to the list)", report.Promoted, report.AddedToList)))
			if p.Follow {
				a.printf("  %d followed\n", report.Followed)
			}
			if n := report.Failed + report.FollowErrors; n > 0 {
				a.println(styles.bad.Render(fmt.Sprintf("  %d errors", n)))
			}
			return nil
		},
	}
}

func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "inspect or clear the follow list cache",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "show cached seeds",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup(ctx, cmd)
					if err != nil {
						return err
					}
					seeds, err := a.store.FollowCache().List()
					if err != nil {
						return err
					}
					if len(seeds) == 0 {
						a.println("The follow cache is empty.")
						return nil
					}
					t := newTable("Seed", "Follows", "Crawled")
					for _, s := range seeds {
						t.Row(s.DID, humanize.Comma(int64(s.Follows)), humanize.Time(s.CrawledAt))
					}
					a.println(t.String())
					return nil
				},
			},
			{
				Name:      "clear",
				Usage:     "drop cached follow lists so the next crawl fetches them again",
				ArgsUsage: "[seed DID]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "clear every seed"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup(ctx, cmd)
					if err != nil {
						return err
					}
					fc := a.store.FollowCache()
					if cmd.Bool("all") {
						n, err := fc.ClearAll()
						if err != nil {
							return err
						}
						a.printf("Cleared %d cached seeds.\n", n)
						return nil
					}
					did, err := firstArg(cmd, "seed DID")
					if err != nil {
						return err
					}
					if err := fc.Clear(did); err != nil {
						return err
					}
					a.printf("Cleared %s.\n", did)
					return nil
				},
			},
		},
	}
}

func joinOr(s []string, empty string) string {
	if len(s) == 0 {
		return empty
	}
	return strings.Join(s, ", ")
}
