package commands

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/bskygeo/listkeeper/bsky"
	"github.com/bskygeo/listkeeper/roster"
)

// withRoster sets up an initialized app, logs in and hands over a roster
// for the managed list.
func withRoster(ctx context.Context, cmd *cli.Command, fn func(a *app, client *bsky.Client, r *roster.Roster) error) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.requireInit(); err != nil {
		return err
	}
	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	r := roster.New(a.store, client, a.settings.ListURI, a.account(client),
		roster.WithLogger(a.logger),
		roster.WithSaveEvery(a.cfg.Store.SaveInterval),
	)
	return fn(a, client, r)
}

func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "add followed accounts to the list and follow list members",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "show what would change without changing anything"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRoster(ctx, cmd, func(a *app, _ *bsky.Client, r *roster.Roster) error {
				dryRun := cmd.Bool("dry-run")
				report, err := r.Sync(ctx, dryRun)
				if err != nil {
					return err
				}

				a.printf("%d follows, %d list members\n", report.Follows, report.ListMembers)
				if dryRun {
					a.println(styles.warn.Render("Dry run, nothing changed."))
					for _, p := range report.ToAdd {
						a.printf("  would add    %s\n", p.Handle)
					}
					for _, item := range report.ToFollow {
						a.printf("  would follow %s\n", item.Handle)
					}
					return nil
				}

				a.println(styles.title.Render("Sync complete"))
				a.println(styles.good.Render(fmt.Sprintf("  %d added to list", report.Added)))
				if report.Followed > 0 {
					a.printf("  %d now followed\n", report.Followed)
				}
				if report.URIsFilled > 0 {
					a.printf("  %d list item references filled in\n", report.URIsFilled)
				}
				if n := report.Errors(); n > 0 {
					a.println(styles.bad.Render(fmt.Sprintf("  %d errors", n)))
				}
				a.printf("  %d already synced\n", report.AlreadySynced)
				return nil
			})
		},
	}
}

func AddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "add one account to the list",
		ArgsUsage: "<handle or DID>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Usage: "also follow the account", Value: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			actor, err := firstArg(cmd, "handle or DID")
			if err != nil {
				return err
			}
			return withRoster(ctx, cmd, func(a *app, _ *bsky.Client, r *roster.Roster) error {
				res, err := r.Add(ctx, actor, cmd.Bool("follow"))
				if err != nil {
					return err
				}
				a.println(styles.good.Render("Added " + res.Member.Handle + " to the list."))
				if res.FollowError != nil {
					a.println(styles.warn.Render("  follow failed: " + res.FollowError.Error()))
				}
				return nil
			})
		},
	}
}

func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "take one account off the list",
		ArgsUsage: "<handle or DID>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			actor, err := firstArg(cmd, "handle or DID")
			if err != nil {
				return err
			}
			return withRoster(ctx, cmd, func(a *app, _ *bsky.Client, r *roster.Roster) error {
				res, err := r.Remove(ctx, actor)
				if err != nil {
					return err
				}
				a.println(styles.good.Render("Removed " + actor + " from the list."))
				if !res.Tracked {
					a.println(styles.dim.Render("  the account had no member record"))
				}
				return nil
			})
		},
	}
}

func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "show current list members",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "only members with this category"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "only members of this entity type"},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "only members from this source"},
			&cli.BoolFlag{Name: "no-bots", Usage: "leave out accounts flagged as bots"},
			&cli.BoolFlag{Name: "stats", Usage: "show summary statistics instead of the members"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			members, err := a.store.LoadMembers()
			if err != nil {
				return err
			}

			entries := roster.Filter{
				Category:   cmd.String("category"),
				EntityType: cmd.String("type"),
				Source:     cmd.String("source"),
				NoBots:     cmd.Bool("no-bots"),
			}.Apply(members)

			if cmd.Bool("stats") {
				stats := roster.ComputeStats(entries)
				a.println(styles.title.Render("Members: " + humanize.Comma(int64(stats.Total))))
				if stats.Bots > 0 {
					a.printf("Flagged as bots: %d\n", stats.Bots)
				}
				a.println(countTable("Source", stats.BySource))
				a.println(countTable("Entity type", stats.ByType))
				if len(stats.ByCategory) > 0 {
					a.println(countTable("Category", stats.ByCategory))
				}
				return nil
			}

			if len(entries) == 0 {
				a.println(styles.warn.Render("No members match the filters."))
				return nil
			}
			a.println(styles.title.Render(fmt.Sprintf("List members (%d)", len(entries))))
			a.println(memberTable(entries))
			return nil
		},
	}
}

func RefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "refetch member profiles, by default only those never fetched",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "refresh every active member"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRoster(ctx, cmd, func(a *app, _ *bsky.Client, r *roster.Roster) error {
				report, err := r.Refresh(ctx, cmd.Bool("all"))
				if err != nil {
					return err
				}
				if report.Selected == 0 {
					a.println(styles.good.Render("All members already have profile data."))
					return nil
				}
				a.println(styles.title.Render("Profile refresh complete"))
				a.println(styles.good.Render(fmt.Sprintf("  %d profiles updated", report.Updated)))
				if report.Errors > 0 {
					a.println(styles.bad.Render(fmt.Sprintf("  %d failed (deleted or suspended accounts)", report.Errors)))
				}
				return nil
			})
		},
	}
}

func ClassifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "classify members by entity type and flag bots",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "reclassify every member, not only unclassified ones"},
			&cli.BoolFlag{Name: "dry-run", Usage: "list who would be classified"},
			&cli.IntFlag{Name: "batch-size", Usage: "profiles per classifier call (at most 20)", Value: roster.ClassifyBatch},
			&cli.BoolFlag{Name: "local", Usage: "use stored profile data instead of fetching fresh profiles"},
		},
		Action: runClassify,
	}
}

func runClassify(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	if err := a.requireInit(); err != nil {
		return err
	}

	p := roster.ClassifyParams{
		All:       cmd.Bool("all"),
		DryRun:    cmd.Bool("dry-run"),
		BatchSize: cmd.Int("batch-size"),
		Local:     cmd.Bool("local"),
	}

	var graph roster.Graph
	account := a.settings.AccountDID
	if !p.Local && !p.DryRun {
		client, err := a.client(ctx)
		if err != nil {
			return err
		}
		graph = client
	}

	var c roster.Classifier
	if !p.DryRun {
		cl, err := a.classifier()
		if err != nil {
			return err
		}
		c = cl
	}

	r := roster.New(a.store, graph, a.settings.ListURI, account,
		roster.WithLogger(a.logger),
		roster.WithSaveEvery(a.cfg.Store.SaveInterval),
	)
	report, err := r.Classify(ctx, c, p)
	if err != nil {
		return err
	}

	if len(report.Selected) == 0 {
		a.println(styles.good.Render("All members already classified."))
		return nil
	}
	if p.DryRun {
		a.println(styles.warn.Render(fmt.Sprintf("Dry run, would classify %d members:", len(report.Selected))))
		for i, did := range report.Selected {
			if i == 10 {
				a.printf("  ... and %d more\n", len(report.Selected)-10)
				break
			}
			a.printf("  %s\n", did)
		}
		return nil
	}

	a.println(styles.title.Render("Classification complete"))
	for _, n := range roster.CountsOf(report.ByType) {
		a.printf("  %-15s %5d\n", n.Name, n.Count)
	}
	a.printf("  %-15s %5d\n", "bots flagged", report.Bots)
	if report.Errors > 0 {
		a.println(styles.bad.Render(fmt.Sprintf("  errors: %d", report.Errors)))
	}
	return nil
}
