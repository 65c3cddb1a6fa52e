package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/bskygeo/listkeeper/bsky"
	"github.com/bskygeo/listkeeper/config"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/roster"
	"github.com/bskygeo/listkeeper/store"
)

func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "log in, pick the managed list and import its members",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "list",
				Usage: "AT-URI of the list to manage, skips the list picker",
			},
		},
		Action: runInit,
	}
}

func runInit(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	if !a.cfg.Bsky.HasCredentials() {
		a.println("BSKY_HANDLE and BSKY_APP_PASSWORD are not set.")
		if err := promptCredentials(ctx, a, true, false); err != nil {
			return err
		}
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	listURI := cmd.String("list")
	if listURI == "" {
		listURI, err = pickList(ctx, a, client)
		if err != nil {
			return err
		}
	}
	if _, err := syntax.ParseATURI(listURI); err != nil {
		return fmt.Errorf("invalid list URI %q: %w", listURI, err)
	}

	r := roster.New(a.store, client, listURI, client.DID(),
		roster.WithLogger(a.logger),
		roster.WithSaveEvery(a.cfg.Store.SaveInterval),
	)
	report, err := r.Bootstrap(ctx)
	if err != nil {
		return err
	}

	a.settings.ListURI = listURI
	a.settings.AccountDID = client.DID()
	a.settings.AccountHandle = client.Handle()
	a.settings.InitializedAt = time.Now().UTC().Format(time.RFC3339)
	if err := a.store.SaveSettings(a.settings); err != nil {
		return err
	}

	a.println(styles.good.Render("Setup complete."))
	a.printf("  List:    %s\n", listURI)
	a.printf("  Members: %d imported, %d on the list\n", report.Imported, report.OnList)
	a.println("\nNext: run `listkeeper sync` to add your follows to the list.")
	a.println(styles.dim.Render("DM checks need an app password created with direct message access."))
	return nil
}

func pickList(ctx context.Context, a *app, client *bsky.Client) (string, error) {
	lists, err := client.GetLists(ctx, "")
	if err != nil {
		return "", err
	}

	var uri string
	var field huh.Field
	if len(lists) == 0 {
		a.println(styles.warn.Render("No lists found on this account. Create one on Bluesky first, or paste a list URI."))
		field = huh.NewInput().Title("List URI").Value(&uri)
	} else {
		opts := make([]huh.Option[string], 0, len(lists))
		for _, l := range lists {
			label := l.Name
			if l.Description != "" {
				label += " (" + truncate(l.Description, 50) + ")"
			}
			opts = append(opts, huh.NewOption(label, l.URI))
		}
		field = huh.NewSelect[string]().Title("Which list should listkeeper manage?").Options(opts...).Value(&uri)
	}

	if err := huh.NewForm(huh.NewGroup(field)).WithInput(a.in).WithOutput(a.out).RunWithContext(ctx); err != nil {
		return "", err
	}
	return strings.TrimSpace(uri), nil
}

func SetCredentialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "set-credentials",
		Usage: "store Bluesky and classifier credentials in the env file",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "bsky", Usage: "only update the Bluesky credentials"},
			&cli.BoolFlag{Name: "classifier", Usage: "only update the classifier key"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			bskyOnly, classifierOnly := cmd.Bool("bsky"), cmd.Bool("classifier")
			both := !bskyOnly && !classifierOnly
			return promptCredentials(ctx, a, bskyOnly || both, classifierOnly || both)
		},
	}
}

// promptCredentials asks for credentials, writes them to the env file and
// updates the loaded configuration.
func promptCredentials(ctx context.Context, a *app, askBsky, askClassifier bool) error {
	handle := a.cfg.Bsky.Handle
	var password, apiKey string

	var fields []huh.Field
	if askBsky {
		fields = append(fields,
			huh.NewInput().Title("Bluesky handle").Value(&handle),
			huh.NewInput().Title("App password").EchoMode(huh.EchoModePassword).Value(&password),
		)
	}
	if askClassifier {
		fields = append(fields,
			huh.NewInput().Title("Classifier API key").EchoMode(huh.EchoModePassword).Value(&apiKey),
		)
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).WithInput(a.in).WithOutput(a.out).RunWithContext(ctx); err != nil {
		return err
	}

	values := map[string]string{}
	if askBsky {
		handle = models.NormalizeActor(handle)
		if handle == "" || password == "" {
			return config.ErrMissingCredentials
		}
		values["BSKY_HANDLE"] = handle
		values["BSKY_APP_PASSWORD"] = password
		a.cfg.Bsky.Handle, a.cfg.Bsky.AppPassword = handle, password
	}
	if askClassifier && apiKey != "" {
		values["CLASSIFIER_API_KEY"] = apiKey
		a.cfg.Classifier.APIKey = apiKey
	}
	if len(values) == 0 {
		return nil
	}

	if err := config.WriteEnv(a.cfg.EnvFile, values); err != nil {
		return err
	}
	a.printf("Saved credentials to %s\n", a.cfg.EnvFile)
	return nil
}

func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Fprintf(cmd.Root().Writer, "listkeeper %s (%s, %s/%s)\n",
				versioninfo.Short(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
			if !versioninfo.LastCommit.IsZero() {
				fmt.Fprintf(cmd.Root().Writer, "built from %s, committed %s\n",
					versioninfo.Revision, humanize.Time(versioninfo.LastCommit))
			}
			return nil
		},
	}
}

func DoctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "check configuration, data files and connectivity",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "offline", Usage: "skip the login check"},
		},
		Action: runDoctor,
	}
}

type check struct {
	name string
	err  error
	info string
}

func runDoctor(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	var checks []check
	add := func(name string, err error, info string) {
		checks = append(checks, check{name: name, err: err, info: info})
	}

	add("bluesky credentials", a.cfg.RequireBsky(), a.cfg.Bsky.Handle)
	if a.cfg.Classifier.Enabled() {
		add("classifier key", nil, a.cfg.Classifier.Model)
	} else {
		add("classifier key", nil, "not set; evaluate, classify and check-dms need it")
	}
	add("initialized", a.requireInit(), a.settings.ListURI)

	members, err := a.store.LoadMembers()
	add("members.json", err, fmt.Sprintf("%s active", humanize.Comma(int64(len(members.Active())))))

	candidates, err := a.store.LoadCandidates()
	info := ""
	if err == nil {
		counts := candidates.CountByStatus()
		info = fmt.Sprintf("%d pending, %d approved, %d rejected",
			counts[models.StatusPending], counts[models.StatusApproved], counts[models.StatusRejected])
	}
	add("candidates.json", err, info)

	seeds, err := a.store.FollowCache().List()
	info = fmt.Sprintf("%d seeds cached", len(seeds))
	if len(seeds) > 0 {
		info += ", newest " + humanize.Time(seeds[0].CrawledAt)
	}
	add("follow cache", err, info)

	backups, err := a.store.Backups(store.SetMembers)
	add("backups", err, fmt.Sprintf("%d member backups", len(backups)))

	if !cmd.Bool("offline") && a.cfg.Bsky.HasCredentials() {
		start := time.Now()
		client, err := a.client(ctx)
		info := ""
		if err == nil {
			info = fmt.Sprintf("%s in %s, breaker %s", client.Handle(), time.Since(start).Round(time.Millisecond), client.BreakerState())
		}
		add("login", err, info)
	}

	var failed []error
	for _, c := range checks {
		mark := styles.good.Render("ok  ")
		detail := c.info
		if c.err != nil {
			mark = styles.bad.Render("FAIL")
			detail = c.err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", c.name, c.err))
		}
		a.printf("%s %-20s %s\n", mark, c.name, styles.dim.Render(detail))
	}

	if len(failed) > 0 {
		a.logger.Debug("doctor found problems", "count", len(failed))
		return errors.Join(failed...)
	}
	return nil
}
