// Package commands holds the listkeeper subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/bskygeo/listkeeper/bsky"
	"github.com/bskygeo/listkeeper/classifier"
	"github.com/bskygeo/listkeeper/config"
	"github.com/bskygeo/listkeeper/crawl"
	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

var ErrNotInitialized = errors.New("not initialized, run `listkeeper init` first")

// app is what every subcommand starts from: configuration, the data store
// and a logger named after the command.
type app struct {
	cfg      *config.Config
	store    *store.Store
	settings *models.Settings
	logger   *slog.Logger
	out      io.Writer
	in       io.Reader
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.SetLevel(cfg.LogLevel)

	dataDir := cfg.Store.DataDir
	if d := cmd.String("data-dir"); d != "" {
		dataDir = d
	}
	st := store.New(dataDir)
	if err := st.EnsureDirs(); err != nil {
		return nil, err
	}

	settings, err := st.LoadSettings()
	if err != nil {
		return nil, err
	}
	settings.ApplyDefaults()

	return &app{
		cfg:      cfg,
		store:    st,
		settings: settings,
		logger:   log.SubLogger(log.FromContext(ctx), cmd.Name),
		out:      cmd.Root().Writer,
		in:       cmd.Root().Reader,
	}, nil
}

func (a *app) requireInit() error {
	if !a.settings.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

// client logs in with the configured app password.
func (a *app) client(ctx context.Context) (*bsky.Client, error) {
	if err := a.cfg.RequireBsky(); err != nil {
		return nil, err
	}
	c := bsky.NewClient(bsky.OptionsFromConfig(a.cfg, log.SubLogger(a.logger, "bsky")))
	if err := c.Login(ctx, a.cfg.Bsky.Handle, a.cfg.Bsky.AppPassword); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *app) classifier() (*classifier.Client, error) {
	if err := a.cfg.RequireClassifier(); err != nil {
		return nil, err
	}
	c := classifier.New(a.cfg.Classifier, a.cfg.Retry, log.SubLogger(a.logger, "classifier"))
	return c.WithVocabulary(a.settings.Categories, a.settings.EntityTypes), nil
}

// optionalClassifier is nil when no key is configured; candidates are then
// recorded without a verdict.
func (a *app) optionalClassifier() crawl.Classifier {
	if !a.cfg.Classifier.Enabled() {
		a.logger.Warn("no classifier key configured, candidates will have no verdict")
		return nil
	}
	c, err := a.classifier()
	if err != nil {
		return nil
	}
	return c
}

func (a *app) account(client *bsky.Client) string {
	if a.settings.AccountDID != "" {
		return a.settings.AccountDID
	}
	return client.DID()
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

// firstArg returns the single positional argument a command requires.
func firstArg(cmd *cli.Command, name string) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument", name)
	}
	return cmd.Args().First(), nil
}

// Root builds the top level command.
func Root() *cli.Command {
	return &cli.Command{
		Name:  "listkeeper",
		Usage: "curate a Bluesky list of earth scientists",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory holding the record sets (overrides LISTKEEPER_DATA_DIR)",
				Sources: cli.EnvVars("LISTKEEPER_DATA_DIR"),
			},
		},
		Commands: []*cli.Command{
			InitCommand(),
			SyncCommand(),
			AddCommand(),
			RemoveCommand(),
			ListCommand(),
			EvaluateCommand(),
			ClassifyCommand(),
			RefreshCommand(),
			CheckDMsCommand(),
			CrawlCommand(),
			ReviewCommand(),
			PromoteCommand(),
			DoctorCommand(),
			SetCredentialsCommand(),
			CacheCommand(),
			VersionCommand(),
		},
	}
}
