package bsky

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"

	"github.com/bskygeo/listkeeper/config"
)

// pageLimit is the largest page size the appview accepts for graph queries.
const pageLimit = 100

// profileBatch is the largest number of actors getProfiles accepts.
const profileBatch = 25

type Options struct {
	Host       string
	ChatProxy  string
	Pacing     time.Duration
	Retry      config.Retry
	Directory  identity.Directory
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OptionsFromConfig collects client options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Host:      cfg.Bsky.PDSHost,
		ChatProxy: cfg.Bsky.ChatProxy,
		Pacing:    cfg.Crawl.Pacing,
		Retry:     cfg.Retry,
		Directory: NewResolver(cfg.Bsky.PLCURL).Directory(),
		Logger:    logger,
	}
}

// Client talks to the operating account's PDS. Every call is paced and
// goes through the retry policy.
type Client struct {
	xrpcc     *xrpc.Client
	chatProxy string
	directory identity.Directory
	retry     *RetryPolicy
	pacer     *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	ua := "listkeeper/" + versioninfo.Short()

	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}

	return &Client{
		xrpcc: &xrpc.Client{
			Client:    httpc,
			Host:      opts.Host,
			UserAgent: &ua,
		},
		chatProxy: opts.ChatProxy,
		directory: opts.Directory,
		retry:     NewRetryPolicy(opts.Retry, logger),
		pacer:     rate.NewLimiter(limit, 1),
		logger:    logger,
		now:       time.Now,
	}
}

// Login creates a session with an app password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	var out *comatproto.ServerCreateSession_Output
	err := c.call(ctx, "login", func(ctx context.Context) error {
		var err error
		out, err = comatproto.ServerCreateSession(ctx, c.xrpcc, &comatproto.ServerCreateSession_Input{
			Identifier: identifier,
			Password:   password,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("login as %s failed: %w", identifier, err)
	}

	c.xrpcc.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	c.logger.Info("logged in", "handle", out.Handle, "did", out.Did)
	return nil
}

func (c *Client) DID() string {
	if c.xrpcc.Auth == nil {
		return ""
	}
	return c.xrpcc.Auth.Did
}

func (c *Client) Handle() string {
	if c.xrpcc.Auth == nil {
		return ""
	}
	return c.xrpcc.Auth.Handle
}

func (c *Client) BreakerState() string {
	return c.retry.State()
}

func (c *Client) requireSession() error {
	if c.xrpcc.Auth == nil {
		return ErrNotLoggedIn
	}
	return nil
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	return c.retry.Do(ctx, op, func(ctx context.Context) error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		return handleXrpcErr(fn(ctx))
	})
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
