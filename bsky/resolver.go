package bsky

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/carlmjohnson/versioninfo"

	"github.com/bskygeo/listkeeper/models"
)

type Resolver struct {
	directory identity.Directory
}

func baseDirectory(plcURL string) identity.Directory {
	base := identity.BaseDirectory{
		PLCURL: plcURL,
		HTTPClient: http.Client{
			Timeout: time.Second * 10,
			Transport: &http.Transport{
				IdleConnTimeout: time.Millisecond * 1000,
				MaxIdleConns:    100,
			},
		},
		Resolver: net.Resolver{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: time.Second * 3}
				return d.DialContext(ctx, network, address)
			},
		},
		TryAuthoritativeDNS: true,
		// bsky.social handles only resolve over HTTP
		SkipDNSDomainSuffixes: []string{".bsky.social"},
		UserAgent:             "listkeeper/" + versioninfo.Short(),
	}
	return &base
}

// NewResolver returns a handle/DID resolver with an in-memory cache. A
// single command resolves few identities, so the cache is small.
func NewResolver(plcURL string) *Resolver {
	cached := identity.NewCacheDirectory(baseDirectory(plcURL), 10_000, time.Hour, time.Minute*2, time.Minute*5)
	return &Resolver{
		directory: &cached,
	}
}

func (r *Resolver) Directory() identity.Directory {
	return r.directory
}

// ResolveActor turns a handle or DID, as typed by a person, into a DID.
// DIDs are returned as given. Handles go through the identity directory
// when one is configured and through the PDS otherwise.
func (c *Client) ResolveActor(ctx context.Context, actor string) (string, error) {
	actor = models.NormalizeActor(actor)
	if models.IsDID(actor) {
		return actor, nil
	}

	handle, err := syntax.ParseHandle(actor)
	if err != nil {
		return "", fmt.Errorf("%q is neither a handle nor a DID: %w", actor, err)
	}

	if c.directory != nil {
		ident, err := c.directory.LookupHandle(ctx, handle)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", handle, err)
		}
		return ident.DID.String(), nil
	}

	var did string
	err = c.call(ctx, "resolveHandle", func(ctx context.Context) error {
		out, err := comatproto.IdentityResolveHandle(ctx, c.xrpcc, handle.String())
		if err != nil {
			return err
		}
		did = out.Did
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", handle, err)
	}
	return did, nil
}
