package bsky

import (
	"context"
	"fmt"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/syntax"
	lexutil "github.com/bluesky-social/indigo/lex/util"
)

const (
	listItemNSID = "app.bsky.graph.listitem"
	followNSID   = "app.bsky.graph.follow"
)

var tidClock = syntax.NewTIDClock(0)

func tid() string {
	return tidClock.Next().String()
}

// putRecord writes a new record into the logged in account's repo under a
// fresh TID and returns its AT-URI. The rkey is chosen before the first
// attempt so a retried write cannot create a duplicate.
func (c *Client) putRecord(ctx context.Context, op, collection string, record lexutil.CBOR) (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}

	rkey := tid()
	var uri string
	err := c.call(ctx, op, func(ctx context.Context) error {
		out, err := comatproto.RepoPutRecord(ctx, c.xrpcc, &comatproto.RepoPutRecord_Input{
			Collection: collection,
			Repo:       c.DID(),
			Rkey:       rkey,
			Record:     &lexutil.LexiconTypeDecoder{Val: record},
		})
		if err != nil {
			return err
		}
		uri = out.Uri
		return nil
	})
	return uri, err
}

// AddToList creates a list item record for did and returns its AT-URI.
func (c *Client) AddToList(ctx context.Context, listURI, did string) (string, error) {
	uri, err := c.putRecord(ctx, "addToList", listItemNSID, &bsky.GraphListitem{
		List:      listURI,
		Subject:   did,
		CreatedAt: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to add %s to list: %w", did, err)
	}
	return uri, nil
}

// RemoveFromList deletes the list item record named by its AT-URI.
func (c *Client) RemoveFromList(ctx context.Context, listItemURI string) error {
	if err := c.requireSession(); err != nil {
		return err
	}

	aturi, err := syntax.ParseATURI(listItemURI)
	if err != nil {
		return fmt.Errorf("invalid list item uri %q: %w", listItemURI, err)
	}
	if aturi.Collection().String() != listItemNSID {
		return fmt.Errorf("%s is not a list item record", listItemURI)
	}

	err = c.call(ctx, "removeFromList", func(ctx context.Context) error {
		_, err := comatproto.RepoDeleteRecord(ctx, c.xrpcc, &comatproto.RepoDeleteRecord_Input{
			Collection: listItemNSID,
			Repo:       c.DID(),
			Rkey:       aturi.RecordKey().String(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", listItemURI, err)
	}
	return nil
}

// Follow creates a follow record for did and returns its AT-URI.
func (c *Client) Follow(ctx context.Context, did string) (string, error) {
	uri, err := c.putRecord(ctx, "follow", followNSID, &bsky.GraphFollow{
		Subject:   did,
		CreatedAt: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to follow %s: %w", did, err)
	}
	return uri, nil
}
