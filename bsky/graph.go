package bsky

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/bskygeo/listkeeper/models"
)

func profileFromDetailed(p *bsky.ActorDefs_ProfileViewDetailed) models.Profile {
	return models.Profile{
		DID:            p.Did,
		Handle:         p.Handle,
		DisplayName:    deref(p.DisplayName),
		Description:    deref(p.Description),
		Avatar:         deref(p.Avatar),
		FollowersCount: deref(p.FollowersCount),
		FollowsCount:   deref(p.FollowsCount),
		PostsCount:     deref(p.PostsCount),
	}
}

func profileFromView(p *bsky.ActorDefs_ProfileView) models.Profile {
	return models.Profile{
		DID:         p.Did,
		Handle:      p.Handle,
		DisplayName: deref(p.DisplayName),
		Description: deref(p.Description),
		Avatar:      deref(p.Avatar),
	}
}

func (c *Client) GetProfile(ctx context.Context, actor string) (*models.Profile, error) {
	var out *bsky.ActorDefs_ProfileViewDetailed
	err := c.call(ctx, "getProfile", func(ctx context.Context) error {
		var err error
		out, err = bsky.ActorGetProfile(ctx, c.xrpcc, actor)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile %s: %w", actor, err)
	}

	p := profileFromDetailed(out)
	return &p, nil
}

// GetProfiles fetches profiles in batches of 25. Actors the service cannot
// resolve are left out of the result.
func (c *Client) GetProfiles(ctx context.Context, actors []string) ([]models.Profile, error) {
	var profiles []models.Profile
	for start := 0; start < len(actors); start += profileBatch {
		batch := actors[start:min(start+profileBatch, len(actors))]

		var out *bsky.ActorGetProfiles_Output
		err := c.call(ctx, "getProfiles", func(ctx context.Context) error {
			var err error
			out, err = bsky.ActorGetProfiles(ctx, c.xrpcc, batch)
			return err
		})
		if err != nil {
			return profiles, fmt.Errorf("failed to fetch profiles: %w", err)
		}

		for _, p := range out.Profiles {
			profiles = append(profiles, profileFromDetailed(p))
		}
	}
	return profiles, nil
}

// GetAllFollows returns every account actor follows, in the order the
// service pages them.
func (c *Client) GetAllFollows(ctx context.Context, actor string) ([]models.Profile, error) {
	var follows []models.Profile
	cursor := ""
	for {
		var out *bsky.GraphGetFollows_Output
		err := c.call(ctx, "getFollows", func(ctx context.Context) error {
			var err error
			out, err = bsky.GraphGetFollows(ctx, c.xrpcc, actor, cursor, pageLimit)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch follows of %s: %w", actor, err)
		}

		for _, f := range out.Follows {
			follows = append(follows, profileFromView(f))
		}

		next := deref(out.Cursor)
		if next == "" || next == cursor || len(out.Follows) == 0 {
			return follows, nil
		}
		cursor = next
	}
}

// GetFollowDIDs is GetAllFollows reduced to DIDs.
func (c *Client) GetFollowDIDs(ctx context.Context, actor string) ([]string, error) {
	follows, err := c.GetAllFollows(ctx, actor)
	if err != nil {
		return nil, err
	}
	dids := make([]string, 0, len(follows))
	for _, f := range follows {
		dids = append(dids, f.DID)
	}
	return dids, nil
}

func (c *Client) GetListMembers(ctx context.Context, listURI string) ([]models.ListItem, error) {
	var items []models.ListItem
	cursor := ""
	for {
		var out *bsky.GraphGetList_Output
		err := c.call(ctx, "getList", func(ctx context.Context) error {
			var err error
			out, err = bsky.GraphGetList(ctx, c.xrpcc, cursor, pageLimit, listURI)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch list %s: %w", listURI, err)
		}

		for _, item := range out.Items {
			if item.Subject == nil {
				continue
			}
			items = append(items, models.ListItem{
				DID:         item.Subject.Did,
				Handle:      item.Subject.Handle,
				DisplayName: deref(item.Subject.DisplayName),
				URI:         item.Uri,
			})
		}

		next := deref(out.Cursor)
		if next == "" || next == cursor || len(out.Items) == 0 {
			return items, nil
		}
		cursor = next
	}
}

type listView struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Purpose     string `json:"purpose"`
}

type getListsOutput struct {
	Cursor string     `json:"cursor"`
	Lists  []listView `json:"lists"`
}

// GetLists returns the lists owned by actor, or by the logged in account
// when actor is empty.
func (c *Client) GetLists(ctx context.Context, actor string) ([]models.ListInfo, error) {
	if actor == "" {
		if err := c.requireSession(); err != nil {
			return nil, err
		}
		actor = c.DID()
	}

	var lists []models.ListInfo
	cursor := ""
	for {
		params := map[string]any{
			"actor": actor,
			"limit": 50,
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var out getListsOutput
		err := c.call(ctx, "getLists", func(ctx context.Context) error {
			out = getListsOutput{}
			return c.xrpcc.Do(ctx, xrpc.Query, "", "app.bsky.graph.getLists", params, nil, &out)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch lists of %s: %w", actor, err)
		}

		for _, l := range out.Lists {
			lists = append(lists, models.ListInfo{
				URI:         l.URI,
				Name:        l.Name,
				Description: l.Description,
				Purpose:     l.Purpose,
			})
		}

		if out.Cursor == "" || out.Cursor == cursor || len(out.Lists) == 0 {
			return lists, nil
		}
		cursor = out.Cursor
	}
}

type authorFeedOutput struct {
	Cursor string `json:"cursor"`
	Feed   []struct {
		Post struct {
			Record struct {
				Text string `json:"text"`
			} `json:"record"`
		} `json:"post"`
	} `json:"feed"`
}

// GetAuthorPosts returns up to limit texts of actor's most recent posts,
// newest first. Posts without text are skipped.
func (c *Client) GetAuthorPosts(ctx context.Context, actor string, limit int) ([]string, error) {
	var posts []string
	cursor := ""
	for len(posts) < limit {
		params := map[string]any{
			"actor": actor,
			"limit": min(limit-len(posts), 50),
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var out authorFeedOutput
		err := c.call(ctx, "getAuthorFeed", func(ctx context.Context) error {
			out = authorFeedOutput{}
			return c.xrpcc.Do(ctx, xrpc.Query, "", "app.bsky.feed.getAuthorFeed", params, nil, &out)
		})
		if err != nil {
			return posts, fmt.Errorf("failed to fetch posts of %s: %w", actor, err)
		}

		for _, item := range out.Feed {
			if item.Post.Record.Text == "" {
				continue
			}
			posts = append(posts, item.Post.Record.Text)
			if len(posts) >= limit {
				break
			}
		}

		if out.Cursor == "" || out.Cursor == cursor || len(out.Feed) == 0 {
			break
		}
		cursor = out.Cursor
	}
	return posts, nil
}
