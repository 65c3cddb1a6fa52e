package roster

import (
	"context"
	"fmt"

	"github.com/bskygeo/listkeeper/models"
)

type AddResult struct {
	DID         string
	Member      *models.Member
	Followed    bool
	FollowError error
}

// Add puts a single account on the list and records it as a manual member.
// A removed member is added again with a fresh list item, replacing the old
// record. A failed follow is reported but does not undo the addition.
func (r *Roster) Add(ctx context.Context, actor string, follow bool) (*AddResult, error) {
	actor = models.NormalizeActor(actor)
	profile, err := r.graph.GetProfile(ctx, actor)
	if err != nil {
		return nil, err
	}

	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}
	if members[profile.DID].Active() {
		return nil, fmt.Errorf("%s: %w", profile.Handle, ErrAlreadyMember)
	}

	if err := r.backupMembers(); err != nil {
		return nil, err
	}

	uri, err := r.graph.AddToList(ctx, r.listURI, profile.DID)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s to the list: %w", profile.Handle, err)
	}

	m := &models.Member{
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Bio:         models.StringPtr(profile.Description),
		Categories:  []string{},
		AddedDate:   models.Today(r.now()),
		Source:      models.SourceManual,
		Confidence:  1,
		ListItemURI: uri,
	}
	members.Put(profile.DID, m)
	if err := r.store.SaveMembers(members); err != nil {
		return nil, err
	}

	res := &AddResult{DID: profile.DID, Member: m}
	if follow {
		if _, err := r.graph.Follow(ctx, profile.DID); err != nil {
			res.FollowError = err
			r.logger.Warn("follow failed", "handle", profile.Handle, "err", err)
		} else {
			res.Followed = true
		}
	}

	r.logger.Info("added member", "handle", profile.Handle, "did", profile.DID)
	return res, nil
}

type RemoveResult struct {
	DID string
	// Tracked is false when the account was on the list without a member
	// record.
	Tracked bool
}

// Remove takes an account off the list and soft deletes its member record.
// When the record has no list item reference the list itself is searched.
func (r *Roster) Remove(ctx context.Context, actor string) (*RemoveResult, error) {
	actor = models.NormalizeActor(actor)
	did, err := r.graph.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}

	uri := ""
	m, tracked := members[did]
	if m.Active() {
		uri = m.ListItemURI
	}
	if uri == "" {
		items, err := r.graph.GetListMembers(ctx, r.listURI)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.DID == did {
				uri = item.URI
				break
			}
		}
	}
	if uri == "" {
		return nil, fmt.Errorf("%s: %w", actor, ErrNotOnList)
	}

	if err := r.backupMembers(); err != nil {
		return nil, err
	}
	if err := r.graph.RemoveFromList(ctx, uri); err != nil {
		return nil, fmt.Errorf("failed to remove %s from the list: %w", actor, err)
	}

	if tracked {
		m.MarkRemoved(r.now())
		if err := r.store.SaveMembers(members); err != nil {
			return nil, err
		}
	}

	r.logger.Info("removed member", "actor", actor, "did", did)
	return &RemoveResult{DID: did, Tracked: tracked}, nil
}
