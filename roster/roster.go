// Package roster maintains the member set: importing the managed list,
// keeping it in step with the account's follows, and refreshing or
// classifying member profiles.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

var (
	ErrAlreadyMember = errors.New("already a member")
	ErrNotOnList     = errors.New("not on the list")
)

// Graph is the part of the social graph client roster needs.
type Graph interface {
	ResolveActor(ctx context.Context, actor string) (string, error)
	GetProfile(ctx context.Context, actor string) (*models.Profile, error)
	GetProfiles(ctx context.Context, actors []string) ([]models.Profile, error)
	GetAllFollows(ctx context.Context, actor string) ([]models.Profile, error)
	GetListMembers(ctx context.Context, listURI string) ([]models.ListItem, error)
	AddToList(ctx context.Context, listURI, did string) (string, error)
	RemoveFromList(ctx context.Context, listItemURI string) error
	Follow(ctx context.Context, did string) (string, error)
}

type Roster struct {
	store     *store.Store
	graph     Graph
	listURI   string
	account   string
	saveEvery int
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Roster)

func WithSaveEvery(n int) Option {
	return func(r *Roster) {
		r.saveEvery = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Roster) {
		r.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Roster) {
		r.logger = l
	}
}

// New returns a roster for the list at listURI, operated by the account
// with DID account.
func New(st *store.Store, graph Graph, listURI, account string, opts ...Option) *Roster {
	r := &Roster{
		store:     st,
		graph:     graph,
		listURI:   listURI,
		account:   account,
		saveEvery: 25,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Roster) backupMembers() error {
	if _, err := r.store.Backup(store.SetMembers); err != nil {
		return fmt.Errorf("failed to back up members: %w", err)
	}
	return nil
}

type BootstrapReport struct {
	OnList   int
	Imported int
}

// Bootstrap imports the current members of the list. Accounts already
// tracked as active members are left alone; bios are left unfetched for
// Refresh to fill in.
func (r *Roster) Bootstrap(ctx context.Context) (*BootstrapReport, error) {
	items, err := r.graph.GetListMembers(ctx, r.listURI)
	if err != nil {
		return nil, err
	}

	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}
	if err := r.backupMembers(); err != nil {
		return nil, err
	}

	report := &BootstrapReport{OnList: len(items)}
	for _, item := range items {
		if members[item.DID].Active() {
			continue
		}
		members.Put(item.DID, &models.Member{
			Handle:      item.Handle,
			DisplayName: item.DisplayName,
			Categories:  []string{},
			AddedDate:   models.Today(r.now()),
			Source:      models.SourceInitBootstrap,
			Confidence:  1,
			ListItemURI: item.URI,
		})
		report.Imported++
	}

	if err := r.store.SaveMembers(members); err != nil {
		return nil, err
	}
	r.logger.Info("bootstrapped members from list", "on_list", report.OnList, "imported", report.Imported)
	return report, nil
}

type SyncReport struct {
	Follows     int
	ListMembers int

	// ToAdd are followed accounts missing from the list, ToFollow are list
	// members the account does not follow. Both are filled in dry runs.
	ToAdd    []models.Profile
	ToFollow []models.ListItem

	Added         int
	Followed      int
	AddErrors     int
	FollowErrors  int
	URIsFilled    int
	AlreadySynced int
}

func (s *SyncReport) Errors() int {
	return s.AddErrors + s.FollowErrors
}

// Sync reconciles the account's follows with the list in both directions:
// followed accounts are added to the list and list members are followed.
// Member records missing a list item reference get it filled from the
// list.
func (r *Roster) Sync(ctx context.Context, dryRun bool) (*SyncReport, error) {
	follows, err := r.graph.GetAllFollows(ctx, r.account)
	if err != nil {
		return nil, err
	}
	items, err := r.graph.GetListMembers(ctx, r.listURI)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Follows: len(follows), ListMembers: len(items)}

	followed := make(map[string]bool, len(follows))
	for _, f := range follows {
		followed[f.DID] = true
	}
	onList := make(map[string]models.ListItem, len(items))
	for _, item := range items {
		onList[item.DID] = item
	}

	for _, f := range follows {
		if _, ok := onList[f.DID]; ok {
			report.AlreadySynced++
		} else {
			report.ToAdd = append(report.ToAdd, f)
		}
	}
	for _, item := range items {
		if !followed[item.DID] && item.DID != r.account {
			report.ToFollow = append(report.ToFollow, item)
		}
	}

	if dryRun {
		return report, nil
	}

	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}
	if err := r.backupMembers(); err != nil {
		return nil, err
	}

	cp := store.NewCheckpoint(r.saveEvery, func() error { return r.store.SaveMembers(members) })
	for _, f := range report.ToAdd {
		uri, err := r.graph.AddToList(ctx, r.listURI, f.DID)
		if err != nil {
			report.AddErrors++
			r.logger.Warn("failed to add followed account to list", "handle", f.Handle, "err", err)
			continue
		}
		members.Put(f.DID, &models.Member{
			Handle:      f.Handle,
			DisplayName: f.DisplayName,
			Bio:         models.StringPtr(f.Description),
			Categories:  []string{},
			AddedDate:   models.Today(r.now()),
			Source:      models.SourceFollowSync,
			Confidence:  1,
			ListItemURI: uri,
		})
		report.Added++
		if err := cp.Tick(); err != nil {
			return report, err
		}
	}

	for _, item := range report.ToFollow {
		if _, err := r.graph.Follow(ctx, item.DID); err != nil {
			report.FollowErrors++
			r.logger.Warn("failed to follow list member", "handle", item.Handle, "err", err)
			continue
		}
		report.Followed++
	}

	for did, item := range onList {
		m, ok := members[did]
		if !ok || m.ListItemURI != "" {
			continue
		}
		// the list is authoritative: a member removed locally but still on
		// the list is active again
		m.ListItemURI = item.URI
		m.Removed = false
		m.RemovedDate = ""
		report.URIsFilled++
	}

	if err := r.store.SaveMembers(members); err != nil {
		return report, err
	}

	r.logger.Info("sync complete",
		"added", report.Added,
		"followed", report.Followed,
		"uris_filled", report.URIsFilled,
		"already_synced", report.AlreadySynced,
		"errors", report.Errors(),
	)
	return report, nil
}

func sortedDIDs(members models.Members) []string {
	dids := make([]string, 0, len(members))
	for did := range members {
		dids = append(dids, did)
	}
	sort.Strings(dids)
	return dids
}
