package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

type Promoter interface {
	Lister
	Follow(ctx context.Context, did string) (string, error)
}

type PromoteParams struct {
	ListURI   string
	Follow    bool
	DryRun    bool
	SaveEvery int
	Now       func() time.Time
}

type PromoteReport struct {
	RunID string
	// Planned holds every approved DID in processing order; in a dry run
	// nothing else is filled in.
	Planned       []string
	Promoted      int
	AddedToList   int
	Followed      int
	FollowErrors  int
	Failed        int
	MissingRecord int
}

// Promote moves every approved candidate to added. Each one ends up as an
// active member with a list item (added to the list when the member record
// lacks one), is optionally followed, and is then dropped from the
// candidate set. A list failure leaves the candidate approved for the next
// run; a follow failure is counted and does not stop the promotion.
func Promote(ctx context.Context, st *store.Store, client Promoter, p PromoteParams, logger *slog.Logger) (*PromoteReport, error) {
	if p.ListURI == "" {
		return nil, errors.New("no list selected")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	if p.SaveEvery <= 0 {
		p.SaveEvery = 25
	}
	if logger == nil {
		logger = slog.Default()
	}

	report := &PromoteReport{RunID: uuid.New().String()}
	logger = logger.With("run", report.RunID)

	candidates, err := st.LoadCandidates()
	if err != nil {
		return nil, err
	}
	members, err := st.LoadMembers()
	if err != nil {
		return nil, err
	}

	report.Planned = candidates.WithStatus(models.StatusApproved)
	sort.Strings(report.Planned)
	if len(report.Planned) == 0 || p.DryRun {
		return report, nil
	}

	for _, set := range []store.Set{store.SetCandidates, store.SetMembers} {
		if _, err := st.Backup(set); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", set, err)
		}
	}

	save := func() error {
		if err := st.SaveMembers(members); err != nil {
			return fmt.Errorf("failed to save members: %w", err)
		}
		if err := st.SaveCandidates(candidates); err != nil {
			return fmt.Errorf("failed to save candidates: %w", err)
		}
		return nil
	}
	cp := store.NewCheckpoint(p.SaveEvery, save)

	for _, did := range report.Planned {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(err, cp.Flush())
		}

		c := candidates[did]
		m := members[did]
		if !m.Active() || m.ListItemURI == "" {
			uri, err := client.AddToList(ctx, p.ListURI, did)
			if err != nil {
				report.Failed++
				logger.Warn("failed to add to list, left approved", "did", did, "err", err)
				continue
			}
			report.AddedToList++

			if m.Active() {
				m.ListItemURI = uri
			} else {
				if m == nil {
					report.MissingRecord++
				}
				m = c.ToMember(uri, now())
				if c.Source == "" {
					m.Source = models.SourcePromotion
				}
				members.Put(did, m)
			}
		}

		if p.Follow {
			if _, err := client.Follow(ctx, did); err != nil {
				report.FollowErrors++
				logger.Warn("failed to follow", "did", did, "err", err)
			} else {
				report.Followed++
			}
		}

		if err := c.Transition(models.StatusAdded, now()); err != nil {
			return report, errors.Join(err, save())
		}
		delete(candidates, did)
		report.Promoted++

		if err := cp.Tick(); err != nil {
			return report, err
		}
	}

	if err := save(); err != nil {
		return report, err
	}

	logger.Info("promotion complete",
		"promoted", report.Promoted,
		"added_to_list", report.AddedToList,
		"followed", report.Followed,
		"follow_errors", report.FollowErrors,
		"failed", report.Failed,
	)
	return report, nil
}
