package review

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

// Lister performs the list mutation that approval requires.
type Lister interface {
	AddToList(ctx context.Context, listURI, did string) (string, error)
}

type Summary struct {
	Approved   int
	Rejected   int
	Skipped    int
	Edited     int
	Failed     int
	Reconciled int
	Remaining  int
	Quit       bool
}

type Machine struct {
	store     *store.Store
	lister    Lister
	decider   Decider
	listURI   string
	saveEvery int
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Machine)

func WithSaveEvery(n int) Option {
	return func(m *Machine) {
		m.saveEvery = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

func NewMachine(st *store.Store, lister Lister, decider Decider, listURI string, opts ...Option) *Machine {
	m := &Machine{
		store:     st,
		lister:    lister,
		decider:   decider,
		listURI:   listURI,
		saveEvery: 25,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Queue returns the pending candidates in review order: highest confidence
// first, DID as the tie breaker.
func Queue(candidates models.Candidates) []string {
	dids := candidates.WithStatus(models.StatusPending)
	sort.Slice(dids, func(i, j int) bool {
		ci, cj := candidates[dids[i]].Confidence, candidates[dids[j]].Confidence
		if ci != cj {
			return ci > cj
		}
		return dids[i] < dids[j]
	})
	return dids
}

type session struct {
	members    models.Members
	candidates models.Candidates
	summary    *Summary
}

func (m *Machine) save(s *session) error {
	// members first: a crash in between leaves an approved member with a
	// pending candidate, which the next run reconciles
	if err := m.store.SaveMembers(s.members); err != nil {
		return fmt.Errorf("failed to save members: %w", err)
	}
	if err := m.store.SaveCandidates(s.candidates); err != nil {
		return fmt.Errorf("failed to save candidates: %w", err)
	}
	return nil
}

// Run walks the pending candidates once. Both record sets are backed up
// before the first change and saved on quit, at the end, and every
// saveEvery decisions in between.
func (m *Machine) Run(ctx context.Context) (*Summary, error) {
	members, err := m.store.LoadMembers()
	if err != nil {
		return nil, err
	}
	candidates, err := m.store.LoadCandidates()
	if err != nil {
		return nil, err
	}

	s := &session{members: members, candidates: candidates, summary: &Summary{}}

	// pending candidates that are already on the list were approved by an
	// interrupted earlier run or added by hand
	var reconcile []string
	for _, did := range candidates.WithStatus(models.StatusPending) {
		if members[did].Active() {
			reconcile = append(reconcile, did)
		}
	}

	queue := Queue(candidates)
	if len(queue) == 0 {
		return s.summary, nil
	}

	for _, set := range []store.Set{store.SetCandidates, store.SetMembers} {
		if _, err := m.store.Backup(set); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", set, err)
		}
	}

	for _, did := range reconcile {
		if err := candidates[did].Transition(models.StatusApproved, m.now()); err != nil {
			return nil, err
		}
		s.summary.Reconciled++
		m.logger.Info("candidate already on the list, marked approved", "did", did)
	}

	queue = Queue(candidates)
	cp := store.NewCheckpoint(m.saveEvery, func() error { return m.save(s) })

	for i, did := range queue {
		if err := ctx.Err(); err != nil {
			s.summary.Remaining = len(queue) - i
			return s.summary, errors.Join(err, m.save(s))
		}

		quit, err := m.review(ctx, s, Item{
			DID:       did,
			Candidate: candidates[did],
			Index:     i + 1,
			Total:     len(queue),
		})
		if err != nil || quit {
			s.summary.Quit = quit
			s.summary.Remaining = len(queue) - i
			return s.summary, errors.Join(err, m.save(s))
		}

		if err := cp.Tick(); err != nil {
			return s.summary, err
		}
	}

	if err := m.save(s); err != nil {
		return s.summary, err
	}

	m.logger.Info("review complete",
		"approved", s.summary.Approved,
		"rejected", s.summary.Rejected,
		"skipped", s.summary.Skipped,
		"failed", s.summary.Failed,
	)
	return s.summary, nil
}

// review asks for decisions on one item until one of them moves on.
func (m *Machine) review(ctx context.Context, s *session, item Item) (bool, error) {
	for {
		d, err := m.decider.Decide(ctx, item)
		if err != nil {
			return false, fmt.Errorf("failed to get a decision for %s: %w", item.DID, err)
		}

		outcome := Outcome{Action: d.Action}
		quit, next := false, true

		switch d.Action {
		case ActionApprove:
			if err := m.approve(ctx, s, item); err != nil {
				outcome.Err = err
				s.summary.Failed++
				m.logger.Warn("approval failed, candidate stays pending", "did", item.DID, "err", err)
			} else {
				s.summary.Approved++
			}
		case ActionReject:
			if err := item.Candidate.Transition(models.StatusRejected, m.now()); err != nil {
				return false, err
			}
			s.summary.Rejected++
		case ActionSkip:
			s.summary.Skipped++
		case ActionEdit:
			item.Candidate.Categories = append([]string{}, d.Categories...)
			s.summary.Edited++
			next = false
		case ActionQuit:
			quit = true
		default:
			return false, fmt.Errorf("unknown review action %v", d.Action)
		}

		if r, ok := m.decider.(Reporter); ok {
			r.Report(item, outcome)
		}
		if quit || next {
			return quit, nil
		}
	}
}

// approve adds the account to the list, then records the member and flips
// the candidate. Nothing is recorded when the list call fails.
func (m *Machine) approve(ctx context.Context, s *session, item Item) error {
	c := item.Candidate
	if !c.Status.CanTransition(models.StatusApproved) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, c.Status, models.StatusApproved)
	}

	uri, err := m.lister.AddToList(ctx, m.listURI, item.DID)
	if err != nil {
		return err
	}

	now := m.now()
	s.members.Put(item.DID, c.ToMember(uri, now))
	return c.Transition(models.StatusApproved, now)
}
