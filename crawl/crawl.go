package crawl

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

// ErrNoSeeds is returned when the chosen strategy selects no member to
// crawl from. Nothing is fetched or saved in that case.
var ErrNoSeeds = errors.New("no members match the crawl strategy")

// Graph is the part of the social graph client the crawler needs.
type Graph interface {
	GetFollowDIDs(ctx context.Context, actor string) ([]string, error)
	GetProfile(ctx context.Context, actor string) (*models.Profile, error)
	GetAuthorPosts(ctx context.Context, actor string, limit int) ([]string, error)
}

// FollowCache is the durable per-seed follow list memo.
type FollowCache interface {
	Get(did string) (*models.FollowCacheEntry, bool, error)
	Put(did string, follows []string) (*models.FollowCacheEntry, error)
}

type Params struct {
	// Threshold is the minimum accumulated weight for an account to be
	// kept.
	Threshold int
	// Budget caps how many ranked accounts are turned into candidates.
	Budget   int
	Strategy models.Strategy
}

func (p Params) validate() error {
	if p.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", p.Threshold)
	}
	if p.Budget < 0 {
		return fmt.Errorf("budget must not be negative, got %d", p.Budget)
	}
	if _, err := models.ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}
	return nil
}

// Ranked is an unknown account and the weight of the seeds following it.
type Ranked struct {
	DID    string
	Weight int
}

type Report struct {
	RunID    string
	Strategy models.Strategy

	Seeds      int
	CacheHits  int
	Fetched    int
	SeedErrors int

	// Tallied is the number of distinct unknown accounts seen.
	Tallied   int
	Qualified int
	Ranked    []Ranked

	Evaluated     int
	ProfileErrors int
	Added         []string
}

type Crawler struct {
	graph      Graph
	cache      FollowCache
	eval       *Evaluator
	errorPause time.Duration
	logger     *slog.Logger
}

type Option func(*Crawler)

// WithErrorPause sets how long the crawler waits after a failed call
// before moving on to the next item.
func WithErrorPause(d time.Duration) Option {
	return func(c *Crawler) {
		c.errorPause = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

func New(graph Graph, cache FollowCache, eval *Evaluator, opts ...Option) *Crawler {
	c := &Crawler{
		graph:      graph,
		cache:      cache,
		eval:       eval,
		errorPause: time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type seed struct {
	did    string
	handle string
	weight int
}

// seeds picks the member records to crawl from, in DID order so runs are
// reproducible. Removed members still seed: their follows stay a signal.
func seeds(members models.Members, strategy models.Strategy) []seed {
	dids := make([]string, 0, len(members))
	for did := range members {
		dids = append(dids, did)
	}
	sort.Strings(dids)

	var out []seed
	for _, did := range dids {
		m := members[did]
		institutional := models.IsInstitutional(m.EntityType)

		s := seed{did: did, handle: m.Handle, weight: 1}
		switch strategy {
		case models.StrategyInstitutions:
			if !institutional {
				continue
			}
		case models.StrategyWeighted:
			if institutional {
				s.weight = 2
			}
		}
		out = append(out, s)
	}
	return out
}

// tally accumulates weights while remembering first-seen order for stable
// tie breaking.
type tally struct {
	weights map[string]int
	order   []string
}

func newTally() *tally {
	return &tally{weights: make(map[string]int)}
}

func (t *tally) add(did string, w int) {
	if _, ok := t.weights[did]; !ok {
		t.order = append(t.order, did)
	}
	t.weights[did] += w
}

func (t *tally) rank(threshold int) []Ranked {
	var out []Ranked
	for _, did := range t.order {
		if w := t.weights[did]; w >= threshold {
			out = append(out, Ranked{DID: did, Weight: w})
		}
	}
	slices.SortStableFunc(out, func(a, b Ranked) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	return out
}

// Rank walks the follow lists of the selected seeds and returns the unknown
// accounts whose support reaches the threshold, strongest first, truncated
// to the budget.
func (c *Crawler) Rank(ctx context.Context, members models.Members, known *store.KnownIndex, p Params) ([]Ranked, *Report, error) {
	if err := p.validate(); err != nil {
		return nil, nil, err
	}

	report := &Report{
		RunID:    uuid.New().String(),
		Strategy: p.Strategy,
	}
	l := c.logger.With("run", report.RunID)

	selected := seeds(members, p.Strategy)
	report.Seeds = len(selected)
	if len(selected) == 0 {
		return nil, report, fmt.Errorf("%w (strategy %s)", ErrNoSeeds, p.Strategy)
	}

	l.Info("crawling follows", "seeds", len(selected), "strategy", p.Strategy)

	t := newTally()
	for _, s := range selected {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		follows, err := c.follows(ctx, s, report)
		if err != nil {
			report.SeedErrors++
			l.Warn("skipping seed", "did", s.did, "handle", s.handle, "err", err)
			if err := c.pause(ctx); err != nil {
				return nil, report, err
			}
			continue
		}

		for _, did := range follows {
			if known.Contains(did) {
				continue
			}
			t.add(did, s.weight)
		}
	}

	ranked := t.rank(p.Threshold)
	report.Tallied = len(t.order)
	report.Qualified = len(ranked)
	if len(ranked) > p.Budget {
		ranked = ranked[:p.Budget]
	}
	report.Ranked = ranked

	l.Info("ranked accounts",
		"tallied", report.Tallied,
		"qualified", report.Qualified,
		"threshold", p.Threshold,
		"kept", len(ranked),
		"cache_hits", report.CacheHits,
		"fetched", report.Fetched,
		"seed_errors", report.SeedErrors,
	)
	return ranked, report, nil
}

// follows returns a seed's follow list from the cache, fetching and caching
// it on a miss. The cache write happens before any tallying so a later
// failure in the run does not waste the fetch.
func (c *Crawler) follows(ctx context.Context, s seed, report *Report) ([]string, error) {
	entry, ok, err := c.cache.Get(s.did)
	if err != nil {
		return nil, fmt.Errorf("unreadable follow cache entry: %w", err)
	}
	if ok {
		report.CacheHits++
		return entry.Follows, nil
	}

	follows, err := c.graph.GetFollowDIDs(ctx, s.did)
	if err != nil {
		return nil, err
	}
	report.Fetched++

	if _, err := c.cache.Put(s.did, follows); err != nil {
		return nil, fmt.Errorf("failed to cache follows of %s: %w", s.did, err)
	}
	return follows, nil
}

func (c *Crawler) pause(ctx context.Context) error {
	if c.errorPause <= 0 {
		return nil
	}
	t := time.NewTimer(c.errorPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run ranks unknown accounts, turns the ranked ones into pending candidates
// and saves the candidate set once at the end. The candidate set is backed
// up before it is changed.
func (c *Crawler) Run(ctx context.Context, st *store.Store, p Params) ([]*models.Candidate, *Report, error) {
	members, err := st.LoadMembers()
	if err != nil {
		return nil, nil, err
	}
	candidates, err := st.LoadCandidates()
	if err != nil {
		return nil, nil, err
	}
	known := store.BuildKnownIndex(members, candidates)
	c.logger.Debug("known accounts", "count", known.Len())

	ranked, report, err := c.Rank(ctx, members, known, p)
	if err != nil {
		return nil, report, err
	}
	if len(ranked) == 0 {
		return nil, report, nil
	}

	if _, err := st.Backup(store.SetCandidates); err != nil {
		return nil, report, fmt.Errorf("failed to back up candidates: %w", err)
	}

	l := c.logger.With("run", report.RunID)

	var added []*models.Candidate
	for i, r := range ranked {
		if err := ctx.Err(); err != nil {
			// keep what was materialized so far
			l.Warn("crawl interrupted", "done", i, "of", len(ranked))
			break
		}

		cand, err := c.eval.Materialize(ctx, r.DID, r.Weight)
		if err != nil {
			report.ProfileErrors++
			l.Warn("skipping account", "did", r.DID, "err", err)
			if err := c.pause(ctx); err != nil {
				break
			}
			continue
		}
		report.Evaluated++

		// another discovery path may have added it while we were working
		if known.Contains(r.DID) {
			continue
		}
		candidates[r.DID] = cand
		known.AddCandidate(r.DID, cand.Status)
		added = append(added, cand)
		report.Added = append(report.Added, r.DID)

		l.Info("new candidate",
			"progress", fmt.Sprintf("%d/%d", i+1, len(ranked)),
			"handle", cand.Handle,
			"support", r.Weight,
		)
	}

	if len(added) > 0 {
		if err := st.SaveCandidates(candidates); err != nil {
			return added, report, fmt.Errorf("failed to save candidates: %w", err)
		}
	}

	l.Info("crawl complete",
		"added", len(added),
		"profile_errors", report.ProfileErrors,
		"seed_errors", report.SeedErrors,
	)
	return added, report, nil
}
