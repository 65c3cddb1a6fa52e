package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

const testList = "at://did:plc:curator/app.bsky.graph.list/3kgeo"

var (
	reviewDay = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	errDown   = errors.New("pds unavailable")
)

type fakeLister struct {
	fail       map[string]bool
	added      []string
	follows    []string
	failFollow map[string]bool
}

func newFakeLister() *fakeLister {
	return &fakeLister{fail: map[string]bool{}, failFollow: map[string]bool{}}
}

func (l *fakeLister) AddToList(ctx context.Context, listURI, did string) (string, error) {
	if l.fail[did] {
		return "", errDown
	}
	l.added = append(l.added, did)
	return "at://did:plc:curator/app.bsky.graph.listitem/" + did[len("did:plc:"):], nil
}

func (l *fakeLister) Follow(ctx context.Context, did string) (string, error) {
	if l.failFollow[did] {
		return "", errDown
	}
	l.follows = append(l.follows, did)
	return "at://did:plc:curator/app.bsky.graph.follow/" + did[len("did:plc:"):], nil
}

func pending(handle string, confidence float64) *models.Candidate {
	return &models.Candidate{
		Handle:         handle,
		Categories:     []string{"seismology"},
		EntityType:     "individual",
		Confidence:     confidence,
		Source:         models.CandidateNetworkCrawl,
		Status:         models.StatusPending,
		DiscoveredDate: "2026-10-01",
	}
}

func newTestStore(t *testing.T, members models.Members, candidates models.Candidates) *store.Store {
	t.Helper()
	st := store.New(t.TempDir(), store.WithClock(func() time.Time { return reviewDay }))
	if members != nil {
		require.NoError(t, st.SaveMembers(members))
	}
	if candidates != nil {
		require.NoError(t, st.SaveCandidates(candidates))
	}
	return st
}

func newTestMachine(st *store.Store, lister Lister, d Decider) *Machine {
	return NewMachine(st, lister, d, testList,
		WithClock(func() time.Time { return reviewDay }),
		WithLogger(log.Discard()),
	)
}

func TestApproveScenario(t *testing.T) {
	st := newTestStore(t, nil, models.Candidates{
		"did:plc:c": pending("c.example.com", 0.9),
	})
	lister := newFakeLister()
	d := &ScriptedDecider{Decisions: []Decision{Approve()}}

	summary, err := newTestMachine(st, lister, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, []string{"did:plc:c"}, lister.added)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	require.Contains(t, members, "did:plc:c")
	assert.Equal(t, "2026-10-15", members["did:plc:c"].AddedDate)
	assert.Equal(t, "at://did:plc:curator/app.bsky.graph.listitem/c", members["did:plc:c"].ListItemURI)
	assert.Equal(t, 0.9, members["did:plc:c"].Confidence)

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, candidates["did:plc:c"].Status)
	assert.Equal(t, "2026-10-15", candidates["did:plc:c"].ReviewedDate)

	// a second walk has nothing to show
	again := &ScriptedDecider{Decisions: []Decision{Approve()}}
	summary, err = newTestMachine(st, lister, again).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Seen)
	assert.Equal(t, Summary{}, *summary)
}

func TestApproveFailureLeavesCandidatePending(t *testing.T) {
	st := newTestStore(t, nil, models.Candidates{
		"did:plc:c": pending("c.example.com", 0.9),
	})
	lister := newFakeLister()
	lister.fail["did:plc:c"] = true
	d := &ScriptedDecider{Decisions: []Decision{Approve()}}

	summary, err := newTestMachine(st, lister, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Approved)

	require.Len(t, d.Outcomes, 1)
	assert.ErrorIs(t, d.Outcomes[0].Err, errDown)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Empty(t, members)

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, candidates["did:plc:c"].Status)
}

func TestReviewOrderAndDecisions(t *testing.T) {
	st := newTestStore(t, nil, models.Candidates{
		"did:plc:low":  pending("low.example.com", 0.2),
		"did:plc:b":    pending("b.example.com", 0.7),
		"did:plc:a":    pending("a.example.com", 0.7),
		"did:plc:high": pending("high.example.com", 0.95),
		"did:plc:done": {Handle: "done.example.com", Confidence: 1, Status: models.StatusRejected},
	})
	d := &ScriptedDecider{Decisions: []Decision{
		Approve(),
		Edit("volcanology", "geodesy"),
		Reject(),
		Skip(),
		Reject(),
	}}

	summary, err := newTestMachine(st, newFakeLister(), d).Run(context.Background())
	require.NoError(t, err)

	var order []string
	for _, item := range d.Seen {
		order = append(order, item.DID)
	}
	// the edit re-presents did:plc:a
	assert.Equal(t, []string{"did:plc:high", "did:plc:a", "did:plc:a", "did:plc:b", "did:plc:low"}, order)
	assert.Equal(t, 4, d.Seen[4].Total)
	assert.Equal(t, Summary{Approved: 1, Rejected: 2, Skipped: 1, Edited: 1}, *summary)

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, candidates["did:plc:high"].Status)
	assert.Equal(t, models.StatusRejected, candidates["did:plc:a"].Status)
	assert.Equal(t, []string{"volcanology", "geodesy"}, candidates["did:plc:a"].Categories)
	assert.Equal(t, models.StatusPending, candidates["did:plc:b"].Status)
	assert.Equal(t, models.StatusRejected, candidates["did:plc:low"].Status)
	assert.Equal(t, models.StatusRejected, candidates["did:plc:done"].Status)
}

func TestQuitSavesProgress(t *testing.T) {
	st := newTestStore(t, nil, models.Candidates{
		"did:plc:a": pending("a.example.com", 0.9),
		"did:plc:b": pending("b.example.com", 0.8),
		"did:plc:c": pending("c.example.com", 0.7),
	})
	d := &ScriptedDecider{Decisions: []Decision{Reject(), Quit()}}

	summary, err := newTestMachine(st, newFakeLister(), d).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Quit)
	assert.Equal(t, 2, summary.Remaining)

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, candidates["did:plc:a"].Status)
	assert.Equal(t, models.StatusPending, candidates["did:plc:b"].Status)

	backups, err := st.Backups(store.SetCandidates)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestCancelledContextSaves(t *testing.T) {
	st := newTestStore(t, nil, models.Candidates{
		"did:plc:a": pending("a.example.com", 0.9),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &ScriptedDecider{Decisions: []Decision{Approve()}}
	summary, err := newTestMachine(st, newFakeLister(), d).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Remaining)
	assert.Empty(t, d.Seen)
}

func TestReconcileExistingMembers(t *testing.T) {
	st := newTestStore(t,
		models.Members{"did:plc:a": {Handle: "a.example.com", ListItemURI: "at://x/app.bsky.graph.listitem/a"}},
		models.Candidates{
			"did:plc:a": pending("a.example.com", 0.9),
			"did:plc:b": pending("b.example.com", 0.5),
		},
	)
	d := &ScriptedDecider{Decisions: []Decision{Skip()}}

	summary, err := newTestMachine(st, newFakeLister(), d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reconciled)
	require.Len(t, d.Seen, 1)
	assert.Equal(t, "did:plc:b", d.Seen[0].DID)

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, candidates["did:plc:a"].Status)
}

func TestEmptyQueueMakesNoBackups(t *testing.T) {
	st := newTestStore(t, models.Members{"did:plc:a": {Handle: "a.example.com"}}, models.Candidates{})
	d := &ScriptedDecider{}

	_, err := newTestMachine(st, newFakeLister(), d).Run(context.Background())
	require.NoError(t, err)

	backups, err := st.Backups(store.SetMembers)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestStatusNeverMovesBack(t *testing.T) {
	for _, status := range []models.CandidateStatus{models.StatusApproved, models.StatusRejected, models.StatusAdded} {
		t.Run(string(status), func(t *testing.T) {
			st := newTestStore(t, nil, models.Candidates{
				"did:plc:a": {Handle: "a.example.com", Confidence: 0.9, Status: status},
			})
			d := &ScriptedDecider{Decisions: []Decision{Reject(), Approve()}}

			_, err := newTestMachine(st, newFakeLister(), d).Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, d.Seen)

			candidates, err := st.LoadCandidates()
			require.NoError(t, err)
			assert.Equal(t, status, candidates["did:plc:a"].Status)
		})
	}
}

func TestThresholdDecider(t *testing.T) {
	d := ThresholdDecider{ApproveAt: 0.8, RejectBelow: 0.3}
	tests := []struct {
		confidence float64
		want       Action
	}{
		{0.95, ActionApprove},
		{0.8, ActionApprove},
		{0.5, ActionSkip},
		{0.3, ActionSkip},
		{0.1, ActionReject},
	}
	for _, tt := range tests {
		got, err := d.Decide(context.Background(), Item{Candidate: &models.Candidate{Confidence: tt.confidence}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Action, "confidence %v", tt.confidence)
	}
}

func TestParseCategories(t *testing.T) {
	assert.Equal(t, []string{"seismology", "ocean science"}, ParseCategories(" seismology, ,ocean science,"))
	assert.Nil(t, ParseCategories("  "))
}
