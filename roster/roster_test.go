package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

const (
	testList    = "at://did:plc:curator/app.bsky.graph.list/3kgeo"
	testAccount = "did:plc:curator"
)

var (
	today   = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	errDown = errors.New("pds unavailable")
)

type fakeGraph struct {
	profiles map[string]models.Profile
	follows  []string
	list     []models.ListItem

	failAdd      map[string]bool
	failFollow   map[string]bool
	failProfiles bool

	added        []string
	removed      []string
	followed     []string
	profileCalls [][]string
	listCalls    int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		profiles:   map[string]models.Profile{},
		failAdd:    map[string]bool{},
		failFollow: map[string]bool{},
	}
}

func (g *fakeGraph) account(did, handle, bio string) {
	g.profiles[did] = models.Profile{DID: did, Handle: handle, DisplayName: strings.ToUpper(handle[:1]), Description: bio}
}

func (g *fakeGraph) ResolveActor(ctx context.Context, actor string) (string, error) {
	if models.IsDID(actor) {
		return actor, nil
	}
	for did, p := range g.profiles {
		if p.Handle == actor {
			return did, nil
		}
	}
	return "", errors.New("unknown handle")
}

func (g *fakeGraph) GetProfile(ctx context.Context, actor string) (*models.Profile, error) {
	did, err := g.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	p, ok := g.profiles[did]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return &p, nil
}

func (g *fakeGraph) GetProfiles(ctx context.Context, actors []string) ([]models.Profile, error) {
	g.profileCalls = append(g.profileCalls, actors)
	if g.failProfiles {
		return nil, errDown
	}
	var out []models.Profile
	for _, did := range actors {
		if p, ok := g.profiles[did]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *fakeGraph) GetAllFollows(ctx context.Context, actor string) ([]models.Profile, error) {
	var out []models.Profile
	for _, did := range g.follows {
		out = append(out, g.profiles[did])
	}
	return out, nil
}

func (g *fakeGraph) GetListMembers(ctx context.Context, listURI string) ([]models.ListItem, error) {
	g.listCalls++
	return g.list, nil
}

func (g *fakeGraph) onList(did string) {
	p := g.profiles[did]
	g.list = append(g.list, models.ListItem{DID: did, Handle: p.Handle, DisplayName: p.DisplayName, URI: itemURI(did)})
}

func itemURI(did string) string {
	return "at://did:plc:curator/app.bsky.graph.listitem/" + strings.TrimPrefix(did, "did:plc:")
}

func (g *fakeGraph) AddToList(ctx context.Context, listURI, did string) (string, error) {
	if g.failAdd[did] {
		return "", errDown
	}
	g.added = append(g.added, did)
	return itemURI(did), nil
}

func (g *fakeGraph) RemoveFromList(ctx context.Context, listItemURI string) error {
	g.removed = append(g.removed, listItemURI)
	return nil
}

func (g *fakeGraph) Follow(ctx context.Context, did string) (string, error) {
	if g.failFollow[did] {
		return "", errDown
	}
	g.followed = append(g.followed, did)
	return "at://did:plc:curator/app.bsky.graph.follow/x", nil
}

func newTestRoster(t *testing.T, g *fakeGraph, members models.Members) (*Roster, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), store.WithClock(func() time.Time { return today }))
	if members != nil {
		require.NoError(t, st.SaveMembers(members))
	}
	r := New(st, g, testList, testAccount,
		WithClock(func() time.Time { return today }),
		WithLogger(log.Discard()),
		WithSaveEvery(2),
	)
	return r, st
}

func TestBootstrap(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "geologist")
	g.account("did:plc:b", "b.example.com", "volcanologist")
	g.onList("did:plc:a")
	g.onList("did:plc:b")

	r, st := newTestRoster(t, g, models.Members{
		"did:plc:a": {Handle: "a.example.com", Source: models.SourceManual, ListItemURI: itemURI("did:plc:a")},
	})

	report, err := r.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &BootstrapReport{OnList: 2, Imported: 1}, report)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Equal(t, models.SourceManual, members["did:plc:a"].Source)

	b := members["did:plc:b"]
	require.NotNil(t, b)
	assert.Nil(t, b.Bio)
	assert.Equal(t, models.SourceInitBootstrap, b.Source)
	assert.Equal(t, "2026-10-15", b.AddedDate)
	assert.Equal(t, itemURI("did:plc:b"), b.ListItemURI)
}

func TestSync(t *testing.T) {
	g := newFakeGraph()
	for _, did := range []string{"did:plc:both", "did:plc:followonly", "did:plc:listonly", "did:plc:broken", "did:plc:nouri"} {
		g.account(did, strings.TrimPrefix(did, "did:plc:")+".example.com", "bio")
	}
	g.follows = []string{"did:plc:both", "did:plc:followonly", "did:plc:broken", "did:plc:nouri"}
	g.onList("did:plc:both")
	g.onList("did:plc:listonly")
	g.onList("did:plc:nouri")
	g.failAdd["did:plc:broken"] = true

	r, st := newTestRoster(t, g, models.Members{
		"did:plc:nouri": {Handle: "nouri.example.com", Removed: true, RemovedDate: "2026-09-01"},
	})

	report, err := r.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.AddErrors)
	assert.Equal(t, 1, report.Followed)
	assert.Equal(t, 2, report.AlreadySynced)
	assert.Equal(t, 1, report.URIsFilled)
	assert.Equal(t, 1, report.Errors())
	assert.Equal(t, []string{"did:plc:followonly"}, g.added)
	assert.Equal(t, []string{"did:plc:listonly"}, g.followed)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	f := members["did:plc:followonly"]
	require.NotNil(t, f)
	assert.Equal(t, models.SourceFollowSync, f.Source)
	assert.Equal(t, "bio", f.BioText())
	assert.NotContains(t, members, "did:plc:broken")

	assert.True(t, members["did:plc:nouri"].Active())
	assert.Equal(t, itemURI("did:plc:nouri"), members["did:plc:nouri"].ListItemURI)
}

func TestSyncDryRun(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "")
	g.account("did:plc:b", "b.example.com", "")
	g.follows = []string{"did:plc:a"}
	g.onList("did:plc:b")

	r, st := newTestRoster(t, g, nil)
	report, err := r.Sync(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, report.ToAdd, 1)
	assert.Equal(t, "did:plc:a", report.ToAdd[0].DID)
	require.Len(t, report.ToFollow, 1)
	assert.Equal(t, "did:plc:b", report.ToFollow[0].DID)
	assert.Empty(t, g.added)
	assert.Empty(t, g.followed)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestAdd(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "seismologist")

	r, st := newTestRoster(t, g, nil)
	res, err := r.Add(context.Background(), "@a.example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "did:plc:a", res.DID)
	assert.True(t, res.Followed)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Equal(t, models.SourceManual, members["did:plc:a"].Source)
	assert.Equal(t, itemURI("did:plc:a"), members["did:plc:a"].ListItemURI)

	_, err = r.Add(context.Background(), "did:plc:a", false)
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestAddFollowFailureKeepsMember(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "")
	g.failFollow["did:plc:a"] = true

	r, st := newTestRoster(t, g, nil)
	res, err := r.Add(context.Background(), "did:plc:a", true)
	require.NoError(t, err)
	assert.False(t, res.Followed)
	assert.ErrorIs(t, res.FollowError, errDown)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.True(t, members["did:plc:a"].Active())
}

func TestRemoveThenReAdd(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "")

	r, st := newTestRoster(t, g, models.Members{
		"did:plc:a": {Handle: "a.example.com", Source: models.SourceFollowSync, ListItemURI: itemURI("did:plc:a"), AddedDate: "2026-01-01"},
	})

	res, err := r.Remove(context.Background(), "a.example.com")
	require.NoError(t, err)
	assert.True(t, res.Tracked)
	assert.Equal(t, []string{itemURI("did:plc:a")}, g.removed)
	assert.Zero(t, g.listCalls)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	a := members["did:plc:a"]
	assert.True(t, a.Removed)
	assert.Equal(t, "2026-10-15", a.RemovedDate)
	assert.Empty(t, a.ListItemURI)

	_, err = r.Add(context.Background(), "did:plc:a", false)
	require.NoError(t, err)

	members, err = st.LoadMembers()
	require.NoError(t, err)
	a = members["did:plc:a"]
	assert.True(t, a.Active())
	assert.Equal(t, "2026-10-15", a.AddedDate)
	assert.Equal(t, models.SourceManual, a.Source)
}

func TestRemoveLooksUpListItem(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "")
	g.onList("did:plc:a")

	r, _ := newTestRoster(t, g, nil)
	res, err := r.Remove(context.Background(), "did:plc:a")
	require.NoError(t, err)
	assert.False(t, res.Tracked)
	assert.Equal(t, 1, g.listCalls)
	assert.Equal(t, []string{itemURI("did:plc:a")}, g.removed)

	_, err = r.Remove(context.Background(), "did:plc:nobody")
	assert.ErrorIs(t, err, ErrNotOnList)
}

func TestFilterAndStats(t *testing.T) {
	members := models.Members{
		"did:plc:a": {Handle: "a.example.com", Categories: []string{"Seismology"}, EntityType: "individual", Source: "manual"},
		"did:plc:b": {Handle: "b.example.com", Categories: []string{"seismology", "geodesy"}, EntityType: "institution", Source: "follow_sync"},
		"did:plc:c": {Handle: "c.example.com", EntityType: "bot", Source: "manual", IsBot: true},
		"did:plc:d": {Handle: "d.example.com", Source: "manual", Removed: true},
		"did:plc:e": {Handle: "0.example.com"},
	}

	all := Filter{}.Apply(members)
	var handles []string
	for _, e := range all {
		handles = append(handles, e.Handle)
	}
	assert.Equal(t, []string{"0.example.com", "a.example.com", "b.example.com", "c.example.com"}, handles)

	assert.Len(t, Filter{Category: "SEISMOLOGY"}.Apply(members), 2)
	assert.Len(t, Filter{EntityType: "institution"}.Apply(members), 1)
	assert.Len(t, Filter{Source: "manual", NoBots: true}.Apply(members), 1)

	stats := ComputeStats(all)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Bots)
	assert.Equal(t, []Count{{"manual", 2}, {"follow_sync", 1}, {"unknown", 1}}, stats.BySource)
	assert.Equal(t, Count{"unclassified", 1}, stats.ByType[3])
	assert.Equal(t, []Count{{"Seismology", 1}, {"geodesy", 1}, {"seismology", 1}}, stats.ByCategory)
}

func TestRefresh(t *testing.T) {
	g := newFakeGraph()
	members := models.Members{}
	for i := 0; i < 30; i++ {
		did := "did:plc:m" + string(rune('a'+i%26)) + strings.Repeat("x", i/26)
		members[did] = &models.Member{Handle: "old.example.com"}
		if did != "did:plc:mb" {
			g.account(did, strings.TrimPrefix(did, "did:plc:")+".example.com", "fresh bio")
		}
	}
	members["did:plc:fetched"] = &models.Member{Handle: "fetched.example.com", Bio: models.StringPtr("kept")}
	members["did:plc:gone"] = &models.Member{Handle: "gone.example.com", Removed: true}

	r, st := newTestRoster(t, g, members)
	report, err := r.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, &RefreshReport{Selected: 30, Updated: 29, Errors: 1}, report)
	require.Len(t, g.profileCalls, 2)
	assert.Len(t, g.profileCalls[0], 25)
	assert.Len(t, g.profileCalls[1], 5)

	loaded, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Equal(t, "fresh bio", loaded["did:plc:ma"].BioText())
	assert.Equal(t, "ma.example.com", loaded["did:plc:ma"].Handle)
	assert.Nil(t, loaded["did:plc:mb"].Bio)
	assert.Equal(t, "kept", loaded["did:plc:fetched"].BioText())
}

func TestRefreshBatchFailure(t *testing.T) {
	g := newFakeGraph()
	g.failProfiles = true
	r, _ := newTestRoster(t, g, models.Members{
		"did:plc:a": {Handle: "a.example.com"},
		"did:plc:b": {Handle: "b.example.com"},
	})

	report, err := r.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, &RefreshReport{Selected: 2, Errors: 2}, report)
}

type fakeClassifier struct {
	calls [][]models.Profile
	fail  bool
}

func (c *fakeClassifier) ClassifyBatch(ctx context.Context, profiles []models.Profile) ([]models.Classification, error) {
	c.calls = append(c.calls, profiles)
	if c.fail {
		return nil, errDown
	}
	out := make([]models.Classification, len(profiles))
	for i, p := range profiles {
		out[i] = models.Classification{Handle: p.Handle, EntityType: "individual", Confidence: 0.9}
		if strings.Contains(p.Description, "automated") {
			out[i].EntityType = "bot"
			out[i].IsBot = true
		}
	}
	return out, nil
}

func TestClassify(t *testing.T) {
	g := newFakeGraph()
	g.account("did:plc:a", "a.example.com", "paleontologist")
	g.account("did:plc:b", "b.example.com", "automated quake alerts")

	r, st := newTestRoster(t, g, models.Members{
		"did:plc:a":    {Handle: "a.example.com"},
		"did:plc:b":    {Handle: "b.example.com"},
		"did:plc:c":    {Handle: "c.example.com"},
		"did:plc:done": {Handle: "done.example.com", EntityType: "journal"},
	})
	c := &fakeClassifier{}

	report, err := r.Classify(context.Background(), c, ClassifyParams{BatchSize: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"did:plc:a", "did:plc:b", "did:plc:c"}, report.Selected)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.Bots)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, map[string]int{"individual": 1, "bot": 1}, report.ByType)
	require.Len(t, c.calls, 1)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.Equal(t, "individual", members["did:plc:a"].EntityType)
	assert.Equal(t, "paleontologist", members["did:plc:a"].BioText())
	assert.True(t, members["did:plc:b"].IsBot)
	assert.Equal(t, 0.9, members["did:plc:b"].ClassifyConfidence)
	assert.Empty(t, members["did:plc:c"].EntityType)
	assert.Equal(t, "journal", members["did:plc:done"].EntityType)
}

func TestClassifyLocalAndDryRun(t *testing.T) {
	g := newFakeGraph()
	r, st := newTestRoster(t, g, models.Members{
		"did:plc:a": {Handle: "a.example.com", Bio: models.StringPtr("automated feed")},
		"did:plc:b": {Handle: "b.example.com", EntityType: "individual"},
	})
	c := &fakeClassifier{}

	report, err := r.Classify(context.Background(), c, ClassifyParams{All: true, DryRun: true})
	require.NoError(t, err)
	assert.Len(t, report.Selected, 2)
	assert.Empty(t, c.calls)

	report, err = r.Classify(context.Background(), c, ClassifyParams{All: true, Local: true, BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Classified)
	assert.Len(t, c.calls, 2)
	assert.Empty(t, g.profileCalls)

	members, err := st.LoadMembers()
	require.NoError(t, err)
	assert.True(t, members["did:plc:a"].IsBot)
}

func TestClassifyFailureIsCounted(t *testing.T) {
	r, _ := newTestRoster(t, newFakeGraph(), models.Members{
		"did:plc:a": {Handle: "a.example.com"},
	})
	report, err := r.Classify(context.Background(), &fakeClassifier{fail: true}, ClassifyParams{Local: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Zero(t, report.Classified)
}
