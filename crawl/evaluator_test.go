package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
)

type fakeClassifier struct {
	verdict *models.Verdict
	err     error
	seen    []string
}

func (f *fakeClassifier) Evaluate(ctx context.Context, profile models.Profile, posts []string) (*models.Verdict, error) {
	f.seen = append(f.seen, profile.DID)
	return f.verdict, f.err
}

func TestMaterializeAppliesVerdict(t *testing.T) {
	cls := &fakeClassifier{verdict: &models.Verdict{
		IsRelevant:             true,
		Confidence:             0.85,
		EntityType:             "department",
		Categories:             []string{"volcanology"},
		InstitutionAffiliation: "Some University",
		Reasoning:              "volcano monitoring group",
		ActivityAssessment:     "active_researcher",
	}}
	e := NewEvaluator(newFakeGraph(nil), cls, 20, log.Discard())
	e.now = func() time.Time { return time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC) }

	c, err := e.Materialize(context.Background(), "did:plc:volc", 4)
	require.NoError(t, err)

	assert.Equal(t, []string{"did:plc:volc"}, cls.seen)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, models.CandidateNetworkCrawl, c.Source)
	assert.Equal(t, 4, c.MemberFollowCount)
	assert.Equal(t, 0.85, c.Confidence)
	assert.Equal(t, "department", c.EntityType)
	assert.Equal(t, "Some University", c.Institution)
	assert.True(t, c.IsRelevant)
	assert.Equal(t, "2026-03-04", c.DiscoveredDate)
	assert.Len(t, c.RecentPosts, 3)
}

func TestMaterializeClassifierFailure(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("overloaded")}
	e := NewEvaluator(newFakeGraph(nil), cls, 1, log.Discard())

	c, err := e.MaterializeFrom(context.Background(), "did:plc:x", models.CandidateDMRequest, 0)
	require.NoError(t, err)
	assert.Equal(t, models.CandidateDMRequest, c.Source)
	assert.Equal(t, models.Unknown, c.EntityType)
	assert.Equal(t, 0.0, c.Confidence)
	assert.Contains(t, c.Reasoning, "overloaded")
	assert.Len(t, c.RecentPosts, 1)
}

func TestMaterializeWithoutClassifier(t *testing.T) {
	e := NewEvaluator(newFakeGraph(nil), nil, 0, log.Discard())

	c, err := e.Materialize(context.Background(), "did:plc:x", 1)
	require.NoError(t, err)
	assert.Equal(t, "", c.EntityType)
	assert.Equal(t, []string{}, c.Categories)
	assert.Empty(t, c.RecentPosts)
}

func TestMaterializeProfileFailure(t *testing.T) {
	g := newFakeGraph(nil)
	g.failProfiles["did:plc:gone"] = true
	cls := &fakeClassifier{}
	e := NewEvaluator(g, cls, 5, log.Discard())

	_, err := e.Materialize(context.Background(), "did:plc:gone", 1)
	assert.ErrorIs(t, err, errGone)
	assert.Empty(t, cls.seen)
}
