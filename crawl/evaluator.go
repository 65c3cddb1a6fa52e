package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bskygeo/listkeeper/models"
)

// Classifier judges an account from its profile and recent posts.
type Classifier interface {
	Evaluate(ctx context.Context, profile models.Profile, posts []string) (*models.Verdict, error)
}

// Evaluator turns a bare DID into a populated candidate record.
type Evaluator struct {
	graph      Graph
	classifier Classifier
	postSample int
	now        func() time.Time
	logger     *slog.Logger
}

// NewEvaluator builds an evaluator. classifier may be nil, in which case
// candidates are recorded without a verdict and left for the operator.
func NewEvaluator(graph Graph, classifier Classifier, postSample int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		graph:      graph,
		classifier: classifier,
		postSample: postSample,
		now:        time.Now,
		logger:     logger,
	}
}

// Assess fetches the profile and post sample of actor and, when a
// classifier is configured, its verdict. Only a failed profile fetch is an
// error.
func (e *Evaluator) Assess(ctx context.Context, actor string) (*models.Profile, []string, *models.Verdict, error) {
	profile, err := e.graph.GetProfile(ctx, actor)
	if err != nil {
		return nil, nil, nil, err
	}

	var posts []string
	if e.postSample > 0 {
		posts, err = e.graph.GetAuthorPosts(ctx, profile.DID, e.postSample)
		if err != nil {
			e.logger.Warn("failed to fetch posts, continuing without them", "did", profile.DID, "err", err)
			posts = nil
		}
		if len(posts) > e.postSample {
			posts = posts[:e.postSample]
		}
	}

	if e.classifier == nil {
		return profile, posts, nil, nil
	}

	verdict, err := e.classifier.Evaluate(ctx, *profile, posts)
	if err != nil {
		e.logger.Warn("classifier failed, recording unknown verdict", "did", profile.DID, "err", err)
		verdict = models.UnknownVerdict(fmt.Sprintf("classifier failed: %v", err), "")
	}
	return profile, posts, verdict, nil
}

// Materialize builds a pending network_crawl candidate for did.
func (e *Evaluator) Materialize(ctx context.Context, did string, weight int) (*models.Candidate, error) {
	return e.MaterializeFrom(ctx, did, models.CandidateNetworkCrawl, weight)
}

// MaterializeFrom builds a pending candidate discovered through source.
func (e *Evaluator) MaterializeFrom(ctx context.Context, did string, source models.CandidateSource, weight int) (*models.Candidate, error) {
	profile, posts, verdict, err := e.Assess(ctx, did)
	if err != nil {
		return nil, err
	}

	c := &models.Candidate{
		Handle:            profile.Handle,
		DisplayName:       profile.DisplayName,
		Bio:               profile.Description,
		Categories:        []string{},
		Source:            source,
		Status:            models.StatusPending,
		MemberFollowCount: weight,
		RecentPosts:       posts,
		DiscoveredDate:    models.Today(e.now()),
	}
	c.ApplyVerdict(verdict)
	return c, nil
}
