package inbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bskygeo/listkeeper/crawl"
	"github.com/bskygeo/listkeeper/log"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

const self = "did:plc:curator"

type fakeChat struct {
	convos   []models.Conversation
	messages map[string][]models.Message
	failRead map[string]bool
}

func (c *fakeChat) ListConvos(ctx context.Context, limit int) ([]models.Conversation, error) {
	return c.convos, nil
}

func (c *fakeChat) GetMessages(ctx context.Context, convoID string, limit int) ([]models.Message, error) {
	if c.failRead[convoID] {
		return nil, errors.New("convo gone")
	}
	return c.messages[convoID], nil
}

func (c *fakeChat) add(id, did, handle string, texts ...string) {
	c.convos = append(c.convos, models.Conversation{
		ID:      id,
		Members: []models.Profile{{DID: self, Handle: "curator.example.com"}, {DID: did, Handle: handle}},
	})
	var msgs []models.Message
	for i := len(texts) - 1; i >= 0; i-- {
		msgs = append(msgs, models.Message{SenderDID: did, Text: texts[i]})
	}
	c.messages[id] = msgs
}

// keywordDetector flags any transcript asking to be added.
type keywordDetector struct {
	transcripts []string
}

func (d *keywordDetector) IsListRequest(ctx context.Context, transcript string) (*models.ListRequest, error) {
	d.transcripts = append(d.transcripts, transcript)
	if strings.Contains(transcript, "add me") {
		return &models.ListRequest{IsRequest: true, Summary: "asks to join"}, nil
	}
	return &models.ListRequest{}, nil
}

type fakeGraph struct {
	missing map[string]bool
}

func (g *fakeGraph) GetFollowDIDs(ctx context.Context, actor string) ([]string, error) {
	return nil, nil
}

func (g *fakeGraph) GetProfile(ctx context.Context, actor string) (*models.Profile, error) {
	if g.missing[actor] {
		return nil, errors.New("profile not found")
	}
	return &models.Profile{DID: actor, Handle: strings.TrimPrefix(actor, "did:plc:") + ".example.com", Description: "hydrogeologist"}, nil
}

func (g *fakeGraph) GetAuthorPosts(ctx context.Context, actor string, limit int) ([]string, error) {
	return []string{"aquifer recharge rates"}, nil
}

type fixedClassifier struct{}

func (fixedClassifier) Evaluate(ctx context.Context, profile models.Profile, posts []string) (*models.Verdict, error) {
	return &models.Verdict{IsRelevant: true, Confidence: 0.85, EntityType: "individual", Categories: []string{"hydrogeology"}}, nil
}

func TestTranscript(t *testing.T) {
	msgs := []models.Message{
		{SenderDID: self, Text: "sure, one moment"},
		{SenderDID: "did:plc:x", Text: "could you add me?"},
	}
	assert.Equal(t, "[them]: could you add me?\n[me]: sure, one moment\n", Transcript(self, msgs))
}

func TestCheckDMs(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, st.SaveMembers(models.Members{
		"did:plc:member": {Handle: "member.example.com"},
	}))

	chat := &fakeChat{messages: map[string][]models.Message{}, failRead: map[string]bool{}}
	chat.add("c1", "did:plc:asker", "asker.example.com", "hi!", "please add me to the geo list")
	chat.add("c2", "did:plc:chatty", "chatty.example.com", "nice paper")
	chat.add("c3", "did:plc:member", "member.example.com", "add me again")
	chat.add("c4", "did:plc:broken", "broken.example.com", "add me")
	chat.failRead["c4"] = true
	chat.add("c5", "did:plc:deleted", "deleted.example.com", "add me")

	detector := &keywordDetector{}
	graph := &fakeGraph{missing: map[string]bool{"did:plc:deleted": true}}
	eval := crawl.NewEvaluator(graph, fixedClassifier{}, 10, log.Discard())

	in := New(chat, detector, eval, self, log.Discard())
	report, err := in.CheckDMs(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Conversations)
	assert.Equal(t, 2, report.Requests)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, []string{"member.example.com"}, report.Known)
	require.Len(t, report.Added, 1)
	assert.Equal(t, "did:plc:asker", report.Added[0].DID)

	// the known member was never sent to the classifier
	assert.Len(t, detector.transcripts, 3)
	assert.Equal(t, "[them]: hi!\n[them]: please add me to the geo list\n", detector.transcripts[0])

	candidates, err := st.LoadCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates["did:plc:asker"]
	assert.Equal(t, models.CandidateDMRequest, c.Source)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, "asks to join", c.DMSummary)
	assert.Equal(t, 0.85, c.Confidence)
	assert.Equal(t, models.Today(time.Now()), c.DiscoveredDate)

	// a second pass finds the requester in the candidate set
	again, err := in.CheckDMs(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, again.Added)
	assert.Contains(t, again.Known, "asker.example.com")
}

func TestCheckDMsNothingNew(t *testing.T) {
	st := store.New(t.TempDir())
	chat := &fakeChat{messages: map[string][]models.Message{}}
	chat.add("c1", "did:plc:x", "x.example.com", "great talk")

	eval := crawl.NewEvaluator(&fakeGraph{}, nil, 0, log.Discard())
	report, err := New(chat, &keywordDetector{}, eval, self, log.Discard()).CheckDMs(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, report.Requests)

	_, err = st.LoadCandidates()
	require.NoError(t, err)
	backups, err := st.Backups(store.SetCandidates)
	require.NoError(t, err)
	assert.Empty(t, backups)
}
