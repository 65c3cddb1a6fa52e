// Package inbox turns direct message requests to join the list into
// candidates.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bskygeo/listkeeper/crawl"
	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

const (
	ConvoLimit   = 50
	MessageLimit = 20
)

type Chat interface {
	ListConvos(ctx context.Context, limit int) ([]models.Conversation, error)
	GetMessages(ctx context.Context, convoID string, limit int) ([]models.Message, error)
}

type RequestDetector interface {
	IsListRequest(ctx context.Context, transcript string) (*models.ListRequest, error)
}

type Request struct {
	DID       string
	Handle    string
	Summary   string
	Candidate *models.Candidate
}

type Report struct {
	Conversations int
	Requests      int
	Known         []string
	Added         []Request
	Errors        int
}

type Inbox struct {
	chat     Chat
	detector RequestDetector
	eval     *crawl.Evaluator
	self     string
	logger   *slog.Logger
}

// New returns an inbox for the account with DID self.
func New(chat Chat, detector RequestDetector, eval *crawl.Evaluator, self string, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		chat:     chat,
		detector: detector,
		eval:     eval,
		self:     self,
		logger:   logger,
	}
}

// Transcript renders messages oldest first, marking each line as sent by
// the account or by the other side.
func Transcript(self string, newestFirst []models.Message) string {
	var b strings.Builder
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		role := "them"
		if m.SenderDID == self {
			role = "me"
		}
		fmt.Fprintf(&b, "[%s]: %s\n", role, m.Text)
	}
	return b.String()
}

func (in *Inbox) requester(convo models.Conversation) (models.Profile, bool) {
	for _, m := range convo.Members {
		if m.DID != in.self {
			return m, true
		}
	}
	return models.Profile{}, false
}

// CheckDMs scans recent conversations for requests to be added to the list
// and records each unknown requester as a dm_request candidate. A
// conversation that cannot be read or judged is skipped.
func (in *Inbox) CheckDMs(ctx context.Context, st *store.Store) (*Report, error) {
	convos, err := in.chat.ListConvos(ctx, ConvoLimit)
	if err != nil {
		return nil, err
	}

	members, err := st.LoadMembers()
	if err != nil {
		return nil, err
	}
	candidates, err := st.LoadCandidates()
	if err != nil {
		return nil, err
	}
	known := store.BuildKnownIndex(members, candidates)

	report := &Report{Conversations: len(convos)}
	for _, convo := range convos {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		who, ok := in.requester(convo)
		if !ok {
			continue
		}
		if known.Contains(who.DID) {
			// nothing to ask the classifier about
			report.Known = append(report.Known, who.Handle)
			continue
		}

		msgs, err := in.chat.GetMessages(ctx, convo.ID, MessageLimit)
		if err != nil {
			report.Errors++
			in.logger.Warn("failed to read conversation", "convo", convo.ID, "err", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		req, err := in.detector.IsListRequest(ctx, Transcript(in.self, msgs))
		if err != nil {
			report.Errors++
			in.logger.Warn("failed to judge conversation", "convo", convo.ID, "err", err)
			continue
		}
		if !req.IsRequest {
			continue
		}
		report.Requests++

		c, err := in.eval.MaterializeFrom(ctx, who.DID, models.CandidateDMRequest, 0)
		if err != nil {
			report.Errors++
			in.logger.Warn("failed to evaluate requester", "handle", who.Handle, "err", err)
			continue
		}
		c.DMSummary = req.Summary

		candidates[who.DID] = c
		known.AddCandidate(who.DID, c.Status)
		report.Added = append(report.Added, Request{DID: who.DID, Handle: c.Handle, Summary: req.Summary, Candidate: c})
	}

	if len(report.Added) > 0 {
		if _, err := st.Backup(store.SetCandidates); err != nil {
			return report, fmt.Errorf("failed to back up candidates: %w", err)
		}
		if err := st.SaveCandidates(candidates); err != nil {
			return report, err
		}
	}

	in.logger.Info("dm check complete",
		"conversations", report.Conversations,
		"requests", report.Requests,
		"added", len(report.Added),
		"known", len(report.Known),
		"errors", report.Errors,
	)
	return report, nil
}
